/*
resolution.go - Resolution create/update/delete orchestration

PURPOSE:
  The Engine writes resolutions and their items. Every operation runs in a
  single unit of work: it reads the case anchor, the fee table and the quota
  state through the same Session it writes with, and any failure rolls the
  whole operation back.

CREATE:
  1. Load the case anchor (ErrCaseNotFound)
  2. Quota guard, only when this is the case's first resolution
  3. Insert the resolution
  4. Price each item; Retroactive items are stored fully consumed,
     Consecutive items start at their declared installment
  5. Insert items, recompute the total

UPDATE:
  Scalar fields are applied when present. When items are present the quota
  guard runs excluding this resolution, then items are reconciled:
    - existing items missing from the request are deleted
    - items carrying an id are updated in place
    - items without an id are inserted
  Each item is repriced exactly as on create.

KNOWN ASYMMETRY:
  Create only guards the quota for a case's first resolution; update always
  guards it. This mirrors how cases have been administered so far.

SEE ALSO:
  - pricer.go: PriceItem
  - quota.go: CheckQuota
  - advancement.go: Monthly progress and finalization
*/
package subsidy

import (
	"context"
	"fmt"

	"github.com/warp/subsidy-engine/generic"
)

// Engine creates, updates and deletes resolutions.
type Engine struct {
	store generic.TxStore
}

// NewEngine creates an engine over the given store.
func NewEngine(store generic.TxStore) *Engine {
	return &Engine{store: store}
}

// =============================================================================
// CREATE
// =============================================================================

// Create inserts a resolution and its priced items atomically.
func (e *Engine) Create(ctx context.Context, req CreateRequest) (*ResolutionView, error) {
	set, err := NewItemSet(req.Items)
	if err != nil {
		return nil, err
	}
	status, err := initialStatus(req.Status)
	if err != nil {
		return nil, err
	}

	var view *ResolutionView
	err = e.store.WithTx(ctx, func(s generic.Session) error {
		anchor, err := s.CaseAnchor(ctx, req.CaseID)
		if err != nil {
			return err
		}

		existing, err := s.CountResolutions(ctx, req.CaseID)
		if err != nil {
			return err
		}
		if existing == 0 {
			if err := CheckQuota(ctx, s, req.CaseID, generic.NoResolution, set.InstallmentSum()); err != nil {
				return err
			}
		}

		res := generic.Resolution{
			CaseID:      req.CaseID,
			Date:        req.Date,
			Description: req.Description,
			Status:      status,
		}
		if err := s.InsertResolution(ctx, &res); err != nil {
			return err
		}

		items, err := priceSet(ctx, NewCachedFees(s), anchor, set, res.ID)
		if err != nil {
			return err
		}
		for i := range items {
			items[i].ID = 0
			if err := s.InsertItem(ctx, &items[i]); err != nil {
				return err
			}
		}

		view = newView(res, items)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return view, nil
}

func initialStatus(s generic.ResolutionStatus) (generic.ResolutionStatus, error) {
	if s == 0 {
		return generic.StatusActive, nil
	}
	if _, err := generic.ParseResolutionStatus(s.ID()); err != nil {
		return 0, err
	}
	if s == generic.StatusFinalized {
		return 0, fmt.Errorf("%w: a resolution is only finalized by monthly advancement",
			generic.ErrInvalidStatusTransition)
	}
	return s, nil
}

// =============================================================================
// UPDATE
// =============================================================================

// Update applies scalar changes and, when items are given, reconciles them
// with upsert-and-delete-orphans semantics.
func (e *Engine) Update(ctx context.Context, req UpdateRequest) (*ResolutionView, error) {
	if !req.hasFields() && req.Items == nil {
		return nil, generic.ErrNothingToUpdate
	}

	var set ItemSet
	if req.Items != nil {
		var err error
		if set, err = NewItemSet(req.Items); err != nil {
			return nil, err
		}
	}
	if req.Status != nil {
		if _, err := generic.ParseResolutionStatus(req.Status.ID()); err != nil {
			return nil, err
		}
	}

	var view *ResolutionView
	err := e.store.WithTx(ctx, func(s generic.Session) error {
		res, err := s.GetResolution(ctx, req.ID)
		if err != nil {
			return err
		}
		if res == nil {
			return generic.ErrResolutionNotFound
		}

		if req.hasFields() {
			if err := applyFields(res, req); err != nil {
				return err
			}
			if err := s.UpdateResolution(ctx, *res); err != nil {
				return err
			}
		}

		if req.Items != nil {
			if err := reconcileItems(ctx, s, *res, set); err != nil {
				return err
			}
		}

		items, err := s.ListItems(ctx, res.ID)
		if err != nil {
			return err
		}
		view = newView(*res, items)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return view, nil
}

func applyFields(res *generic.Resolution, req UpdateRequest) error {
	if req.Date != nil {
		res.Date = *req.Date
	}
	if req.Description != nil {
		res.Description = *req.Description
	}
	if req.Status != nil {
		if res.Status == generic.StatusFinalized && *req.Status != generic.StatusFinalized {
			return fmt.Errorf("%w: resolution %d is finalized",
				generic.ErrInvalidStatusTransition, res.ID)
		}
		if res.Status != generic.StatusFinalized && *req.Status == generic.StatusFinalized {
			return fmt.Errorf("%w: a resolution is only finalized by monthly advancement",
				generic.ErrInvalidStatusTransition)
		}
		res.Status = *req.Status
	}
	return nil
}

// reconcileItems replaces the item set of a resolution. A Finalized
// resolution's items are frozen.
func reconcileItems(ctx context.Context, s generic.Session, res generic.Resolution, set ItemSet) error {
	if res.Status == generic.StatusFinalized {
		return fmt.Errorf("%w: resolution %d is finalized, its items cannot change",
			generic.ErrInvalidStatusTransition, res.ID)
	}
	if err := CheckQuota(ctx, s, res.CaseID, res.ID, set.InstallmentSum()); err != nil {
		return err
	}

	anchor, err := s.CaseAnchor(ctx, res.CaseID)
	if err != nil {
		return err
	}

	current, err := s.ListItems(ctx, res.ID)
	if err != nil {
		return err
	}
	owned := make(map[generic.ItemID]bool, len(current))
	for _, it := range current {
		owned[it.ID] = true
	}
	for _, id := range set.ExistingIDs() {
		if !owned[id] {
			return fmt.Errorf("%w: item %d does not belong to resolution %d",
				generic.ErrItemNotFound, id, res.ID)
		}
	}

	if _, err := s.DeleteItemsExcept(ctx, res.ID, set.ExistingIDs()); err != nil {
		return err
	}

	items, err := priceSet(ctx, NewCachedFees(s), anchor, set, res.ID)
	if err != nil {
		return err
	}
	for i := range items {
		if items[i].ID != 0 {
			ok, err := s.UpdateItem(ctx, items[i])
			if err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("%w: item %d", generic.ErrItemNotFound, items[i].ID)
			}
			continue
		}
		if err := s.InsertItem(ctx, &items[i]); err != nil {
			return err
		}
	}
	return nil
}

// =============================================================================
// DELETE / READ
// =============================================================================

// Delete removes a resolution and all its items.
func (e *Engine) Delete(ctx context.Context, id generic.ResolutionID) (*generic.Resolution, error) {
	var deleted *generic.Resolution
	err := e.store.WithTx(ctx, func(s generic.Session) error {
		res, err := s.GetResolution(ctx, id)
		if err != nil {
			return err
		}
		if res == nil {
			return generic.ErrResolutionNotFound
		}
		ok, err := s.DeleteResolution(ctx, id)
		if err != nil {
			return err
		}
		if !ok {
			return generic.ErrResolutionNotFound
		}
		deleted = res
		return nil
	})
	if err != nil {
		return nil, err
	}
	return deleted, nil
}

// Get returns a resolution with its items and total.
func (e *Engine) Get(ctx context.Context, id generic.ResolutionID) (*ResolutionView, error) {
	var view *ResolutionView
	err := e.store.WithTx(ctx, func(s generic.Session) error {
		res, err := s.GetResolution(ctx, id)
		if err != nil {
			return err
		}
		if res == nil {
			return generic.ErrResolutionNotFound
		}
		items, err := s.ListItems(ctx, id)
		if err != nil {
			return err
		}
		view = newView(*res, items)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return view, nil
}

// ListByCase returns every resolution of a case, oldest first.
func (e *Engine) ListByCase(ctx context.Context, caseID generic.CaseID) ([]ResolutionView, error) {
	var views []ResolutionView
	err := e.store.WithTx(ctx, func(s generic.Session) error {
		if _, err := s.CaseAnchor(ctx, caseID); err != nil {
			return err
		}
		resolutions, err := s.ListResolutions(ctx, caseID)
		if err != nil {
			return err
		}
		views = make([]ResolutionView, 0, len(resolutions))
		for _, r := range resolutions {
			items, err := s.ListItems(ctx, r.ID)
			if err != nil {
				return err
			}
			views = append(views, *newView(r, items))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return views, nil
}

// =============================================================================
// PRICING
// =============================================================================

// priceSet prices every item of a set against the case anchor.
// Retroactive items are fully consumed on write; Consecutive items start at
// their declared installment and are priced from that point of the timeline.
func priceSet(ctx context.Context, fees generic.FeeTable, anchor generic.YearMonth, set ItemSet, resolutionID generic.ResolutionID) ([]generic.Item, error) {
	retroTotal := set.RetroactiveTotal()
	inputs := set.Items()
	items := make([]generic.Item, 0, len(inputs))

	for _, in := range inputs {
		startingProgress := 0
		progress := in.Count
		if in.Kind == generic.KindConsecutive {
			progress = in.declaredInstallment()
			startingProgress = progress - 1
		}

		price, err := PriceItem(ctx, fees, in.Kind, in.Count, startingProgress, anchor, retroTotal)
		if err != nil {
			return nil, err
		}

		items = append(items, generic.Item{
			ID:           in.ID,
			ResolutionID: resolutionID,
			Kind:         in.Kind,
			Price:        price.Stored,
			Count:        in.Count,
			Progress:     progress,
		})
	}
	return items, nil
}
