// Package subsidy implements installment scheduling for pension-subsidy resolutions.
// It prices resolution items against the fee table, guards each case's
// installment cap, and advances periodic items month by month.
package subsidy

import (
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/warp/subsidy-engine/generic"
)

// MaxItemsPerRequest bounds the item list of a create or update request.
const MaxItemsPerRequest = 4

// =============================================================================
// ITEM INPUT
// =============================================================================

// ItemInput is one requested resolution item.
type ItemInput struct {
	// ID is zero for a new item and the stored id for an item being updated.
	ID    generic.ItemID
	Kind  generic.ItemKind
	Count int

	// CurrentInstallment is the declared starting installment of a Consecutive
	// item (1-based, default 1). Ignored for Retroactive items.
	CurrentInstallment *int
}

// declaredInstallment returns the 1-based installment a Consecutive item starts at.
func (in ItemInput) declaredInstallment() int {
	if in.CurrentInstallment == nil || *in.CurrentInstallment == 0 {
		return 1
	}
	return *in.CurrentInstallment
}

// =============================================================================
// ITEM SET - At most one item per kind
// =============================================================================

// ItemSet holds a resolution's requested items keyed by kind.
// A resolution carries at most one Retroactive and one Consecutive item, so
// the Retroactive item alone forms the back-dated block priced against the
// case anchor.
type ItemSet struct {
	byKind map[generic.ItemKind]ItemInput
}

// NewItemSet validates a request's item list and keys it by kind.
func NewItemSet(items []ItemInput) (ItemSet, error) {
	if len(items) == 0 || len(items) > MaxItemsPerRequest {
		return ItemSet{}, fmt.Errorf("%w: expected 1 to %d items, got %d",
			generic.ErrInvalidItem, MaxItemsPerRequest, len(items))
	}

	set := ItemSet{byKind: make(map[generic.ItemKind]ItemInput, len(generic.ItemKinds))}
	seenIDs := make(map[generic.ItemID]bool)

	for _, in := range items {
		if _, err := generic.ParseItemKind(in.Kind.ID()); err != nil {
			return ItemSet{}, err
		}
		if _, dup := set.byKind[in.Kind]; dup {
			return ItemSet{}, fmt.Errorf("%w: two %s items", generic.ErrDuplicateItemKind, in.Kind)
		}
		if in.Count < 1 {
			return ItemSet{}, fmt.Errorf("%w: %s installment count must be positive, got %d",
				generic.ErrInvalidItem, in.Kind, in.Count)
		}
		if in.Kind == generic.KindConsecutive {
			declared := in.declaredInstallment()
			if declared < 1 || declared > in.Count {
				return ItemSet{}, fmt.Errorf("%w: current installment %d outside 1..%d",
					generic.ErrInvalidItem, declared, in.Count)
			}
		}
		if in.ID != 0 {
			if seenIDs[in.ID] {
				return ItemSet{}, fmt.Errorf("%w: item %d listed twice", generic.ErrInvalidItem, in.ID)
			}
			seenIDs[in.ID] = true
		}
		set.byKind[in.Kind] = in
	}
	return set, nil
}

// Get returns the item of the given kind, if present.
func (s ItemSet) Get(kind generic.ItemKind) (ItemInput, bool) {
	in, ok := s.byKind[kind]
	return in, ok
}

// Items returns the set's items in kind order.
func (s ItemSet) Items() []ItemInput {
	out := make([]ItemInput, 0, len(s.byKind))
	for _, k := range generic.ItemKinds {
		if in, ok := s.byKind[k]; ok {
			out = append(out, in)
		}
	}
	return out
}

// RetroactiveTotal is the size of the back-dated block.
func (s ItemSet) RetroactiveTotal() int {
	if in, ok := s.byKind[generic.KindRetroactive]; ok {
		return in.Count
	}
	return 0
}

// InstallmentSum is the number of installments the set requests.
func (s ItemSet) InstallmentSum() int {
	sum := 0
	for _, in := range s.byKind {
		sum += in.Count
	}
	return sum
}

// ExistingIDs returns the ids of items being updated in place.
func (s ItemSet) ExistingIDs() []generic.ItemID {
	var ids []generic.ItemID
	for _, in := range s.Items() {
		if in.ID != 0 {
			ids = append(ids, in.ID)
		}
	}
	return ids
}

// =============================================================================
// REQUESTS AND VIEWS
// =============================================================================

// CreateRequest creates a resolution with its items.
type CreateRequest struct {
	CaseID      generic.CaseID
	Date        string
	Description string
	Status      generic.ResolutionStatus
	Items       []ItemInput
}

// UpdateRequest changes a resolution. Nil fields are left untouched; a nil
// Items slice leaves the items alone, a non-nil one replaces them.
type UpdateRequest struct {
	ID          generic.ResolutionID
	Date        *string
	Description *string
	Status      *generic.ResolutionStatus
	Items       []ItemInput
}

func (r UpdateRequest) hasFields() bool {
	return r.Date != nil || r.Description != nil || r.Status != nil
}

// ResolutionView is a resolution with its items and recomputed total.
type ResolutionView struct {
	Resolution generic.Resolution
	Items      []generic.Item
	Total      decimal.Decimal
}

func newView(r generic.Resolution, items []generic.Item) *ResolutionView {
	return &ResolutionView{Resolution: r, Items: items, Total: generic.ResolutionTotal(items)}
}
