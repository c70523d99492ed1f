/*
advancement.go - Monthly advancement of periodic items

PURPOSE:
  Once per calendar month every active Consecutive item consumes one more
  installment. A resolution whose items are all exhausted is finalized.

ALGORITHM (one transaction per run):
  1. Select Consecutive items with progress < count whose resolution is not
     Suspended
  2. Increment each item's progress by one
  3. For every resolution touched, finalize it when all of its items (both
     kinds) are exhausted; already finalized resolutions are left alone
  4. Stamp the run with its period

PERIOD STAMP:
  A period can be advanced once. A second run for the same period fails with
  ErrPeriodAlreadyAdvanced and the whole transaction rolls back, so a
  scheduler firing twice cannot double-advance progress. The selection
  predicate also keeps progress from ever passing count.

SEQUENTIAL BY DESIGN:
  Items are processed one after another in resolution order. Finalization
  depends on the full set of an item's siblings, so there is no per-item
  parallelism.

SEE ALSO:
  - api/scheduler.go: cron trigger
  - resolution.go: Where progress starts
*/
package subsidy

import (
	"context"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/warp/subsidy-engine/generic"
)

// Advancer runs the monthly advancement job.
type Advancer struct {
	store generic.TxStore
	now   func() time.Time
}

// NewAdvancer creates an advancer over the given store.
func NewAdvancer(store generic.TxStore) *Advancer {
	return &Advancer{store: store, now: time.Now}
}

// AdvancementResult summarises one run.
type AdvancementResult struct {
	Run                  generic.AdvancementRun
	AdvancedItems        []generic.ItemID
	FinalizedResolutions []generic.ResolutionID
}

// Run advances every eligible item by one installment for the given period.
func (a *Advancer) Run(ctx context.Context, period generic.YearMonth) (*AdvancementResult, error) {
	result := &AdvancementResult{}

	err := a.store.WithTx(ctx, func(s generic.Session) error {
		items, err := s.ListAdvanceableItems(ctx)
		if err != nil {
			return err
		}

		var touched []generic.ResolutionID
		seen := make(map[generic.ResolutionID]bool)

		for _, it := range items {
			if err := s.SetItemProgress(ctx, it.ID, it.Progress+1); err != nil {
				return err
			}
			result.AdvancedItems = append(result.AdvancedItems, it.ID)
			if !seen[it.ResolutionID] {
				seen[it.ResolutionID] = true
				touched = append(touched, it.ResolutionID)
			}
		}

		for _, id := range touched {
			finalized, err := finalizeIfExhausted(ctx, s, id)
			if err != nil {
				return err
			}
			if finalized {
				result.FinalizedResolutions = append(result.FinalizedResolutions, id)
			}
		}

		result.Run = generic.AdvancementRun{
			ID:                   uuid.NewString(),
			Period:               period,
			ItemsAdvanced:        len(result.AdvancedItems),
			ResolutionsFinalized: len(result.FinalizedResolutions),
			ExecutedAt:           a.now().UTC().Format(time.RFC3339),
		}
		return s.RecordAdvancementRun(ctx, result.Run)
	})
	if err != nil {
		log.Printf("[Advancement] Run for %s failed: %v", period, err)
		return nil, err
	}

	log.Printf("[Advancement] %s: %d items advanced, %d resolutions finalized",
		period, result.Run.ItemsAdvanced, result.Run.ResolutionsFinalized)
	return result, nil
}

func finalizeIfExhausted(ctx context.Context, s generic.Session, id generic.ResolutionID) (bool, error) {
	items, err := s.ListItems(ctx, id)
	if err != nil {
		return false, err
	}
	if len(items) == 0 {
		return false, nil
	}
	for _, it := range items {
		if !it.Exhausted() {
			return false, nil
		}
	}
	return s.SetResolutionStatus(ctx, id, generic.StatusFinalized)
}
