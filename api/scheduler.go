/*
scheduler.go - Automated monthly advancement scheduler

PURPOSE:
  Runs the monthly advancement job on a cron schedule so consecutive items
  move forward by one installment each month without operator action.

DESIGN:
  - robfig/cron drives the schedule (default: 00:00 on the 1st of each month)
  - Overlapping runs are skipped, never queued
  - Each run is stamped with the calendar month it executed in; a month that
    already ran is logged and skipped
  - Run records are kept for audit and UI display

CONFIGURATION:
  - Schedule: Standard 5-field cron expression
  - Enabled: Whether the scheduler is active (default: true)

USAGE:
  scheduler := NewAdvancementScheduler(handler.Advancer)
  if err := scheduler.Start(); err != nil { ... }
  // ... later
  scheduler.Stop()

SEE ALSO:
  - handlers.go: TriggerAdvancement endpoint (manual run)
  - subsidy/advancement.go: Advancer
*/
package api

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/warp/subsidy-engine/generic"
	"github.com/warp/subsidy-engine/subsidy"
)

// DefaultAdvancementSchedule runs at midnight on the first day of every month.
const DefaultAdvancementSchedule = "0 0 1 * *"

// advancementTimeout bounds a single scheduled run.
const advancementTimeout = 5 * time.Minute

// AdvancementScheduler triggers the monthly advancement job.
type AdvancementScheduler struct {
	Advancer *subsidy.Advancer
	Schedule string
	Enabled  bool

	cron *cron.Cron
	mu   sync.Mutex
	now  func() time.Time
}

// NewAdvancementScheduler creates a new scheduler.
func NewAdvancementScheduler(advancer *subsidy.Advancer) *AdvancementScheduler {
	return &AdvancementScheduler{
		Advancer: advancer,
		Schedule: DefaultAdvancementSchedule,
		Enabled:  true,
		now:      time.Now,
	}
}

// Start registers the job and begins the scheduler.
func (as *AdvancementScheduler) Start() error {
	as.mu.Lock()
	defer as.mu.Unlock()

	if !as.Enabled {
		log.Println("[Scheduler] Disabled, not starting")
		return nil
	}
	if as.cron != nil {
		return nil
	}

	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DefaultLogger)))
	if _, err := c.AddFunc(as.Schedule, as.runScheduled); err != nil {
		return fmt.Errorf("invalid advancement schedule %q: %w", as.Schedule, err)
	}
	c.Start()
	as.cron = c

	log.Printf("[Scheduler] Started with schedule %q", as.Schedule)
	return nil
}

// Stop stops the scheduler and waits for a running job to finish.
func (as *AdvancementScheduler) Stop() {
	as.mu.Lock()
	defer as.mu.Unlock()

	if as.cron == nil {
		return
	}
	<-as.cron.Stop().Done()
	as.cron = nil
	log.Println("[Scheduler] Stopped")
}

// NextRun returns when the job fires next, or the zero time when stopped.
func (as *AdvancementScheduler) NextRun() time.Time {
	as.mu.Lock()
	defer as.mu.Unlock()

	if as.cron == nil {
		return time.Time{}
	}
	entries := as.cron.Entries()
	if len(entries) == 0 {
		return time.Time{}
	}
	return entries[0].Next
}

// RunNow runs the job for a period immediately (for testing/admin).
func (as *AdvancementScheduler) RunNow(ctx context.Context, period generic.YearMonth) (*subsidy.AdvancementResult, error) {
	return as.Advancer.Run(ctx, period)
}

func (as *AdvancementScheduler) runScheduled() {
	ctx, cancel := context.WithTimeout(context.Background(), advancementTimeout)
	defer cancel()

	period := generic.YearMonthOf(as.now())
	log.Printf("[Scheduler] Running advancement for %s", period)

	result, err := as.RunNow(ctx, period)
	switch {
	case errors.Is(err, generic.ErrPeriodAlreadyAdvanced):
		log.Printf("[Scheduler] %s already advanced, skipping", period)
	case err != nil:
		log.Printf("[Scheduler] Advancement for %s failed: %v", period, err)
	default:
		log.Printf("[Scheduler] Completed %s: %d items advanced, %d resolutions finalized",
			period, result.Run.ItemsAdvanced, result.Run.ResolutionsFinalized)
	}
}
