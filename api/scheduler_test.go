package api

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/subsidy-engine/generic"
)

func TestScheduler_DisabledDoesNotStart(t *testing.T) {
	h, _ := newTestServer(t)
	s := NewAdvancementScheduler(h.Advancer)
	s.Enabled = false

	require.NoError(t, s.Start())
	assert.True(t, s.NextRun().IsZero())
	s.Stop()
}

func TestScheduler_InvalidSchedule(t *testing.T) {
	h, _ := newTestServer(t)
	s := NewAdvancementScheduler(h.Advancer)
	s.Schedule = "every now and then"

	assert.Error(t, s.Start())
}

func TestScheduler_StartStop(t *testing.T) {
	h, _ := newTestServer(t)
	s := NewAdvancementScheduler(h.Advancer)

	require.NoError(t, s.Start())
	next := s.NextRun()
	assert.False(t, next.IsZero())
	assert.Equal(t, 1, next.Day(), "default schedule fires on the first of the month")

	s.Stop()
	assert.True(t, s.NextRun().IsZero())
}

func TestScheduler_ScheduledRunIsStampedOncePerMonth(t *testing.T) {
	// GIVEN: A resolution with a 3-installment consecutive item
	h, router := newTestServer(t)
	rec := do(t, router, "POST", "/api/cases/1/resolutions", `{
		"items": [{"kind_id": 2, "installment_count": 3}]
	}`)
	require.Equal(t, 201, rec.Code, rec.Body.String())

	s := NewAdvancementScheduler(h.Advancer)
	s.now = func() time.Time { return time.Date(2024, time.April, 1, 0, 0, 5, 0, time.UTC) }

	// WHEN: The scheduled job fires twice in the same month
	s.runScheduled()
	s.runScheduled()

	// THEN: Only one run is recorded, for 2024-04
	ctx := context.Background()
	runs, err := h.Store.ListAdvancementRuns(ctx)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, generic.NewYearMonth(2024, time.April), runs[0].Period)
	assert.Equal(t, 1, runs[0].ItemsAdvanced)

	// AND: A manual run for the next month still advances
	result, err := s.RunNow(ctx, generic.NewYearMonth(2024, time.May))
	require.NoError(t, err)
	assert.Equal(t, 1, result.Run.ItemsAdvanced)
}
