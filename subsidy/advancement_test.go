package subsidy_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/subsidy-engine/generic"
	"github.com/warp/subsidy-engine/subsidy"
)

func TestAdvancement_FinalizesExhaustedResolution(t *testing.T) {
	// GIVEN: retroactive(3) fully consumed, consecutive(2) at installment 1
	mem, engine := newFixture(t)
	view := create(t, engine, caseFeb2024, retro(3), consec(2))
	advancer := subsidy.NewAdvancer(mem)

	// WHEN: the March run fires
	result, err := advancer.Run(context.Background(), ym(2024, time.March))
	require.NoError(t, err)

	// THEN: the consecutive item reaches 2 of 2 and the resolution is finalized
	assert.Len(t, result.AdvancedItems, 1)
	assert.Equal(t, []generic.ResolutionID{view.Resolution.ID}, result.FinalizedResolutions)
	assert.Equal(t, ym(2024, time.March), result.Run.Period)
	assert.NotEmpty(t, result.Run.ID)

	after, err := engine.Get(context.Background(), view.Resolution.ID)
	require.NoError(t, err)
	assert.Equal(t, generic.StatusFinalized, after.Resolution.Status)
	assert.Equal(t, 2, itemOfKind(t, after.Items, generic.KindConsecutive).Progress)
}

func TestAdvancement_SamePeriodRunsOnce(t *testing.T) {
	mem, engine := newFixture(t)
	view := create(t, engine, caseFeb2024, consec(5))
	advancer := subsidy.NewAdvancer(mem)

	_, err := advancer.Run(context.Background(), ym(2024, time.March))
	require.NoError(t, err)

	_, err = advancer.Run(context.Background(), ym(2024, time.March))
	assert.ErrorIs(t, err, generic.ErrPeriodAlreadyAdvanced)
	assert.True(t, generic.IsConflict(err))

	after, err := engine.Get(context.Background(), view.Resolution.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, after.Items[0].Progress, "the duplicate run rolled back")
}

func TestAdvancement_NeverPassesCount(t *testing.T) {
	mem, engine := newFixture(t)
	view := create(t, engine, caseFeb2024, consec(2))
	advancer := subsidy.NewAdvancer(mem)

	_, err := advancer.Run(context.Background(), ym(2024, time.March))
	require.NoError(t, err)

	result, err := advancer.Run(context.Background(), ym(2024, time.April))
	require.NoError(t, err)

	assert.Empty(t, result.AdvancedItems)
	assert.Equal(t, 0, result.Run.ItemsAdvanced)
	after, err := engine.Get(context.Background(), view.Resolution.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, after.Items[0].Progress)
}

func TestAdvancement_SkipsSuspended(t *testing.T) {
	mem, engine := newFixture(t)
	suspended, err := engine.Create(context.Background(), subsidy.CreateRequest{
		CaseID: caseFeb2024,
		Status: generic.StatusSuspended,
		Items:  []subsidy.ItemInput{consec(3)},
	})
	require.NoError(t, err)
	active := create(t, engine, caseFeb2024, consec(3))

	result, err := subsidy.NewAdvancer(mem).Run(context.Background(), ym(2024, time.March))
	require.NoError(t, err)

	require.Len(t, result.AdvancedItems, 1)
	assert.Equal(t, active.Items[0].ID, result.AdvancedItems[0])

	after, err := engine.Get(context.Background(), suspended.Resolution.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, after.Items[0].Progress)
	assert.Equal(t, generic.StatusSuspended, after.Resolution.Status)
}

func TestAdvancement_PartialProgressStaysActive(t *testing.T) {
	mem, engine := newFixture(t)
	view := create(t, engine, caseFeb2024, consec(6))
	advancer := subsidy.NewAdvancer(mem)

	for _, month := range []time.Month{time.March, time.April, time.May} {
		_, err := advancer.Run(context.Background(), ym(2024, month))
		require.NoError(t, err)
	}

	after, err := engine.Get(context.Background(), view.Resolution.ID)
	require.NoError(t, err)
	assert.Equal(t, 4, after.Items[0].Progress)
	assert.Equal(t, generic.StatusActive, after.Resolution.Status)
}

func TestAdvancement_RetroactiveOnlyIsNotTouched(t *testing.T) {
	// A resolution with only retroactive items has nothing to advance
	mem, engine := newFixture(t)
	view := create(t, engine, caseFeb2024, retro(2))

	result, err := subsidy.NewAdvancer(mem).Run(context.Background(), ym(2024, time.March))
	require.NoError(t, err)

	assert.Empty(t, result.FinalizedResolutions)
	after, err := engine.Get(context.Background(), view.Resolution.ID)
	require.NoError(t, err)
	assert.Equal(t, generic.StatusActive, after.Resolution.Status)
}

func TestAdvancement_FinalizedCannotBeReopened(t *testing.T) {
	mem, engine := newFixture(t)
	view := create(t, engine, caseFeb2024, consec(2))
	_, err := subsidy.NewAdvancer(mem).Run(context.Background(), ym(2024, time.March))
	require.NoError(t, err)

	active := generic.StatusActive
	_, err = engine.Update(context.Background(), subsidy.UpdateRequest{ID: view.Resolution.ID, Status: &active})

	assert.ErrorIs(t, err, generic.ErrInvalidStatusTransition)
}
