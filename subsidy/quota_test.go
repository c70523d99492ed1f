package subsidy_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/subsidy-engine/generic"
	"github.com/warp/subsidy-engine/subsidy"
)

type fakeQuota struct {
	limit    int
	capErr   error
	assigned int
	excluded generic.ResolutionID
}

func (f *fakeQuota) SpecificationCap(context.Context, generic.CaseID) (int, error) {
	return f.limit, f.capErr
}

func (f *fakeQuota) InstallmentSum(_ context.Context, _ generic.CaseID, excluding generic.ResolutionID) (int, error) {
	f.excluded = excluding
	return f.assigned, nil
}

func TestCheckQuota_RejectsOverCap(t *testing.T) {
	src := &fakeQuota{limit: 12, assigned: 10}

	err := subsidy.CheckQuota(context.Background(), src, 1, 7, 3)

	var exceeded *generic.QuotaExceededError
	require.ErrorAs(t, err, &exceeded)
	assert.ErrorIs(t, err, generic.ErrQuotaExceeded)
	assert.Equal(t, 12, exceeded.Cap)
	assert.Equal(t, 10, exceeded.AlreadyAssigned)
	assert.Equal(t, 3, exceeded.Requested)
	assert.Equal(t, 2, exceeded.Available())
	assert.Equal(t, generic.ResolutionID(7), src.excluded)
}

func TestCheckQuota_AcceptsExactlyAtCap(t *testing.T) {
	src := &fakeQuota{limit: 12, assigned: 10}

	assert.NoError(t, subsidy.CheckQuota(context.Background(), src, 1, generic.NoResolution, 2))
}

func TestCheckQuota_MissingCapFails(t *testing.T) {
	src := &fakeQuota{capErr: generic.ErrMissingSpecCap}

	err := subsidy.CheckQuota(context.Background(), src, 1, generic.NoResolution, 1)

	assert.ErrorIs(t, err, generic.ErrMissingSpecCap)
}
