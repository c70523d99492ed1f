package subsidy

import (
	"context"

	"github.com/warp/subsidy-engine/generic"
)

// QuotaSource is the part of a Session the quota guard reads.
type QuotaSource interface {
	SpecificationCap(ctx context.Context, caseID generic.CaseID) (int, error)
	InstallmentSum(ctx context.Context, caseID generic.CaseID, excluding generic.ResolutionID) (int, error)
}

// CheckQuota fails closed when requested installments plus those already
// assigned to the case's other resolutions exceed the specification cap.
func CheckQuota(ctx context.Context, src QuotaSource, caseID generic.CaseID, excluding generic.ResolutionID, requested int) error {
	limit, err := src.SpecificationCap(ctx, caseID)
	if err != nil {
		return err
	}
	assigned, err := src.InstallmentSum(ctx, caseID, excluding)
	if err != nil {
		return err
	}
	if requested+assigned > limit {
		return &generic.QuotaExceededError{
			CaseID:          caseID,
			Cap:             limit,
			AlreadyAssigned: assigned,
			Requested:       requested,
		}
	}
	return nil
}
