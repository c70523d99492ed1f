/*
errors.go - Centralized error types for the subsidy engine

PURPOSE:
  All error types in one place for consistency and discoverability.
  Stores and the engine return these; the API maps them to HTTP status.

ERROR CATEGORIES:
  1. Not found - case, resolution, item, specification
  2. Business rules - quota, missing fee rate, missing cap, item shape
  3. Conflicts - period already advanced, locked case anchor
  4. Store - transaction failures

USAGE:
  var quota *generic.QuotaExceededError
  if errors.As(err, &quota) {
      log.Printf("cap %d, assigned %d", quota.Cap, quota.AlreadyAssigned)
  }
  if errors.Is(err, generic.ErrMissingFeeRate) { ... }

SEE ALSO:
  - subsidy/resolution.go: Returns most of these
  - api/handlers.go: statusFor maps them to HTTP codes
*/
package generic

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrCaseNotFound is returned when a referenced case doesn't exist.
	ErrCaseNotFound = errors.New("case not found")

	// ErrResolutionNotFound is returned when a referenced resolution doesn't exist.
	ErrResolutionNotFound = errors.New("resolution not found")

	// ErrItemNotFound is returned when an update references an item id that
	// does not belong to the resolution being updated.
	ErrItemNotFound = errors.New("resolution item not found")

	// ErrSpecificationNotFound is returned when a case references an unknown specification.
	ErrSpecificationNotFound = errors.New("specification not found")

	// ErrMissingSpecCap is returned when the case's specification defines no installment cap.
	ErrMissingSpecCap = errors.New("specification defines no installment cap")

	// ErrMissingFeeRate is returned when the fee table has no entry for a needed year.
	ErrMissingFeeRate = errors.New("missing fee rate")

	// ErrQuotaExceeded is returned when requested installments exceed the case cap.
	ErrQuotaExceeded = errors.New("installment quota exceeded")

	// ErrInvalidItemKind is returned for an item kind id outside the closed enum.
	ErrInvalidItemKind = errors.New("invalid item kind")

	// ErrDuplicateItemKind is returned when a resolution carries two items of the same kind.
	ErrDuplicateItemKind = errors.New("resolution may hold at most one item per kind")

	// ErrInvalidItem is returned for malformed item input (counts, progress).
	ErrInvalidItem = errors.New("invalid resolution item")

	// ErrInvalidStatus is returned for a status id outside the closed enum.
	ErrInvalidStatus = errors.New("invalid resolution status")

	// ErrInvalidStatusTransition is returned when moving a finalized resolution.
	ErrInvalidStatusTransition = errors.New("invalid resolution status transition")

	// ErrNothingToUpdate is returned when an update carries neither fields nor items.
	ErrNothingToUpdate = errors.New("nothing to update")

	// ErrPeriodAlreadyAdvanced is returned when the monthly job already ran for a period.
	ErrPeriodAlreadyAdvanced = errors.New("period already advanced")

	// ErrCaseAnchorLocked is returned when changing the start date of a case
	// whose periodic items are already scheduled against it.
	ErrCaseAnchorLocked = errors.New("case start date is locked by consecutive items")

	// ErrTransactionFailed is returned when the store cannot complete a unit of work.
	ErrTransactionFailed = errors.New("transaction failed")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// QuotaExceededError provides details about a rejected installment request.
type QuotaExceededError struct {
	CaseID          CaseID
	Cap             int
	AlreadyAssigned int
	Requested       int
}

func (e *QuotaExceededError) Error() string {
	return fmt.Sprintf("installment quota exceeded: cap %d, already assigned %d, requested %d (available %d)",
		e.Cap, e.AlreadyAssigned, e.Requested, e.Available())
}

func (e *QuotaExceededError) Unwrap() error {
	return ErrQuotaExceeded
}

// Available is how many installments the case could still take.
func (e *QuotaExceededError) Available() int {
	return e.Cap - e.AlreadyAssigned
}

// MissingFeeRateError names the year with no fee table entry.
type MissingFeeRateError struct {
	Year int
}

func (e *MissingFeeRateError) Error() string {
	return fmt.Sprintf("missing fee rate for year %d", e.Year)
}

func (e *MissingFeeRateError) Unwrap() error {
	return ErrMissingFeeRate
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsNotFound returns true if the error indicates a missing resource.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrCaseNotFound) ||
		errors.Is(err, ErrResolutionNotFound) ||
		errors.Is(err, ErrItemNotFound) ||
		errors.Is(err, ErrSpecificationNotFound)
}

// IsClientError returns true if the error is due to invalid input or a
// business-rule rejection.
func IsClientError(err error) bool {
	return errors.Is(err, ErrQuotaExceeded) ||
		errors.Is(err, ErrMissingFeeRate) ||
		errors.Is(err, ErrMissingSpecCap) ||
		errors.Is(err, ErrInvalidItemKind) ||
		errors.Is(err, ErrDuplicateItemKind) ||
		errors.Is(err, ErrInvalidItem) ||
		errors.Is(err, ErrInvalidStatus) ||
		errors.Is(err, ErrInvalidStatusTransition) ||
		errors.Is(err, ErrNothingToUpdate)
}

// IsConflict returns true if the request clashes with existing state.
func IsConflict(err error) bool {
	return errors.Is(err, ErrPeriodAlreadyAdvanced) ||
		errors.Is(err, ErrCaseAnchorLocked)
}
