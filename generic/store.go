/*
store.go - Persistence interfaces for the subsidy engine

PURPOSE:
  Defines the interface between the engine and the database. Every engine
  operation runs inside exactly one unit of work: a Session obtained from
  TxStore.WithTx, committed when the callback returns nil and rolled back
  otherwise. Reads made through the Session see the same snapshot the
  writes land in, so pricing never mixes two versions of the fee table.

KEY INTERFACES:
  FeeTable:  Year -> unit price lookup (read-only for the engine)
  Session:   Reads and writes available inside one transaction
  TxStore:   Opens sessions

COLLABORATOR QUERIES:
  The engine consumes four read-only queries against externally owned tables:
  CaseAnchor, SpecificationCap, FeeForYear, InstallmentSum.

ATOMICITY:
  A failed create leaves no resolution row; a failed update leaves the prior
  state intact; a failed advancement run leaves every item where it was.

IMPLEMENTATIONS:
  - store/sqlite/sqlite.go: SQLite
  - generic/store/memory.go: In-memory for testing

SEE ALSO:
  - subsidy/resolution.go: Engine using Session
  - subsidy/advancement.go: Monthly job using Session
*/
package generic

import (
	"context"

	"github.com/shopspring/decimal"
)

// =============================================================================
// FEE TABLE
// =============================================================================

// FeeTable looks up the unit price for a calendar year.
// Implementations return *MissingFeeRateError when the year has no entry.
type FeeTable interface {
	FeeForYear(ctx context.Context, year int) (decimal.Decimal, error)
}

// =============================================================================
// SESSION - One unit of work
// =============================================================================

// Session is the set of operations available inside one transaction.
// Lookups return (nil, nil) when a row does not exist unless documented otherwise.
type Session interface {
	FeeTable

	// CaseAnchor returns the start month of a case. ErrCaseNotFound if absent.
	CaseAnchor(ctx context.Context, caseID CaseID) (YearMonth, error)

	// SpecificationCap returns the installment cap of the case's specification.
	// ErrCaseNotFound if the case is absent, ErrMissingSpecCap if no cap is defined.
	SpecificationCap(ctx context.Context, caseID CaseID) (int, error)

	// InstallmentSum sums installment counts over all items of all resolutions
	// of the case, excluding one resolution (NoResolution excludes none).
	InstallmentSum(ctx context.Context, caseID CaseID, excluding ResolutionID) (int, error)

	// CountResolutions returns how many resolutions the case has.
	CountResolutions(ctx context.Context, caseID CaseID) (int, error)

	// Resolutions
	InsertResolution(ctx context.Context, r *Resolution) error
	UpdateResolution(ctx context.Context, r Resolution) error
	GetResolution(ctx context.Context, id ResolutionID) (*Resolution, error)
	ListResolutions(ctx context.Context, caseID CaseID) ([]Resolution, error)
	DeleteResolution(ctx context.Context, id ResolutionID) (bool, error)
	SetResolutionStatus(ctx context.Context, id ResolutionID, status ResolutionStatus) (bool, error)

	// Items
	ListItems(ctx context.Context, resolutionID ResolutionID) ([]Item, error)
	InsertItem(ctx context.Context, it *Item) error
	UpdateItem(ctx context.Context, it Item) (bool, error)
	DeleteItemsExcept(ctx context.Context, resolutionID ResolutionID, keep []ItemID) (int, error)

	// Monthly advancement

	// ListAdvanceableItems returns every Consecutive item with Progress < Count
	// whose resolution is not Suspended, ordered by resolution then item id.
	ListAdvanceableItems(ctx context.Context) ([]Item, error)
	SetItemProgress(ctx context.Context, id ItemID, progress int) error

	// RecordAdvancementRun stamps a period. ErrPeriodAlreadyAdvanced if the
	// period was stamped before.
	RecordAdvancementRun(ctx context.Context, run AdvancementRun) error
}

// =============================================================================
// TRANSACTIONAL STORE
// =============================================================================

// TxStore opens units of work.
type TxStore interface {
	// WithTx executes fn within a transaction.
	// If fn returns error, transaction is rolled back.
	// If fn returns nil, transaction is committed.
	WithTx(ctx context.Context, fn func(Session) error) error
}
