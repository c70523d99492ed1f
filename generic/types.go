/*
Package generic provides the core types shared by the subsidy engine and its stores.

PURPOSE:
  This package holds the vocabulary every other package speaks: money,
  identifiers, the closed enums for item kinds and resolution statuses, and
  the persistence records the engine reads and writes. It contains no
  business rules; those live in the subsidy package.

KEY CONCEPTS IN THIS FILE (types.go):
  - Money: decimal.Decimal rounded to cents at every persisted boundary
  - ItemKind: Retroactive (lump-sum) or Consecutive (periodic)
  - ResolutionStatus: Active, Suspended, Finalized
  - Case / Resolution / Item: the records behind a benefit file

DESIGN PRINCIPLES:
  1. Precision: decimal.Decimal everywhere money flows, never float64
  2. Closed enums: reference-table ids are translated at the storage boundary,
     the engine never handles raw integers
  3. Derived totals: a resolution's total is recomputed from its items, it is
     never stored

SEE ALSO:
  - time.go: YearMonth calendar primitive
  - errors.go: Error taxonomy
  - store.go: Session and TxStore interfaces
*/
package generic

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// =============================================================================
// MONEY
// =============================================================================

// MoneyPlaces is the number of decimal places every stored amount is rounded to.
const MoneyPlaces = 2

// RoundMoney rounds an amount to cents.
func RoundMoney(d decimal.Decimal) decimal.Decimal {
	return d.Round(MoneyPlaces)
}

// =============================================================================
// IDENTIFIERS
// =============================================================================

type CaseID int64
type ResolutionID int64
type ItemID int64
type SpecificationID int64

// NoResolution is passed where a resolution must be excluded but none exists yet.
const NoResolution ResolutionID = 0

// =============================================================================
// ITEM KIND
// =============================================================================

// ItemKind classifies a resolution item as lump-sum or periodic.
type ItemKind int

const (
	// KindRetroactive is a lump-sum payout covering months before the case anchor.
	KindRetroactive ItemKind = iota + 1
	// KindConsecutive is a periodic payment advanced month by month.
	KindConsecutive
)

// ItemKinds lists every recognised kind in reference-table order.
var ItemKinds = []ItemKind{KindRetroactive, KindConsecutive}

// ParseItemKind converts a reference-table id into an ItemKind.
func ParseItemKind(id int) (ItemKind, error) {
	switch ItemKind(id) {
	case KindRetroactive, KindConsecutive:
		return ItemKind(id), nil
	}
	return 0, fmt.Errorf("%w: %d", ErrInvalidItemKind, id)
}

// ID returns the reference-table id for the kind.
func (k ItemKind) ID() int { return int(k) }

func (k ItemKind) String() string {
	switch k {
	case KindRetroactive:
		return "Retroactive"
	case KindConsecutive:
		return "Consecutive"
	default:
		return fmt.Sprintf("ItemKind(%d)", int(k))
	}
}

// IsRetroactive reports whether the kind is priced as a lump sum.
func (k ItemKind) IsRetroactive() bool { return k == KindRetroactive }

// =============================================================================
// RESOLUTION STATUS
// =============================================================================

// ResolutionStatus is the lifecycle state of a resolution.
//
//	Active ⇄ Suspended
//	Active → Finalized (monthly advancement only)
type ResolutionStatus int

const (
	StatusActive ResolutionStatus = iota + 1
	StatusSuspended
	StatusFinalized
)

// ResolutionStatuses lists every status in reference-table order.
var ResolutionStatuses = []ResolutionStatus{StatusActive, StatusSuspended, StatusFinalized}

// ParseResolutionStatus converts a reference-table id into a ResolutionStatus.
func ParseResolutionStatus(id int) (ResolutionStatus, error) {
	switch ResolutionStatus(id) {
	case StatusActive, StatusSuspended, StatusFinalized:
		return ResolutionStatus(id), nil
	}
	return 0, fmt.Errorf("%w: %d", ErrInvalidStatus, id)
}

func (s ResolutionStatus) ID() int { return int(s) }

func (s ResolutionStatus) String() string {
	switch s {
	case StatusActive:
		return "Active"
	case StatusSuspended:
		return "Suspended"
	case StatusFinalized:
		return "Finalized"
	default:
		return fmt.Sprintf("ResolutionStatus(%d)", int(s))
	}
}

// =============================================================================
// RECORDS
// =============================================================================

// Case is a patient's benefit file. Start anchors all installment calendar math.
type Case struct {
	ID              CaseID
	Start           YearMonth
	StartDate       string // YYYY-MM-DD as entered
	SpecificationID SpecificationID
	RNT             string
	NewCase         bool
	Notes           string
	PatientName     string
	PatientDocument string
}

// Specification defines the total installment cap for the cases that use it.
// A nil Cap means the specification defines no limit, which the quota guard
// treats as a hard error.
type Specification struct {
	ID   SpecificationID
	Name string
	Cap  *int
}

// FeeRate is the unit price of every installment falling in Year.
type FeeRate struct {
	Year   int
	Amount decimal.Decimal
}

// Resolution grants payment items against a case.
type Resolution struct {
	ID          ResolutionID
	CaseID      CaseID
	Date        string // YYYY-MM-DD
	Description string
	Status      ResolutionStatus
}

// Item is one line of a resolution.
//
// INVARIANT: 0 <= Progress <= Count.
// Retroactive items are stored fully consumed (Progress == Count) and their
// Price is the sum of all installments. Consecutive items store the unit
// price of a single installment.
type Item struct {
	ID           ItemID
	ResolutionID ResolutionID
	Kind         ItemKind
	Price        decimal.Decimal
	Count        int
	Progress     int
}

// Exhausted reports whether every installment of the item has been consumed.
func (i Item) Exhausted() bool { return i.Progress >= i.Count }

// LineTotal is the item's contribution to its resolution's total.
func (i Item) LineTotal() decimal.Decimal {
	if i.Kind.IsRetroactive() {
		return i.Price
	}
	return i.Price.Mul(decimal.NewFromInt(int64(i.Count)))
}

// ResolutionTotal recomputes a resolution's total from its items.
func ResolutionTotal(items []Item) decimal.Decimal {
	total := decimal.Zero
	for _, it := range items {
		total = total.Add(it.LineTotal())
	}
	return RoundMoney(total)
}

// AdvancementRun stamps one execution of the monthly advancement job.
type AdvancementRun struct {
	ID                   string
	Period               YearMonth
	ItemsAdvanced        int
	ResolutionsFinalized int
	ExecutedAt           string // RFC3339
}
