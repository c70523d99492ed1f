package subsidy

import "github.com/warp/subsidy-engine/generic"

// InstallmentPeriod returns the calendar month an installment falls in.
//
// position is 1-based. Retroactive installments fill the retroactiveTotal
// months immediately preceding the anchor, earliest first: position 1 is
// retroactiveTotal months back and the last position is the month right
// before the anchor. Consecutive installments run forward from the anchor,
// position 1 being the anchor month itself.
func InstallmentPeriod(anchor generic.YearMonth, position int, retroactive bool, retroactiveTotal int) generic.YearMonth {
	if retroactive {
		return anchor.AddMonths(position - retroactiveTotal - 1)
	}
	return anchor.AddMonths(position - 1)
}
