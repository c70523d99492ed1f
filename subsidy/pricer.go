package subsidy

import (
	"context"

	"github.com/shopspring/decimal"
	"github.com/warp/subsidy-engine/generic"
)

// =============================================================================
// ITEM PRICE
// =============================================================================

// ItemPrice is the outcome of pricing one item.
//
//	Retroactive: Stored = Total = sum of every installment's yearly fee
//	Consecutive: Stored = fee of the item's first installment, Total = Stored × count
type ItemPrice struct {
	Stored decimal.Decimal
	Total  decimal.Decimal
}

// PriceItem prices an item's installments against the fee table.
//
// startingProgress is how many installments of a Consecutive item were
// consumed before this pricing; installment i is placed at calendar position
// startingProgress+i. Retroactive items always start at position 1 of the
// back-dated block. Every installment's year must have a fee: a missing year
// fails the whole pricing with *generic.MissingFeeRateError.
func PriceItem(
	ctx context.Context,
	fees generic.FeeTable,
	kind generic.ItemKind,
	count int,
	startingProgress int,
	anchor generic.YearMonth,
	retroactiveTotal int,
) (ItemPrice, error) {
	retro := kind.IsRetroactive()
	sum := decimal.Zero
	first := decimal.Zero

	for i := 1; i <= count; i++ {
		position := i
		if !retro {
			position = startingProgress + i
		}
		period := InstallmentPeriod(anchor, position, retro, retroactiveTotal)

		fee, err := fees.FeeForYear(ctx, period.Year)
		if err != nil {
			return ItemPrice{}, err
		}
		sum = sum.Add(fee)
		if i == 1 {
			first = fee
		}
	}

	if retro {
		total := generic.RoundMoney(sum)
		return ItemPrice{Stored: total, Total: total}, nil
	}
	unit := generic.RoundMoney(first)
	return ItemPrice{
		Stored: unit,
		Total:  generic.RoundMoney(unit.Mul(decimal.NewFromInt(int64(count)))),
	}, nil
}

// =============================================================================
// CACHED FEES - One lookup per year per unit of work
// =============================================================================

// CachedFees memoizes a FeeTable. It is meant to live for a single
// transaction, so it never sees two versions of the table.
type CachedFees struct {
	inner generic.FeeTable
	years map[int]decimal.Decimal
}

func NewCachedFees(inner generic.FeeTable) *CachedFees {
	return &CachedFees{inner: inner, years: make(map[int]decimal.Decimal)}
}

func (c *CachedFees) FeeForYear(ctx context.Context, year int) (decimal.Decimal, error) {
	if fee, ok := c.years[year]; ok {
		return fee, nil
	}
	fee, err := c.inner.FeeForYear(ctx, year)
	if err != nil {
		return decimal.Zero, err
	}
	c.years[year] = fee
	return fee, nil
}
