package generic

import (
	"fmt"
	"time"
)

// =============================================================================
// YEAR-MONTH - Calendar granularity of every installment
// =============================================================================

// YearMonth identifies a calendar month. Installments are only ever placed at
// month granularity; days and leap years are irrelevant.
type YearMonth struct {
	Year  int
	Month time.Month
}

// Constructors
func NewYearMonth(year int, month time.Month) YearMonth {
	return YearMonth{Year: year, Month: month}.normalize()
}

func YearMonthOf(t time.Time) YearMonth {
	return YearMonth{Year: t.Year(), Month: t.Month()}
}

func CurrentMonth() YearMonth {
	return YearMonthOf(time.Now())
}

// ParseYearMonth accepts "YYYY-MM" or a full "YYYY-MM-DD" date.
func ParseYearMonth(s string) (YearMonth, error) {
	if t, err := time.Parse("2006-01", s); err == nil {
		return YearMonthOf(t), nil
	}
	if t, err := time.Parse("2006-01-02", s); err == nil {
		return YearMonthOf(t), nil
	}
	return YearMonth{}, fmt.Errorf("invalid year-month %q (use YYYY-MM)", s)
}

// Arithmetic

// AddMonths moves n months forward (or backward for negative n), carrying or
// borrowing into the year as the month wraps past December or January.
func (ym YearMonth) AddMonths(n int) YearMonth {
	return YearMonth{Year: ym.Year, Month: ym.Month + time.Month(n)}.normalize()
}

func (ym YearMonth) normalize() YearMonth {
	idx := ym.Year*12 + int(ym.Month) - 1
	year := idx / 12
	month := idx % 12
	if month < 0 {
		month += 12
		year--
	}
	return YearMonth{Year: year, Month: time.Month(month + 1)}
}

// MonthsUntil returns the signed number of months from ym to other.
func (ym YearMonth) MonthsUntil(other YearMonth) int {
	return (other.Year*12 + int(other.Month)) - (ym.Year*12 + int(ym.Month))
}

// Comparison
func (ym YearMonth) Before(other YearMonth) bool { return ym.MonthsUntil(other) > 0 }
func (ym YearMonth) After(other YearMonth) bool  { return ym.MonthsUntil(other) < 0 }
func (ym YearMonth) Equal(other YearMonth) bool  { return ym.MonthsUntil(other) == 0 }
func (ym YearMonth) IsZero() bool                { return ym.Year == 0 && ym.Month == 0 }

// FirstDay returns midnight UTC on the first day of the month.
func (ym YearMonth) FirstDay() time.Time {
	return time.Date(ym.Year, ym.Month, 1, 0, 0, 0, 0, time.UTC)
}

func (ym YearMonth) String() string {
	return fmt.Sprintf("%04d-%02d", ym.Year, int(ym.Month))
}
