package generic

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestYearMonth_AddMonths(t *testing.T) {
	tests := []struct {
		name string
		from YearMonth
		n    int
		want YearMonth
	}{
		{"same month", NewYearMonth(2024, time.May), 0, NewYearMonth(2024, time.May)},
		{"forward in year", NewYearMonth(2024, time.May), 3, NewYearMonth(2024, time.August)},
		{"forward past december", NewYearMonth(2024, time.November), 2, NewYearMonth(2025, time.January)},
		{"forward several years", NewYearMonth(2024, time.January), 36, NewYearMonth(2027, time.January)},
		{"backward in year", NewYearMonth(2024, time.May), -4, NewYearMonth(2024, time.January)},
		{"backward past january", NewYearMonth(2024, time.February), -3, NewYearMonth(2023, time.November)},
		{"backward exactly a year", NewYearMonth(2024, time.January), -12, NewYearMonth(2023, time.January)},
		{"backward several years", NewYearMonth(2024, time.March), -27, NewYearMonth(2021, time.December)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.from.AddMonths(tt.n))
		})
	}
}

func TestYearMonth_NormalizesOverflow(t *testing.T) {
	assert.Equal(t, YearMonth{Year: 2025, Month: time.February}, NewYearMonth(2024, 14))
	assert.Equal(t, YearMonth{Year: 2023, Month: time.December}, NewYearMonth(2024, 0))
}

func TestYearMonth_Comparisons(t *testing.T) {
	jan := NewYearMonth(2024, time.January)
	dec := NewYearMonth(2023, time.December)

	assert.True(t, dec.Before(jan))
	assert.True(t, jan.After(dec))
	assert.False(t, jan.Equal(dec))
	assert.Equal(t, 1, dec.MonthsUntil(jan))
	assert.Equal(t, -13, jan.MonthsUntil(NewYearMonth(2022, time.December)))
	assert.True(t, YearMonth{}.IsZero())
}

func TestParseYearMonth(t *testing.T) {
	ym, err := ParseYearMonth("2024-03")
	require.NoError(t, err)
	assert.Equal(t, NewYearMonth(2024, time.March), ym)

	ym, err = ParseYearMonth("2024-11-27")
	require.NoError(t, err)
	assert.Equal(t, NewYearMonth(2024, time.November), ym)
	assert.Equal(t, "2024-11", ym.String())

	_, err = ParseYearMonth("march")
	assert.Error(t, err)
}

func TestYearMonth_FirstDay(t *testing.T) {
	got := NewYearMonth(2024, time.February).FirstDay()
	assert.Equal(t, time.Date(2024, time.February, 1, 0, 0, 0, 0, time.UTC), got)
}
