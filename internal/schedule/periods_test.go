package schedule

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/packcycle/packcycle/internal/models"
)

func TestGeneratePeriodsDailyScenario(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	periods := GeneratePeriods(PeriodSpec{
		Cadence:     models.CadenceDaily,
		Duration:    5,
		StartDate:   start,
		Holidays:    []int{3},
		TotalAmount: 8,
	})

	require.Len(t, periods, 5)

	// activeCount=4, ceil(8/4)=2
	for i := 1; i <= 5; i++ {
		p := periods[models.PeriodKey(i)]
		require.Equal(t, i, p.Number)
		require.Equal(t, start.AddDate(0, 0, i), p.DueDate, "period %d due date", i)
		if i == 3 {
			require.True(t, p.IsHoliday)
			require.False(t, p.Active)
			require.Equal(t, 0, p.Amount)
		} else {
			require.True(t, p.Active)
			require.Equal(t, 2, p.Amount)
			require.Equal(t, fmt.Sprintf("Day %d", i), p.Label)
		}
	}
}

func TestGeneratePeriodsCeilingNeverUnderAllocates(t *testing.T) {
	cases := []struct {
		duration int
		holidays []int
		total    int
	}{
		{duration: 12, holidays: nil, total: 100},
		{duration: 10, holidays: []int{2, 4, 6}, total: 33},
		{duration: 7, holidays: []int{1}, total: 1},
		{duration: 52, holidays: []int{10, 20, 30}, total: 999},
	}

	for _, tc := range cases {
		periods := GeneratePeriods(PeriodSpec{
			Cadence:     models.CadenceWeekly,
			Duration:    tc.duration,
			StartDate:   time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC),
			Holidays:    tc.holidays,
			TotalAmount: tc.total,
		})

		sum := 0
		for _, p := range periods {
			sum += p.Amount
		}
		require.GreaterOrEqual(t, sum, tc.total,
			"duration=%d holidays=%v total=%d", tc.duration, tc.holidays, tc.total)
	}
}

func TestGeneratePeriodsAllHolidays(t *testing.T) {
	periods := GeneratePeriods(PeriodSpec{
		Cadence:     models.CadenceDaily,
		Duration:    3,
		StartDate:   time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		Holidays:    []int{1, 2, 3},
		TotalAmount: 10,
	})

	require.Len(t, periods, 3)
	for _, p := range periods {
		require.Equal(t, 0, p.Amount, "no active periods means nothing to allocate")
	}
}

func TestGeneratePeriodsZeroDuration(t *testing.T) {
	require.Empty(t, GeneratePeriods(PeriodSpec{Cadence: models.CadenceDaily}))
	require.Empty(t, GeneratePeriods(PeriodSpec{Cadence: models.CadenceDaily, Duration: -4}))
}

func TestAdvanceMonotonicAcrossCadences(t *testing.T) {
	// Jan 31 is the worst case for calendar arithmetic: naive month addition
	// wraps through short months.
	start := time.Date(2024, 1, 31, 12, 0, 0, 0, time.UTC)

	cadences := []models.Cadence{
		models.CadenceYearly,
		models.CadenceMonthly,
		models.CadenceWeekly,
		models.CadenceDaily,
		models.CadenceHourly,
		models.CadenceMinute,
		models.Cadence("unknown"),
	}

	for _, cadence := range cadences {
		prev := start
		for i := 1; i <= 48; i++ {
			next := Advance(start, cadence, i)
			require.True(t, next.After(prev),
				"cadence %s: advance(%d)=%s must be after advance(%d)=%s",
				cadence, i, next, i-1, prev)
			prev = next
		}
	}
}

func TestAdvanceUnknownCadenceFallsBackToDays(t *testing.T) {
	start := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	require.Equal(t, start.AddDate(0, 0, 4), Advance(start, "fortnightly", 4))
}

func TestSortedPeriodsAscending(t *testing.T) {
	periods := GeneratePeriods(PeriodSpec{
		Cadence:     models.CadenceMonthly,
		Duration:    6,
		StartDate:   time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC),
		TotalAmount: 60,
	})

	ordered := SortedPeriods(periods)
	require.Len(t, ordered, 6)
	for i, p := range ordered {
		require.Equal(t, i+1, p.Number)
	}
}
