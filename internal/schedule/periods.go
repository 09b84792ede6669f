package schedule

import (
	"fmt"
	"time"

	"github.com/packcycle/packcycle/internal/models"
)

// PeriodSpec is the input to period generation, a pure function of the
// timeline configuration.
type PeriodSpec struct {
	Cadence     models.Cadence
	Duration    int
	StartDate   time.Time
	Holidays    []int
	TotalAmount int
}

// GeneratePeriods derives the full ordered period map for a timeline.
// The map has exactly Duration entries keyed by models.PeriodKey. Holiday
// periods are inactive with a zero amount; the total is split across active
// periods with ceiling division so the allocation never falls short.
func GeneratePeriods(spec PeriodSpec) map[string]models.Period {
	periods := make(map[string]models.Period, max(spec.Duration, 0))
	if spec.Duration <= 0 {
		return periods
	}

	holidays := make(map[int]struct{}, len(spec.Holidays))
	for _, n := range spec.Holidays {
		holidays[n] = struct{}{}
	}

	activeCount := spec.Duration - len(holidays)
	amountPerPeriod := 0
	if activeCount > 0 && spec.TotalAmount > 0 {
		amountPerPeriod = (spec.TotalAmount + activeCount - 1) / activeCount
	}

	label := spec.Cadence.Label()
	for i := 1; i <= spec.Duration; i++ {
		_, isHoliday := holidays[i]
		amount := amountPerPeriod
		if isHoliday {
			amount = 0
		}

		periods[models.PeriodKey(i)] = models.Period{
			Number:    i,
			Label:     fmt.Sprintf("%s %d", label, i),
			DueDate:   Advance(spec.StartDate, spec.Cadence, i),
			Active:    !isHoliday,
			Amount:    amount,
			IsHoliday: isHoliday,
		}
	}

	return periods
}

// Advance returns start moved forward by n cadence units. Every offset is
// computed from the original start, never from the previous period, so
// AddDate's end-of-month normalization (Jan 31 + 1 month lands in early
// March) cannot accumulate and the result is strictly increasing in n.
// Unrecognized cadences fall back to daily steps.
func Advance(start time.Time, cadence models.Cadence, n int) time.Time {
	switch cadence {
	case models.CadenceYearly:
		return start.AddDate(n, 0, 0)
	case models.CadenceMonthly:
		return start.AddDate(0, n, 0)
	case models.CadenceWeekly:
		return start.AddDate(0, 0, 7*n)
	case models.CadenceDaily:
		return start.AddDate(0, 0, n)
	case models.CadenceHourly:
		return start.Add(time.Duration(n) * time.Hour)
	case models.CadenceMinute:
		return start.Add(time.Duration(n) * time.Minute)
	default:
		return start.AddDate(0, 0, n)
	}
}

// SortedPeriods returns the period values ordered by period number.
func SortedPeriods(periods map[string]models.Period) []models.Period {
	ordered := make([]models.Period, 0, len(periods))
	for i := 1; i <= len(periods); i++ {
		if p, ok := periods[models.PeriodKey(i)]; ok {
			ordered = append(ordered, p)
		}
	}
	return ordered
}
