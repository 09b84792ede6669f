package models

import (
	"encoding/json"
	"fmt"
	"time"

	"gorm.io/datatypes"
)

// Cadence enumerates the supported recurrence units for a timeline.
type Cadence string

const (
	CadenceYearly  Cadence = "yearly"
	CadenceMonthly Cadence = "monthly"
	CadenceWeekly  Cadence = "weekly"
	CadenceDaily   Cadence = "daily"
	CadenceHourly  Cadence = "hourly"
	CadenceMinute  Cadence = "minute"
)

// Label returns the human-readable unit used in period labels ("Week 3").
func (c Cadence) Label() string {
	switch c {
	case CadenceYearly:
		return "Year"
	case CadenceMonthly:
		return "Month"
	case CadenceWeekly:
		return "Week"
	case CadenceDaily:
		return "Day"
	case CadenceHourly:
		return "Hour"
	case CadenceMinute:
		return "Minute"
	default:
		return "Period"
	}
}

// Timeline modes. Manual mode pins "now" to the stored simulation date.
const (
	TimelineModeAuto   = "auto"
	TimelineModeManual = "manual"
)

// Timeline lifecycle states. At most one row may be active.
const (
	TimelineStatusTemplate = "template"
	TimelineStatusActive   = "active"
	TimelineStatusArchived = "archived"
)

// Period is one numbered slot of a timeline. Periods are derived entirely
// from the timeline configuration and stored denormalized as JSON.
type Period struct {
	Number    int       `json:"number"`
	Label     string    `json:"label"`
	DueDate   time.Time `json:"due_date"`
	Active    bool      `json:"active"`
	Amount    int       `json:"amount"`
	IsHoliday bool      `json:"is_holiday"`
}

// PeriodKey returns the canonical map key for period number n.
func PeriodKey(n int) string {
	return fmt.Sprintf("period_%d", n)
}

// Timeline is the administrator-defined recurring delivery schedule.
type Timeline struct {
	BaseModel
	Name           string         `gorm:"size:128" json:"name"`
	Cadence        Cadence        `gorm:"size:16;not null" json:"cadence"`
	Duration       int            `gorm:"not null" json:"duration"`
	StartDate      time.Time      `gorm:"not null" json:"start_date"`
	Mode           string         `gorm:"size:16;default:auto" json:"mode"`
	SimulationDate *time.Time     `json:"simulation_date,omitempty"`
	Holidays       datatypes.JSON `json:"holidays,omitempty"`
	TotalAmount    int            `json:"total_amount"`
	Periods        datatypes.JSON `json:"periods"`
	Status         string         `gorm:"size:16;index" json:"status"`
}

// HolidayNumbers decodes the stored holiday period numbers.
func (t *Timeline) HolidayNumbers() ([]int, error) {
	if len(t.Holidays) == 0 {
		return nil, nil
	}
	var numbers []int
	if err := json.Unmarshal(t.Holidays, &numbers); err != nil {
		return nil, fmt.Errorf("timeline %s: decode holidays: %w", t.ID, err)
	}
	return numbers, nil
}

// SetHolidays encodes the holiday period numbers for storage.
func (t *Timeline) SetHolidays(numbers []int) error {
	if numbers == nil {
		t.Holidays = nil
		return nil
	}
	data, err := json.Marshal(numbers)
	if err != nil {
		return err
	}
	t.Holidays = datatypes.JSON(data)
	return nil
}

// PeriodMap decodes the stored period map keyed by PeriodKey.
func (t *Timeline) PeriodMap() (map[string]Period, error) {
	if len(t.Periods) == 0 {
		return map[string]Period{}, nil
	}
	periods := make(map[string]Period)
	if err := json.Unmarshal(t.Periods, &periods); err != nil {
		return nil, fmt.Errorf("timeline %s: decode periods: %w", t.ID, err)
	}
	return periods, nil
}

// SetPeriods encodes the period map for storage.
func (t *Timeline) SetPeriods(periods map[string]Period) error {
	data, err := json.Marshal(periods)
	if err != nil {
		return err
	}
	t.Periods = datatypes.JSON(data)
	return nil
}
