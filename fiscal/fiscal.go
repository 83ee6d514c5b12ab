// Package fiscal computes fiscal month boundaries for the approval workflow.
//
// A Pattern starts every fiscal month on the same day of the calendar month.
// With StartDay 26, the fiscal month containing 2024-02-10 runs from
// 2024-01-26 to 2024-02-25. StartDay 1 yields calendar months.
package fiscal

import (
	"fmt"
	"time"

	"github.com/tempohq/tempo"
	"github.com/tempohq/tempo/timesheet"
)

// MaxStartDay is the latest allowed start day; every month has it.
const MaxStartDay = 28

// Pattern describes how fiscal months are laid out.
type Pattern struct {
	// StartDay is the day of the calendar month on which each fiscal month begins.
	StartDay int `yaml:"start_day" env:"START_DAY"`
}

// Calendar is the pattern of plain calendar months.
var Calendar = Pattern{StartDay: 1}

// Validate checks that StartDay is between 1 and MaxStartDay.
func (p Pattern) Validate() error {
	if p.StartDay < 1 || p.StartDay > MaxStartDay {
		return tempo.NewValidationError("fiscal.Pattern", "startDay",
			fmt.Sprintf("must be between 1 and %d, got %d", MaxStartDay, p.StartDay))
	}
	return nil
}

// MonthContaining returns the fiscal month that contains date.
func (p Pattern) MonthContaining(date timesheet.Date) (timesheet.FiscalMonth, error) {
	if err := p.Validate(); err != nil {
		return timesheet.FiscalMonth{}, err
	}
	if !date.Valid() {
		return timesheet.FiscalMonth{}, tempo.NewValidationError("fiscal.Pattern", "date", fmt.Sprintf("invalid date %q", date))
	}

	t := date.Time()
	year, month := t.Year(), t.Month()
	if t.Day() < p.StartDay {
		month--
	}
	return p.month(year, month), nil
}

// MonthStartingIn returns the fiscal month that begins in the given calendar month.
func (p Pattern) MonthStartingIn(year int, month time.Month) (timesheet.FiscalMonth, error) {
	if err := p.Validate(); err != nil {
		return timesheet.FiscalMonth{}, err
	}
	return p.month(year, month), nil
}

// Next returns the fiscal month after m.
func (p Pattern) Next(m timesheet.FiscalMonth) (timesheet.FiscalMonth, error) {
	return p.MonthContaining(m.End.AddDays(1))
}

// Previous returns the fiscal month before m.
func (p Pattern) Previous(m timesheet.FiscalMonth) (timesheet.FiscalMonth, error) {
	return p.MonthContaining(m.Start.AddDays(-1))
}

// month builds the fiscal month starting on StartDay of year/month. time.Date
// normalises month 0 to December of the previous year.
func (p Pattern) month(year int, month time.Month) timesheet.FiscalMonth {
	start := time.Date(year, month, p.StartDay, 0, 0, 0, 0, time.UTC)
	end := start.AddDate(0, 1, -1)
	return timesheet.FiscalMonth{
		Start: timesheet.DateOf(start),
		End:   timesheet.DateOf(end),
	}
}
