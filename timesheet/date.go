package timesheet

import (
	"fmt"
	"time"

	"github.com/tempohq/tempo"
)

// DateLayout is the ISO calendar date layout used for every Date.
const DateLayout = "2006-01-02"

// Date is a calendar date without time zone, in YYYY-MM-DD form.
// Dates in that form order correctly as strings.
type Date string

// ParseDate parses and normalises a YYYY-MM-DD date.
func ParseDate(s string) (Date, error) {
	t, err := time.Parse(DateLayout, s)
	if err != nil {
		return "", fmt.Errorf("timesheet: invalid date %q: %w", s, err)
	}
	return Date(t.Format(DateLayout)), nil
}

// MustParseDate is ParseDate for constants and tests. It panics on error.
func MustParseDate(s string) Date {
	d, err := ParseDate(s)
	if err != nil {
		panic(err)
	}
	return d
}

// DateOf returns the calendar date of t in t's location.
func DateOf(t time.Time) Date {
	return Date(t.Format(DateLayout))
}

// String returns the date in YYYY-MM-DD form.
func (d Date) String() string {
	return string(d)
}

// Valid reports whether d is a real calendar date in canonical form.
func (d Date) Valid() bool {
	t, err := time.Parse(DateLayout, string(d))
	return err == nil && t.Format(DateLayout) == string(d)
}

// Time returns midnight UTC of the date.
func (d Date) Time() time.Time {
	t, _ := time.Parse(DateLayout, string(d))
	return t
}

// AddDays returns the date n days later (or earlier for negative n).
func (d Date) AddDays(n int) Date {
	return DateOf(d.Time().AddDate(0, 0, n))
}

// Before reports whether d is earlier than o.
func (d Date) Before(o Date) bool {
	return d < o
}

// After reports whether d is later than o.
func (d Date) After(o Date) bool {
	return d > o
}

// FiscalMonth is an inclusive range of dates treated as one approval period.
// Boundaries are computed outside this package; see the fiscal package.
type FiscalMonth struct {
	Start Date `json:"start" msgpack:"start"`
	End   Date `json:"end" msgpack:"end"`
}

// NewFiscalMonth builds and validates a fiscal month.
func NewFiscalMonth(start, end Date) (FiscalMonth, error) {
	m := FiscalMonth{Start: start, End: end}
	if err := m.Validate(); err != nil {
		return FiscalMonth{}, err
	}
	return m, nil
}

// Validate checks that both boundaries are valid and Start is not after End.
func (m FiscalMonth) Validate() error {
	if !m.Start.Valid() {
		return tempo.NewValidationError("FiscalMonth", "start", fmt.Sprintf("invalid date %q", m.Start))
	}
	if !m.End.Valid() {
		return tempo.NewValidationError("FiscalMonth", "end", fmt.Sprintf("invalid date %q", m.End))
	}
	if m.End.Before(m.Start) {
		return tempo.NewValidationError("FiscalMonth", "end", "must not be before start")
	}
	return nil
}

// Contains reports whether d falls within the month, boundaries included.
func (m FiscalMonth) Contains(d Date) bool {
	return !d.Before(m.Start) && !d.After(m.End)
}

// IsZero reports whether the month is unset.
func (m FiscalMonth) IsZero() bool {
	return m.Start == "" && m.End == ""
}

// String returns "start..end".
func (m FiscalMonth) String() string {
	return fmt.Sprintf("%s..%s", m.Start, m.End)
}
