package timesheet

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tempohq/tempo"
)

func TestParseDate(t *testing.T) {
	d, err := ParseDate("2024-02-29")
	require.NoError(t, err)
	assert.Equal(t, Date("2024-02-29"), d)

	for _, bad := range []string{"", "2023-02-29", "2024-13-01", "24-01-01", "2024/01/01"} {
		_, err := ParseDate(bad)
		assert.Error(t, err, bad)
	}
}

func TestDate(t *testing.T) {
	d := MustParseDate("2024-01-31")

	assert.True(t, d.Valid())
	assert.False(t, Date("2024-1-31").Valid())
	assert.Equal(t, Date("2024-02-01"), d.AddDays(1))
	assert.Equal(t, Date("2024-01-30"), d.AddDays(-1))
	assert.True(t, d.Before("2024-02-01"))
	assert.True(t, d.After("2024-01-30"))
	assert.Equal(t, time.Date(2024, 1, 31, 0, 0, 0, 0, time.UTC), d.Time())
	assert.Equal(t, d, DateOf(time.Date(2024, 1, 31, 23, 59, 0, 0, time.UTC)))
}

func TestFiscalMonth(t *testing.T) {
	m, err := NewFiscalMonth("2024-01-21", "2024-02-20")
	require.NoError(t, err)

	assert.True(t, m.Contains("2024-01-21"))
	assert.True(t, m.Contains("2024-02-20"))
	assert.True(t, m.Contains("2024-02-01"))
	assert.False(t, m.Contains("2024-01-20"))
	assert.False(t, m.Contains("2024-02-21"))
	assert.Equal(t, "2024-01-21..2024-02-20", m.String())
	assert.False(t, m.IsZero())

	_, err = NewFiscalMonth("2024-02-20", "2024-01-21")
	assert.ErrorIs(t, err, tempo.ErrValidationFailed)

	_, err = NewFiscalMonth("nope", "2024-01-21")
	assert.ErrorIs(t, err, tempo.ErrValidationFailed)
}
