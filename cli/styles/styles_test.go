package styles

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFormatMessages(t *testing.T) {
	tests := []struct {
		name   string
		format func(string) string
		icon   string
	}{
		{"success", FormatSuccess, IconSuccess},
		{"error", FormatError, IconError},
		{"warning", FormatWarning, IconWarning},
		{"info", FormatInfo, IconInfo},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := tt.format("message")
			assert.Contains(t, result, tt.icon)
			assert.Contains(t, result, "message")
		})
	}
}

func TestFormatStep(t *testing.T) {
	assert.Contains(t, FormatStep(3, 12, "migrating"), "[3/12]")
}

func TestFormatKeyValue(t *testing.T) {
	result := FormatKeyValue("Status", "APPROVED")
	assert.Contains(t, result, "Status:")
	assert.Contains(t, result, "APPROVED")
}

func TestFormatMinutes(t *testing.T) {
	tests := map[int]string{
		0:    "0m",
		45:   "45m",
		60:   "1h",
		90:   "1h30m",
		485:  "8h05m",
		1440: "24h",
	}
	for minutes, want := range tests {
		assert.Equal(t, want, FormatMinutes(minutes), "%d", minutes)
	}
}

func TestFormatStatus(t *testing.T) {
	for _, status := range []string{"DRAFT", "PENDING", "SUBMITTED", "APPROVED", "REJECTED", "other"} {
		assert.Contains(t, FormatStatus(status), status)
	}
}

func TestTable(t *testing.T) {
	out := Table([]string{"ID", "Minutes"}, [][]string{{"wl-1", "1h"}, {"wl-2", "30m"}})
	assert.Contains(t, out, "ID")
	assert.Contains(t, out, "wl-2")
	assert.Contains(t, out, "30m")
}

func TestDisableColors(t *testing.T) {
	originalPrimary, originalSuccess := Primary, Success
	t.Cleanup(func() { Primary, Success = originalPrimary, originalSuccess })

	DisableColors()
	assert.Equal(t, "", string(Primary))
	assert.Equal(t, "", string(Success))
}
