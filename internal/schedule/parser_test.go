package schedule

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseSchedule(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		input    string
		expected time.Duration
		wantErr  string
	}{
		{name: "seconds", input: "10s", expected: 10 * time.Second},
		{name: "minutes", input: "5m", expected: 5 * time.Minute},
		{name: "hours", input: "12h", expected: 12 * time.Hour},
		{name: "one day", input: "1d", expected: 24 * time.Hour},
		{name: "upper case unit", input: "2H", expected: 2 * time.Hour},
		{name: "surrounding whitespace", input: " 30s ", expected: 30 * time.Second},
		{name: "exactly the maximum in seconds", input: "86400s", expected: 24 * time.Hour},
		{name: "exceeds maximum in seconds", input: "86401s", wantErr: "maximum interval"},
		{name: "exceeds maximum in hours", input: "25h", wantErr: "maximum interval"},
		{name: "exceeds maximum in days", input: "2d", wantErr: "maximum interval"},
		{name: "unknown unit", input: "10w", wantErr: "unknown unit"},
		{name: "no unit", input: "10", wantErr: "unknown unit"},
		{name: "not a number", input: "abcs", wantErr: "not a whole number"},
		{name: "fractional", input: "1.5h", wantErr: "not a whole number"},
		{name: "negative", input: "-5s", wantErr: "not a whole number"},
		{name: "zero", input: "0m", wantErr: "greater than zero"},
		{name: "empty", input: "", wantErr: "expected <int><unit>"},
		{name: "unit only", input: "s", wantErr: "expected <int><unit>"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			got, err := ParseSchedule(tt.input)
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.expected, got)
		})
	}
}

func TestParseSchedule_UnitMultiples(t *testing.T) {
	t.Parallel()

	for unit, secs := range unitSeconds {
		for _, n := range []int64{1, 2, 7} {
			if n*secs > int64(MaxInterval/time.Second) {
				continue
			}
			input := string(rune('0'+n)) + string(unit)
			got, err := ParseSchedule(input)
			require.NoError(t, err, input)
			assert.Equal(t, time.Duration(n*secs)*time.Second, got, input)
		}
	}
}
