// Package schedule decides when a reconcile pass is due.
package schedule

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// MaxInterval is the longest schedule accepted.
const MaxInterval = 24 * time.Hour

// unitSeconds maps a schedule suffix to its length in seconds
var unitSeconds = map[byte]int64{
	'd': 86400,
	'h': 3600,
	'm': 60,
	's': 1,
}

// ParseSchedule parses the compact `<int><unit>` notation (unit one of s, m, h, d)
// into a duration. The result must be positive and no longer than MaxInterval.
func ParseSchedule(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if len(s) < 2 {
		return 0, fmt.Errorf("invalid schedule %q: expected <int><unit> with unit one of s, m, h, d", s)
	}

	unit := s[len(s)-1]
	if unit >= 'A' && unit <= 'Z' {
		unit += 'a' - 'A'
	}
	mult, ok := unitSeconds[unit]
	if !ok {
		return 0, fmt.Errorf("invalid schedule %q: unknown unit %q, supported units are s, m, h, d", s, s[len(s)-1:])
	}

	units, err := strconv.ParseInt(s[:len(s)-1], 10, 64)
	if err != nil || units < 0 {
		return 0, fmt.Errorf("invalid schedule %q: %q is not a whole number", s, s[:len(s)-1])
	}
	if units == 0 {
		return 0, fmt.Errorf("invalid schedule %q: interval must be greater than zero", s)
	}

	maxUnits := int64(MaxInterval/time.Second) / mult
	if units > maxUnits {
		return 0, fmt.Errorf("invalid schedule %q: maximum interval is %d seconds", s, int64(MaxInterval/time.Second))
	}

	return time.Duration(units*mult) * time.Second, nil
}
