package validation

import (
	"fmt"
	"strings"
	"time"
)

// Extended (+01:00) and basic (+0100) offsets are both accepted, seconds and
// fractions are optional, and a space may replace the T separator.
var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999Z0700",
	"2006-01-02T15:04Z07:00",
	"2006-01-02T15:04Z0700",
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999Z0700",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02 15:04",
}

// ParseTimestamp parses an ISO-8601 date-time. A trailing Z means UTC and a
// value without an offset is taken as UTC. The result is always in UTC.
// Date-only values, week dates and ordinal dates are rejected.
func ParseTimestamp(value string) (time.Time, error) {
	value = strings.TrimSpace(value)
	for _, layout := range timestampLayouts {
		if ts, err := time.Parse(layout, value); err == nil {
			return ts.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("%q is not an ISO-8601 date-time", value)
}
