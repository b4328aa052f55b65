package driftguard

import (
	"fmt"
	"strings"
	"time"
)

// timestampLayouts covers the ISO-8601 extended forms agents emit: a bare date,
// or date and time joined by 'T' or a space, with an optional numeric offset.
// Fractional seconds are accepted after any layout that ends in seconds.
var timestampLayouts = buildTimestampLayouts()

func buildTimestampLayouts() []string {
	const date = "2006-01-02"
	times := []string{"15:04:05", "15:04", "15"}
	zones := []string{"", "-07:00", "-0700", "-07"}

	layouts := []string{date}
	for _, sep := range []string{"T", " "} {
		for _, tm := range times {
			for _, zone := range zones {
				layouts = append(layouts, date+sep+tm+zone)
			}
		}
	}
	return layouts
}

// ParseTimestamp parses an ISO-8601 date-time. A trailing "Z" is treated as
// "+00:00". Values without an offset are interpreted as UTC.
func ParseTimestamp(s string) (time.Time, error) {
	value := s
	if strings.HasSuffix(value, "Z") || strings.HasSuffix(value, "z") {
		value = value[:len(value)-1] + "+00:00"
	}
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, value); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid ISO 8601 timestamp: %q", s)
}

func isISO8601(v any) bool {
	s, ok := v.(string)
	if !ok {
		// Non-strings are rejected by the "type" keyword.
		return true
	}
	_, err := ParseTimestamp(s)
	return err == nil
}
