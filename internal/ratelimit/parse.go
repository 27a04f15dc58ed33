// Package ratelimit recognizes provider rate-limit messages and
// persists hibernation context across process restarts.
package ratelimit

import (
	"regexp"
	"strconv"
	"time"
)

// resetPattern matches the two provider message forms:
//
//	…resets 12pm (UTC)
//	…resets Feb 16, 3am (UTC)
var resetPattern = regexp.MustCompile(`resets\s+(?:([A-Z][a-z]{2})\s+(\d{1,2}),\s+)?(\d{1,2})(am|pm)\s+\(UTC\)`)

var months = map[string]time.Month{
	"Jan": time.January, "Feb": time.February, "Mar": time.March,
	"Apr": time.April, "May": time.May, "Jun": time.June,
	"Jul": time.July, "Aug": time.August, "Sep": time.September,
	"Oct": time.October, "Nov": time.November, "Dec": time.December,
}

// ParseReset extracts the reset instant from a rate-limit message, or
// nil when the text carries none. The bare hour form resolves to the
// next occurrence at or after now+1s, crossing midnight if needed; the
// dated form is absolute UTC with the year chosen so the instant is not
// in the past.
func ParseReset(text string, now time.Time) *time.Time {
	m := resetPattern.FindStringSubmatch(text)
	if m == nil {
		return nil
	}

	hour12, err := strconv.Atoi(m[3])
	if err != nil || hour12 < 1 || hour12 > 12 {
		return nil
	}
	hour := hour12 % 12
	if m[4] == "pm" {
		hour += 12
	}

	now = now.UTC()

	// Dated form.
	if m[1] != "" {
		month, ok := months[m[1]]
		if !ok {
			return nil
		}
		day, err := strconv.Atoi(m[2])
		if err != nil || day < 1 || day > 31 {
			return nil
		}
		reset := time.Date(now.Year(), month, day, hour, 0, 0, 0, time.UTC)
		if reset.Before(now) {
			reset = time.Date(now.Year()+1, month, day, hour, 0, 0, 0, time.UTC)
		}
		return &reset
	}

	// Bare form: next occurrence at or after now+1s.
	earliest := now.Add(time.Second)
	reset := time.Date(now.Year(), now.Month(), now.Day(), hour, 0, 0, 0, time.UTC)
	if reset.Before(earliest) {
		reset = reset.Add(24 * time.Hour)
	}
	return &reset
}
