package scheduler

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// computeNext implements spec.md §4.1's rule: on fire, compute
// next = max(prev+period, now), skipping missed slots rather than
// back-filling them.
func computeNext(prev time.Time, period time.Duration, now time.Time) time.Time {
	candidate := prev.Add(period)
	if candidate.Before(now) {
		return now.Add(period)
	}
	return candidate
}

// nextDailyAt returns the next occurrence of HH:MM local time strictly
// after `now`, used for the interface_discovery and retention_cleanup
// cadences (teacher's createDailySNMPChannel pattern, generalized).
func nextDailyAt(hhmm string, now time.Time) (time.Time, error) {
	parts := strings.Split(hhmm, ":")
	if len(parts) != 2 {
		return time.Time{}, fmt.Errorf("invalid HH:MM schedule: %q", hhmm)
	}
	hour, err := strconv.Atoi(parts[0])
	if err != nil || hour < 0 || hour > 23 {
		return time.Time{}, fmt.Errorf("invalid hour in schedule: %q", hhmm)
	}
	minute, err := strconv.Atoi(parts[1])
	if err != nil || minute < 0 || minute > 59 {
		return time.Time{}, fmt.Errorf("invalid minute in schedule: %q", hhmm)
	}

	candidate := time.Date(now.Year(), now.Month(), now.Day(), hour, minute, 0, 0, now.Location())
	if !candidate.After(now) {
		candidate = candidate.Add(24 * time.Hour)
	}
	return candidate, nil
}
