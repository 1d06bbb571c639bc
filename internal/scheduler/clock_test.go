package scheduler

import (
	"testing"
	"time"
)

func TestComputeNextSkipsMissedSlots(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	period := 30 * time.Second

	// On-time fire: next is simply prev+period.
	next := computeNext(base, period, base.Add(period))
	if !next.Equal(base.Add(period)) {
		t.Errorf("on-time: next = %v, want %v", next, base.Add(period))
	}

	// Badly-late fire (load spike): next is now+period, not back-filled.
	late := base.Add(10 * time.Minute)
	next = computeNext(base, period, late)
	if !next.Equal(late.Add(period)) {
		t.Errorf("late: next = %v, want %v", next, late.Add(period))
	}
}

func TestNextDailyAtFutureToday(t *testing.T) {
	now := time.Date(2026, 3, 5, 10, 0, 0, 0, time.UTC)
	next, err := nextDailyAt("14:30", now)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := time.Date(2026, 3, 5, 14, 30, 0, 0, time.UTC)
	if !next.Equal(want) {
		t.Errorf("next = %v, want %v", next, want)
	}
}

func TestNextDailyAtPastRollsToTomorrow(t *testing.T) {
	now := time.Date(2026, 3, 5, 20, 0, 0, 0, time.UTC)
	next, err := nextDailyAt("02:00", now)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := time.Date(2026, 3, 6, 2, 0, 0, 0, time.UTC)
	if !next.Equal(want) {
		t.Errorf("next = %v, want %v", next, want)
	}
}

func TestNextDailyAtInvalidFormat(t *testing.T) {
	cases := []string{"", "25:00", "12:60", "bad"}
	for _, c := range cases {
		if _, err := nextDailyAt(c, time.Now()); err == nil {
			t.Errorf("expected error for input %q", c)
		}
	}
}
