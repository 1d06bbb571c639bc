package devicestate

import (
	"testing"
	"time"
)

func TestRingEncodeDecodeRoundTrip(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	r := Ring{}
	r = r.Push(base)
	r = r.Push(base.Add(time.Minute))

	encoded := r.Encode()
	decoded := DecodeRing(encoded)

	if len(decoded.Changes) != 2 {
		t.Fatalf("expected 2 changes, got %d", len(decoded.Changes))
	}
	if !decoded.Changes[0].Equal(base) {
		t.Errorf("first change = %v, want %v", decoded.Changes[0], base)
	}
}

func TestDecodeRingEmptyString(t *testing.T) {
	r := DecodeRing("")
	if len(r.Changes) != 0 {
		t.Errorf("expected empty ring, got %d entries", len(r.Changes))
	}
}

func TestRingCapacityTrim(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	r := Ring{}
	for i := 0; i < ringCapacity+10; i++ {
		r = r.Push(base.Add(time.Duration(i) * time.Second))
	}
	if len(r.Changes) != ringCapacity {
		t.Fatalf("expected ring capped at %d, got %d", ringCapacity, len(r.Changes))
	}
}

// TestScenarioBFlappingSuppression covers spec.md §8 scenario B: F,T,F,T,F
// (5 transitions) within 4 minutes with K=3,W=300s flags flapping after the
// 3rd transition and clears after a full stable window.
func TestScenarioBFlappingSuppression(t *testing.T) {
	params := FlapParams{K: 3, Window: 300 * time.Second}
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	r := Ring{}
	flapping := false
	transitionTimes := []time.Duration{0, 60 * time.Second, 120 * time.Second, 180 * time.Second, 240 * time.Second}

	for i, offset := range transitionTimes {
		now := base.Add(offset)
		r = r.Push(now)
		flapping = IsFlapping(r, now, flapping, params)
		if i == 2 && !flapping {
			t.Fatalf("expected flapping=true after 3rd transition at %v", now)
		}
	}
	if !flapping {
		t.Fatal("expected flapping=true after 5 transitions")
	}

	// After a full stable window with no further transitions, flapping clears.
	afterStable := base.Add(240*time.Second + params.Window + time.Second)
	flapping = IsFlapping(r, afterStable, flapping, params)
	if flapping {
		t.Fatal("expected flapping=false after one full stable window")
	}
}

// TestScenarioCISPLinkFlapK2 covers spec.md §8 scenario C: ISP flap config
// K=2 flags flapping from the 2nd transition on, so the scenario's 3
// transitions within 5m are flapping.
func TestScenarioCISPLinkFlapK2(t *testing.T) {
	params := FlapParams{K: 2, Window: 5 * time.Minute}
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	r := Ring{}
	r = r.Push(base)
	r = r.Push(base.Add(2 * time.Minute))
	r = r.Push(base.Add(4 * time.Minute))

	now := base.Add(4 * time.Minute)
	if !IsFlapping(r, now, false, params) {
		t.Fatal("expected ISP device with 3 transitions in 5m (K=2) to be flapping")
	}
}

func TestCountWithinExcludesOldEntries(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	r := Ring{}
	r = r.Push(base)
	r = r.Push(base.Add(10 * time.Minute))

	count := r.CountWithin(base.Add(10*time.Minute), 5*time.Minute)
	if count != 1 {
		t.Errorf("expected 1 entry within 5m window, got %d", count)
	}
}
