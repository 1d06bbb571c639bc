package devicestate

import (
	"testing"
	"time"
)

func TestTransitionTable(t *testing.T) {
	base := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name          string
		prior         Snapshot
		reachable     bool
		wantState     State
		wantDownSince bool
		wantEvent     Event
	}{
		{"up stays up", Snapshot{State: StateUp}, true, StateUp, false, EventNone},
		{"up to down", Snapshot{State: StateUp}, false, StateDown, true, EventDeviceDown},
		{"down stays down", Snapshot{State: StateDown, DownSince: &base}, false, StateDown, true, EventNone},
		{"down to up", Snapshot{State: StateDown, DownSince: &base}, true, StateUp, false, EventDeviceUp},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := Transition(tt.prior, tt.reachable, base.Add(time.Minute))
			if res.State != tt.wantState {
				t.Errorf("state = %v, want %v", res.State, tt.wantState)
			}
			if (res.DownSince != nil) != tt.wantDownSince {
				t.Errorf("down_since set = %v, want %v", res.DownSince != nil, tt.wantDownSince)
			}
			if res.Event != tt.wantEvent {
				t.Errorf("event = %v, want %v", res.Event, tt.wantEvent)
			}
		})
	}
}

// TestInvariantReachabilityImpliesDownSince covers spec.md §8 invariant 1:
// reachability=Down iff down_since != nil.
func TestInvariantReachabilityImpliesDownSince(t *testing.T) {
	now := time.Now().UTC()
	res := Transition(Snapshot{State: StateUp}, false, now)
	if res.State == StateDown && res.DownSince == nil {
		t.Fatal("Down state must have down_since set")
	}
	res2 := Transition(Snapshot{State: StateDown, DownSince: &now}, true, now.Add(time.Second))
	if res2.State == StateUp && res2.DownSince != nil {
		t.Fatal("Up state must have down_since cleared")
	}
}

// TestDownSinceSetOnce covers spec.md §8 invariant 2: down_since is set
// exactly once on Up->Down and cleared exactly once on Down->Up.
func TestDownSinceSetOnce(t *testing.T) {
	t0 := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	down := Transition(Snapshot{State: StateUp}, false, t0)
	if down.DownSince == nil || !down.DownSince.Equal(t0) {
		t.Fatalf("expected down_since=%v, got %v", t0, down.DownSince)
	}

	t1 := t0.Add(30 * time.Second)
	stillDown := Transition(Snapshot{State: StateDown, DownSince: down.DownSince}, false, t1)
	if stillDown.DownSince == nil || !stillDown.DownSince.Equal(t0) {
		t.Fatalf("down_since must stay equal while still down, got %v", stillDown.DownSince)
	}

	t2 := t1.Add(time.Minute)
	up := Transition(Snapshot{State: StateDown, DownSince: stillDown.DownSince}, true, t2)
	if up.DownSince != nil {
		t.Fatalf("down_since must be cleared, got %v", up.DownSince)
	}
	wantDowntime := t2.Sub(t0)
	if up.Downtime != wantDowntime {
		t.Errorf("downtime = %v, want %v", up.Downtime, wantDowntime)
	}
}

// TestBoundaryReachableWithPartialLoss covers spec.md §8: ping_count=2, one
// packet received is reachable with loss=50%.
func TestBoundaryReachableWithPartialLoss(t *testing.T) {
	sent, received := 2, 1
	reachable := received >= 1
	lossPct := float64(sent-received) / float64(sent)
	if !reachable {
		t.Fatal("expected reachable=true with 1 of 2 packets received")
	}
	if lossPct != 0.5 {
		t.Errorf("loss_pct = %v, want 0.5", lossPct)
	}
}

func TestScenarioANormalDownUpCycle(t *testing.T) {
	t0 := time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC)
	down := Transition(Snapshot{State: StateUp}, false, t0)
	if down.State != StateDown || down.Event != EventDeviceDown {
		t.Fatalf("expected Down + DeviceDown event, got %v/%v", down.State, down.Event)
	}
	if down.DownSince == nil || !down.DownSince.Equal(t0) {
		t.Fatalf("down_since should equal t0, got %v", down.DownSince)
	}

	t120 := t0.Add(120 * time.Second)
	up := Transition(Snapshot{State: StateDown, DownSince: down.DownSince}, true, t120)
	if up.State != StateUp || up.Event != EventDeviceUp {
		t.Fatalf("expected Up + DeviceUp event, got %v/%v", up.State, up.Event)
	}
	if up.DownSince != nil {
		t.Fatal("down_since should be cleared on recovery")
	}
	if up.Downtime != 120*time.Second {
		t.Errorf("downtime = %v, want 120s", up.Downtime)
	}
}
