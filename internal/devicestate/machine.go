// Package devicestate implements the device reachability state machine and
// flap detector as pure functions over a snapshot, per spec.md §4.2 and the
// Markovian law in spec.md §8: next state depends only on (prior state,
// observed reachable) and the flap ring, never on wall-clock path history.
package devicestate

import "time"

// State is the reachability state of a device.
type State string

const (
	StateUp   State = "up"
	StateDown State = "down"
)

// Event is emitted on a state transition so callers can fan it out to the
// alert engine and change notifier.
type Event int

const (
	EventNone Event = iota
	EventDeviceDown
	EventDeviceUp
)

// Snapshot is the subset of device state the transition function needs.
type Snapshot struct {
	State     State
	DownSince *time.Time
}

// Result is the snapshot's next state plus the event to emit.
type Result struct {
	State     State
	DownSince *time.Time
	Event     Event
	// Downtime is populated only on a Down->Up transition.
	Downtime time.Duration
}

// Transition implements the table from spec.md §4.2 exactly:
//
//	P=Up,   R=true  -> Up   (no event)
//	P=Up,   R=false -> Down (set down_since=now, emit DeviceDown)
//	P=Down, R=false -> Down (down_since unchanged, no event)
//	P=Down, R=true  -> Up   (clear down_since, emit DeviceUp(downtime))
//
// now MUST be a UTC-aware instant; down_since is always stored and compared
// in UTC (spec.md §9 bans timezone-naive arithmetic).
func Transition(prior Snapshot, reachable bool, now time.Time) Result {
	now = now.UTC()
	switch prior.State {
	case StateUp:
		if reachable {
			return Result{State: StateUp, DownSince: nil, Event: EventNone}
		}
		downSince := now
		return Result{State: StateDown, DownSince: &downSince, Event: EventDeviceDown}
	case StateDown:
		if !reachable {
			return Result{State: StateDown, DownSince: prior.DownSince, Event: EventNone}
		}
		var downtime time.Duration
		if prior.DownSince != nil {
			downtime = now.Sub(prior.DownSince.UTC())
		}
		return Result{State: StateUp, DownSince: nil, Event: EventDeviceUp, Downtime: downtime}
	default:
		// Unknown prior state is treated like Up with no history: a
		// negative probe still opens Down cleanly.
		if reachable {
			return Result{State: StateUp, DownSince: nil, Event: EventNone}
		}
		downSince := now
		return Result{State: StateDown, DownSince: &downSince, Event: EventDeviceDown}
	}
}
