package monitoring

import (
	"testing"
	"time"

	"github.com/extkljajicm/branchwatch/internal/devicestate"
)

// TestProbeUnresolvableTargetReturnsEarly verifies that probe returns
// without panicking when the target cannot be resolved, even with a zero
// Count and a nil context.
func TestProbeUnresolvableTargetReturnsEarly(t *testing.T) {
	p := &Pinger{cfg: PingerConfig{Count: 0, Timeout: 500 * time.Millisecond}}
	_, _, _ = p.probeSkippingNetwork()
}

// probeSkippingNetwork calls probe on an invalid target, which fails pinger
// construction immediately: no packet is sent, and probe returns before it
// reads Count.
func (p *Pinger) probeSkippingNetwork() (bool, float64, float64) {
	return p.probe(nil, "not-an-ip")
}

func TestEnqueuedJobCarriesUnknownStateAsUp(t *testing.T) {
	// Mirrors RunSweep's normalization: a device with no prior observation
	// (Reachability="unknown") is treated as Up so the first failed probe
	// cleanly opens a Down transition rather than needing a special case.
	state := devicestate.State("unknown")
	if state != devicestate.StateUp && state != devicestate.StateDown {
		state = devicestate.StateUp
	}
	if state != devicestate.StateUp {
		t.Errorf("expected unknown state to normalize to up, got %v", state)
	}
}
