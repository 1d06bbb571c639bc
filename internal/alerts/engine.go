package alerts

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/extkljajicm/branchwatch/internal/devicestate"
	"github.com/extkljajicm/branchwatch/internal/events"
	"github.com/extkljajicm/branchwatch/internal/metrics"
	"github.com/extkljajicm/branchwatch/internal/store"
	"github.com/extkljajicm/branchwatch/internal/timeseries"
)

// Reader is the subset of timeseries.Reader the engine needs, so tests can
// supply a fake instead of a live InfluxDB connection.
type Reader interface {
	RecentSamples(ctx context.Context, ips []string, n int, lookback time.Duration) (map[string][]timeseries.Sample, error)
}

// Config tunes the batched time-series pull the engine does once per tick
// (spec.md §4.6: "a single batched time-series query").
type Config struct {
	Samples  int
	Lookback time.Duration
}

// Engine evaluates every enabled alert rule against the current device set
// on the alert_eval cadence (spec.md §4.6).
type Engine struct {
	store *store.Store
	ts    Reader
	bus   *events.Bus
	cfg   Config
	met   *metrics.Metrics
}

// SetMetrics attaches the shared metrics registry; nil-safe if never called.
func (e *Engine) SetMetrics(m *metrics.Metrics) { e.met = m }

// New constructs an Engine. ts may be nil if no time-series backend is
// configured; response_time/packet_loss conditions then never fire.
func New(st *store.Store, ts Reader, bus *events.Bus, cfg Config) *Engine {
	if cfg.Samples <= 0 {
		cfg.Samples = 5
	}
	if cfg.Lookback <= 0 {
		cfg.Lookback = 10 * time.Minute
	}
	return &Engine{store: st, ts: ts, bus: bus, cfg: cfg}
}

// flappingRuleID is the synthetic rule id for the engine-managed "Flapping"
// problem (spec.md §4.2/§8 scenario B). It is not authored via alert_rules,
// so active_problems/alert_history reference it by this well-known string
// rather than a row in that table.
const flappingRuleID = "system:flapping"

// flappingPseudoRule is the rule value fire() uses to open the synthetic
// Flapping problem when no configured rule's condition already covers it.
// Severity follows the same default/ISP-escalation pattern as any other
// rule (fire() bumps it to Critical when the device is an ISP router).
func flappingPseudoRule() store.AlertRule {
	return store.AlertRule{ID: flappingRuleID, Name: "Device Flapping", Severity: "High", Scope: "all"}
}

// firingKey identifies one (rule, device) evaluation; all conditions in this
// engine are device-granular (spec.md §4.6's primitives are device/ISP
// scoped, none are per-interface), so ActiveProblem.InterfaceID stays nil.
type firingKey struct {
	ruleID   string
	deviceID string
}

// firingHit is a (rule, device) pair whose condition evaluated true this
// tick, carried from pass 1 (evaluate) to pass 2 (act) of RunEval.
type firingHit struct {
	rule store.AlertRule
	dev  store.Device
	snap Snapshot
}

// RunEval is the alert_eval cadence entrypoint. It pulls the current-state
// slice and one batched time-series query, evaluates every enabled rule in
// memory, and reconciles active_problems to match (spec.md §4.6 algorithm).
func (e *Engine) RunEval(ctx context.Context, sweepID string) {
	start := time.Now()
	if e.met != nil {
		defer func() { e.met.ObserveAlertEvalDuration(time.Since(start).Seconds()) }()
	}
	now := time.Now().UTC()

	rules, err := e.store.ListEnabledRules(ctx)
	if err != nil {
		log.Error().Err(err).Str("sweep_id", sweepID).Msg("alert eval: failed to list rules")
		return
	}

	devices, err := e.store.EnabledDevices(ctx)
	if err != nil {
		log.Error().Err(err).Str("sweep_id", sweepID).Msg("alert eval: failed to list devices")
		return
	}
	devicesByID := make(map[string]store.Device, len(devices))
	for _, d := range devices {
		devicesByID[d.ID] = d
	}

	samples := e.pullSamples(ctx, devices)
	maintained := e.maintainedDeviceSet(ctx, now)
	openProblems, err := e.store.ListActiveProblems(ctx, "", "")
	if err != nil {
		log.Error().Err(err).Str("sweep_id", sweepID).Msg("alert eval: failed to list active problems")
		return
	}
	openByRuleDevice := make(map[firingKey]store.ActiveProblem, len(openProblems))
	for _, p := range openProblems {
		openByRuleDevice[firingKey{ruleID: p.RuleID, deviceID: p.DeviceID}] = p
	}

	// Pass 1: evaluate every rule against every in-scope device and collect
	// the full firing set before writing anything, so dependency suppression
	// (which may reference a rule evaluated later in `rules`) sees the
	// complete picture regardless of rule order. A flapping device (spec.md
	// §4.2/§8 scenario B) suppresses creation of every non-flapping rule's
	// occurrence alert: it is skipped here entirely, so pass 2 resolves any
	// such problem that was already open before the device started flapping.
	firing := make(map[firingKey]firingHit)
	flapHandled := make(map[string]bool, len(devices)) // deviceID -> a flap-kind rule already fired for it

	for _, rule := range rules {
		cond, err := ParseCondition(rule.ConditionJSON)
		if err != nil {
			log.Error().Err(err).Str("rule_id", rule.ID).Msg("alert eval: rule has invalid condition, skipping")
			continue
		}
		flapRule := isFlapCondition(cond)
		for _, d := range e.scopedDevices(rule, devices) {
			if d.IsFlapping && !flapRule {
				continue
			}
			snap := e.buildSnapshot(d, now, samples[d.IP])
			if !Evaluate(cond, snap) {
				continue
			}
			firing[firingKey{ruleID: rule.ID, deviceID: d.ID}] = firingHit{rule: rule, dev: d, snap: snap}
			if flapRule {
				flapHandled[d.ID] = true
			}
		}
	}

	// Every flapping device gets exactly one open "Flapping" problem,
	// regardless of whether an operator has configured a status_changes
	// rule for it: if one already fired above, it's already in `firing`;
	// otherwise synthesize one under flappingRuleID (spec.md §4.2 scenario B
	// and C: "emit a single flapping problem if not already open").
	for _, d := range devices {
		if !d.IsFlapping || flapHandled[d.ID] {
			continue
		}
		key := firingKey{ruleID: flappingRuleID, deviceID: d.ID}
		firing[key] = firingHit{rule: flappingPseudoRule(), dev: d, snap: e.buildSnapshot(d, now, samples[d.IP])}
	}

	// Pass 2: open/bump a problem for everything firing, resolve everything
	// that stopped firing.
	for _, hit := range firing {
		e.fire(ctx, hit.rule, hit.dev, hit.snap, maintained, devicesByID, firing, now)
	}

	for key, p := range openByRuleDevice {
		if _, ok := firing[key]; ok {
			continue
		}
		if err := e.store.ResolveProblem(ctx, p.ID, now); err != nil {
			log.Error().Err(err).Str("problem_id", p.ID).Msg("alert eval: failed to resolve problem")
			continue
		}
		if err := e.store.AppendHistory(ctx, store.AlertHistory{
			ID: uuid.NewString(), RuleID: p.RuleID, DeviceID: p.DeviceID, InterfaceID: p.InterfaceID,
			Severity: p.Severity, Event: "resolved", TriggeredAt: p.FirstTriggered, ResolvedAt: &now,
		}); err != nil {
			log.Error().Err(err).Str("problem_id", p.ID).Msg("alert eval: failed to append resolve history")
		}
		if e.bus != nil {
			e.bus.PublishProblem(events.ProblemChanged{ProblemID: p.ID, DeviceID: p.DeviceID, Event: "resolved", Timestamp: now})
		}
	}
}

func (e *Engine) fire(ctx context.Context, rule store.AlertRule, d store.Device, snap Snapshot, maintained map[string]bool, devicesByID map[string]store.Device, firing map[firingKey]firingHit, now time.Time) {
	severity := rule.Severity
	if snap.IsISPRouter {
		severity = "Critical"
	}
	suppressed := maintained[d.ID] || e.parentFiring(rule, d, devicesByID, firing)

	opened, result, err := e.store.OpenOrBumpProblem(ctx, store.ActiveProblem{
		ID: uuid.NewString(), RuleID: rule.ID, DeviceID: d.ID,
		Severity: severity, FirstTriggered: now, LastSeen: now,
		Suppressed: suppressed, Flapping: d.IsFlapping,
	})
	if err != nil {
		log.Error().Err(err).Str("rule_id", rule.ID).Str("device_id", d.ID).Msg("alert eval: failed to open/bump problem")
		return
	}
	if !opened {
		return
	}
	if err := e.store.AppendHistory(ctx, store.AlertHistory{
		ID: uuid.NewString(), RuleID: rule.ID, DeviceID: d.ID,
		Severity: severity, Event: "opened", TriggeredAt: now,
	}); err != nil {
		log.Error().Err(err).Str("problem_id", result.ID).Msg("alert eval: failed to append open history")
	}
	if e.bus != nil {
		e.bus.PublishProblem(events.ProblemChanged{ProblemID: result.ID, DeviceID: d.ID, Event: "opened", Timestamp: now})
	}
}

// parentFiring implements dependency suppression (spec.md §4.6): a rule
// naming a parent rule or parent device is suppressed while that parent is
// currently firing anywhere in the fleet — not just on the same device,
// since a dependency edge typically spans two different devices (e.g. an
// access switch's uplink rule suppressing every device behind it). It checks
// the current tick's firing set rather than already-open problems, so a
// parent that first fires in this very tick still suppresses a child
// evaluated later in the same RunEval call.
func (e *Engine) parentFiring(rule store.AlertRule, d store.Device, devicesByID map[string]store.Device, firing map[firingKey]firingHit) bool {
	if rule.ParentDeviceID != nil {
		if parent, ok := devicesByID[*rule.ParentDeviceID]; ok && parent.Reachability == store.ReachabilityDown {
			return true
		}
	}
	if rule.ParentRuleID != nil {
		for key := range firing {
			if key.ruleID == *rule.ParentRuleID {
				return true
			}
		}
	}
	return false
}

// maintainedDeviceSet expands every active maintenance window's device list
// into a lookup set (spec.md §4.6).
func (e *Engine) maintainedDeviceSet(ctx context.Context, now time.Time) map[string]bool {
	windows, err := e.store.ActiveMaintenanceWindows(ctx, now)
	if err != nil {
		log.Error().Err(err).Msg("alert eval: failed to load maintenance windows")
		return nil
	}
	set := make(map[string]bool)
	for _, w := range windows {
		var ids []string
		if err := json.Unmarshal([]byte(w.DeviceIDs), &ids); err != nil {
			log.Warn().Str("window_id", w.ID).Err(err).Msg("alert eval: malformed maintenance window device list")
			continue
		}
		for _, id := range ids {
			set[id] = true
		}
	}
	return set
}

// scopedDevices filters devices eligible for a rule's Scope
// ("all"|"isp_interfaces"|"device_class"), independent of its Condition.
func (e *Engine) scopedDevices(rule store.AlertRule, devices []store.Device) []store.Device {
	switch rule.Scope {
	case "isp_interfaces":
		out := make([]store.Device, 0, len(devices))
		for _, d := range devices {
			if d.IsISPRouter {
				out = append(out, d)
			}
		}
		return out
	case "device_class":
		out := make([]store.Device, 0, len(devices))
		for _, d := range devices {
			if d.Classification == rule.ScopeArg {
				out = append(out, d)
			}
		}
		return out
	default:
		return devices
	}
}

func (e *Engine) buildSnapshot(d store.Device, now time.Time, samples []timeseries.Sample) Snapshot {
	ring := devicestate.DecodeRing(d.StatusChangeRing)

	rtts := make([]float64, 0, len(samples))
	loss := make([]float64, 0, len(samples))
	for _, s := range samples {
		rtts = append(rtts, s.RTTMs)
		loss = append(loss, s.LossPct)
	}

	return Snapshot{
		Now:           now,
		Reachable:     d.Reachability == store.ReachabilityUp,
		DownSince:     d.DownSince,
		StatusRing:    ring,
		IsISPRouter:   d.IsISPRouter,
		RecentRTTMs:   rtts,
		RecentLossPct: loss,
	}
}

func (e *Engine) pullSamples(ctx context.Context, devices []store.Device) map[string][]timeseries.Sample {
	if e.ts == nil || len(devices) == 0 {
		return nil
	}
	ips := make([]string, 0, len(devices))
	for _, d := range devices {
		ips = append(ips, d.IP)
	}
	samples, err := e.ts.RecentSamples(ctx, ips, e.cfg.Samples, e.cfg.Lookback)
	if err != nil {
		log.Error().Err(err).Msg("alert eval: failed to pull recent time-series samples, response_time/packet_loss conditions degrade to false")
		return nil
	}
	return samples
}
