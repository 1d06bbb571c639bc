package alerts

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/extkljajicm/branchwatch/internal/config"
	"github.com/extkljajicm/branchwatch/internal/store"
)

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	// One named in-memory database per test, so rows seeded by earlier tests
	// never show up in a later test's problem counts.
	st, err := store.Open(config.DBConfig{Driver: "sqlite", DSN: "file:" + t.Name() + "?mode=memory&cache=shared", MaxOpenConns: 1, MaxIdleConns: 1})
	if err != nil {
		t.Fatalf("failed to open test store: %v", err)
	}
	return st
}

func mustCondition(t *testing.T, c Condition) string {
	t.Helper()
	s, err := c.Encode()
	if err != nil {
		t.Fatalf("failed to encode condition: %v", err)
	}
	return s
}

func TestEngineOpensProblemOnDownDuration(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)

	downSince := time.Now().UTC().Add(-time.Minute)
	device := store.Device{ID: "dev-1", IP: "10.0.0.1", Enabled: true, Reachability: store.ReachabilityDown, DownSince: &downSince}
	if err := st.DB().Create(&device).Error; err != nil {
		t.Fatalf("failed to seed device: %v", err)
	}

	rule := store.AlertRule{
		ID: "rule-1", Name: "device down", Severity: "High", Scope: "all", Enabled: true,
		ConditionJSON: mustCondition(t, Condition{Kind: KindDownDuration, Secs: 10}),
	}
	if err := st.DB().Create(&rule).Error; err != nil {
		t.Fatalf("failed to seed rule: %v", err)
	}

	eng := New(st, nil, nil, Config{})
	eng.RunEval(ctx, "sweep-1")

	problems, err := st.ListActiveProblems(ctx, "", "")
	if err != nil {
		t.Fatalf("failed to list active problems: %v", err)
	}
	if len(problems) != 1 {
		t.Fatalf("expected 1 open problem, got %d", len(problems))
	}
	if problems[0].DeviceID != "dev-1" || problems[0].RuleID != "rule-1" {
		t.Errorf("unexpected problem: %+v", problems[0])
	}
}

func TestEngineResolvesProblemWhenConditionClears(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)

	downSince := time.Now().UTC().Add(-time.Minute)
	device := store.Device{ID: "dev-2", IP: "10.0.0.2", Enabled: true, Reachability: store.ReachabilityDown, DownSince: &downSince}
	if err := st.DB().Create(&device).Error; err != nil {
		t.Fatalf("failed to seed device: %v", err)
	}
	rule := store.AlertRule{
		ID: "rule-2", Name: "device down", Severity: "High", Scope: "all", Enabled: true,
		ConditionJSON: mustCondition(t, Condition{Kind: KindDownDuration, Secs: 10}),
	}
	if err := st.DB().Create(&rule).Error; err != nil {
		t.Fatalf("failed to seed rule: %v", err)
	}

	eng := New(st, nil, nil, Config{})
	eng.RunEval(ctx, "sweep-1")

	if err := st.DB().Model(&store.Device{}).Where("id = ?", "dev-2").Updates(map[string]interface{}{
		"reachability": store.ReachabilityUp, "down_since": nil,
	}).Error; err != nil {
		t.Fatalf("failed to flip device back up: %v", err)
	}

	eng.RunEval(ctx, "sweep-2")

	problems, err := st.ListActiveProblems(ctx, "", "")
	if err != nil {
		t.Fatalf("failed to list active problems: %v", err)
	}
	if len(problems) != 0 {
		t.Fatalf("expected problem to resolve once device recovered, got %d open", len(problems))
	}
}

func TestEngineRepeatFiringBumpsEventCountInsteadOfDuplicating(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)

	downSince := time.Now().UTC().Add(-time.Minute)
	device := store.Device{ID: "dev-3", IP: "10.0.0.3", Enabled: true, Reachability: store.ReachabilityDown, DownSince: &downSince}
	if err := st.DB().Create(&device).Error; err != nil {
		t.Fatalf("failed to seed device: %v", err)
	}
	rule := store.AlertRule{
		ID: "rule-3", Name: "device down", Severity: "High", Scope: "all", Enabled: true,
		ConditionJSON: mustCondition(t, Condition{Kind: KindDownDuration, Secs: 10}),
	}
	if err := st.DB().Create(&rule).Error; err != nil {
		t.Fatalf("failed to seed rule: %v", err)
	}

	eng := New(st, nil, nil, Config{})
	eng.RunEval(ctx, "sweep-1")
	eng.RunEval(ctx, "sweep-2")
	eng.RunEval(ctx, "sweep-3")

	problems, err := st.ListActiveProblems(ctx, "", "")
	if err != nil {
		t.Fatalf("failed to list active problems: %v", err)
	}
	if len(problems) != 1 {
		t.Fatalf("expected exactly 1 open problem across repeat firings, got %d", len(problems))
	}
	if problems[0].EventCount < 3 {
		t.Errorf("expected event_count to bump on repeat firings, got %d", problems[0].EventCount)
	}
}

func TestEngineSuppressesDuringMaintenanceWindow(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)

	downSince := time.Now().UTC().Add(-time.Minute)
	device := store.Device{ID: "dev-4", IP: "10.0.0.4", Enabled: true, Reachability: store.ReachabilityDown, DownSince: &downSince}
	if err := st.DB().Create(&device).Error; err != nil {
		t.Fatalf("failed to seed device: %v", err)
	}
	rule := store.AlertRule{
		ID: "rule-4", Name: "device down", Severity: "High", Scope: "all", Enabled: true,
		ConditionJSON: mustCondition(t, Condition{Kind: KindDownDuration, Secs: 10}),
	}
	if err := st.DB().Create(&rule).Error; err != nil {
		t.Fatalf("failed to seed rule: %v", err)
	}

	deviceIDs, _ := json.Marshal([]string{"dev-4"})
	window := store.MaintenanceWindow{
		ID: "win-1", DeviceIDs: string(deviceIDs),
		Start: time.Now().UTC().Add(-time.Hour), End: time.Now().UTC().Add(time.Hour),
	}
	if err := st.DB().Create(&window).Error; err != nil {
		t.Fatalf("failed to seed maintenance window: %v", err)
	}

	eng := New(st, nil, nil, Config{})
	eng.RunEval(ctx, "sweep-1")

	problems, err := st.ListActiveProblems(ctx, "", "")
	if err != nil {
		t.Fatalf("failed to list active problems: %v", err)
	}
	if len(problems) != 1 {
		t.Fatalf("expected the problem to still open (and be marked suppressed), got %d", len(problems))
	}
	if !problems[0].Suppressed {
		t.Error("expected problem to be marked suppressed during an active maintenance window")
	}
}

func TestEngineEscalatesISPRouterToCritical(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)

	downSince := time.Now().UTC().Add(-time.Minute)
	device := store.Device{ID: "dev-5", IP: "10.0.0.5", Enabled: true, Reachability: store.ReachabilityDown, DownSince: &downSince, IsISPRouter: true}
	if err := st.DB().Create(&device).Error; err != nil {
		t.Fatalf("failed to seed device: %v", err)
	}
	rule := store.AlertRule{
		ID: "rule-5", Name: "isp down", Severity: "Medium", Scope: "all", Enabled: true,
		ConditionJSON: mustCondition(t, Condition{Kind: KindScopeISP, Inner: &Condition{Kind: KindDownDuration, Secs: 10}}),
	}
	if err := st.DB().Create(&rule).Error; err != nil {
		t.Fatalf("failed to seed rule: %v", err)
	}

	eng := New(st, nil, nil, Config{})
	eng.RunEval(ctx, "sweep-1")

	problems, err := st.ListActiveProblems(ctx, "", "")
	if err != nil {
		t.Fatalf("failed to list active problems: %v", err)
	}
	if len(problems) != 1 {
		t.Fatalf("expected 1 open problem, got %d", len(problems))
	}
	if problems[0].Severity != "Critical" {
		t.Errorf("expected ISP-scoped rule to escalate severity to Critical, got %q", problems[0].Severity)
	}
}

func TestEngineSuppressesPerOccurrenceAlertsWhileFlapping(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)

	downSince := time.Now().UTC().Add(-time.Minute)
	device := store.Device{
		ID: "dev-6", IP: "10.0.0.6", Enabled: true,
		Reachability: store.ReachabilityDown, DownSince: &downSince, IsFlapping: true,
	}
	if err := st.DB().Create(&device).Error; err != nil {
		t.Fatalf("failed to seed device: %v", err)
	}

	rule := store.AlertRule{
		ID: "rule-6", Name: "device down", Severity: "High", Scope: "all", Enabled: true,
		ConditionJSON: mustCondition(t, Condition{Kind: KindDownDuration, Secs: 10}),
	}
	if err := st.DB().Create(&rule).Error; err != nil {
		t.Fatalf("failed to seed rule: %v", err)
	}

	eng := New(st, nil, nil, Config{})
	eng.RunEval(ctx, "sweep-1")

	problems, err := st.ListActiveProblems(ctx, "", "")
	if err != nil {
		t.Fatalf("failed to list active problems: %v", err)
	}
	if len(problems) != 1 {
		t.Fatalf("expected exactly 1 open problem (the synthetic flapping problem), got %d", len(problems))
	}
	if problems[0].RuleID != flappingRuleID {
		t.Errorf("expected the per-occurrence down-duration rule to be suppressed while flapping, got an open problem for rule %q", problems[0].RuleID)
	}
	if !problems[0].Flapping {
		t.Error("expected the flapping problem to carry Flapping=true")
	}
}

func TestEngineFlappingProblemEscalatesToCriticalForISPRouter(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)

	device := store.Device{
		ID: "dev-7", IP: "10.0.0.7", Enabled: true,
		Reachability: store.ReachabilityUp, IsFlapping: true, IsISPRouter: true,
	}
	if err := st.DB().Create(&device).Error; err != nil {
		t.Fatalf("failed to seed device: %v", err)
	}

	eng := New(st, nil, nil, Config{})
	eng.RunEval(ctx, "sweep-1")

	problems, err := st.ListActiveProblems(ctx, "", "")
	if err != nil {
		t.Fatalf("failed to list active problems: %v", err)
	}
	if len(problems) != 1 {
		t.Fatalf("expected 1 open flapping problem even with zero configured rules, got %d", len(problems))
	}
	if problems[0].RuleID != flappingRuleID {
		t.Errorf("expected the synthetic flapping rule id, got %q", problems[0].RuleID)
	}
	if problems[0].Severity != "Critical" {
		t.Errorf("expected ISP-router flapping to escalate to Critical, got %q", problems[0].Severity)
	}
}

func TestEngineRuleConfiguredFlapConditionIsNotDuplicatedBySynthetic(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)

	device := store.Device{ID: "dev-8", IP: "10.0.0.8", Enabled: true, Reachability: store.ReachabilityUp, IsFlapping: true}
	if err := st.DB().Create(&device).Error; err != nil {
		t.Fatalf("failed to seed device: %v", err)
	}
	rule := store.AlertRule{
		ID: "rule-flap", Name: "device flapping", Severity: "Medium", Scope: "all", Enabled: true,
		ConditionJSON: mustCondition(t, Condition{Kind: KindStatusChanges, K: 0, WindowSecs: 300}),
	}
	if err := st.DB().Create(&rule).Error; err != nil {
		t.Fatalf("failed to seed rule: %v", err)
	}

	eng := New(st, nil, nil, Config{})
	eng.RunEval(ctx, "sweep-1")

	problems, err := st.ListActiveProblems(ctx, "", "")
	if err != nil {
		t.Fatalf("failed to list active problems: %v", err)
	}
	if len(problems) != 1 {
		t.Fatalf("expected exactly 1 open flapping problem, got %d", len(problems))
	}
	if problems[0].RuleID != "rule-flap" {
		t.Errorf("expected the configured flap rule to own the problem (no synthetic duplicate), got rule %q", problems[0].RuleID)
	}
}

func TestEngineDependencySuppression(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)

	downSince := time.Now().UTC().Add(-time.Minute)
	parent := store.Device{ID: "parent-1", IP: "10.0.1.1", Enabled: true, Reachability: store.ReachabilityDown, DownSince: &downSince}
	child := store.Device{ID: "child-1", IP: "10.0.1.2", Enabled: true, Reachability: store.ReachabilityDown, DownSince: &downSince}
	if err := st.DB().Create(&parent).Error; err != nil {
		t.Fatalf("failed to seed parent device: %v", err)
	}
	if err := st.DB().Create(&child).Error; err != nil {
		t.Fatalf("failed to seed child device: %v", err)
	}

	parentRuleID := "rule-parent"
	parentRule := store.AlertRule{
		ID: parentRuleID, Name: "parent down", Severity: "High", Scope: "all", Enabled: true,
		ConditionJSON: mustCondition(t, Condition{Kind: KindDownDuration, Secs: 10}),
	}
	childRule := store.AlertRule{
		ID: "rule-child", Name: "child down", Severity: "High", Scope: "all", Enabled: true,
		ParentRuleID:  &parentRuleID,
		ConditionJSON: mustCondition(t, Condition{Kind: KindDownDuration, Secs: 10}),
	}
	if err := st.DB().Create(&parentRule).Error; err != nil {
		t.Fatalf("failed to seed parent rule: %v", err)
	}
	if err := st.DB().Create(&childRule).Error; err != nil {
		t.Fatalf("failed to seed child rule: %v", err)
	}

	eng := New(st, nil, nil, Config{})
	eng.RunEval(ctx, "sweep-1")

	var childProblem store.ActiveProblem
	if err := st.DB().Where("rule_id = ? AND device_id = ?", "rule-child", "child-1").First(&childProblem).Error; err != nil {
		t.Fatalf("expected child problem to still be recorded (not alerted): %v", err)
	}
	if !childProblem.Suppressed {
		t.Error("expected child rule problem to be suppressed while its parent rule fires on the same device")
	}
}
