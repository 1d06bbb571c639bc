package store

import (
	"context"
	"testing"
	"time"

	"github.com/extkljajicm/branchwatch/internal/config"
)

// openTestStore opens a private in-memory SQLite database per test, named so
// concurrent tests in this package never share rows (glebarez/sqlite keeps a
// shared cache alive for the lifetime of the name, not just the connection).
func openTestStore(t *testing.T, name string) *Store {
	t.Helper()
	st, err := Open(config.DBConfig{
		Driver: "sqlite", DSN: "file:" + name + "?mode=memory&cache=shared",
		MaxOpenConns: 1, MaxIdleConns: 1,
	})
	if err != nil {
		t.Fatalf("failed to open test store: %v", err)
	}
	return st
}

func TestEnabledDevicesAndGetDevice(t *testing.T) {
	ctx := context.Background()
	st := openTestStore(t, "enabled_devices")

	up := Device{ID: "d1", IP: "10.0.0.1", Enabled: true, Reachability: ReachabilityUp}
	down := Device{ID: "d2", IP: "10.0.0.2", Enabled: false, Reachability: ReachabilityDown}
	if err := st.DB().Create(&up).Error; err != nil {
		t.Fatalf("seed d1: %v", err)
	}
	if err := st.DB().Create(&down).Error; err != nil {
		t.Fatalf("seed d2: %v", err)
	}

	devices, err := st.EnabledDevices(ctx)
	if err != nil {
		t.Fatalf("EnabledDevices: %v", err)
	}
	if len(devices) != 1 || devices[0].ID != "d1" {
		t.Fatalf("expected only d1 to be enabled, got %+v", devices)
	}

	ids, err := st.EnabledDeviceIDs(ctx)
	if err != nil {
		t.Fatalf("EnabledDeviceIDs: %v", err)
	}
	if len(ids) != 1 || ids[0] != "d1" {
		t.Fatalf("expected [d1], got %v", ids)
	}

	got, err := st.GetDevice(ctx, "d2")
	if err != nil {
		t.Fatalf("GetDevice: %v", err)
	}
	if got.IP != "10.0.0.2" {
		t.Errorf("unexpected device: %+v", got)
	}

	if _, err := st.GetDevice(ctx, "missing"); err != ErrNotFound {
		t.Errorf("expected ErrNotFound for missing device, got %v", err)
	}

	all, err := st.ListDevices(ctx)
	if err != nil {
		t.Fatalf("ListDevices: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("expected 2 devices total, got %d", len(all))
	}
}

func TestApplyPingObservationUpdatesLiveFields(t *testing.T) {
	ctx := context.Background()
	st := openTestStore(t, "ping_observation")

	device := Device{ID: "d1", IP: "10.0.0.1", Enabled: true, Reachability: ReachabilityUnknown}
	if err := st.DB().Create(&device).Error; err != nil {
		t.Fatalf("seed device: %v", err)
	}

	now := time.Now().UTC()
	obs := PingObservation{DeviceID: "d1", Reachable: true, RTTMs: 12.5, LossPct: 0, Now: now}
	if err := st.ApplyPingObservation(ctx, obs, ReachabilityUp, nil, "", false); err != nil {
		t.Fatalf("ApplyPingObservation: %v", err)
	}

	got, err := st.GetDevice(ctx, "d1")
	if err != nil {
		t.Fatalf("GetDevice: %v", err)
	}
	if got.Reachability != ReachabilityUp {
		t.Errorf("expected reachability up, got %s", got.Reachability)
	}
	if got.LastRTTMs == nil || *got.LastRTTMs != 12.5 {
		t.Errorf("expected last_rtt_ms 12.5, got %+v", got.LastRTTMs)
	}
	if got.DownSince != nil {
		t.Errorf("expected down_since cleared, got %v", got.DownSince)
	}
}

func TestUpsertInterfaceReportsChangeOnlyWhenOperStatusFlips(t *testing.T) {
	ctx := context.Background()
	st := openTestStore(t, "upsert_interface")

	now := time.Now().UTC()
	iface := DeviceInterface{ID: "if-1", DeviceID: "d1", IfIndex: 1, IfName: "Gi0/1", OperStatus: OperStatusUp, LastSeenAt: now}

	changed, err := st.UpsertInterface(ctx, iface)
	if err != nil {
		t.Fatalf("UpsertInterface (create): %v", err)
	}
	if !changed {
		t.Error("expected first-seen interface to report changed=true")
	}

	sameStatus := DeviceInterface{DeviceID: "d1", IfIndex: 1, IfName: "Gi0/1", OperStatus: OperStatusUp, LastSeenAt: now.Add(time.Minute)}
	changed, err = st.UpsertInterface(ctx, sameStatus)
	if err != nil {
		t.Fatalf("UpsertInterface (no-op update): %v", err)
	}
	if changed {
		t.Error("expected unchanged oper_status to report changed=false")
	}

	flipped := DeviceInterface{DeviceID: "d1", IfIndex: 1, IfName: "Gi0/1", OperStatus: OperStatusDown, LastSeenAt: now.Add(2 * time.Minute)}
	changed, err = st.UpsertInterface(ctx, flipped)
	if err != nil {
		t.Fatalf("UpsertInterface (flip): %v", err)
	}
	if !changed {
		t.Error("expected oper_status flip to report changed=true")
	}
}

func TestBulkISPStatus(t *testing.T) {
	ctx := context.Background()
	st := openTestStore(t, "bulk_isp_status")

	device := Device{ID: "d1", IP: "10.0.0.1", Enabled: true}
	if err := st.DB().Create(&device).Error; err != nil {
		t.Fatalf("seed device: %v", err)
	}
	provider := "Comcast"
	iface := DeviceInterface{ID: "if-1", DeviceID: "d1", IfIndex: 1, IfName: "wan0", InterfaceType: "isp", ISPProvider: &provider, OperStatus: OperStatusUp, LastSeenAt: time.Now().UTC()}
	if err := st.DB().Create(&iface).Error; err != nil {
		t.Fatalf("seed interface: %v", err)
	}
	other := DeviceInterface{ID: "if-2", DeviceID: "d1", IfIndex: 2, IfName: "Gi0/1", InterfaceType: "access", OperStatus: OperStatusUp, LastSeenAt: time.Now().UTC()}
	if err := st.DB().Create(&other).Error; err != nil {
		t.Fatalf("seed non-isp interface: %v", err)
	}

	rows, err := st.BulkISPStatus(ctx, []string{"10.0.0.1", "10.0.0.99"})
	if err != nil {
		t.Fatalf("BulkISPStatus: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("expected 1 isp row (non-isp interface and unknown IP excluded), got %d", len(rows))
	}
	if rows[0].DeviceIP != "10.0.0.1" || rows[0].ISPProvider == nil || *rows[0].ISPProvider != "Comcast" {
		t.Errorf("unexpected row: %+v", rows[0])
	}

	if rows, err := st.BulkISPStatus(ctx, nil); err != nil || rows != nil {
		t.Errorf("expected BulkISPStatus(nil) to short-circuit to (nil, nil), got (%v, %v)", rows, err)
	}
}

func TestScheduleStateSeedAndAdvance(t *testing.T) {
	ctx := context.Background()
	st := openTestStore(t, "schedule_state")

	fireAt, err := st.NextFireAt(ctx, "ping_sweep")
	if err != nil {
		t.Fatalf("NextFireAt (unseeded): %v", err)
	}
	if !fireAt.IsZero() {
		t.Errorf("expected zero time for an unseeded cadence, got %v", fireAt)
	}

	first := time.Now().UTC().Add(time.Minute)
	if err := st.AdvanceSchedule(ctx, "ping_sweep", first, "sweep-1"); err != nil {
		t.Fatalf("AdvanceSchedule (insert): %v", err)
	}
	got, err := st.NextFireAt(ctx, "ping_sweep")
	if err != nil {
		t.Fatalf("NextFireAt: %v", err)
	}
	if !got.Equal(first) {
		t.Errorf("expected %v, got %v", first, got)
	}

	second := first.Add(time.Minute)
	if err := st.AdvanceSchedule(ctx, "ping_sweep", second, "sweep-2"); err != nil {
		t.Fatalf("AdvanceSchedule (upsert): %v", err)
	}
	got, err = st.NextFireAt(ctx, "ping_sweep")
	if err != nil {
		t.Fatalf("NextFireAt after upsert: %v", err)
	}
	if !got.Equal(second) {
		t.Errorf("expected upsert to replace next_fire_at with %v, got %v", second, got)
	}
}

func TestAcquireSingletonLockIsNoOpOnSQLite(t *testing.T) {
	ctx := context.Background()
	st := openTestStore(t, "singleton_lock")

	locked, err := st.AcquireSingletonLock(ctx, 42)
	if err != nil {
		t.Fatalf("AcquireSingletonLock: %v", err)
	}
	if !locked {
		t.Error("expected sqlite driver to always report the lock as acquired")
	}
}

func TestOpenOrBumpProblemDedupesAndResolveIsIdempotent(t *testing.T) {
	ctx := context.Background()
	st := openTestStore(t, "open_or_bump_problem")

	now := time.Now().UTC()
	opened, first, err := st.OpenOrBumpProblem(ctx, ActiveProblem{
		ID: "p1", RuleID: "r1", DeviceID: "d1", Severity: "High", FirstTriggered: now, LastSeen: now,
	})
	if err != nil {
		t.Fatalf("OpenOrBumpProblem (first): %v", err)
	}
	if !opened {
		t.Fatal("expected first firing to open a new problem")
	}

	bumped, second, err := st.OpenOrBumpProblem(ctx, ActiveProblem{
		ID: "p2", RuleID: "r1", DeviceID: "d1", Severity: "High", FirstTriggered: now, LastSeen: now.Add(time.Minute),
	})
	if err != nil {
		t.Fatalf("OpenOrBumpProblem (repeat): %v", err)
	}
	if bumped {
		t.Error("expected repeat firing to bump the existing row, not open a new one")
	}
	if second.ID != first.ID || second.EventCount != 2 {
		t.Errorf("expected the existing row bumped to event_count 2, got %+v", second)
	}

	problems, err := st.ListActiveProblems(ctx, "", "")
	if err != nil {
		t.Fatalf("ListActiveProblems: %v", err)
	}
	if len(problems) != 1 {
		t.Fatalf("expected exactly 1 open problem, got %d", len(problems))
	}

	if err := st.ResolveProblem(ctx, first.ID, now.Add(2*time.Minute)); err != nil {
		t.Fatalf("ResolveProblem: %v", err)
	}
	if err := st.ResolveProblem(ctx, first.ID, now.Add(3*time.Minute)); err != nil {
		t.Fatalf("ResolveProblem (already resolved, should be a no-op): %v", err)
	}

	problems, err = st.ListActiveProblems(ctx, "", "")
	if err != nil {
		t.Fatalf("ListActiveProblems after resolve: %v", err)
	}
	if len(problems) != 0 {
		t.Fatalf("expected no open problems after resolve, got %d", len(problems))
	}
}

func TestActiveMaintenanceWindows(t *testing.T) {
	ctx := context.Background()
	st := openTestStore(t, "maintenance_windows")

	now := time.Now().UTC()
	active := MaintenanceWindow{ID: "w1", DeviceIDs: `["d1"]`, Start: now.Add(-time.Hour), End: now.Add(time.Hour)}
	expired := MaintenanceWindow{ID: "w2", DeviceIDs: `["d2"]`, Start: now.Add(-2 * time.Hour), End: now.Add(-time.Hour)}
	if err := st.DB().Create(&active).Error; err != nil {
		t.Fatalf("seed active window: %v", err)
	}
	if err := st.DB().Create(&expired).Error; err != nil {
		t.Fatalf("seed expired window: %v", err)
	}

	windows, err := st.ActiveMaintenanceWindows(ctx, now)
	if err != nil {
		t.Fatalf("ActiveMaintenanceWindows: %v", err)
	}
	if len(windows) != 1 || windows[0].ID != "w1" {
		t.Fatalf("expected only the active window, got %+v", windows)
	}
}

func TestStaleInterfaceIDs(t *testing.T) {
	ctx := context.Background()
	st := openTestStore(t, "stale_interfaces")

	now := time.Now().UTC()
	fresh := DeviceInterface{ID: "if-fresh", DeviceID: "d1", IfIndex: 1, LastSeenAt: now}
	stale := DeviceInterface{ID: "if-stale", DeviceID: "d1", IfIndex: 2, LastSeenAt: now.Add(-30 * 24 * time.Hour)}
	if err := st.DB().Create(&fresh).Error; err != nil {
		t.Fatalf("seed fresh interface: %v", err)
	}
	if err := st.DB().Create(&stale).Error; err != nil {
		t.Fatalf("seed stale interface: %v", err)
	}

	ids, err := st.StaleInterfaceIDs(ctx, now.Add(-7*24*time.Hour))
	if err != nil {
		t.Fatalf("StaleInterfaceIDs: %v", err)
	}
	if len(ids) != 1 || ids[0] != "if-stale" {
		t.Fatalf("expected only if-stale, got %v", ids)
	}
}
