package registry

import (
	"context"
	"testing"

	"github.com/extkljajicm/branchwatch/internal/config"
	"github.com/extkljajicm/branchwatch/internal/store"
)

func openTestStore(t *testing.T, name string) *store.Store {
	t.Helper()
	st, err := store.Open(config.DBConfig{
		Driver: "sqlite", DSN: "file:" + name + "?mode=memory&cache=shared",
		MaxOpenConns: 1, MaxIdleConns: 1,
	})
	if err != nil {
		t.Fatalf("failed to open test store: %v", err)
	}
	return st
}

func TestSeedWithNoNetworksIsANoOp(t *testing.T) {
	st := openTestStore(t, "registry_empty")
	sd := New(st, Config{})

	res, err := sd.Seed(context.Background())
	if err != nil {
		t.Fatalf("Seed: %v", err)
	}
	if res.Scanned != 0 || res.Responded != 0 || res.Created != 0 {
		t.Errorf("expected an empty result for no configured networks, got %+v", res)
	}
}

func TestSeedNeverOverwritesAnExistingDevice(t *testing.T) {
	ctx := context.Background()
	st := openTestStore(t, "registry_existing")

	// Operator already registered and enabled this IP with a real name; a
	// later discovery sweep must not clobber it.
	existing := store.Device{ID: "d1", IP: "10.0.0.1", Name: "core-switch-1", Enabled: true, Classification: "switch"}
	if err := st.DB().Create(&existing).Error; err != nil {
		t.Fatalf("seed existing device: %v", err)
	}

	created, err := st.SeedDevice(ctx, store.Device{ID: "new-id", IP: "10.0.0.1", Enabled: false})
	if err != nil {
		t.Fatalf("SeedDevice: %v", err)
	}
	if created {
		t.Error("expected SeedDevice to report created=false for an already-registered IP")
	}

	got, err := st.GetDevice(ctx, "d1")
	if err != nil {
		t.Fatalf("GetDevice: %v", err)
	}
	if got.Name != "core-switch-1" || !got.Enabled || got.Classification != "switch" {
		t.Errorf("expected the operator-set fields to survive untouched, got %+v", got)
	}

	all, err := st.ListDevices(ctx)
	if err != nil {
		t.Fatalf("ListDevices: %v", err)
	}
	if len(all) != 1 {
		t.Fatalf("expected no second row to be created, got %d devices", len(all))
	}
}

func TestSeedDeviceCreatesDisabledByDefault(t *testing.T) {
	ctx := context.Background()
	st := openTestStore(t, "registry_new")

	created, err := st.SeedDevice(ctx, store.Device{ID: "d2", IP: "10.0.0.2", Enabled: false, Reachability: store.ReachabilityUnknown})
	if err != nil {
		t.Fatalf("SeedDevice: %v", err)
	}
	if !created {
		t.Fatal("expected SeedDevice to create a row for a new IP")
	}

	got, err := st.GetDevice(ctx, "d2")
	if err != nil {
		t.Fatalf("GetDevice: %v", err)
	}
	if got.Enabled {
		t.Error("expected a freshly-discovered device to be created disabled, awaiting operator enablement")
	}
}
