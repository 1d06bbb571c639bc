package config

import (
	"os"
	"testing"
	"time"
)

const validConfigYAML = `
networks:
  - "192.168.1.0/24"
icmp_workers: 64
snmp_workers: 16
ping_interval: "10s"
ping_timeout: "1s"
snmp:
  community: "test-community-123"
  port: 161
  timeout: "5s"
  retries: 2
influxdb:
  url: "http://localhost:8086"
  token: "test-token"
  org: "test-org"
  bucket: "test-bucket"
db:
  driver: "sqlite"
  dsn: "test.db"
`

func writeTempConfig(t *testing.T, yaml string) string {
	t.Helper()
	f, err := os.CreateTemp("", "config_test_*.yml")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := f.WriteString(yaml); err != nil {
		t.Fatal(err)
	}
	f.Close()
	t.Cleanup(func() { os.Remove(f.Name()) })
	return f.Name()
}

func TestLoadConfigValid(t *testing.T) {
	path := writeTempConfig(t, validConfigYAML)
	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if len(cfg.Networks) != 1 || cfg.Networks[0] != "192.168.1.0/24" {
		t.Errorf("networks not parsed correctly: %v", cfg.Networks)
	}
	if cfg.PingInterval != 10*time.Second {
		t.Errorf("expected ping_interval 10s, got %v", cfg.PingInterval)
	}
}

func TestLoadConfigInvalidYAML(t *testing.T) {
	path := writeTempConfig(t, "not: valid: yaml: at: all:")
	if _, err := LoadConfig(path); err == nil {
		t.Error("expected error for invalid yaml")
	}
}

// TestLoadConfigDefaults verifies spec.md §6's default cadence values apply
// when the YAML omits them.
func TestLoadConfigDefaults(t *testing.T) {
	path := writeTempConfig(t, validConfigYAML)
	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("failed to load config: %v", err)
	}

	if cfg.SNMPInterval != 60*time.Second {
		t.Errorf("expected snmp_interval default 60s, got %v", cfg.SNMPInterval)
	}
	if cfg.AlertEvalInterval != 10*time.Second {
		t.Errorf("expected alert_eval_interval default 10s, got %v", cfg.AlertEvalInterval)
	}
	if cfg.InterfaceMetricsInterval != 60*time.Second {
		t.Errorf("expected interface_metrics_interval default 60s, got %v", cfg.InterfaceMetricsInterval)
	}
	if cfg.BatchSize != 100 {
		t.Errorf("expected batch_size default 100, got %d", cfg.BatchSize)
	}
	if cfg.FlapK != 3 {
		t.Errorf("expected flap_k default 3, got %d", cfg.FlapK)
	}
	if cfg.ISPFlapK != 2 {
		t.Errorf("expected isp_flap_k default 2, got %d", cfg.ISPFlapK)
	}
	if cfg.FlapWindow != 5*time.Minute {
		t.Errorf("expected flap_window default 5m, got %v", cfg.FlapWindow)
	}
	if cfg.RetentionDaysTimeSeries != 30 {
		t.Errorf("expected retention_days_timeseries default 30, got %d", cfg.RetentionDaysTimeSeries)
	}
	if cfg.InterfaceStaleDays != 7 {
		t.Errorf("expected interface_stale_days default 7, got %d", cfg.InterfaceStaleDays)
	}
	if cfg.DB.Driver != "sqlite" {
		t.Errorf("expected db.driver to remain sqlite, got %s", cfg.DB.Driver)
	}
}

func TestLoadConfigMissingFile(t *testing.T) {
	if _, err := LoadConfig("/nonexistent/path/config.yml"); err == nil {
		t.Error("expected error for missing config file")
	}
}

func TestValidateConfigRejectsBadCIDR(t *testing.T) {
	path := writeTempConfig(t, `
networks:
  - "not-a-cidr"
icmp_workers: 64
snmp_workers: 16
ping_interval: "10s"
ping_timeout: "1s"
snmp:
  community: "test-community-123"
  port: 161
influxdb:
  url: "http://localhost:8086"
  token: "test-token"
  org: "test-org"
  bucket: "test-bucket"
db:
  driver: "sqlite"
  dsn: "test.db"
`)
	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig should not fail on parse: %v", err)
	}
	if _, err := ValidateConfig(cfg); err == nil {
		t.Error("expected validation error for malformed CIDR")
	}
}

func TestValidateConfigWarnsOnDefaultCommunity(t *testing.T) {
	path := writeTempConfig(t, `
networks:
  - "192.168.1.0/24"
icmp_workers: 64
snmp_workers: 16
ping_interval: "10s"
ping_timeout: "1s"
snmp:
  community: "public"
  port: 161
influxdb:
  url: "http://localhost:8086"
  token: "test-token"
  org: "test-org"
  bucket: "test-bucket"
db:
  driver: "sqlite"
  dsn: "test.db"
`)
	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	warning, err := ValidateConfig(cfg)
	if err != nil {
		t.Fatalf("expected no hard error, got %v", err)
	}
	if warning == "" {
		t.Error("expected a warning for default 'public' community string")
	}
}

func TestValidateConfigRejectsPostgresLeaderModeOnSQLite(t *testing.T) {
	path := writeTempConfig(t, validConfigYAML)
	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	cfg.LeaderLockMode = "postgres"
	if _, err := ValidateConfig(cfg); err == nil {
		t.Error("expected error when leader_lock_mode=postgres but db.driver=sqlite")
	}
}
