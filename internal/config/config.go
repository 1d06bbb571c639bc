package config

import (
	"fmt"
	"net"
	"net/url"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// SNMPConfig holds SNMP connection parameters, v2c or v3.
type SNMPConfig struct {
	Version   string        `yaml:"version"` // "v2c" or "v3"
	Community string        `yaml:"community"`
	Port      int           `yaml:"port"`
	Timeout   time.Duration `yaml:"timeout"`
	Retries   int           `yaml:"retries"`

	// v3-only fields; ignored when Version is v2c.
	V3User       string `yaml:"v3_user"`
	V3AuthProto  string `yaml:"v3_auth_proto"` // MD5, SHA, SHA224, SHA256, SHA384, SHA512
	V3AuthKey    string `yaml:"v3_auth_key"`
	V3PrivProto  string `yaml:"v3_priv_proto"` // DES, AES, AES192, AES256
	V3PrivKey    string `yaml:"v3_priv_key"`
	V3SecurityLv string `yaml:"v3_security_level"` // noAuthNoPriv, authNoPriv, authPriv
}

// InfluxDBConfig holds InfluxDB v2 connection parameters for the time-series store.
type InfluxDBConfig struct {
	URL           string        `yaml:"url"`
	Token         string        `yaml:"token"`
	Org           string        `yaml:"org"`
	Bucket        string        `yaml:"bucket"`
	HealthBucket  string        `yaml:"health_bucket"`
	BatchSize     int           `yaml:"batch_size"`
	FlushInterval time.Duration `yaml:"flush_interval"`
	BufferLimit   int           `yaml:"buffer_limit"` // max buffered samples held during an outage before oldest are dropped
}

// DBConfig selects and configures the current-state relational store.
type DBConfig struct {
	Driver       string `yaml:"driver"` // "sqlite" or "postgres"
	DSN          string `yaml:"dsn"`
	MaxOpenConns int    `yaml:"max_open_conns"`
	MaxIdleConns int    `yaml:"max_idle_conns"`
}

// Config holds all application configuration parameters.
type Config struct {
	Networks []string `yaml:"networks"`

	// Scheduler cadences (spec §4.1, §6).
	PingInterval               time.Duration `yaml:"ping_interval"`
	SNMPInterval               time.Duration `yaml:"snmp_interval"`
	AlertEvalInterval          time.Duration `yaml:"alert_eval_interval"`
	InterfaceMetricsInterval   time.Duration `yaml:"interface_metrics_interval"`
	InterfaceDiscoverySchedule string        `yaml:"interface_discovery_schedule"` // HH:MM local
	RetentionCleanupSchedule   string        `yaml:"retention_cleanup_schedule"`   // HH:MM local
	BatchSize                  int           `yaml:"batch_size"`

	IcmpWorkers int `yaml:"icmp_workers"`
	SnmpWorkers int `yaml:"snmp_workers"`

	PingCount   int           `yaml:"ping_count"`
	PingTimeout time.Duration `yaml:"ping_timeout"`

	SNMP SNMPConfig `yaml:"snmp"`

	FlapK      int           `yaml:"flap_k"`
	FlapWindow time.Duration `yaml:"flap_window"`
	ISPFlapK   int           `yaml:"isp_flap_k"`

	InfluxDB InfluxDBConfig `yaml:"influxdb"`
	DB       DBConfig       `yaml:"db"`

	APIPort         int           `yaml:"api_port"`
	WSPath          string        `yaml:"ws_path"`
	MetricsPort     int           `yaml:"metrics_port"`
	HealthCheckPort int           `yaml:"health_check_port"`
	CacheTTL        time.Duration `yaml:"cache_ttl"`

	LeaderLockMode string `yaml:"leader_lock_mode"` // "single" or "postgres"

	RetentionDaysTimeSeries int `yaml:"retention_days_timeseries"`
	InterfaceStaleDays      int `yaml:"interface_stale_days"`

	ShutdownGraceSecs int `yaml:"shutdown_grace_secs"`

	// Resource protection settings (carried from the teacher).
	MaxConcurrentPingers int           `yaml:"max_concurrent_pingers"`
	MaxDevices           int           `yaml:"max_devices"`
	MinScanInterval      time.Duration `yaml:"min_scan_interval"`
	MemoryLimitMB        int           `yaml:"memory_limit_mb"`

	PingRateLimit float64 `yaml:"ping_rate_limit"`
	SnmpRateLimit float64 `yaml:"snmp_rate_limit"`

	MaxConsecutiveFails   int           `yaml:"max_consecutive_fails"`
	CircuitBreakerBackoff time.Duration `yaml:"circuit_breaker_backoff"`
}

// rawConfig mirrors Config but with string duration fields, since YAML has
// no native duration type.
type rawConfig struct {
	Networks []string `yaml:"networks"`

	PingInterval               string `yaml:"ping_interval"`
	SNMPInterval               string `yaml:"snmp_interval"`
	AlertEvalInterval          string `yaml:"alert_eval_interval"`
	InterfaceMetricsInterval   string `yaml:"interface_metrics_interval"`
	InterfaceDiscoverySchedule string `yaml:"interface_discovery_schedule"`
	RetentionCleanupSchedule   string `yaml:"retention_cleanup_schedule"`
	BatchSize                  int    `yaml:"batch_size"`

	IcmpWorkers int `yaml:"icmp_workers"`
	SnmpWorkers int `yaml:"snmp_workers"`

	PingCount   int    `yaml:"ping_count"`
	PingTimeout string `yaml:"ping_timeout"`

	SNMP struct {
		Version      string `yaml:"version"`
		Community    string `yaml:"community"`
		Port         int    `yaml:"port"`
		Timeout      string `yaml:"timeout"`
		Retries      int    `yaml:"retries"`
		V3User       string `yaml:"v3_user"`
		V3AuthProto  string `yaml:"v3_auth_proto"`
		V3AuthKey    string `yaml:"v3_auth_key"`
		V3PrivProto  string `yaml:"v3_priv_proto"`
		V3PrivKey    string `yaml:"v3_priv_key"`
		V3SecurityLv string `yaml:"v3_security_level"`
	} `yaml:"snmp"`

	FlapK      int    `yaml:"flap_k"`
	FlapWindow string `yaml:"flap_window"`
	ISPFlapK   int    `yaml:"isp_flap_k"`

	InfluxDB struct {
		URL           string `yaml:"url"`
		Token         string `yaml:"token"`
		Org           string `yaml:"org"`
		Bucket        string `yaml:"bucket"`
		HealthBucket  string `yaml:"health_bucket"`
		BatchSize     int    `yaml:"batch_size"`
		FlushInterval string `yaml:"flush_interval"`
		BufferLimit   int    `yaml:"buffer_limit"`
	} `yaml:"influxdb"`

	DB struct {
		Driver       string `yaml:"driver"`
		DSN          string `yaml:"dsn"`
		MaxOpenConns int    `yaml:"max_open_conns"`
		MaxIdleConns int    `yaml:"max_idle_conns"`
	} `yaml:"db"`

	APIPort         int    `yaml:"api_port"`
	WSPath          string `yaml:"ws_path"`
	MetricsPort     int    `yaml:"metrics_port"`
	HealthCheckPort int    `yaml:"health_check_port"`
	CacheTTL        string `yaml:"cache_ttl"`

	LeaderLockMode string `yaml:"leader_lock_mode"`

	RetentionDaysTimeSeries int `yaml:"retention_days_timeseries"`
	InterfaceStaleDays      int `yaml:"interface_stale_days"`

	ShutdownGraceSecs int `yaml:"shutdown_grace_secs"`

	MaxConcurrentPingers int    `yaml:"max_concurrent_pingers"`
	MaxDevices           int    `yaml:"max_devices"`
	MinScanInterval      string `yaml:"min_scan_interval"`
	MemoryLimitMB        int    `yaml:"memory_limit_mb"`

	PingRateLimit float64 `yaml:"ping_rate_limit"`
	SnmpRateLimit float64 `yaml:"snmp_rate_limit"`

	MaxConsecutiveFails   int    `yaml:"max_consecutive_fails"`
	CircuitBreakerBackoff string `yaml:"circuit_breaker_backoff"`
}

func parseDurationDefault(s string, def time.Duration, field string) (time.Duration, error) {
	if s == "" {
		return def, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %v", field, err)
	}
	return d, nil
}

// LoadConfig parses the YAML configuration file and returns a validated Config.
func LoadConfig(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var raw rawConfig
	decoder := yaml.NewDecoder(f)
	if err := decoder.Decode(&raw); err != nil {
		return nil, err
	}

	pingInterval, err := parseDurationDefault(raw.PingInterval, 30*time.Second, "ping_interval")
	if err != nil {
		return nil, err
	}
	snmpInterval, err := parseDurationDefault(raw.SNMPInterval, 60*time.Second, "snmp_interval")
	if err != nil {
		return nil, err
	}
	alertEvalInterval, err := parseDurationDefault(raw.AlertEvalInterval, 10*time.Second, "alert_eval_interval")
	if err != nil {
		return nil, err
	}
	ifMetricsInterval, err := parseDurationDefault(raw.InterfaceMetricsInterval, 60*time.Second, "interface_metrics_interval")
	if err != nil {
		return nil, err
	}
	pingTimeout, err := parseDurationDefault(raw.PingTimeout, 1000*time.Millisecond, "ping_timeout")
	if err != nil {
		return nil, err
	}
	flapWindow, err := parseDurationDefault(raw.FlapWindow, 5*time.Minute, "flap_window")
	if err != nil {
		return nil, err
	}
	snmpTimeout, err := parseDurationDefault(raw.SNMP.Timeout, 5*time.Second, "snmp.timeout")
	if err != nil {
		return nil, err
	}
	flushInterval, err := parseDurationDefault(raw.InfluxDB.FlushInterval, 5*time.Second, "influxdb.flush_interval")
	if err != nil {
		return nil, err
	}
	cacheTTL, err := parseDurationDefault(raw.CacheTTL, 30*time.Second, "cache_ttl")
	if err != nil {
		return nil, err
	}
	minScanInterval, err := parseDurationDefault(raw.MinScanInterval, time.Minute, "min_scan_interval")
	if err != nil {
		return nil, err
	}
	circuitBreakerBackoff, err := parseDurationDefault(raw.CircuitBreakerBackoff, 5*time.Minute, "circuit_breaker_backoff")
	if err != nil {
		return nil, err
	}

	// Defaults for plain fields.
	if raw.BatchSize == 0 {
		raw.BatchSize = 100
	}
	if raw.IcmpWorkers == 0 {
		raw.IcmpWorkers = 100
	}
	if raw.SnmpWorkers == 0 {
		raw.SnmpWorkers = 10
	}
	if raw.PingCount == 0 {
		raw.PingCount = 2
	}
	if raw.FlapK == 0 {
		raw.FlapK = 3
	}
	if raw.ISPFlapK == 0 {
		raw.ISPFlapK = 2
	}
	if raw.SNMP.Version == "" {
		raw.SNMP.Version = "v2c"
	}
	if raw.SNMP.Port == 0 {
		raw.SNMP.Port = 161
	}
	if raw.InfluxDB.BatchSize == 0 {
		raw.InfluxDB.BatchSize = 5000
	}
	if raw.InfluxDB.HealthBucket == "" {
		raw.InfluxDB.HealthBucket = "health"
	}
	if raw.InfluxDB.BufferLimit == 0 {
		raw.InfluxDB.BufferLimit = 50000
	}
	if raw.DB.Driver == "" {
		raw.DB.Driver = "sqlite"
	}
	if raw.DB.DSN == "" && raw.DB.Driver == "sqlite" {
		raw.DB.DSN = "branchwatch.db"
	}
	if raw.DB.MaxOpenConns == 0 {
		raw.DB.MaxOpenConns = 25
	}
	if raw.DB.MaxIdleConns == 0 {
		raw.DB.MaxIdleConns = 5
	}
	if raw.APIPort == 0 {
		raw.APIPort = 8081
	}
	if raw.WSPath == "" {
		raw.WSPath = "/ws/updates"
	}
	if raw.MetricsPort == 0 {
		raw.MetricsPort = 9090
	}
	if raw.HealthCheckPort == 0 {
		raw.HealthCheckPort = 8080
	}
	if raw.LeaderLockMode == "" {
		raw.LeaderLockMode = "single"
	}
	if raw.RetentionDaysTimeSeries == 0 {
		raw.RetentionDaysTimeSeries = 30
	}
	if raw.InterfaceStaleDays == 0 {
		raw.InterfaceStaleDays = 7
	}
	if raw.ShutdownGraceSecs == 0 {
		raw.ShutdownGraceSecs = 30
	}
	if raw.MaxConcurrentPingers == 0 {
		raw.MaxConcurrentPingers = 20000
	}
	if raw.MaxDevices == 0 {
		raw.MaxDevices = 20000
	}
	if raw.MemoryLimitMB == 0 {
		raw.MemoryLimitMB = 16384
	}
	if raw.PingRateLimit == 0 {
		raw.PingRateLimit = 100
	}
	if raw.SnmpRateLimit == 0 {
		raw.SnmpRateLimit = 50
	}
	if raw.MaxConsecutiveFails == 0 {
		raw.MaxConsecutiveFails = 10
	}

	// Expand environment variables in sensitive fields, as the teacher does.
	raw.InfluxDB.URL = expandEnv(raw.InfluxDB.URL)
	raw.InfluxDB.Token = expandEnv(raw.InfluxDB.Token)
	raw.InfluxDB.Org = expandEnv(raw.InfluxDB.Org)
	raw.InfluxDB.Bucket = expandEnv(raw.InfluxDB.Bucket)
	raw.InfluxDB.HealthBucket = expandEnv(raw.InfluxDB.HealthBucket)
	raw.SNMP.Community = expandEnv(raw.SNMP.Community)
	raw.SNMP.V3AuthKey = expandEnv(raw.SNMP.V3AuthKey)
	raw.SNMP.V3PrivKey = expandEnv(raw.SNMP.V3PrivKey)
	raw.DB.DSN = expandEnv(raw.DB.DSN)

	cfg := &Config{
		Networks:                   raw.Networks,
		PingInterval:               pingInterval,
		SNMPInterval:               snmpInterval,
		AlertEvalInterval:          alertEvalInterval,
		InterfaceMetricsInterval:   ifMetricsInterval,
		InterfaceDiscoverySchedule: raw.InterfaceDiscoverySchedule,
		RetentionCleanupSchedule:   raw.RetentionCleanupSchedule,
		BatchSize:                  raw.BatchSize,
		IcmpWorkers:                raw.IcmpWorkers,
		SnmpWorkers:                raw.SnmpWorkers,
		PingCount:                  raw.PingCount,
		PingTimeout:                pingTimeout,
		SNMP: SNMPConfig{
			Version:      raw.SNMP.Version,
			Community:    raw.SNMP.Community,
			Port:         raw.SNMP.Port,
			Timeout:      snmpTimeout,
			Retries:      raw.SNMP.Retries,
			V3User:       raw.SNMP.V3User,
			V3AuthProto:  raw.SNMP.V3AuthProto,
			V3AuthKey:    raw.SNMP.V3AuthKey,
			V3PrivProto:  raw.SNMP.V3PrivProto,
			V3PrivKey:    raw.SNMP.V3PrivKey,
			V3SecurityLv: raw.SNMP.V3SecurityLv,
		},
		FlapK:      raw.FlapK,
		FlapWindow: flapWindow,
		ISPFlapK:   raw.ISPFlapK,
		InfluxDB: InfluxDBConfig{
			URL:           raw.InfluxDB.URL,
			Token:         raw.InfluxDB.Token,
			Org:           raw.InfluxDB.Org,
			Bucket:        raw.InfluxDB.Bucket,
			HealthBucket:  raw.InfluxDB.HealthBucket,
			BatchSize:     raw.InfluxDB.BatchSize,
			FlushInterval: flushInterval,
			BufferLimit:   raw.InfluxDB.BufferLimit,
		},
		DB: DBConfig{
			Driver:       raw.DB.Driver,
			DSN:          raw.DB.DSN,
			MaxOpenConns: raw.DB.MaxOpenConns,
			MaxIdleConns: raw.DB.MaxIdleConns,
		},
		APIPort:                 raw.APIPort,
		WSPath:                  raw.WSPath,
		MetricsPort:             raw.MetricsPort,
		HealthCheckPort:         raw.HealthCheckPort,
		CacheTTL:                cacheTTL,
		LeaderLockMode:          raw.LeaderLockMode,
		RetentionDaysTimeSeries: raw.RetentionDaysTimeSeries,
		InterfaceStaleDays:      raw.InterfaceStaleDays,
		ShutdownGraceSecs:       raw.ShutdownGraceSecs,
		MaxConcurrentPingers:    raw.MaxConcurrentPingers,
		MaxDevices:              raw.MaxDevices,
		MinScanInterval:         minScanInterval,
		MemoryLimitMB:           raw.MemoryLimitMB,
		PingRateLimit:           raw.PingRateLimit,
		SnmpRateLimit:           raw.SnmpRateLimit,
		MaxConsecutiveFails:     raw.MaxConsecutiveFails,
		CircuitBreakerBackoff:   circuitBreakerBackoff,
	}

	return cfg, nil
}

// expandEnv expands environment variables in a string, supporting ${VAR} and $VAR syntax.
func expandEnv(s string) string {
	return os.ExpandEnv(s)
}

// ValidateConfig performs security and sanity checks on the configuration.
// It returns a non-fatal warning string, or an error for hard validation failures.
func ValidateConfig(cfg *Config) (string, error) {
	for _, network := range cfg.Networks {
		if err := validateCIDR(network); err != nil {
			return "", err
		}
	}

	if cfg.IcmpWorkers < 1 || cfg.IcmpWorkers > 2000 {
		return "", fmt.Errorf("icmp_workers must be between 1 and 2000, got %d", cfg.IcmpWorkers)
	}
	if cfg.SnmpWorkers < 1 || cfg.SnmpWorkers > 1000 {
		return "", fmt.Errorf("snmp_workers must be between 1 and 1000, got %d", cfg.SnmpWorkers)
	}

	if cfg.PingInterval < 10*time.Second || cfg.PingInterval > 60*time.Second {
		return "", fmt.Errorf("ping_interval must be between 10s and 60s, got %v", cfg.PingInterval)
	}
	if cfg.SNMPInterval < time.Second {
		return "", fmt.Errorf("snmp_interval must be at least 1 second, got %v", cfg.SNMPInterval)
	}
	if cfg.AlertEvalInterval < time.Second {
		return "", fmt.Errorf("alert_eval_interval must be at least 1 second, got %v", cfg.AlertEvalInterval)
	}

	for _, sched := range []string{cfg.InterfaceDiscoverySchedule, cfg.RetentionCleanupSchedule} {
		if sched != "" {
			if err := validateTimeFormat(sched); err != nil {
				return "", fmt.Errorf("schedule validation failed: %v", err)
			}
		}
	}

	if cfg.SNMP.Port < 1 || cfg.SNMP.Port > 65535 {
		return "", fmt.Errorf("snmp port must be between 1 and 65535, got %d", cfg.SNMP.Port)
	}
	if cfg.SNMP.Timeout < time.Second {
		return "", fmt.Errorf("snmp timeout must be at least 1 second, got %v", cfg.SNMP.Timeout)
	}
	if cfg.SNMP.Retries < 0 || cfg.SNMP.Retries > 10 {
		return "", fmt.Errorf("snmp retries must be between 0 and 10, got %d", cfg.SNMP.Retries)
	}
	if cfg.SNMP.Version != "v2c" && cfg.SNMP.Version != "v3" {
		return "", fmt.Errorf("snmp version must be v2c or v3, got %q", cfg.SNMP.Version)
	}

	var warning string
	if cfg.SNMP.Version == "v2c" {
		w, err := validateSNMPCommunity(cfg.SNMP.Community)
		if err != nil {
			return "", err
		}
		warning = w
	} else if cfg.SNMP.V3User == "" {
		return "", fmt.Errorf("snmp.v3_user is required for SNMPv3")
	}

	if cfg.InfluxDB.URL == "" {
		return "", fmt.Errorf("influxdb.url is required")
	}
	if err := validateURL(cfg.InfluxDB.URL); err != nil {
		return "", fmt.Errorf("influxdb.url validation failed: %v", err)
	}
	if cfg.InfluxDB.Token == "" {
		return "", fmt.Errorf("influxdb.token is required")
	}
	if cfg.InfluxDB.Org == "" {
		return "", fmt.Errorf("influxdb.org is required")
	}
	if cfg.InfluxDB.Bucket == "" {
		return "", fmt.Errorf("influxdb.bucket is required")
	}

	if cfg.DB.Driver != "sqlite" && cfg.DB.Driver != "postgres" {
		return "", fmt.Errorf("db.driver must be sqlite or postgres, got %q", cfg.DB.Driver)
	}
	if cfg.DB.DSN == "" {
		return "", fmt.Errorf("db.dsn is required")
	}

	for _, network := range cfg.Networks {
		if err := validateNetworkContainsValidIPs(network); err != nil {
			return "", fmt.Errorf("network validation failed for %s: %v", network, err)
		}
	}

	if cfg.MaxConcurrentPingers < 1 || cfg.MaxConcurrentPingers > 100000 {
		return "", fmt.Errorf("max_concurrent_pingers must be between 1 and 100000, got %d", cfg.MaxConcurrentPingers)
	}
	if cfg.MaxDevices < 1 || cfg.MaxDevices > 100000 {
		return "", fmt.Errorf("max_devices must be between 1 and 100000, got %d", cfg.MaxDevices)
	}
	if cfg.MinScanInterval < 30*time.Second {
		return "", fmt.Errorf("min_scan_interval must be at least 30 seconds, got %v", cfg.MinScanInterval)
	}
	if cfg.MemoryLimitMB < 64 || cfg.MemoryLimitMB > 16384 {
		return "", fmt.Errorf("memory_limit_mb must be between 64 and 16384, got %d", cfg.MemoryLimitMB)
	}

	if cfg.LeaderLockMode != "single" && cfg.LeaderLockMode != "postgres" {
		return "", fmt.Errorf("leader_lock_mode must be single or postgres, got %q", cfg.LeaderLockMode)
	}
	if cfg.LeaderLockMode == "postgres" && cfg.DB.Driver != "postgres" {
		return "", fmt.Errorf("leader_lock_mode=postgres requires db.driver=postgres")
	}

	return warning, nil
}

func validateCIDR(cidr string) error {
	_, network, err := net.ParseCIDR(cidr)
	if err != nil {
		return fmt.Errorf("invalid CIDR notation: %s", cidr)
	}

	networkIP := network.IP
	if networkIP.IsLoopback() {
		return fmt.Errorf("loopback networks not allowed: %s", cidr)
	}
	if networkIP.IsMulticast() {
		return fmt.Errorf("multicast networks not allowed: %s", cidr)
	}
	if networkIP.IsLinkLocalUnicast() {
		return fmt.Errorf("link-local networks not allowed: %s", cidr)
	}

	ones, _ := network.Mask.Size()
	if ones < 8 {
		return fmt.Errorf("network range too broad (/%d), maximum allowed is /8: %s", ones, cidr)
	}

	return nil
}

func validateSNMPCommunity(community string) (string, error) {
	if len(community) == 0 {
		return "", fmt.Errorf("snmp community string cannot be empty")
	}
	if len(community) > 32 {
		return "", fmt.Errorf("snmp community string too long (max 32 characters), got %d characters", len(community))
	}

	for _, char := range community {
		if !((char >= 'a' && char <= 'z') || (char >= 'A' && char <= 'Z') ||
			(char >= '0' && char <= '9') || char == '-' || char == '_' || char == '.') {
			return "", fmt.Errorf("snmp community string contains invalid character: %c", char)
		}
	}

	weakCommunities := []string{"private", "admin", "password", "123456", "community"}
	for _, weak := range weakCommunities {
		if community == weak {
			return "", fmt.Errorf("snmp community string '%s' is a common default value and should be changed for security", community)
		}
	}

	if community == "public" {
		return "WARNING: Using default SNMP community 'public' - consider changing for security", nil
	}

	return "", nil
}

func validateURL(urlStr string) error {
	if len(urlStr) == 0 {
		return fmt.Errorf("URL cannot be empty")
	}
	if len(urlStr) > 2048 {
		return fmt.Errorf("URL too long (max 2048 characters)")
	}
	if !strings.HasPrefix(urlStr, "http://") && !strings.HasPrefix(urlStr, "https://") {
		return fmt.Errorf("URL must use http or https scheme")
	}

	parsedURL, err := url.Parse(urlStr)
	if err != nil {
		return fmt.Errorf("invalid URL format: %v", err)
	}
	if parsedURL.Host == "" {
		return fmt.Errorf("URL must include a valid host")
	}

	return nil
}

func validateTimeFormat(timeStr string) error {
	if len(timeStr) != 5 {
		return fmt.Errorf("time must be in HH:MM format, got %s", timeStr)
	}

	parts := strings.Split(timeStr, ":")
	if len(parts) != 2 {
		return fmt.Errorf("time must be in HH:MM format, got %s", timeStr)
	}

	var hour, minute int
	if _, err := fmt.Sscanf(timeStr, "%02d:%02d", &hour, &minute); err != nil {
		return fmt.Errorf("invalid time format %s: %v", timeStr, err)
	}

	if hour < 0 || hour > 23 {
		return fmt.Errorf("hour must be between 00 and 23, got %d", hour)
	}
	if minute < 0 || minute > 59 {
		return fmt.Errorf("minute must be between 00 and 59, got %d", minute)
	}

	return nil
}

func validateNetworkContainsValidIPs(cidr string) error {
	ip, network, err := net.ParseCIDR(cidr)
	if err != nil {
		return fmt.Errorf("invalid CIDR: %v", err)
	}

	if ip == nil || ip.IsUnspecified() {
		return fmt.Errorf("network IP is unspecified")
	}

	firstIP := network.IP
	lastIP := make(net.IP, len(firstIP))
	copy(lastIP, firstIP)
	for i := range lastIP {
		lastIP[i] |= ^network.Mask[i]
	}

	if !firstIP.IsGlobalUnicast() && !firstIP.IsPrivate() {
		return fmt.Errorf("first IP %s is not a valid unicast address", firstIP)
	}
	if !lastIP.IsGlobalUnicast() && !lastIP.IsPrivate() {
		return fmt.Errorf("last IP %s is not a valid unicast address", lastIP)
	}

	ones, bits := network.Mask.Size()
	hostBits := bits - ones
	if hostBits > 24 {
		return fmt.Errorf("network range too large (/%d = 2^%d addresses), maximum allowed is /8", ones, hostBits)
	}

	return nil
}
