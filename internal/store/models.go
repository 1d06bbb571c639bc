package store

import "time"

// Reachability is the current-state reachability enum for a device.
type Reachability string

const (
	ReachabilityUp      Reachability = "up"
	ReachabilityDown    Reachability = "down"
	ReachabilityUnknown Reachability = "unknown"
)

// OperStatus mirrors the IF-MIB ifOperStatus subset this engine tracks.
type OperStatus string

const (
	OperStatusUp      OperStatus = "up"
	OperStatusDown    OperStatus = "down"
	OperStatusUnknown OperStatus = "unknown"
)

// Device is one row per monitored device: identity, attributes, and the
// live reachability fields the ping worker owns exclusively.
type Device struct {
	ID             string `gorm:"primaryKey;size:36" json:"id"`
	IP             string `gorm:"uniqueIndex;not null;size:45" json:"ip"`
	Name           string `gorm:"size:255" json:"name"`
	Hostname       string `gorm:"size:255" json:"hostname"`
	Classification string `gorm:"size:32;index" json:"classification"` // atm, payment_terminal, ap, router, switch, nvr, other
	Vendor         string `gorm:"size:128" json:"vendor"`
	Model          string `gorm:"size:128" json:"model"`
	BranchID       string `gorm:"size:36;index" json:"branch_id"`
	Enabled        bool   `gorm:"default:false;index" json:"enabled"`

	MonitorSNMP  bool   `gorm:"default:false" json:"monitor_snmp"` // reachability-only vs reachability+SNMP
	SNMPVersion  string `gorm:"size:8" json:"snmp_version"`        // v2c, v3
	SNMPPort     int    `gorm:"default:161" json:"snmp_port"`
	CredentialID string `gorm:"size:36" json:"credential_id"`

	// IsISPRouter resolves spec's open question about ISP-router identification:
	// set explicitly by an operator, or derived from discovery when unset.
	// See DESIGN.md "Open Question decisions".
	IsISPRouter bool `gorm:"default:false;index" json:"is_isp_router"`

	// Live state, owned exclusively by the ping worker.
	Reachability Reachability `gorm:"size:16;index;default:unknown" json:"reachability"`
	DownSince    *time.Time   `gorm:"index" json:"down_since"`
	IsFlapping   bool         `gorm:"default:false;index" json:"is_flapping"`
	LastProbeAt  *time.Time   `json:"last_probe_at"`
	LastRTTMs    *float64     `json:"last_rtt_ms"`
	LastLossPct  *float64     `json:"last_loss_pct"`

	// StatusChangeRing is a JSON-encoded bounded ring of recent
	// status-change timestamps, used by the flap detector. Never queried
	// directly; internal/devicestate decodes/encodes it.
	StatusChangeRing string `gorm:"type:text" json:"-"`

	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime;index" json:"updated_at"`
}

func (Device) TableName() string { return "devices" }

// DeviceInterface is one row per (device, ifIndex), owned exclusively by the
// SNMP worker for its live fields.
type DeviceInterface struct {
	ID       string `gorm:"primaryKey;size:36" json:"id"`
	DeviceID string `gorm:"size:36;not null;uniqueIndex:idx_device_ifindex" json:"device_id"`
	IfIndex  int    `gorm:"not null;uniqueIndex:idx_device_ifindex" json:"if_index"`

	IfName  string `gorm:"size:128" json:"if_name"`
	IfAlias string `gorm:"size:255" json:"if_alias"`
	IfDescr string `gorm:"size:255" json:"if_descr"`
	IfType  int    `gorm:"default:0" json:"if_type"`
	IfSpeed uint64 `gorm:"default:0" json:"if_speed"`

	InterfaceType          string  `gorm:"size:32;index" json:"interface_type"` // isp, trunk, access, server_link, branch_link, management, loopback, voice, camera, unknown
	ISPProvider            *string `gorm:"size:64;index" json:"isp_provider"`
	IsCritical             bool    `gorm:"default:false;index" json:"is_critical"`
	ClassificationConfidence float64 `gorm:"default:0" json:"classification_confidence"`

	OperStatus         OperStatus `gorm:"size:16;default:unknown" json:"oper_status"`
	AdminStatus        OperStatus `gorm:"size:16;default:unknown" json:"admin_status"`
	LastSeenAt         time.Time  `gorm:"index" json:"last_seen_at"`
	LastStatusChangeAt *time.Time `json:"last_status_change_at"`

	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (DeviceInterface) TableName() string { return "device_interfaces" }

// AlertRule is an evaluation rule: a serialized Condition plus scope/severity.
type AlertRule struct {
	ID       string `gorm:"primaryKey;size:36" json:"id"`
	Name     string `gorm:"size:255;not null" json:"name"`
	Severity string `gorm:"size:16;not null" json:"severity"` // Critical, High, Medium, Low
	Scope    string `gorm:"size:32;not null" json:"scope"`    // all, isp_interfaces, device_class
	ScopeArg string `gorm:"size:128" json:"scope_arg"`        // device class name when Scope=device_class

	// ConditionJSON holds the serialized tagged-variant Condition AST.
	ConditionJSON string `gorm:"type:text;not null" json:"condition"`

	Enabled        bool    `gorm:"default:true" json:"enabled"`
	ParentRuleID   *string `gorm:"size:36" json:"parent_rule_id"`
	ParentDeviceID *string `gorm:"size:36" json:"parent_device_id"`
	CooldownSecs   int     `gorm:"default:0" json:"cooldown_secs"`

	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (AlertRule) TableName() string { return "alert_rules" }

// ActiveProblem is the materialized view of "currently firing"; at most one
// open row per (rule, device, interface).
type ActiveProblem struct {
	ID          string  `gorm:"primaryKey;size:36" json:"id"`
	RuleID      string  `gorm:"size:36;not null;uniqueIndex:idx_open_problem" json:"rule_id"`
	DeviceID    string  `gorm:"size:36;not null;uniqueIndex:idx_open_problem;index" json:"device_id"`
	InterfaceID *string `gorm:"size:36;uniqueIndex:idx_open_problem" json:"interface_id"`

	Severity        string     `gorm:"size:16;not null" json:"severity"`
	FirstTriggered  time.Time  `gorm:"not null;index" json:"first_triggered"`
	LastSeen        time.Time  `gorm:"not null" json:"last_seen"`
	ResolvedAt      *time.Time `gorm:"index" json:"resolved_at"`
	Suppressed      bool       `gorm:"default:false" json:"suppressed"`
	Flapping        bool       `gorm:"default:false" json:"flapping"`
	EventCount      int        `gorm:"default:1" json:"event_count"`

	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (ActiveProblem) TableName() string { return "active_problems" }

// AlertHistory is an append-only journal of every problem transition.
type AlertHistory struct {
	ID          string  `gorm:"primaryKey;size:36" json:"id"`
	RuleID      string  `gorm:"size:36;not null;index" json:"rule_id"`
	DeviceID    string  `gorm:"size:36;not null;index:idx_history_device" json:"device_id"`
	InterfaceID *string `gorm:"size:36" json:"interface_id"`

	Severity       string     `gorm:"size:16;not null" json:"severity"`
	Event          string     `gorm:"size:16;not null" json:"event"` // opened, updated, resolved
	TriggeredAt    time.Time  `gorm:"not null;index:idx_history_device" json:"triggered_at"`
	ResolvedAt     *time.Time `json:"resolved_at"`

	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
}

func (AlertHistory) TableName() string { return "alert_history" }

// MaintenanceWindow suppresses alert rules for a device set during a time
// range, optionally recurring.
type MaintenanceWindow struct {
	ID          string    `gorm:"primaryKey;size:36" json:"id"`
	DeviceIDs   string    `gorm:"type:text;not null" json:"device_ids"` // JSON array of device ids
	Start       time.Time `gorm:"not null;index" json:"start"`
	End         time.Time `gorm:"not null;index" json:"end"`
	Recurrence  string    `gorm:"size:64" json:"recurrence"` // empty, or an RRULE-like cron expression

	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
}

func (MaintenanceWindow) TableName() string { return "maintenance_windows" }

// ScheduleState persists each scheduler cadence's next-fire timestamp so a
// restart resumes without double-firing a slot within its period.
type ScheduleState struct {
	Name        string    `gorm:"primaryKey;size:64" json:"name"` // ping_sweep, snmp_sweep, ...
	NextFireAt  time.Time `gorm:"not null" json:"next_fire_at"`
	LastSweepID string    `gorm:"size:36" json:"last_sweep_id"`
	UpdatedAt   time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (ScheduleState) TableName() string { return "schedule_state" }

// PingResult is a short rolling log, bounded and trimmed by
// retention_cleanup; never read by any query path (spec.md §9).
type PingResult struct {
	ID        uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	DeviceIP  string    `gorm:"size:45;index" json:"device_ip"`
	Timestamp time.Time `gorm:"index" json:"timestamp"`
	Reachable bool      `json:"reachable"`
	RTTMs     float64   `json:"rtt_ms"`
	LossPct   float64   `json:"loss_pct"`
}

func (PingResult) TableName() string { return "ping_results" }

// AllModels returns every GORM model for auto-migration.
func AllModels() []any {
	return []any{
		&Device{},
		&DeviceInterface{},
		&AlertRule{},
		&ActiveProblem{},
		&AlertHistory{},
		&MaintenanceWindow{},
		&ScheduleState{},
		&PingResult{},
	}
}
