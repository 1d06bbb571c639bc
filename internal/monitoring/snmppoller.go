package monitoring

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/gosnmp/gosnmp"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/extkljajicm/branchwatch/internal/broker"
	"github.com/extkljajicm/branchwatch/internal/classifier"
	"github.com/extkljajicm/branchwatch/internal/events"
	"github.com/extkljajicm/branchwatch/internal/metrics"
	"github.com/extkljajicm/branchwatch/internal/store"
	"github.com/extkljajicm/branchwatch/internal/timeseries"
)

// IF-MIB column OIDs this poller samples per interface on every
// interface_metrics sweep (spec.md §4.3, §6).
const (
	oidIfDescr       = "1.3.6.1.2.1.2.2.1.2"
	oidIfType        = "1.3.6.1.2.1.2.2.1.3"
	oidIfSpeed       = "1.3.6.1.2.1.2.2.1.5"
	oidIfAdminStatus = "1.3.6.1.2.1.2.2.1.7"
	oidIfOperStatus  = "1.3.6.1.2.1.2.2.1.8"
	oidIfHCInOctets  = "1.3.6.1.2.1.31.1.1.1.6"
	oidIfInErrors    = "1.3.6.1.2.1.2.2.1.14"
	oidIfHCOutOctets = "1.3.6.1.2.1.31.1.1.1.10"
	oidIfOutErrors   = "1.3.6.1.2.1.2.2.1.20"
	oidIfInDiscards  = "1.3.6.1.2.1.2.2.1.13"
	oidIfOutDiscards = "1.3.6.1.2.1.2.2.1.19"
	oidIfAlias       = "1.3.6.1.2.1.31.1.1.1.18"
	oidIfName        = "1.3.6.1.2.1.31.1.1.1.1"
	oidSysName       = "1.3.6.1.2.1.1.5.0"
	oidSysDescr      = "1.3.6.1.2.1.1.1.0"
)

// SNMPPollerConfig carries the subset of config.Config the SNMP worker needs.
type SNMPPollerConfig struct {
	Version               string
	Community             string
	Port                  int
	Timeout               time.Duration
	Retries               int
	V3User                string
	V3AuthProto           string
	V3AuthKey             string
	V3PrivProto           string
	V3PrivKey             string
	V3SecurityLv          string
	Workers               int
	QueueDepth            int
	RateLimit             float64
	MaxConsecutiveFails   int
	CircuitBreakerBackoff time.Duration
}

// snmpCircuitBreaker suspends polling of a device after repeated failures,
// generalizing the per-IP fail-count/suspension fields the teacher kept on
// its state.Manager (internal/state/manager.go) into a standalone type the
// SNMP worker owns directly.
type snmpCircuitBreaker struct {
	mu             sync.Mutex
	fails          map[string]int
	suspendedUntil map[string]time.Time
}

func newSNMPCircuitBreaker() *snmpCircuitBreaker {
	return &snmpCircuitBreaker{fails: map[string]int{}, suspendedUntil: map[string]time.Time{}}
}

func (b *snmpCircuitBreaker) isSuspended(ip string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	until, ok := b.suspendedUntil[ip]
	if !ok {
		return false
	}
	if time.Now().After(until) {
		delete(b.suspendedUntil, ip)
		b.fails[ip] = 0
		return false
	}
	return true
}

// reportFail increments the per-IP failure count and trips the breaker once
// maxFails is reached, returning whether it just tripped.
func (b *snmpCircuitBreaker) reportFail(ip string, maxFails int, backoff time.Duration) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.fails[ip]++
	if b.fails[ip] >= maxFails {
		b.suspendedUntil[ip] = time.Now().Add(backoff)
		b.fails[ip] = 0
		return true
	}
	return false
}

func (b *snmpCircuitBreaker) reportSuccess(ip string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.fails[ip] = 0
}

// SNMPPoller samples ifTable metrics for every SNMP-monitored device on the
// interface_metrics cadence.
type SNMPPoller struct {
	store   *store.Store
	ts      *timeseries.Writer
	bus     *events.Bus
	limiter *rate.Limiter
	cfg     SNMPPollerConfig
	breaker *snmpCircuitBreaker
	queue   *broker.Queue[snmpJob]
	met         *metrics.Metrics
	lastDropped int64
}

type snmpJob struct {
	DeviceID   string
	DeviceIP   string
	DeviceName string
	Version    string
	Port       int
	CredentialOverride string
}

// NewSNMPPoller constructs an SNMPPoller and starts its worker pool.
func NewSNMPPoller(ctx context.Context, st *store.Store, ts *timeseries.Writer, bus *events.Bus, cfg SNMPPollerConfig) *SNMPPoller {
	if cfg.Workers <= 0 {
		cfg.Workers = 10
	}
	if cfg.QueueDepth <= 0 {
		cfg.QueueDepth = cfg.Workers * 4
	}
	var limiter *rate.Limiter
	if cfg.RateLimit > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), cfg.Workers)
	}
	p := &SNMPPoller{store: st, ts: ts, bus: bus, limiter: limiter, cfg: cfg, breaker: newSNMPCircuitBreaker()}
	p.queue = broker.New[snmpJob]("snmp_sweep", cfg.QueueDepth, cfg.Workers, p.handleJob)
	p.queue.Start(ctx)
	return p
}

// SetMetrics attaches the shared metrics registry; nil-safe if never called.
func (p *SNMPPoller) SetMetrics(m *metrics.Metrics) { p.met = m }

// RunSweep enumerates every SNMP-monitored device and enqueues a poll job.
func (p *SNMPPoller) RunSweep(ctx context.Context, sweepID string) {
	start := time.Now()
	devices, err := p.store.EnabledDevices(ctx)
	if err != nil {
		log.Error().Err(err).Str("sweep_id", sweepID).Msg("snmp sweep: failed to list enabled devices")
		return
	}
	if p.met != nil {
		defer func() {
			p.met.ObserveSweepDuration("snmp_sweep", time.Since(start).Seconds())
			p.met.SetQueueDepth("snmp_sweep", p.queue.Depth())
			dropped := p.queue.Dropped()
			p.met.AddQueueDropped("snmp_sweep", dropped-p.lastDropped)
			p.lastDropped = dropped
		}()
	}
	count := 0
	for _, d := range devices {
		if !d.MonitorSNMP {
			continue
		}
		job := snmpJob{
			DeviceID:   d.ID,
			DeviceIP:   d.IP,
			DeviceName: d.Name,
			Version:    d.SNMPVersion,
			Port:       d.SNMPPort,
		}
		if job.Version == "" {
			job.Version = p.cfg.Version
		}
		if job.Port == 0 {
			job.Port = p.cfg.Port
		}
		if p.queue.Enqueue(job) {
			count++
		} else {
			log.Warn().Str("sweep_id", sweepID).Str("device_id", d.ID).Msg("snmp sweep queue full, device skipped this round")
		}
	}
	log.Debug().Str("sweep_id", sweepID).Int("devices", count).Msg("snmp sweep starting")
}

func (p *SNMPPoller) handleJob(ctx context.Context, job snmpJob) {
	if p.breaker.isSuspended(job.DeviceIP) {
		log.Debug().Str("ip", job.DeviceIP).Msg("snmp circuit breaker open, skipping device this round")
		return
	}
	if p.limiter != nil {
		if err := p.limiter.Wait(ctx); err != nil {
			return
		}
	}

	params := p.buildParams(job)
	deadline := p.cfg.Timeout*time.Duration(p.cfg.Retries+1) + p.cfg.Timeout
	pollCtx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()

	if err := params.Connect(); err != nil {
		p.fail(job.DeviceIP, err, "snmp connect failed")
		return
	}
	defer params.Conn.Close()

	existing, err := p.store.ListDeviceInterfaces(pollCtx, job.DeviceID)
	if err != nil {
		log.Error().Err(err).Str("device_id", job.DeviceID).Msg("failed to load existing interfaces before snmp poll")
		return
	}
	byIndex := make(map[int]store.DeviceInterface, len(existing))
	for _, iface := range existing {
		byIndex[iface.IfIndex] = iface
	}

	ifMetrics, err := p.walkIfTable(params)
	if err != nil {
		p.fail(job.DeviceIP, err, "snmp ifTable walk failed")
		return
	}
	if p.met != nil {
		p.met.IncSNMPPoll("ok")
	}

	p.breaker.reportSuccess(job.DeviceIP)

	if sysName, sysDescr, err := p.querySystemInfo(params); err == nil && p.ts != nil {
		_ = p.ts.WriteDeviceInfo(job.DeviceIP, job.DeviceName, sysName, sysDescr, "")
	}

	for ifIndex, m := range ifMetrics {
		iface, known := byIndex[ifIndex]
		cls := classifier.Classify(m.ifAlias, m.ifDescr, m.ifName, m.ifType)
		record := store.DeviceInterface{
			DeviceID:                 job.DeviceID,
			IfIndex:                  ifIndex,
			IfName:                   m.ifName,
			IfAlias:                  m.ifAlias,
			IfDescr:                  m.ifDescr,
			IfType:                   m.ifType,
			IfSpeed:                  m.ifSpeed,
			InterfaceType:            cls.InterfaceType,
			ISPProvider:              cls.ISPProvider,
			IsCritical:               cls.IsCritical,
			ClassificationConfidence: cls.Confidence,
			OperStatus:               m.operStatus,
			AdminStatus:              m.adminStatus,
			LastSeenAt:               time.Now().UTC(),
		}
		changed, err := p.store.UpsertInterface(pollCtx, record)
		if err != nil {
			log.Error().Err(err).Str("device_id", job.DeviceID).Int("if_index", ifIndex).Msg("failed to upsert interface")
			continue
		}
		if changed && known && p.bus != nil {
			p.bus.PublishInterfaceStatus(events.InterfaceStatusChanged{
				DeviceID:    job.DeviceID,
				InterfaceID: iface.ID,
				Old:         string(iface.OperStatus),
				New:         string(m.operStatus),
				Timestamp:   time.Now().UTC(),
			})
		}
		if p.ts != nil {
			p.ts.WriteInterfaceSample(timeseries.InterfaceSampleLabels{
				DeviceIP:      job.DeviceIP,
				DeviceName:    job.DeviceName,
				IfIndex:       ifIndex,
				IfName:        m.ifName,
				InterfaceType: cls.InterfaceType,
				ISPProvider:   derefOrEmpty(cls.ISPProvider),
				IsCritical:    cls.IsCritical,
			}, m.operStatus == store.OperStatusUp, m.inOctets, m.outOctets, m.inErrors, m.outErrors, m.inDiscards, m.outDiscards, m.ifSpeed)
		}
	}
}

func (p *SNMPPoller) fail(ip string, err error, msg string) {
	log.Debug().Err(err).Str("ip", ip).Msg(msg)
	if p.met != nil {
		p.met.IncSNMPPoll("error")
	}
	if p.breaker.reportFail(ip, p.cfg.MaxConsecutiveFails, p.cfg.CircuitBreakerBackoff) {
		log.Warn().Str("ip", ip).Dur("backoff", p.cfg.CircuitBreakerBackoff).Msg("snmp circuit breaker tripped, suspending device")
	}
}

func (p *SNMPPoller) buildParams(job snmpJob) *gosnmp.GoSNMP {
	params := &gosnmp.GoSNMP{
		Target:  job.DeviceIP,
		Port:    uint16(job.Port),
		Timeout: p.cfg.Timeout,
		Retries: p.cfg.Retries,
	}
	if strings.EqualFold(job.Version, "v3") {
		params.Version = gosnmp.Version3
		params.SecurityModel = gosnmp.UserSecurityModel
		params.MsgFlags = securityLevelFromString(p.cfg.V3SecurityLv)
		params.SecurityParameters = &gosnmp.UsmSecurityParameters{
			UserName:                 p.cfg.V3User,
			AuthenticationProtocol:   authProtocolFromString(p.cfg.V3AuthProto),
			AuthenticationPassphrase: p.cfg.V3AuthKey,
			PrivacyProtocol:          privProtocolFromString(p.cfg.V3PrivProto),
			PrivacyPassphrase:        p.cfg.V3PrivKey,
		}
		return params
	}
	params.Version = gosnmp.Version2c
	params.Community = p.cfg.Community
	return params
}

func authProtocolFromString(s string) gosnmp.SnmpV3AuthProtocol {
	switch strings.ToUpper(s) {
	case "SHA":
		return gosnmp.SHA
	case "SHA224":
		return gosnmp.SHA224
	case "SHA256":
		return gosnmp.SHA256
	case "SHA384":
		return gosnmp.SHA384
	case "SHA512":
		return gosnmp.SHA512
	case "MD5":
		return gosnmp.MD5
	default:
		return gosnmp.NoAuth
	}
}

func privProtocolFromString(s string) gosnmp.SnmpV3PrivProtocol {
	switch strings.ToUpper(s) {
	case "AES":
		return gosnmp.AES
	case "AES192":
		return gosnmp.AES192
	case "AES256":
		return gosnmp.AES256
	case "DES":
		return gosnmp.DES
	default:
		return gosnmp.NoPriv
	}
}

func securityLevelFromString(s string) gosnmp.SnmpV3MsgFlags {
	switch strings.ToUpper(s) {
	case "AUTHPRIV":
		return gosnmp.AuthPriv
	case "AUTHNOPRIV":
		return gosnmp.AuthNoPriv
	default:
		return gosnmp.NoAuthNoPriv
	}
}

// ifMetrics is one interface's sampled row from an ifTable walk.
type ifMetrics struct {
	ifDescr, ifName, ifAlias          string
	ifType                            int
	ifSpeed                           uint64
	operStatus, adminStatus           store.OperStatus
	inOctets, outOctets               uint64
	inErrors, outErrors               uint64
	inDiscards, outDiscards           uint64
}

// walkIfTable bulk-walks the ifTable/ifXTable columns this engine tracks and
// assembles one ifMetrics row per ifIndex (spec.md §4.3).
func (p *SNMPPoller) walkIfTable(params *gosnmp.GoSNMP) (map[int]ifMetrics, error) {
	result := make(map[int]ifMetrics)

	columns := []struct {
		oid   string
		apply func(*ifMetrics, gosnmp.SnmpPDU)
	}{
		{oidIfDescr, func(m *ifMetrics, v gosnmp.SnmpPDU) { m.ifDescr = pduString(v) }},
		{oidIfName, func(m *ifMetrics, v gosnmp.SnmpPDU) { m.ifName = pduString(v) }},
		{oidIfAlias, func(m *ifMetrics, v gosnmp.SnmpPDU) { m.ifAlias = pduString(v) }},
		{oidIfType, func(m *ifMetrics, v gosnmp.SnmpPDU) { m.ifType = int(pduUint(v)) }},
		{oidIfSpeed, func(m *ifMetrics, v gosnmp.SnmpPDU) { m.ifSpeed = pduUint(v) }},
		{oidIfAdminStatus, func(m *ifMetrics, v gosnmp.SnmpPDU) { m.adminStatus = operStatusFromInt(pduUint(v)) }},
		{oidIfOperStatus, func(m *ifMetrics, v gosnmp.SnmpPDU) { m.operStatus = operStatusFromInt(pduUint(v)) }},
		{oidIfHCInOctets, func(m *ifMetrics, v gosnmp.SnmpPDU) { m.inOctets = pduUint(v) }},
		{oidIfHCOutOctets, func(m *ifMetrics, v gosnmp.SnmpPDU) { m.outOctets = pduUint(v) }},
		{oidIfInErrors, func(m *ifMetrics, v gosnmp.SnmpPDU) { m.inErrors = pduUint(v) }},
		{oidIfOutErrors, func(m *ifMetrics, v gosnmp.SnmpPDU) { m.outErrors = pduUint(v) }},
		{oidIfInDiscards, func(m *ifMetrics, v gosnmp.SnmpPDU) { m.inDiscards = pduUint(v) }},
		{oidIfOutDiscards, func(m *ifMetrics, v gosnmp.SnmpPDU) { m.outDiscards = pduUint(v) }},
	}

	for _, col := range columns {
		err := params.BulkWalk(col.oid, func(pdu gosnmp.SnmpPDU) error {
			idx, err := ifIndexFromOID(pdu.Name, col.oid)
			if err != nil {
				return nil
			}
			m := result[idx]
			col.apply(&m, pdu)
			result[idx] = m
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("walk %s: %w", col.oid, err)
		}
	}
	return result, nil
}

func ifIndexFromOID(oid, base string) (int, error) {
	if !strings.HasPrefix(oid, "."+base) && !strings.HasPrefix(oid, base) {
		return 0, fmt.Errorf("oid %s not under base %s", oid, base)
	}
	trimmed := strings.TrimPrefix(strings.TrimPrefix(oid, "."), strings.TrimPrefix(base, "."))
	trimmed = strings.TrimPrefix(trimmed, ".")
	var idx int
	if _, err := fmt.Sscanf(trimmed, "%d", &idx); err != nil {
		return 0, err
	}
	return idx, nil
}

func operStatusFromInt(v uint64) store.OperStatus {
	switch v {
	case 1:
		return store.OperStatusUp
	case 2:
		return store.OperStatusDown
	default:
		return store.OperStatusUnknown
	}
}

func pduUint(v gosnmp.SnmpPDU) uint64 {
	switch val := v.Value.(type) {
	case uint:
		return uint64(val)
	case uint64:
		return val
	case int:
		if val < 0 {
			return 0
		}
		return uint64(val)
	default:
		return 0
	}
}

func pduString(v gosnmp.SnmpPDU) string {
	switch val := v.Value.(type) {
	case string:
		return sanitizeSNMPString(val)
	case []byte:
		return sanitizeSNMPString(string(val))
	default:
		return ""
	}
}

func derefOrEmpty(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// querySystemInfo fetches sysName/sysDescr, falling back from Get to GetNext
// when the agent doesn't implement the .0 scalar instance directly (teacher's
// snmpGetWithFallback pattern, internal/discovery/scanner.go).
func (p *SNMPPoller) querySystemInfo(params *gosnmp.GoSNMP) (sysName, sysDescr string, err error) {
	oids := []string{oidSysName, oidSysDescr}
	resp, err := params.Get(oids)
	if err != nil || len(resp.Variables) < 2 || hasNoSuchInstance(resp) {
		resp, err = getNextFallback(params, oids)
		if err != nil {
			return "", "", err
		}
	}
	if len(resp.Variables) < 2 {
		return "", "", fmt.Errorf("incomplete system info response")
	}
	return pduString(resp.Variables[0]), pduString(resp.Variables[1]), nil
}

func hasNoSuchInstance(resp *gosnmp.SnmpPacket) bool {
	for _, v := range resp.Variables {
		if v.Type == gosnmp.NoSuchInstance || v.Type == gosnmp.NoSuchObject {
			return true
		}
	}
	return false
}

func getNextFallback(params *gosnmp.GoSNMP, oids []string) (*gosnmp.SnmpPacket, error) {
	variables := make([]gosnmp.SnmpPDU, 0, len(oids))
	for _, oid := range oids {
		base := strings.TrimSuffix(oid, ".0")
		resp, err := params.GetNext([]string{base})
		if err != nil {
			continue
		}
		if len(resp.Variables) > 0 && strings.HasPrefix(resp.Variables[0].Name, base) {
			variables = append(variables, resp.Variables[0])
		}
	}
	if len(variables) == 0 {
		return nil, fmt.Errorf("no valid SNMP data retrieved")
	}
	return &gosnmp.SnmpPacket{Variables: variables}, nil
}

// sanitizeSNMPString mirrors the teacher's validateSNMPString sanitization
// (internal/monitoring/snmppoller.go): caps length at 1024 bytes, turns
// tabs and line breaks into spaces, strips other control and non-ASCII
// characters, and trims surrounding whitespace.
func sanitizeSNMPString(s string) string {
	if strings.ContainsRune(s, '\x00') {
		s = strings.ReplaceAll(s, "\x00", "")
	}
	if len(s) > 1024 {
		s = s[:1024]
	}
	s = strings.Map(func(r rune) rune {
		if r == '\n' || r == '\r' || r == '\t' {
			return ' '
		}
		if r < 32 || r > 126 {
			return -1
		}
		return r
	}, s)
	return strings.TrimSpace(s)
}

// Close drains the worker pool.
func (p *SNMPPoller) Close() { p.queue.Close() }

// Depth reports the pending job count, satisfying health.QueueDepth.
func (p *SNMPPoller) Depth() int { return p.queue.Depth() }

// Dropped reports the cumulative dropped-job count, satisfying health.QueueDepth.
func (p *SNMPPoller) Dropped() int64 { return p.queue.Dropped() }
