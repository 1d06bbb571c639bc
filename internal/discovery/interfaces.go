package discovery

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/gosnmp/gosnmp"
	"github.com/rs/zerolog/log"

	"github.com/extkljajicm/branchwatch/internal/classifier"
	"github.com/extkljajicm/branchwatch/internal/config"
	"github.com/extkljajicm/branchwatch/internal/store"
)

// IF-MIB columns walked per device (spec.md §4.3). Duplicated rather than
// imported from internal/monitoring to avoid a circular dependency between
// the two packages, mirroring the teacher's own snmpGetWithFallback
// duplication between internal/discovery and internal/monitoring.
const (
	discIfDescr       = "1.3.6.1.2.1.2.2.1.2"
	discIfType        = "1.3.6.1.2.1.2.2.1.3"
	discIfSpeed       = "1.3.6.1.2.1.2.2.1.5"
	discIfAdminStatus = "1.3.6.1.2.1.2.2.1.7"
	discIfOperStatus  = "1.3.6.1.2.1.2.2.1.8"
	discIfAlias       = "1.3.6.1.2.1.31.1.1.1.18"
	discIfName        = "1.3.6.1.2.1.31.1.1.1.1"
)

// InterfaceDiscoverer walks IF-MIB on one device at a time and reconciles
// the result against the store, run from the daily interface_discovery
// cadence (spec.md §4.1, §4.3).
type InterfaceDiscoverer struct {
	store *store.Store
	snmp  config.SNMPConfig
}

// NewInterfaceDiscoverer constructs a discoverer over the default SNMP
// connection parameters; per-device overrides are applied in Discover.
func NewInterfaceDiscoverer(st *store.Store, snmpCfg config.SNMPConfig) *InterfaceDiscoverer {
	return &InterfaceDiscoverer{store: st, snmp: snmpCfg}
}

// Discover walks one device's ifTable, upserts every interface it finds, and
// resolves the IsISPRouter flag per the dual-criteria rule (spec.md §9: the
// ".5" IP-suffix heuristic and "has a classified ISP interface" are both
// evaluated, disagreement is logged, an already-set flag wins).
func (d *InterfaceDiscoverer) Discover(ctx context.Context, device store.Device) error {
	params := d.buildParams(device)
	if err := params.Connect(); err != nil {
		return fmt.Errorf("snmp connect to %s: %w", device.IP, err)
	}
	defer params.Conn.Close()

	rows, err := d.walk(params)
	if err != nil {
		return fmt.Errorf("ifTable walk for %s: %w", device.IP, err)
	}

	hasISPInterface := false
	now := time.Now().UTC()
	for ifIndex, row := range rows {
		cls := classifier.Classify(row.ifAlias, row.ifDescr, row.ifName, row.ifType)
		if cls.InterfaceType == "isp" {
			hasISPInterface = true
		}
		iface := store.DeviceInterface{
			DeviceID:                 device.ID,
			IfIndex:                  ifIndex,
			IfName:                   row.ifName,
			IfAlias:                  row.ifAlias,
			IfDescr:                  row.ifDescr,
			IfType:                   row.ifType,
			IfSpeed:                  row.ifSpeed,
			InterfaceType:            cls.InterfaceType,
			ISPProvider:              cls.ISPProvider,
			IsCritical:               cls.IsCritical,
			ClassificationConfidence: cls.Confidence,
			OperStatus:               row.operStatus,
			AdminStatus:              row.adminStatus,
			LastSeenAt:               now,
		}
		if _, err := d.store.UpsertInterface(ctx, iface); err != nil {
			log.Error().Err(err).Str("device_id", device.ID).Int("if_index", ifIndex).Msg("failed to upsert discovered interface")
		}
	}

	d.resolveISPRouter(ctx, device, hasISPInterface)
	return nil
}

func (d *InterfaceDiscoverer) resolveISPRouter(ctx context.Context, device store.Device, hasISPInterface bool) {
	heuristic := strings.HasSuffix(device.IP, ".5")
	if heuristic != hasISPInterface {
		log.Warn().
			Str("device_id", device.ID).
			Bool("dot5_heuristic", heuristic).
			Bool("classified_isp_interface", hasISPInterface).
			Msg("ISP-router detection signals disagree")
	}

	resolved := device.IsISPRouter || hasISPInterface || heuristic
	if resolved == device.IsISPRouter {
		return
	}
	if err := d.store.SetISPRouterFlag(ctx, device.ID, resolved); err != nil {
		log.Error().Err(err).Str("device_id", device.ID).Msg("failed to persist resolved ISP-router flag")
	}
}

type ifRow struct {
	ifDescr, ifName, ifAlias string
	ifType                   int
	ifSpeed                  uint64
	operStatus, adminStatus  store.OperStatus
}

func (d *InterfaceDiscoverer) walk(params *gosnmp.GoSNMP) (map[int]ifRow, error) {
	rows := make(map[int]ifRow)
	columns := []struct {
		oid   string
		apply func(*ifRow, gosnmp.SnmpPDU)
	}{
		{discIfDescr, func(r *ifRow, v gosnmp.SnmpPDU) { r.ifDescr = pduToString(v) }},
		{discIfName, func(r *ifRow, v gosnmp.SnmpPDU) { r.ifName = pduToString(v) }},
		{discIfAlias, func(r *ifRow, v gosnmp.SnmpPDU) { r.ifAlias = pduToString(v) }},
		{discIfType, func(r *ifRow, v gosnmp.SnmpPDU) { r.ifType = int(pduToUint(v)) }},
		{discIfSpeed, func(r *ifRow, v gosnmp.SnmpPDU) { r.ifSpeed = pduToUint(v) }},
		{discIfAdminStatus, func(r *ifRow, v gosnmp.SnmpPDU) { r.adminStatus = ifStatusFromInt(pduToUint(v)) }},
		{discIfOperStatus, func(r *ifRow, v gosnmp.SnmpPDU) { r.operStatus = ifStatusFromInt(pduToUint(v)) }},
	}

	for _, col := range columns {
		err := params.BulkWalk(col.oid, func(pdu gosnmp.SnmpPDU) error {
			idx, err := lastOIDSegment(pdu.Name)
			if err != nil {
				return nil
			}
			row := rows[idx]
			col.apply(&row, pdu)
			rows[idx] = row
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("walk %s: %w", col.oid, err)
		}
	}
	return rows, nil
}

func (d *InterfaceDiscoverer) buildParams(device store.Device) *gosnmp.GoSNMP {
	version := device.SNMPVersion
	if version == "" {
		version = d.snmp.Version
	}
	port := device.SNMPPort
	if port == 0 {
		port = d.snmp.Port
	}
	params := &gosnmp.GoSNMP{
		Target:  device.IP,
		Port:    uint16(port),
		Timeout: d.snmp.Timeout,
		Retries: d.snmp.Retries,
	}
	if strings.EqualFold(version, "v3") {
		params.Version = gosnmp.Version3
		params.SecurityModel = gosnmp.UserSecurityModel
		params.MsgFlags = discSecurityLevel(d.snmp.V3SecurityLv)
		params.SecurityParameters = &gosnmp.UsmSecurityParameters{
			UserName:                 d.snmp.V3User,
			AuthenticationProtocol:   discAuthProtocol(d.snmp.V3AuthProto),
			AuthenticationPassphrase: d.snmp.V3AuthKey,
			PrivacyProtocol:          discPrivProtocol(d.snmp.V3PrivProto),
			PrivacyPassphrase:        d.snmp.V3PrivKey,
		}
		return params
	}
	params.Version = gosnmp.Version2c
	params.Community = d.snmp.Community
	return params
}

func discAuthProtocol(s string) gosnmp.SnmpV3AuthProtocol {
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

func discPrivProtocol(s string) gosnmp.SnmpV3PrivProtocol {
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

func discSecurityLevel(s string) gosnmp.SnmpV3MsgFlags {
	switch strings.ToUpper(s) {
	case "AUTHPRIV":
		return gosnmp.AuthPriv
	case "AUTHNOPRIV":
		return gosnmp.AuthNoPriv
	default:
		return gosnmp.NoAuthNoPriv
	}
}

func lastOIDSegment(oid string) (int, error) {
	trimmed := strings.TrimPrefix(oid, ".")
	parts := strings.Split(trimmed, ".")
	if len(parts) == 0 {
		return 0, fmt.Errorf("empty oid")
	}
	return strconv.Atoi(parts[len(parts)-1])
}

func ifStatusFromInt(v uint64) store.OperStatus {
	switch v {
	case 1:
		return store.OperStatusUp
	case 2:
		return store.OperStatusDown
	default:
		return store.OperStatusUnknown
	}
}

func pduToUint(v gosnmp.SnmpPDU) uint64 {
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

func pduToString(v gosnmp.SnmpPDU) string {
	var s string
	switch val := v.Value.(type) {
	case string:
		s = val
	case []byte:
		s = string(val)
	default:
		return ""
	}
	if len(s) > 255 {
		s = s[:255]
	}
	return strings.TrimSpace(s)
}
