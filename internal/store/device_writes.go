package store

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// PingObservation is what the ping worker reports back after a probe.
type PingObservation struct {
	DeviceID  string
	Reachable bool
	RTTMs     float64
	LossPct   float64
	Now       time.Time
}

// ApplyPingObservation performs the Up/Down state machine's store-side
// effect transactionally: it is the single place Device.reachability,
// down_since, and the status-change ring are mutated (spec.md §3
// ownership rule).
//
// newRing is the caller-computed (via internal/devicestate) encoded ring
// after pushing `now` if a transition occurred; isFlapping is the flap flag
// the caller computed from that ring.
func (s *Store) ApplyPingObservation(ctx context.Context, obs PingObservation, newReachability Reachability, newDownSince *time.Time, newRing string, isFlapping bool) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		updates := map[string]interface{}{
			"reachability":       newReachability,
			"down_since":         newDownSince,
			"last_probe_at":      obs.Now,
			"last_rtt_ms":        obs.RTTMs,
			"last_loss_pct":      obs.LossPct,
			"status_change_ring": newRing,
			"is_flapping":        isFlapping,
			"updated_at":         obs.Now,
		}
		res := tx.Model(&Device{}).Where("id = ?", obs.DeviceID).Updates(updates)
		if res.Error != nil {
			return res.Error
		}
		return nil
	})
}

// InsertPingResult appends a row to the bounded rolling log, best-effort
// (caller decides whether to surface failure; spec.md §9 says nothing reads
// this table, so callers should not fail a sweep over this write failing).
func (s *Store) InsertPingResult(ctx context.Context, r PingResult) error {
	return s.db.WithContext(ctx).Create(&r).Error
}

// TrimPingResults deletes rows older than the retention window, called from
// retention_cleanup.
func (s *Store) TrimPingResults(ctx context.Context, olderThan time.Time) error {
	return s.db.WithContext(ctx).Where("timestamp < ?", olderThan).Delete(&PingResult{}).Error
}

// SeedDevice creates a device row for a newly-discovered IP if one does not
// already exist; an existing row (operator-edited name/classification/
// enabled flag) is left untouched. Returns whether a row was created.
func (s *Store) SeedDevice(ctx context.Context, d Device) (created bool, err error) {
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing Device
		lookupErr := tx.Where("ip = ?", d.IP).First(&existing).Error
		switch {
		case lookupErr == nil:
			created = false
			return nil
		case convertNotFoundError(lookupErr) == ErrNotFound:
			if createErr := tx.Create(&d).Error; createErr != nil {
				if isUniqueConstraintError(createErr) {
					// Lost a race with another seeder; the device now
					// exists, which is all SeedDevice promises.
					created = false
					return nil
				}
				return createErr
			}
			created = true
			return nil
		default:
			return lookupErr
		}
	})
	return created, err
}

// UpsertInterface creates or updates one (device, ifIndex) row from a
// discovery walk, applying classifier output. Returns whether oper_status
// changed so the caller can emit InterfaceStatusChanged.
func (s *Store) UpsertInterface(ctx context.Context, iface DeviceInterface) (changed bool, err error) {
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing DeviceInterface
		lookupErr := tx.Where("device_id = ? AND if_index = ?", iface.DeviceID, iface.IfIndex).First(&existing).Error
		switch {
		case lookupErr == nil:
			changed = existing.OperStatus != iface.OperStatus
			iface.ID = existing.ID
			iface.CreatedAt = existing.CreatedAt
			if changed {
				iface.LastStatusChangeAt = &iface.LastSeenAt
			} else {
				iface.LastStatusChangeAt = existing.LastStatusChangeAt
			}
			// A field map (not Updates(&iface)) so a re-classification that
			// clears ISPProvider to nil or drops IsCritical/Confidence to
			// their zero value actually persists; GORM's struct form skips
			// zero-valued fields, which would otherwise leave a stale
			// classification in place (spec.md §8 invariant 7).
			updates := map[string]interface{}{
				"if_name":                   iface.IfName,
				"if_alias":                  iface.IfAlias,
				"if_descr":                  iface.IfDescr,
				"if_type":                   iface.IfType,
				"if_speed":                  iface.IfSpeed,
				"interface_type":            iface.InterfaceType,
				"isp_provider":              iface.ISPProvider,
				"is_critical":               iface.IsCritical,
				"classification_confidence": iface.ClassificationConfidence,
				"oper_status":               iface.OperStatus,
				"admin_status":              iface.AdminStatus,
				"last_seen_at":              iface.LastSeenAt,
				"last_status_change_at":     iface.LastStatusChangeAt,
			}
			return tx.Model(&DeviceInterface{}).Where("id = ?", existing.ID).Updates(updates).Error
		case convertNotFoundError(lookupErr) == ErrNotFound:
			changed = true
			if iface.ID == "" {
				iface.ID = uuid.NewString()
			}
			iface.LastStatusChangeAt = &iface.LastSeenAt
			return tx.Create(&iface).Error
		default:
			return lookupErr
		}
	})
	return changed, err
}

// UpdateInterfaceMetrics updates the live oper_status fields sampled during
// an interface-metrics sweep (spec.md §4.3), separate from a full discovery
// upsert.
func (s *Store) UpdateInterfaceMetrics(ctx context.Context, id string, operStatus OperStatus, now time.Time) (changed bool, err error) {
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing DeviceInterface
		if lookupErr := tx.First(&existing, "id = ?", id).Error; lookupErr != nil {
			return lookupErr
		}
		changed = existing.OperStatus != operStatus
		updates := map[string]interface{}{
			"oper_status":  operStatus,
			"last_seen_at": now,
		}
		if changed {
			updates["last_status_change_at"] = now
		}
		return tx.Model(&DeviceInterface{}).Where("id = ?", id).Updates(updates).Error
	})
	return changed, err
}

// SetISPRouterFlag persists the resolved IsISPRouter flag, logging (at the
// caller level) when the two detection signals disagree.
func (s *Store) SetISPRouterFlag(ctx context.Context, deviceID string, isISP bool) error {
	return s.db.WithContext(ctx).Model(&Device{}).Where("id = ?", deviceID).Update("is_isp_router", isISP).Error
}

// StaleInterfaceIDs returns the ids of interfaces whose last_seen_at is
// older than olderThan, for retention_cleanup to report; the rows are
// neither deleted nor modified (spec.md §3 lifecycle).
func (s *Store) StaleInterfaceIDs(ctx context.Context, olderThan time.Time) ([]string, error) {
	var ids []string
	err := s.db.WithContext(ctx).Model(&DeviceInterface{}).
		Where("last_seen_at < ?", olderThan).
		Pluck("id", &ids).Error
	return ids, err
}
