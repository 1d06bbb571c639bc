package store

import (
	"context"
	"time"

	"gorm.io/gorm"
)

// ListEnabledRules returns every enabled alert rule, for the engine's
// per-tick in-memory evaluation (spec.md §4.6).
func (s *Store) ListEnabledRules(ctx context.Context) ([]AlertRule, error) {
	var rules []AlertRule
	err := s.db.WithContext(ctx).Where("enabled = ?", true).Find(&rules).Error
	return rules, err
}

// GetAlertRule fetches one rule by id, used by the read API to resolve
// rule_name on an active-problem row without denormalizing the name onto
// ActiveProblem itself.
func (s *Store) GetAlertRule(ctx context.Context, id string) (*AlertRule, error) {
	var r AlertRule
	if err := s.db.WithContext(ctx).First(&r, "id = ?", id).Error; err != nil {
		return nil, convertNotFoundError(err)
	}
	return &r, nil
}

// OpenProblem returns the currently-open row for (rule, device, interface),
// or ErrNotFound if none is open.
func (s *Store) OpenProblem(ctx context.Context, ruleID, deviceID string, interfaceID *string) (*ActiveProblem, error) {
	q := s.db.WithContext(ctx).Where("rule_id = ? AND device_id = ? AND resolved_at IS NULL", ruleID, deviceID)
	if interfaceID != nil {
		q = q.Where("interface_id = ?", *interfaceID)
	} else {
		q = q.Where("interface_id IS NULL")
	}
	var p ActiveProblem
	if err := q.First(&p).Error; err != nil {
		return nil, convertNotFoundError(err)
	}
	return &p, nil
}

// OpenOrBumpProblem implements the dedup/lifecycle rule from spec.md §4.6:
// a repeat firing within cooldown bumps event_count/last_seen on the
// existing open row; otherwise a new row opens. Returns whether a new row
// was created (for alert_history bookkeeping by the caller).
func (s *Store) OpenOrBumpProblem(ctx context.Context, p ActiveProblem) (opened bool, result ActiveProblem, err error) {
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		q := tx.Where("rule_id = ? AND device_id = ? AND resolved_at IS NULL", p.RuleID, p.DeviceID)
		if p.InterfaceID != nil {
			q = q.Where("interface_id = ?", *p.InterfaceID)
		} else {
			q = q.Where("interface_id IS NULL")
		}
		var existing ActiveProblem
		lookupErr := q.First(&existing).Error
		switch {
		case lookupErr == nil:
			existing.LastSeen = p.LastSeen
			existing.EventCount++
			existing.Suppressed = p.Suppressed
			existing.Flapping = p.Flapping
			existing.Severity = p.Severity
			if err := tx.Save(&existing).Error; err != nil {
				return err
			}
			result = existing
			opened = false
			return nil
		case convertNotFoundError(lookupErr) == ErrNotFound:
			if err := tx.Create(&p).Error; err != nil {
				return err
			}
			result = p
			opened = true
			return nil
		default:
			return lookupErr
		}
	})
	return opened, result, err
}

// ResolveProblem closes an open problem; resolving an already-closed
// problem is a no-op (idempotent, spec.md §8 law).
func (s *Store) ResolveProblem(ctx context.Context, id string, resolvedAt time.Time) error {
	return s.db.WithContext(ctx).Model(&ActiveProblem{}).
		Where("id = ? AND resolved_at IS NULL", id).
		Update("resolved_at", resolvedAt).Error
}

// ListActiveProblems returns open problems, optionally filtered by severity
// and device id, for the read API.
func (s *Store) ListActiveProblems(ctx context.Context, severity, deviceID string) ([]ActiveProblem, error) {
	q := s.db.WithContext(ctx).Where("resolved_at IS NULL")
	if severity != "" {
		q = q.Where("severity = ?", severity)
	}
	if deviceID != "" {
		q = q.Where("device_id = ?", deviceID)
	}
	var problems []ActiveProblem
	err := q.Order("first_triggered desc").Find(&problems).Error
	return problems, err
}

// AppendHistory records a transition in the append-only journal. Alert
// evaluation's idempotence law (spec.md §8) depends on the engine only
// calling this on an actual transition, never on a steady-state re-eval.
func (s *Store) AppendHistory(ctx context.Context, h AlertHistory) error {
	return s.db.WithContext(ctx).Create(&h).Error
}

// ActiveMaintenanceWindows returns every window covering `at`, for all
// devices; the caller matches its DeviceIDs, used to suppress rule firing
// (spec.md §4.6).
func (s *Store) ActiveMaintenanceWindows(ctx context.Context, at time.Time) ([]MaintenanceWindow, error) {
	var windows []MaintenanceWindow
	err := s.db.WithContext(ctx).Where("start <= ? AND end >= ?", at, at).Find(&windows).Error
	return windows, err
}
