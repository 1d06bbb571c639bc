package store

import (
	"context"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// NextFireAt returns the persisted next-fire timestamp for a cadence name,
// or the zero time if the cadence has never fired (caller seeds it).
func (s *Store) NextFireAt(ctx context.Context, name string) (time.Time, error) {
	var st ScheduleState
	err := s.db.WithContext(ctx).First(&st, "name = ?", name).Error
	if err != nil {
		if convertNotFoundError(err) == ErrNotFound {
			return time.Time{}, nil
		}
		return time.Time{}, err
	}
	return st.NextFireAt, nil
}

// AdvanceSchedule persists the computed next-fire timestamp and sweep id for
// a cadence, implementing the "restart resumes without double-firing" rule
// (spec.md §4.1) via an upsert keyed on the cadence name.
func (s *Store) AdvanceSchedule(ctx context.Context, name string, nextFireAt time.Time, sweepID string) error {
	st := ScheduleState{Name: name, NextFireAt: nextFireAt, LastSweepID: sweepID}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "name"}},
		DoUpdates: clause.AssignmentColumns([]string{"next_fire_at", "last_sweep_id", "updated_at"}),
	}).Create(&st).Error
}

// AcquireSingletonLock enforces the scheduler-is-a-singleton requirement
// (spec.md §4.1). On SQLite (single-process by construction) this is a
// no-op that always succeeds. On Postgres it takes a session-level advisory
// lock that is released when the connection closes, so a crashed instance
// releases the lock automatically rather than requiring explicit unlock.
func (s *Store) AcquireSingletonLock(ctx context.Context, key int64) (bool, error) {
	if s.driver != "postgres" {
		return true, nil
	}
	var locked bool
	err := s.db.WithContext(ctx).Raw("SELECT pg_try_advisory_lock(?)", key).Scan(&locked).Error
	return locked, err
}

// WithTx runs fn inside a transaction, for callers (e.g. the alert engine)
// that need multiple store operations to commit atomically.
func (s *Store) WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	return s.db.WithContext(ctx).Transaction(fn)
}
