// Package retention implements the daily retention_cleanup cadence
// (spec.md §4.1, §6 RETENTION_DAYS_TIMESERIES/INTERFACE_STALE_DAYS): trims
// the bounded ping_results rolling log and reports interfaces that have
// gone stale. Time-series-store retention (InfluxDB) is enforced by the
// bucket's own retention policy at provisioning time, not from here — this
// package only owns what the relational store holds (spec.md §9's
// resolution that ping_results "derives nothing" beyond its own bound).
package retention

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/extkljajicm/branchwatch/internal/store"
)

// Config carries the subset of config.Config the cleanup job needs.
type Config struct {
	RetentionDaysTimeSeries int
	InterfaceStaleDays      int
}

// Cleaner runs the retention_cleanup cadence.
type Cleaner struct {
	store *store.Store
	cfg   Config
}

// New constructs a Cleaner.
func New(st *store.Store, cfg Config) *Cleaner {
	if cfg.RetentionDaysTimeSeries <= 0 {
		cfg.RetentionDaysTimeSeries = 30
	}
	if cfg.InterfaceStaleDays <= 0 {
		cfg.InterfaceStaleDays = 7
	}
	return &Cleaner{store: st, cfg: cfg}
}

// RunCleanup is the retention_cleanup cadence entrypoint (spec.md §4.1).
func (c *Cleaner) RunCleanup(ctx context.Context, sweepID string) {
	now := time.Now().UTC()

	cutoff := now.AddDate(0, 0, -c.cfg.RetentionDaysTimeSeries)
	if err := c.store.TrimPingResults(ctx, cutoff); err != nil {
		log.Error().Err(err).Str("sweep_id", sweepID).Msg("retention cleanup: failed to trim ping_results")
	}

	staleCutoff := now.AddDate(0, 0, -c.cfg.InterfaceStaleDays)
	staleIDs, err := c.store.StaleInterfaceIDs(ctx, staleCutoff)
	if err != nil {
		log.Error().Err(err).Str("sweep_id", sweepID).Msg("retention cleanup: failed to list stale interfaces")
		return
	}
	if len(staleIDs) > 0 {
		log.Info().Str("sweep_id", sweepID).Int("count", len(staleIDs)).Msg("retention cleanup: interfaces past staleness window (soft-retired, not polled)")
	}
}
