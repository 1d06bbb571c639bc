// Package scheduler emits periodic fan-out jobs on fixed cadences and
// guarantees no schedule drift under load (spec.md §4.1). It must run as a
// singleton; internal/store.AcquireSingletonLock enforces that on
// Postgres, while SQLite mode is single-process by construction.
package scheduler

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/extkljajicm/branchwatch/internal/store"
)

// Cadence is one scheduled job: either a fixed period or a daily HH:MM.
type Cadence struct {
	Name     string
	Period   time.Duration // zero if DailyAt is set
	DailyAt  string        // HH:MM local, empty if Period is set
	Fn       func(ctx context.Context, sweepID string)
}

// Scheduler drives every cadence from a single ticking loop, persisting
// next-fire timestamps so a restart does not double-fire a slot within its
// period (spec.md §4.1).
type Scheduler struct {
	store    *store.Store
	cadences []Cadence
	tick     time.Duration
}

// New constructs a scheduler over the given cadences. tick is the
// scheduler's own polling resolution (1s is plenty relative to the
// fastest cadence, T_alert at 10s).
func New(st *store.Store, cadences []Cadence, tick time.Duration) *Scheduler {
	if tick <= 0 {
		tick = time.Second
	}
	return &Scheduler{store: st, cadences: cadences, tick: tick}
}

// Run blocks, firing due cadences until ctx is cancelled. Callers should
// first call AcquireSingletonLock and only call Run if it returned true
// (spec.md §4.1 "must be run as a singleton").
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.tick)
	defer ticker.Stop()

	for _, c := range s.cadences {
		s.seed(ctx, c)
	}

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			for _, c := range s.cadences {
				s.maybeFire(ctx, c, now.UTC())
			}
		}
	}
}

func (s *Scheduler) seed(ctx context.Context, c Cadence) {
	existing, err := s.store.NextFireAt(ctx, c.Name)
	if err != nil {
		log.Error().Err(err).Str("cadence", c.Name).Msg("failed to load persisted schedule state, seeding fresh")
	}
	if !existing.IsZero() {
		return
	}
	next := s.firstFire(c, time.Now().UTC())
	if err := s.store.AdvanceSchedule(ctx, c.Name, next, ""); err != nil {
		log.Error().Err(err).Str("cadence", c.Name).Msg("failed to seed schedule state")
	}
}

func (s *Scheduler) firstFire(c Cadence, now time.Time) time.Time {
	if c.DailyAt != "" {
		next, err := nextDailyAt(c.DailyAt, now)
		if err != nil {
			log.Error().Err(err).Str("cadence", c.Name).Msg("invalid daily schedule, defaulting to now+24h")
			return now.Add(24 * time.Hour)
		}
		return next
	}
	return now.Add(c.Period)
}

func (s *Scheduler) maybeFire(ctx context.Context, c Cadence, now time.Time) {
	nextFireAt, err := s.store.NextFireAt(ctx, c.Name)
	if err != nil {
		log.Error().Err(err).Str("cadence", c.Name).Msg("failed to read schedule state, skipping this tick")
		return
	}
	if nextFireAt.IsZero() || now.Before(nextFireAt) {
		return
	}

	sweepID := uuid.NewString()
	log.Debug().Str("cadence", c.Name).Str("sweep_id", sweepID).Msg("firing scheduled cadence")

	var next time.Time
	if c.DailyAt != "" {
		next, err = nextDailyAt(c.DailyAt, now)
		if err != nil {
			log.Error().Err(err).Str("cadence", c.Name).Msg("invalid daily schedule on fire, defaulting to now+24h")
			next = now.Add(24 * time.Hour)
		}
	} else {
		next = computeNext(nextFireAt, c.Period, now)
	}

	if err := s.store.AdvanceSchedule(ctx, c.Name, next, sweepID); err != nil {
		log.Error().Err(err).Str("cadence", c.Name).Msg("failed to persist advanced schedule, proceeding anyway")
	}

	go func() {
		defer func() {
			if r := recover(); r != nil {
				log.Error().Str("cadence", c.Name).Interface("panic", r).Msg("cadence handler panic recovered")
			}
		}()
		c.Fn(ctx, sweepID)
	}()
}
