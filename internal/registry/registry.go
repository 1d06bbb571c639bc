// Package registry seeds the device registry from the configured networks
// (spec.md §2: "authoritative list of devices... created via registry admin
// (out of scope)"). Since this repo has no admin UI, the seeder stands in
// for that collaborator: an ICMP sweep of `cfg.Networks` finds candidate
// IPs and a bare, disabled-by-default row is created for each one not
// already known, so the fleet can be monitored without a manual import
// step. Operators still own name/classification/branch_id/enabled via
// direct store edits; the seeder never overwrites an existing row.
package registry

import (
	"context"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/extkljajicm/branchwatch/internal/discovery"
	"github.com/extkljajicm/branchwatch/internal/store"
)

// Config carries the subset of the top-level config the seeder needs.
type Config struct {
	Networks     []string
	IcmpWorkers  int
	PingRateLimit float64
}

// Seeder runs the one-time (and interface_discovery-cadence-repeatable)
// network sweep that populates new devices into the current-state store.
type Seeder struct {
	store *store.Store
	cfg   Config
}

// New constructs a Seeder over the given store and network config.
func New(st *store.Store, cfg Config) *Seeder {
	return &Seeder{store: st, cfg: cfg}
}

// Result summarizes one Seed run, logged by the caller (spec.md ambient
// logging convention: callers log, library functions return).
type Result struct {
	Scanned   int
	Responded int
	Created   int
}

// Seed sweeps every configured network with ICMP and creates a device row
// for every responsive IP not already registered. Devices are created
// disabled (spec.md §3 "disable flag suppresses probing"); an operator (or
// a future admin surface) must explicitly enable a newly-discovered device
// before it enters the monitoring cadences, matching the "registry admin"
// ownership boundary spec.md draws around device creation.
func (sd *Seeder) Seed(ctx context.Context) (Result, error) {
	var res Result
	if len(sd.cfg.Networks) == 0 {
		return res, nil
	}

	var limiter *rate.Limiter
	if sd.cfg.PingRateLimit > 0 {
		limiter = rate.NewLimiter(rate.Limit(sd.cfg.PingRateLimit), int(sd.cfg.PingRateLimit))
	}

	for _, network := range sd.cfg.Networks {
		res.Scanned += len(discovery.RunScanIPsOnly(network))
	}

	responsive := discovery.RunICMPSweep(ctx, sd.cfg.Networks, sd.cfg.IcmpWorkers, limiter)
	res.Responded = len(responsive)

	for _, ip := range responsive {
		created, err := sd.store.SeedDevice(ctx, store.Device{
			ID:           uuid.NewString(),
			IP:           ip,
			Enabled:      false,
			Reachability: store.ReachabilityUnknown,
		})
		if err != nil {
			log.Error().Err(err).Str("ip", ip).Msg("registry seed: failed to create device row")
			continue
		}
		if created {
			res.Created++
			log.Info().Str("ip", ip).Msg("registry seed: discovered new device, created disabled")
		}
	}

	return res, nil
}
