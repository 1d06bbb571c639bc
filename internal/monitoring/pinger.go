// Package monitoring runs the ping and SNMP workers: the two sweep kinds
// that keep Device.reachability and DeviceInterface.oper_status current
// (spec.md §4.2, §4.3). Both workers are generalized from the teacher's
// internal/discovery/scanner.go fan-out into internal/broker queues so a
// single sweep can be bounded, rate-limited, and panic-isolated per device.
package monitoring

import (
	"context"
	"time"

	probing "github.com/prometheus-community/pro-bing"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/extkljajicm/branchwatch/internal/broker"
	"github.com/extkljajicm/branchwatch/internal/devicestate"
	"github.com/extkljajicm/branchwatch/internal/events"
	"github.com/extkljajicm/branchwatch/internal/metrics"
	"github.com/extkljajicm/branchwatch/internal/store"
	"github.com/extkljajicm/branchwatch/internal/timeseries"
)

// PingerConfig carries the subset of config.Config the ping worker needs.
type PingerConfig struct {
	Count      int
	Timeout    time.Duration
	Workers    int
	QueueDepth int
	RateLimit  float64 // probes/sec, 0 disables limiting
	FlapK      int
	ISPFlapK   int
	FlapWindow time.Duration
}

// Pinger owns one sweep kind: probing every enabled device and applying the
// reachability state machine to the result.
type Pinger struct {
	store   *store.Store
	ts      *timeseries.Writer
	bus     *events.Bus
	limiter *rate.Limiter
	cfg     PingerConfig
	queue   *broker.Queue[pingJob]
	met     *metrics.Metrics
	lastDropped int64
}

type pingJob struct {
	DeviceID    string
	IP          string
	Prior       devicestate.Snapshot
	Ring        devicestate.Ring
	WasFlapping bool
	IsISPRouter bool
}

// NewPinger constructs a Pinger and starts its worker pool.
func NewPinger(ctx context.Context, st *store.Store, ts *timeseries.Writer, bus *events.Bus, cfg PingerConfig) *Pinger {
	if cfg.Workers <= 0 {
		cfg.Workers = 100
	}
	if cfg.QueueDepth <= 0 {
		cfg.QueueDepth = cfg.Workers * 4
	}
	var limiter *rate.Limiter
	if cfg.RateLimit > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), cfg.Workers)
	}
	p := &Pinger{store: st, ts: ts, bus: bus, limiter: limiter, cfg: cfg}
	p.queue = broker.New[pingJob]("ping_sweep", cfg.QueueDepth, cfg.Workers, p.handleJob)
	p.queue.Start(ctx)
	return p
}

// SetMetrics attaches the shared metrics registry; nil-safe if never called.
func (p *Pinger) SetMetrics(m *metrics.Metrics) { p.met = m }

// RunSweep enumerates every enabled device and enqueues a probe job for each,
// called by the scheduler's ping_sweep cadence (spec.md §4.1).
func (p *Pinger) RunSweep(ctx context.Context, sweepID string) {
	start := time.Now()
	devices, err := p.store.EnabledDevices(ctx)
	if err != nil {
		log.Error().Err(err).Str("sweep_id", sweepID).Msg("ping sweep: failed to list enabled devices")
		return
	}
	log.Debug().Str("sweep_id", sweepID).Int("devices", len(devices)).Msg("ping sweep starting")
	if p.met != nil {
		defer func() {
			p.met.ObserveSweepDuration("ping_sweep", time.Since(start).Seconds())
			p.met.SetQueueDepth("ping_sweep", p.queue.Depth())
			dropped := p.queue.Dropped()
			p.met.AddQueueDropped("ping_sweep", dropped-p.lastDropped)
			p.lastDropped = dropped

			up, down := 0, 0
			for _, d := range devices {
				if d.Reachability == store.ReachabilityUp {
					up++
				} else {
					down++
				}
			}
			p.met.SetDeviceCounts(up, down)
		}()
	}
	for _, d := range devices {
		ring := devicestate.DecodeRing(d.StatusChangeRing)
		job := pingJob{
			DeviceID: d.ID,
			IP:       d.IP,
			Prior: devicestate.Snapshot{
				State:     devicestate.State(d.Reachability),
				DownSince: d.DownSince,
			},
			Ring:        ring,
			WasFlapping: d.IsFlapping,
			IsISPRouter: d.IsISPRouter,
		}
		if job.Prior.State != devicestate.StateUp && job.Prior.State != devicestate.StateDown {
			job.Prior.State = devicestate.StateUp
		}
		if !p.queue.Enqueue(job) {
			log.Warn().Str("sweep_id", sweepID).Str("device_id", d.ID).Msg("ping sweep queue full, device skipped this round")
		}
	}
}

func (p *Pinger) handleJob(ctx context.Context, job pingJob) {
	if p.limiter != nil {
		if err := p.limiter.Wait(ctx); err != nil {
			return
		}
	}

	reachable, rttMs, lossPct := p.probe(ctx, job.IP)
	if p.met != nil {
		p.met.IncPingsSent(1)
	}
	now := time.Now().UTC()

	result := devicestate.Transition(job.Prior, reachable, now)

	newRing := job.Ring
	if result.Event != devicestate.EventNone {
		newRing = newRing.Push(now)
	}

	flapParams := devicestate.FlapParams{K: p.cfg.FlapK, Window: p.cfg.FlapWindow}
	if job.IsISPRouter {
		flapParams.K = p.cfg.ISPFlapK
	}
	isFlapping := devicestate.IsFlapping(newRing, now, job.WasFlapping, flapParams)

	obs := store.PingObservation{
		DeviceID:  job.DeviceID,
		Reachable: reachable,
		RTTMs:     rttMs,
		LossPct:   lossPct,
		Now:       now,
	}
	newReachability := store.Reachability(result.State)
	if err := p.store.ApplyPingObservation(ctx, obs, newReachability, result.DownSince, newRing.Encode(), isFlapping); err != nil {
		log.Error().Err(err).Str("device_id", job.DeviceID).Msg("failed to apply ping observation")
	}

	if err := p.store.InsertPingResult(ctx, store.PingResult{
		DeviceIP:  job.IP,
		Timestamp: now,
		Reachable: reachable,
		RTTMs:     rttMs,
		LossPct:   lossPct,
	}); err != nil {
		log.Debug().Err(err).Str("device_id", job.DeviceID).Msg("failed to append ping result log")
	}

	if p.ts != nil {
		if err := p.ts.WritePingSample(job.IP, reachable, rttMs, lossPct); err != nil {
			log.Debug().Err(err).Str("device_id", job.DeviceID).Msg("failed to write ping sample")
		}
	}

	if result.Event != devicestate.EventNone && p.bus != nil {
		p.bus.PublishDeviceStatus(events.DeviceStatusChanged{
			DeviceID:  job.DeviceID,
			Old:       string(job.Prior.State),
			New:       string(result.State),
			DownSince: result.DownSince,
			Timestamp: now,
		})
	}
}

// probe runs an unprivileged ICMP echo exchange (SPEC_FULL.md §4.2's
// redesign decision: the teacher's SetPrivileged(true) requires CAP_NET_RAW
// or root; this engine runs as an unprivileged service and accepts the
// datagram-socket ICMP path instead) and returns reachability, mean RTT in
// milliseconds, and packet loss percentage.
func (p *Pinger) probe(ctx context.Context, ip string) (reachable bool, rttMs, lossPct float64) {
	pinger, err := probing.NewPinger(ip)
	if err != nil {
		log.Debug().Err(err).Str("ip", ip).Msg("failed to construct pinger")
		return false, 0, 100
	}
	count := p.cfg.Count
	if count <= 0 {
		count = 2
	}
	pinger.Count = count
	pinger.Interval = 200 * time.Millisecond
	pinger.Timeout = p.cfg.Timeout
	pinger.SetPrivileged(false)

	runCtx, cancel := context.WithTimeout(ctx, p.cfg.Timeout+time.Duration(count)*300*time.Millisecond)
	defer cancel()

	if err := pinger.RunWithContext(runCtx); err != nil {
		log.Debug().Err(err).Str("ip", ip).Msg("ping run failed")
		return false, 0, 100
	}

	stats := pinger.Statistics()
	lossPct = stats.PacketLoss
	if stats.PacketsRecv > 0 {
		reachable = true
		rttMs = float64(stats.AvgRtt) / float64(time.Millisecond)
	}
	return reachable, rttMs, lossPct
}

// Close drains the worker pool.
func (p *Pinger) Close() { p.queue.Close() }

// Depth reports the pending job count, satisfying health.QueueDepth.
func (p *Pinger) Depth() int { return p.queue.Depth() }

// Dropped reports the cumulative dropped-job count, satisfying health.QueueDepth.
func (p *Pinger) Dropped() int64 { return p.queue.Dropped() }
