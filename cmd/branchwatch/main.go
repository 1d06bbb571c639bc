// branchwatch is an always-on network monitoring service for bank branch
// infrastructure: it schedules ICMP/SNMP sweeps, drives a reachability
// state machine per device, evaluates alert rules, and exposes a read API
// and a websocket change feed. Wiring here follows the teacher's
// cmd/netscan/main.go signal-handling and graceful-shutdown idiom,
// generalized from its single discovery-loop shape into a multi-cadence
// scheduler driving independently-configured workers.
package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/extkljajicm/branchwatch/internal/alerts"
	"github.com/extkljajicm/branchwatch/internal/api"
	"github.com/extkljajicm/branchwatch/internal/config"
	"github.com/extkljajicm/branchwatch/internal/discovery"
	"github.com/extkljajicm/branchwatch/internal/events"
	"github.com/extkljajicm/branchwatch/internal/health"
	"github.com/extkljajicm/branchwatch/internal/logger"
	"github.com/extkljajicm/branchwatch/internal/metrics"
	"github.com/extkljajicm/branchwatch/internal/monitoring"
	"github.com/extkljajicm/branchwatch/internal/notify"
	"github.com/extkljajicm/branchwatch/internal/registry"
	"github.com/extkljajicm/branchwatch/internal/retention"
	"github.com/extkljajicm/branchwatch/internal/scheduler"
	"github.com/extkljajicm/branchwatch/internal/store"
	"github.com/extkljajicm/branchwatch/internal/timeseries"
)

func main() {
	configPath := flag.String("config", "config.yml", "path to the YAML configuration file")
	debug := flag.Bool("debug", false, "enable debug logging")
	flag.Parse()

	logger.Setup(*debug)
	log.Info().Msg("branchwatch starting up")

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	warning, err := config.ValidateConfig(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("invalid configuration")
	}
	if warning != "" {
		log.Warn().Msg(warning)
	}

	st, err := store.Open(cfg.DB)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open current-state store")
	}

	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	if cfg.LeaderLockMode == "postgres" {
		acquired, err := st.AcquireSingletonLock(ctx, 0x627261636877)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to acquire singleton scheduler lock")
		}
		if !acquired {
			log.Fatal().Msg("another instance already holds the singleton scheduler lock")
		}
	}

	tsWriter := timeseries.NewWriter(timeseries.Config{
		URL:           cfg.InfluxDB.URL,
		Token:         cfg.InfluxDB.Token,
		Org:           cfg.InfluxDB.Org,
		Bucket:        cfg.InfluxDB.Bucket,
		BatchSize:     cfg.InfluxDB.BatchSize,
		FlushInterval: cfg.InfluxDB.FlushInterval,
		BufferLimit:   cfg.InfluxDB.BufferLimit,
	})
	defer tsWriter.Close()

	tsReader := timeseries.NewReader(timeseries.Config{
		URL:    cfg.InfluxDB.URL,
		Token:  cfg.InfluxDB.Token,
		Org:    cfg.InfluxDB.Org,
		Bucket: cfg.InfluxDB.Bucket,
	})
	defer tsReader.Close()

	bus := events.New()
	met := metrics.New()
	tsWriter.SetMetrics(met)

	pinger := monitoring.NewPinger(ctx, st, tsWriter, bus, monitoring.PingerConfig{
		Count:      cfg.PingCount,
		Timeout:    cfg.PingTimeout,
		Workers:    cfg.IcmpWorkers,
		QueueDepth: cfg.MaxConcurrentPingers,
		RateLimit:  cfg.PingRateLimit,
		FlapK:      cfg.FlapK,
		ISPFlapK:   cfg.ISPFlapK,
		FlapWindow: cfg.FlapWindow,
	})
	pinger.SetMetrics(met)
	defer pinger.Close()

	snmpPoller := monitoring.NewSNMPPoller(ctx, st, tsWriter, bus, monitoring.SNMPPollerConfig{
		Version:               cfg.SNMP.Version,
		Community:             cfg.SNMP.Community,
		Port:                  cfg.SNMP.Port,
		Timeout:               cfg.SNMP.Timeout,
		Retries:               cfg.SNMP.Retries,
		V3User:                cfg.SNMP.V3User,
		V3AuthProto:           cfg.SNMP.V3AuthProto,
		V3AuthKey:             cfg.SNMP.V3AuthKey,
		V3PrivProto:           cfg.SNMP.V3PrivProto,
		V3PrivKey:             cfg.SNMP.V3PrivKey,
		V3SecurityLv:          cfg.SNMP.V3SecurityLv,
		Workers:               cfg.SnmpWorkers,
		QueueDepth:            cfg.MaxDevices,
		RateLimit:             cfg.SnmpRateLimit,
		MaxConsecutiveFails:   cfg.MaxConsecutiveFails,
		CircuitBreakerBackoff: cfg.CircuitBreakerBackoff,
	})
	snmpPoller.SetMetrics(met)
	defer snmpPoller.Close()

	alertEngine := alerts.New(st, tsReader, bus, alerts.Config{
		Samples:  5,
		Lookback: cfg.FlapWindow,
	})
	alertEngine.SetMetrics(met)

	cleaner := retention.New(st, retention.Config{
		RetentionDaysTimeSeries: cfg.RetentionDaysTimeSeries,
		InterfaceStaleDays:      cfg.InterfaceStaleDays,
	})

	seeder := registry.New(st, registry.Config{
		Networks:      cfg.Networks,
		IcmpWorkers:   cfg.IcmpWorkers,
		PingRateLimit: cfg.PingRateLimit,
	})
	if _, err := seeder.Seed(ctx); err != nil {
		log.Error().Err(err).Msg("initial registry seed failed")
	}

	sched := scheduler.New(st, []scheduler.Cadence{
		{Name: "ping_sweep", Period: cfg.PingInterval, Fn: pinger.RunSweep},
		{Name: "snmp_sweep", Period: cfg.SNMPInterval, Fn: snmpPoller.RunSweep},
		{Name: "interface_metrics_sweep", Period: cfg.InterfaceMetricsInterval, Fn: snmpPoller.RunSweep},
		{Name: "alert_eval", Period: cfg.AlertEvalInterval, Fn: alertEngine.RunEval},
		{
			Name:    "interface_discovery",
			DailyAt: cfg.InterfaceDiscoverySchedule,
			Fn: func(ctx context.Context, sweepID string) {
				discovery.RunDiscoverySweep(ctx, st, cfg.SNMP, cfg.SnmpWorkers)
			},
		},
		{Name: "retention_cleanup", DailyAt: cfg.RetentionCleanupSchedule, Fn: cleaner.RunCleanup},
	}, time.Second)

	go sched.Run(ctx)

	apiServer := api.NewServer(api.Config{
		Store:      st,
		TS:         tsReader,
		Bus:        bus,
		SNMPConfig: cfg.SNMP,
		CacheTTL:   cfg.CacheTTL,
	})

	hub := notify.NewHub()
	go hub.Run(bus)

	mux := http.NewServeMux()
	mux.Handle("/", apiServer.Router())
	mux.HandleFunc(cfg.WSPath, hub.ServeHTTP)

	httpSrv := &http.Server{Addr: ":" + strconv.Itoa(cfg.APIPort), Handler: mux}
	go func() {
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("read API server stopped unexpectedly")
		}
	}()
	defer httpSrv.Close()

	met.Start(cfg.MetricsPort)

	healthSrv := health.New(health.Config{
		Store: st,
		TS:    tsWriter,
		Queues: map[string]health.QueueDepth{
			"ping": pinger,
			"snmp": snmpPoller,
		},
		Port:    cfg.HealthCheckPort,
		Version: "1.0.0",
	})
	healthSrv.Start()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh
	log.Info().Msg("shutdown signal received, draining in-flight work")
	stop()

	time.Sleep(time.Duration(cfg.ShutdownGraceSecs) * time.Second)
	log.Info().Msg("branchwatch shut down")
}
