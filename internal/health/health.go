// Package health implements the HTTP health/readiness/liveness surface
// (spec.md §7), extending the teacher's cmd/netscan/health.go from a single
// stateMgr/writer pair into the full engine: device counts from
// internal/store, InfluxDB write-path health from internal/timeseries, and
// broker queue depth/drop counters.
package health

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/extkljajicm/branchwatch/internal/store"
)

// TimeSeriesHealth is the subset of timeseries.Writer the health server
// needs, kept as an interface so tests can supply a fake instead of a live
// InfluxDB connection.
type TimeSeriesHealth interface {
	HealthCheck(ctx context.Context) error
	GetSuccessfulBatches() int64
	GetFailedBatches() int64
	GetDroppedSamples() int64
}

// QueueDepth is the subset of broker.Queue[T] the health server needs; every
// instantiation of Queue[T] satisfies this regardless of T.
type QueueDepth interface {
	Depth() int
	Dropped() int64
}

// Server serves /health, /health/ready, /health/live.
type Server struct {
	store     *store.Store
	ts        TimeSeriesHealth
	queues    map[string]QueueDepth
	startTime time.Time
	port      int
	version   string
}

// Config wires the Server's dependencies.
type Config struct {
	Store   *store.Store
	TS      TimeSeriesHealth
	Queues  map[string]QueueDepth
	Port    int
	Version string
}

// New constructs a health Server. TS may be nil if no time-series backend is
// configured; its health contribution is then skipped.
func New(cfg Config) *Server {
	version := cfg.Version
	if version == "" {
		version = "dev"
	}
	return &Server{
		store:     cfg.Store,
		ts:        cfg.TS,
		queues:    cfg.Queues,
		startTime: time.Now(),
		port:      cfg.Port,
		version:   version,
	}
}

// Response is the /health JSON body.
type Response struct {
	Status       string            `json:"status"` // healthy, degraded, unhealthy
	Version      string            `json:"version"`
	Uptime       string            `json:"uptime"`
	DeviceCount  int               `json:"device_count"`
	StoreOK      bool              `json:"store_ok"`
	InfluxDBOK   bool              `json:"influxdb_ok"`
	InfluxDBSucc int64             `json:"influxdb_successful"`
	InfluxDBFail int64             `json:"influxdb_failed"`
	InfluxDBDrop int64             `json:"influxdb_dropped"`
	QueueDepths  map[string]int    `json:"queue_depths"`
	QueueDropped map[string]int64  `json:"queue_dropped"`
	Goroutines   int               `json:"goroutines"`
	MemoryMB     uint64            `json:"memory_mb"`
	RSSMB        uint64            `json:"rss_mb"`
	Timestamp    time.Time         `json:"timestamp"`
}

// Start launches the HTTP listener in a background goroutine; non-blocking.
func (s *Server) Start() {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.healthHandler)
	mux.HandleFunc("/health/ready", s.readinessHandler)
	mux.HandleFunc("/health/live", s.livenessHandler)

	addr := fmt.Sprintf(":%d", s.port)
	srv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		defer func() {
			if r := recover(); r != nil {
				log.Error().Interface("panic", r).Msg("health server panic recovered")
			}
		}()
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("health server error")
		}
	}()
	log.Info().Str("address", addr).Msg("health endpoint started")
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	resp := s.snapshot(r.Context())
	w.Header().Set("Content-Type", "application/json")
	if resp.Status == "unhealthy" {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

// snapshot gathers current health metrics (spec.md §7: "healthy" when every
// dependency is reachable, "degraded" when the time-series backend is down
// but the current-state store still answers, "unhealthy" when the
// current-state store itself is unreachable).
func (s *Server) snapshot(ctx context.Context) Response {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	storeOK := s.store.Ping(ctx) == nil

	influxOK := true
	if s.ts != nil {
		influxOK = s.ts.HealthCheck(ctx) == nil
	}

	status := "healthy"
	switch {
	case !storeOK:
		status = "unhealthy"
	case !influxOK:
		status = "degraded"
	}

	var deviceCount int
	if storeOK {
		if devices, err := s.store.ListDevices(ctx); err == nil {
			deviceCount = len(devices)
		}
	}

	depths := make(map[string]int, len(s.queues))
	dropped := make(map[string]int64, len(s.queues))
	for name, q := range s.queues {
		depths[name] = q.Depth()
		dropped[name] = q.Dropped()
	}

	resp := Response{
		Status:      status,
		Version:     s.version,
		Uptime:      time.Since(s.startTime).String(),
		DeviceCount: deviceCount,
		StoreOK:     storeOK,
		InfluxDBOK:  influxOK,
		QueueDepths: depths,
		QueueDropped: dropped,
		Goroutines:  runtime.NumGoroutine(),
		MemoryMB:    m.Alloc / 1024 / 1024,
		RSSMB:       getRSSMB(),
		Timestamp:   time.Now().UTC(),
	}
	if s.ts != nil {
		resp.InfluxDBSucc = s.ts.GetSuccessfulBatches()
		resp.InfluxDBFail = s.ts.GetFailedBatches()
		resp.InfluxDBDrop = s.ts.GetDroppedSamples()
	}
	return resp
}

// readinessHandler reports ready only once the current-state store answers;
// a degraded time-series backend still allows traffic (spec.md §7: reads
// keep working off the current-state store during an InfluxDB outage).
func (s *Server) readinessHandler(w http.ResponseWriter, r *http.Request) {
	if err := s.store.Ping(r.Context()); err != nil {
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte("NOT READY: store unavailable"))
		return
	}
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("READY"))
}

func (s *Server) livenessHandler(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ALIVE"))
}

// getRSSMB reads /proc/self/status for VmRSS (Linux-specific); returns 0 on
// any failure or on non-Linux platforms.
func getRSSMB() uint64 {
	f, err := os.Open("/proc/self/status")
	if err != nil {
		return 0
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := sc.Text()
		if !strings.HasPrefix(line, "VmRSS:") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) >= 3 && fields[2] == "kB" {
			if kb, err := strconv.ParseUint(fields[1], 10, 64); err == nil {
				return kb / 1024
			}
		}
	}
	return 0
}
