// Package api implements the read API contract from spec.md §4.7/§6: a
// thin query layer over the current-state store (fast path) and the
// time-series store (historical path), with a short-lived event-invalidated
// cache. Grounded on marmos91-dittofs/pkg/controlplane/api/router.go's
// middleware stack (RequestID, RealIP, custom request logger, Recoverer,
// Timeout) generalized to this engine's unauthenticated read-only surface —
// user authentication/RBAC is explicitly out of scope (spec.md §1).
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog/log"

	"github.com/extkljajicm/branchwatch/internal/config"
	"github.com/extkljajicm/branchwatch/internal/events"
	"github.com/extkljajicm/branchwatch/internal/store"
	"github.com/extkljajicm/branchwatch/internal/timeseries"
)

// TimeseriesReader is the subset of internal/timeseries.Reader the API
// needs, kept as an interface so tests can supply a fake instead of a live
// InfluxDB connection.
type TimeseriesReader interface {
	PingHistory(ctx context.Context, ip string, since time.Time) ([]timeseries.Sample, error)
}

// Server holds the read API's dependencies and the request-scoped cache.
type Server struct {
	store   *store.Store
	ts      TimeseriesReader
	cache   *cache
	snmpCfg config.SNMPConfig
}

// Config wires the Server's dependencies.
type Config struct {
	Store      *store.Store
	TS         TimeseriesReader // nil if no time-series backend is configured
	Bus        *events.Bus
	SNMPConfig config.SNMPConfig
	CacheTTL   time.Duration
}

// NewServer constructs the API server and wires cache invalidation to the
// shared event bus.
func NewServer(cfg Config) *Server {
	c := newCache(cfg.CacheTTL)
	c.watchInvalidation(cfg.Bus)
	return &Server{store: cfg.Store, ts: cfg.TS, cache: c, snmpCfg: cfg.SNMPConfig}
}

// Router builds the chi router exposing every spec.md §6 read endpoint.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	r.Get("/devices", s.listDevices)
	r.Get("/devices/{id}", s.deviceDetail)
	r.Get("/devices/{id}/history", s.deviceHistory)
	r.Get("/interfaces/isp-status/bulk", s.bulkISPStatus)
	r.Get("/problems", s.listProblems)
	r.Post("/interfaces/discover/{device_id}", s.discoverInterfaces)

	return r
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		requestID := middleware.GetReqID(r.Context())

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		log.Info().
			Str("request_id", requestID).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Dur("duration", time.Since(start)).
			Msg("api request")
	})
}
