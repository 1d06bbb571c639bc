// Package metrics exposes a Prometheus registry of engine-internal
// observability counters: sweep duration, queue depth/drops, alert-eval
// latency, pings sent, SNMP poll outcomes, and InfluxDB batch outcomes.
// These are operational metrics about the engine itself, distinct from the
// domain time-series samples internal/timeseries writes to InfluxDB
// (spec.md §6's device_ping_status/etc.).
package metrics

import (
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

// Metrics is a fixed set of named Prometheus collectors registered once at
// construction, grounded on the registry-plus-named-collectors shape of
// the pack's telemetry provider (99souls-ariadne/engine/telemetry/metrics),
// simplified to a concrete set since this engine's metric surface is fixed
// rather than dynamically registered per caller.
type Metrics struct {
	reg *prometheus.Registry

	sweepDuration     *prometheus.HistogramVec
	queueDepth        *prometheus.GaugeVec
	queueDropped      *prometheus.CounterVec
	alertEvalDuration prometheus.Histogram
	devicesUp         prometheus.Gauge
	devicesDown       prometheus.Gauge
	pingsSentTotal    prometheus.Counter
	snmpPollsTotal    *prometheus.CounterVec
	influxBatchTotal  *prometheus.CounterVec
	influxDropped     prometheus.Counter
}

// New constructs and registers every collector.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		reg: reg,
		sweepDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name: "branchwatch_sweep_duration_seconds",
			Help: "Wall-clock duration of a scheduler sweep, by cadence name.",
		}, []string{"sweep"}),
		queueDepth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "branchwatch_queue_depth",
			Help: "Current number of buffered, unconsumed jobs, by queue name.",
		}, []string{"queue"}),
		queueDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "branchwatch_queue_dropped_total",
			Help: "Cumulative count of jobs dropped at enqueue due to backpressure, by queue name.",
		}, []string{"queue"}),
		alertEvalDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "branchwatch_alert_eval_duration_seconds",
			Help:    "Wall-clock duration of one alert_eval tick.",
			Buckets: prometheus.DefBuckets,
		}),
		devicesUp: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "branchwatch_devices_up",
			Help: "Number of enabled devices currently reachable.",
		}),
		devicesDown: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "branchwatch_devices_down",
			Help: "Number of enabled devices currently unreachable.",
		}),
		pingsSentTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "branchwatch_pings_sent_total",
			Help: "Cumulative count of ICMP probes sent.",
		}),
		snmpPollsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "branchwatch_snmp_polls_total",
			Help: "Cumulative count of SNMP polls, by outcome (ok, timeout, error).",
		}, []string{"result"}),
		influxBatchTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "branchwatch_influxdb_batches_total",
			Help: "Cumulative count of InfluxDB batch writes, by outcome (success, failure).",
		}, []string{"result"}),
		influxDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "branchwatch_influxdb_dropped_samples_total",
			Help: "Cumulative count of time-series samples dropped due to buffer overflow.",
		}),
	}

	reg.MustRegister(
		m.sweepDuration, m.queueDepth, m.queueDropped, m.alertEvalDuration,
		m.devicesUp, m.devicesDown, m.pingsSentTotal, m.snmpPollsTotal,
		m.influxBatchTotal, m.influxDropped,
	)
	return m
}

// Handler exposes the registry for promhttp.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{})
}

// Start launches the /metrics listener in a background goroutine.
func (m *Metrics) Start(port int) {
	addr := fmt.Sprintf(":%d", port)
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	srv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		defer func() {
			if r := recover(); r != nil {
				log.Error().Interface("panic", r).Msg("metrics server panic recovered")
			}
		}()
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("metrics server error")
		}
	}()
	log.Info().Str("address", addr).Msg("metrics endpoint started")
}

func (m *Metrics) ObserveSweepDuration(sweep string, seconds float64) {
	m.sweepDuration.WithLabelValues(sweep).Observe(seconds)
}

func (m *Metrics) SetQueueDepth(queue string, depth int) {
	m.queueDepth.WithLabelValues(queue).Set(float64(depth))
}

func (m *Metrics) AddQueueDropped(queue string, delta int64) {
	if delta <= 0 {
		return
	}
	m.queueDropped.WithLabelValues(queue).Add(float64(delta))
}

func (m *Metrics) ObserveAlertEvalDuration(seconds float64) {
	m.alertEvalDuration.Observe(seconds)
}

func (m *Metrics) SetDeviceCounts(up, down int) {
	m.devicesUp.Set(float64(up))
	m.devicesDown.Set(float64(down))
}

func (m *Metrics) IncPingsSent(n int) {
	m.pingsSentTotal.Add(float64(n))
}

func (m *Metrics) IncSNMPPoll(result string) {
	m.snmpPollsTotal.WithLabelValues(result).Inc()
}

func (m *Metrics) IncInfluxBatch(result string) {
	m.influxBatchTotal.WithLabelValues(result).Inc()
}

func (m *Metrics) AddInfluxDropped(n int64) {
	if n <= 0 {
		return
	}
	m.influxDropped.Add(float64(n))
}
