// Package timeseries is the append-only numeric store client (spec.md §2,
// §4.5): write-mostly from the ping/SNMP workers, read-only from the read
// API's historical path, never consulted for "is it up now". It extends the
// teacher's internal/influx.Writer with batching, bounded buffering, and
// retry-then-drop semantics for time-series-only outages (spec.md §7, §8
// scenario F).
package timeseries

import (
	"context"
	"fmt"
	"net"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"
	"github.com/rs/zerolog/log"

	"github.com/extkljajicm/branchwatch/internal/metrics"
)

// Writer batches points and flushes them on a timer or when the buffer
// reaches BatchSize, retrying with backoff before dropping a batch.
type Writer struct {
	client   influxdb2.Client
	writeAPI api.WriteAPIBlocking

	batchSize     int
	flushInterval time.Duration
	bufferLimit   int

	mu     sync.Mutex
	buffer []*write.Point

	successfulBatches atomic.Int64
	failedBatches     atomic.Int64
	droppedSamples    atomic.Int64

	stopOnce sync.Once
	stopCh   chan struct{}
	wg       sync.WaitGroup

	met *metrics.Metrics
}

// Config mirrors config.InfluxDBConfig's fields the writer needs.
type Config struct {
	URL           string
	Token         string
	Org           string
	Bucket        string
	BatchSize     int
	FlushInterval time.Duration
	BufferLimit   int
}

// NewWriter constructs a Writer and starts its background flush loop.
func NewWriter(cfg Config) *Writer {
	client := influxdb2.NewClient(cfg.URL, cfg.Token)
	w := &Writer{
		client:        client,
		writeAPI:      client.WriteAPIBlocking(cfg.Org, cfg.Bucket),
		batchSize:     cfg.BatchSize,
		flushInterval: cfg.FlushInterval,
		bufferLimit:   cfg.BufferLimit,
		stopCh:        make(chan struct{}),
	}
	w.wg.Add(1)
	go w.flushLoop()
	return w
}

// SetMetrics attaches the shared metrics registry; nil-safe if never called.
func (w *Writer) SetMetrics(m *metrics.Metrics) { w.met = m }

func (w *Writer) flushLoop() {
	defer w.wg.Done()
	ticker := time.NewTicker(w.flushInterval)
	defer ticker.Stop()
	for {
		select {
		case <-w.stopCh:
			w.flush(context.Background())
			return
		case <-ticker.C:
			w.flush(context.Background())
		}
	}
}

func (w *Writer) enqueue(p *write.Point) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.buffer = append(w.buffer, p)
	if len(w.buffer) > w.bufferLimit {
		dropped := len(w.buffer) - w.bufferLimit
		w.buffer = w.buffer[dropped:]
		w.droppedSamples.Add(int64(dropped))
		if w.met != nil {
			w.met.AddInfluxDropped(int64(dropped))
		}
		log.Warn().Int("dropped", dropped).Msg("time-series buffer overflow, dropped oldest samples")
	}
	if len(w.buffer) >= w.batchSize {
		batch := w.buffer
		w.buffer = nil
		go w.writeBatch(context.Background(), batch)
	}
}

func (w *Writer) flush(ctx context.Context) {
	w.mu.Lock()
	if len(w.buffer) == 0 {
		w.mu.Unlock()
		return
	}
	batch := w.buffer
	w.buffer = nil
	w.mu.Unlock()
	w.writeBatch(ctx, batch)
}

// writeBatch retries with exponential backoff up to 3 attempts, then drops
// the batch and counts it as failed (spec.md §7: time-series outage is
// tolerated, samples are buffered then dropped, never blocks state writes).
func (w *Writer) writeBatch(ctx context.Context, batch []*write.Point) {
	const maxAttempts = 3
	backoff := 200 * time.Millisecond
	var err error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		writeCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		err = w.writeAPI.WritePoint(writeCtx, batch...)
		cancel()
		if err == nil {
			w.successfulBatches.Add(1)
			if w.met != nil {
				w.met.IncInfluxBatch("success")
			}
			return
		}
		if attempt < maxAttempts {
			time.Sleep(backoff)
			backoff *= 2
		}
	}
	w.failedBatches.Add(1)
	w.droppedSamples.Add(int64(len(batch)))
	if w.met != nil {
		w.met.IncInfluxBatch("failure")
		w.met.AddInfluxDropped(int64(len(batch)))
	}
	log.Error().Err(err).Int("batch_size", len(batch)).Msg("time-series batch write failed after retries, dropping")
}

// WriteDeviceInfo records device metadata, called once per device or on SNMP
// metadata refresh.
func (w *Writer) WriteDeviceInfo(ip, hostname, sysName, sysDescr, sysObjectID string) error {
	if err := validateIPAddress(ip); err != nil {
		return fmt.Errorf("invalid IP address for device info: %v", err)
	}
	p := influxdb2.NewPointWithMeasurement("device_info").
		AddTag("ip", ip).
		AddField("hostname", sanitizeInfluxString(hostname)).
		AddField("snmp_name", sanitizeInfluxString(sysName)).
		AddField("snmp_description", sanitizeInfluxString(sysDescr)).
		AddField("snmp_sysid", sanitizeInfluxString(sysObjectID)).
		SetTime(time.Now())
	w.enqueue(p)
	return nil
}

// WritePingSample records one ping-sweep observation:
// device_ping_status, device_ping_rtt_ms, device_ping_loss_pct
// (spec.md §6 metric names).
func (w *Writer) WritePingSample(ip string, reachable bool, rttMs, lossPct float64) error {
	if err := validateIPAddress(ip); err != nil {
		return fmt.Errorf("invalid IP address for ping sample: %v", err)
	}
	now := time.Now()
	status := 0
	if reachable {
		status = 1
	}
	w.enqueue(influxdb2.NewPointWithMeasurement("device_ping_status").
		AddTag("ip", ip).AddField("value", status).SetTime(now))
	w.enqueue(influxdb2.NewPointWithMeasurement("device_ping_rtt_ms").
		AddTag("ip", ip).AddField("value", rttMs).SetTime(now))
	w.enqueue(influxdb2.NewPointWithMeasurement("device_ping_loss_pct").
		AddTag("ip", ip).AddField("value", lossPct).SetTime(now))
	return nil
}

// InterfaceSampleLabels are the labels attached to every interface metric
// point per spec.md §4.3.
type InterfaceSampleLabels struct {
	DeviceIP      string
	DeviceName    string
	IfIndex       int
	IfName        string
	InterfaceType string
	ISPProvider   string
	IsCritical    bool
}

// WriteInterfaceSample writes one sample per metric per interface:
// interface_oper_status, interface_in_octets, interface_out_octets,
// interface_in_errors, interface_out_errors, interface_in_discards,
// interface_out_discards, interface_speed (spec.md §6).
func (w *Writer) WriteInterfaceSample(labels InterfaceSampleLabels, operStatusUp bool, inOctets, outOctets, inErrors, outErrors, inDiscards, outDiscards, speed uint64) {
	now := time.Now()
	base := func(measurement string) *write.Point {
		p := influxdb2.NewPointWithMeasurement(measurement).
			AddTag("device_ip", labels.DeviceIP).
			AddTag("device_name", sanitizeInfluxString(labels.DeviceName)).
			AddTag("if_index", fmt.Sprintf("%d", labels.IfIndex)).
			AddTag("if_name", sanitizeInfluxString(labels.IfName)).
			AddTag("interface_type", labels.InterfaceType).
			AddTag("is_critical", fmt.Sprintf("%t", labels.IsCritical)).
			SetTime(now)
		if labels.ISPProvider != "" {
			p.AddTag("isp_provider", labels.ISPProvider)
		}
		return p
	}

	statusVal := 0
	if operStatusUp {
		statusVal = 1
	}
	w.enqueue(base("interface_oper_status").AddField("value", statusVal))
	w.enqueue(base("interface_in_octets").AddField("value", inOctets))
	w.enqueue(base("interface_out_octets").AddField("value", outOctets))
	w.enqueue(base("interface_in_errors").AddField("value", inErrors))
	w.enqueue(base("interface_out_errors").AddField("value", outErrors))
	w.enqueue(base("interface_in_discards").AddField("value", inDiscards))
	w.enqueue(base("interface_out_discards").AddField("value", outDiscards))
	w.enqueue(base("interface_speed").AddField("value", speed))
}

// HealthCheck reports whether the InfluxDB backend is reachable.
func (w *Writer) HealthCheck(ctx context.Context) error {
	res, err := w.client.Health(ctx)
	if err != nil {
		return err
	}
	if res.Status != "pass" {
		return fmt.Errorf("influxdb health status: %s", res.Status)
	}
	return nil
}

// GetSuccessfulBatches returns the count of batches written successfully
// since startup, surfaced on the health endpoint.
func (w *Writer) GetSuccessfulBatches() int64 { return w.successfulBatches.Load() }

// GetFailedBatches returns the count of batches dropped after exhausting
// retries, surfaced on the health endpoint.
func (w *Writer) GetFailedBatches() int64 { return w.failedBatches.Load() }

// GetDroppedSamples returns the total number of individual samples dropped,
// either from batch-write failure or buffer overflow.
func (w *Writer) GetDroppedSamples() int64 { return w.droppedSamples.Load() }

// Close flushes any buffered points and terminates the client connection.
func (w *Writer) Close() {
	w.stopOnce.Do(func() { close(w.stopCh) })
	w.wg.Wait()
	w.client.Close()
}

func validateIPAddress(ipStr string) error {
	if ipStr == "" {
		return fmt.Errorf("IP address cannot be empty")
	}
	ip := net.ParseIP(ipStr)
	if ip == nil {
		return fmt.Errorf("invalid IP address format: %s", ipStr)
	}
	if ip.IsLoopback() || ip.IsMulticast() || ip.IsLinkLocalUnicast() || ip.IsUnspecified() {
		return fmt.Errorf("disallowed address class: %s", ipStr)
	}
	return nil
}

func sanitizeInfluxString(s string) string {
	if s == "" {
		return ""
	}
	if len(s) > 500 {
		s = s[:500] + "..."
	}
	s = strings.Map(func(r rune) rune {
		if r < 32 && r != 9 && r != 10 {
			return -1
		}
		return r
	}, s)
	return strings.TrimSpace(s)
}
