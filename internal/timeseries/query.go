package timeseries

import (
	"context"
	"fmt"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
)

// Reader is the read-only half of the time-series client: historical range
// queries for the read API and the batched sample pulls the alert engine
// needs for response_time/packet_loss conditions (spec.md §4.6, §4.7). It
// never answers "is it up now" (spec.md §4.5); that is store.Store's job.
type Reader struct {
	client   influxdb2.Client
	queryAPI api.QueryAPI
	bucket   string
	org      string
}

// NewReader builds a Reader sharing the org/bucket of the write-side Config.
func NewReader(cfg Config) *Reader {
	client := influxdb2.NewClient(cfg.URL, cfg.Token)
	return &Reader{
		client:   client,
		queryAPI: client.QueryAPI(cfg.Org),
		bucket:   cfg.Bucket,
		org:      cfg.Org,
	}
}

// Close releases the underlying HTTP client.
func (r *Reader) Close() { r.client.Close() }

// Sample is one point on the ping history timeline (spec.md §6
// `GET /devices/{id}/history` shape).
type Sample struct {
	Time      time.Time
	Reachable bool
	RTTMs     float64
	LossPct   float64
}

// PingHistory returns ping samples for a device IP over [since, now), used by
// the read API's historical range endpoint.
func (r *Reader) PingHistory(ctx context.Context, ip string, since time.Time) ([]Sample, error) {
	flux := fmt.Sprintf(`
from(bucket: %q)
  |> range(start: %s)
  |> filter(fn: (r) => r.ip == %q)
  |> filter(fn: (r) => r._measurement == "device_ping_status" or r._measurement == "device_ping_rtt_ms" or r._measurement == "device_ping_loss_pct")
  |> pivot(rowKey: ["_time"], columnKey: ["_measurement"], valueColumn: "_value")
  |> sort(columns: ["_time"])
`, r.bucket, since.UTC().Format(time.RFC3339), ip)

	result, err := r.queryAPI.Query(ctx, flux)
	if err != nil {
		return nil, fmt.Errorf("ping history query: %w", err)
	}
	defer result.Close()

	var samples []Sample
	for result.Next() {
		rec := result.Record()
		s := Sample{Time: rec.Time()}
		if v, ok := rec.ValueByKey("device_ping_status").(float64); ok {
			s.Reachable = v > 0
		}
		if v, ok := rec.ValueByKey("device_ping_rtt_ms").(float64); ok {
			s.RTTMs = v
		}
		if v, ok := rec.ValueByKey("device_ping_loss_pct").(float64); ok {
			s.LossPct = v
		}
		samples = append(samples, s)
	}
	if result.Err() != nil {
		return nil, fmt.Errorf("ping history query result: %w", result.Err())
	}
	return samples, nil
}

// RecentSamples is the alert engine's batched pull: the last n ping samples
// for every IP in ips, in one query rather than one round-trip per device
// (spec.md §4.6 "pulls... a single batched time-series query").
func (r *Reader) RecentSamples(ctx context.Context, ips []string, n int, lookback time.Duration) (map[string][]Sample, error) {
	out := make(map[string][]Sample, len(ips))
	if len(ips) == 0 {
		return out, nil
	}

	flux := fmt.Sprintf(`
from(bucket: %q)
  |> range(start: -%s)
  |> filter(fn: (r) => r._measurement == "device_ping_rtt_ms" or r._measurement == "device_ping_loss_pct")
  |> pivot(rowKey: ["_time", "ip"], columnKey: ["_measurement"], valueColumn: "_value")
  |> group(columns: ["ip"])
  |> sort(columns: ["_time"], desc: true)
  |> limit(n: %d)
`, r.bucket, lookback.String(), n)

	result, err := r.queryAPI.Query(ctx, flux)
	if err != nil {
		return nil, fmt.Errorf("recent samples query: %w", err)
	}
	defer result.Close()

	wanted := make(map[string]bool, len(ips))
	for _, ip := range ips {
		wanted[ip] = true
	}

	for result.Next() {
		rec := result.Record()
		ip, _ := rec.ValueByKey("ip").(string)
		if !wanted[ip] {
			continue
		}
		s := Sample{Time: rec.Time()}
		if v, ok := rec.ValueByKey("device_ping_rtt_ms").(float64); ok {
			s.RTTMs = v
		}
		if v, ok := rec.ValueByKey("device_ping_loss_pct").(float64); ok {
			s.LossPct = v
		}
		out[ip] = append(out[ip], s)
	}
	if result.Err() != nil {
		return nil, fmt.Errorf("recent samples query result: %w", result.Err())
	}
	return out, nil
}

// HealthCheck reports whether the query side of the InfluxDB backend is
// reachable, independent of the write side's buffering state.
func (r *Reader) HealthCheck(ctx context.Context) error {
	res, err := r.client.Health(ctx)
	if err != nil {
		return err
	}
	if res.Status != "pass" {
		return fmt.Errorf("influxdb health status: %s", res.Status)
	}
	return nil
}
