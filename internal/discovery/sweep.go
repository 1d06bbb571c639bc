package discovery

import (
	"context"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/extkljajicm/branchwatch/internal/config"
	"github.com/extkljajicm/branchwatch/internal/store"
)

// RunDiscoverySweep is the interface_discovery cadence entrypoint (spec.md
// §4.1: "daily at a configured local hour"; §6 `POST
// /interfaces/discover/{device_id}` triggers the same path on demand).
// It walks every SNMP-monitored device concurrently, bounded by workers,
// mirroring RunICMPSweep's jobs/panic-recovery shape in scanner.go.
func RunDiscoverySweep(ctx context.Context, st *store.Store, snmpCfg config.SNMPConfig, workers int) {
	if workers <= 0 {
		workers = 10
	}

	devices, err := st.EnabledDevices(ctx)
	if err != nil {
		log.Error().Err(err).Msg("interface discovery sweep: failed to list enabled devices")
		return
	}

	d := NewInterfaceDiscoverer(st, snmpCfg)

	jobs := make(chan store.Device, len(devices))
	var wg sync.WaitGroup

	worker := func() {
		defer wg.Done()
		defer func() {
			if r := recover(); r != nil {
				log.Error().Interface("panic", r).Msg("interface discovery worker panic recovered")
			}
		}()
		for dev := range jobs {
			if !dev.MonitorSNMP {
				continue
			}
			if err := d.Discover(ctx, dev); err != nil {
				log.Debug().Err(err).Str("device_id", dev.ID).Str("ip", dev.IP).Msg("interface discovery failed")
			}
		}
	}

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go worker()
	}
	for _, dev := range devices {
		jobs <- dev
	}
	close(jobs)
	wg.Wait()

	log.Debug().Int("devices", len(devices)).Msg("interface discovery sweep complete")
}

// RunDeviceDiscovery walks a single device on demand (spec.md §6 `POST
// /interfaces/discover/{device_id}`), independent of the daily cadence.
func RunDeviceDiscovery(ctx context.Context, st *store.Store, snmpCfg config.SNMPConfig, deviceID string) error {
	dev, err := st.GetDevice(ctx, deviceID)
	if err != nil {
		return err
	}
	d := NewInterfaceDiscoverer(st, snmpCfg)
	return d.Discover(ctx, *dev)
}
