// Package discovery finds candidate devices on the configured networks
// (spec.md §4.1 network_scan cadence) and walks IF-MIB to enumerate a
// device's interfaces (spec.md §4.3). The ICMP sweep here is the teacher's
// own internal/discovery/scanner.go fan-out, kept nearly as-is; the SNMP
// interface walk is rebuilt in interfaces.go against the new
// store/classifier stack.
package discovery

import (
	"context"
	"math/rand"
	"net"
	"sync"
	"time"

	probing "github.com/prometheus-community/pro-bing"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
)

// RunScanIPsOnly returns all IP addresses in the specified CIDR range.
func RunScanIPsOnly(cidr string) []string {
	return ipsFromCIDR(cidr)
}

// RunICMPSweep performs a concurrent, rate-limited ICMP sweep across the
// given networks and returns the IPs that responded. limiter may be nil to
// disable rate limiting; ctx governs both shutdown and rate-limiter waits.
func RunICMPSweep(ctx context.Context, networks []string, workers int, limiter *rate.Limiter) []string {
	if workers <= 0 {
		workers = 64
	}

	var (
		jobs    = make(chan string, 256)
		results = make(chan string, 256)
		wg      sync.WaitGroup
	)

	worker := func() {
		defer func() {
			if r := recover(); r != nil {
				log.Error().Interface("panic", r).Msg("ICMP worker panic recovered")
			}
		}()
		defer wg.Done()
		for ip := range jobs {
			if limiter != nil {
				if err := limiter.Wait(ctx); err != nil {
					log.Debug().Str("ip", ip).Msg("ICMP discovery cancelled while waiting for rate limit token")
					return
				}
			}

			pinger, err := probing.NewPinger(ip)
			if err != nil {
				log.Debug().Str("ip", ip).Err(err).Msg("failed to create pinger")
				continue
			}
			pinger.Count = 1
			pinger.Timeout = 1 * time.Second
			pinger.SetPrivileged(false)
			if err := pinger.RunWithContext(ctx); err != nil {
				log.Debug().Str("ip", ip).Err(err).Msg("discovery ping failed")
				continue
			}
			if pinger.Statistics().PacketsRecv > 0 {
				results <- ip
			}
		}
	}

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go worker()
	}

	go func() {
		defer func() {
			if r := recover(); r != nil {
				log.Error().Interface("panic", r).Msg("ICMP producer panic recovered")
			}
		}()
		var allIPs []string
		for _, network := range networks {
			allIPs = append(allIPs, ipsFromCIDR(network)...)
		}
		rand.Shuffle(len(allIPs), func(i, j int) {
			allIPs[i], allIPs[j] = allIPs[j], allIPs[i]
		})
		for _, ip := range allIPs {
			jobs <- ip
		}
		close(jobs)
	}()

	go func() {
		defer func() {
			if r := recover(); r != nil {
				log.Error().Interface("panic", r).Msg("ICMP wait goroutine panic recovered")
			}
		}()
		wg.Wait()
		close(results)
	}()

	var responsiveIPs []string
	for ip := range results {
		responsiveIPs = append(responsiveIPs, ip)
	}
	return responsiveIPs
}

// streamIPsFromCIDR streams host IPs from a CIDR directly to a channel,
// avoiding an intermediate slice for large networks. Network and broadcast
// addresses are excluded except for /31 and /32 (RFC 3021).
func streamIPsFromCIDR(cidr string, ipChan chan<- string) {
	ip, ipnet, err := net.ParseCIDR(cidr)
	if err != nil {
		log.Error().Str("cidr", cidr).Err(err).Msg("invalid CIDR")
		return
	}

	ones, bits := ipnet.Mask.Size()
	hostBits := bits - ones
	if hostBits > 16 {
		log.Warn().Str("cidr", cidr).Int("host_bits", hostBits).Msg("large network detected, scan may take significant time")
	}

	ip = ip.Mask(ipnet.Mask)
	skipNetworkAndBroadcast := ones < 31
	if skipNetworkAndBroadcast {
		incIP(ip)
	}

	count := 0
	maxIPs := 1 << uint(hostBits)
	if maxIPs > 65536 {
		maxIPs = 65536
	}

	for ipnet.Contains(ip) && count < maxIPs {
		if skipNetworkAndBroadcast {
			nextIP := make(net.IP, len(ip))
			copy(nextIP, ip)
			incIP(nextIP)
			if !ipnet.Contains(nextIP) {
				break
			}
		}
		ipChan <- ip.String()
		count++
		incIP(ip)
	}
}

// ipsFromCIDR expands a CIDR into a slice of usable host IPs, capped at
// 65536 to bound memory on oversized ranges (config validation accepts
// networks up to /8, so a range larger than /16 yields its first 65536
// hosts).
func ipsFromCIDR(cidr string) []string {
	var ips []string
	ip, ipnet, err := net.ParseCIDR(cidr)
	if err != nil {
		return ips
	}

	ones, _ := ipnet.Mask.Size()

	ip = ip.Mask(ipnet.Mask)
	skipNetworkAndBroadcast := ones < 31
	if skipNetworkAndBroadcast {
		incIP(ip)
	}

	maxIPs := 65536
	count := 0
	for ipnet.Contains(ip) {
		if skipNetworkAndBroadcast {
			nextIP := make(net.IP, len(ip))
			copy(nextIP, ip)
			incIP(nextIP)
			if !ipnet.Contains(nextIP) {
				break
			}
		}
		ips = append(ips, ip.String())
		count++
		if count >= maxIPs {
			break
		}
		incIP(ip)
	}
	return ips
}

// incIP increments an IPv4 address by one, handling carry-over.
func incIP(ip net.IP) {
	for j := len(ip) - 1; j >= 0; j-- {
		ip[j]++
		if ip[j] > 0 {
			break
		}
	}
}
