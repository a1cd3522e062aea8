// Package discovery implements network discovery: scans configured IP
// ranges and known hints for reachable drones, verifies them with a cheap
// probe, and maintains a TTL'd cache that the DroneFactory and REST surface
// consult.
package discovery

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/dronefleet/fleetctl/internal/domain"
	"github.com/dronefleet/fleetctl/pkg/logger"
)

// Prober verifies one candidate IP and reports its battery on success. In
// production this sends the lightweight "battery?" Tello command with a
// short timeout; tests substitute a fake.
type Prober interface {
	Probe(ctx context.Context, ip string, timeout time.Duration) (battery int, signal int, err error)
}

// Config parameterizes a scan.
type Config struct {
	CIDRBlocks      []string
	HintIPs         []string
	MaxScanHosts    int           // default 1024
	ScanWorkers     int           // default 32
	ProbeTimeout    time.Duration // default 3s
	ScanIntervalSec int           // default 60, auto-scan cadence
	ScanTTL         time.Duration // cache entry freshness window
}

func DefaultConfig() Config {
	return Config{
		MaxScanHosts:    1024,
		ScanWorkers:     32,
		ProbeTimeout:    3 * time.Second,
		ScanIntervalSec: 60,
		ScanTTL:         2 * time.Minute,
	}
}

// Mirror is an optional external cache mirror (Redis-backed) consulted as a
// secondary write target only — never the source of truth.
type Mirror interface {
	MirrorDetected(ctx context.Context, drones map[string]domain.DetectedDrone, ttl time.Duration)
}

// NetworkDiscovery scans, verifies and caches detected drones, and drives an
// auto-scan loop that the CommandRouter/REST surface can start, stop or
// reconfigure.
type NetworkDiscovery struct {
	cfg    Config
	prober Prober
	logger *logger.Logger
	mirror Mirror

	mu          sync.RWMutex
	cache       map[string]domain.DetectedDrone
	scanRunning bool
	stopAuto    chan struct{}
	autoWG      sync.WaitGroup

	scanMu      sync.Mutex // serializes concurrent Scan callers
	lastScanAt  time.Time
	scanning    bool
	scanWaiters []chan struct{}
}

func New(cfg Config, prober Prober, log *logger.Logger, mirror Mirror) *NetworkDiscovery {
	return &NetworkDiscovery{
		cfg:    cfg,
		prober: prober,
		logger: log,
		mirror: mirror,
		cache:  make(map[string]domain.DetectedDrone),
	}
}

// candidateSet expands CIDR blocks and hint IPs into a bounded host list.
func (d *NetworkDiscovery) candidateSet() ([]string, error) {
	seen := make(map[string]bool)
	var out []string

	add := func(ip string) bool {
		if seen[ip] {
			return true
		}
		seen[ip] = true
		out = append(out, ip)
		return len(out) < d.cfg.MaxScanHosts
	}

	for _, ip := range d.cfg.HintIPs {
		if !add(ip) {
			return out, nil
		}
	}

	for _, block := range d.cfg.CIDRBlocks {
		ip, ipnet, err := net.ParseCIDR(block)
		if err != nil {
			return nil, fmt.Errorf("invalid CIDR block %q: %w", block, err)
		}
		for cur := ip.Mask(ipnet.Mask); ipnet.Contains(cur); incIP(cur) {
			if !add(cur.String()) {
				return out, nil
			}
		}
	}
	return out, nil
}

func incIP(ip net.IP) {
	for i := len(ip) - 1; i >= 0; i-- {
		ip[i]++
		if ip[i] != 0 {
			break
		}
	}
}

// Scan runs one verification pass. Concurrent callers within ScanTTL of the
// last completed scan receive the cached result instead of triggering a
// duplicate scan.
func (d *NetworkDiscovery) Scan(ctx context.Context) (map[string]domain.DetectedDrone, error) {
	d.scanMu.Lock()
	if d.scanning {
		wait := make(chan struct{})
		d.scanWaiters = append(d.scanWaiters, wait)
		d.scanMu.Unlock()
		select {
		case <-wait:
			return d.Snapshot(), nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if !d.lastScanAt.IsZero() && time.Since(d.lastScanAt) < d.cfg.ScanTTL {
		result := d.Snapshot()
		d.scanMu.Unlock()
		return result, nil
	}
	d.scanning = true
	d.scanMu.Unlock()

	defer func() {
		d.scanMu.Lock()
		d.scanning = false
		d.lastScanAt = time.Now()
		waiters := d.scanWaiters
		d.scanWaiters = nil
		d.scanMu.Unlock()
		for _, w := range waiters {
			close(w)
		}
	}()

	candidates, err := d.candidateSet()
	if err != nil {
		return nil, err
	}

	sem := make(chan struct{}, d.cfg.ScanWorkers)
	var wg sync.WaitGroup
	var mu sync.Mutex
	results := make(map[string]domain.DetectedDrone)

	for _, ip := range candidates {
		select {
		case <-ctx.Done():
			break
		default:
		}
		wg.Add(1)
		sem <- struct{}{}
		go func(ip string) {
			defer wg.Done()
			defer func() { <-sem }()

			battery, signal, err := d.prober.Probe(ctx, ip, d.cfg.ProbeTimeout)
			if err != nil {
				return
			}
			b, s := battery, signal
			mu.Lock()
			results[ip] = domain.DetectedDrone{
				IP:           ip,
				Battery:      &b,
				Signal:       &s,
				LastVerified: time.Now(),
				Availability: domain.AvailabilityAvailable,
			}
			mu.Unlock()
		}(ip)
	}
	wg.Wait()

	d.mu.Lock()
	for ip, dd := range results {
		d.cache[ip] = dd
	}
	d.mu.Unlock()

	if d.mirror != nil {
		d.mirror.MirrorDetected(ctx, results, d.cfg.ScanTTL)
	}

	d.logger.WithField("found", len(results)).WithField("scanned", len(candidates)).Info("discovery scan completed")
	return d.Snapshot(), nil
}

// Snapshot returns a copy of the cache, marking entries older than ScanTTL
// as stale rather than dropping them.
func (d *NetworkDiscovery) Snapshot() map[string]domain.DetectedDrone {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make(map[string]domain.DetectedDrone, len(d.cache))
	for ip, dd := range d.cache {
		if time.Since(dd.LastVerified) > d.cfg.ScanTTL {
			dd.Availability = domain.AvailabilityStale
		}
		out[ip] = dd
	}
	return out
}

// FirstAvailable returns the first non-stale detected drone, for
// DroneFactory's auto-mode resolution.
func (d *NetworkDiscovery) FirstAvailable() (domain.DetectedDrone, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	for _, dd := range d.cache {
		if dd.Availability == domain.AvailabilityAvailable && time.Since(dd.LastVerified) <= d.cfg.ScanTTL {
			return dd, true
		}
	}
	return domain.DetectedDrone{}, false
}

// StartAutoScan begins a scan every intervalSeconds seconds (ScanIntervalSec
// when intervalSeconds <= 0) until StopAutoScan or ctx is cancelled.
func (d *NetworkDiscovery) StartAutoScan(ctx context.Context, intervalSeconds int) error {
	d.mu.Lock()
	if d.scanRunning {
		d.mu.Unlock()
		return nil
	}
	d.scanRunning = true
	d.stopAuto = make(chan struct{})
	stop := d.stopAuto
	d.mu.Unlock()

	if intervalSeconds <= 0 {
		intervalSeconds = d.cfg.ScanIntervalSec
	}

	d.autoWG.Add(1)
	go func() {
		defer d.autoWG.Done()
		ticker := time.NewTicker(time.Duration(intervalSeconds) * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				scanCtx, cancel := context.WithTimeout(ctx, time.Duration(intervalSeconds)*time.Second)
				if _, err := d.Scan(scanCtx); err != nil {
					d.logger.WithError(err).Warn("auto-scan iteration failed")
				}
				cancel()
			}
		}
	}()
	return nil
}

// StopAutoScan signals the auto-scan loop to exit and waits for it. A scan
// already in progress is not cancelled: it runs to completion, bounded by
// its interval-length timeout, before the loop returns.
func (d *NetworkDiscovery) StopAutoScan() {
	d.mu.Lock()
	if !d.scanRunning {
		d.mu.Unlock()
		return
	}
	close(d.stopAuto)
	d.scanRunning = false
	d.mu.Unlock()
	d.autoWG.Wait()
}

func (d *NetworkDiscovery) AutoScanRunning() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.scanRunning
}
