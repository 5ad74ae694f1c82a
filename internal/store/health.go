package store

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/puzpuzpuz/xsync/v4"
)

// Replica health defaults.
const (
	DefaultProbeInterval  = 30 * time.Second
	DefaultProbeTimeout   = 5 * time.Second
	DefaultMaxLagBytes    = 10 << 20 // 10 MiB
	DefaultHealthStaleAge = 2 * time.Minute
)

// ProbeResult is the last-known-good view of one replica.
type ProbeResult struct {
	Healthy   bool
	LagBytes  int64
	CheckedAt time.Time
	Err       string
}

// Prober checks one replica: whether it is reachable, actually serving as a
// replica, and how far behind it is in bytes. A lag of -1 means the estimate
// was unobtainable; the replica is then judged on reachability alone.
type Prober func(ctx context.Context) (lagBytes int64, isReplica bool, err error)

// HealthMonitorConfig configures a HealthMonitor.
type HealthMonitorConfig struct {
	Probers map[string]Prober // keyed by replica name

	Interval    time.Duration
	Timeout     time.Duration
	MaxLagBytes int64
	StaleAge    time.Duration

	now func() time.Time // injectable for testing
}

// HealthMonitor maintains per-replica health used to gate read routing.
// An initial synchronous probe runs at Start; periodic probes follow.
// Entries older than StaleAge are treated as unhealthy, so a wedged probe
// loop fails closed rather than routing reads to a dead replica.
type HealthMonitor struct {
	status  *xsync.Map[string, ProbeResult]
	probers map[string]Prober

	interval time.Duration
	timeout  time.Duration
	maxLag   int64
	staleAge time.Duration
	now      func() time.Time

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// NewHealthMonitor creates a HealthMonitor. Zero config fields fall back to
// the package defaults.
func NewHealthMonitor(cfg HealthMonitorConfig) *HealthMonitor {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultProbeInterval
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultProbeTimeout
	}
	if cfg.MaxLagBytes <= 0 {
		cfg.MaxLagBytes = DefaultMaxLagBytes
	}
	if cfg.StaleAge <= 0 {
		cfg.StaleAge = DefaultHealthStaleAge
	}
	if cfg.now == nil {
		cfg.now = time.Now
	}
	return &HealthMonitor{
		status:   xsync.NewMap[string, ProbeResult](),
		probers:  cfg.Probers,
		interval: cfg.Interval,
		timeout:  cfg.Timeout,
		maxLag:   cfg.MaxLagBytes,
		staleAge: cfg.StaleAge,
		now:      cfg.now,
		stopCh:   make(chan struct{}),
	}
}

// Start runs the initial probe synchronously, then launches the periodic
// probe loop.
func (m *HealthMonitor) Start() {
	m.probeAll()
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		ticker := time.NewTicker(m.interval)
		defer ticker.Stop()
		for {
			select {
			case <-m.stopCh:
				return
			case <-ticker.C:
				m.probeAll()
			}
		}
	}()
}

// Stop terminates the probe schedule and waits for in-flight probes. Probe
// contexts carry the probe timeout, so Stop returns within that bound.
func (m *HealthMonitor) Stop() {
	close(m.stopCh)
	m.wg.Wait()
}

// Healthy reports whether the named replica is usable for reads. Unknown
// replicas and stale entries are unhealthy.
func (m *HealthMonitor) Healthy(name string) bool {
	res, ok := m.status.Load(name)
	if !ok || !res.Healthy {
		return false
	}
	return m.now().Sub(res.CheckedAt) <= m.staleAge
}

// Status returns a snapshot of all replica health entries.
func (m *HealthMonitor) Status() map[string]ProbeResult {
	out := make(map[string]ProbeResult, len(m.probers))
	m.status.Range(func(name string, res ProbeResult) bool {
		out[name] = res
		return true
	})
	return out
}

func (m *HealthMonitor) probeAll() {
	var wg sync.WaitGroup
	for name, probe := range m.probers {
		wg.Add(1)
		go func(name string, probe Prober) {
			defer wg.Done()
			m.probeOne(name, probe)
		}(name, probe)
	}
	wg.Wait()
}

func (m *HealthMonitor) probeOne(name string, probe Prober) {
	ctx, cancel := context.WithTimeout(context.Background(), m.timeout)
	defer cancel()

	res := ProbeResult{CheckedAt: m.now()}
	lag, isReplica, err := probe(ctx)
	switch {
	case err != nil:
		res.Err = err.Error()
	case !isReplica:
		// The endpoint answers as a primary; routing reads there would
		// silently defeat the read/write split.
		res.Err = "endpoint is not serving as a replica"
	case lag >= 0 && lag > m.maxLag:
		res.LagBytes = lag
		res.Err = "replication lag above threshold"
	default:
		res.Healthy = true
		res.LagBytes = lag
	}
	prev, _ := m.status.Load(name)
	m.status.Store(name, res)

	if prev.Healthy != res.Healthy {
		if res.Healthy {
			log.Printf("[health] replica %s healthy (lag=%d bytes)", name, res.LagBytes)
		} else {
			log.Printf("[health] replica %s unhealthy: %s", name, res.Err)
		}
	}
}
