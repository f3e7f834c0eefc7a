package pool

import (
	"sync"
	"time"

	"github.com/go-i2p/asyncpool/lib/metrics"
)

// MetricsObserver is an Observer that records pool activity in a
// metrics.Registry.
//
// Metrics, with prefix p:
//   - p_pool_size: number of slots
//   - p_pool_connections_ready: connections waiting to be acquired
//   - p_pool_connections_in_use: connections held by callers
//   - p_pool_connections_pending: connect attempts in flight
//   - p_pool_connections_failed: slots whose connect failed
//   - p_pool_connections_retired: slots taken out of service
//   - p_pool_connect_total: completed connect attempts
//   - p_pool_connect_failed_total: failed connect attempts
//   - p_pool_acquire_success_total: successful acquires
//   - p_pool_acquire_timeout_total: acquires that got no connection
//   - p_pool_release_total: releases
//   - p_pool_discard_total: discards
//   - p_pool_violation_total: rejected releases and discards
//   - p_pool_acquire_duration_seconds: time spent waiting in acquire
type MetricsObserver struct {
	size       *metrics.Gauge
	ready      *metrics.Gauge
	inUse      *metrics.Gauge
	pending    *metrics.Gauge
	failed     *metrics.Gauge
	retired    *metrics.Gauge
	connects   *metrics.Counter
	connectErr *metrics.Counter
	acquired   *metrics.Counter
	timeouts   *metrics.Counter
	released   *metrics.Counter
	discarded  *metrics.Counter
	violations *metrics.Counter
	waitTime   *metrics.Histogram

	mu      sync.Mutex
	lastSeq uint64
}

// NewMetricsObserver registers the pool metrics in reg.
func NewMetricsObserver(reg *metrics.Registry, prefix string) *MetricsObserver {
	name := func(s string) string { return prefix + "_pool_" + s }
	return &MetricsObserver{
		size:       reg.Gauge(name("size"), "Number of connection slots in the pool"),
		ready:      reg.Gauge(name("connections_ready"), "Connections waiting to be acquired"),
		inUse:      reg.Gauge(name("connections_in_use"), "Connections currently held by callers"),
		pending:    reg.Gauge(name("connections_pending"), "Connect attempts in flight"),
		failed:     reg.Gauge(name("connections_failed"), "Slots whose connect attempt failed"),
		retired:    reg.Gauge(name("connections_retired"), "Slots taken out of service"),
		connects:   reg.Counter(name("connect_total"), "Total number of completed connect attempts"),
		connectErr: reg.Counter(name("connect_failed_total"), "Total number of failed connect attempts"),
		acquired:   reg.Counter(name("acquire_success_total"), "Total number of successful acquires"),
		timeouts:   reg.Counter(name("acquire_timeout_total"), "Total number of acquires that got no connection"),
		released:   reg.Counter(name("release_total"), "Total number of connection releases"),
		discarded:  reg.Counter(name("discard_total"), "Total number of discarded connections"),
		violations: reg.Counter(name("violation_total"), "Total number of rejected releases and discards"),
		waitTime: reg.Histogram(
			name("acquire_duration_seconds"),
			"Time spent acquiring a connection from the pool",
			metrics.DefaultLatencyBuckets,
		),
	}
}

func (m *MetricsObserver) ConnectDone(_ int, err error) {
	m.connects.Inc()
	if err != nil {
		m.connectErr.Inc()
	}
}

func (m *MetricsObserver) Acquired(wait time.Duration) {
	m.acquired.Inc()
	m.waitTime.Observe(wait.Seconds())
}

func (m *MetricsObserver) AcquireTimedOut(wait time.Duration) {
	m.timeouts.Inc()
	m.waitTime.Observe(wait.Seconds())
}

func (m *MetricsObserver) Released()       { m.released.Inc() }
func (m *MetricsObserver) Discarded()      { m.discarded.Inc() }
func (m *MetricsObserver) Violation(error) { m.violations.Inc() }

// StatsChanged updates the gauges from stats. Snapshots that arrive after
// a newer one are dropped.
func (m *MetricsObserver) StatsChanged(stats Stats) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if stats.Seq != 0 && stats.Seq <= m.lastSeq {
		return
	}
	m.lastSeq = stats.Seq

	m.size.Set(int64(stats.Size))
	m.ready.Set(int64(stats.Ready))
	m.inUse.Set(int64(stats.CheckedOut))
	m.pending.Set(int64(stats.Pending))
	m.failed.Set(int64(stats.Failed))
	m.retired.Set(int64(stats.Retired))
}
