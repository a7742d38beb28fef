package metrics

import "sync/atomic"

// MetricID identifies a single gateway counter.
type MetricID uint16

const (
	MetricLoginSuccess MetricID = iota
	MetricLoginFailure
	MetricSessionCreated
	MetricSessionRevoked
	MetricSessionExpired
	MetricSessionEvicted
	MetricSessionLimitRejected
	MetricLogout
	MetricLogoutAll
	MetricChallengeIssued
	MetricRequestCacheHit
	MetricRememberIssued
	MetricRememberUsed
	MetricRememberInvalid
	MetricRememberReuseDetected
	MetricUpstreamTimeout

	MetricIDCount
)

// Config controls whether counting is active at all. When Enabled is false
// every operation is a no-op.
type Config struct {
	Enabled bool
}

// paddedCounter keeps each slot on its own cache line to avoid false
// sharing between concurrently incremented counters.
type paddedCounter struct {
	value uint64
	_     [56]byte
}

// Metrics holds lock-free counters for all gateway operations. The write
// path is a single atomic add and never allocates.
type Metrics struct {
	enabled  bool
	counters [MetricIDCount]paddedCounter
}

// Snapshot is a point-in-time deep copy of all counters.
type Snapshot struct {
	Counters map[MetricID]uint64
}

func New(cfg Config) *Metrics {
	return &Metrics{enabled: cfg.Enabled}
}

func (m *Metrics) Enabled() bool {
	return m != nil && m.enabled
}

func (m *Metrics) Inc(id MetricID) {
	if m == nil || !m.enabled || id >= MetricIDCount {
		return
	}
	atomic.AddUint64(&m.counters[id].value, 1)
}

func (m *Metrics) Value(id MetricID) uint64 {
	if m == nil || id >= MetricIDCount {
		return 0
	}
	return atomic.LoadUint64(&m.counters[id].value)
}

func (m *Metrics) Snapshot() Snapshot {
	if m == nil || !m.enabled {
		return Snapshot{Counters: map[MetricID]uint64{}}
	}

	s := Snapshot{Counters: make(map[MetricID]uint64, int(MetricIDCount))}
	for id := MetricID(0); id < MetricIDCount; id++ {
		s.Counters[id] = atomic.LoadUint64(&m.counters[id].value)
	}

	return s
}
