package glidauth

import (
	"sync/atomic"
	"time"
)

// MetricID indexes an in-process counter. The set is fixed at compile time
// so counters live in a flat array.
type MetricID uint16

const (
	MetricSessionCreated MetricID = iota
	MetricSessionReused
	MetricLoginSuccess
	MetricLoginFailure
	MetricMFARequired
	MetricOTPSent
	MetricOTPVerified
	MetricOTPFailure
	MetricOTPExpired
	MetricMagicLinkSuccess
	MetricMagicLinkFailure
	MetricSessionActivated
	MetricRefreshSuccess
	MetricRefreshFailure
	MetricLogout
	MetricSessionClosed
	MetricCloseAll
	MetricSessionTimeout
	MetricPasswordChangeSuccess
	MetricPasswordChangeFailure
	MetricPasswordReset
	MetricPasswordDeleted
	MetricRecoveryRequested
	MetricRecoverySuccess
	MetricRecoveryFailure
	MetricGLIDReminderSent
	MetricRegistrationStarted
	MetricRegistrationVerified
	MetricRegistrationCompleted
	MetricRegistrationFailure
	MetricAuthorizeAllowed
	MetricAuthorizeDenied
	MetricPrelaunchRejected
	MetricNotifyDropped
	// MetricAuthorizeLatency is the only metric with a histogram.
	MetricAuthorizeLatency
	metricIDCount
)

const cacheLineSize = 64

// latencyBounds are the inclusive upper edges of the latency buckets. One
// more bucket past the last edge catches everything slower.
var latencyBounds = [...]time.Duration{
	5 * time.Millisecond,
	10 * time.Millisecond,
	25 * time.Millisecond,
	50 * time.Millisecond,
	100 * time.Millisecond,
	250 * time.Millisecond,
	500 * time.Millisecond,
}

const histBucketCount = len(latencyBounds) + 1

type paddedCounter struct {
	value uint64
	_     [cacheLineSize - 8]byte
}

// Metrics is a set of lock-free counters plus the authorize latency
// histogram. A nil or disabled Metrics accepts every call and records
// nothing.
type Metrics struct {
	enabled       bool
	enableLatency bool
	counters      [metricIDCount]paddedCounter
	latency       [histBucketCount]paddedCounter
}

// MetricsSnapshot is a point-in-time copy consumed by the exporters.
type MetricsSnapshot struct {
	Counters   map[MetricID]uint64
	Histograms map[MetricID][]uint64
}

func NewMetrics(cfg MetricsConfig) *Metrics {
	return &Metrics{
		enabled:       cfg.Enabled,
		enableLatency: cfg.Enabled && cfg.EnableLatencyHistograms,
	}
}

func (m *Metrics) Enabled() bool {
	return m != nil && m.enabled
}

func (m *Metrics) LatencyEnabled() bool {
	return m != nil && m.enableLatency
}

func (m *Metrics) counter(id MetricID) *uint64 {
	if m == nil || !m.enabled || id >= metricIDCount {
		return nil
	}
	return &m.counters[id].value
}

func (m *Metrics) Inc(id MetricID) {
	m.Add(id, 1)
}

// Add increments id by n.
func (m *Metrics) Add(id MetricID, n uint64) {
	if c := m.counter(id); c != nil && n > 0 {
		atomic.AddUint64(c, n)
	}
}

// Observe records d for MetricAuthorizeLatency. Other ids are ignored.
func (m *Metrics) Observe(id MetricID, d time.Duration) {
	if id != MetricAuthorizeLatency || !m.LatencyEnabled() {
		return
	}
	atomic.AddUint64(&m.latency[latencyBucket(d)].value, 1)
}

func (m *Metrics) Value(id MetricID) uint64 {
	if m == nil || id >= metricIDCount {
		return 0
	}
	return atomic.LoadUint64(&m.counters[id].value)
}

func (m *Metrics) Snapshot() MetricsSnapshot {
	s := MetricsSnapshot{
		Counters:   map[MetricID]uint64{},
		Histograms: map[MetricID][]uint64{},
	}
	if !m.Enabled() {
		return s
	}

	for id := range m.counters {
		s.Counters[MetricID(id)] = atomic.LoadUint64(&m.counters[id].value)
	}
	if m.enableLatency {
		buckets := make([]uint64, histBucketCount)
		for i := range m.latency {
			buckets[i] = atomic.LoadUint64(&m.latency[i].value)
		}
		s.Histograms[MetricAuthorizeLatency] = buckets
	}
	return s
}

func latencyBucket(d time.Duration) int {
	for i, bound := range latencyBounds {
		if d <= bound {
			return i
		}
	}
	return len(latencyBounds)
}
