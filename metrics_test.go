package glidauth

import (
	"sync"
	"testing"
	"time"
)

func TestMetricsDisabledRecordsNothing(t *testing.T) {
	m := NewMetrics(MetricsConfig{Enabled: false})
	m.Inc(MetricLoginSuccess)
	m.Add(MetricSessionClosed, 3)
	m.Observe(MetricAuthorizeLatency, time.Millisecond)

	if m.Value(MetricLoginSuccess) != 0 || m.Value(MetricSessionClosed) != 0 {
		t.Fatalf("disabled metrics must not count")
	}
	if s := m.Snapshot(); len(s.Counters) != 0 || len(s.Histograms) != 0 {
		t.Fatalf("disabled snapshot must be empty, got %+v", s)
	}

	var nilMetrics *Metrics
	nilMetrics.Inc(MetricLoginSuccess)
	if nilMetrics.Enabled() || nilMetrics.Value(MetricLoginSuccess) != 0 {
		t.Fatalf("nil metrics must be inert")
	}
}

func TestMetricsConcurrentInc(t *testing.T) {
	m := NewMetrics(MetricsConfig{Enabled: true})

	const workers, perWorker = 8, 1000
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < perWorker; j++ {
				m.Inc(MetricAuthorizeAllowed)
			}
		}()
	}
	wg.Wait()

	if got := m.Value(MetricAuthorizeAllowed); got != workers*perWorker {
		t.Fatalf("expected %d, got %d", workers*perWorker, got)
	}
	m.Add(MetricSessionClosed, 4)
	m.Add(MetricSessionClosed, 0)
	if got := m.Snapshot().Counters[MetricSessionClosed]; got != 4 {
		t.Fatalf("expected 4 closed sessions, got %d", got)
	}
	if m.Value(metricIDCount) != 0 {
		t.Fatalf("out of range id must read zero")
	}
}

func TestMetricsLatencyBuckets(t *testing.T) {
	m := NewMetrics(MetricsConfig{Enabled: true, EnableLatencyHistograms: true})
	m.Observe(MetricAuthorizeLatency, 2*time.Millisecond)
	m.Observe(MetricAuthorizeLatency, 30*time.Millisecond)
	m.Observe(MetricAuthorizeLatency, time.Minute)
	m.Observe(MetricLoginSuccess, time.Millisecond)

	buckets := m.Snapshot().Histograms[MetricAuthorizeLatency]
	if len(buckets) != histBucketCount {
		t.Fatalf("expected %d buckets, got %d", histBucketCount, len(buckets))
	}
	if buckets[0] != 1 || buckets[3] != 1 || buckets[histBucketCount-1] != 1 {
		t.Fatalf("unexpected buckets %v", buckets)
	}
	if _, ok := m.Snapshot().Histograms[MetricLoginSuccess]; ok {
		t.Fatalf("only authorize latency has a histogram")
	}
}
