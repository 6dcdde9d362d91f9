// Package otel binds glidauth engine metrics to OpenTelemetry observable
// instruments.
//
// Counters share one instrument, glidauth.events, keyed by an event
// attribute. Latency histograms are published as cumulative bucket gauges
// keyed by histogram and le. One callback reads
// [glidauth.Engine.MetricsSnapshot] per collection; callers own the
// MeterProvider.
package otel
