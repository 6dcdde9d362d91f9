// Package prometheus exposes glidauth engine metrics as a Prometheus
// collector.
//
// [Collector] turns each scrape into one [glidauth.Engine.MetricsSnapshot]
// and emits glidauth_*_total counters plus the
// glidauth_authorize_latency_seconds histogram. Register it on your own
// registry; the package never touches the global one.
package prometheus
