// Package internaldefs holds the metric names, help strings and bucket
// bounds shared by the Prometheus and OpenTelemetry exporters, so both
// expose identical series.
//
// The package performs no I/O and imports no exporter package.
package internaldefs
