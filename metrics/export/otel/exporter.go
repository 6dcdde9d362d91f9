package otel

import (
	"context"
	"errors"
	"strconv"
	"strings"

	"github.com/samber/oops"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/MrEthical07/glidauth"
	"github.com/MrEthical07/glidauth/metrics/export/internaldefs"
)

var (
	ErrNilMeter  = errors.New("nil meter")
	ErrNilSource = errors.New("nil metrics source")
)

// Instrument names. Series within an instrument are told apart by the
// event, histogram and le attributes.
const (
	EventsName        = "glidauth.events"
	LatencyBucketName = "glidauth.latency.bucket"
	LatencyCountName  = "glidauth.latency.count"
	AuditDroppedName  = "glidauth.audit.dropped"
)

// MetricsSource is the read side of an engine. *glidauth.Engine satisfies it.
type MetricsSource interface {
	MetricsSnapshot() glidauth.MetricsSnapshot
	AuditDropped() uint64
}

type eventSeries struct {
	id    glidauth.MetricID
	attrs metric.ObserveOption
}

type latencySeries struct {
	id      glidauth.MetricID
	buckets [8]metric.ObserveOption
	count   metric.ObserveOption
}

// Exporter observes one engine snapshot per collection into four
// instruments.
type Exporter struct {
	source       MetricsSource
	registration metric.Registration

	events       metric.Int64ObservableCounter
	buckets      metric.Int64ObservableGauge
	samples      metric.Int64ObservableGauge
	auditDropped metric.Int64ObservableCounter

	eventSeries   []eventSeries
	latencySeries []latencySeries
}

func NewExporter(meter metric.Meter, engine *glidauth.Engine) (*Exporter, error) {
	if engine == nil {
		return nil, ErrNilSource
	}
	return NewExporterFromSource(meter, engine)
}

func NewExporterFromSource(meter metric.Meter, source MetricsSource) (*Exporter, error) {
	if meter == nil {
		return nil, ErrNilMeter
	}
	if source == nil {
		return nil, ErrNilSource
	}

	e := &Exporter{source: source}
	errb := oops.In("metrics.otel").Code("INSTRUMENT_FAILED")

	var err error
	if e.events, err = meter.Int64ObservableCounter(EventsName,
		metric.WithDescription("Engine events by kind.")); err != nil {
		return nil, errb.With("instrument", EventsName).Wrap(err)
	}
	if e.buckets, err = meter.Int64ObservableGauge(LatencyBucketName,
		metric.WithDescription("Cumulative latency bucket counts."), metric.WithUnit("{sample}")); err != nil {
		return nil, errb.With("instrument", LatencyBucketName).Wrap(err)
	}
	if e.samples, err = meter.Int64ObservableGauge(LatencyCountName,
		metric.WithDescription("Latency samples recorded."), metric.WithUnit("{sample}")); err != nil {
		return nil, errb.With("instrument", LatencyCountName).Wrap(err)
	}
	if e.auditDropped, err = meter.Int64ObservableCounter(AuditDroppedName,
		metric.WithDescription(internaldefs.AuditDroppedHelp)); err != nil {
		return nil, errb.With("instrument", AuditDroppedName).Wrap(err)
	}

	for _, def := range internaldefs.CounterDefs {
		e.eventSeries = append(e.eventSeries, eventSeries{
			id:    def.ID,
			attrs: metric.WithAttributes(attribute.String("event", eventName(def.Name))),
		})
	}
	for _, def := range internaldefs.HistogramDefs {
		s := latencySeries{
			id:    def.ID,
			count: metric.WithAttributes(attribute.String("histogram", def.Name)),
		}
		for i := range s.buckets {
			s.buckets[i] = metric.WithAttributes(
				attribute.String("histogram", def.Name),
				attribute.String("le", bucketBound(i)),
			)
		}
		e.latencySeries = append(e.latencySeries, s)
	}

	e.registration, err = meter.RegisterCallback(e.observe, e.events, e.buckets, e.samples, e.auditDropped)
	if err != nil {
		return nil, oops.In("metrics.otel").Code("CALLBACK_FAILED").Wrap(err)
	}
	return e, nil
}

func (e *Exporter) observe(_ context.Context, o metric.Observer) error {
	snapshot := e.source.MetricsSnapshot()
	for _, s := range e.eventSeries {
		o.ObserveInt64(e.events, int64(snapshot.Counters[s.id]), s.attrs)
	}
	for _, s := range e.latencySeries {
		cumulative := internaldefs.CumulativeBuckets(internaldefs.NormalizeBuckets(snapshot.Histograms[s.id]))
		for i, attrs := range s.buckets {
			o.ObserveInt64(e.buckets, int64(cumulative[i]), attrs)
		}
		o.ObserveInt64(e.samples, int64(cumulative[len(cumulative)-1]), s.count)
	}
	o.ObserveInt64(e.auditDropped, int64(e.source.AuditDropped()))
	return nil
}

// eventName turns glidauth_login_success_total into login_success.
func eventName(promName string) string {
	return strings.TrimSuffix(strings.TrimPrefix(promName, "glidauth_"), "_total")
}

func bucketBound(i int) string {
	if i >= len(internaldefs.HistogramBounds) {
		return "+Inf"
	}
	return strconv.FormatFloat(internaldefs.HistogramBounds[i], 'g', -1, 64)
}

// Close unregisters the collection callback.
func (e *Exporter) Close() error {
	if e == nil || e.registration == nil {
		return nil
	}
	return e.registration.Unregister()
}
