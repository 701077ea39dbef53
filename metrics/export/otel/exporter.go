package otel

import (
	"context"
	"errors"
	"fmt"

	goVerify "github.com/MrEthical07/goVerify"
	"github.com/MrEthical07/goVerify/metrics/export/internaldefs"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

var (
	ErrNilMeter  = errors.New("nil meter")
	ErrNilSource = errors.New("nil metrics source")
)

type metricsSource interface {
	MetricsSnapshot() goVerify.MetricsSnapshot
	AuditDropped() uint64
}

// series is one labelled series of a counter family.
type series struct {
	id      goVerify.MetricID
	options []metric.ObserveOption
}

type family struct {
	counter metric.Int64ObservableCounter
	series  []series
}

// histogram mirrors a bucketed snapshot as one gauge per cumulative bucket
// plus a total.
type histogram struct {
	id      goVerify.MetricID
	buckets [internaldefs.BucketCount]metric.Int64ObservableGauge
	total   metric.Int64ObservableGauge
}

// OTelExporter publishes engine snapshots as asynchronous instruments. Values
// are read from the source on every collection.
type OTelExporter struct {
	source       metricsSource
	families     []family
	histograms   []histogram
	auditDropped metric.Int64ObservableCounter
	registration metric.Registration
}

func NewOTelExporter(meter metric.Meter, engine *goVerify.Engine) (*OTelExporter, error) {
	if engine == nil {
		return nil, ErrNilSource
	}
	return NewOTelExporterFromSource(meter, engine)
}

func NewOTelExporterFromSource(meter metric.Meter, source metricsSource) (*OTelExporter, error) {
	switch {
	case meter == nil:
		return nil, ErrNilMeter
	case source == nil:
		return nil, ErrNilSource
	}

	e := &OTelExporter{source: source}
	var observables []metric.Observable

	gauge := func(name, help string) (metric.Int64ObservableGauge, error) {
		g, err := meter.Int64ObservableGauge(name, metric.WithDescription(help))
		if err != nil {
			return nil, fmt.Errorf("otel gauge %s: %w", name, err)
		}
		observables = append(observables, g)
		return g, nil
	}
	counter := func(name, help string) (metric.Int64ObservableCounter, error) {
		c, err := meter.Int64ObservableCounter(name, metric.WithDescription(help))
		if err != nil {
			return nil, fmt.Errorf("otel counter %s: %w", name, err)
		}
		observables = append(observables, c)
		return c, nil
	}

	for _, def := range internaldefs.Families {
		c, err := counter(def.Name, def.Help)
		if err != nil {
			return nil, err
		}
		f := family{counter: c}
		for _, s := range internaldefs.SeriesOf(def) {
			entry := series{id: s.ID}
			if def.Label != "" {
				entry.options = []metric.ObserveOption{
					metric.WithAttributes(attribute.String(def.Label, s.Value)),
				}
			}
			f.series = append(f.series, entry)
		}
		e.families = append(e.families, f)
	}

	for _, def := range internaldefs.HistogramDefs {
		h := histogram{id: def.ID}
		for i, suffix := range internaldefs.HistogramBoundSuffix {
			g, err := gauge(def.Name+"_bucket_le_"+suffix, "Cumulative bucket of "+def.Name+".")
			if err != nil {
				return nil, err
			}
			h.buckets[i] = g
		}
		total, err := gauge(def.Name+"_count", "Sample count of "+def.Name+".")
		if err != nil {
			return nil, err
		}
		h.total = total
		e.histograms = append(e.histograms, h)
	}

	dropped, err := counter(internaldefs.AuditDroppedName, "Audit events dropped under backpressure.")
	if err != nil {
		return nil, err
	}
	e.auditDropped = dropped

	reg, err := meter.RegisterCallback(e.observe, observables...)
	if err != nil {
		return nil, fmt.Errorf("otel register callback: %w", err)
	}
	e.registration = reg
	return e, nil
}

func (e *OTelExporter) observe(_ context.Context, o metric.Observer) error {
	snap := e.source.MetricsSnapshot()

	for _, f := range e.families {
		for _, s := range f.series {
			o.ObserveInt64(f.counter, int64(snap.Counters[s.id]), s.options...)
		}
	}
	for _, h := range e.histograms {
		cumulative := internaldefs.CumulativeBuckets(internaldefs.NormalizeBuckets(snap.Histograms[h.id]))
		for i, g := range h.buckets {
			o.ObserveInt64(g, int64(cumulative[i]))
		}
		o.ObserveInt64(h.total, int64(cumulative[internaldefs.BucketCount-1]))
	}
	o.ObserveInt64(e.auditDropped, int64(e.source.AuditDropped()))
	return nil
}

// Close unregisters the collection callback.
func (e *OTelExporter) Close() error {
	if e == nil || e.registration == nil {
		return nil
	}
	return e.registration.Unregister()
}
