package otel

import (
	"context"
	"errors"
	"fmt"

	"github.com/MrEthical07/goBFF"
	"github.com/MrEthical07/goBFF/metrics/export/internaldefs"
	"go.opentelemetry.io/otel/metric"
)

var (
	ErrNilMeter  = errors.New("nil meter")
	ErrNilSource = errors.New("nil metrics source")
)

// reading is what one collection cycle sees.
type reading struct {
	snapshot goBFF.MetricsSnapshot
	state    internaldefs.State
}

type observation func(metric.Observer, *reading)

// OTelExporter reports engine counters, the session read latency histogram
// and store and audit state through OpenTelemetry observable instruments.
type OTelExporter struct {
	source       internaldefs.Source
	registration metric.Registration
	observations []observation
}

func NewOTelExporter(meter metric.Meter, engine *goBFF.Engine) (*OTelExporter, error) {
	return NewOTelExporterFromSource(meter, engine)
}

func NewOTelExporterFromSource(meter metric.Meter, source internaldefs.Source) (*OTelExporter, error) {
	if meter == nil {
		return nil, ErrNilMeter
	}
	if source == nil {
		return nil, ErrNilSource
	}

	e := &OTelExporter{source: source}
	var observables []metric.Observable

	for _, def := range internaldefs.CounterDefs {
		ins, err := meter.Int64ObservableCounter(def.Name, metric.WithDescription(def.Help))
		if err != nil {
			return nil, fmt.Errorf("create counter %s: %w", def.Name, err)
		}
		id := def.ID
		e.observations = append(e.observations, func(o metric.Observer, r *reading) {
			if v, ok := r.snapshot.Counters[id]; ok {
				o.ObserveInt64(ins, int64(v))
			}
		})
		observables = append(observables, ins)
	}

	for _, def := range internaldefs.HistogramDefs {
		obs, err := e.latency(meter, def)
		if err != nil {
			return nil, err
		}
		observables = append(observables, obs...)
	}

	for _, def := range internaldefs.StateDefs {
		ins, err := stateInstrument(meter, def)
		if err != nil {
			return nil, err
		}
		value := def.Value
		e.observations = append(e.observations, func(o metric.Observer, r *reading) {
			o.ObserveInt64(ins, int64(value(r.state)))
		})
		observables = append(observables, ins)
	}

	registration, err := meter.RegisterCallback(e.collect, observables...)
	if err != nil {
		return nil, fmt.Errorf("register callback: %w", err)
	}
	e.registration = registration
	return e, nil
}

// stateInstrument picks the instrument kind for def. Both kinds satisfy
// [metric.Int64Observable], so callers observe them the same way.
func stateInstrument(meter metric.Meter, def internaldefs.StateDef) (metric.Int64Observable, error) {
	var (
		ins metric.Int64Observable
		err error
	)
	switch def.Kind {
	case internaldefs.Gauge:
		ins, err = meter.Int64ObservableGauge(def.Name, metric.WithDescription(def.Help))
	default:
		ins, err = meter.Int64ObservableCounter(def.Name, metric.WithDescription(def.Help))
	}
	if err != nil {
		return nil, fmt.Errorf("create %s %s: %w", def.Kind, def.Name, err)
	}
	return ins, nil
}

// latency registers one cumulative gauge per bucket plus count and sum
// instruments. Nothing is observed while latency collection is off.
func (e *OTelExporter) latency(meter metric.Meter, def internaldefs.HistogramDef) ([]metric.Observable, error) {
	var buckets [8]metric.Int64ObservableGauge
	observables := make([]metric.Observable, 0, len(buckets)+2)

	for i, suffix := range internaldefs.HistogramBoundSuffix {
		name := def.Name + "_bucket_le_" + suffix
		ins, err := meter.Int64ObservableGauge(name, metric.WithDescription("Cumulative session reads at or under "+internaldefs.HistogramBounds[i]+"s."))
		if err != nil {
			return nil, fmt.Errorf("create bucket gauge %s: %w", name, err)
		}
		buckets[i] = ins
		observables = append(observables, ins)
	}
	count, err := meter.Int64ObservableCounter(def.Name+"_count", metric.WithDescription("Session reads timed."))
	if err != nil {
		return nil, fmt.Errorf("create count %s_count: %w", def.Name, err)
	}
	sum, err := meter.Float64ObservableCounter(def.Name+"_sum", metric.WithDescription("Total session read time."), metric.WithUnit("s"))
	if err != nil {
		return nil, fmt.Errorf("create sum %s_sum: %w", def.Name, err)
	}
	observables = append(observables, count, sum)

	id := def.ID
	e.observations = append(e.observations, func(o metric.Observer, r *reading) {
		raw, ok := r.snapshot.Histograms[id]
		if !ok {
			return
		}
		cumulative := internaldefs.CumulativeBuckets(internaldefs.NormalizeBuckets(raw))
		for i, ins := range buckets {
			o.ObserveInt64(ins, int64(cumulative[i]))
		}
		o.ObserveInt64(count, int64(cumulative[len(cumulative)-1]))
		o.ObserveFloat64(sum, r.snapshot.HistogramSums[id].Seconds())
	})
	return observables, nil
}

func (e *OTelExporter) collect(_ context.Context, o metric.Observer) error {
	r := &reading{
		snapshot: e.source.MetricsSnapshot(),
		state:    internaldefs.ReadState(e.source),
	}
	for _, observe := range e.observations {
		observe(o, r)
	}
	return nil
}

func (e *OTelExporter) Close() error {
	if e == nil || e.registration == nil {
		return nil
	}
	return e.registration.Unregister()
}
