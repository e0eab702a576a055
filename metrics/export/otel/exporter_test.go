package otel

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/MrEthical07/goBFF"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

type fakeSource struct {
	mu        sync.RWMutex
	snapshot  goBFF.MetricsSnapshot
	store     goBFF.StoreStats
	delivered uint64
	dropped   uint64
}

func (f *fakeSource) MetricsSnapshot() goBFF.MetricsSnapshot {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := goBFF.MetricsSnapshot{
		Counters:      make(map[goBFF.MetricID]uint64, len(f.snapshot.Counters)),
		Histograms:    make(map[goBFF.MetricID][]uint64, len(f.snapshot.Histograms)),
		HistogramSums: make(map[goBFF.MetricID]time.Duration, len(f.snapshot.HistogramSums)),
	}
	for k, v := range f.snapshot.Counters {
		out.Counters[k] = v
	}
	for k, buckets := range f.snapshot.Histograms {
		next := make([]uint64, len(buckets))
		copy(next, buckets)
		out.Histograms[k] = next
	}
	for k, v := range f.snapshot.HistogramSums {
		out.HistogramSums[k] = v
	}
	return out
}

func (f *fakeSource) StoreStats() goBFF.StoreStats {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.store
}

func (f *fakeSource) AuditDelivered() uint64 {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.delivered
}

func (f *fakeSource) AuditDropped() uint64 {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.dropped
}

type collected struct {
	ints   map[string]int64
	floats map[string]float64
}

func collect(t *testing.T, reader *sdkmetric.ManualReader) collected {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect failed: %v", err)
	}
	out := collected{ints: map[string]int64{}, floats: map[string]float64{}}
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			switch data := m.Data.(type) {
			case metricdata.Sum[int64]:
				for _, dp := range data.DataPoints {
					out.ints[m.Name] = dp.Value
				}
			case metricdata.Gauge[int64]:
				for _, dp := range data.DataPoints {
					out.ints[m.Name] = dp.Value
				}
			case metricdata.Sum[float64]:
				for _, dp := range data.DataPoints {
					out.floats[m.Name] = dp.Value
				}
			}
		}
	}
	return out
}

func TestExporterRegistersAndCollects(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	meter := provider.Meter("bff-test")

	src := &fakeSource{
		snapshot: goBFF.MetricsSnapshot{
			Counters: map[goBFF.MetricID]uint64{
				goBFF.MetricSessionTouched: 3,
			},
			Histograms: map[goBFF.MetricID][]uint64{
				goBFF.MetricSessionReadLatency: {1, 1, 1, 1, 1, 1, 1, 1},
			},
			HistogramSums: map[goBFF.MetricID]time.Duration{
				goBFF.MetricSessionReadLatency: 2 * time.Second,
			},
		},
		store:     goBFF.StoreStats{Connected: true, Reconnects: 2, TotalConns: 5, IdleConns: 4, PoolTimeouts: 1},
		delivered: 6,
		dropped:   1,
	}

	exp, err := NewOTelExporterFromSource(meter, src)
	if err != nil {
		t.Fatalf("NewOTelExporterFromSource failed: %v", err)
	}
	defer func() {
		if err := exp.Close(); err != nil {
			t.Fatalf("Close failed: %v", err)
		}
	}()

	got := collect(t, reader)
	values := got.ints
	if values["bff_session_touched_total"] != 3 {
		t.Fatalf("expected bff_session_touched_total=3, got %v", values)
	}
	if values["bff_session_read_latency_seconds_bucket_le_inf"] != 8 {
		t.Fatalf("expected cumulative +Inf bucket of 8, got %v", values)
	}
	if values["bff_session_read_latency_seconds_count"] != 8 {
		t.Fatalf("expected latency count of 8, got %v", values)
	}
	if got.floats["bff_session_read_latency_seconds_sum"] != 2 {
		t.Fatalf("expected latency sum of 2s, got %v", got.floats)
	}
	if values["bff_audit_dropped_total"] != 1 || values["bff_audit_delivered_total"] != 6 {
		t.Fatalf("expected audit pipeline counters, got %v", values)
	}

	want := map[string]int64{
		"bff_store_up":                    1,
		"bff_store_reconnects_total":      2,
		"bff_store_pool_connections":      5,
		"bff_store_pool_idle_connections": 4,
		"bff_store_pool_timeouts_total":   1,
	}
	for name, v := range want {
		if values[name] != v {
			t.Fatalf("expected %s=%d, got %v", name, v, values)
		}
	}
}

func TestExporterSkipsDisabledCountersButReportsStore(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	meter := provider.Meter("bff-test")

	src := &fakeSource{store: goBFF.StoreStats{Reconnects: 3}}
	exp, err := NewOTelExporterFromSource(meter, src)
	if err != nil {
		t.Fatalf("NewOTelExporterFromSource failed: %v", err)
	}
	defer exp.Close()

	got := collect(t, reader)
	if _, ok := got.ints["bff_session_created_total"]; ok {
		t.Fatalf("expected no session counters while disabled, got %v", got.ints)
	}
	if _, ok := got.ints["bff_session_read_latency_seconds_count"]; ok {
		t.Fatalf("expected no latency while disabled, got %v", got.ints)
	}
	if got.ints["bff_store_reconnects_total"] != 3 {
		t.Fatalf("expected reconnects of 3, got %v", got.ints)
	}
	if v, ok := got.ints["bff_store_up"]; !ok || v != 0 {
		t.Fatalf("expected store reported down, got %v", got.ints)
	}
}

func TestExporterRejectsNilMeter(t *testing.T) {
	if _, err := NewOTelExporterFromSource(nil, &fakeSource{}); !errors.Is(err, ErrNilMeter) {
		t.Fatalf("expected ErrNilMeter, got %v", err)
	}
}

func TestExporterRejectsNilSource(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	meter := provider.Meter("bff-test")

	if _, err := NewOTelExporterFromSource(meter, nil); err == nil {
		t.Fatal("expected error for nil source")
	}
}

func TestExporterConcurrentCollectNoPanic(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	meter := provider.Meter("bff-test")

	src := &fakeSource{
		snapshot: goBFF.MetricsSnapshot{
			Counters: map[goBFF.MetricID]uint64{
				goBFF.MetricSessionTouched: 1,
			},
			Histograms: map[goBFF.MetricID][]uint64{
				goBFF.MetricSessionReadLatency: {1, 0, 0, 0, 0, 0, 0, 0},
			},
		},
	}

	exp, err := NewOTelExporterFromSource(meter, src)
	if err != nil {
		t.Fatalf("NewOTelExporterFromSource failed: %v", err)
	}
	defer func() {
		if err := exp.Close(); err != nil {
			t.Fatalf("Close failed: %v", err)
		}
	}()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(v uint64) {
			defer wg.Done()
			src.mu.Lock()
			src.snapshot.Counters[goBFF.MetricSessionTouched] = v
			src.mu.Unlock()

			var rm metricdata.ResourceMetrics
			_ = reader.Collect(context.Background(), &rm)
		}(uint64(i + 1))
	}
	wg.Wait()
}
