package otel

import (
	"context"
	"sync"
	"testing"

	goVerify "github.com/MrEthical07/goVerify"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

type fakeSource struct {
	mu       sync.RWMutex
	snapshot goVerify.MetricsSnapshot
	dropped  uint64
}

func (f *fakeSource) MetricsSnapshot() goVerify.MetricsSnapshot {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := goVerify.MetricsSnapshot{
		Counters:   make(map[goVerify.MetricID]uint64, len(f.snapshot.Counters)),
		Histograms: make(map[goVerify.MetricID][]uint64, len(f.snapshot.Histograms)),
	}
	for k, v := range f.snapshot.Counters {
		out.Counters[k] = v
	}
	for k, buckets := range f.snapshot.Histograms {
		out.Histograms[k] = append([]uint64(nil), buckets...)
	}
	return out
}

func (f *fakeSource) AuditDropped() uint64 {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.dropped
}

func newReader() (*sdkmetric.ManualReader, *sdkmetric.MeterProvider) {
	reader := sdkmetric.NewManualReader()
	return reader, sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
}

// sumValue returns the single data point of an unlabelled counter or gauge.
func sumValue(t *testing.T, rm metricdata.ResourceMetrics, name string) int64 {
	t.Helper()
	points := dataPoints(t, rm, name)
	require.Len(t, points, 1)
	return points[0].Value
}

// seriesValue returns the data point of name whose attribute key equals value.
func seriesValue(t *testing.T, rm metricdata.ResourceMetrics, name, key, value string) int64 {
	t.Helper()
	for _, dp := range dataPoints(t, rm, name) {
		if v, ok := dp.Attributes.Value(attribute.Key(key)); ok && v.AsString() == value {
			return dp.Value
		}
	}
	t.Fatalf("series %s{%s=%q} not collected", name, key, value)
	return 0
}

func dataPoints(t *testing.T, rm metricdata.ResourceMetrics, name string) []metricdata.DataPoint[int64] {
	t.Helper()
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != name {
				continue
			}
			switch data := m.Data.(type) {
			case metricdata.Sum[int64]:
				return data.DataPoints
			case metricdata.Gauge[int64]:
				return data.DataPoints
			}
		}
	}
	t.Fatalf("metric %s not collected", name)
	return nil
}

func TestExporterRegistersAndCollects(t *testing.T) {
	reader, provider := newReader()
	meter := provider.Meter("goverify-test")

	src := &fakeSource{
		snapshot: goVerify.MetricsSnapshot{
			Counters: map[goVerify.MetricID]uint64{
				goVerify.MetricChallengeIssued: 3,
			},
			Histograms: map[goVerify.MetricID][]uint64{
				goVerify.MetricDeliveryLatency: {1, 1, 1, 1, 1, 1, 1, 1},
			},
		},
		dropped: 1,
	}

	exp, err := NewOTelExporterFromSource(meter, src)
	require.NoError(t, err)
	defer func() { require.NoError(t, exp.Close()) }()

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))

	assert.Equal(t, int64(3), seriesValue(t, rm, "goverify_challenge_events_total", "event", "issued"))
	assert.Equal(t, int64(0), seriesValue(t, rm, "goverify_challenge_events_total", "event", "resent"))
	assert.Equal(t, int64(0), seriesValue(t, rm, "goverify_redeem_total", "outcome", "success"))
	assert.Len(t, dataPoints(t, rm, "goverify_verify_total"), 7)
	assert.Equal(t, int64(0), sumValue(t, rm, "goverify_action_tokens_issued_total"))
	assert.Equal(t, int64(1), sumValue(t, rm, "goverify_delivery_latency_seconds_bucket_le_0_05"))
	assert.Equal(t, int64(6), sumValue(t, rm, "goverify_delivery_latency_seconds_bucket_le_2_5"))
	assert.Equal(t, int64(8), sumValue(t, rm, "goverify_delivery_latency_seconds_bucket_le_inf"))
	assert.Equal(t, int64(8), sumValue(t, rm, "goverify_delivery_latency_seconds_count"))
	assert.Equal(t, int64(1), sumValue(t, rm, "goverify_audit_dropped_total"))
}

func TestExporterRejectsNilArguments(t *testing.T) {
	_, provider := newReader()
	meter := provider.Meter("goverify-test")

	_, err := NewOTelExporterFromSource(meter, nil)
	assert.ErrorIs(t, err, ErrNilSource)

	_, err = NewOTelExporterFromSource(nil, &fakeSource{})
	assert.ErrorIs(t, err, ErrNilMeter)

	_, err = NewOTelExporter(meter, nil)
	assert.ErrorIs(t, err, ErrNilSource)
}

func TestExporterConcurrentCollectNoPanic(t *testing.T) {
	reader, provider := newReader()
	meter := provider.Meter("goverify-test")

	src := &fakeSource{
		snapshot: goVerify.MetricsSnapshot{
			Counters: map[goVerify.MetricID]uint64{
				goVerify.MetricVerifySuccess: 1,
			},
			Histograms: map[goVerify.MetricID][]uint64{
				goVerify.MetricDeliveryLatency: {1, 0, 0, 0, 0, 0, 0, 0},
			},
		},
	}

	exp, err := NewOTelExporterFromSource(meter, src)
	require.NoError(t, err)
	defer func() { require.NoError(t, exp.Close()) }()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(v uint64) {
			defer wg.Done()
			src.mu.Lock()
			src.snapshot.Counters[goVerify.MetricVerifySuccess] = v
			src.mu.Unlock()

			var rm metricdata.ResourceMetrics
			_ = reader.Collect(context.Background(), &rm)
		}(uint64(i + 1))
	}
	wg.Wait()
}
