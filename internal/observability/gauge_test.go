package observability

import (
	"context"
	"errors"
	"testing"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

type fakeCounter struct {
	n   int64
	err error
}

func (f *fakeCounter) CountActive(context.Context) (int64, error) { return f.n, f.err }

func collectGauge(t *testing.T, reader *sdkmetric.ManualReader) (int64, bool) {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("collect: %v", err)
	}
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != "backjob.jobs.active" {
				continue
			}
			g, ok := m.Data.(metricdata.Gauge[int64])
			if !ok || len(g.DataPoints) == 0 {
				return 0, false
			}
			return g.DataPoints[0].Value, true
		}
	}
	return 0, false
}

func TestRegisterActiveGauge(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	defer provider.Shutdown(context.Background())

	src := &fakeCounter{n: 3}
	reg, err := RegisterActiveGauge(provider.Meter("test"), src)
	if err != nil {
		t.Fatalf("RegisterActiveGauge: %v", err)
	}
	defer reg.Unregister()

	got, ok := collectGauge(t, reader)
	if !ok || got != 3 {
		t.Errorf("gauge = %d (found %v), want 3", got, ok)
	}

	src.n = 5
	if got, _ := collectGauge(t, reader); got != 5 {
		t.Errorf("gauge = %d, want 5", got)
	}
}

func TestRegisterActiveGauge_CountError(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	defer provider.Shutdown(context.Background())

	reg, err := RegisterActiveGauge(provider.Meter("test"), &fakeCounter{err: errors.New("db down")})
	if err != nil {
		t.Fatalf("RegisterActiveGauge: %v", err)
	}
	defer reg.Unregister()

	if _, ok := collectGauge(t, reader); ok {
		t.Error("expected no observation when the count fails")
	}
}
