package observability

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/metric"
)

// ActiveCounter counts jobs that are not yet terminal.
type ActiveCounter interface {
	CountActive(ctx context.Context) (int64, error)
}

// RegisterActiveGauge reports backjob.jobs.active from src on every collection.
// A failed count skips the observation.
func RegisterActiveGauge(meter metric.Meter, src ActiveCounter) (metric.Registration, error) {
	gauge, err := meter.Int64ObservableGauge("backjob.jobs.active",
		metric.WithDescription("Jobs in STARTED or INPROGRESS state"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create active gauge: %w", err)
	}

	return meter.RegisterCallback(func(ctx context.Context, o metric.Observer) error {
		n, err := src.CountActive(ctx)
		if err != nil {
			return nil
		}
		o.ObserveInt64(gauge, n)
		return nil
	}, gauge)
}
