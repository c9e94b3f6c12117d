package lifecycle

import (
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name for lifecycle metrics.
const meterName = "backjob/lifecycle"

type engineMetrics struct {
	created   metric.Int64Counter
	completed metric.Int64Counter
	failed    metric.Int64Counter
	timeouts  metric.Int64Counter
	swept     metric.Int64Counter
}

// newEngineMetrics creates the lifecycle counters. On error the OTel API
// returns noop instruments, so failures are ignored.
func newEngineMetrics(meter metric.Meter) *engineMetrics {
	if meter == nil {
		meter = otel.Meter(meterName)
	}
	counter := func(name, desc string) metric.Int64Counter {
		c, _ := meter.Int64Counter(name, metric.WithDescription(desc), metric.WithUnit("{job}"))
		return c
	}
	return &engineMetrics{
		created:   counter("backjob.jobs.created", "Jobs enqueued"),
		completed: counter("backjob.jobs.completed", "Jobs finished successfully"),
		failed:    counter("backjob.jobs.failed", "Jobs marked FAILED, including timeouts"),
		timeouts:  counter("backjob.jobs.timeouts", "Jobs failed by read-side timeout detection"),
		swept:     counter("backjob.jobs.swept", "Terminal rows deleted by the retention sweeper"),
	}
}
