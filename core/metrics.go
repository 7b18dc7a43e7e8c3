package core

import "context"

// Counter names emitted by the pipeline. Tags carry config/tenant context.
const (
	MetricEventsReceived     = "pipeline.events.received"
	MetricEventsSucceeded    = "pipeline.events.succeeded"
	MetricEventsRetried      = "pipeline.events.retried"
	MetricEventsDeadLettered = "pipeline.events.dead_lettered"
	MetricEventsSkipped      = "pipeline.events.skipped"
	MetricBatchDuration      = "pipeline.batch.duration_ms"
)

type NopMetricsRecorder struct{}

func (NopMetricsRecorder) IncCounter(context.Context, string, int64, map[string]string) {}

func (NopMetricsRecorder) ObserveHistogram(context.Context, string, float64, map[string]string) {}

var _ MetricsRecorder = NopMetricsRecorder{}
