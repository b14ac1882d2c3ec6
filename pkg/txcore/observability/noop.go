package observability

import (
	"context"
	"time"
)

// NoopMetrics is a MetricsRecorder that does nothing. Use it when metrics
// are disabled to avoid OTel overhead.
type NoopMetrics struct{}

var _ MetricsRecorder = NoopMetrics{}

func (NoopMetrics) RecordStepExecution(context.Context, string, string, time.Duration, error) {}
func (NoopMetrics) RecordSagaRun(context.Context, string, bool, time.Duration)                {}
func (NoopMetrics) RecordAppend(context.Context, string, int, time.Duration)                  {}
func (NoopMetrics) RecordBreakerTrip(context.Context, string, string)                         {}
func (NoopMetrics) RecordBusPublish(context.Context, string, error)                            {}
