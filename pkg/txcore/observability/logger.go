// Package observability provides structured logging, metrics, and tracing
// for every txcore component: opt-in, with no-op implementations when
// disabled, exactly as the teacher repo structures its observability
// package — only the instrumented operations change, from graph/node runs
// to sagas, steps, breaker trips, and event-store appends.
package observability

import (
	"log/slog"
	"time"
)

// EnrichLogger returns a logger pre-populated with saga/step context.
func EnrichLogger(logger *slog.Logger, sagaID, step string, attempt int) *slog.Logger {
	if logger == nil {
		return nil
	}
	return logger.With(
		slog.String("saga_id", sagaID),
		slog.String("step", step),
		slog.Int("attempt", attempt),
	)
}

func LogSagaStart(logger *slog.Logger, sagaID, sagaType string) {
	if logger == nil {
		return
	}
	logger.Info("saga starting", slog.String("saga_id", sagaID), slog.String("saga_type", sagaType))
}

func LogSagaComplete(logger *slog.Logger, sagaID string, durationMs float64) {
	if logger == nil {
		return
	}
	logger.Info("saga completed", slog.String("saga_id", sagaID), slog.Float64("duration_ms", durationMs))
}

func LogSagaFailed(logger *slog.Logger, sagaID string, err error, state string) {
	if logger == nil {
		return
	}
	logger.Error("saga failed", slog.String("saga_id", sagaID), slog.String("state", state), slog.String("error", err.Error()))
}

func LogStepStart(logger *slog.Logger, sagaID, step string) {
	if logger == nil {
		return
	}
	logger.Debug("step starting", slog.String("saga_id", sagaID), slog.String("step", step))
}

func LogStepComplete(logger *slog.Logger, sagaID, step string, durationMs float64) {
	if logger == nil {
		return
	}
	logger.Debug("step completed", slog.String("saga_id", sagaID), slog.String("step", step), slog.Float64("duration_ms", durationMs))
}

func LogStepError(logger *slog.Logger, sagaID, step string, err error) {
	if logger == nil {
		return
	}
	logger.Warn("step failed", slog.String("saga_id", sagaID), slog.String("step", step), slog.String("error", err.Error()))
}

func LogCompensationStart(logger *slog.Logger, sagaID, step string) {
	if logger == nil {
		return
	}
	logger.Info("compensating step", slog.String("saga_id", sagaID), slog.String("step", step))
}

func LogCompensationFailed(logger *slog.Logger, sagaID, step string, err error) {
	if logger == nil {
		return
	}
	logger.Error("compensation failed, operator intervention required",
		slog.String("saga_id", sagaID), slog.String("step", step), slog.String("error", err.Error()))
}

func LogBreakerTrip(logger *slog.Logger, service string, from, to string) {
	if logger == nil {
		return
	}
	logger.Warn("circuit breaker state change", slog.String("service", service), slog.String("from", from), slog.String("to", to))
}

func LogAppendError(logger *slog.Logger, aggregateID string, err error) {
	if logger == nil {
		return
	}
	logger.Error("event append failed", slog.String("aggregate_id", aggregateID), slog.String("error", err.Error()))
}

func LogHandlerError(logger *slog.Logger, eventType string, err error) {
	if logger == nil {
		return
	}
	logger.Error("event handler failed", slog.String("event_type", eventType), slog.String("error", err.Error()))
}

// TimedOperation returns a function that, when called, yields elapsed
// milliseconds since TimedOperation was invoked.
func TimedOperation() func() float64 {
	start := time.Now()
	return func() float64 { return float64(time.Since(start).Milliseconds()) }
}
