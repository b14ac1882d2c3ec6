package command

import (
	"context"
	"log/slog"
	"time"

	"github.com/tracseq/txcore/pkg/txcore/observability"
)

// LoggingMiddleware logs command entry/exit at debug/warn level, following
// the EnrichLogger pattern used for sagas and steps.
func LoggingMiddleware(logger *slog.Logger) Middleware {
	return func(next Handler) Handler {
		return HandlerFunc(func(ctx context.Context, cmd Command) (Result, error) {
			if logger != nil {
				logger.Debug("command starting",
					slog.String("command_type", cmd.CommandType),
					slog.String("aggregate_id", cmd.AggregateID))
			}
			result, err := next.Handle(ctx, cmd)
			if err != nil && logger != nil {
				logger.Warn("command failed",
					slog.String("command_type", cmd.CommandType),
					slog.String("aggregate_id", cmd.AggregateID),
					slog.String("error", err.Error()))
			}
			return result, err
		})
	}
}

// MetricsMiddleware records command latency and outcome via a
// MetricsRecorder, reusing the saga step counters since a command is the
// unit of work a saga step ultimately drives.
func MetricsMiddleware(metrics observability.MetricsRecorder) Middleware {
	return func(next Handler) Handler {
		return HandlerFunc(func(ctx context.Context, cmd Command) (Result, error) {
			start := time.Now()
			result, err := next.Handle(ctx, cmd)
			metrics.RecordStepExecution(ctx, cmd.CommandType, cmd.AggregateID, time.Since(start), err)
			return result, err
		})
	}
}
