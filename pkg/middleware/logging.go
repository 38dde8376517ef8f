package middleware

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/Ahmadnoorkhan1/forgeerp/pkg/kernel"
)

// LoggingMiddleware logs dispatch execution with timing information using slog.
func LoggingMiddleware(logger *slog.Logger) func(kernel.Dispatch) kernel.Dispatch {
	if logger == nil {
		logger = slog.Default()
	}

	return func(next kernel.Dispatch) kernel.Dispatch {
		return func(ctx context.Context, cmd kernel.Command) ([]kernel.StoredEvent, error) {
			start := time.Now()

			commandType := fmt.Sprintf("%T", cmd)
			tenant := cmd.TargetTenant()
			aggregate := cmd.TargetAggregate()

			logger.InfoContext(ctx, "dispatching command",
				slog.String("command_type", commandType),
				slog.String("tenant_id", tenant.String()),
				slog.String("aggregate_id", aggregate.String()),
			)

			events, err := next(ctx, cmd)

			duration := time.Since(start)

			if err != nil {
				logger.ErrorContext(ctx, "command dispatch failed",
					slog.String("command_type", commandType),
					slog.String("tenant_id", tenant.String()),
					slog.Int64("duration_ms", duration.Milliseconds()),
					slog.String("error", err.Error()),
				)
				return nil, err
			}

			logger.InfoContext(ctx, "command dispatched",
				slog.String("command_type", commandType),
				slog.String("tenant_id", tenant.String()),
				slog.Int("events_count", len(events)),
				slog.Int64("duration_ms", duration.Milliseconds()),
			)

			return events, nil
		}
	}
}
