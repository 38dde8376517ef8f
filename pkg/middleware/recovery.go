package middleware

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"

	"github.com/Ahmadnoorkhan1/forgeerp/pkg/kernel"
)

// RecoveryMiddleware recovers from panics raised while dispatching a command.
func RecoveryMiddleware(logger *slog.Logger) func(kernel.Dispatch) kernel.Dispatch {
	if logger == nil {
		logger = slog.Default()
	}

	return func(next kernel.Dispatch) kernel.Dispatch {
		return func(ctx context.Context, cmd kernel.Command) (events []kernel.StoredEvent, err error) {
			defer func() {
				if r := recover(); r != nil {
					logger.ErrorContext(ctx, "dispatch panicked",
						slog.String("command_type", fmt.Sprintf("%T", cmd)),
						slog.String("tenant_id", cmd.TargetTenant().String()),
						slog.Any("panic", r),
						slog.String("stack_trace", string(debug.Stack())),
					)

					err = fmt.Errorf("dispatch panicked: %v", r)
					events = nil
				}
			}()

			return next(ctx, cmd)
		}
	}
}
