package middleware

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/Ahmadnoorkhan1/forgeerp/pkg/kernel"
)

// OpenTelemetryMiddleware adds distributed tracing to command dispatch.
// Uses the global tracer provider unless a different tracer is supplied via
// OpenTelemetryMiddlewareWithTracer.
func OpenTelemetryMiddleware(tracerName string) func(kernel.Dispatch) kernel.Dispatch {
	if tracerName == "" {
		tracerName = "github.com/Ahmadnoorkhan1/forgeerp"
	}
	return OpenTelemetryMiddlewareWithTracer(otel.Tracer(tracerName))
}

// OpenTelemetryMiddlewareWithTracer creates middleware with a specific tracer.
func OpenTelemetryMiddlewareWithTracer(tracer trace.Tracer) func(kernel.Dispatch) kernel.Dispatch {
	return func(next kernel.Dispatch) kernel.Dispatch {
		return func(ctx context.Context, cmd kernel.Command) ([]kernel.StoredEvent, error) {
			commandType := fmt.Sprintf("%T", cmd)

			spanCtx, span := tracer.Start(ctx, fmt.Sprintf("command.%s", commandType),
				trace.WithSpanKind(trace.SpanKindInternal),
				trace.WithAttributes(
					attribute.String("command.type", commandType),
					attribute.String("command.tenant_id", cmd.TargetTenant().String()),
					attribute.String("command.aggregate_id", cmd.TargetAggregate().String()),
				),
			)
			defer span.End()

			events, err := next(spanCtx, cmd)

			if err != nil {
				span.RecordError(err)
				span.SetStatus(codes.Error, err.Error())
				return nil, err
			}

			span.SetAttributes(attribute.Int("events.count", len(events)))
			if len(events) > 0 {
				eventTypes := make([]string, len(events))
				for i, evt := range events {
					eventTypes[i] = evt.EventType
				}
				span.SetAttributes(attribute.StringSlice("events.types", eventTypes))
			}

			span.SetStatus(codes.Ok, "command dispatched")
			return events, nil
		}
	}
}
