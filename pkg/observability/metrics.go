package observability

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/Ahmadnoorkhan1/forgeerp/pkg/kernel"
)

// Metrics holds the instruments shared by the store and bus packages under
// one meter, so every subsystem reports under a single "forgeerp.kernel.*"
// namespace.
type Metrics struct {
	DispatchDuration  metric.Float64Histogram
	DispatchTotal     metric.Int64Counter
	DispatchConflicts metric.Int64Counter

	EventsAppended    metric.Int64Counter
	EventStoreLatency metric.Float64Histogram

	SnapshotHits   metric.Int64Counter
	SnapshotMisses metric.Int64Counter

	BusPublished      metric.Int64Counter
	BusDelivered      metric.Int64Counter
	BusDeadLettered   metric.Int64Counter
	BusPublishLatency metric.Float64Histogram

	ProjectionLag    metric.Float64Gauge
	ProjectionErrors metric.Int64Counter
}

// NewMetrics creates all kernel metric instruments against meter.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	m := &Metrics{}
	var err error

	if m.DispatchDuration, err = meter.Float64Histogram(
		"forgeerp.kernel.dispatch.duration",
		metric.WithDescription("Command dispatch duration in seconds"),
		metric.WithUnit("s"),
	); err != nil {
		return nil, fmt.Errorf("creating dispatch.duration: %w", err)
	}

	if m.DispatchTotal, err = meter.Int64Counter(
		"forgeerp.kernel.dispatch.total",
		metric.WithDescription("Total commands dispatched"),
	); err != nil {
		return nil, fmt.Errorf("creating dispatch.total: %w", err)
	}

	if m.DispatchConflicts, err = meter.Int64Counter(
		"forgeerp.kernel.dispatch.conflicts",
		metric.WithDescription("Total optimistic-concurrency conflicts encountered while dispatching"),
	); err != nil {
		return nil, fmt.Errorf("creating dispatch.conflicts: %w", err)
	}

	if m.EventsAppended, err = meter.Int64Counter(
		"forgeerp.kernel.events.appended",
		metric.WithDescription("Total events appended to the event store"),
	); err != nil {
		return nil, fmt.Errorf("creating events.appended: %w", err)
	}

	if m.EventStoreLatency, err = meter.Float64Histogram(
		"forgeerp.kernel.eventstore.latency",
		metric.WithDescription("Event store operation latency in seconds"),
		metric.WithUnit("s"),
	); err != nil {
		return nil, fmt.Errorf("creating eventstore.latency: %w", err)
	}

	if m.SnapshotHits, err = meter.Int64Counter(
		"forgeerp.kernel.snapshot.hits",
		metric.WithDescription("Rehydrations that started from a snapshot"),
	); err != nil {
		return nil, fmt.Errorf("creating snapshot.hits: %w", err)
	}

	if m.SnapshotMisses, err = meter.Int64Counter(
		"forgeerp.kernel.snapshot.misses",
		metric.WithDescription("Rehydrations that replayed from sequence 1"),
	); err != nil {
		return nil, fmt.Errorf("creating snapshot.misses: %w", err)
	}

	if m.BusPublished, err = meter.Int64Counter(
		"forgeerp.kernel.bus.published",
		metric.WithDescription("Total envelopes published to the event bus"),
	); err != nil {
		return nil, fmt.Errorf("creating bus.published: %w", err)
	}

	if m.BusDelivered, err = meter.Int64Counter(
		"forgeerp.kernel.bus.delivered",
		metric.WithDescription("Total envelopes acknowledged by a subscriber"),
	); err != nil {
		return nil, fmt.Errorf("creating bus.delivered: %w", err)
	}

	if m.BusDeadLettered, err = meter.Int64Counter(
		"forgeerp.kernel.bus.dead_lettered",
		metric.WithDescription("Total envelopes routed to a dead-letter subject after exhausting retries"),
	); err != nil {
		return nil, fmt.Errorf("creating bus.dead_lettered: %w", err)
	}

	if m.BusPublishLatency, err = meter.Float64Histogram(
		"forgeerp.kernel.bus.publish.latency",
		metric.WithDescription("Bus publish latency in seconds"),
		metric.WithUnit("s"),
	); err != nil {
		return nil, fmt.Errorf("creating bus.publish.latency: %w", err)
	}

	if m.ProjectionLag, err = meter.Float64Gauge(
		"forgeerp.kernel.projection.lag",
		metric.WithDescription("Projection lag in seconds behind the event stream"),
		metric.WithUnit("s"),
	); err != nil {
		return nil, fmt.Errorf("creating projection.lag: %w", err)
	}

	if m.ProjectionErrors, err = meter.Int64Counter(
		"forgeerp.kernel.projection.errors",
		metric.WithDescription("Projection apply errors, including dead-letters"),
	); err != nil {
		return nil, fmt.Errorf("creating projection.errors: %w", err)
	}

	return m, nil
}

// RecordDispatch records one Dispatch call's outcome.
func (m *Metrics) RecordDispatch(ctx context.Context, aggregateType string, duration time.Duration, err error) {
	attrs := metric.WithAttributes(attribute.String("aggregate_type", aggregateType))
	m.DispatchDuration.Record(ctx, duration.Seconds(), attrs)
	m.DispatchTotal.Add(ctx, 1, attrs)
	if kernel.IsConflict(err) {
		m.DispatchConflicts.Add(ctx, 1, attrs)
	}
}

// RecordAppend records one successful Append call.
func (m *Metrics) RecordAppend(ctx context.Context, duration time.Duration, eventCount int) {
	m.EventStoreLatency.Record(ctx, duration.Seconds())
	m.EventsAppended.Add(ctx, int64(eventCount))
}

// RecordSnapshotLookup records whether rehydration found a usable snapshot.
func (m *Metrics) RecordSnapshotLookup(ctx context.Context, aggregateType string, hit bool) {
	attrs := metric.WithAttributes(attribute.String("aggregate_type", aggregateType))
	if hit {
		m.SnapshotHits.Add(ctx, 1, attrs)
	} else {
		m.SnapshotMisses.Add(ctx, 1, attrs)
	}
}

// RecordBusPublish records a bus Publish call.
func (m *Metrics) RecordBusPublish(ctx context.Context, subject string, duration time.Duration, count int) {
	attrs := metric.WithAttributes(attribute.String("subject", subject))
	m.BusPublishLatency.Record(ctx, duration.Seconds(), attrs)
	m.BusPublished.Add(ctx, int64(count), attrs)
}

// RecordBusDelivery records a successfully acked delivery.
func (m *Metrics) RecordBusDelivery(ctx context.Context, subject, group string) {
	m.BusDelivered.Add(ctx, 1, metric.WithAttributes(
		attribute.String("subject", subject),
		attribute.String("group", group),
	))
}

// RecordBusDeadLetter records an envelope that exhausted its retry budget.
func (m *Metrics) RecordBusDeadLetter(ctx context.Context, subject, group string) {
	m.BusDeadLettered.Add(ctx, 1, metric.WithAttributes(
		attribute.String("subject", subject),
		attribute.String("group", group),
	))
}

// RecordProjectionLag records how many seconds behind the stream tail a
// projection currently is.
func (m *Metrics) RecordProjectionLag(ctx context.Context, projectionName string, lagSeconds float64) {
	m.ProjectionLag.Record(ctx, lagSeconds, metric.WithAttributes(attribute.String("projection", projectionName)))
}

// RecordProjectionError records a projection apply failure.
func (m *Metrics) RecordProjectionError(ctx context.Context, projectionName, errorType string) {
	m.ProjectionErrors.Add(ctx, 1, metric.WithAttributes(
		attribute.String("projection", projectionName),
		attribute.String("error_type", errorType),
	))
}
