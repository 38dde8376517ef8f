package kernel

import (
	"context"
	"fmt"

	"github.com/Ahmadnoorkhan1/forgeerp/pkg/ids"
)

// EventStore is the subset of store.EventStore the dispatcher depends on.
// Declared here, rather than imported from the store package, so kernel has
// no dependency on any concrete backend — store.EventStore satisfies this
// interface structurally.
type EventStore interface {
	Append(ctx context.Context, events []UncommittedEvent, expected ExpectedVersion) ([]StoredEvent, error)
	LoadStream(ctx context.Context, tenant ids.TenantID, aggregate ids.AggregateID) ([]StoredEvent, error)
}

// Publisher is the subset of bus.Bus the dispatcher depends on, for the
// same reason as EventStore above: no dependency on a concrete transport.
type Publisher interface {
	Publish(ctx context.Context, events []StoredEvent) error
}

// Factory creates a zero-valued aggregate instance of the type Dispatcher
// rehydrates before replaying its event stream.
type Factory func() Aggregate

// Dispatch matches Dispatcher.Dispatch's signature, letting middleware wrap
// a dispatcher (or another middleware) without depending on its concrete
// type.
type Dispatch func(ctx context.Context, cmd Command) ([]StoredEvent, error)

// Dispatcher loads an aggregate, asks it to decide on a command, appends
// the resulting events, and publishes them. It does not retry on an
// optimistic-concurrency conflict: Dispatch returns Conflict immediately
// and lets the caller decide, typically via RetryOnConflict.
type Dispatcher struct {
	store   EventStore
	bus     Publisher // nil is valid: publish is skipped
	factory Factory
}

// NewDispatcher builds a dispatcher for one aggregate type. bus may be nil
// if this aggregate type has no projections or subscribers.
func NewDispatcher(store EventStore, bus Publisher, factory Factory) *Dispatcher {
	return &Dispatcher{
		store:   store,
		bus:     bus,
		factory: factory,
	}
}

// Dispatch loads the aggregate targeted by cmd, replays its stream, asks it
// to Handle cmd, appends any resulting events with the version read at load
// time as the expected version, and publishes the stored events. On a
// conflict it returns Conflict without retrying; a caller that wants
// bounded retry under contention should wrap the call with RetryOnConflict.
func (d *Dispatcher) Dispatch(ctx context.Context, cmd Command) ([]StoredEvent, error) {
	tenant := cmd.TargetTenant()
	aggregate := cmd.TargetAggregate()

	agg := d.factory()
	history, err := d.store.LoadStream(ctx, tenant, aggregate)
	if err != nil {
		return nil, &BackendError{Op: "Dispatch.LoadStream", Err: err}
	}

	if err := validateStreamIntegrity(tenant, aggregate, history); err != nil {
		return nil, err
	}

	if tenantAware, ok := agg.(TenantOf); ok {
		if got := tenantAware.Tenant(); !got.IsZero() && got != tenant {
			return nil, &TenantIsolationError{
				Expected: tenant.String(),
				Actual:   got.String(),
				Detail:   fmt.Sprintf("aggregate %s belongs to a different tenant than the command targets", aggregate),
			}
		}
	}

	for _, e := range history {
		agg.Apply(e)
	}

	expected := ExactVersion(agg.Version())

	newEvents, err := agg.Handle(cmd)
	if err != nil {
		return nil, err
	}
	if len(newEvents) == 0 {
		return nil, nil
	}

	for i := range newEvents {
		if newEvents[i].TenantID.IsZero() {
			newEvents[i].TenantID = tenant
		}
		if newEvents[i].AggregateID.IsZero() {
			newEvents[i].AggregateID = aggregate
		}
		if newEvents[i].AggregateType == "" {
			newEvents[i].AggregateType = agg.AggregateType()
		}
		if newEvents[i].OccurredAt.IsZero() {
			newEvents[i].OccurredAt = ids.Now()
		}
	}

	stored, err := d.store.Append(ctx, newEvents, expected)
	if err != nil {
		return nil, err
	}

	for _, e := range stored {
		agg.Apply(e)
	}

	if d.bus != nil {
		if err := d.bus.Publish(ctx, stored); err != nil {
			return stored, &BackendError{Op: "Dispatch.Publish", Err: err}
		}
	}

	return stored, nil
}

// validateStreamIntegrity checks that a loaded stream is internally
// consistent before any event in it is folded into an aggregate: every
// event belongs to tenant and aggregate, sequence numbers run 1..k with no
// gap or repeat, and aggregate_type is constant across the stream. A
// violation here means a backend bug or data corruption, not a normal
// command-level failure, so it is reported as a tenant isolation violation
// per the same "never read past a violation" rule the isolation middleware
// enforces at the request boundary.
func validateStreamIntegrity(tenant ids.TenantID, aggregate ids.AggregateID, history []StoredEvent) error {
	var aggregateType string
	for i, e := range history {
		if e.TenantID != tenant {
			return &TenantIsolationError{
				Expected: tenant.String(),
				Actual:   e.TenantID.String(),
				Detail:   fmt.Sprintf("loaded stream for aggregate %s contains an event owned by a different tenant", aggregate),
			}
		}
		if e.AggregateID != aggregate {
			return &TenantIsolationError{
				Expected: aggregate.String(),
				Actual:   e.AggregateID.String(),
				Detail:   "loaded stream contains an event for a different aggregate",
			}
		}
		if e.SequenceNumber != int64(i+1) {
			return &TenantIsolationError{
				Expected: fmt.Sprintf("%d", i+1),
				Actual:   fmt.Sprintf("%d", e.SequenceNumber),
				Detail:   fmt.Sprintf("loaded stream for aggregate %s has a sequence-number gap or repeat", aggregate),
			}
		}
		if i == 0 {
			aggregateType = e.AggregateType
		} else if e.AggregateType != aggregateType {
			return &TenantIsolationError{
				Expected: aggregateType,
				Actual:   e.AggregateType,
				Detail:   fmt.Sprintf("loaded stream for aggregate %s changes aggregate_type mid-stream", aggregate),
			}
		}
	}
	return nil
}

// Rehydrate loads and replays an aggregate's full history without
// dispatching a command, for read-side code that needs current state
// (e.g. a query handler) rather than a decision.
func Rehydrate(ctx context.Context, store EventStore, tenant ids.TenantID, aggregateID ids.AggregateID, factory Factory) (Aggregate, error) {
	agg := factory()
	history, err := store.LoadStream(ctx, tenant, aggregateID)
	if err != nil {
		return nil, &BackendError{Op: "Rehydrate.LoadStream", Err: err}
	}
	for _, e := range history {
		agg.Apply(e)
	}
	return agg, nil
}
