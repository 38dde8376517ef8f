// Package projection implements the read-model runner: cursor-gated,
// idempotent application of stored events to projection-owned read
// models, with gap backfill and deterministic full rebuilds. Grounded on
// the kernel dispatcher's retry-on-conflict shape and, for dead-lettering,
// on the durable bus's dead-letter routing — the same "deterministic
// failure gets parked, transient failure gets retried" split applied to
// the read side of the pipeline.
package projection

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/Ahmadnoorkhan1/forgeerp/pkg/ids"
	"github.com/Ahmadnoorkhan1/forgeerp/pkg/kernel"
)

// Cursor records the last sequence number a named projection has
// successfully applied for one stream.
type Cursor struct {
	TenantID       ids.TenantID
	AggregateID    ids.AggregateID
	ProjectionName string
	LastSequence   int64
}

// CursorStore persists projection cursors, primary-keyed by
// (tenant_id, aggregate_id, projection_name).
type CursorStore interface {
	// Get returns the cursor for the given key, or (0, nil) if none
	// exists yet (an unstarted stream).
	Get(ctx context.Context, tenant ids.TenantID, aggregate ids.AggregateID, projectionName string) (int64, error)

	// Set persists the cursor's new position. Runner.ApplyEnvelope calls it
	// after Projection.Apply has returned; the read-model writes and the
	// cursor write are not made atomic with each other.
	Set(ctx context.Context, tenant ids.TenantID, aggregate ids.AggregateID, projectionName string, sequence int64) error

	// DeleteForTenant removes every cursor for (tenant_id, projection_name),
	// used by Rebuild before replaying from scratch.
	DeleteForTenant(ctx context.Context, tenant ids.TenantID, projectionName string) error

	Close() error
}

// DeadLetter records an envelope a projection's current code could not
// apply deterministically (typically a payload deserialization failure
// under the projection's current schema).
type DeadLetter struct {
	TenantID       ids.TenantID
	AggregateID    ids.AggregateID
	ProjectionName string
	SequenceNumber int64
	EventType      string
	Payload        []byte
	Reason         string
}

// DeadLetterStore persists dead-lettered envelopes for operator inspection
// and manual replay.
type DeadLetterStore interface {
	Put(ctx context.Context, dl DeadLetter) error

	// List returns every dead-lettered envelope recorded for
	// (tenant, projectionName), newest first, for operator inspection.
	List(ctx context.Context, tenant ids.TenantID, projectionName string) ([]DeadLetter, error)

	Close() error
}

// Projection applies domain events to a read model. Apply must be
// idempotent when called twice with the same envelope (the runner
// guarantees at-least-once delivery, never exactly-once).
type Projection interface {
	// Name identifies this projection for cursor and dead-letter keys.
	// Stable across deploys; changing it starts the projection over.
	Name() string

	// Apply upserts read-model rows for one envelope. The runner opens no
	// transaction around Apply and the cursor update that follows it: if
	// the cursor update fails, the envelope is applied again on its next
	// delivery. Returning kernel.ErrProjectionDeserialize
	// (or a value wrapping it) routes the envelope to the dead-letter
	// store instead of failing the runner.
	Apply(ctx context.Context, envelope kernel.StoredEvent) error

	// Reset clears every read-model row owned by this projection for
	// tenant, used by Rebuild before replay.
	Reset(ctx context.Context, tenant ids.TenantID) error
}

// EventStore is the subset of store.EventStore the runner depends on.
type EventStore interface {
	LoadStream(ctx context.Context, tenant ids.TenantID, aggregate ids.AggregateID) ([]kernel.StoredEvent, error)
	LoadAllForTenant(ctx context.Context, tenant ids.TenantID, fn func(kernel.StoredEvent) error) error
}

// Runner drives one Projection: gating application through a cursor,
// backfilling gaps, and dead-lettering deserialization failures.
type Runner struct {
	store      EventStore
	cursors    CursorStore
	deadLetter DeadLetterStore
	projection Projection
}

// NewRunner builds a Runner for one projection instance. deadLetter may be
// nil, in which case deserialization failures are returned as errors
// instead of parked.
func NewRunner(store EventStore, cursors CursorStore, deadLetter DeadLetterStore, p Projection) *Runner {
	return &Runner{store: store, cursors: cursors, deadLetter: deadLetter, projection: p}
}

// ApplyEnvelope applies one envelope, gating on the projection's cursor
// for this stream. Already-applied envelopes (sequence <= cursor) are a
// no-op success. A gap (sequence > cursor+1) triggers a backfill: the
// runner loads and applies every missing envelope from LoadStream, in
// sequence order, before applying this one, so a single ApplyEnvelope call
// can advance the cursor by more than one sequence number.
func (r *Runner) ApplyEnvelope(ctx context.Context, envelope kernel.StoredEvent) error {
	cursor, err := r.cursors.Get(ctx, envelope.TenantID, envelope.AggregateID, r.projection.Name())
	if err != nil {
		return &kernel.BackendError{Op: "ApplyEnvelope.cursorGet", Err: err}
	}

	if envelope.SequenceNumber <= cursor {
		return nil
	}

	if envelope.SequenceNumber > cursor+1 {
		if err := r.backfill(ctx, envelope, cursor); err != nil {
			return err
		}
		cursor = envelope.SequenceNumber - 1
	}

	if err := r.applyOne(ctx, envelope); err != nil {
		return err
	}
	return nil
}

// backfill loads the full stream and replays every envelope strictly
// between cursor and the target envelope's sequence number.
func (r *Runner) backfill(ctx context.Context, target kernel.StoredEvent, cursor int64) error {
	history, err := r.store.LoadStream(ctx, target.TenantID, target.AggregateID)
	if err != nil {
		return &kernel.BackendError{Op: "ApplyEnvelope.backfill.LoadStream", Err: err}
	}

	for _, e := range history {
		if e.SequenceNumber <= cursor || e.SequenceNumber >= target.SequenceNumber {
			continue
		}
		if err := r.applyOne(ctx, e); err != nil {
			return err
		}
	}
	return nil
}

// applyOne invokes the projection's Apply and advances the cursor,
// dead-lettering a deserialization failure instead of propagating it.
func (r *Runner) applyOne(ctx context.Context, envelope kernel.StoredEvent) error {
	err := r.projection.Apply(ctx, envelope)
	if err != nil {
		if errors.Is(err, kernel.ErrProjectionDeserialize) {
			return r.routeToDeadLetter(ctx, envelope, err)
		}
		return err
	}

	if err := r.cursors.Set(ctx, envelope.TenantID, envelope.AggregateID, r.projection.Name(), envelope.SequenceNumber); err != nil {
		return &kernel.BackendError{Op: "ApplyEnvelope.cursorSet", Err: err}
	}
	return nil
}

func (r *Runner) routeToDeadLetter(ctx context.Context, envelope kernel.StoredEvent, cause error) error {
	if r.deadLetter == nil {
		return cause
	}
	payload, _ := json.Marshal(envelope.Payload)
	return r.deadLetter.Put(ctx, DeadLetter{
		TenantID:       envelope.TenantID,
		AggregateID:    envelope.AggregateID,
		ProjectionName: r.projection.Name(),
		SequenceNumber: envelope.SequenceNumber,
		EventType:      envelope.EventType,
		Payload:        payload,
		Reason:         fmt.Sprintf("%v", cause),
	})
}

// Rebuild clears every read-model row and cursor this projection owns for
// tenant, then replays the tenant's full event log in
// (aggregate_id, sequence_number) order so the rebuilt state is
// deterministic regardless of the store's physical row order.
func (r *Runner) Rebuild(ctx context.Context, tenant ids.TenantID) error {
	if err := r.projection.Reset(ctx, tenant); err != nil {
		return &kernel.BackendError{Op: "Rebuild.Reset", Err: err}
	}
	if err := r.cursors.DeleteForTenant(ctx, tenant, r.projection.Name()); err != nil {
		return &kernel.BackendError{Op: "Rebuild.DeleteForTenant", Err: err}
	}

	return r.store.LoadAllForTenant(ctx, tenant, func(e kernel.StoredEvent) error {
		return r.ApplyEnvelope(ctx, e)
	})
}
