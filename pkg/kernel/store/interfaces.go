// Package store defines the append-only event store contract the kernel
// dispatcher consumes, plus a reference in-memory implementation used by
// unit tests. The postgres and sqlite subpackages provide the two
// concrete backends, Postgres authoritative and SQLite for embedded or
// single-node deployments.
package store

import (
	"context"

	"github.com/Ahmadnoorkhan1/forgeerp/pkg/ids"
	"github.com/Ahmadnoorkhan1/forgeerp/pkg/kernel"
)

// EventStore persists append-only streams with tenant isolation and
// optimistic concurrency control.
type EventStore interface {
	// Append persists events atomically, assigning each a contiguous
	// sequence number starting after the stream's current tail. All
	// events must share (tenant_id, aggregate_id, aggregate_type); that
	// triple must match the stream's existing aggregate_type, if any.
	// Returns kernel.ErrConflict if expected does not match the stream's
	// current version at transaction start.
	Append(ctx context.Context, events []kernel.UncommittedEvent, expected kernel.ExpectedVersion) ([]kernel.StoredEvent, error)

	// LoadStream returns all events for one stream in ascending sequence
	// order. An empty stream returns an empty, non-nil slice.
	LoadStream(ctx context.Context, tenant ids.TenantID, aggregate ids.AggregateID) ([]kernel.StoredEvent, error)

	// LoadAllForTenant streams every event for a tenant ordered by
	// (aggregate_id, sequence_number), calling fn once per event. Used by
	// projection rebuilds. Iteration stops and returns fn's error as soon
	// as fn returns a non-nil error.
	LoadAllForTenant(ctx context.Context, tenant ids.TenantID, fn func(kernel.StoredEvent) error) error

	// Close releases any held resources (connection pools, file handles).
	Close() error
}

// Snapshot is a disposable optimization: rehydration may start from the
// latest snapshot with version <= target and replay only events with
// sequence_number > version. Correctness never depends on a snapshot
// being present.
type Snapshot struct {
	TenantID      ids.TenantID
	AggregateID   ids.AggregateID
	AggregateType string
	Version       int64
	StateBlob     []byte
	CreatedAt     int64 // unix seconds, avoids a time.Time import for a disposable cache row
}

// SnapshotStore persists and retrieves aggregate snapshots. Optional:
// kernel.Dispatcher takes no SnapshotStore and always replays the full
// stream.
type SnapshotStore interface {
	// Latest returns the most recent snapshot with version <= maxVersion,
	// or (nil, nil) if none exists.
	Latest(ctx context.Context, tenant ids.TenantID, aggregate ids.AggregateID, maxVersion int64) (*Snapshot, error)

	// Save persists a new snapshot, primary-keyed by
	// (tenant_id, aggregate_id, version).
	Save(ctx context.Context, snap Snapshot) error

	Close() error
}
