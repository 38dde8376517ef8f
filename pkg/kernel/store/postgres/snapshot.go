package postgres

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"github.com/Ahmadnoorkhan1/forgeerp/pkg/ids"
	"github.com/Ahmadnoorkhan1/forgeerp/pkg/kernel"
	"github.com/Ahmadnoorkhan1/forgeerp/pkg/kernel/store"
)

// SnapshotStore is a store.SnapshotStore backed by the snapshots table.
type SnapshotStore struct {
	pool *Store
}

// NewSnapshotStore wraps an already-open Store's pool for snapshot storage.
func NewSnapshotStore(s *Store) *SnapshotStore {
	return &SnapshotStore{pool: s}
}

func (s *SnapshotStore) Latest(ctx context.Context, tenant ids.TenantID, aggregate ids.AggregateID, maxVersion int64) (*store.Snapshot, error) {
	var snap store.Snapshot
	var tenantID, aggregateID string
	var createdAt int64
	err := s.pool.pool.QueryRow(ctx, `
		SELECT tenant_id::text, aggregate_id::text, aggregate_type, version, state, EXTRACT(EPOCH FROM created_at)::bigint
		FROM snapshots
		WHERE tenant_id = $1::uuid AND aggregate_id = $2::uuid AND version <= $3
		ORDER BY version DESC LIMIT 1
	`, tenant.String(), aggregate.String(), maxVersion).Scan(&tenantID, &aggregateID, &snap.AggregateType, &snap.Version, &snap.StateBlob, &createdAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, &kernel.BackendError{Op: "SnapshotStore.Latest", Err: err}
	}

	tid, err := ids.ParseTenantID(tenantID)
	if err != nil {
		return nil, &kernel.BackendError{Op: "SnapshotStore.Latest.parseTenant", Err: err}
	}
	aid, err := ids.ParseAggregateID(aggregateID)
	if err != nil {
		return nil, &kernel.BackendError{Op: "SnapshotStore.Latest.parseAggregate", Err: err}
	}
	snap.TenantID = tid
	snap.AggregateID = aid
	snap.CreatedAt = createdAt
	return &snap, nil
}

func (s *SnapshotStore) Save(ctx context.Context, snap store.Snapshot) error {
	_, err := s.pool.pool.Exec(ctx, `
		INSERT INTO snapshots (tenant_id, aggregate_id, version, aggregate_type, state)
		VALUES ($1::uuid, $2::uuid, $3, $4, $5::jsonb)
		ON CONFLICT (tenant_id, aggregate_id, version) DO NOTHING
	`, snap.TenantID.String(), snap.AggregateID.String(), snap.Version, snap.AggregateType, snap.StateBlob)
	if err != nil {
		return &kernel.BackendError{Op: "SnapshotStore.Save", Err: err}
	}
	return nil
}

func (s *SnapshotStore) Close() error { return nil }
