package sqlite

import (
	"context"
	"database/sql"
	"errors"

	"github.com/Ahmadnoorkhan1/forgeerp/pkg/ids"
	"github.com/Ahmadnoorkhan1/forgeerp/pkg/kernel"
	"github.com/Ahmadnoorkhan1/forgeerp/pkg/kernel/store"
)

// SnapshotStore is a store.SnapshotStore backed by the snapshots table.
type SnapshotStore struct {
	db *sql.DB
}

// NewSnapshotStore wraps an already-open Store's database handle.
func NewSnapshotStore(s *Store) *SnapshotStore {
	return &SnapshotStore{db: s.db}
}

func (s *SnapshotStore) Latest(ctx context.Context, tenant ids.TenantID, aggregate ids.AggregateID, maxVersion int64) (*store.Snapshot, error) {
	var snap store.Snapshot
	var tenantID, aggregateID, createdAt string
	err := s.db.QueryRowContext(ctx, `
		SELECT tenant_id, aggregate_id, aggregate_type, version, state, created_at
		FROM snapshots
		WHERE tenant_id = ? AND aggregate_id = ? AND version <= ?
		ORDER BY version DESC LIMIT 1
	`, tenant.String(), aggregate.String(), maxVersion).Scan(&tenantID, &aggregateID, &snap.AggregateType, &snap.Version, &snap.StateBlob, &createdAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
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

	createdTime, err := parseTime(createdAt)
	if err != nil {
		return nil, &kernel.BackendError{Op: "SnapshotStore.Latest.parseCreatedAt", Err: err}
	}
	snap.CreatedAt = createdTime.Unix()
	return &snap, nil
}

func (s *SnapshotStore) Save(ctx context.Context, snap store.Snapshot) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO snapshots (tenant_id, aggregate_id, version, aggregate_type, state)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (tenant_id, aggregate_id, version) DO NOTHING
	`, snap.TenantID.String(), snap.AggregateID.String(), snap.Version, snap.AggregateType, snap.StateBlob)
	if err != nil {
		return &kernel.BackendError{Op: "SnapshotStore.Save", Err: err}
	}
	return nil
}

func (s *SnapshotStore) Close() error { return nil }
