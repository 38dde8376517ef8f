package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"

	"github.com/Ahmadnoorkhan1/forgeerp/pkg/ids"
	"github.com/Ahmadnoorkhan1/forgeerp/pkg/kernel"
	"github.com/Ahmadnoorkhan1/forgeerp/pkg/kernel/projection"
)

// CursorStore is a projection.CursorStore backed by the projection_offsets
// table, sharing this package's *sql.DB with the event store so a single
// SQLite file serves both reads and writes.
type CursorStore struct {
	db *sql.DB
}

// NewCursorStore wraps an already-open Store's database handle.
func NewCursorStore(s *Store) *CursorStore {
	return &CursorStore{db: s.db}
}

func (c *CursorStore) Get(ctx context.Context, tenant ids.TenantID, aggregate ids.AggregateID, projectionName string) (int64, error) {
	var seq int64
	err := c.db.QueryRowContext(ctx, `
		SELECT last_sequence_number FROM projection_offsets
		WHERE tenant_id = ? AND aggregate_id = ? AND projection_name = ?
	`, tenant.String(), aggregate.String(), projectionName).Scan(&seq)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, nil
		}
		return 0, &kernel.BackendError{Op: "CursorStore.Get", Err: err}
	}
	return seq, nil
}

func (c *CursorStore) Set(ctx context.Context, tenant ids.TenantID, aggregate ids.AggregateID, projectionName string, sequence int64) error {
	_, err := c.db.ExecContext(ctx, `
		INSERT INTO projection_offsets (tenant_id, aggregate_id, projection_name, last_sequence_number, updated_at)
		VALUES (?, ?, ?, ?, strftime('%Y-%m-%dT%H:%M:%fZ', 'now'))
		ON CONFLICT (tenant_id, aggregate_id, projection_name)
		DO UPDATE SET last_sequence_number = excluded.last_sequence_number, updated_at = excluded.updated_at
	`, tenant.String(), aggregate.String(), projectionName, sequence)
	if err != nil {
		return &kernel.BackendError{Op: "CursorStore.Set", Err: err}
	}
	return nil
}

func (c *CursorStore) DeleteForTenant(ctx context.Context, tenant ids.TenantID, projectionName string) error {
	_, err := c.db.ExecContext(ctx, `
		DELETE FROM projection_offsets WHERE tenant_id = ? AND projection_name = ?
	`, tenant.String(), projectionName)
	if err != nil {
		return &kernel.BackendError{Op: "CursorStore.DeleteForTenant", Err: err}
	}
	return nil
}

func (c *CursorStore) Close() error { return nil }

// DeadLetterStore is a projection.DeadLetterStore backed by the
// projection_dead_letters table.
type DeadLetterStore struct {
	db *sql.DB
}

// NewDeadLetterStore wraps an already-open Store's database handle.
func NewDeadLetterStore(s *Store) *DeadLetterStore {
	return &DeadLetterStore{db: s.db}
}

func (d *DeadLetterStore) Put(ctx context.Context, dl projection.DeadLetter) error {
	envelope, err := json.Marshal(dl)
	if err != nil {
		return &kernel.BackendError{Op: "DeadLetterStore.Put.marshal", Err: err}
	}
	_, err = d.db.ExecContext(ctx, `
		INSERT INTO projection_dead_letters (tenant_id, aggregate_id, projection_name, sequence_number, reason, envelope)
		VALUES (?, ?, ?, ?, ?, ?)
	`, dl.TenantID.String(), dl.AggregateID.String(), dl.ProjectionName, dl.SequenceNumber, dl.Reason, envelope)
	if err != nil {
		return &kernel.BackendError{Op: "DeadLetterStore.Put", Err: err}
	}
	return nil
}

// List returns dead letters for (tenant, projectionName), newest first.
func (d *DeadLetterStore) List(ctx context.Context, tenant ids.TenantID, projectionName string) ([]projection.DeadLetter, error) {
	rows, err := d.db.QueryContext(ctx, `
		SELECT aggregate_id, sequence_number, reason, envelope
		FROM projection_dead_letters
		WHERE tenant_id = ? AND projection_name = ?
		ORDER BY created_at DESC
	`, tenant.String(), projectionName)
	if err != nil {
		return nil, &kernel.BackendError{Op: "DeadLetterStore.List", Err: err}
	}
	defer rows.Close()

	var out []projection.DeadLetter
	for rows.Next() {
		var aggregateID string
		var sequence int64
		var reason string
		var envelope []byte
		if err := rows.Scan(&aggregateID, &sequence, &reason, &envelope); err != nil {
			return nil, &kernel.BackendError{Op: "DeadLetterStore.List.scan", Err: err}
		}
		aggregate, err := ids.ParseAggregateID(aggregateID)
		if err != nil {
			return nil, &kernel.BackendError{Op: "DeadLetterStore.List.parseAggregateID", Err: err}
		}
		var dl projection.DeadLetter
		if err := json.Unmarshal(envelope, &dl); err != nil {
			dl = projection.DeadLetter{}
		}
		dl.TenantID = tenant
		dl.AggregateID = aggregate
		dl.ProjectionName = projectionName
		dl.SequenceNumber = sequence
		dl.Reason = reason
		out = append(out, dl)
	}
	return out, rows.Err()
}

func (d *DeadLetterStore) Close() error { return nil }
