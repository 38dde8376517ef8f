package postgres

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/jackc/pgx/v5"

	"github.com/Ahmadnoorkhan1/forgeerp/pkg/ids"
	"github.com/Ahmadnoorkhan1/forgeerp/pkg/kernel"
	"github.com/Ahmadnoorkhan1/forgeerp/pkg/kernel/projection"
)

// CursorStore is a projection.CursorStore backed by the projection_offsets
// table, sharing this package's pgxpool so cursor writes and event reads
// can share a connection pool without a second DSN.
type CursorStore struct {
	pool *Store
}

// NewCursorStore wraps an already-open Store's pool for cursor storage.
func NewCursorStore(s *Store) *CursorStore {
	return &CursorStore{pool: s}
}

func (c *CursorStore) Get(ctx context.Context, tenant ids.TenantID, aggregate ids.AggregateID, projectionName string) (int64, error) {
	var seq int64
	err := c.pool.pool.QueryRow(ctx, `
		SELECT last_sequence_number FROM projection_offsets
		WHERE tenant_id = $1::uuid AND aggregate_id = $2::uuid AND projection_name = $3
	`, tenant.String(), aggregate.String(), projectionName).Scan(&seq)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, nil
		}
		return 0, &kernel.BackendError{Op: "CursorStore.Get", Err: err}
	}
	return seq, nil
}

func (c *CursorStore) Set(ctx context.Context, tenant ids.TenantID, aggregate ids.AggregateID, projectionName string, sequence int64) error {
	_, err := c.pool.pool.Exec(ctx, `
		INSERT INTO projection_offsets (tenant_id, aggregate_id, projection_name, last_sequence_number, updated_at)
		VALUES ($1::uuid, $2::uuid, $3, $4, now())
		ON CONFLICT (tenant_id, aggregate_id, projection_name)
		DO UPDATE SET last_sequence_number = EXCLUDED.last_sequence_number, updated_at = now()
	`, tenant.String(), aggregate.String(), projectionName, sequence)
	if err != nil {
		return &kernel.BackendError{Op: "CursorStore.Set", Err: err}
	}
	return nil
}

func (c *CursorStore) DeleteForTenant(ctx context.Context, tenant ids.TenantID, projectionName string) error {
	_, err := c.pool.pool.Exec(ctx, `
		DELETE FROM projection_offsets WHERE tenant_id = $1::uuid AND projection_name = $2
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
	pool *Store
}

// NewDeadLetterStore wraps an already-open Store's pool for dead-letter storage.
func NewDeadLetterStore(s *Store) *DeadLetterStore {
	return &DeadLetterStore{pool: s}
}

func (d *DeadLetterStore) Put(ctx context.Context, dl projection.DeadLetter) error {
	envelope, err := json.Marshal(dl)
	if err != nil {
		return &kernel.BackendError{Op: "DeadLetterStore.Put.marshal", Err: err}
	}
	_, err = d.pool.pool.Exec(ctx, `
		INSERT INTO projection_dead_letters (tenant_id, aggregate_id, projection_name, sequence_number, reason, envelope)
		VALUES ($1::uuid, $2::uuid, $3, $4, $5, $6::jsonb)
	`, dl.TenantID.String(), dl.AggregateID.String(), dl.ProjectionName, dl.SequenceNumber, dl.Reason, envelope)
	if err != nil {
		return &kernel.BackendError{Op: "DeadLetterStore.Put", Err: err}
	}
	return nil
}

// List returns dead letters for (tenant, projectionName), newest first.
func (d *DeadLetterStore) List(ctx context.Context, tenant ids.TenantID, projectionName string) ([]projection.DeadLetter, error) {
	rows, err := d.pool.pool.Query(ctx, `
		SELECT aggregate_id::text, sequence_number, reason, envelope
		FROM projection_dead_letters
		WHERE tenant_id = $1::uuid AND projection_name = $2
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
