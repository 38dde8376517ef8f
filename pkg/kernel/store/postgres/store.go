// Package postgres implements the authoritative event store backend using
// github.com/jackc/pgx/v5, following the schema and batch-insert mechanics
// of a DCB-style append-only event table adapted to per-aggregate streams.
package postgres

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/Ahmadnoorkhan1/forgeerp/pkg/ids"
	"github.com/Ahmadnoorkhan1/forgeerp/pkg/kernel"
	"github.com/Ahmadnoorkhan1/forgeerp/pkg/observability"
)

const uniqueViolation = "23505"

// Store is a store.EventStore backed by Postgres.
type Store struct {
	pool    *pgxpool.Pool
	tracer  trace.Tracer
	metrics *observability.Metrics
	log     *slog.Logger
}

// New opens a pgxpool against cfg.dsn, optionally runs embedded migrations,
// and returns a ready Store.
func New(ctx context.Context, opts ...Option) (*Store, error) {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	poolCfg, err := pgxpool.ParseConfig(cfg.dsn)
	if err != nil {
		return nil, &kernel.BackendError{Op: "postgres.New", Err: err}
	}
	poolCfg.MaxConns = cfg.maxConns
	poolCfg.ConnConfig.RuntimeParams["application_name"] = cfg.applicationName

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, &kernel.BackendError{Op: "postgres.New", Err: err}
	}

	if cfg.autoMigrate {
		if err := runMigrations(ctx, pool); err != nil {
			pool.Close()
			return nil, err
		}
	}

	return &Store{
		pool:   pool,
		tracer: otel.Tracer("forgeerp.kernel.store.postgres"),
		log:    slog.Default().With("component", "postgres_event_store"),
	}, nil
}

// WithMetrics attaches a Metrics instance; optional, a Store works
// correctly with no metrics attached.
func (s *Store) WithMetrics(m *observability.Metrics) *Store {
	s.metrics = m
	return s
}

// Append implements store.EventStore.
func (s *Store) Append(ctx context.Context, events []kernel.UncommittedEvent, expected kernel.ExpectedVersion) (result []kernel.StoredEvent, err error) {
	start := time.Now()
	if err := kernel.ValidateBatch(events); err != nil {
		return nil, err
	}

	tenant := events[0].TenantID
	aggregate := events[0].AggregateID
	aggregateType := events[0].AggregateType

	ctx, span := observability.StartSpan(ctx, s.tracer, "postgres.Append", observability.WithAttributes(
		append(observability.StreamAttrs(tenant.String(), aggregate.String(), aggregateType), observability.AttrEventCount.Int(len(events)))...,
	))
	defer func() { observability.EndSpan(span, err) }()

	tx, txErr := s.pool.Begin(ctx)
	err = txErr
	if err != nil {
		return nil, &kernel.BackendError{Op: "Append", Err: err}
	}
	defer tx.Rollback(ctx)

	var current int64
	var existingType string
	err = tx.QueryRow(ctx, `
		SELECT sequence_number
		FROM events
		WHERE tenant_id = $1::uuid AND aggregate_id = $2::uuid
		ORDER BY sequence_number DESC
		LIMIT 1
		FOR UPDATE
	`, tenant.String(), aggregate.String()).Scan(&current)
	if errors.Is(err, pgx.ErrNoRows) {
		current, err = 0, nil
	}
	if err != nil {
		return nil, &kernel.BackendError{Op: "Append.readVersion", Err: err}
	}

	if current > 0 {
		if err := tx.QueryRow(ctx, `
			SELECT aggregate_type FROM events
			WHERE tenant_id = $1::uuid AND aggregate_id = $2::uuid
			ORDER BY sequence_number ASC LIMIT 1
		`, tenant.String(), aggregate.String()).Scan(&existingType); err != nil {
			return nil, &kernel.BackendError{Op: "Append.readType", Err: err}
		}
		if existingType != aggregateType {
			return nil, &kernel.ValidationError{Op: "Append", Field: "aggregate_type", Value: aggregateType, Err: errors.New("does not match the stream's existing type")}
		}
	}

	if n, exact := expected.Exact(); exact && n != current {
		return nil, &kernel.ConflictError{Expected: n, Actual: current}
	}

	stored := make([]kernel.StoredEvent, len(events))
	batch := &pgx.Batch{}
	for i, e := range events {
		eventID, err := ids.NewEventID()
		if err != nil {
			return nil, &kernel.BackendError{Op: "Append.generateEventID", Err: err}
		}
		stored[i] = kernel.StoredEvent{UncommittedEvent: e, EventID: eventID, SequenceNumber: current + 1 + int64(i)}

		metadataJSON, err := marshalMetadata(e.Metadata)
		if err != nil {
			return nil, &kernel.BackendError{Op: "Append.marshalMetadata", Err: err}
		}

		batch.Queue(`
			INSERT INTO events (event_id, tenant_id, aggregate_id, aggregate_type, sequence_number, event_type, event_version, occurred_at, payload, metadata)
			VALUES ($1::uuid, $2::uuid, $3::uuid, $4, $5, $6, $7, $8, $9::jsonb, $10::jsonb)
		`, eventID.String(), tenant.String(), aggregate.String(), aggregateType, stored[i].SequenceNumber, e.EventType, e.EventVersion, e.OccurredAt, e.Payload, metadataJSON)
	}

	br := tx.SendBatch(ctx, batch)
	for range events {
		if _, err := br.Exec(); err != nil {
			br.Close()
			var pgErr *pgconn.PgError
			if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
				return nil, &kernel.ConflictError{Expected: current, Actual: current}
			}
			return nil, &kernel.BackendError{Op: "Append.insert", Err: err}
		}
	}
	if err := br.Close(); err != nil {
		return nil, &kernel.BackendError{Op: "Append.insert", Err: err}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, &kernel.BackendError{Op: "Append.commit", Err: err}
	}

	if s.metrics != nil {
		s.metrics.RecordAppend(ctx, time.Since(start), len(events))
	}
	s.log.DebugContext(ctx, "appended events", "tenant_id", tenant.String(), "aggregate_id", aggregate.String(), "count", len(events))

	return stored, nil
}

// LoadStream implements store.EventStore.
func (s *Store) LoadStream(ctx context.Context, tenant ids.TenantID, aggregate ids.AggregateID) (events []kernel.StoredEvent, err error) {
	ctx, span := observability.StartSpan(ctx, s.tracer, "postgres.LoadStream", observability.WithAttributes(
		observability.StreamAttrs(tenant.String(), aggregate.String(), "")...,
	))
	defer func() { observability.EndSpan(span, err) }()

	rows, err := s.pool.Query(ctx, `
		SELECT event_id::text, tenant_id::text, aggregate_id::text, aggregate_type, sequence_number, event_type, event_version, occurred_at, payload, metadata
		FROM events
		WHERE tenant_id = $1::uuid AND aggregate_id = $2::uuid
		ORDER BY sequence_number ASC
	`, tenant.String(), aggregate.String())
	if err != nil {
		err = &kernel.BackendError{Op: "LoadStream", Err: err}
		return nil, err
	}
	defer rows.Close()

	events, err = scanEvents(rows)
	if err != nil {
		err = &kernel.BackendError{Op: "LoadStream.scan", Err: err}
		return nil, err
	}
	return events, nil
}

// LoadAllForTenant implements store.EventStore.
func (s *Store) LoadAllForTenant(ctx context.Context, tenant ids.TenantID, fn func(kernel.StoredEvent) error) (err error) {
	ctx, span := observability.StartSpan(ctx, s.tracer, "postgres.LoadAllForTenant", observability.WithAttributes(
		observability.AttrTenantID.String(tenant.String()),
	))
	defer func() { observability.EndSpan(span, err) }()

	rows, err := s.pool.Query(ctx, `
		SELECT event_id::text, tenant_id::text, aggregate_id::text, aggregate_type, sequence_number, event_type, event_version, occurred_at, payload, metadata
		FROM events
		WHERE tenant_id = $1::uuid
		ORDER BY aggregate_id ASC, sequence_number ASC
	`, tenant.String())
	if err != nil {
		err = &kernel.BackendError{Op: "LoadAllForTenant", Err: err}
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var e kernel.StoredEvent
		e, err = scanEvent(rows)
		if err != nil {
			err = &kernel.BackendError{Op: "LoadAllForTenant.scan", Err: err}
			return err
		}
		if err = fn(e); err != nil {
			return err
		}
	}
	err = rows.Err()
	return err
}

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}
