// Package sqlite implements the embedded event store backend using
// modernc.org/sqlite, a pure-Go driver, for single-node deployments and
// tests that don't want an external Postgres dependency.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/Ahmadnoorkhan1/forgeerp/pkg/ids"
	"github.com/Ahmadnoorkhan1/forgeerp/pkg/kernel"
	"github.com/Ahmadnoorkhan1/forgeerp/pkg/observability"
)

// Store is a store.EventStore backed by SQLite. SQLite serializes writers
// at the database level, so Store additionally holds a mutex around
// Append to keep the read-current-version-then-insert sequence atomic
// without relying on SQLite's weaker isolation guarantees under
// concurrent writers from the same process.
type Store struct {
	db      *sql.DB
	mu      sync.Mutex
	metrics *observability.Metrics
	log     *slog.Logger
}

// New opens (and optionally migrates) a SQLite-backed Store.
func New(ctx context.Context, opts ...Option) (*Store, error) {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	db, err := sql.Open("sqlite", cfg.dsn)
	if err != nil {
		return nil, &kernel.BackendError{Op: "sqlite.New.Open", Err: err}
	}

	if cfg.dsn == ":memory:" {
		db.SetMaxOpenConns(1)
	} else {
		db.SetMaxOpenConns(cfg.maxOpenConns)
	}
	db.SetConnMaxLifetime(time.Hour)

	if cfg.walMode && cfg.dsn != ":memory:" {
		if _, err := db.ExecContext(ctx, `PRAGMA journal_mode = WAL; PRAGMA synchronous = NORMAL; PRAGMA foreign_keys = ON;`); err != nil {
			db.Close()
			return nil, &kernel.BackendError{Op: "sqlite.New.WAL", Err: err}
		}
	}

	if cfg.autoMigrate {
		if err := runMigrations(ctx, db); err != nil {
			db.Close()
			return nil, err
		}
	}

	return &Store{
		db:  db,
		log: slog.Default().With("component", "sqlite_event_store"),
	}, nil
}

// WithMetrics attaches a Metrics instance; optional.
func (s *Store) WithMetrics(m *observability.Metrics) *Store {
	s.metrics = m
	return s
}

// Append implements store.EventStore.
func (s *Store) Append(ctx context.Context, events []kernel.UncommittedEvent, expected kernel.ExpectedVersion) ([]kernel.StoredEvent, error) {
	start := time.Now()
	if err := kernel.ValidateBatch(events); err != nil {
		return nil, err
	}

	tenant := events[0].TenantID
	aggregate := events[0].AggregateID
	aggregateType := events[0].AggregateType

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, &kernel.BackendError{Op: "Append", Err: err}
	}
	defer tx.Rollback()

	var current int64
	var existingType string
	err = tx.QueryRowContext(ctx, `
		SELECT COALESCE(MAX(sequence_number), 0) FROM events WHERE tenant_id = ? AND aggregate_id = ?
	`, tenant.String(), aggregate.String()).Scan(&current)
	if err != nil {
		return nil, &kernel.BackendError{Op: "Append.readVersion", Err: err}
	}

	if current > 0 {
		if err := tx.QueryRowContext(ctx, `
			SELECT aggregate_type FROM events WHERE tenant_id = ? AND aggregate_id = ? ORDER BY sequence_number ASC LIMIT 1
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
	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO events (event_id, tenant_id, aggregate_id, aggregate_type, sequence_number, event_type, event_version, occurred_at, payload, metadata)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return nil, &kernel.BackendError{Op: "Append.prepare", Err: err}
	}
	defer stmt.Close()

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

		if _, err := stmt.ExecContext(ctx,
			eventID.String(), tenant.String(), aggregate.String(), aggregateType,
			stored[i].SequenceNumber, e.EventType, e.EventVersion, formatTime(e.OccurredAt), e.Payload, metadataJSON,
		); err != nil {
			if isUniqueViolation(err) {
				return nil, &kernel.ConflictError{Expected: current, Actual: current}
			}
			return nil, &kernel.BackendError{Op: "Append.insert", Err: err}
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, &kernel.BackendError{Op: "Append.commit", Err: err}
	}

	if s.metrics != nil {
		s.metrics.RecordAppend(ctx, time.Since(start), len(events))
	}
	s.log.DebugContext(ctx, "appended events", "tenant_id", tenant.String(), "aggregate_id", aggregate.String(), "count", len(events))

	return stored, nil
}

// LoadStream implements store.EventStore.
func (s *Store) LoadStream(ctx context.Context, tenant ids.TenantID, aggregate ids.AggregateID) ([]kernel.StoredEvent, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT event_id, tenant_id, aggregate_id, aggregate_type, sequence_number, event_type, event_version, occurred_at, payload, metadata
		FROM events WHERE tenant_id = ? AND aggregate_id = ? ORDER BY sequence_number ASC
	`, tenant.String(), aggregate.String())
	if err != nil {
		return nil, &kernel.BackendError{Op: "LoadStream", Err: err}
	}
	defer rows.Close()

	events, err := scanEvents(rows)
	if err != nil {
		return nil, &kernel.BackendError{Op: "LoadStream.scan", Err: err}
	}
	return events, nil
}

// LoadAllForTenant implements store.EventStore.
func (s *Store) LoadAllForTenant(ctx context.Context, tenant ids.TenantID, fn func(kernel.StoredEvent) error) error {
	rows, err := s.db.QueryContext(ctx, `
		SELECT event_id, tenant_id, aggregate_id, aggregate_type, sequence_number, event_type, event_version, occurred_at, payload, metadata
		FROM events WHERE tenant_id = ? ORDER BY aggregate_id ASC, sequence_number ASC
	`, tenant.String())
	if err != nil {
		return &kernel.BackendError{Op: "LoadAllForTenant", Err: err}
	}
	defer rows.Close()

	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return &kernel.BackendError{Op: "LoadAllForTenant.scan", Err: err}
		}
		if err := fn(e); err != nil {
			return err
		}
	}
	return rows.Err()
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

func isUniqueViolation(err error) bool {
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}
