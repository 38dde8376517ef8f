package store

import (
	"context"
	"sort"
	"sync"

	"github.com/Ahmadnoorkhan1/forgeerp/pkg/ids"
	"github.com/Ahmadnoorkhan1/forgeerp/pkg/kernel"
)

type streamKey struct {
	tenant    string
	aggregate string
}

// InMemoryEventStore is a reference EventStore implementation backed by a
// map of slices, guarded by a single RWMutex. It implements exactly the
// same append/concurrency semantics as the Postgres and SQLite backends
// and is used by dispatcher/projection unit tests and the rapid property
// tests, where spinning up a real database per test is unnecessary.
type InMemoryEventStore struct {
	mu      sync.RWMutex
	streams map[streamKey][]kernel.StoredEvent
}

// NewInMemoryEventStore creates an empty in-memory event store.
func NewInMemoryEventStore() *InMemoryEventStore {
	return &InMemoryEventStore{streams: make(map[streamKey][]kernel.StoredEvent)}
}

func key(tenant ids.TenantID, aggregate ids.AggregateID) streamKey {
	return streamKey{tenant: tenant.String(), aggregate: aggregate.String()}
}

// Append implements EventStore.
func (s *InMemoryEventStore) Append(_ context.Context, events []kernel.UncommittedEvent, expected kernel.ExpectedVersion) ([]kernel.StoredEvent, error) {
	if err := kernel.ValidateBatch(events); err != nil {
		return nil, err
	}

	tenant := events[0].TenantID
	aggregate := events[0].AggregateID
	aggregateType := events[0].AggregateType

	s.mu.Lock()
	defer s.mu.Unlock()

	k := key(tenant, aggregate)
	existing := s.streams[k]

	var current int64
	if len(existing) > 0 {
		current = existing[len(existing)-1].SequenceNumber
		if existing[0].AggregateType != aggregateType {
			return nil, &kernel.ValidationError{Op: "Append", Field: "aggregate_type", Value: aggregateType, Err: errTypeMismatch}
		}
	}

	if n, exact := expected.Exact(); exact && n != current {
		return nil, &kernel.ConflictError{Expected: n, Actual: current}
	}

	stored := make([]kernel.StoredEvent, len(events))
	for i, e := range events {
		eventID, err := ids.NewEventID()
		if err != nil {
			return nil, &kernel.BackendError{Op: "Append", Err: err}
		}
		stored[i] = kernel.StoredEvent{
			UncommittedEvent: e,
			EventID:          eventID,
			SequenceNumber:   current + 1 + int64(i),
		}
	}

	s.streams[k] = append(existing, stored...)
	return stored, nil
}

// LoadStream implements EventStore.
func (s *InMemoryEventStore) LoadStream(_ context.Context, tenant ids.TenantID, aggregate ids.AggregateID) ([]kernel.StoredEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	existing := s.streams[key(tenant, aggregate)]
	out := make([]kernel.StoredEvent, len(existing))
	copy(out, existing)
	return out, nil
}

// LoadAllForTenant implements EventStore, ordering by (aggregate_id,
// sequence_number) so replay is deterministic across runs.
func (s *InMemoryEventStore) LoadAllForTenant(_ context.Context, tenant ids.TenantID, fn func(kernel.StoredEvent) error) error {
	s.mu.RLock()
	var all []kernel.StoredEvent
	tenantStr := tenant.String()
	for k, events := range s.streams {
		if k.tenant != tenantStr {
			continue
		}
		all = append(all, events...)
	}
	s.mu.RUnlock()

	sort.Slice(all, func(i, j int) bool {
		if all[i].AggregateID != all[j].AggregateID {
			return all[i].AggregateID.String() < all[j].AggregateID.String()
		}
		return all[i].SequenceNumber < all[j].SequenceNumber
	})

	for _, e := range all {
		if err := fn(e); err != nil {
			return err
		}
	}
	return nil
}

// Close implements EventStore; a no-op for the in-memory backend.
func (s *InMemoryEventStore) Close() error { return nil }
