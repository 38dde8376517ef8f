package projection

import (
	"context"
	"sync"

	"github.com/Ahmadnoorkhan1/forgeerp/pkg/ids"
)

type cursorKey struct {
	tenant    ids.TenantID
	aggregate ids.AggregateID
	name      string
}

// InMemoryCursorStore is a CursorStore for tests and single-process
// deployments that don't need cursors to survive a restart.
type InMemoryCursorStore struct {
	mu      sync.Mutex
	cursors map[cursorKey]int64
}

// NewInMemoryCursorStore creates an empty InMemoryCursorStore.
func NewInMemoryCursorStore() *InMemoryCursorStore {
	return &InMemoryCursorStore{cursors: make(map[cursorKey]int64)}
}

func (s *InMemoryCursorStore) Get(ctx context.Context, tenant ids.TenantID, aggregate ids.AggregateID, projectionName string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cursors[cursorKey{tenant, aggregate, projectionName}], nil
}

func (s *InMemoryCursorStore) Set(ctx context.Context, tenant ids.TenantID, aggregate ids.AggregateID, projectionName string, sequence int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cursors[cursorKey{tenant, aggregate, projectionName}] = sequence
	return nil
}

func (s *InMemoryCursorStore) DeleteForTenant(ctx context.Context, tenant ids.TenantID, projectionName string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for k := range s.cursors {
		if k.tenant == tenant && k.name == projectionName {
			delete(s.cursors, k)
		}
	}
	return nil
}

func (s *InMemoryCursorStore) Close() error { return nil }

// InMemoryDeadLetterStore is a DeadLetterStore for tests.
type InMemoryDeadLetterStore struct {
	mu      sync.Mutex
	Entries []DeadLetter
}

// NewInMemoryDeadLetterStore creates an empty InMemoryDeadLetterStore.
func NewInMemoryDeadLetterStore() *InMemoryDeadLetterStore {
	return &InMemoryDeadLetterStore{}
}

func (s *InMemoryDeadLetterStore) Put(ctx context.Context, dl DeadLetter) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Entries = append(s.Entries, dl)
	return nil
}

// List returns dead letters for (tenant, projectionName), newest first.
func (s *InMemoryDeadLetterStore) List(ctx context.Context, tenant ids.TenantID, projectionName string) ([]DeadLetter, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []DeadLetter
	for i := len(s.Entries) - 1; i >= 0; i-- {
		dl := s.Entries[i]
		if dl.TenantID == tenant && dl.ProjectionName == projectionName {
			out = append(out, dl)
		}
	}
	return out, nil
}

func (s *InMemoryDeadLetterStore) Close() error { return nil }
