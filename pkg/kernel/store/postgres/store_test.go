package postgres_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/Ahmadnoorkhan1/forgeerp/pkg/ids"
	"github.com/Ahmadnoorkhan1/forgeerp/pkg/kernel"
	kernelpg "github.com/Ahmadnoorkhan1/forgeerp/pkg/kernel/store/postgres"
)

// newTestStore spins up a disposable Postgres container, applies the
// package's embedded migrations against it, and returns a ready Store. Each
// test gets its own container so tests can run in parallel without sharing
// state.
func newTestStore(t *testing.T) *kernelpg.Store {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping container-backed test in -short mode")
	}

	ctx := context.Background()
	container, err := postgres.Run(ctx, "postgres:16-alpine",
		postgres.WithDatabase("forgeerp"),
		postgres.WithUsername("forgeerp"),
		postgres.WithPassword("forgeerp"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").WithOccurrence(2).WithStartupTimeout(30*time.Second),
		),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Terminate(context.Background()) })

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	s, err := kernelpg.New(ctx, kernelpg.WithDSN(dsn))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	return s
}

func newEvent(tenant ids.TenantID, aggregate ids.AggregateID, eventType string) kernel.UncommittedEvent {
	return kernel.UncommittedEvent{
		TenantID:      tenant,
		AggregateID:   aggregate,
		AggregateType: "Item",
		EventType:     eventType,
		EventVersion:  1,
		OccurredAt:    ids.Now(),
		Payload:       []byte(`{"name":"Widget"}`),
	}
}

func TestAppendAndLoadStreamRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	tenant, err := ids.NewTenantID()
	require.NoError(t, err)
	aggregate, err := ids.NewAggregateID()
	require.NoError(t, err)

	stored, err := s.Append(ctx, []kernel.UncommittedEvent{
		newEvent(tenant, aggregate, "ItemCreated"),
		newEvent(tenant, aggregate, "ItemAdjusted"),
	}, kernel.ExactVersion(0))
	require.NoError(t, err)
	require.Len(t, stored, 2)
	require.EqualValues(t, 1, stored[0].SequenceNumber)
	require.EqualValues(t, 2, stored[1].SequenceNumber)

	loaded, err := s.LoadStream(ctx, tenant, aggregate)
	require.NoError(t, err)
	require.Len(t, loaded, 2)
	require.Equal(t, "ItemCreated", loaded[0].EventType)
	require.Equal(t, "ItemAdjusted", loaded[1].EventType)
}

func TestAppendRejectsStaleExpectedVersion(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	tenant, err := ids.NewTenantID()
	require.NoError(t, err)
	aggregate, err := ids.NewAggregateID()
	require.NoError(t, err)

	_, err = s.Append(ctx, []kernel.UncommittedEvent{newEvent(tenant, aggregate, "ItemCreated")}, kernel.ExactVersion(0))
	require.NoError(t, err)

	_, err = s.Append(ctx, []kernel.UncommittedEvent{newEvent(tenant, aggregate, "ItemAdjusted")}, kernel.ExactVersion(0))
	require.Error(t, err)
	require.True(t, kernel.IsConflict(err))
}

func TestLoadAllForTenantOrdersByAggregateThenSequence(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	tenant, err := ids.NewTenantID()
	require.NoError(t, err)
	a1, err := ids.NewAggregateID()
	require.NoError(t, err)
	a2, err := ids.NewAggregateID()
	require.NoError(t, err)

	_, err = s.Append(ctx, []kernel.UncommittedEvent{newEvent(tenant, a1, "ItemCreated")}, kernel.ExactVersion(0))
	require.NoError(t, err)
	_, err = s.Append(ctx, []kernel.UncommittedEvent{newEvent(tenant, a2, "ItemCreated")}, kernel.ExactVersion(0))
	require.NoError(t, err)
	_, err = s.Append(ctx, []kernel.UncommittedEvent{newEvent(tenant, a1, "ItemAdjusted")}, kernel.ExactVersion(1))
	require.NoError(t, err)

	var seen []string
	err = s.LoadAllForTenant(ctx, tenant, func(e kernel.StoredEvent) error {
		seen = append(seen, e.AggregateID.String()+"/"+e.EventType)
		return nil
	})
	require.NoError(t, err)
	require.Len(t, seen, 3)

	want := []string{a1.String() + "/ItemCreated", a1.String() + "/ItemAdjusted", a2.String() + "/ItemCreated"}
	if a2.String() < a1.String() {
		want = []string{a2.String() + "/ItemCreated", a1.String() + "/ItemCreated", a1.String() + "/ItemAdjusted"}
	}
	require.Equal(t, want, seen)
}

func TestAppendRejectsAggregateTypeMismatch(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	tenant, err := ids.NewTenantID()
	require.NoError(t, err)
	aggregate, err := ids.NewAggregateID()
	require.NoError(t, err)

	_, err = s.Append(ctx, []kernel.UncommittedEvent{newEvent(tenant, aggregate, "ItemCreated")}, kernel.ExactVersion(0))
	require.NoError(t, err)

	mismatched := newEvent(tenant, aggregate, "ItemAdjusted")
	mismatched.AggregateType = "Order"
	_, err = s.Append(ctx, []kernel.UncommittedEvent{mismatched}, kernel.ExactVersion(1))
	require.Error(t, err)
	require.True(t, kernel.IsValidation(err))
}
