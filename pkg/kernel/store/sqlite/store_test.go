package sqlite_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/Ahmadnoorkhan1/forgeerp/pkg/ids"
	"github.com/Ahmadnoorkhan1/forgeerp/pkg/kernel"
	kernelsqlite "github.com/Ahmadnoorkhan1/forgeerp/pkg/kernel/store/sqlite"
)

func newTestStore(t *testing.T) *kernelsqlite.Store {
	t.Helper()
	ctx := context.Background()
	s, err := kernelsqlite.New(ctx, kernelsqlite.WithDSN(":memory:"))
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

	var seen int
	var order []string
	err = s.LoadAllForTenant(ctx, tenant, func(e kernel.StoredEvent) error {
		seen++
		order = append(order, e.AggregateID.String())
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, 2, seen)
	require.LessOrEqual(t, order[0], order[1])
}
