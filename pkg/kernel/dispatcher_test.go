package kernel_test

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ahmadnoorkhan1/forgeerp/pkg/ids"
	"github.com/Ahmadnoorkhan1/forgeerp/pkg/kernel"
	"github.com/Ahmadnoorkhan1/forgeerp/pkg/kernel/store"
)

// counter is a minimal test aggregate: it holds a non-negative quantity and
// rejects any command that would push it below zero.

type adjustQty struct {
	tenant    ids.TenantID
	aggregate ids.AggregateID
	delta     int
}

func (c adjustQty) TargetTenant() ids.TenantID       { return c.tenant }
func (c adjustQty) TargetAggregate() ids.AggregateID { return c.aggregate }

type qtyPayload struct {
	Delta int `json:"delta"`
}

type counter struct {
	tenant  ids.TenantID
	id      ids.AggregateID
	qty     int
	version int64
}

func newCounter() kernel.Aggregate { return &counter{} }

func (c *counter) AggregateType() string { return "Counter" }
func (c *counter) Version() int64        { return c.version }

func (c *counter) Apply(event kernel.StoredEvent) {
	var p qtyPayload
	_ = json.Unmarshal(event.Payload, &p)
	c.tenant = event.TenantID
	c.id = event.AggregateID
	c.qty += p.Delta
	c.version = event.SequenceNumber
}

func (c *counter) Handle(cmd kernel.Command) ([]kernel.UncommittedEvent, error) {
	adjust, ok := cmd.(adjustQty)
	if !ok {
		return nil, &kernel.ValidationError{Op: "Handle", Field: "cmd", Value: "unknown"}
	}
	if c.qty+adjust.delta < 0 {
		return nil, &kernel.InvariantError{AggregateType: "Counter", Rule: "quantity must not go negative"}
	}
	payload, _ := json.Marshal(qtyPayload{Delta: adjust.delta})
	return []kernel.UncommittedEvent{{
		EventType:    "QuantityAdjusted",
		EventVersion: 1,
		Payload:      payload,
	}}, nil
}

func TestDispatchAppendsAndAppliesToFreshAggregate(t *testing.T) {
	ctx := context.Background()
	s := store.NewInMemoryEventStore()
	d := kernel.NewDispatcher(s, nil, newCounter)

	tenant, _ := ids.NewTenantID()
	aggregate, _ := ids.NewAggregateID()

	stored, err := d.Dispatch(ctx, adjustQty{tenant: tenant, aggregate: aggregate, delta: 5})
	require.NoError(t, err)
	require.Len(t, stored, 1)
	assert.Equal(t, int64(1), stored[0].SequenceNumber)

	agg, err := kernel.Rehydrate(ctx, s, tenant, aggregate, newCounter)
	require.NoError(t, err)
	c := agg.(*counter)
	assert.Equal(t, 5, c.qty)
	assert.Equal(t, int64(1), c.version)
}

func TestDispatchRejectsInvariantViolation(t *testing.T) {
	ctx := context.Background()
	s := store.NewInMemoryEventStore()
	d := kernel.NewDispatcher(s, nil, newCounter)

	tenant, _ := ids.NewTenantID()
	aggregate, _ := ids.NewAggregateID()

	_, err := d.Dispatch(ctx, adjustQty{tenant: tenant, aggregate: aggregate, delta: -1})
	require.Error(t, err)
	assert.True(t, kernel.IsInvariant(err))

	events, err := s.LoadStream(ctx, tenant, aggregate)
	require.NoError(t, err)
	assert.Empty(t, events, "a rejected command must not append any event")
}

func TestDispatchAccumulatesAcrossCommands(t *testing.T) {
	ctx := context.Background()
	s := store.NewInMemoryEventStore()
	d := kernel.NewDispatcher(s, nil, newCounter)

	tenant, _ := ids.NewTenantID()
	aggregate, _ := ids.NewAggregateID()

	_, err := d.Dispatch(ctx, adjustQty{tenant: tenant, aggregate: aggregate, delta: 10})
	require.NoError(t, err)
	_, err = d.Dispatch(ctx, adjustQty{tenant: tenant, aggregate: aggregate, delta: -3})
	require.NoError(t, err)

	agg, err := kernel.Rehydrate(ctx, s, tenant, aggregate, newCounter)
	require.NoError(t, err)
	assert.Equal(t, 7, agg.(*counter).qty)
	assert.Equal(t, int64(2), agg.Version())
}

type recordingPublisher struct {
	published [][]kernel.StoredEvent
}

func (p *recordingPublisher) Publish(_ context.Context, events []kernel.StoredEvent) error {
	p.published = append(p.published, events)
	return nil
}

func TestDispatchPublishesStoredEvents(t *testing.T) {
	ctx := context.Background()
	s := store.NewInMemoryEventStore()
	pub := &recordingPublisher{}
	d := kernel.NewDispatcher(s, pub, newCounter)

	tenant, _ := ids.NewTenantID()
	aggregate, _ := ids.NewAggregateID()

	_, err := d.Dispatch(ctx, adjustQty{tenant: tenant, aggregate: aggregate, delta: 1})
	require.NoError(t, err)
	require.Len(t, pub.published, 1)
	assert.Len(t, pub.published[0], 1)
}

// conflictingStore always returns history for one event at version 1, but
// Append always reports a conflict against a stream already at version 2 —
// simulating a concurrent writer that advanced the stream in the instant
// between Dispatch's load and its append. It counts LoadStream calls so a
// test can tell whether Dispatch reloaded and retried.
type conflictingStore struct {
	history []kernel.StoredEvent
	loads   int
}

func (s *conflictingStore) LoadStream(_ context.Context, _ ids.TenantID, _ ids.AggregateID) ([]kernel.StoredEvent, error) {
	s.loads++
	return s.history, nil
}

func (s *conflictingStore) Append(_ context.Context, _ []kernel.UncommittedEvent, _ kernel.ExpectedVersion) ([]kernel.StoredEvent, error) {
	return nil, &kernel.ConflictError{Expected: 1, Actual: 2}
}

// TestDispatchReturnsConflictWithoutRetrying checks that Dispatch surfaces
// Conflict on the first mismatch rather than retrying internally, leaving
// retry-on-conflict entirely to callers such as RetryOnConflict.
func TestDispatchReturnsConflictWithoutRetrying(t *testing.T) {
	ctx := context.Background()
	tenant, _ := ids.NewTenantID()
	aggregate, _ := ids.NewAggregateID()

	s := &conflictingStore{history: []kernel.StoredEvent{
		{UncommittedEvent: kernel.UncommittedEvent{TenantID: tenant, AggregateID: aggregate, AggregateType: "Counter", EventType: "QuantityAdjusted", Payload: []byte(`{"delta":1}`)}, SequenceNumber: 1},
	}}
	d := kernel.NewDispatcher(s, nil, newCounter)

	_, err := d.Dispatch(ctx, adjustQty{tenant: tenant, aggregate: aggregate, delta: 1})
	require.Error(t, err)
	assert.True(t, kernel.IsConflict(err))
	assert.Equal(t, 1, s.loads, "Dispatch must not reload and retry on conflict")
}

// stubStore is a hand-built kernel.EventStore whose LoadStream returns
// whatever history is set, bypassing Append's own consistency guarantees
// so tests can feed Dispatch a deliberately corrupt stream.
type stubStore struct {
	history []kernel.StoredEvent
}

func (s *stubStore) Append(_ context.Context, events []kernel.UncommittedEvent, _ kernel.ExpectedVersion) ([]kernel.StoredEvent, error) {
	panic("stubStore.Append should not be called in this test")
}

func (s *stubStore) LoadStream(_ context.Context, _ ids.TenantID, _ ids.AggregateID) ([]kernel.StoredEvent, error) {
	return s.history, nil
}

// TestDispatchRejectsCorruptStream checks that a loaded stream with a
// sequence-number gap fails closed as a tenant isolation violation before
// any event is folded into the aggregate.
func TestDispatchRejectsCorruptStream(t *testing.T) {
	ctx := context.Background()
	tenant, _ := ids.NewTenantID()
	aggregate, _ := ids.NewAggregateID()

	s := &stubStore{history: []kernel.StoredEvent{
		{UncommittedEvent: kernel.UncommittedEvent{TenantID: tenant, AggregateID: aggregate, AggregateType: "Counter", EventType: "QuantityAdjusted", Payload: []byte(`{"delta":1}`)}, SequenceNumber: 1},
		{UncommittedEvent: kernel.UncommittedEvent{TenantID: tenant, AggregateID: aggregate, AggregateType: "Counter", EventType: "QuantityAdjusted", Payload: []byte(`{"delta":1}`)}, SequenceNumber: 3},
	}}
	d := kernel.NewDispatcher(s, nil, newCounter)

	_, err := d.Dispatch(ctx, adjustQty{tenant: tenant, aggregate: aggregate, delta: 1})
	require.Error(t, err)
	assert.True(t, kernel.IsTenantIsolation(err))
}

// TestDispatchRejectsCrossTenantEventInStream checks that a loaded stream
// containing an event stamped with a different tenant fails closed rather
// than silently folding that event into the aggregate.
func TestDispatchRejectsCrossTenantEventInStream(t *testing.T) {
	ctx := context.Background()
	tenant, _ := ids.NewTenantID()
	otherTenant, _ := ids.NewTenantID()
	aggregate, _ := ids.NewAggregateID()

	s := &stubStore{history: []kernel.StoredEvent{
		{UncommittedEvent: kernel.UncommittedEvent{TenantID: tenant, AggregateID: aggregate, AggregateType: "Counter", EventType: "QuantityAdjusted", Payload: []byte(`{"delta":1}`)}, SequenceNumber: 1},
		{UncommittedEvent: kernel.UncommittedEvent{TenantID: otherTenant, AggregateID: aggregate, AggregateType: "Counter", EventType: "QuantityAdjusted", Payload: []byte(`{"delta":1}`)}, SequenceNumber: 2},
	}}
	d := kernel.NewDispatcher(s, nil, newCounter)

	_, err := d.Dispatch(ctx, adjustQty{tenant: tenant, aggregate: aggregate, delta: 1})
	require.Error(t, err)
	assert.True(t, kernel.IsTenantIsolation(err))
}
