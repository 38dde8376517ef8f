// Package bus implements the in-process event bus: a bounded
// per-subscriber channel with drop-oldest overflow, adapted from the
// eventbus package's publish/subscribe shape but backed by Go channels
// instead of a transport, for callers that don't need durability across
// process restarts (single-node deployments, tests, local development).
package bus

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/Ahmadnoorkhan1/forgeerp/pkg/ids"
	"github.com/Ahmadnoorkhan1/forgeerp/pkg/kernel"
	"github.com/Ahmadnoorkhan1/forgeerp/pkg/observability"
)

// Filter narrows a subscription to a subset of events. An empty slice
// field matches everything on that axis; a zero TenantID matches every
// tenant, otherwise only events stamped with that tenant are delivered.
type Filter struct {
	TenantID       ids.TenantID
	AggregateTypes []string
	EventTypes     []string
}

func (f Filter) matches(e kernel.StoredEvent) bool {
	if !f.TenantID.IsZero() && e.TenantID != f.TenantID {
		return false
	}
	if len(f.AggregateTypes) > 0 && !contains(f.AggregateTypes, e.AggregateType) {
		return false
	}
	if len(f.EventTypes) > 0 && !contains(f.EventTypes, e.EventType) {
		return false
	}
	return true
}

func contains(xs []string, x string) bool {
	for _, s := range xs {
		if s == x {
			return true
		}
	}
	return false
}

// Handler processes one envelope. An error does not block the bus; the
// in-process bus has no redelivery, so handler errors are only reported
// through observability.
type Handler func(ctx context.Context, e kernel.StoredEvent) error

// Subscription is returned by Subscribe; call Unsubscribe to stop
// receiving and release the subscriber's channel and goroutine.
type Subscription interface {
	Unsubscribe()
}

type subscriber struct {
	filter  Filter
	handler Handler
	queue   chan kernel.StoredEvent
	done    chan struct{}
}

// Bus fans a stream of stored events out to any number of subscribers.
// Each subscriber has its own bounded queue; a slow subscriber drops its
// oldest queued event rather than blocking the publisher, so one stalled
// consumer cannot back-pressure the rest.
type Bus struct {
	mu       sync.RWMutex
	subs     map[int]*subscriber
	nextID   int
	queueCap int

	tracer  trace.Tracer
	metrics *observability.Metrics
}

// Option configures a Bus.
type Option func(*Bus)

// WithQueueCapacity sets the per-subscriber channel capacity. Default 256.
func WithQueueCapacity(n int) Option {
	return func(b *Bus) { b.queueCap = n }
}

// WithMetrics attaches a Metrics instance for publish/deliver counters.
func WithMetrics(m *observability.Metrics) Option {
	return func(b *Bus) { b.metrics = m }
}

// New creates an in-process Bus.
func New(opts ...Option) *Bus {
	b := &Bus{
		subs:     make(map[int]*subscriber),
		queueCap: 256,
		tracer:   otel.Tracer("forgeerp.kernel.bus"),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Subscribe registers handler to receive events matching filter. Delivery
// happens on a dedicated goroutine per subscriber, so handler may block
// without affecting Publish or other subscribers.
func (b *Bus) Subscribe(filter Filter, handler Handler) Subscription {
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	sub := &subscriber{
		filter:  filter,
		handler: handler,
		queue:   make(chan kernel.StoredEvent, b.queueCap),
		done:    make(chan struct{}),
	}
	b.subs[id] = sub
	b.mu.Unlock()

	go b.deliverLoop(sub)

	return &subscriptionHandle{bus: b, id: id}
}

func (b *Bus) deliverLoop(sub *subscriber) {
	for {
		select {
		case e, ok := <-sub.queue:
			if !ok {
				return
			}
			ctx := context.Background()
			if err := sub.handler(ctx, e); err != nil && b.metrics != nil {
				b.metrics.RecordProjectionError(ctx, "bus.subscriber", "handler_error")
			} else if b.metrics != nil {
				b.metrics.RecordBusDelivery(ctx, e.EventType, "")
			}
		case <-sub.done:
			return
		}
	}
}

type subscriptionHandle struct {
	bus *Bus
	id  int
}

func (s *subscriptionHandle) Unsubscribe() {
	s.bus.mu.Lock()
	defer s.bus.mu.Unlock()
	if sub, ok := s.bus.subs[s.id]; ok {
		close(sub.done)
		delete(s.bus.subs, s.id)
	}
}

// Publish fans events out to every matching subscriber. It never blocks on
// a slow subscriber: if a subscriber's queue is full, the oldest queued
// event is dropped to make room for the new one.
func (b *Bus) Publish(ctx context.Context, events []kernel.StoredEvent) error {
	start := time.Now()
	ctx, span := observability.StartSpan(ctx, b.tracer, "bus.Publish")
	defer func() { observability.EndSpan(span, nil) }()

	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, e := range events {
		for _, sub := range b.subs {
			if !sub.filter.matches(e) {
				continue
			}
			enqueue(sub.queue, e)
		}
	}

	if b.metrics != nil {
		b.metrics.RecordBusPublish(ctx, "in-process", time.Since(start), len(events))
	}
	return nil
}

// enqueue drops the oldest queued item when full, then enqueues e.
func enqueue(queue chan kernel.StoredEvent, e kernel.StoredEvent) {
	select {
	case queue <- e:
		return
	default:
	}
	select {
	case <-queue:
	default:
	}
	select {
	case queue <- e:
	default:
	}
}

// Close stops every subscriber's delivery goroutine.
func (b *Bus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for id, sub := range b.subs {
		close(sub.done)
		delete(b.subs, id)
	}
	return nil
}
