// Package nats implements the durable, consumer-group event bus on top of
// NATS JetStream, directly adapted from the in-process pack's JetStream
// event bus: js.Publish with a deduplicating MsgId maps to the append-once
// guarantee, QueueSubscribe durable consumers give each named group its
// own cursor, and explicit ack/nak drives redelivery. Extended with
// per-group dead-letter routing once a message exhausts MaxDeliver, and
// AckWait as the pending-redelivery timeout.
package nats

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/Ahmadnoorkhan1/forgeerp/pkg/ids"
	"github.com/Ahmadnoorkhan1/forgeerp/pkg/kernel"
	"github.com/Ahmadnoorkhan1/forgeerp/pkg/observability"
)

// Config configures the durable event bus.
type Config struct {
	// URL is the NATS server URL.
	URL string

	// StreamName is the JetStream stream name backing published events.
	StreamName string

	// StreamSubjects are the subjects the stream captures.
	StreamSubjects []string

	// MaxAge is how long JetStream retains events.
	MaxAge time.Duration

	// MaxBytes bounds the stream's on-disk size.
	MaxBytes int64

	// MaxDeliver bounds redelivery attempts per message before it is
	// routed to that consumer group's dead-letter subject.
	MaxDeliver int

	// AckWait is how long JetStream waits for an ack before redelivering.
	AckWait time.Duration
}

// DefaultConfig returns sensible defaults for the durable event bus.
func DefaultConfig() Config {
	return Config{
		URL:            nats.DefaultURL,
		StreamName:     "FORGEERP_EVENTS",
		StreamSubjects: []string{"forgeerp.events.>"},
		MaxAge:         7 * 24 * time.Hour,
		MaxBytes:       1024 * 1024 * 1024,
		MaxDeliver:     5,
		AckWait:        30 * time.Second,
	}
}

// Bus is a NATS JetStream-backed kernel.Publisher with durable,
// consumer-group subscriptions.
type Bus struct {
	nc     *nats.Conn
	js     nats.JetStreamContext
	cfg    Config
	mu     sync.Mutex
	subs   map[string]*nats.Subscription
	tracer trace.Tracer

	metrics *observability.Metrics
}

// Option configures a Bus at construction time.
type Option func(*Bus)

// WithMetrics attaches a Metrics instance for publish/deliver/dead-letter
// counters.
func WithMetrics(m *observability.Metrics) Option {
	return func(b *Bus) { b.metrics = m }
}

// New connects to NATS and ensures the configured JetStream stream exists.
func New(cfg Config, opts ...Option) (*Bus, error) {
	nc, err := nats.Connect(cfg.URL)
	if err != nil {
		return nil, &kernel.BackendError{Op: "bus.New.Connect", Err: err}
	}

	js, err := nc.JetStream()
	if err != nil {
		nc.Close()
		return nil, &kernel.BackendError{Op: "bus.New.JetStream", Err: err}
	}

	b := &Bus{
		nc:     nc,
		js:     js,
		cfg:    cfg,
		subs:   make(map[string]*nats.Subscription),
		tracer: otel.Tracer("forgeerp.kernel.bus.nats"),
	}
	for _, opt := range opts {
		opt(b)
	}

	if err := b.ensureStream(); err != nil {
		nc.Close()
		return nil, err
	}

	return b, nil
}

func (b *Bus) ensureStream() error {
	streamCfg := &nats.StreamConfig{
		Name:      b.cfg.StreamName,
		Subjects:  b.cfg.StreamSubjects,
		Retention: nats.InterestPolicy,
		MaxAge:    b.cfg.MaxAge,
		MaxBytes:  b.cfg.MaxBytes,
		Storage:   nats.FileStorage,
		Replicas:  1,
	}

	if _, err := b.js.StreamInfo(b.cfg.StreamName); err != nil {
		if _, err := b.js.AddStream(streamCfg); err != nil {
			return &kernel.BackendError{Op: "bus.ensureStream.Add", Err: err}
		}
		return nil
	}
	if _, err := b.js.UpdateStream(streamCfg); err != nil {
		return &kernel.BackendError{Op: "bus.ensureStream.Update", Err: err}
	}
	return nil
}

// subject builds the publish subject for an event, always concrete on all
// three segments: forgeerp.events.<tenant_id>.<AggregateType>.<EventType>.
// The tenant segment keeps one tenant's traffic from ever being delivered
// to a durable consumer group subscribed with another tenant's filter.
func subject(e kernel.StoredEvent) string {
	return fmt.Sprintf("forgeerp.events.%s.%s.%s", e.TenantID.String(), e.AggregateType, e.EventType)
}

// Publish appends each event to the JetStream stream, using the event ID
// as the dedup key so a retried publish of the same event is a no-op on
// the broker side.
func (b *Bus) Publish(ctx context.Context, events []kernel.StoredEvent) error {
	start := time.Now()
	ctx, span := observability.StartSpan(ctx, b.tracer, "bus.nats.Publish")
	defer func() { observability.EndSpan(span, nil) }()

	for _, e := range events {
		payload, err := json.Marshal(e)
		if err != nil {
			return &kernel.BackendError{Op: "bus.nats.Publish.marshal", Err: err}
		}
		if _, err := b.js.Publish(subject(e), payload, nats.MsgId(e.EventID.String())); err != nil {
			return &kernel.BackendError{Op: "bus.nats.Publish", Err: err}
		}
	}

	if b.metrics != nil {
		b.metrics.RecordBusPublish(ctx, b.cfg.StreamName, time.Since(start), len(events))
	}
	return nil
}

// Handler processes one delivered envelope. An error naks the message for
// redelivery, up to Config.MaxDeliver attempts.
type Handler func(ctx context.Context, e kernel.StoredEvent) error

// Subscription is returned by Subscribe.
type Subscription interface {
	Unsubscribe() error
}

// Subscribe creates a durable, queue-grouped consumer named group on
// subject pattern built from filter. Every process that subscribes with
// the same group name shares one logical cursor: JetStream load-balances
// deliveries across them and only advances once a message is acked.
func (b *Bus) Subscribe(group string, filter Filter, handler Handler) (Subscription, error) {
	subj := filter.subject()

	sub, err := b.js.QueueSubscribe(
		subj,
		group,
		func(msg *nats.Msg) {
			var e kernel.StoredEvent
			if err := json.Unmarshal(msg.Data, &e); err != nil {
				b.deadLetter(group, msg, err)
				return
			}

			ctx := context.Background()
			if err := handler(ctx, e); err != nil {
				meta, metaErr := msg.Metadata()
				if metaErr == nil && int(meta.NumDelivered) >= b.cfg.MaxDeliver {
					b.deadLetter(group, msg, err)
					return
				}
				msg.Nak()
				return
			}

			msg.Ack()
			if b.metrics != nil {
				b.metrics.RecordBusDelivery(ctx, subj, group)
			}
		},
		nats.Durable(durableName(group, subj)),
		nats.ManualAck(),
		nats.AckExplicit(),
		nats.AckWait(b.cfg.AckWait),
		nats.MaxDeliver(b.cfg.MaxDeliver),
	)
	if err != nil {
		return nil, &kernel.BackendError{Op: "bus.nats.Subscribe", Err: err}
	}

	b.mu.Lock()
	b.subs[group+"|"+subj] = sub
	b.mu.Unlock()

	return &subscription{bus: b, sub: sub, key: group + "|" + subj}, nil
}

// deadLetter republishes the undeliverable message on this group's
// dead-letter subject and terminally acks the original so JetStream stops
// redelivering it.
func (b *Bus) deadLetter(group string, msg *nats.Msg, cause error) {
	dlqSubject := fmt.Sprintf("%s.dlq.%s", b.cfg.StreamName, group)
	_, _ = b.js.Publish(dlqSubject, msg.Data, nats.Header(msg.Header))
	msg.Term()
	if b.metrics != nil {
		b.metrics.RecordBusDeadLetter(context.Background(), msg.Subject, group)
	}
}

func durableName(group, subject string) string {
	return fmt.Sprintf("%s_%s", group, sanitize(subject))
}

func sanitize(s string) string {
	out := make([]byte, len(s))
	for i := 0; i < len(s); i++ {
		if s[i] == '.' || s[i] == '*' || s[i] == '>' {
			out[i] = '_'
		} else {
			out[i] = s[i]
		}
	}
	return string(out)
}

// Filter narrows a durable subscription's subject. A zero TenantID
// subscribes across every tenant; an empty AggregateType subscribes to
// every aggregate type within that tenant; an empty EventType subscribes
// to every event type for the matched aggregate types.
type Filter struct {
	TenantID      ids.TenantID
	AggregateType string
	EventType     string
}

func (f Filter) subject() string {
	tenant := "*"
	if !f.TenantID.IsZero() {
		tenant = f.TenantID.String()
	}
	switch {
	case f.AggregateType == "":
		return fmt.Sprintf("forgeerp.events.%s.>", tenant)
	case f.EventType == "":
		return fmt.Sprintf("forgeerp.events.%s.%s.>", tenant, f.AggregateType)
	default:
		return fmt.Sprintf("forgeerp.events.%s.%s.%s", tenant, f.AggregateType, f.EventType)
	}
}

type subscription struct {
	bus *Bus
	sub *nats.Subscription
	key string
}

func (s *subscription) Unsubscribe() error {
	s.bus.mu.Lock()
	defer s.bus.mu.Unlock()
	delete(s.bus.subs, s.key)
	return s.sub.Unsubscribe()
}

// Close unsubscribes every active subscription and closes the NATS
// connection.
func (b *Bus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, sub := range b.subs {
		_ = sub.Unsubscribe()
	}
	b.nc.Close()
	return nil
}
