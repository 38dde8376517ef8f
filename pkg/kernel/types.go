// Package kernel implements the event-sourcing core: the aggregate
// contract, the command dispatcher, and the error taxonomy shared by the
// store, bus, and projection subpackages. Concrete ERP domains, HTTP
// handlers, authentication, and AI analytics are external collaborators of
// this package, never the other way around.
package kernel

import (
	"strconv"
	"time"

	"github.com/Ahmadnoorkhan1/forgeerp/pkg/ids"
)

// ExpectedVersion is an optimistic-concurrency token passed to Append.
// Any performs no check; Exact(n) requires the stream's current sequence
// number to be exactly n (n == 0 meaning "must not exist yet").
type ExpectedVersion struct {
	any bool
	n   int64
}

// AnyVersion returns an ExpectedVersion that performs no concurrency check.
func AnyVersion() ExpectedVersion {
	return ExpectedVersion{any: true}
}

// ExactVersion returns an ExpectedVersion requiring the stream's current
// sequence number to equal n.
func ExactVersion(n int64) ExpectedVersion {
	return ExpectedVersion{n: n}
}

// IsAny reports whether this token performs no concurrency check.
func (v ExpectedVersion) IsAny() bool { return v.any }

// Exact returns the required sequence number and whether this token is an
// Exact(n) token at all.
func (v ExpectedVersion) Exact() (n int64, ok bool) { return v.n, !v.any }

func (v ExpectedVersion) String() string {
	if v.any {
		return "Any"
	}
	return "Exact(" + strconv.FormatInt(v.n, 10) + ")"
}

// EventMetadata carries contextual information about an event that is not
// itself part of the domain payload.
type EventMetadata struct {
	// PrincipalID is who (user, service, system) caused this event.
	PrincipalID ids.PrincipalID
	// CausationID is the identifier of the command/event that caused this
	// event, used for causal tracing across aggregates.
	CausationID string
	// CorrelationID links this event to the root of a business process.
	CorrelationID string
	// Custom allows application-specific key/value metadata.
	Custom map[string]string
}

// UncommittedEvent is an event produced by an aggregate's decision but not
// yet assigned a sequence number by the store.
type UncommittedEvent struct {
	TenantID      ids.TenantID
	AggregateID   ids.AggregateID
	AggregateType string
	EventType     string
	EventVersion  int
	OccurredAt    time.Time
	Payload       []byte // JSON-encoded
	Metadata      EventMetadata
}

// StoredEvent is an UncommittedEvent after the store has assigned it an
// identity and a position in its stream.
type StoredEvent struct {
	UncommittedEvent
	EventID        ids.EventID
	SequenceNumber int64
}

// EventEnvelope is the shape published on the bus and consumed by
// projections. It is a type alias, not a separate type: any change to
// StoredEvent's fields changes EventEnvelope too.
type EventEnvelope = StoredEvent
