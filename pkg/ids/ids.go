// Package ids defines the typed, time-ordered identifiers used throughout
// the kernel: tenants, aggregates, events, and principals are all 128-bit
// UUIDv7 values so that index locality and tie-breaking on equal
// timestamps fall out of the identifier itself rather than a side column.
package ids

import (
	"database/sql/driver"
	"fmt"

	"github.com/google/uuid"
)

// TenantID identifies a tenant. The zero value is the nil UUID and is
// never valid on the wire — every envelope leaving the kernel carries a
// concrete tenant_id.
type TenantID struct{ u uuid.UUID }

// AggregateID identifies one stream: the (tenant_id, aggregate_id) pair is
// the stream's primary key.
type AggregateID struct{ u uuid.UUID }

// EventID identifies one stored event, globally unique.
type EventID struct{ u uuid.UUID }

// PrincipalID identifies the caller (user, service, system) on whose
// behalf a command is executed.
type PrincipalID struct{ u uuid.UUID }

// NewTenantID allocates a new time-ordered tenant identifier.
func NewTenantID() (TenantID, error) {
	u, err := uuid.NewV7()
	if err != nil {
		return TenantID{}, fmt.Errorf("ids: generate tenant id: %w", err)
	}
	return TenantID{u: u}, nil
}

// NewAggregateID allocates a new time-ordered aggregate identifier.
func NewAggregateID() (AggregateID, error) {
	u, err := uuid.NewV7()
	if err != nil {
		return AggregateID{}, fmt.Errorf("ids: generate aggregate id: %w", err)
	}
	return AggregateID{u: u}, nil
}

// NewEventID allocates a new time-ordered event identifier.
func NewEventID() (EventID, error) {
	u, err := uuid.NewV7()
	if err != nil {
		return EventID{}, fmt.Errorf("ids: generate event id: %w", err)
	}
	return EventID{u: u}, nil
}

// NewPrincipalID allocates a new time-ordered principal identifier.
func NewPrincipalID() (PrincipalID, error) {
	u, err := uuid.NewV7()
	if err != nil {
		return PrincipalID{}, fmt.Errorf("ids: generate principal id: %w", err)
	}
	return PrincipalID{u: u}, nil
}

// String implementations — used for logging, SQL text params and JSON.

func (t TenantID) String() string    { return t.u.String() }
func (a AggregateID) String() string { return a.u.String() }
func (e EventID) String() string     { return e.u.String() }
func (p PrincipalID) String() string { return p.u.String() }

// IsZero reports whether the identifier is the nil UUID.
func (t TenantID) IsZero() bool    { return t.u == uuid.Nil }
func (a AggregateID) IsZero() bool { return a.u == uuid.Nil }
func (e EventID) IsZero() bool     { return e.u == uuid.Nil }
func (p PrincipalID) IsZero() bool { return p.u == uuid.Nil }

// ParseTenantID parses a canonical UUID string into a TenantID.
func ParseTenantID(s string) (TenantID, error) {
	u, err := uuid.Parse(s)
	if err != nil {
		return TenantID{}, fmt.Errorf("ids: parse tenant id %q: %w", s, err)
	}
	return TenantID{u: u}, nil
}

// ParseAggregateID parses a canonical UUID string into an AggregateID.
func ParseAggregateID(s string) (AggregateID, error) {
	u, err := uuid.Parse(s)
	if err != nil {
		return AggregateID{}, fmt.Errorf("ids: parse aggregate id %q: %w", s, err)
	}
	return AggregateID{u: u}, nil
}

// ParseEventID parses a canonical UUID string into an EventID.
func ParseEventID(s string) (EventID, error) {
	u, err := uuid.Parse(s)
	if err != nil {
		return EventID{}, fmt.Errorf("ids: parse event id %q: %w", s, err)
	}
	return EventID{u: u}, nil
}

// ParsePrincipalID parses a canonical UUID string into a PrincipalID.
func ParsePrincipalID(s string) (PrincipalID, error) {
	u, err := uuid.Parse(s)
	if err != nil {
		return PrincipalID{}, fmt.Errorf("ids: parse principal id %q: %w", s, err)
	}
	return PrincipalID{u: u}, nil
}

// MarshalJSON renders the identifier as its canonical UUID string, which
// is also the stable field representation used by the envelope wire
// format.
func (t TenantID) MarshalJSON() ([]byte, error)    { return marshalUUID(t.u) }
func (a AggregateID) MarshalJSON() ([]byte, error) { return marshalUUID(a.u) }
func (e EventID) MarshalJSON() ([]byte, error)     { return marshalUUID(e.u) }
func (p PrincipalID) MarshalJSON() ([]byte, error) { return marshalUUID(p.u) }

func marshalUUID(u uuid.UUID) ([]byte, error) {
	return []byte(`"` + u.String() + `"`), nil
}

func (t *TenantID) UnmarshalJSON(b []byte) error    { return unmarshalUUID(b, &t.u) }
func (a *AggregateID) UnmarshalJSON(b []byte) error { return unmarshalUUID(b, &a.u) }
func (e *EventID) UnmarshalJSON(b []byte) error     { return unmarshalUUID(b, &e.u) }
func (p *PrincipalID) UnmarshalJSON(b []byte) error { return unmarshalUUID(b, &p.u) }

func unmarshalUUID(b []byte, out *uuid.UUID) error {
	s := string(b)
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		s = s[1 : len(s)-1]
	}
	u, err := uuid.Parse(s)
	if err != nil {
		return fmt.Errorf("ids: unmarshal uuid %q: %w", s, err)
	}
	*out = u
	return nil
}

// Value/Scan implement database/sql's driver.Valuer/Scanner so these types
// round-trip through both the pgx and modernc.org/sqlite backends without
// a manual pgtype.UUID conversion at every call site.

func (t TenantID) Value() (driver.Value, error)    { return t.u.String(), nil }
func (a AggregateID) Value() (driver.Value, error) { return a.u.String(), nil }
func (e EventID) Value() (driver.Value, error)     { return e.u.String(), nil }
func (p PrincipalID) Value() (driver.Value, error) { return p.u.String(), nil }

func (t *TenantID) Scan(src any) error    { return scanUUID(src, &t.u) }
func (a *AggregateID) Scan(src any) error { return scanUUID(src, &a.u) }
func (e *EventID) Scan(src any) error     { return scanUUID(src, &e.u) }
func (p *PrincipalID) Scan(src any) error { return scanUUID(src, &p.u) }

func scanUUID(src any, out *uuid.UUID) error {
	switch v := src.(type) {
	case string:
		u, err := uuid.Parse(v)
		if err != nil {
			return fmt.Errorf("ids: scan uuid %q: %w", v, err)
		}
		*out = u
		return nil
	case []byte:
		u, err := uuid.ParseBytes(v)
		if err != nil {
			return fmt.Errorf("ids: scan uuid %q: %w", string(v), err)
		}
		*out = u
		return nil
	case [16]byte:
		*out = uuid.UUID(v)
		return nil
	default:
		return fmt.Errorf("ids: cannot scan %T into uuid", src)
	}
}
