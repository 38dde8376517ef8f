package kernel

import "github.com/Ahmadnoorkhan1/forgeerp/pkg/ids"

// Command is the minimal shape the dispatcher needs from a command: the
// tenant and stream it targets. Concrete command types (e.g.
// "AdjustStockLevel") are external collaborators that embed this.
type Command interface {
	TargetTenant() ids.TenantID
	TargetAggregate() ids.AggregateID
}

// Aggregate is the pure decision-and-evolution contract every consistency
// boundary implements. Handle and Apply must perform no I/O and must be
// referentially transparent: given identical state and command, Handle
// returns structurally equal events (modulo any timestamp the dispatcher,
// rather than the aggregate, stamps).
//
// Implementations own their own state representation; the kernel only
// ever calls through this interface, never reaches into aggregate
// internals.
type Aggregate interface {
	// AggregateType returns the constant type name stamped on every event
	// this aggregate produces.
	AggregateType() string

	// Version returns the sequence number of the last event applied,
	// i.e. the expected_version to use for the next append.
	Version() int64

	// Apply folds one historical or newly-decided event into state. Must
	// be total: it must not fail. Called once per event during
	// rehydration, and again for each event Handle produces so the
	// aggregate sees its own emissions before the dispatcher returns.
	Apply(event StoredEvent)

	// Handle decides what events (if any) a command produces against the
	// aggregate's current state. Returns zero events for a no-op command.
	// Must not mutate state and must not perform I/O — only Apply
	// mutates state, and only the dispatcher performs I/O.
	Handle(cmd Command) ([]UncommittedEvent, error)
}

// TenantOf is satisfied by aggregates that know their own tenant, used by
// the dispatcher to reject commands whose tenant disagrees with the
// aggregate's own tenant.
type TenantOf interface {
	Tenant() ids.TenantID
}
