package kernel

import (
	"errors"
	"fmt"
)

// Sentinel errors for the kernel's error taxonomy. Callers should use
// errors.Is/errors.As rather than comparing concrete types, since each
// sentinel may be wrapped by a detail-carrying struct below.
var (
	// ErrValidation marks ill-formed input: empty batches, missing
	// fields, mixed tenants within one append call.
	ErrValidation = errors.New("kernel: validation error")

	// ErrInvariant marks a domain-rule violation decided by an
	// aggregate's Handle (e.g. stock would go negative).
	ErrInvariant = errors.New("kernel: invariant violation")

	// ErrConflict marks an optimistic-concurrency mismatch: the expected
	// version no longer matches the stream's current version.
	ErrConflict = errors.New("kernel: concurrency conflict")

	// ErrTenantIsolation marks a cross-tenant access attempt. Fatal for
	// the request; never recovered inside the kernel.
	ErrTenantIsolation = errors.New("kernel: tenant isolation violation")

	// ErrBackend marks a transport-level failure (database, bus).
	ErrBackend = errors.New("kernel: backend error")

	// ErrProjectionDeserialize marks an envelope a projection's current
	// code cannot parse. Routed to a dead-letter; the cursor does not
	// advance.
	ErrProjectionDeserialize = errors.New("kernel: projection cannot deserialize envelope")

	// ErrGap marks a sequence-number gap discovered by a projection that
	// declined to auto-backfill.
	ErrGap = errors.New("kernel: projection sequence gap")
)

// ValidationError carries the specific field and value that failed
// structural validation.
type ValidationError struct {
	Op    string
	Field string
	Value string
	Err   error
}

func (e *ValidationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: field %q value %q: %v", e.Op, e.Field, e.Value, e.Err)
	}
	return fmt.Sprintf("%s: field %q value %q", e.Op, e.Field, e.Value)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

// InvariantError carries the aggregate's human-readable rule description.
type InvariantError struct {
	AggregateType string
	Rule          string
}

func (e *InvariantError) Error() string {
	return fmt.Sprintf("invariant violated on %s: %s", e.AggregateType, e.Rule)
}

func (e *InvariantError) Unwrap() error { return ErrInvariant }

// ConflictError carries the version the caller expected versus the
// version the store actually held at transaction start.
type ConflictError struct {
	Expected int64
	Actual   int64
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("concurrency conflict: expected version %d, stream is at %d", e.Expected, e.Actual)
}

func (e *ConflictError) Unwrap() error { return ErrConflict }

// TenantIsolationError carries the tenant that was expected versus the one
// actually found on the stream or request.
type TenantIsolationError struct {
	Expected string
	Actual   string
	Detail   string
}

func (e *TenantIsolationError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("tenant isolation violation: %s (expected %s, got %s)", e.Detail, e.Expected, e.Actual)
	}
	return fmt.Sprintf("tenant isolation violation: expected %s, got %s", e.Expected, e.Actual)
}

func (e *TenantIsolationError) Unwrap() error { return ErrTenantIsolation }

// BackendError wraps a transport-level failure with the operation that
// failed, for structured logging.
type BackendError struct {
	Op  string
	Err error
}

func (e *BackendError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *BackendError) Unwrap() error { return errors.Join(ErrBackend, e.Err) }

// GapError carries the range of missing sequence numbers.
type GapError struct {
	Cursor         int64
	SequenceNumber int64
}

func (e *GapError) Error() string {
	return fmt.Sprintf("sequence gap: cursor at %d, envelope at %d", e.Cursor, e.SequenceNumber)
}

func (e *GapError) Unwrap() error { return ErrGap }

// IsConflict reports whether err is, or wraps, a concurrency conflict.
func IsConflict(err error) bool { return errors.Is(err, ErrConflict) }

// IsTenantIsolation reports whether err is, or wraps, a tenant isolation
// violation.
func IsTenantIsolation(err error) bool { return errors.Is(err, ErrTenantIsolation) }

// IsValidation reports whether err is, or wraps, a validation error.
func IsValidation(err error) bool { return errors.Is(err, ErrValidation) }

// IsInvariant reports whether err is, or wraps, an invariant violation.
func IsInvariant(err error) bool { return errors.Is(err, ErrInvariant) }

// IsBackend reports whether err is, or wraps, a backend/transport error.
func IsBackend(err error) bool { return errors.Is(err, ErrBackend) }
