package kernel

import (
	"errors"

	"github.com/asaskevich/govalidator"
)

// ValidateBatch checks the field-level and batch-consistency rules every
// store backend requires before it opens a transaction: non-empty
// identifying strings, well-formed UUIDs, and a single shared stream
// identity across the whole batch. Field-level checks use govalidator;
// the batch-consistency check is domain-specific and has no library
// equivalent.
func ValidateBatch(events []UncommittedEvent) error {
	if len(events) == 0 {
		return &ValidationError{Op: "Append", Field: "events", Value: "[]", Err: errors.New("append batch must not be empty")}
	}

	tenant := events[0].TenantID
	aggregate := events[0].AggregateID
	aggregateType := events[0].AggregateType

	for _, e := range events {
		if govalidator.IsNull(e.AggregateType) {
			return &ValidationError{Op: "Append", Field: "aggregate_type", Value: e.AggregateType, Err: errors.New("must not be empty")}
		}
		if govalidator.IsNull(e.EventType) {
			return &ValidationError{Op: "Append", Field: "event_type", Value: e.EventType, Err: errors.New("must not be empty")}
		}
		if !govalidator.IsUUID(e.TenantID.String()) {
			return &ValidationError{Op: "Append", Field: "tenant_id", Value: e.TenantID.String(), Err: errors.New("must be a well-formed UUID")}
		}
		if !govalidator.IsUUID(e.AggregateID.String()) {
			return &ValidationError{Op: "Append", Field: "aggregate_id", Value: e.AggregateID.String(), Err: errors.New("must be a well-formed UUID")}
		}
		if e.TenantID != tenant || e.AggregateID != aggregate || e.AggregateType != aggregateType {
			return &ValidationError{
				Op: "Append", Field: "events", Value: "mixed stream identity",
				Err: errors.New("every event in a batch must share (tenant_id, aggregate_id, aggregate_type)"),
			}
		}
	}

	return nil
}
