package sqlite

import (
	"database/sql"
	"encoding/json"
	"time"

	"github.com/Ahmadnoorkhan1/forgeerp/pkg/ids"
	"github.com/Ahmadnoorkhan1/forgeerp/pkg/kernel"
)

const sqliteTimeFormat = "2006-01-02T15:04:05.999999999Z07:00"

func formatTime(t time.Time) string {
	return t.UTC().Format(sqliteTimeFormat)
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(sqliteTimeFormat, s)
}

// storedMetadata mirrors kernel.EventMetadata's JSON shape for the
// metadata column, kept local so this package does not need to know
// about kernel.EventMetadata's Go field tags.
type storedMetadata struct {
	PrincipalID   string            `json:"principal_id,omitempty"`
	CausationID   string            `json:"causation_id,omitempty"`
	CorrelationID string            `json:"correlation_id,omitempty"`
	Custom        map[string]string `json:"custom,omitempty"`
}

func marshalMetadata(m kernel.EventMetadata) ([]byte, error) {
	out := storedMetadata{
		CausationID:   m.CausationID,
		CorrelationID: m.CorrelationID,
		Custom:        m.Custom,
	}
	if !m.PrincipalID.IsZero() {
		out.PrincipalID = m.PrincipalID.String()
	}
	return json.Marshal(out)
}

func unmarshalMetadata(b []byte) (kernel.EventMetadata, error) {
	var stored storedMetadata
	if len(b) == 0 {
		return kernel.EventMetadata{}, nil
	}
	if err := json.Unmarshal(b, &stored); err != nil {
		return kernel.EventMetadata{}, err
	}

	out := kernel.EventMetadata{
		CausationID:   stored.CausationID,
		CorrelationID: stored.CorrelationID,
		Custom:        stored.Custom,
	}
	if stored.PrincipalID != "" {
		pid, err := ids.ParsePrincipalID(stored.PrincipalID)
		if err != nil {
			return kernel.EventMetadata{}, err
		}
		out.PrincipalID = pid
	}
	return out, nil
}

// rowScanner abstracts over *sql.Rows so scanEvent can be shared between
// LoadStream and LoadAllForTenant without duplicating the Scan call.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanEvent(rows rowScanner) (kernel.StoredEvent, error) {
	var (
		eventID, tenantID, aggregateID string
		aggregateType, eventType       string
		sequenceNumber                 int64
		eventVersion                   int
		occurredAt                     string
		payload, metadata              []byte
	)

	if err := rows.Scan(&eventID, &tenantID, &aggregateID, &aggregateType, &sequenceNumber, &eventType, &eventVersion, &occurredAt, &payload, &metadata); err != nil {
		return kernel.StoredEvent{}, err
	}

	tid, err := ids.ParseTenantID(tenantID)
	if err != nil {
		return kernel.StoredEvent{}, err
	}
	aid, err := ids.ParseAggregateID(aggregateID)
	if err != nil {
		return kernel.StoredEvent{}, err
	}
	eid, err := ids.ParseEventID(eventID)
	if err != nil {
		return kernel.StoredEvent{}, err
	}
	occurred, err := parseTime(occurredAt)
	if err != nil {
		return kernel.StoredEvent{}, err
	}
	meta, err := unmarshalMetadata(metadata)
	if err != nil {
		return kernel.StoredEvent{}, err
	}

	return kernel.StoredEvent{
		UncommittedEvent: kernel.UncommittedEvent{
			TenantID:      tid,
			AggregateID:   aid,
			AggregateType: aggregateType,
			EventType:     eventType,
			EventVersion:  eventVersion,
			OccurredAt:    occurred,
			Payload:       payload,
			Metadata:      meta,
		},
		EventID:        eid,
		SequenceNumber: sequenceNumber,
	}, nil
}

func scanEvents(rows *sql.Rows) ([]kernel.StoredEvent, error) {
	out := make([]kernel.StoredEvent, 0)
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}
