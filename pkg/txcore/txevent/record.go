package txevent

import (
	"encoding/json"
	"time"
)

// Record is the concrete, storage-agnostic representation of a persisted
// event: the payload is kept as raw JSON so the event store never needs to
// know concrete payload types, and handlers decode it themselves (the
// "string-keyed handler map with erased payload decoded inside the handler"
// shape called out for re-architecting dynamic reflection-based dispatch).
type Record struct {
	EventID        string          `json:"event_id"`
	AggregateID    string          `json:"aggregate_id"`
	AggregateType  string          `json:"aggregate_type"`
	EventType      string          `json:"event_type"`
	EventVersion   int             `json:"event_version"`
	SequenceNumber int64           `json:"sequence_number"`
	Payload        json.RawMessage `json:"payload"`
	Metadata       Metadata        `json:"metadata"`
	CreatedAt      time.Time       `json:"created_at"`
}

func (r Record) ID() string           { return r.EventID }
func (r Record) Type() string         { return r.EventType }
func (r Record) AggregateIDOf() string { return r.AggregateID }
func (r Record) CorrelationID() string { return r.Metadata.CorrelationID }
func (r Record) CausationID() string   { return r.Metadata.CausationID }

// NewPendingRecord builds a Record from an Event prior to it being assigned
// a sequence_number by the store. SequenceNumber is left zero until append.
func NewPendingRecord(evt Event) (Record, error) {
	return Record{
		EventID:       evt.ID(),
		AggregateID:   evt.AggregateID(),
		AggregateType: evt.AggregateType(),
		EventType:     evt.Type(),
		EventVersion:  evt.AggregateVersion(),
		Payload:       json.RawMessage(evt.DataBytes()),
		Metadata:      evt.Metadata(),
		CreatedAt:     evt.CreatedAt(),
	}, nil
}

// Decode unmarshals the raw payload into v.
func (r Record) Decode(v any) error {
	return json.Unmarshal(r.Payload, v)
}
