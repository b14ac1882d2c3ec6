package eventbus

import (
	"encoding/json"
	"time"

	"github.com/tracseq/txcore/pkg/txcore/txevent"
)

// Message is the wire envelope published to and consumed from the bus,
// matching spec section 3's Event Bus Message definition.
type Message struct {
	EventID       string          `json:"event_id"`
	EventType     string          `json:"event_type"`
	AggregateID   string          `json:"aggregate_id"`
	AggregateType string          `json:"aggregate_type"`
	EventVersion  int             `json:"event_version"`
	Payload       json.RawMessage `json:"payload"`
	Metadata      txevent.Metadata `json:"metadata"`
	Timestamp     time.Time       `json:"timestamp"`
}

// Topic returns the fixed topic this message routes to.
func (m Message) Topic() string { return TopicFor(m.AggregateType) }

// FromRecord converts a persisted event-store record into a bus message.
func FromRecord(rec txevent.Record) Message {
	return Message{
		EventID:       rec.EventID,
		EventType:     rec.EventType,
		AggregateID:   rec.AggregateID,
		AggregateType: rec.AggregateType,
		EventVersion:  rec.EventVersion,
		Payload:       rec.Payload,
		Metadata:      rec.Metadata,
		Timestamp:     rec.CreatedAt,
	}
}

// Decode unmarshals the payload into v.
func (m Message) Decode(v any) error { return json.Unmarshal(m.Payload, v) }
