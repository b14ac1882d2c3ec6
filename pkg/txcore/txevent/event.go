// Package txevent defines the event envelope and dispatch primitives shared
// by the event store, the event bus, and the saga orchestrator.
//
// Events appended to the event store satisfy the Event interface defined
// here and are read back as Records; the event bus carries its own Message
// type. Correlation and causation IDs
// let a single business transaction be traced across aggregates and
// services.
package txevent

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Event is the immutable envelope every domain event implements.
type Event interface {
	ID() string
	Type() string
	AggregateID() string
	AggregateType() string

	// AggregateVersion is the per-aggregate monotonic sequence (starts at 1).
	AggregateVersion() int

	CorrelationID() string
	CausationID() string

	CreatedAt() time.Time

	Data() any
	DataBytes() []byte

	Metadata() Metadata
}

// Metadata carries the cross-cutting fields required by spec section 3:
// correlation, causation, acting user, tenant, and network origin.
type Metadata struct {
	CorrelationID string `json:"correlation_id"`
	CausationID   string `json:"causation_id,omitempty"`
	User          string `json:"user,omitempty"`
	TenantID      string `json:"tenant_id,omitempty"`
	NetworkOrigin string `json:"network_origin,omitempty"`
}

// BaseEvent is the generic implementation of Event. T is the payload type,
// giving callers type-safe access via TypedData while still satisfying the
// narrower Event interface for storage and transport.
type BaseEvent[T any] struct {
	EventID       string   `json:"event_id"`
	EventType     string   `json:"event_type"`
	AggID         string   `json:"aggregate_id"`
	AggType       string   `json:"aggregate_type"`
	AggVersion    int      `json:"event_version"`
	Meta          Metadata `json:"metadata"`
	Payload       T        `json:"payload"`
	CreatedAtTime time.Time `json:"created_at"`

	cachedBytes []byte
}

// Option configures event construction.
type Option func(*config)

type config struct {
	id            string
	correlationID string
	causationID   string
	createdAt     time.Time
	user          string
	tenantID      string
	networkOrigin string
}

// WithEventID overrides the auto-generated event ID.
func WithEventID(id string) Option { return func(c *config) { c.id = id } }

// WithCorrelationID sets the correlation ID (defaults to the event's own ID).
func WithCorrelationID(id string) Option { return func(c *config) { c.correlationID = id } }

// WithCausationID records the event that directly caused this one.
func WithCausationID(id string) Option { return func(c *config) { c.causationID = id } }

// WithCreatedAt overrides the creation timestamp (defaults to time.Now()).
func WithCreatedAt(t time.Time) Option { return func(c *config) { c.createdAt = t } }

// WithUser records the acting user.
func WithUser(user string) Option { return func(c *config) { c.user = user } }

// WithTenantID records the owning tenant.
func WithTenantID(id string) Option { return func(c *config) { c.tenantID = id } }

// WithNetworkOrigin records the originating network/service.
func WithNetworkOrigin(origin string) Option { return func(c *config) { c.networkOrigin = origin } }

// New constructs an event for aggregateID/aggregateType at the given
// per-aggregate version. The event_version is supplied by the caller
// (typically the command handler, which determined expected_version) but is
// re-validated by the event store on append.
func New[T any](eventType, aggregateID, aggregateType string, version int, payload T, opts ...Option) *BaseEvent[T] {
	cfg := &config{
		id:        uuid.New().String(),
		createdAt: time.Now().UTC(),
	}
	for _, opt := range opts {
		opt(cfg)
	}
	if cfg.correlationID == "" {
		cfg.correlationID = cfg.id
	}

	return &BaseEvent[T]{
		EventID:       cfg.id,
		EventType:     eventType,
		AggID:         aggregateID,
		AggType:       aggregateType,
		AggVersion:    version,
		CreatedAtTime: cfg.createdAt,
		Meta: Metadata{
			CorrelationID: cfg.correlationID,
			CausationID:   cfg.causationID,
			User:          cfg.user,
			TenantID:      cfg.tenantID,
			NetworkOrigin: cfg.networkOrigin,
		},
		Payload: payload,
	}
}

// NewFromParent constructs an event that inherits the parent's correlation
// ID and is caused by it. Used by saga step handlers and synchronous
// event-store dispatch handlers that produce follow-on events.
func NewFromParent[T any](parent Event, eventType, aggregateID, aggregateType string, version int, payload T, opts ...Option) *BaseEvent[T] {
	base := []Option{
		WithCorrelationID(parent.CorrelationID()),
		WithCausationID(parent.ID()),
	}
	return New(eventType, aggregateID, aggregateType, version, payload, append(base, opts...)...)
}

func (e *BaseEvent[T]) ID() string               { return e.EventID }
func (e *BaseEvent[T]) Type() string              { return e.EventType }
func (e *BaseEvent[T]) AggregateID() string       { return e.AggID }
func (e *BaseEvent[T]) AggregateType() string     { return e.AggType }
func (e *BaseEvent[T]) AggregateVersion() int      { return e.AggVersion }
func (e *BaseEvent[T]) CorrelationID() string     { return e.Meta.CorrelationID }
func (e *BaseEvent[T]) CausationID() string       { return e.Meta.CausationID }
func (e *BaseEvent[T]) CreatedAt() time.Time      { return e.CreatedAtTime }
func (e *BaseEvent[T]) Data() any                 { return e.Payload }
func (e *BaseEvent[T]) TypedData() T              { return e.Payload }
func (e *BaseEvent[T]) Metadata() Metadata        { return e.Meta }

// DataBytes returns the serialized payload, cached after first computation.
func (e *BaseEvent[T]) DataBytes() []byte {
	if e.cachedBytes == nil {
		e.cachedBytes, _ = json.Marshal(e.Payload)
	}
	return e.cachedBytes
}

// MarshalJSON implements json.Marshaler.
func (e *BaseEvent[T]) MarshalJSON() ([]byte, error) {
	type alias BaseEvent[T]
	return json.Marshal((*alias)(e))
}

// UnmarshalJSON implements json.Unmarshaler.
func (e *BaseEvent[T]) UnmarshalJSON(data []byte) error {
	type alias BaseEvent[T]
	if err := json.Unmarshal(data, (*alias)(e)); err != nil {
		return err
	}
	e.cachedBytes = nil
	return nil
}
