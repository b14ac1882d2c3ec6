// Package command implements the write side of the CQRS pipeline (C4):
// validate, determine expected_version, build an event, append it through
// the event store, and report a CommandResult. Handlers compose with
// Middleware exactly as txevent.Chain composes dispatch handlers.
package command

import (
	"context"
	"time"

	"github.com/tracseq/txcore/pkg/txcore/eventstore"
	"github.com/tracseq/txcore/pkg/txcore/txevent"
)

// Command is the transient input to a Handler. It is never persisted
// directly; a successful Handle produces one or more events which are.
type Command struct {
	CommandType string
	AggregateID string
	Input       any
	Metadata    txevent.Metadata

	// ExpectedVersion, when non-nil, pins the optimistic concurrency check to
	// a version the caller already observed (an "optimistic client"). When
	// nil, the handler determines it by reading the aggregate's current
	// version.
	ExpectedVersion *int
}

// Result is returned by a successful Handle.
type Result struct {
	Success     bool
	AggregateID string
	Version     int
	EventIDs    []string
	Timestamp   time.Time
}

// Handler validates a Command, builds the resulting event(s), and appends
// them via the event store. Implementations are registered per command_type
// by the caller (typically a saga step handler or an external-facing
// adapter outside this module's scope).
type Handler interface {
	Handle(ctx context.Context, cmd Command) (Result, error)
}

// HandlerFunc adapts a plain function to Handler.
type HandlerFunc func(ctx context.Context, cmd Command) (Result, error)

func (f HandlerFunc) Handle(ctx context.Context, cmd Command) (Result, error) { return f(ctx, cmd) }

// Middleware wraps a Handler to add cross-cutting behavior (validation,
// authorization, logging, metrics). Each layer may short-circuit with an
// error, mirroring txevent.Middleware for the dispatch side.
type Middleware func(next Handler) Handler

// Chain applies middleware in order, with the first middleware outermost.
func Chain(h Handler, mw ...Middleware) Handler {
	for i := len(mw) - 1; i >= 0; i-- {
		h = mw[i](h)
	}
	return h
}

// EventBuilder constructs the event(s) a command produces once its
// expected_version has been resolved. aggregateType and version are supplied
// by the generic Handle logic in handler.go; the builder only needs to turn
// the command's input into a typed event payload.
type EventBuilder func(cmd Command, aggregateType string, version int) (txevent.Event, error)

// AppendFunc is the subset of eventstore.Store.AppendEvents a command
// handler depends on, narrowed for easy test substitution.
type AppendFunc func(ctx context.Context, aggregateID, aggregateType string, expectedVersion int, events []txevent.Event) ([]txevent.Record, error)

// VersionFunc resolves an aggregate's current version.
type VersionFunc func(ctx context.Context, aggregateID string) (int, error)

// StoreFuncs extracts AppendFunc/VersionFunc from a live eventstore.Store.
func StoreFuncs(store eventstore.Store) (AppendFunc, VersionFunc) {
	return store.AppendEvents, store.CurrentVersion
}
