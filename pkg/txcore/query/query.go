// Package query implements the read side of the CQRS pipeline (C4):
// named, synchronous queries against projections built by folding the event
// stream, adapted from the teacher's Temporal-inspired query primitives in
// pkg/flowgraph/query/query.go. The Registry/Executor/Handler shape is kept;
// "workflow target" becomes "projection", and StateLoader becomes a
// Projector lookup.
package query

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// Handler executes a read-only query against a named target (an aggregate
// ID or a projection-defined key) and returns a result.
type Handler func(ctx context.Context, targetID string, args any) (any, error)

// Registry manages query handlers by query name.
type Registry struct {
	handlers map[string]Handler
	mu       sync.RWMutex
}

// NewRegistry creates an empty query registry.
func NewRegistry() *Registry {
	return &Registry{handlers: make(map[string]Handler)}
}

// Register adds a handler for a query name.
func (r *Registry) Register(queryName string, handler Handler) error {
	if queryName == "" {
		return errors.New("query name is required")
	}
	if handler == nil {
		return errors.New("handler is required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.handlers[queryName]; exists {
		return fmt.Errorf("handler for query %q already registered", queryName)
	}
	r.handlers[queryName] = handler
	return nil
}

// MustRegister registers a handler, panicking on error.
func (r *Registry) MustRegister(queryName string, handler Handler) {
	if err := r.Register(queryName, handler); err != nil {
		panic(err)
	}
}

// Get returns the handler for a query name.
func (r *Registry) Get(queryName string) (Handler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	handler, exists := r.handlers[queryName]
	return handler, exists
}

// List returns all registered query names.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.handlers))
	for name := range r.handlers {
		names = append(names, name)
	}
	return names
}

// Unregister removes a handler for a query name.
func (r *Registry) Unregister(queryName string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.handlers, queryName)
}

// ErrQueryNotFound is returned when a query handler doesn't exist.
var ErrQueryNotFound = errors.New("query not found")

// ErrTargetNotFound is returned when the query target has no projected
// state yet.
var ErrTargetNotFound = errors.New("target not found")

// Executor runs registered queries against targets.
type Executor struct {
	registry *Registry
}

// NewExecutor creates a query executor backed by registry.
func NewExecutor(registry *Registry) *Executor {
	return &Executor{registry: registry}
}

// Execute runs a query by name against targetID.
func (e *Executor) Execute(ctx context.Context, targetID, queryName string, args any) (any, error) {
	if targetID == "" {
		return nil, errors.New("target ID is required")
	}
	if queryName == "" {
		return nil, errors.New("query name is required")
	}

	handler, exists := e.registry.Get(queryName)
	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrQueryNotFound, queryName)
	}
	return handler(ctx, targetID, args)
}

// Result wraps a query outcome with metadata, used by ExecuteMultiple.
type Result struct {
	QueryName string `json:"query_name"`
	TargetID  string `json:"target_id"`
	Value     any    `json:"value"`
	Error     string `json:"error,omitempty"`
}

// ExecuteMultiple runs several named queries against one target, collecting
// both successes and failures rather than stopping at the first error.
func (e *Executor) ExecuteMultiple(ctx context.Context, targetID string, queries map[string]any) []Result {
	results := make([]Result, 0, len(queries))
	for queryName, args := range queries {
		result := Result{QueryName: queryName, TargetID: targetID}
		value, err := e.Execute(ctx, targetID, queryName, args)
		if err != nil {
			result.Error = err.Error()
		} else {
			result.Value = value
		}
		results = append(results, result)
	}
	return results
}
