package saga

import (
	"context"
	"fmt"

	"github.com/tracseq/txcore/pkg/txcore/registry"
)

// StepHandler is what a participating service exposes for one saga step:
// a forward command and, optionally, its compensation. Both must be
// idempotent over repeated invocation with the same idempotencyKey (spec
// section 6.4): the orchestrator derives it as
// (saga_id, step_name, attempt_count), so each retry carries a new key and
// a call repeated with the same attempt_count carries the same one; a
// service that has already executed a key returns its cached result rather
// than re-applying the effect. A
// Compensate call on a step that never ran must be a safe no-op.
type StepHandler interface {
	// Execute runs the step's forward command against the accumulated saga
	// context, returning the fragment to merge into context under the step
	// name.
	Execute(ctx context.Context, sagaContext map[string]any, idempotencyKey string) (any, error)

	// Compensate reverses a previously-completed step. Called only for
	// steps that have a compensation command configured.
	Compensate(ctx context.Context, sagaContext map[string]any, idempotencyKey string) error
}

// StepHandlerFunc pairs of plain functions, for steps whose compensation is
// trivial or absent.
type StepHandlerFunc struct {
	ExecuteFunc    func(ctx context.Context, sagaContext map[string]any, idempotencyKey string) (any, error)
	CompensateFunc func(ctx context.Context, sagaContext map[string]any, idempotencyKey string) error
}

func (f StepHandlerFunc) Execute(ctx context.Context, sagaContext map[string]any, idempotencyKey string) (any, error) {
	return f.ExecuteFunc(ctx, sagaContext, idempotencyKey)
}

func (f StepHandlerFunc) Compensate(ctx context.Context, sagaContext map[string]any, idempotencyKey string) error {
	if f.CompensateFunc == nil {
		return nil
	}
	return f.CompensateFunc(ctx, sagaContext, idempotencyKey)
}

// handlerKey identifies a step handler by (service, command), exactly as
// spec section 4.5.2 resolves "the step handler for (service, command)".
func handlerKey(service, command string) string {
	return service + ":" + command
}

// HandlerRegistry maps (service, command) to a StepHandler, built on
// txcore/registry.Registry the same way the circuit breaker manager and
// saga definition registry are.
type HandlerRegistry struct {
	reg *registry.Registry[string, StepHandler]
}

func NewHandlerRegistry() *HandlerRegistry {
	return &HandlerRegistry{reg: registry.New[string, StepHandler]()}
}

func (r *HandlerRegistry) Register(service, command string, handler StepHandler) {
	r.reg.Register(handlerKey(service, command), handler)
}

func (r *HandlerRegistry) Resolve(service, command string) (StepHandler, error) {
	h, ok := r.reg.Get(handlerKey(service, command))
	if !ok {
		return nil, fmt.Errorf("no step handler registered for %s/%s", service, command)
	}
	return h, nil
}
