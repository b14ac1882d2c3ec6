package txevent

import "context"

// Handler processes a persisted Record. Handlers registered with the event
// store run synchronously, in-process, immediately after a successful
// append; they must be idempotent since a crash between persist and
// dispatch can cause the same record to be handed to a handler again during
// catch-up.
type Handler interface {
	// Handle processes a record and may return derived events for fan-out.
	Handle(ctx context.Context, rec Record) ([]Record, error)

	// Handles returns the event types this handler accepts. An empty slice
	// means "all types".
	Handles() []string
}

// HandlerFunc adapts a plain function to Handler, accepting every event type.
type HandlerFunc func(ctx context.Context, rec Record) ([]Record, error)

func (f HandlerFunc) Handle(ctx context.Context, rec Record) ([]Record, error) { return f(ctx, rec) }
func (f HandlerFunc) Handles() []string                                       { return nil }

// Middleware wraps a Handler to add cross-cutting behavior (logging,
// metrics, retry, recovery).
type Middleware func(next Handler) Handler

// Chain applies middleware in order, with the first middleware outermost.
func Chain(handler Handler, mw ...Middleware) Handler {
	for i := len(mw) - 1; i >= 0; i-- {
		handler = mw[i](handler)
	}
	return handler
}

// Accepts reports whether a handler declares interest in eventType.
func Accepts(h Handler, eventType string) bool {
	types := h.Handles()
	if len(types) == 0 {
		return true
	}
	for _, t := range types {
		if t == eventType {
			return true
		}
	}
	return false
}
