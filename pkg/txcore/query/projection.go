package query

import (
	"context"
	"sync"

	"github.com/tracseq/txcore/pkg/txcore/txevent"
)

// Projector folds events into a denormalized read model. Project must be
// idempotent over repeated application of the same event_id (a redelivered
// or replayed record must not double-apply). Cursor reports the highest
// sequence_number folded so far so the projector can resume after restart
// instead of replaying the whole log.
type Projector interface {
	Project(ctx context.Context, rec txevent.Record) error
	Cursor() int64
}

// ProjectorFunc adapts a fold function plus external cursor tracking into a
// Projector for simple, single-field projections.
type ProjectorFunc struct {
	Fold func(ctx context.Context, rec txevent.Record) error

	mu       sync.Mutex
	cursor   int64
	seen     map[string]struct{}
}

// NewProjectorFunc wraps fold with event_id-keyed idempotence and cursor
// tracking so callers only need to supply the fold logic.
func NewProjectorFunc(fold func(ctx context.Context, rec txevent.Record) error) *ProjectorFunc {
	return &ProjectorFunc{Fold: fold, seen: make(map[string]struct{})}
}

func (p *ProjectorFunc) Project(ctx context.Context, rec txevent.Record) error {
	p.mu.Lock()
	if _, dup := p.seen[rec.EventID]; dup {
		p.mu.Unlock()
		return nil
	}
	p.mu.Unlock()

	if err := p.Fold(ctx, rec); err != nil {
		return err
	}

	p.mu.Lock()
	p.seen[rec.EventID] = struct{}{}
	if rec.SequenceNumber > p.cursor {
		p.cursor = rec.SequenceNumber
	}
	p.mu.Unlock()
	return nil
}

func (p *ProjectorFunc) Cursor() int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cursor
}

// AsHandler adapts a Projector into a txevent.Handler so it can be
// registered directly against the event store's synchronous dispatch
// (spec section 4.3.3's recommended pattern: in-process handlers forward to
// the bus or, as here, fold straight into a projection).
func AsHandler(p Projector, eventTypes ...string) txevent.Handler {
	return &projectorHandler{projector: p, eventTypes: eventTypes}
}

type projectorHandler struct {
	projector  Projector
	eventTypes []string
}

func (h *projectorHandler) Handle(ctx context.Context, rec txevent.Record) ([]txevent.Record, error) {
	return nil, h.projector.Project(ctx, rec)
}

func (h *projectorHandler) Handles() []string { return h.eventTypes }
