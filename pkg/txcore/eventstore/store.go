// Package eventstore implements the append-only event log (C3): optimistic
// concurrency on append, store-assigned sequence numbers, snapshotting, and
// synchronous in-process handler dispatch after a successful commit.
package eventstore

import (
	"context"
	"time"

	"github.com/tracseq/txcore/pkg/txcore/txevent"
)

// Store is the event-store contract. Every method that touches the log is
// safe for concurrent use; appends are checked with optimistic concurrency
// against expectedVersion, and SQLiteStore additionally serializes all
// appends behind one store-wide mutex.
type Store interface {
	// AppendEvents persists events for aggregateID atomically: either every
	// event is committed or none are. expectedVersion must equal the
	// aggregate's current version (0 for a brand-new aggregate); a mismatch
	// returns *txerr.ConcurrencyConflictError and nothing is persisted.
	// On success, registered handlers whose Handles() include the event's
	// type are invoked synchronously, in append order; a handler error is
	// reported back to the caller as *HandlerError but does not undo the
	// append.
	AppendEvents(ctx context.Context, aggregateID, aggregateType string, expectedVersion int, events []txevent.Event) ([]txevent.Record, error)

	// GetEvents returns every event for aggregateID in version order.
	GetEvents(ctx context.Context, aggregateID string) ([]txevent.Record, error)

	// GetEventsByType returns events of eventType across all aggregates,
	// ordered by sequence_number, for building/repairing projections.
	GetEventsByType(ctx context.Context, eventType string, afterSequence int64, limit int) ([]txevent.Record, error)

	// SaveSnapshot persists a new snapshot for an aggregate. Multiple
	// snapshots per aggregate are retained; callers typically keep only the
	// latest via LatestSnapshot but older ones remain available for audit.
	SaveSnapshot(ctx context.Context, snap Snapshot) error

	// LatestSnapshot returns the most recent snapshot for aggregateID, or
	// nil if none exists.
	LatestSnapshot(ctx context.Context, aggregateID string) (*Snapshot, error)

	// CurrentVersion returns the aggregate's current version (0 if it has
	// no events).
	CurrentVersion(ctx context.Context, aggregateID string) (int, error)

	// Close releases underlying resources.
	Close() error
}

// Snapshot is a point-in-time materialization of an aggregate's state,
// matching spec section 3's Aggregate Snapshot definition.
type Snapshot struct {
	AggregateID string
	Version     int
	Data        []byte
	CreatedAt   time.Time
}

// Replay folds a snapshot (if any) with every event whose version exceeds
// the snapshot's version, producing the current logical state. fold is
// applied once per event in version order; state starts as snap.Data when a
// snapshot exists, or nil otherwise.
func Replay(ctx context.Context, store Store, aggregateID string, fold func(state []byte, rec txevent.Record) ([]byte, error)) ([]byte, int, error) {
	snap, err := store.LatestSnapshot(ctx, aggregateID)
	if err != nil {
		return nil, 0, err
	}

	var state []byte
	minVersion := 0
	if snap != nil {
		state = snap.Data
		minVersion = snap.Version
	}

	events, err := store.GetEvents(ctx, aggregateID)
	if err != nil {
		return nil, 0, err
	}

	version := minVersion
	for _, rec := range events {
		if rec.EventVersion <= minVersion {
			continue
		}
		state, err = fold(state, rec)
		if err != nil {
			return nil, version, err
		}
		version = rec.EventVersion
	}

	return state, version, nil
}
