package eventstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/tracseq/txcore/pkg/txcore/observability"
	"github.com/tracseq/txcore/pkg/txcore/sqlitex"
	"github.com/tracseq/txcore/pkg/txcore/txerr"
	"github.com/tracseq/txcore/pkg/txcore/txevent"
)

// SQLiteStore persists events and snapshots to SQLite. It is suitable for
// single-process production use; the schema matches spec section 6.1:
// an events table keyed by event_id with a unique (aggregate_id,
// event_version) constraint and indexes on aggregate_id/event_type/
// created_at, plus a snapshots table.
type SQLiteStore struct {
	db      *sql.DB
	mu      sync.Mutex // serializes append transactions store-wide for sequence_number assignment
	closed  bool
	logger  *slog.Logger
	metrics observability.MetricsRecorder

	handlersMu sync.RWMutex
	handlers   []txevent.Handler

	dispatchRetry txerr.RetryConfig
	dispatchTimeout time.Duration
}

// Option configures a SQLiteStore.
type Option func(*SQLiteStore)

func WithLogger(logger *slog.Logger) Option { return func(s *SQLiteStore) { s.logger = logger } }
func WithMetrics(m observability.MetricsRecorder) Option {
	return func(s *SQLiteStore) { s.metrics = m }
}
func WithDispatchRetry(cfg txerr.RetryConfig) Option {
	return func(s *SQLiteStore) { s.dispatchRetry = cfg }
}
func WithDispatchTimeout(d time.Duration) Option {
	return func(s *SQLiteStore) { s.dispatchTimeout = d }
}

// NewSQLiteStore opens (creating if necessary) a SQLite-backed event store
// at path. Use ":memory:" for ephemeral stores in tests.
func NewSQLiteStore(path string, opts ...Option) (*SQLiteStore, error) {
	db, err := sqlitex.Open(path)
	if err != nil {
		return nil, err
	}

	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS events (
			event_id        TEXT PRIMARY KEY,
			aggregate_id    TEXT NOT NULL,
			aggregate_type  TEXT NOT NULL,
			event_type      TEXT NOT NULL,
			event_version   INTEGER NOT NULL,
			sequence_number INTEGER NOT NULL,
			payload         BLOB NOT NULL,
			metadata        BLOB NOT NULL,
			created_at      TEXT NOT NULL,
			UNIQUE (aggregate_id, event_version)
		)
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("create events table: %w", err)
	}

	for _, stmt := range []string{
		`CREATE INDEX IF NOT EXISTS idx_events_aggregate_id ON events(aggregate_id)`,
		`CREATE INDEX IF NOT EXISTS idx_events_event_type ON events(event_type)`,
		`CREATE INDEX IF NOT EXISTS idx_events_created_at ON events(created_at)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_events_sequence ON events(sequence_number)`,
	} {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("create index: %w", err)
		}
	}

	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS snapshots (
			aggregate_id TEXT NOT NULL,
			version      INTEGER NOT NULL,
			data         BLOB NOT NULL,
			created_at   TEXT NOT NULL,
			PRIMARY KEY (aggregate_id, version)
		)
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("create snapshots table: %w", err)
	}

	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS event_sequence (id INTEGER PRIMARY KEY CHECK (id = 1), next INTEGER NOT NULL)`); err != nil {
		db.Close()
		return nil, fmt.Errorf("create sequence table: %w", err)
	}
	if _, err := db.Exec(`INSERT OR IGNORE INTO event_sequence (id, next) VALUES (1, 1)`); err != nil {
		db.Close()
		return nil, fmt.Errorf("seed sequence table: %w", err)
	}

	s := &SQLiteStore{
		db:              db,
		dispatchRetry:   txerr.DefaultRetry,
		dispatchTimeout: 10 * time.Second,
		metrics:         observability.NoopMetrics{},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// RegisterHandler adds a handler invoked synchronously after every
// successful append whose event type it accepts.
func (s *SQLiteStore) RegisterHandler(h txevent.Handler) {
	s.handlersMu.Lock()
	defer s.handlersMu.Unlock()
	s.handlers = append(s.handlers, h)
}

// CurrentVersion returns the latest event_version recorded for aggregateID.
func (s *SQLiteStore) CurrentVersion(ctx context.Context, aggregateID string) (int, error) {
	var version sql.NullInt64
	err := s.db.QueryRowContext(ctx, `SELECT MAX(event_version) FROM events WHERE aggregate_id = ?`, aggregateID).Scan(&version)
	if err != nil {
		return 0, &txerr.EventStoreError{Op: "current_version", Err: err}
	}
	return int(version.Int64), nil
}

// AppendEvents persists events atomically under expectedVersion's optimistic
// concurrency check, assigns sequence_number for each, and dispatches to
// registered handlers after commit.
func (s *SQLiteStore) AppendEvents(ctx context.Context, aggregateID, aggregateType string, expectedVersion int, events []txevent.Event) ([]txevent.Record, error) {
	if len(events) == 0 {
		return nil, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, &txerr.EventStoreError{Op: "append", Err: errors.New("store closed")}
	}

	start := time.Now()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, &txerr.EventStoreError{Op: "begin_tx", Err: err}
	}
	defer tx.Rollback()

	var actual sql.NullInt64
	if err := tx.QueryRowContext(ctx, `SELECT MAX(event_version) FROM events WHERE aggregate_id = ?`, aggregateID).Scan(&actual); err != nil {
		return nil, &txerr.EventStoreError{Op: "read_version", Err: err}
	}
	if int(actual.Int64) != expectedVersion {
		return nil, &txerr.ConcurrencyConflictError{AggregateID: aggregateID, ExpectedVersion: expectedVersion, ActualVersion: int(actual.Int64)}
	}

	var next int64
	if err := tx.QueryRowContext(ctx, `SELECT next FROM event_sequence WHERE id = 1`).Scan(&next); err != nil {
		return nil, &txerr.EventStoreError{Op: "read_sequence", Err: err}
	}

	records := make([]txevent.Record, 0, len(events))
	for i, evt := range events {
		rec, err := txevent.NewPendingRecord(evt)
		if err != nil {
			return nil, &txerr.EventStoreError{Op: "encode", Err: err}
		}
		if want := expectedVersion + 1 + i; rec.EventVersion != want {
			return nil, &txerr.ValidationError{Field: "event_version", Message: fmt.Sprintf("event %d has version %d, want %d", i, rec.EventVersion, want)}
		}
		rec.SequenceNumber = next + int64(i)

		metaBytes, err := json.Marshal(rec.Metadata)
		if err != nil {
			return nil, &txerr.EventStoreError{Op: "encode_metadata", Err: err}
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO events (event_id, aggregate_id, aggregate_type, event_type, event_version, sequence_number, payload, metadata, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, rec.EventID, aggregateID, aggregateType, rec.EventType, rec.EventVersion, rec.SequenceNumber, []byte(rec.Payload), metaBytes, rec.CreatedAt.UTC().Format(time.RFC3339Nano))
		if err != nil {
			return nil, &txerr.EventStoreError{Op: "insert", Err: err}
		}
		records = append(records, rec)
	}

	if _, err := tx.ExecContext(ctx, `UPDATE event_sequence SET next = ? WHERE id = 1`, next+int64(len(events))); err != nil {
		return nil, &txerr.EventStoreError{Op: "advance_sequence", Err: err}
	}

	if err := tx.Commit(); err != nil {
		return nil, &txerr.EventStoreError{Op: "commit", Err: err}
	}

	s.metrics.RecordAppend(ctx, aggregateType, len(records), time.Since(start))

	if handlerErr := s.dispatch(ctx, records); handlerErr != nil {
		return records, handlerErr
	}

	return records, nil
}

// dispatch runs every registered handler against every newly-committed
// record, in order. Handler failures are logged and the first one is
// returned as *HandlerError; they never roll back the already-committed
// append, so the caller still receives the persisted records alongside the
// error.
func (s *SQLiteStore) dispatch(ctx context.Context, records []txevent.Record) error {
	s.handlersMu.RLock()
	handlers := append([]txevent.Handler(nil), s.handlers...)
	s.handlersMu.RUnlock()

	var first *HandlerError
	for _, rec := range records {
		for _, h := range handlers {
			if !txevent.Accepts(h, rec.EventType) {
				continue
			}
			dispatchCtx, cancel := context.WithTimeout(ctx, s.dispatchTimeout)
			result := txerr.WithRetryContext(dispatchCtx, s.dispatchRetry, func(ctx context.Context) (struct{}, error) {
				_, err := h.Handle(ctx, rec)
				return struct{}{}, err
			})
			cancel()
			if result.Err != nil {
				observability.LogHandlerError(s.logger, rec.EventType, result.Err)
				if first == nil {
					first = &HandlerError{EventType: rec.EventType, EventID: rec.EventID, Err: result.Err}
				}
			}
		}
	}
	if first != nil {
		return first
	}
	return nil
}

// GetEvents returns every event for aggregateID ordered by version.
func (s *SQLiteStore) GetEvents(ctx context.Context, aggregateID string) ([]txevent.Record, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT event_id, aggregate_id, aggregate_type, event_type, event_version, sequence_number, payload, metadata, created_at
		FROM events WHERE aggregate_id = ? ORDER BY event_version ASC
	`, aggregateID)
	if err != nil {
		return nil, &txerr.EventStoreError{Op: "get_events", Err: err}
	}
	defer rows.Close()
	return scanRecords(rows)
}

// GetEventsByType returns events of eventType with sequence_number greater
// than afterSequence, ordered by sequence_number, bounded by limit.
func (s *SQLiteStore) GetEventsByType(ctx context.Context, eventType string, afterSequence int64, limit int) ([]txevent.Record, error) {
	if limit <= 0 {
		limit = 1000
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT event_id, aggregate_id, aggregate_type, event_type, event_version, sequence_number, payload, metadata, created_at
		FROM events WHERE event_type = ? AND sequence_number > ? ORDER BY sequence_number ASC LIMIT ?
	`, eventType, afterSequence, limit)
	if err != nil {
		return nil, &txerr.EventStoreError{Op: "get_events_by_type", Err: err}
	}
	defer rows.Close()
	return scanRecords(rows)
}

func scanRecords(rows *sql.Rows) ([]txevent.Record, error) {
	var records []txevent.Record
	for rows.Next() {
		var rec txevent.Record
		var payload, metaBytes []byte
		var createdAt string
		if err := rows.Scan(&rec.EventID, &rec.AggregateID, &rec.AggregateType, &rec.EventType, &rec.EventVersion, &rec.SequenceNumber, &payload, &metaBytes, &createdAt); err != nil {
			return nil, &txerr.EventStoreError{Op: "scan", Err: err}
		}
		rec.Payload = payload
		if err := json.Unmarshal(metaBytes, &rec.Metadata); err != nil {
			return nil, &txerr.EventStoreError{Op: "decode_metadata", Err: err}
		}
		ts, err := time.Parse(time.RFC3339Nano, createdAt)
		if err != nil {
			return nil, &txerr.EventStoreError{Op: "decode_created_at", Err: err}
		}
		rec.CreatedAt = ts
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, &txerr.EventStoreError{Op: "iterate", Err: err}
	}
	return records, nil
}

// SaveSnapshot persists a new snapshot; multiple snapshots per aggregate are
// retained.
func (s *SQLiteStore) SaveSnapshot(ctx context.Context, snap Snapshot) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO snapshots (aggregate_id, version, data, created_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (aggregate_id, version) DO UPDATE SET data = excluded.data, created_at = excluded.created_at
	`, snap.AggregateID, snap.Version, snap.Data, snap.CreatedAt.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return &txerr.EventStoreError{Op: "save_snapshot", Err: err}
	}
	return nil
}

// LatestSnapshot returns the highest-version snapshot for aggregateID.
func (s *SQLiteStore) LatestSnapshot(ctx context.Context, aggregateID string) (*Snapshot, error) {
	var snap Snapshot
	var createdAt string
	err := s.db.QueryRowContext(ctx, `
		SELECT aggregate_id, version, data, created_at FROM snapshots
		WHERE aggregate_id = ? ORDER BY version DESC LIMIT 1
	`, aggregateID).Scan(&snap.AggregateID, &snap.Version, &snap.Data, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, &txerr.EventStoreError{Op: "latest_snapshot", Err: err}
	}
	snap.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt)
	if err != nil {
		return nil, &txerr.EventStoreError{Op: "decode_snapshot_created_at", Err: err}
	}
	return &snap, nil
}

// Close releases the underlying database handle.
func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}

var _ Store = (*SQLiteStore)(nil)
