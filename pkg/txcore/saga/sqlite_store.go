package saga

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/tracseq/txcore/pkg/txcore/sqlitex"
)

// SQLiteStore is a durable Store, grounded on the same TOCTOU-safe
// WAL-mode sqlitex.Open idiom used by eventstore.SQLiteStore (C3). A saga
// execution is stored as a single JSON-serialized row per saga_id; crash
// recovery only needs ListNonTerminal, which is a cheap status-column scan.
type SQLiteStore struct {
	db *sql.DB
}

func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sqlitex.Open(path)
	if err != nil {
		return nil, err
	}
	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS sagas (
			saga_id    TEXT PRIMARY KEY,
			saga_type  TEXT NOT NULL,
			status     TEXT NOT NULL,
			data       BLOB NOT NULL,
			updated_at TEXT NOT NULL
		)
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("create sagas table: %w", err)
	}
	if _, err := db.Exec(`CREATE INDEX IF NOT EXISTS idx_sagas_status ON sagas(status)`); err != nil {
		db.Close()
		return nil, fmt.Errorf("create status index: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Create(ctx context.Context, exec *Execution) error {
	body, err := json.Marshal(exec)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO sagas (saga_id, saga_type, status, data, updated_at) VALUES (?, ?, ?, ?, ?)
	`, exec.SagaID, exec.SagaType, string(exec.Status), body, exec.UpdatedAt.UTC().Format(time.RFC3339Nano))
	return err
}

func (s *SQLiteStore) Update(ctx context.Context, exec *Execution) error {
	body, err := json.Marshal(exec)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE sagas SET status = ?, data = ?, updated_at = ? WHERE saga_id = ?
	`, string(exec.Status), body, exec.UpdatedAt.UTC().Format(time.RFC3339Nano), exec.SagaID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrExecutionNotFound
	}
	return nil
}

func (s *SQLiteStore) Get(ctx context.Context, sagaID string) (*Execution, error) {
	var body []byte
	err := s.db.QueryRowContext(ctx, `SELECT data FROM sagas WHERE saga_id = ?`, sagaID).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrExecutionNotFound
	}
	if err != nil {
		return nil, err
	}
	var exec Execution
	if err := json.Unmarshal(body, &exec); err != nil {
		return nil, err
	}
	return &exec, nil
}

func (s *SQLiteStore) ListNonTerminal(ctx context.Context) ([]*Execution, error) {
	terminal := []Status{StatusCompleted, StatusCompensated, StatusFailed, StatusTimedOut, StatusCompensationFailed}
	placeholders := ""
	args := make([]any, 0, len(terminal))
	for i, st := range terminal {
		if i > 0 {
			placeholders += ", "
		}
		placeholders += "?"
		args = append(args, string(st))
	}

	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`SELECT data FROM sagas WHERE status NOT IN (%s)`, placeholders), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []*Execution
	for rows.Next() {
		var body []byte
		if err := rows.Scan(&body); err != nil {
			return nil, err
		}
		var exec Execution
		if err := json.Unmarshal(body, &exec); err != nil {
			return nil, err
		}
		result = append(result, &exec)
	}
	return result, rows.Err()
}

func (s *SQLiteStore) Delete(ctx context.Context, sagaID string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM sagas WHERE saga_id = ?`, sagaID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrExecutionNotFound
	}
	return nil
}

func (s *SQLiteStore) Close() error { return s.db.Close() }

var _ Store = (*SQLiteStore)(nil)
