// Package sqlitex provides the TOCTOU-safe database/sql.Open wrapper shared
// by the event store and the saga store, grounded on the teacher's
// checkpoint/sqlite.go: both persistence layers need the same "create the
// file with restrictive permissions before sql.Open ever touches it, then
// enable WAL" sequence, so it lives in one place instead of being
// copy-pasted per package.
package sqlitex

import (
	"database/sql"
	"fmt"
	"log/slog"
	"os"

	_ "modernc.org/sqlite"
)

// Open creates (if needed) and opens a SQLite database at path with
// restrictive 0600 permissions and WAL mode enabled. path may be ":memory:"
// for ephemeral stores used in tests.
func Open(path string) (*sql.DB, error) {
	if path != ":memory:" {
		if _, err := os.Stat(path); os.IsNotExist(err) {
			f, createErr := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0600)
			if createErr == nil {
				if closeErr := f.Close(); closeErr != nil {
					slog.Warn("failed to close database file after creation", slog.String("path", path), slog.String("error", closeErr.Error()))
				}
			}
			// ignore createErr: the file may have been created concurrently
			// between Stat and OpenFile (TOCTOU); sql.Open below surfaces
			// any real failure.
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}

	if path != ":memory:" {
		if err := os.Chmod(path, 0600); err != nil {
			slog.Warn("failed to set restrictive permissions on database file",
				slog.String("path", path), slog.String("error", err.Error()),
				slog.String("security_note", "database file may be readable by other users"))
		}
	}

	return db, nil
}
