// Package store implements skladbot persistence on SQLite: operator
// accounts and the pending-confirmation queue that links payments to the
// follow-up customer order flow.
package store

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/mattn/go-sqlite3"
	"go.uber.org/zap"
)

// ErrDuplicate is returned when an insert violates a uniqueness constraint
// (operator phone numbers are unique).
var ErrDuplicate = errors.New("store: duplicate record")

// ErrNotFound is returned when a lookup matches no row.
var ErrNotFound = errors.New("store: not found")

// Store wraps the SQLite database.
type Store struct {
	db     *sql.DB
	logger *zap.Logger
}

// Open initializes the SQLite database at path, creating the schema when
// needed. ":memory:" is supported for tests.
func Open(path string, logger *zap.Logger) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// Single writer. The bot serializes per-chat work anyway and SQLite
	// locks the whole file on write.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	for _, pragma := range []string{
		"PRAGMA busy_timeout = 5000",
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA foreign_keys = ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			logger.Debug("pragma failed", zap.String("pragma", pragma), zap.Error(err))
		}
	}

	s := &Store{db: db, logger: logger}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	logger.Info("store opened", zap.String("path", path))
	return s, nil
}

func (s *Store) initSchema() error {
	_, err := s.db.Exec(`
CREATE TABLE IF NOT EXISTS operators (
    id         INTEGER PRIMARY KEY AUTOINCREMENT,
    phone      TEXT UNIQUE NOT NULL,
    name       TEXT NOT NULL,
    password   TEXT NOT NULL,
    created_at TEXT DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS confirms (
    id                INTEGER PRIMARY KEY AUTOINCREMENT,
    operator_id       INTEGER NOT NULL,
    brand             TEXT NOT NULL,
    client_name       TEXT DEFAULT '',
    phone_plus        TEXT DEFAULT '',
    counterparty_meta TEXT NOT NULL,
    status            TEXT NOT NULL DEFAULT 'OPEN',
    created_at        TEXT DEFAULT (datetime('now')),
    done_at           TEXT DEFAULT NULL,
    FOREIGN KEY(operator_id) REFERENCES operators(id)
);

CREATE INDEX IF NOT EXISTS idx_confirms_operator_status
    ON confirms(operator_id, status);
`)
	return err
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB exposes the underlying handle for maintenance tooling.
func (s *Store) DB() *sql.DB {
	return s.db
}

func isUniqueViolation(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.Code == sqlite3.ErrConstraint
	}
	return false
}
