package store

import (
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

// Store is the SQLite data access layer for persisted analysis results.
type Store struct {
	db *sql.DB
}

// NewStore opens a SQLite database at dbPath with WAL mode enabled.
func NewStore(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_foreign_keys=ON&_busy_timeout=30000")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB returns the underlying *sql.DB for use in transactions.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Migrate creates all tables and indexes. Idempotent.
func (s *Store) Migrate() error {
	_, err := s.db.Exec(schemaDDL)
	if err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}

const schemaDDL = `
CREATE TABLE IF NOT EXISTS sessions (
  id              TEXT PRIMARY KEY,
  label           TEXT,
  started_at      TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS units (
  id              INTEGER PRIMARY KEY,
  session_id      TEXT NOT NULL REFERENCES sessions(id),
  name            TEXT NOT NULL,
  hash            TEXT NOT NULL,
  blob            BLOB NOT NULL,
  analyzed_at     TIMESTAMP NOT NULL,
  UNIQUE(session_id, name)
);

CREATE TABLE IF NOT EXISTS dependencies (
  id              INTEGER PRIMARY KEY,
  unit_id         INTEGER NOT NULL REFERENCES units(id),
  ordinal         INTEGER NOT NULL,
  kind            TEXT NOT NULL,
  ref             TEXT,
  optional        BOOLEAN DEFAULT FALSE,
  alternatives    TEXT,
  resolved        BOOLEAN DEFAULT FALSE
);

CREATE TABLE IF NOT EXISTS methods (
  id              INTEGER PRIMARY KEY,
  unit_id         INTEGER NOT NULL REFERENCES units(id),
  ref             TEXT NOT NULL,
  weight          INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_units_name ON units(name);
CREATE INDEX IF NOT EXISTS idx_units_session ON units(session_id);
CREATE INDEX IF NOT EXISTS idx_units_hash ON units(hash);
CREATE INDEX IF NOT EXISTS idx_dependencies_unit ON dependencies(unit_id);
CREATE INDEX IF NOT EXISTS idx_methods_unit ON methods(unit_id);
`

// DeleteSession transactionally removes a session and everything recorded
// in it. Deletes in reverse-dependency order to respect FK constraints.
func (s *Store) DeleteSession(sessionID string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	rows, err := tx.Query("SELECT id FROM units WHERE session_id = ?", sessionID)
	if err != nil {
		return fmt.Errorf("query units: %w", err)
	}
	var unitIDs []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return fmt.Errorf("scan unit id: %w", err)
		}
		unitIDs = append(unitIDs, id)
	}
	rows.Close()

	if len(unitIDs) > 0 {
		placeholders := placeholderList(len(unitIDs))
		args := int64sToArgs(unitIDs)
		for _, q := range []string{
			"DELETE FROM methods WHERE unit_id IN (" + placeholders + ")",
			"DELETE FROM dependencies WHERE unit_id IN (" + placeholders + ")",
		} {
			if _, err := tx.Exec(q, args...); err != nil {
				return fmt.Errorf("delete unit data: %w", err)
			}
		}
	}

	for _, q := range []string{
		"DELETE FROM units WHERE session_id = ?",
		"DELETE FROM sessions WHERE id = ?",
	} {
		if _, err := tx.Exec(q, sessionID); err != nil {
			return fmt.Errorf("delete session data: %w", err)
		}
	}

	return tx.Commit()
}
