package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// --- Session operations ---

// NewSession starts a session with a fresh ID.
func (s *Store) NewSession(label string) (*Session, error) {
	sess := &Session{ID: uuid.NewString(), Label: label, StartedAt: time.Now().UTC().Truncate(time.Second)}
	if _, err := s.db.Exec(
		"INSERT INTO sessions (id, label, started_at) VALUES (?, ?, ?)",
		sess.ID, sess.Label, sess.StartedAt,
	); err != nil {
		return nil, fmt.Errorf("insert session: %w", err)
	}
	return sess, nil
}

func (s *Store) SessionByID(id string) (*Session, error) {
	sess := &Session{}
	err := s.db.QueryRow(
		"SELECT id, label, started_at FROM sessions WHERE id = ?", id,
	).Scan(&sess.ID, &sess.Label, &sess.StartedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("session by id: %w", err)
	}
	return sess, nil
}

// Sessions lists all sessions, oldest first.
func (s *Store) Sessions() ([]*Session, error) {
	rows, err := s.db.Query("SELECT id, label, started_at FROM sessions ORDER BY started_at, rowid")
	if err != nil {
		return nil, fmt.Errorf("sessions: %w", err)
	}
	defer rows.Close()
	var out []*Session
	for rows.Next() {
		sess := &Session{}
		if err := rows.Scan(&sess.ID, &sess.Label, &sess.StartedAt); err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		out = append(out, sess)
	}
	return out, rows.Err()
}

// --- Unit operations ---

type execer interface {
	Exec(query string, args ...any) (sql.Result, error)
}

func insertUnitTx(db execer, u *UnitRecord) (int64, error) {
	res, err := db.Exec(
		"INSERT INTO units (session_id, name, hash, blob, analyzed_at) VALUES (?, ?, ?, ?, ?)",
		u.SessionID, u.Name, u.Hash, u.Blob, u.AnalyzedAt,
	)
	if err != nil {
		return 0, fmt.Errorf("insert unit: %w", err)
	}
	return res.LastInsertId()
}

func (s *Store) InsertUnit(u *UnitRecord) (int64, error) {
	id, err := insertUnitTx(s.db, u)
	if err != nil {
		return 0, err
	}
	u.ID = id
	return id, nil
}

const unitColumns = "id, session_id, name, hash, blob, analyzed_at"

func scanUnit(row interface{ Scan(...any) error }) (*UnitRecord, error) {
	u := &UnitRecord{}
	if err := row.Scan(&u.ID, &u.SessionID, &u.Name, &u.Hash, &u.Blob, &u.AnalyzedAt); err != nil {
		return nil, err
	}
	return u, nil
}

func (s *Store) UnitByName(sessionID, name string) (*UnitRecord, error) {
	u, err := scanUnit(s.db.QueryRow(
		"SELECT "+unitColumns+" FROM units WHERE session_id = ? AND name = ?", sessionID, name,
	))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("unit by name: %w", err)
	}
	return u, nil
}

// LatestUnit returns the most recently analyzed record of name across all
// sessions.
func (s *Store) LatestUnit(name string) (*UnitRecord, error) {
	u, err := scanUnit(s.db.QueryRow(
		"SELECT "+unitColumns+" FROM units WHERE name = ? ORDER BY analyzed_at DESC, id DESC LIMIT 1", name,
	))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("latest unit: %w", err)
	}
	return u, nil
}

func (s *Store) UnitsBySession(sessionID string) ([]*UnitRecord, error) {
	rows, err := s.db.Query(
		"SELECT "+unitColumns+" FROM units WHERE session_id = ? ORDER BY id", sessionID,
	)
	if err != nil {
		return nil, fmt.Errorf("units by session: %w", err)
	}
	defer rows.Close()
	var out []*UnitRecord
	for rows.Next() {
		u, err := scanUnit(rows)
		if err != nil {
			return nil, fmt.Errorf("scan unit: %w", err)
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

// --- Dependency operations ---

func insertDependencyTx(db execer, d *DependencyRecord) (int64, error) {
	res, err := db.Exec(
		"INSERT INTO dependencies (unit_id, ordinal, kind, ref, optional, alternatives, resolved) VALUES (?, ?, ?, ?, ?, ?, ?)",
		d.UnitID, d.Ordinal, d.Kind, d.Ref, d.Optional, marshalStrings(d.Alternatives), d.Resolved,
	)
	if err != nil {
		return 0, fmt.Errorf("insert dependency: %w", err)
	}
	return res.LastInsertId()
}

func (s *Store) InsertDependency(d *DependencyRecord) (int64, error) {
	id, err := insertDependencyTx(s.db, d)
	if err != nil {
		return 0, err
	}
	d.ID = id
	return id, nil
}

// DependenciesByUnit returns a unit's dependency set in recorded order.
func (s *Store) DependenciesByUnit(unitID int64) ([]*DependencyRecord, error) {
	rows, err := s.db.Query(
		"SELECT id, unit_id, ordinal, kind, ref, optional, alternatives, resolved FROM dependencies WHERE unit_id = ? ORDER BY ordinal",
		unitID,
	)
	if err != nil {
		return nil, fmt.Errorf("dependencies by unit: %w", err)
	}
	defer rows.Close()
	var out []*DependencyRecord
	for rows.Next() {
		d := &DependencyRecord{}
		var alts string
		if err := rows.Scan(&d.ID, &d.UnitID, &d.Ordinal, &d.Kind, &d.Ref, &d.Optional, &alts, &d.Resolved); err != nil {
			return nil, fmt.Errorf("scan dependency: %w", err)
		}
		d.Alternatives = unmarshalStrings(alts)
		out = append(out, d)
	}
	return out, rows.Err()
}

// --- Method operations ---

func insertMethodTx(db execer, m *MethodRecord) (int64, error) {
	res, err := db.Exec(
		"INSERT INTO methods (unit_id, ref, weight) VALUES (?, ?, ?)",
		m.UnitID, m.Ref, m.Weight,
	)
	if err != nil {
		return 0, fmt.Errorf("insert method: %w", err)
	}
	return res.LastInsertId()
}

func (s *Store) InsertMethod(m *MethodRecord) (int64, error) {
	id, err := insertMethodTx(s.db, m)
	if err != nil {
		return 0, err
	}
	m.ID = id
	return id, nil
}

func (s *Store) MethodsByUnit(unitID int64) ([]*MethodRecord, error) {
	rows, err := s.db.Query("SELECT id, unit_id, ref, weight FROM methods WHERE unit_id = ? ORDER BY id", unitID)
	if err != nil {
		return nil, fmt.Errorf("methods by unit: %w", err)
	}
	defer rows.Close()
	var out []*MethodRecord
	for rows.Next() {
		m := &MethodRecord{}
		if err := rows.Scan(&m.ID, &m.UnitID, &m.Ref, &m.Weight); err != nil {
			return nil, fmt.Errorf("scan method: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}
