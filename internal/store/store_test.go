package store

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	s, err := NewStore(dbPath)
	require.NoError(t, err)
	require.NoError(t, s.Migrate())
	t.Cleanup(func() { s.Close() })
	return s
}

// insertTestUnit is a helper that inserts a unit and returns it with ID set.
func insertTestUnit(t *testing.T, s DataStore, sessionID, name string) *UnitRecord {
	t.Helper()
	blob := []byte("blob:" + name)
	u := &UnitRecord{
		SessionID:  sessionID,
		Name:       name,
		Hash:       ComputeUnitHash(blob, nil),
		Blob:       blob,
		AnalyzedAt: time.Now().UTC().Truncate(time.Second),
	}
	_, err := s.InsertUnit(u)
	require.NoError(t, err)
	return u
}

// =============================================================================
// Schema & Lifecycle
// =============================================================================

func TestMigrate_AllTablesExist(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)

	for _, table := range []string{"sessions", "units", "dependencies", "methods"} {
		var name string
		err := s.db.QueryRow(
			"SELECT name FROM sqlite_master WHERE type='table' AND name=?", table,
		).Scan(&name)
		require.NoError(t, err, "table %s should exist", table)
		assert.Equal(t, table, name)
	}
}

func TestMigrate_Idempotent(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	// Running migrate again should not error.
	require.NoError(t, s.Migrate())
}

func TestMigrate_WALMode(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	var mode string
	err := s.db.QueryRow("PRAGMA journal_mode").Scan(&mode)
	require.NoError(t, err)
	assert.Equal(t, "wal", mode)
}

// =============================================================================
// Sessions
// =============================================================================

func TestSession_CreateAndList(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)

	a, err := s.NewSession("first")
	require.NoError(t, err)
	b, err := s.NewSession("second")
	require.NoError(t, err)
	assert.NotEqual(t, a.ID, b.ID)
	assert.Len(t, a.ID, 36, "session IDs are UUIDs")

	got, err := s.SessionByID(a.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "first", got.Label)

	all, err := s.Sessions()
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, a.ID, all[0].ID)
	assert.Equal(t, b.ID, all[1].ID)
}

func TestSession_NotFound(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	got, err := s.SessionByID("missing")
	require.NoError(t, err)
	assert.Nil(t, got)
}

// =============================================================================
// Units, dependencies and methods
// =============================================================================

func TestUnit_InsertAndRetrieve(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	sess, err := s.NewSession("")
	require.NoError(t, err)

	u := insertTestUnit(t, s, sess.ID, "test/Client")
	assert.Positive(t, u.ID)

	got, err := s.UnitByName(sess.ID, "test/Client")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, u.Hash, got.Hash)
	assert.Equal(t, u.Blob, got.Blob)

	missing, err := s.UnitByName(sess.ID, "test/Other")
	require.NoError(t, err)
	assert.Nil(t, missing)

	_, err = s.InsertUnit(&UnitRecord{SessionID: sess.ID, Name: "test/Client", Hash: "x", Blob: []byte{1}, AnalyzedAt: time.Now()})
	assert.Error(t, err, "a unit is recorded once per session")
}

func TestUnit_Latest(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	s1, err := s.NewSession("")
	require.NoError(t, err)
	s2, err := s.NewSession("")
	require.NoError(t, err)

	insertTestUnit(t, s, s1.ID, "test/Client")
	second := insertTestUnit(t, s, s2.ID, "test/Client")

	got, err := s.LatestUnit("test/Client")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, second.ID, got.ID)

	units, err := s.UnitsBySession(s1.ID)
	require.NoError(t, err)
	assert.Len(t, units, 1)
}

func TestDependency_OrderAndAlternatives(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	sess, err := s.NewSession("")
	require.NoError(t, err)
	u := insertTestUnit(t, s, sess.ID, "test/Client")

	_, err = s.InsertDependency(&DependencyRecord{UnitID: u.ID, Ordinal: 1, Kind: KindSwitch,
		Ref: "test/Abc.d ()T", Alternatives: []string{"test/Abc.d ()T"}, Resolved: true})
	require.NoError(t, err)
	_, err = s.InsertDependency(&DependencyRecord{UnitID: u.ID, Ordinal: 0, Kind: KindSingle,
		Ref: "test/Abc.c ()T", Optional: true})
	require.NoError(t, err)

	deps, err := s.DependenciesByUnit(u.ID)
	require.NoError(t, err)
	require.Len(t, deps, 2)
	assert.Equal(t, KindSingle, deps[0].Kind)
	assert.True(t, deps[0].Optional)
	assert.Nil(t, deps[0].Alternatives)
	assert.Equal(t, KindSwitch, deps[1].Kind)
	assert.True(t, deps[1].Resolved)
	assert.Equal(t, []string{"test/Abc.d ()T"}, deps[1].Alternatives)
}

func TestMethod_InsertAndQuery(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	sess, err := s.NewSession("")
	require.NoError(t, err)
	u := insertTestUnit(t, s, sess.ID, "test/Client")

	_, err = s.InsertMethod(&MethodRecord{UnitID: u.ID, Ref: "test/Client.a ()V", Weight: -1})
	require.NoError(t, err)
	_, err = s.InsertMethod(&MethodRecord{UnitID: u.ID, Ref: "test/Client.b ()V", Weight: 2})
	require.NoError(t, err)

	methods, err := s.MethodsByUnit(u.ID)
	require.NoError(t, err)
	require.Len(t, methods, 2)
	assert.Equal(t, -1, methods[0].Weight)
	assert.Equal(t, 2, methods[1].Weight)
}

func TestDeleteSession(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	keep, err := s.NewSession("keep")
	require.NoError(t, err)
	drop, err := s.NewSession("drop")
	require.NoError(t, err)

	kept := insertTestUnit(t, s, keep.ID, "test/A")
	dropped := insertTestUnit(t, s, drop.ID, "test/A")
	for _, u := range []*UnitRecord{kept, dropped} {
		_, err := s.InsertDependency(&DependencyRecord{UnitID: u.ID, Kind: KindSingle, Ref: "x/Y.z ()V"})
		require.NoError(t, err)
		_, err = s.InsertMethod(&MethodRecord{UnitID: u.ID, Ref: "test/A.m ()V"})
		require.NoError(t, err)
	}

	require.NoError(t, s.DeleteSession(drop.ID))

	gone, err := s.SessionByID(drop.ID)
	require.NoError(t, err)
	assert.Nil(t, gone)
	deps, err := s.DependenciesByUnit(dropped.ID)
	require.NoError(t, err)
	assert.Empty(t, deps)

	deps, err = s.DependenciesByUnit(kept.ID)
	require.NoError(t, err)
	assert.Len(t, deps, 1)
	methods, err := s.MethodsByUnit(kept.ID)
	require.NoError(t, err)
	assert.Len(t, methods, 1)
}

// =============================================================================
// Hashing
// =============================================================================

func TestUnitHash_Deterministic(t *testing.T) {
	blob := []byte{0xCA, 0xFE}
	h1 := ComputeUnitHash(blob, []string{"required a", "optional b"})
	h2 := ComputeUnitHash(blob, []string{"optional b", "required a"})
	assert.Equal(t, h1, h2, "dependency order does not matter")
	assert.Len(t, h1, 64)
}

func TestUnitHash_Changes(t *testing.T) {
	base := ComputeUnitHash([]byte{1}, []string{"required a"})
	assert.NotEqual(t, base, ComputeUnitHash([]byte{2}, []string{"required a"}))
	assert.NotEqual(t, base, ComputeUnitHash([]byte{1}, []string{"optional a"}))
	assert.NotEqual(t, base, ComputeUnitHash([]byte{1}, nil))
}
