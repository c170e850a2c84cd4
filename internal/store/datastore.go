package store

// DataStore is the interface for recording analysis results. Both Store
// (direct SQLite) and BatchedStore (in-memory buffering until a session
// ends) implement this interface.
type DataStore interface {
	// Inserts; each returns the assigned ID.
	InsertUnit(u *UnitRecord) (int64, error)
	InsertDependency(d *DependencyRecord) (int64, error)
	InsertMethod(m *MethodRecord) (int64, error)

	// UnitByName finds a unit already recorded in a session.
	UnitByName(sessionID, name string) (*UnitRecord, error)
}

// Compile-time check: *Store satisfies DataStore.
var _ DataStore = (*Store)(nil)
