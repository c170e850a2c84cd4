package store

import "sync"

// BatchedStore buffers analysis results in memory using fake (negative)
// IDs. It implements DataStore so the engine can record results as units
// finish without knowing whether it is hitting SQLite or a buffer.
//
// Thread safety: the mutex protects fake ID allocation and slice appends.
// UnitByName looks in the buffer first and then passes through to the
// underlying Store.
type BatchedStore struct {
	store *Store // for read passthrough
	mu    sync.Mutex

	Units        []UnitRecord
	Dependencies []DependencyRecord
	Methods      []MethodRecord

	nextFakeID int64 // starts at -1, decrements
}

// Compile-time check: *BatchedStore satisfies DataStore.
var _ DataStore = (*BatchedStore)(nil)

// NewBatchedStore creates a BatchedStore backed by the given Store for read queries.
func NewBatchedStore(s *Store) *BatchedStore {
	return &BatchedStore{
		store:      s,
		nextFakeID: -1,
	}
}

func (b *BatchedStore) allocFakeID() int64 {
	id := b.nextFakeID
	b.nextFakeID--
	return id
}

func (b *BatchedStore) InsertUnit(u *UnitRecord) (int64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	fakeID := b.allocFakeID()
	u.ID = fakeID
	b.Units = append(b.Units, *u)
	return fakeID, nil
}

func (b *BatchedStore) InsertDependency(d *DependencyRecord) (int64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	fakeID := b.allocFakeID()
	d.ID = fakeID
	b.Dependencies = append(b.Dependencies, *d)
	return fakeID, nil
}

func (b *BatchedStore) InsertMethod(m *MethodRecord) (int64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	fakeID := b.allocFakeID()
	m.ID = fakeID
	b.Methods = append(b.Methods, *m)
	return fakeID, nil
}

// UnitByName returns a buffered unit when one matches, else the committed one.
func (b *BatchedStore) UnitByName(sessionID, name string) (*UnitRecord, error) {
	b.mu.Lock()
	for i := range b.Units {
		if b.Units[i].SessionID == sessionID && b.Units[i].Name == name {
			u := b.Units[i]
			b.mu.Unlock()
			return &u, nil
		}
	}
	b.mu.Unlock()
	return b.store.UnitByName(sessionID, name)
}

// Len returns the number of buffered units.
func (b *BatchedStore) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.Units)
}

// Reset drops everything buffered.
func (b *BatchedStore) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.Units, b.Dependencies, b.Methods = nil, nil, nil
}
