package store

import "fmt"

// CommitBatch inserts all buffered data from a BatchedStore into SQLite
// within a single transaction. Fake (negative) unit IDs are remapped to
// real IDs, and dependency and method rows are rewritten using the
// fakeToReal mapping.
//
// Insert order respects FK dependencies:
//  1. Units (depend on session_id only, which is already real)
//  2. Dependencies (depend on unit_id)
//  3. Methods (depend on unit_id)
func (s *Store) CommitBatch(batch *BatchedStore) error {
	batch.mu.Lock()
	defer batch.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("commit batch: begin: %w", err)
	}
	defer tx.Rollback()

	fakeToReal := make(map[int64]int64)
	remap := func(id int64) (int64, error) {
		if id >= 0 {
			return id, nil
		}
		realID, ok := fakeToReal[id]
		if !ok {
			return 0, fmt.Errorf("unknown unit id %d", id)
		}
		return realID, nil
	}

	// 1. Units
	for _, u := range batch.Units {
		realID, err := insertUnitTx(tx, &u)
		if err != nil {
			return fmt.Errorf("commit batch: unit %q: %w", u.Name, err)
		}
		fakeToReal[u.ID] = realID
	}

	// 2. Dependencies
	for _, d := range batch.Dependencies {
		if d.UnitID, err = remap(d.UnitID); err != nil {
			return fmt.Errorf("commit batch: dependency %d: %w", d.Ordinal, err)
		}
		if _, err := insertDependencyTx(tx, &d); err != nil {
			return fmt.Errorf("commit batch: dependency %d: %w", d.Ordinal, err)
		}
	}

	// 3. Methods
	for _, m := range batch.Methods {
		if m.UnitID, err = remap(m.UnitID); err != nil {
			return fmt.Errorf("commit batch: method %q: %w", m.Ref, err)
		}
		if _, err := insertMethodTx(tx, &m); err != nil {
			return fmt.Errorf("commit batch: method %q: %w", m.Ref, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit batch: %w", err)
	}
	batch.Units, batch.Dependencies, batch.Methods = nil, nil, nil
	return nil
}
