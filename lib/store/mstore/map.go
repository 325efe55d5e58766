package mstore

import (
	"github.com/ValentinKolb/depstore/lib/store"
	"github.com/ValentinKolb/depstore/lib/store/mstore/internal"
)

// memMap is the store.IMap view of one table
type memMap struct {
	s *Store
	t *internal.Table
}

func (m *memMap) Name() string {
	return m.t.Name
}

func (m *memMap) closedErr() error {
	return store.WrapError(store.RetCClosed, m.t.Name, "", store.ErrClosed)
}

// Get returns a copy of the stored value.
//
// Thread-safety: This method is thread-safe and can be called concurrently.
func (m *memMap) Get(key []byte) ([]byte, bool, error) {
	if m.s.closed.Load() {
		return nil, false, m.closedErr()
	}
	k := string(key)
	e, ok := m.t.ShardFor(k).Data.Load(k)
	if !ok {
		return nil, false, nil
	}
	value := make([]byte, len(e.Value))
	copy(value, e.Value)
	return value, true, nil
}

func (m *memMap) Has(key []byte) (bool, error) {
	if m.s.closed.Load() {
		return false, m.closedErr()
	}
	k := string(key)
	_, ok := m.t.ShardFor(k).Data.Load(k)
	return ok, nil
}

func (m *memMap) Put(key, value []byte) error {
	_, err := m.Operate(key, func(_ []byte, _ bool) (store.Decision, []byte, error) {
		return store.DecisionPut, value, nil
	})
	return err
}

func (m *memMap) Delete(key []byte) error {
	_, err := m.Operate(key, func(_ []byte, loaded bool) (store.Decision, []byte, error) {
		if !loaded {
			return store.DecisionAbort, nil, nil
		}
		return store.DecisionRemove, nil, nil
	})
	return err
}

// Operate runs fn inside xsync's Compute for the key, which serializes all
// operations on the same key. The commit lock is held shared for the
// duration so a concurrent Commit sees either all or nothing of it.
//
// Thread-safety: This method is thread-safe and can be called concurrently.
func (m *memMap) Operate(key []byte, fn store.DecisionFunc) ([]byte, error) {
	m.s.commitMu.RLock()
	defer m.s.commitMu.RUnlock()

	if m.s.closed.Load() {
		return nil, m.closedErr()
	}

	k := string(key)
	var (
		applied []byte
		fnErr   error
	)

	m.t.ShardFor(k).Data.Compute(k, func(old internal.Entry, loaded bool) (internal.Entry, bool) {
		var existing []byte
		if loaded {
			existing = make([]byte, len(old.Value))
			copy(existing, old.Value)
		}

		decision, value, err := fn(existing, loaded)
		if err != nil {
			fnErr = err
			// keep the old entry, or create nothing if there was none
			return old, !loaded
		}

		switch decision {
		case store.DecisionPut:
			// Copy value to prevent memory corruption
			valueCopy := make([]byte, len(value))
			copy(valueCopy, value)

			var oldSize int64
			if loaded {
				oldSize = old.Size(k)
			}
			entry := internal.Entry{Value: valueCopy, Version: m.s.version.Load() + 1}
			m.s.recordWrite(oldSize, entry.Size(k), loaded)

			applied = make([]byte, len(valueCopy))
			copy(applied, valueCopy)
			return entry, false

		case store.DecisionRemove:
			if loaded {
				m.s.recordDelete(old.Size(k))
			}
			return old, true

		default:
			// abort: no write, no version bump
			applied = existing
			return old, !loaded
		}
	})

	if fnErr != nil {
		return nil, fnErr
	}
	return applied, nil
}

func (m *memMap) Keys(fn func(key []byte) bool) error {
	if m.s.closed.Load() {
		return m.closedErr()
	}
	m.t.Range(func(key string, _ internal.Entry) bool {
		return fn([]byte(key))
	})
	return nil
}

func (m *memMap) Len() (int, error) {
	if m.s.closed.Load() {
		return 0, m.closedErr()
	}
	return m.t.Len(), nil
}
