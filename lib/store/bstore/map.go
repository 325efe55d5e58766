package bstore

import (
	"errors"

	"github.com/ValentinKolb/depstore/lib/store"
	bolt "go.etcd.io/bbolt"
)

// boltMap is the store.IMap view of one bucket
type boltMap struct {
	s      *Store
	name   string
	bucket []byte
}

func (m *boltMap) Name() string {
	return m.name
}

// errOperate carries an error returned by a DecisionFunc out of the bolt
// transaction, so it can be told apart from storage errors.
type errOperate struct{ err error }

func (e errOperate) Error() string { return e.err.Error() }

func (m *boltMap) wrap(msg string, err error) error {
	if errors.Is(err, bolt.ErrDatabaseNotOpen) || m.s.closed.Load() {
		return store.WrapError(store.RetCClosed, m.name, msg, store.ErrClosed)
	}
	return store.WrapError(store.RetCIO, m.name, msg, err)
}

func (m *boltMap) Get(key []byte) ([]byte, bool, error) {
	if m.s.closed.Load() {
		return nil, false, m.wrap("get", store.ErrClosed)
	}
	var (
		value  []byte
		loaded bool
	)
	err := m.s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(m.bucket).Get(key)
		if v != nil {
			// bolt values are only valid inside the transaction
			value = make([]byte, len(v))
			copy(value, v)
			loaded = true
		}
		return nil
	})
	if err != nil {
		return nil, false, m.wrap("get", err)
	}
	return value, loaded, nil
}

func (m *boltMap) Has(key []byte) (bool, error) {
	if m.s.closed.Load() {
		return false, m.wrap("has", store.ErrClosed)
	}
	var found bool
	err := m.s.db.View(func(tx *bolt.Tx) error {
		found = tx.Bucket(m.bucket).Get(key) != nil
		return nil
	})
	if err != nil {
		return false, m.wrap("has", err)
	}
	return found, nil
}

func (m *boltMap) Put(key, value []byte) error {
	_, err := m.Operate(key, func(_ []byte, _ bool) (store.Decision, []byte, error) {
		return store.DecisionPut, value, nil
	})
	return err
}

func (m *boltMap) Delete(key []byte) error {
	_, err := m.Operate(key, func(_ []byte, loaded bool) (store.Decision, []byte, error) {
		if !loaded {
			return store.DecisionAbort, nil, nil
		}
		return store.DecisionRemove, nil, nil
	})
	return err
}

// Operate runs fn inside a bolt write transaction. Bolt admits a single
// writer at a time, which makes the read-decide-write sequence atomic.
// An aborted decision rolls the transaction back so nothing is written.
func (m *boltMap) Operate(key []byte, fn store.DecisionFunc) ([]byte, error) {
	if m.s.closed.Load() {
		return nil, m.wrap("operate", store.ErrClosed)
	}

	var (
		applied []byte
		wrote   bool
	)
	errAbort := errors.New("abort")

	err := m.s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(m.bucket)
		var existing []byte
		loaded := false
		if v := b.Get(key); v != nil {
			existing = make([]byte, len(v))
			copy(existing, v)
			loaded = true
		}

		decision, value, err := fn(existing, loaded)
		if err != nil {
			return errOperate{err}
		}

		switch decision {
		case store.DecisionPut:
			if value == nil {
				value = []byte{}
			}
			if err := b.Put(key, value); err != nil {
				return err
			}
			applied = make([]byte, len(value))
			copy(applied, value)
			wrote = true
			return nil
		case store.DecisionRemove:
			if !loaded {
				return errAbort
			}
			if err := b.Delete(key); err != nil {
				return err
			}
			wrote = true
			return nil
		default:
			applied = existing
			return errAbort
		}
	})

	var opErr errOperate
	switch {
	case err == nil:
	case errors.Is(err, errAbort):
	case errors.As(err, &opErr):
		return nil, opErr.err
	default:
		return nil, m.wrap("operate", err)
	}

	if wrote {
		m.s.version.Add(1)
	}
	return applied, nil
}

// Keys iterates over a snapshot of the keys taken in one read transaction.
func (m *boltMap) Keys(fn func(key []byte) bool) error {
	if m.s.closed.Load() {
		return m.wrap("keys", store.ErrClosed)
	}
	var keys [][]byte
	err := m.s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(m.bucket).ForEach(func(k, _ []byte) error {
			kc := make([]byte, len(k))
			copy(kc, k)
			keys = append(keys, kc)
			return nil
		})
	})
	if err != nil {
		return m.wrap("keys", err)
	}
	for _, k := range keys {
		if !fn(k) {
			break
		}
	}
	return nil
}

func (m *boltMap) Len() (int, error) {
	if m.s.closed.Load() {
		return 0, m.wrap("len", store.ErrClosed)
	}
	var n int
	err := m.s.db.View(func(tx *bolt.Tx) error {
		n = tx.Bucket(m.bucket).Stats().KeyN
		return nil
	})
	if err != nil {
		return 0, m.wrap("len", err)
	}
	return n, nil
}
