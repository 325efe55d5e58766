package maplet

import (
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/ValentinKolb/depstore/lib/codec"
	"github.com/ValentinKolb/depstore/lib/store"
	"github.com/VictoriaMetrics/metrics"
)

// --------------------------------------------------------------------------
// Shared base of the store backed maplets
// --------------------------------------------------------------------------

type base[K comparable] struct {
	m      store.IMap
	keys   codec.Externalizer[K]
	set    *metrics.Set
	closed atomic.Bool
}

func (b *base[K]) init(m store.IMap, keys codec.Externalizer[K], set *metrics.Set) {
	if set == nil {
		set = metrics.NewSet()
	}
	b.m, b.keys, b.set = m, keys, set
}

// Name returns the name of the backing map
func (b *base[K]) Name() string {
	return b.m.Name()
}

func (b *base[K]) checkOpen() error {
	if b.closed.Load() {
		return store.WrapError(store.RetCClosed, b.m.Name(), "maplet closed", store.ErrClosed)
	}
	return nil
}

// codecErr wraps a serialization failure so callers can tell it from I/O errors
func (b *base[K]) codecErr(msg string, err error) error {
	var se *store.Error
	if errors.As(err, &se) {
		return err
	}
	return store.WrapError(store.RetCCodec, b.m.Name(), msg, err)
}

func (b *base[K]) encodeKey(key K) ([]byte, error) {
	raw, err := codec.Marshal(b.keys, key)
	if err != nil {
		return nil, b.codecErr(fmt.Sprintf("encode key %v", key), err)
	}
	return raw, nil
}

func (b *base[K]) countMerge(o outcome) {
	b.set.GetOrCreateCounter(fmt.Sprintf(`maplet_merge_total{map=%q,outcome=%q}`, b.m.Name(), o)).Inc()
}

func (b *base[K]) ContainsKey(key K) (bool, error) {
	if err := b.checkOpen(); err != nil {
		return false, err
	}
	raw, err := b.encodeKey(key)
	if err != nil {
		return false, err
	}
	return b.m.Has(raw)
}

func (b *base[K]) Remove(key K) error {
	if err := b.checkOpen(); err != nil {
		return err
	}
	raw, err := b.encodeKey(key)
	if err != nil {
		return err
	}
	return b.m.Delete(raw)
}

func (b *base[K]) Keys(fn func(key K) bool) error {
	if err := b.checkOpen(); err != nil {
		return err
	}
	var decodeErr error
	err := b.m.Keys(func(raw []byte) bool {
		key, err := codec.Unmarshal(b.keys, raw)
		if err != nil {
			decodeErr = b.codecErr("decode key", err)
			return false
		}
		return fn(key)
	})
	if err != nil {
		return err
	}
	return decodeErr
}

// Flush is a no-op: writes go straight to the store, whose owner commits.
func (b *base[K]) Flush() error {
	return b.checkOpen()
}

// Close detaches the maplet; it does not close the store.
func (b *base[K]) Close() error {
	b.closed.Store(true)
	return nil
}

// --------------------------------------------------------------------------
// Store Maplet
// --------------------------------------------------------------------------

// StoreMaplet is a Maplet persisted in a store map
type StoreMaplet[K comparable, V any] struct {
	base[K]
	values codec.Externalizer[V]
}

// New creates a Maplet on m. Keys and values are encoded with the given
// externalizers; merge counters go to set (may be nil).
func New[K comparable, V any](m store.IMap, keys codec.Externalizer[K], values codec.Externalizer[V], set *metrics.Set) *StoreMaplet[K, V] {
	s := &StoreMaplet[K, V]{values: values}
	s.init(m, keys, set)
	return s
}

func (s *StoreMaplet[K, V]) Get(key K) (V, bool, error) {
	var zero V
	if err := s.checkOpen(); err != nil {
		return zero, false, err
	}
	raw, err := s.encodeKey(key)
	if err != nil {
		return zero, false, err
	}
	data, ok, err := s.m.Get(raw)
	if err != nil || !ok {
		return zero, false, err
	}
	value, err := codec.Unmarshal(s.values, data)
	if err != nil {
		return zero, false, s.codecErr(fmt.Sprintf("decode value of %v", key), err)
	}
	return value, true, nil
}

// Put stores value under key. An empty value removes the key.
func (s *StoreMaplet[K, V]) Put(key K, value V) error {
	if IsEmpty(value) {
		return s.Remove(key)
	}
	if err := s.checkOpen(); err != nil {
		return err
	}
	raw, err := s.encodeKey(key)
	if err != nil {
		return err
	}
	data, err := codec.Marshal(s.values, value)
	if err != nil {
		return s.codecErr(fmt.Sprintf("encode value of %v", key), err)
	}
	return s.m.Put(raw, data)
}

var _ Maplet[string, string] = (*StoreMaplet[string, string])(nil)
