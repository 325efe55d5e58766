package maplet

import (
	"fmt"

	"github.com/ValentinKolb/depstore/lib/codec"
	"github.com/ValentinKolb/depstore/lib/store"
	"github.com/VictoriaMetrics/metrics"
)

// StoreMultiMaplet is a MultiMaplet persisted in a store map. Each key holds
// one record: the element count followed by the elements.
type StoreMultiMaplet[K comparable, V comparable] struct {
	base[K]
	kind   Kind
	ops    kindOps[V]
	values codec.Externalizer[[]V]
}

// NewMulti creates a MultiMaplet of the given kind on m. Elements are
// encoded with elem; merge counters go to set (may be nil).
func NewMulti[K comparable, V comparable](m store.IMap, kind Kind, keys codec.Externalizer[K], elem codec.Externalizer[V], set *metrics.Set) *StoreMultiMaplet[K, V] {
	s := &StoreMultiMaplet[K, V]{
		kind:   kind,
		ops:    opsFor[V](kind),
		values: codec.Collection(elem),
	}
	s.init(m, keys, set)
	return s
}

// Kind returns the collection kind
func (s *StoreMultiMaplet[K, V]) Kind() Kind {
	return s.kind
}

func (s *StoreMultiMaplet[K, V]) Get(key K) (Collection[V], error) {
	if err := s.checkOpen(); err != nil {
		return Collection[V]{}, err
	}
	raw, err := s.encodeKey(key)
	if err != nil {
		return Collection[V]{}, err
	}
	data, ok, err := s.m.Get(raw)
	if err != nil || !ok {
		return Collection[V]{}, err
	}
	values, err := s.decode(key, data)
	if err != nil {
		return Collection[V]{}, err
	}
	return Collection[V]{items: values}, nil
}

// Put replaces the collection of key. Empty values remove the key.
func (s *StoreMultiMaplet[K, V]) Put(key K, values []V) error {
	if len(values) == 0 {
		return s.Remove(key)
	}
	if err := s.checkOpen(); err != nil {
		return err
	}
	raw, err := s.encodeKey(key)
	if err != nil {
		return err
	}
	data, err := s.encode(key, s.ops.normalize(values))
	if err != nil {
		return err
	}
	return s.m.Put(raw, data)
}

func (s *StoreMultiMaplet[K, V]) AppendValue(key K, value V) error {
	return s.merge(key, []V{value}, s.ops.appendTo)
}

func (s *StoreMultiMaplet[K, V]) AppendValues(key K, values []V) error {
	return s.merge(key, values, s.ops.appendTo)
}

func (s *StoreMultiMaplet[K, V]) RemoveValue(key K, value V) error {
	return s.merge(key, []V{value}, s.ops.removeFrom)
}

func (s *StoreMultiMaplet[K, V]) RemoveValues(key K, values []V) error {
	return s.merge(key, values, s.ops.removeFrom)
}

// merge runs decide atomically against the stored collection of key. An
// abort leaves the store untouched.
func (s *StoreMultiMaplet[K, V]) merge(key K, provided []V, decide func(existing, provided []V) ([]V, outcome)) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	// nothing to add or remove: no need to touch the store
	if len(provided) == 0 {
		s.countMerge(outcomeAbort)
		return nil
	}
	raw, err := s.encodeKey(key)
	if err != nil {
		return err
	}

	var result outcome
	_, err = s.m.Operate(raw, func(existing []byte, loaded bool) (store.Decision, []byte, error) {
		var current []V
		if loaded {
			var err error
			if current, err = s.decode(key, existing); err != nil {
				return store.DecisionAbort, nil, err
			}
		}

		values, o := decide(current, provided)
		result = o
		switch o {
		case outcomeWrite:
			data, err := s.encode(key, values)
			if err != nil {
				return store.DecisionAbort, nil, err
			}
			return store.DecisionPut, data, nil
		case outcomeDelete:
			return store.DecisionRemove, nil, nil
		default:
			return store.DecisionAbort, nil, nil
		}
	})
	if err != nil {
		return err
	}
	s.countMerge(result)
	return nil
}

func (s *StoreMultiMaplet[K, V]) encode(key K, values []V) ([]byte, error) {
	data, err := codec.Marshal(s.values, values)
	if err != nil {
		return nil, s.codecErr(fmt.Sprintf("encode collection of %v", key), err)
	}
	return data, nil
}

func (s *StoreMultiMaplet[K, V]) decode(key K, data []byte) ([]V, error) {
	values, err := codec.Unmarshal(s.values, data)
	if err != nil {
		return nil, s.codecErr(fmt.Sprintf("decode collection of %v", key), err)
	}
	if len(values) == 0 {
		plog.Warningf("map %q holds an empty collection for %v", s.Name(), key)
	}
	return values, nil
}

var _ MultiMaplet[string, string] = (*StoreMultiMaplet[string, string])(nil)
