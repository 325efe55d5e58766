package maplet

import (
	"iter"
	"reflect"
	"slices"

	"github.com/lni/dragonboat/v4/logger"
)

var plog = logger.GetLogger("maplet")

// --------------------------------------------------------------------------
// Interfaces
// --------------------------------------------------------------------------

// Maplet is a persistent map from K to a single V.
//
// Put with an empty value (see IsEmpty) removes the key.
type Maplet[K comparable, V any] interface {
	ContainsKey(key K) (bool, error)
	// Get returns the value of key; ok is false if the key is absent
	Get(key K) (value V, ok bool, err error)
	Put(key K, value V) error
	Remove(key K) error
	// Keys calls fn for every key in no particular order until fn returns false
	Keys(fn func(key K) bool) error
	Flush() error
	Close() error
}

// MultiMaplet is a persistent map from K to a collection of V. A key is
// never stored with an empty collection; emptiness is the key's absence.
type MultiMaplet[K comparable, V comparable] interface {
	ContainsKey(key K) (bool, error)
	// Get returns the collection of key, the empty collection if absent
	Get(key K) (Collection[V], error)
	// Put replaces the collection of key; empty values remove the key
	Put(key K, values []V) error
	AppendValue(key K, value V) error
	AppendValues(key K, values []V) error
	RemoveValue(key K, value V) error
	RemoveValues(key K, values []V) error
	Remove(key K) error
	Keys(fn func(key K) bool) error
	Flush() error
	Close() error
}

// --------------------------------------------------------------------------
// Collection
// --------------------------------------------------------------------------

// Collection is an immutable sequence of values read from a MultiMaplet.
// The zero Collection is the empty collection.
type Collection[V comparable] struct {
	items []V
}

// Empty returns the empty collection
func Empty[V comparable]() Collection[V] {
	return Collection[V]{}
}

// CollectionOf returns a collection holding a copy of values
func CollectionOf[V comparable](values ...V) Collection[V] {
	if len(values) == 0 {
		return Collection[V]{}
	}
	return Collection[V]{items: slices.Clone(values)}
}

func (c Collection[V]) Len() int {
	return len(c.items)
}

func (c Collection[V]) IsEmpty() bool {
	return len(c.items) == 0
}

// At returns the i-th value
func (c Collection[V]) At(i int) V {
	return c.items[i]
}

func (c Collection[V]) Contains(v V) bool {
	return slices.Contains(c.items, v)
}

// Values returns a copy of the values
func (c Collection[V]) Values() []V {
	return slices.Clone(c.items)
}

// All iterates over the values in stored order
func (c Collection[V]) All() iter.Seq[V] {
	return slices.Values(c.items)
}

// --------------------------------------------------------------------------
// Collection kinds and their merge decisions
// --------------------------------------------------------------------------

// Kind selects the semantics of a MultiMaplet
type Kind int

const (
	KindSet  Kind = iota // Deduplicated; stored in first-insertion order
	KindList             // Ordered; duplicates allowed
)

func (k Kind) String() string {
	switch k {
	case KindSet:
		return "Set"
	case KindList:
		return "List"
	default:
		return "Unknown"
	}
}

// outcome of a merge decision
type outcome int

const (
	outcomeAbort  outcome = iota // nothing to write
	outcomeWrite                 // write the result
	outcomeDelete                // the result is empty, delete the key
)

func (o outcome) String() string {
	switch o {
	case outcomeWrite:
		return "write"
	case outcomeDelete:
		return "delete"
	default:
		return "abort"
	}
}

// kindOps holds the decisions of one Kind. Both functions receive the
// currently stored collection (nil if absent) and the provided values.
type kindOps[V comparable] struct {
	normalize  func(values []V) []V
	appendTo   func(existing, provided []V) ([]V, outcome)
	removeFrom func(existing, provided []V) ([]V, outcome)
}

func opsFor[V comparable](k Kind) kindOps[V] {
	if k == KindList {
		return kindOps[V]{
			normalize:  func(values []V) []V { return values },
			appendTo:   appendList[V],
			removeFrom: removeValues[V](false),
		}
	}
	return kindOps[V]{
		normalize:  dedupe[V],
		appendTo:   appendSet[V],
		removeFrom: removeValues[V](true),
	}
}

func appendList[V comparable](existing, provided []V) ([]V, outcome) {
	if len(provided) == 0 {
		return nil, outcomeAbort
	}
	if len(existing) == 0 {
		return provided, outcomeWrite
	}
	result := make([]V, 0, len(existing)+len(provided))
	result = append(result, existing...)
	return append(result, provided...), outcomeWrite
}

func appendSet[V comparable](existing, provided []V) ([]V, outcome) {
	if len(provided) == 0 {
		return nil, outcomeAbort
	}
	if len(existing) == 0 {
		return dedupe(provided), outcomeWrite
	}

	present := make(map[V]struct{}, len(existing))
	for _, v := range existing {
		present[v] = struct{}{}
	}
	result := slices.Clone(existing)
	for _, v := range provided {
		if _, ok := present[v]; ok {
			continue
		}
		present[v] = struct{}{}
		result = append(result, v)
	}
	if len(result) == len(existing) {
		// every provided value is already there
		return nil, outcomeAbort
	}
	return result, outcomeWrite
}

// removeValues returns the remove decision. For sets a removal that does
// not intersect the stored values is a no-op.
func removeValues[V comparable](abortDisjoint bool) func(existing, provided []V) ([]V, outcome) {
	return func(existing, provided []V) ([]V, outcome) {
		if len(existing) == 0 || len(provided) == 0 {
			return nil, outcomeAbort
		}
		drop := make(map[V]struct{}, len(provided))
		for _, v := range provided {
			drop[v] = struct{}{}
		}
		result := make([]V, 0, len(existing))
		for _, v := range existing {
			if _, ok := drop[v]; !ok {
				result = append(result, v)
			}
		}
		if abortDisjoint && len(result) == len(existing) {
			return nil, outcomeAbort
		}
		if len(result) == 0 {
			return nil, outcomeDelete
		}
		return result, outcomeWrite
	}
}

// dedupe keeps the first occurrence of every value
func dedupe[V comparable](values []V) []V {
	if len(values) < 2 {
		return values
	}
	seen := make(map[V]struct{}, len(values))
	result := make([]V, 0, len(values))
	for _, v := range values {
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		result = append(result, v)
	}
	return result
}

// --------------------------------------------------------------------------
// Empty values
// --------------------------------------------------------------------------

// IsEmpty reports whether a Maplet treats v as "no value": a nil pointer,
// interface, map, slice, channel or function, or a zero-length slice, map,
// array or string. Numbers, booleans and structs are never empty.
func IsEmpty[V any](v V) bool {
	rv := reflect.ValueOf(any(v))
	if !rv.IsValid() {
		return true
	}
	switch rv.Kind() {
	case reflect.Pointer, reflect.Interface, reflect.Chan, reflect.Func:
		return rv.IsNil()
	case reflect.Map, reflect.Slice:
		return rv.IsNil() || rv.Len() == 0
	case reflect.String, reflect.Array:
		return rv.Len() == 0
	default:
		return false
	}
}
