package enumerator

import (
	"encoding/binary"
	"fmt"
	"math"
	"sort"
	"sync"

	"github.com/ValentinKolb/depstore/lib/store"
	"github.com/VictoriaMetrics/metrics"
	"github.com/lni/dragonboat/v4/logger"
	"github.com/puzpuzpuz/xsync/v3"
)

var plog = logger.GetLogger("enumerator")

// LookupError is returned by ToString for an id that was never assigned.
// Within a consistent store this cannot happen, so it signals corruption.
type LookupError struct {
	ID   int32 // The requested id
	Size int   // The table size at the time of the lookup
}

func (e *LookupError) Error() string {
	return fmt.Sprintf("enumerator: no string for id %d (table size %d)", e.ID, e.Size)
}

// --------------------------------------------------------------------------
// Core enumerator structure
// --------------------------------------------------------------------------

// Enumerator is an append-only bidirectional table string <-> int32 backed
// by a store map. Ids are allocated sequentially from the table size; new
// pairs are buffered in a delta until Flush writes them.
type Enumerator struct {
	m   store.IMap
	ids *xsync.MapOf[string, int32]

	// mu guards strs and delta. ToNumber allocation and the delta swap in
	// Flush take it exclusively.
	mu    sync.RWMutex
	strs  []string
	delta map[int32]string

	flushes *metrics.Counter
	entries *metrics.Counter
}

// Open loads the table stored in m. set receives the flush counters and
// may be nil.
func Open(m store.IMap, set *metrics.Set) (*Enumerator, error) {
	if set == nil {
		set = metrics.NewSet()
	}
	e := &Enumerator{
		m:       m,
		ids:     xsync.NewMapOf[string, int32](),
		delta:   map[int32]string{},
		flushes: set.GetOrCreateCounter("enumerator_flush_total"),
		entries: set.GetOrCreateCounter("enumerator_flushed_entries_total"),
	}
	if err := e.load(); err != nil {
		return nil, err
	}
	plog.Debugf("opened enumerator %q with %d entries", m.Name(), len(e.strs))
	return e, nil
}

func (e *Enumerator) load() error {
	loaded := map[int32]string{}
	var keyErr error
	err := e.m.Keys(func(key []byte) bool {
		id, err := decodeID(key)
		if err != nil {
			keyErr = err
			return false
		}
		loaded[id] = ""
		return true
	})
	if err == nil {
		err = keyErr
	}
	if err != nil {
		return store.WrapError(store.RetCIO, e.m.Name(), "load string table", err)
	}

	ids := make([]int32, 0, len(loaded))
	for id := range loaded {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	e.strs = make([]string, len(ids))
	for i, id := range ids {
		// ids are dense: the i-th smallest id must be i
		if int(id) != i {
			return store.WrapError(store.RetCCodec, e.m.Name(), "load string table", &LookupError{ID: int32(i), Size: len(ids)})
		}
		value, ok, err := e.m.Get(encodeID(id))
		if err != nil {
			return store.WrapError(store.RetCIO, e.m.Name(), "load string table", err)
		}
		if !ok {
			return store.WrapError(store.RetCCodec, e.m.Name(), "load string table", &LookupError{ID: id, Size: len(ids)})
		}
		s := string(value)
		e.strs[i] = s
		e.ids.Store(s, id)
	}
	return nil
}

// --------------------------------------------------------------------------
// Lookups
// --------------------------------------------------------------------------

// ToNumber returns the id of s, allocating the next sequential id if s is new.
//
// Thread-safety: This method is thread-safe and can be called concurrently.
func (e *Enumerator) ToNumber(s string) (int32, error) {
	if id, ok := e.ids.Load(s); ok {
		return id, nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	// another caller may have allocated it meanwhile
	if id, ok := e.ids.Load(s); ok {
		return id, nil
	}
	if len(e.strs) >= math.MaxInt32 {
		return 0, fmt.Errorf("enumerator: table full (%d entries)", len(e.strs))
	}

	id := int32(len(e.strs))
	e.strs = append(e.strs, s)
	e.delta[id] = s
	e.ids.Store(s, id)
	return id, nil
}

// ToString returns the string mapped to id or a *LookupError.
//
// Thread-safety: This method is thread-safe and can be called concurrently.
func (e *Enumerator) ToString(id int32) (string, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if id < 0 || int(id) >= len(e.strs) {
		return "", &LookupError{ID: id, Size: len(e.strs)}
	}
	return e.strs[id], nil
}

// Size returns the number of assigned ids
func (e *Enumerator) Size() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.strs)
}

// Pending returns the number of entries not yet flushed
func (e *Enumerator) Pending() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.delta)
}

// --------------------------------------------------------------------------
// Flush
// --------------------------------------------------------------------------

// Flush swaps out the delta and writes its entries to the store map. It
// reports whether anything was written. Entries that could not be written
// go back into the delta so the next Flush retries them.
//
// Flush does not commit; the caller commits the store afterwards.
func (e *Enumerator) Flush() (bool, error) {
	e.mu.Lock()
	delta := e.delta
	e.delta = map[int32]string{}
	e.mu.Unlock()

	if len(delta) == 0 {
		return false, nil
	}

	ids := make([]int32, 0, len(delta))
	for id := range delta {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	for i, id := range ids {
		if err := e.m.Put(encodeID(id), []byte(delta[id])); err != nil {
			e.restore(delta, ids[i:])
			return i > 0, store.WrapError(store.CodeOf(err), e.m.Name(), "flush", err)
		}
	}

	e.flushes.Inc()
	e.entries.Add(len(ids))
	plog.Debugf("flushed %d entries", len(ids))
	return true, nil
}

func (e *Enumerator) restore(delta map[int32]string, ids []int32) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, id := range ids {
		e.delta[id] = delta[id]
	}
}

// --------------------------------------------------------------------------
// Key encoding
// --------------------------------------------------------------------------

// ids are stored as 4 big endian bytes so bolt keeps them in id order
func encodeID(id int32) []byte {
	return binary.BigEndian.AppendUint32(nil, uint32(id))
}

func decodeID(key []byte) (int32, error) {
	if len(key) != 4 {
		return 0, fmt.Errorf("enumerator: invalid key length %d", len(key))
	}
	v := binary.BigEndian.Uint32(key)
	if v > math.MaxInt32 {
		return 0, fmt.Errorf("enumerator: invalid id %d", v)
	}
	return int32(v), nil
}
