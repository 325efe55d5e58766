package store

import (
	"time"
)

// --------------------------------------------------------------------------
// Helper Types
// --------------------------------------------------------------------------

type Implementation string

const (
	ImplBolt   Implementation = "bolt"
	ImplMemory Implementation = "memory"
)

// Feature represents store features as bit flags
type Feature uint64

const (
	FeatureDurable         Feature = 1 << iota // Committed data survives a process restart
	FeatureCompaction                          // Close honours a compaction budget
	FeatureCrashSimulation                     // Uncommitted state can be dropped on purpose
)

func (f Feature) String() string {
	switch f {
	case FeatureDurable:
		return "Durable"
	case FeatureCompaction:
		return "Compaction"
	case FeatureCrashSimulation:
		return "CrashSimulation"
	default:
		return "Unknown"
	}
}

// StoreInfo reports the state of a store. Size figures are estimates.
type StoreInfo struct {
	SizeBytes         int64          `json:"size_bytes"`
	StoreType         Implementation `json:"store_type"`
	SupportedFeatures []Feature      `json:"supported_features"`
	Maps              []string       `json:"maps"`
	Writes            uint64         `json:"writes"`
	Commits           uint64         `json:"commits"`
	FillRate          int            `json:"fill_rate"`
	ChunkFillRate     int            `json:"chunk_fill_rate"`
	Metadata          interface{}    `json:"metadata"`
}

// Decision is the outcome of a DecisionFunc.
type Decision int

const (
	DecisionAbort  Decision = iota // leave the key untouched, nothing is written
	DecisionPut                    // store the returned value under the key
	DecisionRemove                 // delete the key
)

func (d Decision) String() string {
	switch d {
	case DecisionAbort:
		return "abort"
	case DecisionPut:
		return "put"
	case DecisionRemove:
		return "remove"
	default:
		return "unknown"
	}
}

// DecisionFunc decides how a key is updated by Operate. existing is the
// current value (nil when loaded is false). The value the caller wants to
// merge is captured by the closure. The returned value is only used for
// DecisionPut.
//
// A DecisionFunc may be invoked while the store holds internal locks, it
// must not call back into the store.
type DecisionFunc func(existing []byte, loaded bool) (decision Decision, value []byte, err error)

// --------------------------------------------------------------------------
// Interface Definition
// --------------------------------------------------------------------------

// IMap is a named byte-keyed map inside an IStore.
// Keys and values passed in are not retained; returned slices are owned by the caller.
type IMap interface {
	// Name returns the name the map was opened with.
	Name() string
	// Get returns the value of a key. The boolean reports whether the key exists.
	Get(key []byte) (value []byte, loaded bool, err error)
	// Has reports whether the key exists.
	Has(key []byte) (loaded bool, err error)
	// Put inserts or replaces the value of a key.
	Put(key, value []byte) (err error)
	// Delete removes a key. Deleting a missing key is not an error and does not count as a write.
	Delete(key []byte) (err error)
	// Operate atomically applies fn to the current value of key and returns the value
	// stored afterwards (nil if the key is absent afterwards).
	// Operate is totally ordered with respect to all other operations on the same key.
	// A DecisionAbort outcome performs no write and does not advance the store version.
	Operate(key []byte, fn DecisionFunc) (applied []byte, err error)
	// Keys calls fn for every key in unspecified order until fn returns false.
	Keys(fn func(key []byte) bool) (err error)
	// Len returns the number of keys.
	Len() (n int, err error)
}

// IStore is a paged key-value store holding named maps.
// Auto-commit is disabled: writes become durable only through Commit.
type IStore interface {
	// OpenMap returns the map with the given name, creating it if needed.
	OpenMap(name string) (m IMap, err error)
	// Commit makes every write done so far durable and returns the new version.
	Commit() (version uint64, err error)
	// TryCommit commits unless another commit is in progress, in which case ok is false.
	TryCommit() (ok bool, version uint64, err error)
	// Version returns the number of writes applied since the store was opened.
	Version() (version uint64)
	// FillRate returns the share of the file occupied by live data, in [0,100].
	FillRate() (rate int)
	// ChunkFillRate returns the share of allocated pages occupied by live entries, in [0,100].
	ChunkFillRate() (rate int)
	// SupportsFeature reports whether the store supports all given features.
	SupportsFeature(feature Feature) (ok bool)
	// Info returns information about the store.
	Info() (info StoreInfo)
	// Close closes the store. A positive compactionBudget allows the store to
	// spend up to that long compacting its file first.
	Close(compactionBudget time.Duration) (err error)
}

// Factory creates a store. The conformance suite and depdb use it to
// stay independent of the concrete backend.
type Factory func() (IStore, error)

// Fragmentation returns the fill rates of a store. IStore satisfies it.
type Fragmentation interface {
	FillRate() int
	ChunkFillRate() int
}

// ClampRate limits a computed percentage to [0,100].
func ClampRate(rate int) int {
	if rate < 0 {
		return 0
	}
	if rate > 100 {
		return 100
	}
	return rate
}
