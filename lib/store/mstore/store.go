package mstore

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ValentinKolb/depstore/lib/store"
	"github.com/ValentinKolb/depstore/lib/store/mstore/internal"
	"github.com/ValentinKolb/depstore/lib/util"
	"github.com/lni/dragonboat/v4/logger"
	"github.com/puzpuzpuz/xsync/v3"
)

var plog = logger.GetLogger("mstore")

// --------------------------------------------------------------------------
// Core memory store structure
// --------------------------------------------------------------------------

// Store is an in-memory store.IStore. Every named map is a sharded table of
// xsync maps; Commit copies the live state of all tables into their committed
// snapshot so Crash can drop whatever was written afterwards.
type Store struct {
	opts   Options
	seed   uint64
	tables *xsync.MapOf[string, *internal.Table]

	// commitMu is held shared by writers and exclusively by Commit, so a
	// snapshot never observes half of an Operate.
	commitMu sync.RWMutex

	version atomic.Uint64 // number of applied writes
	commits atomic.Uint64

	// accounting for the fill rates
	liveBytes    atomic.Int64
	writtenBytes atomic.Int64
	liveEntries  atomic.Int64
	entryWrites  atomic.Int64

	closed atomic.Bool
}

// Options configures the memory store
type Options struct {
	NumShards int // Number of shards per map (0 = default)

	// Fragmentation, if set, replaces the computed fill rates. Tests use it
	// to drive the compaction policy with deterministic inputs.
	Fragmentation store.Fragmentation
}

// DefaultOptions returns the default options
func DefaultOptions() *Options {
	return &Options{NumShards: 8}
}

// NewMemoryStore creates an empty memory store with the specified options (optional)
func NewMemoryStore(opts *Options) *Store {
	if opts == nil {
		opts = DefaultOptions()
	}
	if opts.NumShards <= 0 {
		opts.NumShards = DefaultOptions().NumShards
	}
	return &Store{
		opts:   *opts,
		seed:   util.GenerateSeed(),
		tables: xsync.NewMapOf[string, *internal.Table](),
	}
}

// Factory returns a store.Factory creating empty memory stores
func Factory(opts *Options) store.Factory {
	return func() (store.IStore, error) {
		return NewMemoryStore(opts), nil
	}
}

// --------------------------------------------------------------------------
// IStore Interface Methods (docu see store/interface.go)
// --------------------------------------------------------------------------

func (s *Store) OpenMap(name string) (store.IMap, error) {
	if s.closed.Load() {
		return nil, store.WrapError(store.RetCClosed, name, "open map", store.ErrClosed)
	}
	t, _ := s.tables.LoadOrCompute(name, func() *internal.Table {
		return internal.NewTable(name, s.opts.NumShards, s.seed)
	})
	return &memMap{s: s, t: t}, nil
}

func (s *Store) Commit() (uint64, error) {
	if s.closed.Load() {
		return 0, store.NewError(store.RetCClosed, "commit on closed store")
	}
	s.commitMu.Lock()
	defer s.commitMu.Unlock()
	return s.commitLocked(), nil
}

func (s *Store) TryCommit() (bool, uint64, error) {
	if s.closed.Load() {
		return false, 0, store.NewError(store.RetCClosed, "commit on closed store")
	}
	// writers hold commitMu shared, so TryLock also fails while writes are in flight
	if !s.commitMu.TryLock() {
		return false, s.version.Load(), nil
	}
	defer s.commitMu.Unlock()
	return true, s.commitLocked(), nil
}

// commitLocked snapshots every table. The caller holds commitMu exclusively.
func (s *Store) commitLocked() uint64 {
	s.tables.Range(func(_ string, t *internal.Table) bool {
		t.Snapshot()
		return true
	})
	s.commits.Add(1)
	version := s.version.Load()
	plog.Debugf("committed version %d", version)
	return version
}

func (s *Store) Version() uint64 {
	return s.version.Load()
}

func (s *Store) FillRate() int {
	if s.opts.Fragmentation != nil {
		return store.ClampRate(s.opts.Fragmentation.FillRate())
	}
	written := s.writtenBytes.Load()
	if written <= 0 {
		return 100
	}
	return store.ClampRate(int(100 * s.liveBytes.Load() / written))
}

func (s *Store) ChunkFillRate() int {
	if s.opts.Fragmentation != nil {
		return store.ClampRate(s.opts.Fragmentation.ChunkFillRate())
	}
	writes := s.entryWrites.Load()
	if writes <= 0 {
		return 100
	}
	return store.ClampRate(int(100 * s.liveEntries.Load() / writes))
}

func (s *Store) SupportsFeature(feature store.Feature) bool {
	supported := store.FeatureCompaction | store.FeatureCrashSimulation
	return supported&feature == feature
}

// Info returns statistics about the store. Sizes are sampled from up to
// samplesPerMap entries of every map.
func (s *Store) Info() store.StoreInfo {
	const samplesPerMap = 100

	histogram := util.NewSizeHistogram()
	var names []string
	var sizes []float64
	s.tables.Range(func(name string, t *internal.Table) bool {
		names = append(names, name)
		sizes = append(sizes, float64(t.Len()))
		n := 0
		t.Range(func(key string, e internal.Entry) bool {
			histogram.AddSample(int(e.Size(key)))
			n++
			return n < samplesPerMap
		})
		return true
	})
	sort.Strings(names)

	meta := &struct {
		MapSizes       util.Stats `json:"map_sizes"`
		MedianRecord   int        `json:"median_record"`
		AverageRecord  int        `json:"average_record"`
		WrittenBytes   int64      `json:"written_bytes"`
		SampledRecords int64      `json:"sampled_records"`
		Info           string     `json:"info"`
	}{
		MapSizes:       util.NewStats(sizes),
		MedianRecord:   histogram.MedianEstimate(),
		AverageRecord:  histogram.AverageSize(),
		WrittenBytes:   s.writtenBytes.Load(),
		SampledRecords: histogram.Count(),
		Info:           "Record sizes are sampled and may vary depending on the store state.",
	}

	return store.StoreInfo{
		SizeBytes:         s.liveBytes.Load(),
		StoreType:         store.ImplMemory,
		SupportedFeatures: []store.Feature{store.FeatureCompaction, store.FeatureCrashSimulation},
		Maps:              names,
		Writes:            s.version.Load(),
		Commits:           s.commits.Load(),
		FillRate:          s.FillRate(),
		ChunkFillRate:     s.ChunkFillRate(),
		Metadata:          meta,
	}
}

// Close closes the store. A positive budget "compacts" it, which for memory
// means forgetting the overwritten bytes so the fill rates return to 100.
func (s *Store) Close(compactionBudget time.Duration) error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	if compactionBudget > 0 {
		s.compact()
	}
	plog.Debugf("closed (compaction budget %s)", compactionBudget)
	return nil
}

func (s *Store) compact() {
	s.writtenBytes.Store(s.liveBytes.Load())
	s.entryWrites.Store(s.liveEntries.Load())
}

// --------------------------------------------------------------------------
// Crash simulation
// --------------------------------------------------------------------------

// Crash closes the store without committing and returns a new store holding
// only the state of the last commit, as if the process had died and the
// store had been reopened.
func (s *Store) Crash() *Store {
	s.commitMu.Lock()
	defer s.commitMu.Unlock()
	s.closed.Store(true)

	reopened := &Store{
		opts:   s.opts,
		seed:   s.seed,
		tables: xsync.NewMapOf[string, *internal.Table](),
	}
	s.tables.Range(func(name string, t *internal.Table) bool {
		nt := internal.NewTable(name, s.opts.NumShards, s.seed)
		for key, value := range t.Committed {
			nt.ShardFor(key).Data.Store(key, internal.Entry{Value: value})
			size := int64(len(key) + len(value))
			reopened.liveBytes.Add(size)
			reopened.writtenBytes.Add(size)
			reopened.liveEntries.Add(1)
			reopened.entryWrites.Add(1)
		}
		nt.Committed = t.Committed
		reopened.tables.Store(name, nt)
		return true
	})
	return reopened
}

// --------------------------------------------------------------------------
// Accounting helpers
// --------------------------------------------------------------------------

// recordWrite accounts a put of newSize bytes replacing an entry of oldSize bytes (0 if new)
func (s *Store) recordWrite(oldSize, newSize int64, replaced bool) {
	s.version.Add(1)
	s.writtenBytes.Add(newSize)
	s.liveBytes.Add(newSize - oldSize)
	s.entryWrites.Add(1)
	if !replaced {
		s.liveEntries.Add(1)
	}
}

// recordDelete accounts the removal of an entry of oldSize bytes
func (s *Store) recordDelete(oldSize int64) {
	s.version.Add(1)
	s.liveBytes.Add(-oldSize)
	s.liveEntries.Add(-1)
}
