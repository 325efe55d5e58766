package depdb

import (
	"fmt"
	"io"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ValentinKolb/depstore/lib/cache"
	"github.com/ValentinKolb/depstore/lib/compaction"
	"github.com/ValentinKolb/depstore/lib/enumerator"
	"github.com/ValentinKolb/depstore/lib/graph"
	"github.com/ValentinKolb/depstore/lib/maplet"
	"github.com/ValentinKolb/depstore/lib/store"
	"github.com/ValentinKolb/depstore/lib/store/bstore"
	"github.com/ValentinKolb/depstore/lib/store/mstore"
	"github.com/VictoriaMetrics/metrics"
	"github.com/lni/dragonboat/v4/logger"
)

var plog = logger.GetLogger("depdb")

// Map names inside the store
const (
	MapEnumerator  = "enumerator"
	MapNodes       = "nodes"
	MapNodeSources = "node-sources"
	MapSourceNodes = "source-nodes"
	MapUsages      = "usages"
	MapLibraries   = "libraries"
)

// StoreFileName is the name of the bolt file inside Options.Dir
const StoreFileName = "depgraph.db"

// --------------------------------------------------------------------------
// Options
// --------------------------------------------------------------------------

// Backend selects the store implementation
type Backend string

const (
	BackendBolt   Backend = "bolt"
	BackendMemory Backend = "memory"
)

// Options configure a DB
type Options struct {
	Backend Backend
	Dir     string // Directory of the bolt file
	Bolt    *bstore.Options
	Memory  *mstore.Options

	// Store, if set, replaces Backend and creates the backing store
	Store store.Factory

	Compaction compaction.Policy // nil means compaction.DefaultThresholds()
	Sizing     cache.Sizing      // zero means cache.DefaultSizing()
	Metrics    *metrics.Set      // nil means a private set
}

// DefaultOptions returns options for an in-memory DB
func DefaultOptions() Options {
	return Options{
		Backend:    BackendMemory,
		Compaction: compaction.DefaultThresholds(),
		Sizing:     cache.DefaultSizing(),
	}
}

func (o Options) factory() (store.Factory, error) {
	if o.Store != nil {
		return o.Store, nil
	}
	switch o.Backend {
	case BackendBolt:
		if o.Dir == "" {
			return nil, fmt.Errorf("depdb: the bolt backend needs a directory")
		}
		return bstore.Factory(filepath.Join(o.Dir, StoreFileName), o.Bolt), nil
	case BackendMemory, "":
		return mstore.Factory(o.Memory), nil
	default:
		return nil, fmt.Errorf("depdb: unknown backend %q", o.Backend)
	}
}

// --------------------------------------------------------------------------
// DB
// --------------------------------------------------------------------------

// DB owns a store and the dependency indexes built on it:
//
//   - nodes: node name -> node
//   - node-sources: node name -> sources declaring it (set)
//   - source-nodes: source -> node names (set)
//   - usages: class name -> names of the nodes using it (set)
//   - libraries: library name -> LibraryRecord
//
// All methods are safe for concurrent use. Nodes returned by the DB may be
// shared with its caches and must not be modified.
type DB struct {
	st       store.IStore
	policy   compaction.Policy
	set      *metrics.Set
	en       *enumerator.Enumerator
	interner *cache.Interner[graph.Usage]

	nodes       *maplet.CachingMaplet[string, *graph.Node]
	nodeSources *maplet.StoreMultiMaplet[string, graph.NodeSource]
	sourceNodes *maplet.CachingMultiMaplet[graph.NodeSource, string]
	usages      *maplet.StoreMultiMaplet[string, string]
	libraries   *maplet.StoreMaplet[string, LibraryRecord]

	commitMu sync.Mutex
	commits  *metrics.Counter
	budget   atomic.Int64 // last compaction budget granted by the policy
	closed   atomic.Bool
}

// Open opens the backing store and the indexes
func Open(opts Options) (*DB, error) {
	factory, err := opts.factory()
	if err != nil {
		return nil, err
	}
	if opts.Compaction == nil {
		opts.Compaction = compaction.DefaultThresholds()
	}
	if opts.Sizing == (cache.Sizing{}) {
		opts.Sizing = cache.DefaultSizing()
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.NewSet()
	}

	st, err := factory()
	if err != nil {
		return nil, fmt.Errorf("depdb: opening store: %w", err)
	}
	db, err := open(st, opts)
	if err != nil {
		_ = st.Close(0)
		return nil, err
	}
	plog.Infof("opened %s store with %d enumerated strings", st.Info().StoreType, db.en.Size())
	return db, nil
}

func open(st store.IStore, opts Options) (*DB, error) {
	capacity := opts.Sizing.Capacity()
	db := &DB{
		st:      st,
		policy:  opts.Compaction,
		set:     opts.Metrics,
		commits: opts.Metrics.GetOrCreateCounter("store_commit_total"),
	}

	maps := map[string]store.IMap{}
	for _, name := range []string{MapEnumerator, MapNodes, MapNodeSources, MapSourceNodes, MapUsages, MapLibraries} {
		m, err := st.OpenMap(name)
		if err != nil {
			return nil, fmt.Errorf("depdb: opening map %q: %w", name, err)
		}
		maps[name] = m
	}

	var err error
	if db.en, err = enumerator.Open(maps[MapEnumerator], opts.Metrics); err != nil {
		return nil, err
	}
	if db.interner, err = cache.NewInterner[graph.Usage](capacity); err != nil {
		return nil, err
	}
	c := newCodecs(db.en, db.interner)

	nodes := maplet.New(maps[MapNodes], nameKeys, c.node, opts.Metrics)
	if db.nodes, err = maplet.NewCachingMaplet[string, *graph.Node](nodes, capacity); err != nil {
		return nil, err
	}
	db.nodeSources = maplet.NewMulti(maps[MapNodeSources], maplet.KindSet, nameKeys, c.source, opts.Metrics)
	sourceNodes := maplet.NewMulti(maps[MapSourceNodes], maplet.KindSet, sourceKeys, c.name, opts.Metrics)
	if db.sourceNodes, err = maplet.NewCachingMultiMaplet[graph.NodeSource, string](sourceNodes, capacity); err != nil {
		return nil, err
	}
	db.usages = maplet.NewMulti(maps[MapUsages], maplet.KindSet, nameKeys, c.name, opts.Metrics)
	db.libraries = maplet.New(maps[MapLibraries], nameKeys, c.record, opts.Metrics)

	opts.Metrics.GetOrCreateGauge("store_fill_rate", func() float64 {
		return float64(st.FillRate())
	})
	opts.Metrics.GetOrCreateGauge("store_chunk_fill_rate", func() float64 {
		return float64(st.ChunkFillRate())
	})
	opts.Metrics.GetOrCreateGauge("enumerator_size", func() float64 {
		return float64(db.en.Size())
	})
	opts.Metrics.GetOrCreateGauge("store_compaction_budget_seconds", func() float64 {
		return time.Duration(db.budget.Load()).Seconds()
	})
	return db, nil
}

func (db *DB) checkOpen() error {
	if db.closed.Load() {
		return store.WrapError(store.RetCClosed, "", "depdb", store.ErrClosed)
	}
	return nil
}

// --------------------------------------------------------------------------
// Commit and Close
// --------------------------------------------------------------------------

// Commit makes all writes durable. The data maps are committed first, then
// the enumerator delta is flushed, and a second commit follows if the flush
// wrote anything. A crash between the steps leaves ids in the data maps that
// the reopened enumerator does not know; callers treat the resulting
// LookupError as a corrupt store.
func (db *DB) Commit() error {
	if err := db.checkOpen(); err != nil {
		return err
	}
	return db.commit()
}

func (db *DB) commit() error {
	db.commitMu.Lock()
	defer db.commitMu.Unlock()

	if _, err := db.st.Commit(); err != nil {
		return fmt.Errorf("depdb: committing data: %w", err)
	}
	wrote, err := db.en.Flush()
	if err != nil {
		return fmt.Errorf("depdb: flushing enumerator: %w", err)
	}
	if wrote {
		if _, err := db.st.Commit(); err != nil {
			return fmt.Errorf("depdb: committing enumerator: %w", err)
		}
	}
	db.commits.Inc()
	return nil
}

// Flush flushes the indexes and commits. It then asks the policy for the
// compaction budget of the current fragmentation; the budget is reported
// by Info and the store_compaction_budget_seconds gauge. The store only
// compacts on Close.
func (db *DB) Flush() error {
	if err := db.checkOpen(); err != nil {
		return err
	}
	for _, f := range db.flushers() {
		if err := f.Flush(); err != nil {
			return err
		}
	}
	if err := db.commit(); err != nil {
		return err
	}
	budget := db.compactionBudget()
	plog.Debugf("flushed store (fill rate %d%%, chunk fill rate %d%%, compaction budget %s)",
		db.st.FillRate(), db.st.ChunkFillRate(), budget)
	return nil
}

func (db *DB) compactionBudget() time.Duration {
	budget := db.policy.Budget(db.st)
	db.budget.Store(int64(budget))
	return budget
}

type flushCloser interface {
	Flush() error
	Close() error
}

func (db *DB) flushers() []flushCloser {
	return []flushCloser{db.nodes, db.nodeSources, db.sourceNodes, db.usages, db.libraries}
}

// Close commits, closes the indexes and closes the store with the
// compaction budget the policy grants for its current fragmentation.
// The interner is purged last.
func (db *DB) Close() error {
	if !db.closed.CompareAndSwap(false, true) {
		return nil
	}
	err := db.commit()
	for _, f := range db.flushers() {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}

	budget := db.compactionBudget()
	plog.Infof("closing store (fill rate %d%%, chunk fill rate %d%%, compaction budget %s)",
		db.st.FillRate(), db.st.ChunkFillRate(), budget)
	if cerr := db.st.Close(budget); cerr != nil && err == nil {
		err = cerr
	}
	db.interner.Purge()
	return err
}

// --------------------------------------------------------------------------
// Info and metrics
// --------------------------------------------------------------------------

// Info describes the DB and its store
type Info struct {
	Store            store.StoreInfo `json:"store"`
	Strings          int             `json:"strings"`
	PendingStrings   int             `json:"pending_strings"`
	InternedUsages   int             `json:"interned_usages"`
	CachedNodes      int             `json:"cached_nodes"`
	CompactionBudget time.Duration   `json:"compaction_budget"` // granted on the last Flush or Close
}

// Info returns statistics about the DB
func (db *DB) Info() Info {
	return Info{
		Store:            db.st.Info(),
		Strings:          db.en.Size(),
		PendingStrings:   db.en.Pending(),
		InternedUsages:   db.interner.Len(),
		CachedNodes:      db.nodes.CacheLen(),
		CompactionBudget: time.Duration(db.budget.Load()),
	}
}

// WriteMetrics writes the metrics of the DB in Prometheus text format
func (db *DB) WriteMetrics(w io.Writer) {
	db.set.WritePrometheus(w)
}
