package bstore

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ValentinKolb/depstore/lib/store"
	"github.com/lni/dragonboat/v4/logger"
	bolt "go.etcd.io/bbolt"
)

var plog = logger.GetLogger("bstore")

// --------------------------------------------------------------------------
// Constants
// --------------------------------------------------------------------------

const (
	fileMode             = 0o600
	compactSuffix        = ".compact"
	defaultOpenTimeout   = 5 * time.Second
	defaultCompactBatch  = 1024 // keys copied per compaction transaction
	minimumFillRateBytes = 1    // avoids a division by zero for empty files
)

// --------------------------------------------------------------------------
// Core bolt store structure
// --------------------------------------------------------------------------

// Store implements store.IStore on a single bbolt file. Each named map is a
// top-level bucket. Writes run with NoSync so every Operate is one cheap
// transaction; Commit is the fsync barrier.
type Store struct {
	path string
	opts Options
	db   *bolt.DB

	commitMu sync.Mutex
	version  atomic.Uint64 // writes applied since open
	commits  atomic.Uint64
	closed   atomic.Bool
}

// Options configures the bolt store
type Options struct {
	OpenTimeout  time.Duration // How long to wait for the file lock (0 = default)
	CompactBatch int           // Keys copied per transaction while compacting (0 = default)
}

// DefaultOptions returns the default options
func DefaultOptions() *Options {
	return &Options{
		OpenTimeout:  defaultOpenTimeout,
		CompactBatch: defaultCompactBatch,
	}
}

// Open opens (or creates) the store file at path with the specified options (optional)
func Open(path string, opts *Options) (*Store, error) {
	if opts == nil {
		opts = DefaultOptions()
	}
	if opts.OpenTimeout <= 0 {
		opts.OpenTimeout = defaultOpenTimeout
	}
	if opts.CompactBatch <= 0 {
		opts.CompactBatch = defaultCompactBatch
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, store.WrapError(store.RetCIO, "", fmt.Sprintf("create directory of %q", path), err)
	}

	// a leftover from an interrupted compaction is never the live file
	_ = os.Remove(path + compactSuffix)

	db, err := bolt.Open(path, fileMode, &bolt.Options{Timeout: opts.OpenTimeout})
	if err != nil {
		return nil, store.WrapError(store.RetCIO, "", fmt.Sprintf("open %q", path), err)
	}
	db.NoSync = true

	plog.Infof("opened %s", path)
	return &Store{
		path: path,
		opts: *opts,
		db:   db,
	}, nil
}

// Factory returns a store.Factory opening the file at path
func Factory(path string, opts *Options) store.Factory {
	return func() (store.IStore, error) {
		return Open(path, opts)
	}
}

// Path returns the file path of the store
func (s *Store) Path() string {
	return s.path
}

// --------------------------------------------------------------------------
// IStore Interface Methods (docu see store/interface.go)
// --------------------------------------------------------------------------

func (s *Store) OpenMap(name string) (store.IMap, error) {
	if s.closed.Load() {
		return nil, store.WrapError(store.RetCClosed, name, "open map", store.ErrClosed)
	}
	err := s.db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(name))
		return err
	})
	if err != nil {
		return nil, store.WrapError(store.RetCIO, name, "create bucket", err)
	}
	return &boltMap{s: s, name: name, bucket: []byte(name)}, nil
}

func (s *Store) Commit() (uint64, error) {
	s.commitMu.Lock()
	defer s.commitMu.Unlock()
	return s.commitLocked()
}

func (s *Store) TryCommit() (bool, uint64, error) {
	if !s.commitMu.TryLock() {
		return false, s.version.Load(), nil
	}
	defer s.commitMu.Unlock()
	version, err := s.commitLocked()
	return err == nil, version, err
}

func (s *Store) commitLocked() (uint64, error) {
	if s.closed.Load() {
		return 0, store.NewError(store.RetCClosed, "commit on closed store")
	}
	if err := s.db.Sync(); err != nil {
		return 0, store.WrapError(store.RetCIO, "", "sync", err)
	}
	s.commits.Add(1)
	version := s.version.Load()
	plog.Debugf("committed version %d", version)
	return version, nil
}

func (s *Store) Version() uint64 {
	return s.version.Load()
}

// FillRate returns the share of the file not sitting on the freelist.
func (s *Store) FillRate() int {
	if s.closed.Load() {
		return 100
	}
	var size int64
	_ = s.db.View(func(tx *bolt.Tx) error {
		size = tx.Size()
		return nil
	})
	if size < minimumFillRateBytes {
		return 100
	}
	free := int64(s.db.Stats().FreeAlloc)
	return store.ClampRate(int(100 * (size - free) / size))
}

// ChunkFillRate returns the share of allocated branch and leaf page bytes
// that hold live data, over all buckets.
func (s *Store) ChunkFillRate() int {
	if s.closed.Load() {
		return 100
	}
	var inuse, alloc int
	_ = s.db.View(func(tx *bolt.Tx) error {
		return tx.ForEach(func(_ []byte, b *bolt.Bucket) error {
			st := b.Stats()
			inuse += st.BranchInuse + st.LeafInuse + st.InlineBucketInuse
			alloc += st.BranchAlloc + st.LeafAlloc + st.InlineBucketInuse
			return nil
		})
	})
	if alloc == 0 {
		return 100
	}
	return store.ClampRate(100 * inuse / alloc)
}

func (s *Store) SupportsFeature(feature store.Feature) bool {
	supported := store.FeatureDurable | store.FeatureCompaction
	return supported&feature == feature
}

func (s *Store) Info() store.StoreInfo {
	info := store.StoreInfo{
		StoreType:         store.ImplBolt,
		SupportedFeatures: []store.Feature{store.FeatureDurable, store.FeatureCompaction},
		Writes:            s.version.Load(),
		Commits:           s.commits.Load(),
	}
	if s.closed.Load() {
		return info
	}

	keys := map[string]int{}
	_ = s.db.View(func(tx *bolt.Tx) error {
		info.SizeBytes = tx.Size()
		return tx.ForEach(func(name []byte, b *bolt.Bucket) error {
			info.Maps = append(info.Maps, string(name))
			keys[string(name)] = b.Stats().KeyN
			return nil
		})
	})
	sort.Strings(info.Maps)

	dbStats := s.db.Stats()
	info.FillRate = s.FillRate()
	info.ChunkFillRate = s.ChunkFillRate()
	info.Metadata = &struct {
		Path      string         `json:"path"`
		Keys      map[string]int `json:"keys"`
		FreePages int            `json:"free_pages"`
		Pending   int            `json:"pending_pages"`
	}{
		Path:      s.path,
		Keys:      keys,
		FreePages: dbStats.FreePageN,
		Pending:   dbStats.PendingPageN,
	}
	return info
}

// Close closes the store. With a positive budget the file is first
// rewritten into a fresh file; the copy replaces the original only if it
// completed within the budget. Close does not commit.
func (s *Store) Close(compactionBudget time.Duration) error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}

	// wait for a running commit
	s.commitMu.Lock()
	defer s.commitMu.Unlock()

	if compactionBudget <= 0 {
		return s.closeDB()
	}

	start := time.Now()
	tmpPath := s.path + compactSuffix
	completed, err := s.compactInto(tmpPath, start.Add(compactionBudget))
	if err != nil || !completed {
		_ = os.Remove(tmpPath)
		if err != nil {
			plog.Warningf("compaction of %s failed: %v", s.path, err)
		} else {
			plog.Infof("compaction of %s exceeded its budget of %s, keeping the old file", s.path, compactionBudget)
		}
		return s.closeDB()
	}

	if err := s.closeDB(); err != nil {
		_ = os.Remove(tmpPath)
		return err
	}
	if err := os.Rename(tmpPath, s.path); err != nil {
		return store.WrapError(store.RetCIO, "", "replace compacted file", err)
	}
	plog.Infof("compacted %s in %s", s.path, time.Since(start))
	return nil
}

func (s *Store) closeDB() error {
	if err := s.db.Close(); err != nil {
		return store.WrapError(store.RetCIO, "", "close", err)
	}
	return nil
}

// compactInto copies every bucket into a new file at dstPath in batches of
// CompactBatch keys. It reports false without an error when the deadline
// passed before the copy was complete.
func (s *Store) compactInto(dstPath string, deadline time.Time) (bool, error) {
	dst, err := bolt.Open(dstPath, fileMode, &bolt.Options{Timeout: s.opts.OpenTimeout, NoSync: true})
	if err != nil {
		return false, err
	}

	errDeadline := errors.New("compaction deadline exceeded")
	copyErr := s.db.View(func(src *bolt.Tx) error {
		return src.ForEach(func(name []byte, b *bolt.Bucket) error {
			cursor := b.Cursor()
			k, v := cursor.First()

			// create the bucket even if it is empty
			if err := dst.Update(func(tx *bolt.Tx) error {
				_, err := tx.CreateBucketIfNotExists(name)
				return err
			}); err != nil {
				return err
			}

			for k != nil {
				if time.Now().After(deadline) {
					return errDeadline
				}
				err := dst.Update(func(tx *bolt.Tx) error {
					db := tx.Bucket(name)
					for n := 0; k != nil && n < s.opts.CompactBatch; n++ {
						if err := db.Put(k, v); err != nil {
							return err
						}
						k, v = cursor.Next()
					}
					return nil
				})
				if err != nil {
					return err
				}
			}
			return nil
		})
	})

	if copyErr == nil {
		copyErr = dst.Sync()
	}
	closeErr := dst.Close()

	switch {
	case errors.Is(copyErr, errDeadline):
		return false, nil
	case copyErr != nil:
		return false, copyErr
	case closeErr != nil:
		return false, closeErr
	}
	return true, nil
}
