package libgraph

import (
	"context"
	"errors"
	"sync"
	"time"
	"weak"

	"github.com/hashicorp/golang-lru/v2/simplelru"
	"github.com/rcrowley/go-metrics"
	"golang.org/x/sync/singleflight"
)

// ExtractFunc loads the graph of a library version
type ExtractFunc func(ctx context.Context, lib LibDescriptor) (*Result, error)

// Cache keeps library graphs by LibKey. Recently used graphs are held
// strongly in a bounded LRU; graphs evicted from it stay reachable through
// weak pointers until the garbage collector reclaims them. A miss runs the
// extract function once per key, no matter how many callers wait for it.
//
// Graphs are never evicted by age. Load invalidates every other digest of
// the requested library, so a changed library never serves stale graphs.
type Cache struct {
	extractFn ExtractFunc

	mu      sync.Mutex
	strong  *simplelru.LRU[LibKey, *Result]
	weak    map[LibKey]weak.Pointer[Result]
	sweepAt int
	digests map[string]map[string]struct{} // library -> cached digests

	group singleflight.Group

	hits        metrics.Meter
	misses      metrics.Meter
	extractTime metrics.Timer
}

// NewCache creates a cache holding up to capacity graphs strongly. The
// meters libgraph.cache.hit and libgraph.cache.miss and the timer
// libgraph.extract are registered in registry.
func NewCache(capacity int, extract ExtractFunc, registry metrics.Registry) (*Cache, error) {
	if capacity <= 0 {
		capacity = 1
	}
	if registry == nil {
		registry = metrics.NewRegistry()
	}
	c := &Cache{
		extractFn:   extract,
		weak:        make(map[LibKey]weak.Pointer[Result]),
		sweepAt:     capacity,
		digests:     make(map[string]map[string]struct{}),
		hits:        metrics.GetOrRegisterMeter("libgraph.cache.hit", registry),
		misses:      metrics.GetOrRegisterMeter("libgraph.cache.miss", registry),
		extractTime: metrics.GetOrRegisterTimer("libgraph.extract", registry),
	}
	strong, err := simplelru.NewLRU[LibKey, *Result](capacity, c.demote)
	if err != nil {
		return nil, err
	}
	c.strong = strong
	return c, nil
}

// --------------------------------------------------------------------------
// Lookup
// --------------------------------------------------------------------------

// Load returns the graph of lib, extracting it on a miss. Cached graphs of
// other digests of the same library are dropped.
func (c *Cache) Load(ctx context.Context, lib LibDescriptor) (*Result, error) {
	c.invalidateOthers(lib.Key())
	return c.Get(ctx, lib)
}

// Get returns the graph of lib, extracting it on a miss. Unlike Load it
// leaves other digests of the library cached.
func (c *Cache) Get(ctx context.Context, lib LibDescriptor) (*Result, error) {
	key := lib.Key()
	if res, ok := c.lookup(key); ok {
		c.hits.Mark(1)
		return res, nil
	}
	c.misses.Mark(1)

	for {
		ch := c.group.DoChan(key.Library+"\x00"+key.Digest, func() (any, error) {
			// another caller may have filled the cache meanwhile
			if res, ok := c.lookup(key); ok {
				return res, nil
			}
			start := time.Now()
			res, err := c.extractFn(ctx, lib)
			c.extractTime.UpdateSince(start)
			if err != nil {
				return nil, err
			}
			c.store(key, res)
			return res, nil
		})

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case r := <-ch:
			if r.Err != nil {
				// the extraction ran with the context of another caller that
				// gave up; this caller still wants the result
				if isContextErr(r.Err) && ctx.Err() == nil {
					continue
				}
				return nil, r.Err
			}
			return r.Val.(*Result), nil
		}
	}
}

// Contains reports whether the graph of key is still reachable
func (c *Cache) Contains(key LibKey) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.strong.Contains(key) {
		return true
	}
	wp, ok := c.weak[key]
	return ok && wp.Value() != nil
}

// Invalidate drops every cached graph of library
func (c *Cache) Invalidate(library string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for digest := range c.digests[library] {
		c.drop(LibKey{Library: library, Digest: digest})
	}
	delete(c.digests, library)
}

// Len returns the number of strongly held graphs
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.strong.Len()
}

// Purge drops all graphs
func (c *Cache) Purge() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.strong.Purge()
	clear(c.weak)
	clear(c.digests)
}

// --------------------------------------------------------------------------
// Tiers
// --------------------------------------------------------------------------

func (c *Cache) lookup(key LibKey) (*Result, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if res, ok := c.strong.Get(key); ok {
		return res, true
	}
	wp, ok := c.weak[key]
	if !ok {
		return nil, false
	}
	delete(c.weak, key)
	res := wp.Value()
	if res == nil {
		c.forget(key)
		return nil, false
	}
	// promote back into the strong tier
	c.strong.Add(key, res)
	return res, true
}

func (c *Cache) store(key LibKey, res *Result) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.weak, key)
	c.strong.Add(key, res)
	digests, ok := c.digests[key.Library]
	if !ok {
		digests = make(map[string]struct{})
		c.digests[key.Library] = digests
	}
	digests[key.Digest] = struct{}{}
}

// demote is the eviction callback of the strong tier. It always runs with
// c.mu held since the LRU is only touched under the lock.
func (c *Cache) demote(key LibKey, res *Result) {
	c.weak[key] = weak.Make(res)
	if len(c.weak) < c.sweepAt {
		return
	}
	for k, wp := range c.weak {
		if wp.Value() == nil {
			delete(c.weak, k)
			c.forget(k)
		}
	}
	c.sweepAt = max(2*len(c.weak), c.strong.Len())
}

func (c *Cache) invalidateOthers(key LibKey) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for digest := range c.digests[key.Library] {
		if digest != key.Digest {
			c.drop(LibKey{Library: key.Library, Digest: digest})
		}
	}
}

// drop removes key from both tiers
func (c *Cache) drop(key LibKey) {
	c.strong.Remove(key) // demotes into the weak tier
	delete(c.weak, key)
	c.forget(key)
}

func (c *Cache) forget(key LibKey) {
	digests := c.digests[key.Library]
	delete(digests, key.Digest)
	if len(digests) == 0 {
		delete(c.digests, key.Library)
	}
}

func isContextErr(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
