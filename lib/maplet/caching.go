package maplet

import (
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
)

// --------------------------------------------------------------------------
// Read admission guard
// --------------------------------------------------------------------------

// guard keeps reads that raced a write out of a cache. Every write bumps
// the generation after it reached the store; a read is only admitted if no
// write happened between its start and its admission.
type guard[K comparable, V any] struct {
	mu  sync.Mutex
	gen uint64
	lru *lru.Cache[K, V]
}

func newGuard[K comparable, V any](capacity int) (*guard[K, V], error) {
	c, err := lru.New[K, V](capacity)
	if err != nil {
		return nil, err
	}
	return &guard[K, V]{lru: c}, nil
}

func (g *guard[K, V]) begin() uint64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.gen
}

func (g *guard[K, V]) admit(gen uint64, key K, value V) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.gen == gen {
		g.lru.Add(key, value)
	}
}

func (g *guard[K, V]) invalidate(key K) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.gen++
	g.lru.Remove(key)
}

func (g *guard[K, V]) purge() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.gen++
	g.lru.Purge()
}

// --------------------------------------------------------------------------
// Caching Maplet
// --------------------------------------------------------------------------

type cachedValue[V any] struct {
	value V
	ok    bool
}

// CachingMaplet is a bounded read-through cache in front of a Maplet
type CachingMaplet[K comparable, V any] struct {
	inner Maplet[K, V]
	cache *guard[K, cachedValue[V]]
}

// NewCachingMaplet wraps inner with a cache of at most capacity keys
func NewCachingMaplet[K comparable, V any](inner Maplet[K, V], capacity int) (*CachingMaplet[K, V], error) {
	g, err := newGuard[K, cachedValue[V]](capacity)
	if err != nil {
		return nil, err
	}
	return &CachingMaplet[K, V]{inner: inner, cache: g}, nil
}

func (c *CachingMaplet[K, V]) ContainsKey(key K) (bool, error) {
	if cached, ok := c.cache.lru.Get(key); ok {
		return cached.ok, nil
	}
	return c.inner.ContainsKey(key)
}

func (c *CachingMaplet[K, V]) Get(key K) (V, bool, error) {
	if cached, ok := c.cache.lru.Get(key); ok {
		return cached.value, cached.ok, nil
	}
	gen := c.cache.begin()
	value, ok, err := c.inner.Get(key)
	if err != nil {
		return value, false, err
	}
	c.cache.admit(gen, key, cachedValue[V]{value: value, ok: ok})
	return value, ok, nil
}

func (c *CachingMaplet[K, V]) Put(key K, value V) error {
	defer c.cache.invalidate(key)
	return c.inner.Put(key, value)
}

func (c *CachingMaplet[K, V]) Remove(key K) error {
	defer c.cache.invalidate(key)
	return c.inner.Remove(key)
}

func (c *CachingMaplet[K, V]) Keys(fn func(key K) bool) error {
	return c.inner.Keys(fn)
}

func (c *CachingMaplet[K, V]) Flush() error {
	return c.inner.Flush()
}

func (c *CachingMaplet[K, V]) Close() error {
	c.cache.purge()
	return c.inner.Close()
}

// CacheLen returns the number of cached keys
func (c *CachingMaplet[K, V]) CacheLen() int {
	return c.cache.lru.Len()
}

var _ Maplet[string, string] = (*CachingMaplet[string, string])(nil)

// --------------------------------------------------------------------------
// Caching MultiMaplet
// --------------------------------------------------------------------------

// CachingMultiMaplet is a bounded read-through cache in front of a
// MultiMaplet. Collections are immutable, so cached ones are shared.
type CachingMultiMaplet[K comparable, V comparable] struct {
	inner MultiMaplet[K, V]
	cache *guard[K, Collection[V]]
}

// NewCachingMultiMaplet wraps inner with a cache of at most capacity keys
func NewCachingMultiMaplet[K comparable, V comparable](inner MultiMaplet[K, V], capacity int) (*CachingMultiMaplet[K, V], error) {
	g, err := newGuard[K, Collection[V]](capacity)
	if err != nil {
		return nil, err
	}
	return &CachingMultiMaplet[K, V]{inner: inner, cache: g}, nil
}

func (c *CachingMultiMaplet[K, V]) ContainsKey(key K) (bool, error) {
	if cached, ok := c.cache.lru.Get(key); ok {
		return !cached.IsEmpty(), nil
	}
	return c.inner.ContainsKey(key)
}

func (c *CachingMultiMaplet[K, V]) Get(key K) (Collection[V], error) {
	if cached, ok := c.cache.lru.Get(key); ok {
		return cached, nil
	}
	gen := c.cache.begin()
	values, err := c.inner.Get(key)
	if err != nil {
		return Collection[V]{}, err
	}
	c.cache.admit(gen, key, values)
	return values, nil
}

func (c *CachingMultiMaplet[K, V]) Put(key K, values []V) error {
	defer c.cache.invalidate(key)
	return c.inner.Put(key, values)
}

func (c *CachingMultiMaplet[K, V]) AppendValue(key K, value V) error {
	defer c.cache.invalidate(key)
	return c.inner.AppendValue(key, value)
}

func (c *CachingMultiMaplet[K, V]) AppendValues(key K, values []V) error {
	defer c.cache.invalidate(key)
	return c.inner.AppendValues(key, values)
}

func (c *CachingMultiMaplet[K, V]) RemoveValue(key K, value V) error {
	defer c.cache.invalidate(key)
	return c.inner.RemoveValue(key, value)
}

func (c *CachingMultiMaplet[K, V]) RemoveValues(key K, values []V) error {
	defer c.cache.invalidate(key)
	return c.inner.RemoveValues(key, values)
}

func (c *CachingMultiMaplet[K, V]) Remove(key K) error {
	defer c.cache.invalidate(key)
	return c.inner.Remove(key)
}

func (c *CachingMultiMaplet[K, V]) Keys(fn func(key K) bool) error {
	return c.inner.Keys(fn)
}

func (c *CachingMultiMaplet[K, V]) Flush() error {
	return c.inner.Flush()
}

func (c *CachingMultiMaplet[K, V]) Close() error {
	c.cache.purge()
	return c.inner.Close()
}

// CacheLen returns the number of cached keys
func (c *CachingMultiMaplet[K, V]) CacheLen() int {
	return c.cache.lru.Len()
}

var _ MultiMaplet[string, string] = (*CachingMultiMaplet[string, string])(nil)
