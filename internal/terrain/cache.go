package terrain

import (
	"container/list"
	"sync"

	"github.com/zarigata/erathia-terrain/internal/compute"
)

// cacheEntry is one live (region, type) result. A GPU-only result has
// gpuReady set and no decoded value; a host-decoded result sets both flags.
// The two flags are independent on purpose: an entry can be ready to bind on
// the GPU long before (or without ever) having a host copy.
type cacheEntry struct {
	key      CacheKey
	resource *compute.Handle // primary output (field / placement buffer)
	aux      *compute.Handle // secondary output (materials / transforms)
	decoded  any
	gpuReady  bool
	hostReady bool
}

// releaseHandles frees the entry's device resources. Each handle is owned by
// exactly one entry, so this is the single point where they die.
func (e *cacheEntry) releaseHandles() {
	e.resource.Release()
	e.aux.Release()
	e.resource = nil
	e.aux = nil
}

// resourceCache maps CacheKey to generation results with LRU eviction. One
// lock guards the value map, the recency list and the handles; critical
// sections stay small and never submit device work.
type resourceCache struct {
	mu         sync.Mutex
	maxEntries int
	order      *list.List // front = most recently used; elements hold *cacheEntry
	index      map[CacheKey]*list.Element
}

func newResourceCache(maxEntries int) *resourceCache {
	if maxEntries < 1 {
		maxEntries = 1
	}
	return &resourceCache{
		maxEntries: maxEntries,
		order:      list.New(),
		index:      make(map[CacheKey]*list.Element),
	}
}

// get returns a snapshot of the entry and promotes it to most recently used.
func (c *resourceCache) get(key CacheKey) (cacheEntry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	el, ok := c.index[key]
	if !ok {
		return cacheEntry{}, false
	}
	c.order.MoveToFront(el)
	return *el.Value.(*cacheEntry), true
}

// peek returns a snapshot without touching recency. Used by readiness polls
// so that checking for content does not pin it in the cache.
func (c *resourceCache) peek(key CacheKey) (cacheEntry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	el, ok := c.index[key]
	if !ok {
		return cacheEntry{}, false
	}
	return *el.Value.(*cacheEntry), true
}

func (c *resourceCache) contains(key CacheKey) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.index[key]
	return ok
}

// put inserts or replaces the entry, promotes it, and evicts from the LRU
// tail until the configured maximum holds.
func (c *resourceCache) put(e cacheEntry) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.index[e.key]; ok {
		old := el.Value.(*cacheEntry)
		if old.resource != e.resource || old.aux != e.aux {
			old.releaseHandles()
		}
		*old = e
		c.order.MoveToFront(el)
	} else {
		stored := e
		c.index[e.key] = c.order.PushFront(&stored)
	}

	for c.order.Len() > c.maxEntries {
		c.evictOldestLocked()
	}
}

// update mutates an existing entry in place under the cache lock. Returns
// false if the key is not cached (evicted in the meantime — acceptable wasted
// work).
func (c *resourceCache) update(key CacheKey, mutate func(*cacheEntry)) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	el, ok := c.index[key]
	if !ok {
		return false
	}
	mutate(el.Value.(*cacheEntry))
	return true
}

// remove drops one entry and frees its resources.
func (c *resourceCache) remove(key CacheKey) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	el, ok := c.index[key]
	if !ok {
		return false
	}
	entry := el.Value.(*cacheEntry)
	entry.releaseHandles()
	c.order.Remove(el)
	delete(c.index, key)
	return true
}

func (c *resourceCache) evictOldestLocked() {
	el := c.order.Back()
	if el == nil {
		return
	}
	entry := el.Value.(*cacheEntry)
	entry.releaseHandles()
	c.order.Remove(el)
	delete(c.index, entry.key)
}

func (c *resourceCache) size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}

// setMaxEntries adjusts the bound, evicting immediately if needed.
func (c *resourceCache) setMaxEntries(n int) {
	if n < 1 {
		n = 1
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.maxEntries = n
	for c.order.Len() > c.maxEntries {
		c.evictOldestLocked()
	}
}

// clear frees every resource and empties all indices.
func (c *resourceCache) clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for el := c.order.Front(); el != nil; el = el.Next() {
		el.Value.(*cacheEntry).releaseHandles()
	}
	c.order.Init()
	c.index = make(map[CacheKey]*list.Element)
}
