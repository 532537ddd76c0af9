package adb

import (
	"container/list"
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
)

const (
	defaultCacheSize = 100
	defaultCacheTTL  = 30 * time.Second
)

// Key identifies one (device, command) pair in the cache.
type Key string

// CacheStats is a point-in-time view of cache counters.
type CacheStats struct {
	Hits    int64
	Misses  int64
	Size    int
	Pending int
}

type cacheEntry struct {
	key        Key
	result     Result
	capturedAt time.Time
}

// Pending is a handle to an in-flight execution for one key.
type Pending struct {
	done   chan struct{}
	result Result
}

// Wait blocks until the owning execution resolves the handle or ctx ends.
func (p *Pending) Wait(ctx context.Context) Result {
	select {
	case <-p.done:
		return p.result
	case <-ctx.Done():
		return contextResult(ctx.Err())
	}
}

// Cache is a bounded LRU of successful command results plus the registry of
// in-flight executions used for de-duplication.
type Cache struct {
	maxSize int
	ttl     time.Duration
	now     func() time.Time

	mu      sync.Mutex
	order   *list.List // front = most recently used
	entries map[Key]*list.Element
	pending map[Key]*Pending
	hits    int64
	misses  int64
}

// NewCache builds a cache; non-positive arguments fall back to 100 entries / 30s.
func NewCache(maxSize int, ttl time.Duration) *Cache {
	if maxSize <= 0 {
		maxSize = defaultCacheSize
	}
	if ttl <= 0 {
		ttl = defaultCacheTTL
	}
	return &Cache{
		maxSize: maxSize,
		ttl:     ttl,
		now:     time.Now,
		order:   list.New(),
		entries: make(map[Key]*list.Element),
		pending: make(map[Key]*Pending),
	}
}

// Key hashes the command text together with the device identity.
func (c *Cache) Key(deviceID, command string) Key {
	sum := xxhash.Sum64String(deviceID + "\x00" + command)
	return Key(deviceID + "_" + strconv.FormatUint(sum, 16))
}

// Lookup returns a fresh cached result. Expired entries are dropped here.
func (c *Cache) Lookup(key Key) (Result, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.entries[key]
	if !ok {
		c.misses++
		return Result{}, false
	}
	entry := elem.Value.(*cacheEntry)
	if c.now().Sub(entry.capturedAt) >= c.ttl {
		c.removeElement(elem)
		c.misses++
		return Result{}, false
	}
	c.order.MoveToFront(elem)
	c.hits++
	return entry.result, true
}

// Store inserts or refreshes key, evicting the least recently used entry when full.
func (c *Cache) Store(key Key, result Result) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	if elem, ok := c.entries[key]; ok {
		entry := elem.Value.(*cacheEntry)
		entry.result = result
		entry.capturedAt = now
		c.order.MoveToFront(elem)
		return
	}
	if c.order.Len() >= c.maxSize {
		if oldest := c.order.Back(); oldest != nil {
			c.removeElement(oldest)
		}
	}
	c.entries[key] = c.order.PushFront(&cacheEntry{key: key, result: result, capturedAt: now})
}

// Sweep removes every expired entry and reports how many were dropped.
func (c *Cache) Sweep() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	removed := 0
	for elem := c.order.Back(); elem != nil; {
		prev := elem.Prev()
		if now.Sub(elem.Value.(*cacheEntry).capturedAt) >= c.ttl {
			c.removeElement(elem)
			removed++
		}
		elem = prev
	}
	return removed
}

// RegisterPending returns the handle for key. leader is true when the caller
// created it and is therefore responsible for ResolvePending.
func (c *Cache) RegisterPending(key Key) (handle *Pending, leader bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if p, ok := c.pending[key]; ok {
		return p, false
	}
	p := &Pending{done: make(chan struct{})}
	c.pending[key] = p
	return p, true
}

// InFlight reports an outstanding handle without registering one.
func (c *Cache) InFlight(key Key) (*Pending, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	p, ok := c.pending[key]
	return p, ok
}

// ResolvePending publishes result to every waiter and forgets the handle.
func (c *Cache) ResolvePending(key Key, result Result) {
	c.mu.Lock()
	p, ok := c.pending[key]
	if ok {
		delete(c.pending, key)
	}
	c.mu.Unlock()
	if !ok {
		return
	}
	p.result = result
	close(p.done)
}

// Stats returns hit/miss counters and current sizes.
func (c *Cache) Stats() CacheStats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return CacheStats{
		Hits:    c.hits,
		Misses:  c.misses,
		Size:    c.order.Len(),
		Pending: len(c.pending),
	}
}

func (c *Cache) removeElement(elem *list.Element) {
	entry := c.order.Remove(elem).(*cacheEntry)
	delete(c.entries, entry.key)
}
