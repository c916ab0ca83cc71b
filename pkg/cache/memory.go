package cache

import (
	"container/list"
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// Memory is an in-memory TTL cache with oldest-first eviction.
// The internal list is kept in insertion order, so the back of the
// list is always the entry with the smallest CreatedAt (ties broken
// by insertion order). Get does not reorder entries.
type Memory struct {
	mu      sync.RWMutex
	items   map[string]*list.Element
	order   *list.List
	cfg     Config
	stats   Stats
	stopCh  chan struct{}
	stopped atomic.Bool
}

type cacheItem struct {
	entry Entry
}

// NewMemory creates a new in-memory cache store.
func NewMemory(cfg Config) *Memory {
	if cfg.CleanupInterval == 0 {
		cfg.CleanupInterval = DefaultConfig().CleanupInterval
	}

	c := &Memory{
		items:  make(map[string]*list.Element),
		order:  list.New(),
		cfg:    cfg,
		stopCh: make(chan struct{}),
		stats: Stats{
			MaxSize:      cfg.MaxSize,
			MaxSizeBytes: cfg.MaxSizeBytes,
		},
	}

	// Start cleanup goroutine
	go c.cleanupLoop()

	return c
}

// Get retrieves a value by key. An expired entry is removed and
// reported as a miss.
func (c *Memory) Get(ctx context.Context, key string) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.items[key]
	if !ok {
		atomic.AddInt64(&c.stats.Misses, 1)
		return nil, ErrNotFound
	}

	item := elem.Value.(*cacheItem)

	if item.entry.IsExpired() {
		c.removeElement(elem)
		atomic.AddInt64(&c.stats.Misses, 1)
		atomic.AddInt64(&c.stats.Expirations, 1)
		return nil, ErrNotFound
	}

	atomic.AddInt64(&c.stats.Hits, 1)
	return item.entry.Value, nil
}

// Set stores a value with optional TTL. If the new entry would push the
// store past its size bounds, the oldest entries are evicted first. A
// single entry larger than the byte bound is still admitted once the
// store is empty.
func (c *Memory) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	size := int64(len(key) + len(value))

	var expiresAt time.Time
	if ttl > 0 {
		expiresAt = time.Now().Add(ttl)
	} else if c.cfg.DefaultTTL > 0 {
		expiresAt = time.Now().Add(c.cfg.DefaultTTL)
	}

	entry := Entry{
		Key:       key,
		Value:     value,
		CreatedAt: time.Now(),
		ExpiresAt: expiresAt,
		Size:      size,
	}

	// Overwriting a key makes it the newest entry again.
	if elem, ok := c.items[key]; ok {
		c.removeElement(elem)
	}

	for c.needsEviction(size) && c.order.Len() > 0 {
		c.evictOldest()
	}

	elem := c.order.PushFront(&cacheItem{entry: entry})
	c.items[key] = elem
	atomic.AddInt64(&c.stats.Size, 1)
	atomic.AddInt64(&c.stats.SizeBytes, size)
	atomic.AddInt64(&c.stats.Sets, 1)

	return nil
}

// Delete removes a key from the cache.
func (c *Memory) Delete(ctx context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.items[key]
	if !ok {
		return ErrNotFound
	}

	c.removeElement(elem)
	atomic.AddInt64(&c.stats.Deletes, 1)
	return nil
}

// Has checks if a key exists.
func (c *Memory) Has(ctx context.Context, key string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()

	elem, ok := c.items[key]
	if !ok {
		return false
	}

	item := elem.Value.(*cacheItem)
	return !item.entry.IsExpired()
}

// Clear removes all entries and resets the hit/miss counters.
func (c *Memory) Clear(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.items = make(map[string]*list.Element)
	c.order.Init()
	atomic.StoreInt64(&c.stats.Size, 0)
	atomic.StoreInt64(&c.stats.SizeBytes, 0)
	atomic.StoreInt64(&c.stats.Hits, 0)
	atomic.StoreInt64(&c.stats.Misses, 0)

	return nil
}

// Stats returns cache statistics.
func (c *Memory) Stats() Stats {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return Stats{
		Hits:         atomic.LoadInt64(&c.stats.Hits),
		Misses:       atomic.LoadInt64(&c.stats.Misses),
		Sets:         atomic.LoadInt64(&c.stats.Sets),
		Deletes:      atomic.LoadInt64(&c.stats.Deletes),
		Evictions:    atomic.LoadInt64(&c.stats.Evictions),
		Expirations:  atomic.LoadInt64(&c.stats.Expirations),
		Size:         atomic.LoadInt64(&c.stats.Size),
		SizeBytes:    atomic.LoadInt64(&c.stats.SizeBytes),
		MaxSize:      c.cfg.MaxSize,
		MaxSizeBytes: c.cfg.MaxSizeBytes,
	}
}

// Close stops the cleanup goroutine and releases resources.
func (c *Memory) Close() error {
	if c.stopped.CompareAndSwap(false, true) {
		close(c.stopCh)
	}
	return nil
}

// needsEviction checks if we need to evict entries.
func (c *Memory) needsEviction(additionalSize int64) bool {
	if c.cfg.MaxSize > 0 && atomic.LoadInt64(&c.stats.Size) >= c.cfg.MaxSize {
		return true
	}
	if c.cfg.MaxSizeBytes > 0 && atomic.LoadInt64(&c.stats.SizeBytes)+additionalSize > c.cfg.MaxSizeBytes {
		return true
	}
	return false
}

// overBounds reports whether the store currently exceeds its limits,
// as opposed to needsEviction's make-room check before an insert.
func (c *Memory) overBounds() bool {
	if c.cfg.MaxSize > 0 && atomic.LoadInt64(&c.stats.Size) > c.cfg.MaxSize {
		return true
	}
	if c.cfg.MaxSizeBytes > 0 && atomic.LoadInt64(&c.stats.SizeBytes) > c.cfg.MaxSizeBytes {
		return true
	}
	return false
}

// evictOldest removes the entry with the smallest CreatedAt.
func (c *Memory) evictOldest() {
	elem := c.order.Back()
	if elem == nil {
		return
	}
	c.removeElement(elem)
	atomic.AddInt64(&c.stats.Evictions, 1)
}

// removeElement removes an element from the cache.
func (c *Memory) removeElement(elem *list.Element) {
	item := elem.Value.(*cacheItem)
	delete(c.items, item.entry.Key)
	c.order.Remove(elem)
	atomic.AddInt64(&c.stats.Size, -1)
	atomic.AddInt64(&c.stats.SizeBytes, -item.entry.Size)
}

// cleanupLoop periodically removes expired entries. This bounds memory
// even when keys are never read again; Get self-heals regardless.
func (c *Memory) cleanupLoop() {
	ticker := time.NewTicker(c.cfg.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.cleanup()
		case <-c.stopCh:
			return
		}
	}
}

// cleanup removes expired entries.
func (c *Memory) cleanup() {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	var toRemove []*list.Element

	for elem := c.order.Back(); elem != nil; elem = elem.Prev() {
		item := elem.Value.(*cacheItem)
		if !item.entry.ExpiresAt.IsZero() && now.After(item.entry.ExpiresAt) {
			toRemove = append(toRemove, elem)
		}
	}

	for _, elem := range toRemove {
		c.removeElement(elem)
		atomic.AddInt64(&c.stats.Expirations, 1)
	}
}
