package cache

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"sync/atomic"
	"time"
)

// snapshot is the on-disk format: a flat JSON dump of live entries.
type snapshot struct {
	SavedAt time.Time `json:"saved_at"`
	Entries []Entry   `json:"entries"`
}

// SaveSnapshot writes all non-expired entries to path as JSON.
// Only an inaccessible path is reported as an error; an empty store
// still produces a valid snapshot.
func (c *Memory) SaveSnapshot(path string) error {
	c.mu.RLock()
	snap := snapshot{SavedAt: time.Now()}
	for elem := c.order.Front(); elem != nil; elem = elem.Next() {
		item := elem.Value.(*cacheItem)
		if item.entry.IsExpired() {
			continue
		}
		snap.Entries = append(snap.Entries, item.entry)
	}
	c.mu.RUnlock()

	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}

	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write snapshot %s: %w", path, err)
	}
	return nil
}

// LoadSnapshot restores entries from a snapshot file, skipping any that
// are already expired. A missing or corrupt file means "start empty"
// and is not an error; only an unreadable path is reported.
// Returns the number of entries restored.
func (c *Memory) LoadSnapshot(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("read snapshot %s: %w", path, err)
	}

	var snap snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		// Corrupt snapshot: start empty.
		return 0, nil
	}

	// Oldest first, so the back of the list stays the eviction candidate.
	sort.Slice(snap.Entries, func(i, j int) bool {
		return snap.Entries[i].CreatedAt.Before(snap.Entries[j].CreatedAt)
	})

	c.mu.Lock()
	defer c.mu.Unlock()

	restored := 0
	for _, entry := range snap.Entries {
		if entry.IsExpired() {
			continue
		}
		if elem, ok := c.items[entry.Key]; ok {
			c.removeElement(elem)
		}
		e := entry
		elem := c.order.PushFront(&cacheItem{entry: e})
		c.items[e.Key] = elem
		atomic.AddInt64(&c.stats.Size, 1)
		atomic.AddInt64(&c.stats.SizeBytes, e.Size)
		restored++
	}

	// A snapshot written under a larger configuration may exceed this
	// store's bounds. Evict oldest entries until the bounds hold; a
	// single oversized entry stays admitted, matching Set.
	for c.order.Len() > 1 && c.overBounds() {
		c.evictOldest()
		restored--
	}

	return restored, nil
}
