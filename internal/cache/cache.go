// Package cache implements the block cache: a bounded cache of
// decoded SSTable data blocks keyed by (file number, block offset), with
// concurrent misses on the same key coalesced into a single load.
// Grounded on github.com/cockroachdb/pebble/internal/cache, whose eviction
// policy (clockpro.go) is a CLOCK-style sweep rather than a textbook
// doubly-linked LRU, because a CLOCK sweep needs no list reordering on a
// cache hit and so is cheaper under concurrent readers.
package cache

import (
	"container/list"
	"fmt"
	"sync"

	"golang.org/x/sync/singleflight"
)

// Key identifies a cached data block.
type Key struct {
	FileNum uint64
	Offset  uint64
}

type ringEntry struct {
	key        Key
	value      []byte
	referenced bool
}

// Cache is a bounded, thread-safe block cache. Capacity is expressed in
// bytes of decoded block content.
type Cache struct {
	mu       sync.Mutex
	capacity uint64
	size     uint64
	ring     *list.List
	hand     *list.Element
	entries  map[Key]*list.Element
	group    singleflight.Group

	onHit  func()
	onMiss func()
}

// SetMetricsHooks registers callbacks invoked on every GetOrLoad hit/miss,
// letting the DB façade feed the cache's hit rate into its Metrics
// snapshot without the cache package depending on internal/metrics.
func (c *Cache) SetMetricsHooks(onHit, onMiss func()) {
	c.onHit, c.onMiss = onHit, onMiss
}

// New returns a cache bounded to capacityBytes. A capacity of zero disables
// caching: every Set is immediately evicted and every Get misses. The DB
// façade never passes zero: Options.EnsureDefaults turns a zero
// BlockCacheBytes into 8 MiB.
func New(capacityBytes uint64) *Cache {
	return &Cache{
		capacity: capacityBytes,
		ring:     list.New(),
		entries:  make(map[Key]*list.Element),
	}
}

// Get returns the cached block for key, marking it referenced on a hit.
func (c *Cache) Get(key Key) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	el, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	re := el.Value.(*ringEntry)
	re.referenced = true
	return re.value, true
}

// Set inserts or replaces the cached block for key, evicting older entries
// if needed to stay within capacity.
func (c *Cache) Set(key Key, value []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.entries[key]; ok {
		re := el.Value.(*ringEntry)
		c.size += uint64(len(value)) - uint64(len(re.value))
		re.value = value
		re.referenced = true
	} else {
		el := c.ring.PushBack(&ringEntry{key: key, value: value})
		c.entries[key] = el
		c.size += uint64(len(value))
	}
	c.evictLocked()
}

func (c *Cache) evictLocked() {
	for c.size > c.capacity && c.ring.Len() > 0 {
		if c.hand == nil {
			c.hand = c.ring.Front()
		}
		re := c.hand.Value.(*ringEntry)
		if re.referenced {
			re.referenced = false
			c.hand = c.hand.Next()
			continue
		}
		victim := c.hand
		delete(c.entries, re.key)
		c.ring.Remove(victim)
		c.size -= uint64(len(re.value))
		if c.ring.Len() == 0 {
			c.hand = nil
		} else {
			c.hand = c.ring.Front()
		}
	}
}

// GetOrLoad returns the cached block for key, calling loader to populate
// the cache on a miss. Concurrent callers racing on the same key share a
// single call to loader via golang.org/x/sync/singleflight, so only one
// loader ever reads a given block from disk at a time.
func (c *Cache) GetOrLoad(key Key, loader func() ([]byte, error)) ([]byte, error) {
	if v, ok := c.Get(key); ok {
		if c.onHit != nil {
			c.onHit()
		}
		return v, nil
	}
	if c.onMiss != nil {
		c.onMiss()
	}
	sfKey := fmt.Sprintf("%d:%d", key.FileNum, key.Offset)
	v, err, _ := c.group.Do(sfKey, func() (interface{}, error) {
		if v, ok := c.Get(key); ok {
			return v, nil
		}
		data, err := loader()
		if err != nil {
			return nil, err
		}
		c.Set(key, data)
		return data, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]byte), nil
}

// EvictFile drops every cached block belonging to fileNum, used when an
// SSTable is deleted after compaction so stale entries don't linger.
func (c *Cache) EvictFile(fileNum uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for key, el := range c.entries {
		if key.FileNum == fileNum {
			c.ring.Remove(el)
			delete(c.entries, key)
			re := el.Value.(*ringEntry)
			c.size -= uint64(len(re.value))
		}
	}
	c.hand = nil
}
