// Package cache implements the serialization cache used on the fan-out
// path: a bounded LRU of envelope identity -> encoded wire frame with TTL
// expiry. When one envelope goes to many peers, serialization and
// encryption run once and every recipient reuses the frame.
package cache

import (
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/simplelru"

	"github.com/shuliangfu/wsmesh/internal/defaults"
	"github.com/shuliangfu/wsmesh/internal/quickhash"
)

// Config bounds a MessageCache.
type Config struct {
	MaxSize int           // Max live entries; 0 uses the default.
	TTL     time.Duration // Entry lifetime; 0 uses the default.
}

// Stats is a point-in-time snapshot of the cache counters.
type Stats struct {
	Hits        uint64
	Misses      uint64
	Evictions   uint64
	Expirations uint64
	Entries     int
}

type entry struct {
	frame     []byte
	expiresAt time.Time
	useCount  uint64
}

// MessageCache is safe for concurrent use. A nil *MessageCache is a valid
// always-miss cache, which is how "cache disabled" is expressed.
type MessageCache struct {
	mu  sync.Mutex // Guards lru, entry mutation, and counters.
	lru *simplelru.LRU
	ttl time.Duration

	hits        uint64
	misses      uint64
	evictions   uint64
	expirations uint64

	now func() time.Time // Test hook.
}

// New builds a MessageCache with the configured bounds.
func New(cfg Config) (*MessageCache, error) {
	if cfg.MaxSize <= 0 {
		cfg.MaxSize = defaults.MessageCacheSize
	}
	if cfg.TTL <= 0 {
		cfg.TTL = defaults.MessageCacheTTL
	}
	c := &MessageCache{ttl: cfg.TTL, now: time.Now}
	lru, err := simplelru.NewLRU(cfg.MaxSize, func(interface{}, interface{}) {
		c.evictions++ // Runs under mu via Add/Remove.
	})
	if err != nil {
		return nil, err
	}
	c.lru = lru
	return c, nil
}

// Key derives the cache key for an envelope identity from its event name
// and encoded data.
func Key(event string, data []byte) string {
	return quickhash.Sum(event + "\x1f" + string(data))
}

// Get returns the cached frame for key, promoting the entry and counting
// the use. Expired entries are dropped and miss.
func (c *MessageCache) Get(key string) ([]byte, bool) {
	if c == nil {
		return nil, false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.lru.Get(key)
	if !ok {
		c.misses++
		return nil, false
	}
	e := v.(*entry)
	if c.now().After(e.expiresAt) {
		c.lru.Remove(key)
		c.evictions-- // Remove fired the evict callback; this was an expiry.
		c.expirations++
		c.misses++
		return nil, false
	}
	e.useCount++
	c.hits++
	return e.frame, true
}

// Put stores the frame under key. At capacity, the least recently used
// entry is evicted.
func (c *MessageCache) Put(key string, frame []byte) {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lru.Add(key, &entry{frame: frame, expiresAt: c.now().Add(c.ttl)})
}

// UseCount returns how many times the entry has been served, without
// promoting it.
func (c *MessageCache) UseCount(key string) uint64 {
	if c == nil {
		return 0
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if v, ok := c.lru.Peek(key); ok {
		return v.(*entry).useCount
	}
	return 0
}

// Len returns the number of live entries (including not-yet-collected
// expired ones).
func (c *MessageCache) Len() int {
	if c == nil {
		return 0
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Len()
}

// Purge drops every entry.
func (c *MessageCache) Purge() {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lru.Purge()
	c.evictions = 0
	c.expirations = 0
}

// Stats returns a snapshot of the counters.
func (c *MessageCache) Stats() Stats {
	if c == nil {
		return Stats{}
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return Stats{
		Hits:        c.hits,
		Misses:      c.misses,
		Evictions:   c.evictions,
		Expirations: c.expirations,
		Entries:     c.lru.Len(),
	}
}
