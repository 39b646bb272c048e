package msgcrypt

import (
	"sync"
	"sync/atomic"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

const (
	defaultCacheSize = 1000
	defaultCacheTTL  = 5 * time.Minute
)

// CacheStats is a point-in-time snapshot of the memoization cache counters.
type CacheStats struct {
	Hits      uint64
	Misses    uint64
	Evictions uint64
	Entries   int
}

// textCache memoizes plaintext -> ciphertext for one cipher. Entries expire
// after the TTL; when the size bound is reached, the entry closest to
// expiring (with a uniform TTL, the oldest) is dropped to admit the new one.
type textCache struct {
	mu      sync.Mutex // Guards the size check + insert pair.
	store   *gocache.Cache
	maxSize int

	hits      uint64
	misses    uint64
	evictions uint64
}

func newTextCache(size int, ttl time.Duration) *textCache {
	if size < 0 {
		return nil
	}
	if size == 0 {
		size = defaultCacheSize
	}
	if ttl <= 0 {
		ttl = defaultCacheTTL
	}
	return &textCache{
		store:   gocache.New(ttl, 2*ttl),
		maxSize: size,
	}
}

func (c *textCache) get(alg Algorithm, plaintext string) (string, bool) {
	if v, ok := c.store.Get(cacheKey(alg, plaintext)); ok {
		atomic.AddUint64(&c.hits, 1)
		return v.(string), true
	}
	atomic.AddUint64(&c.misses, 1)
	return "", false
}

func (c *textCache) put(alg Algorithm, plaintext, ciphertext string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.store.ItemCount() >= c.maxSize {
		c.evictEarliest()
	}
	c.store.Set(cacheKey(alg, plaintext), ciphertext, gocache.DefaultExpiration)
}

// evictEarliest removes the live entry with the earliest expiration.
// Caller holds mu.
func (c *textCache) evictEarliest() {
	var victim string
	var earliest int64
	for k, item := range c.store.Items() {
		if victim == "" || item.Expiration < earliest {
			victim = k
			earliest = item.Expiration
		}
	}
	if victim != "" {
		c.store.Delete(victim)
		atomic.AddUint64(&c.evictions, 1)
	}
}

func (c *textCache) stats() CacheStats {
	return CacheStats{
		Hits:      atomic.LoadUint64(&c.hits),
		Misses:    atomic.LoadUint64(&c.misses),
		Evictions: atomic.LoadUint64(&c.evictions),
		Entries:   c.store.ItemCount(),
	}
}
