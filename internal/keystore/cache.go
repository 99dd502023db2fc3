package keystore

import (
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

const cacheTTL = 60 * time.Second

// cacheEntry mirrors the KeyCache entry shape: a KeyInfo plus the time it
// was inserted. An entry older than cacheTTL is treated as a cache miss.
type cacheEntry struct {
	info       KeyInfo
	insertedAt time.Time
}

// isExpired reports whether the entry is older than the fixed 60s TTL.
func (e cacheEntry) isExpired(now time.Time) bool {
	return now.Sub(e.insertedAt) >= cacheTTL
}

// keyCache is a thread-safe, bounded, TTL-based cache of KeyInfo lookups.
// A cache hit skips the remote KeyInfo fetch but never skips the rate-limit
// charge — callers must still perform that against the remote store.
type keyCache struct {
	cache *lru.Cache[string, cacheEntry]
	mu    sync.Mutex
}

func newKeyCache(maxSize int) *keyCache {
	if maxSize <= 0 {
		maxSize = 4096
	}
	c, err := lru.New[string, cacheEntry](maxSize)
	if err != nil {
		// Only returns an error for a non-positive size, which is guarded above.
		panic(err)
	}
	return &keyCache{cache: c}
}

// get returns the cached KeyInfo if present and fresh. An inactive entry is
// returned as-is; callers treat inactive as Invalid without a remote charge.
func (c *keyCache) get(key string) (KeyInfo, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.cache.Get(key)
	if !ok {
		return KeyInfo{}, false
	}
	if entry.isExpired(time.Now()) {
		c.cache.Remove(key)
		return KeyInfo{}, false
	}
	return entry.info, true
}

func (c *keyCache) set(key string, info KeyInfo) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cache.Add(key, cacheEntry{info: info, insertedAt: time.Now()})
}
