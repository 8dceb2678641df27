package querycache

import (
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// entry is a cached answer pinned to the corpus version it was computed from.
// chunkIDs records which chunks backed the answer, for inspection and logs.
type entry struct {
	answer   string
	version  int64
	chunkIDs []string
	storedAt time.Time
}

// Cache is an in-process query→answer cache. Entries live until the process
// exits, their TTL passes, or the corpus version moves past the one they were
// computed against. Lookups never touch the backing store.
type Cache struct {
	mu         sync.RWMutex
	entries    map[string]entry
	ttl        time.Duration // 0 means entries never expire
	cacheTotal *prometheus.CounterVec
	now        func() time.Time
}

// New creates an empty query cache.
// cacheTotal is a counter vec with label "result" ("hit"/"miss"), passed explicitly.
func New(ttl time.Duration, cacheTotal *prometheus.CounterVec) *Cache {
	return &Cache{
		entries:    make(map[string]entry),
		ttl:        ttl,
		cacheTotal: cacheTotal,
		now:        time.Now,
	}
}

// Get returns the cached answer for a query if it is still fresh: written
// against the current corpus version and within its TTL. Stale entries are
// evicted lazily on lookup.
func (c *Cache) Get(query string, version int64) (string, bool) {
	key := Normalize(query)

	c.mu.RLock()
	e, ok := c.entries[key]
	c.mu.RUnlock()

	if ok && e.version == version && !c.expired(e) {
		c.incCache("hit")
		return e.answer, true
	}

	if ok {
		c.mu.Lock()
		// re-check under the write lock: a fresh Put may have replaced it
		if cur, still := c.entries[key]; still && (cur.version != version || c.expired(cur)) {
			delete(c.entries, key)
		}
		c.mu.Unlock()
	}

	c.incCache("miss")
	return "", false
}

// Put stores an answer for a query computed against the given corpus version,
// together with the IDs of the chunks it was grounded on.
func (c *Cache) Put(query, answer string, version int64, chunkIDs []string) {
	key := Normalize(query)
	c.mu.Lock()
	c.entries[key] = entry{answer: answer, version: version, chunkIDs: chunkIDs, storedAt: c.now()}
	c.mu.Unlock()
}

// Len returns the number of resident entries, stale ones included.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

func (c *Cache) expired(e entry) bool {
	return c.ttl > 0 && c.now().Sub(e.storedAt) > c.ttl
}

func (c *Cache) incCache(result string) {
	if c.cacheTotal != nil {
		c.cacheTotal.WithLabelValues(result).Inc()
	}
}

// Normalize maps textually equivalent queries to one cache key: trimmed,
// lowercased, inner whitespace runs collapsed to single spaces.
func Normalize(query string) string {
	return strings.Join(strings.Fields(strings.ToLower(query)), " ")
}
