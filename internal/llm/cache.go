package llm

import (
	"container/list"
	"sync"
	"time"

	"remem/internal/logging"
)

// CacheStats is a point-in-time snapshot of cache counters.
type CacheStats struct {
	Hits      int64
	Misses    int64
	Bypassed  int64
	Evictions int64
	Size      int
	MaxSize   int
}

type cacheEntry struct {
	key      string
	response Response
	storedAt time.Time
}

// Cache is an LRU response cache with TTL expiry. Only deterministic
// requests (temperature == 0) are cached; everything else bypasses. Both
// lookup and insert are O(1).
type Cache struct {
	mu      sync.Mutex
	maxSize int
	ttl     time.Duration
	order   *list.List               // front = most recently used
	items   map[string]*list.Element // key -> element holding *cacheEntry

	hits      int64
	misses    int64
	bypassed  int64
	evictions int64
}

// NewCache creates a cache holding at most maxSize entries, each valid for
// ttl after insertion. maxSize <= 0 disables caching entirely.
func NewCache(maxSize int, ttl time.Duration) *Cache {
	return &Cache{
		maxSize: maxSize,
		ttl:     ttl,
		order:   list.New(),
		items:   make(map[string]*list.Element),
	}
}

// Cacheable reports whether a request is eligible for caching.
func (c *Cache) Cacheable(req *Request) bool {
	return c.maxSize > 0 && req.Temperature == 0
}

// Get returns the cached response for the request, if present and fresh.
// An expired entry is purged and counts as a miss. Non-cacheable requests
// count as bypassed.
func (c *Cache) Get(req *Request) (Response, bool) {
	if !c.Cacheable(req) {
		c.mu.Lock()
		c.bypassed++
		c.mu.Unlock()
		return Response{}, false
	}

	key := req.CacheKey()
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.items[key]
	if !ok {
		c.misses++
		return Response{}, false
	}
	entry := el.Value.(*cacheEntry)
	if time.Since(entry.storedAt) > c.ttl {
		c.order.Remove(el)
		delete(c.items, key)
		c.misses++
		logging.GatewayDebug("Cache entry expired: %s", key[:12])
		return Response{}, false
	}

	c.order.MoveToFront(el)
	c.hits++
	resp := entry.response
	resp.Cached = true
	return resp, true
}

// Put stores a response for the request, evicting the least recently used
// entry when full. Non-cacheable requests are ignored.
func (c *Cache) Put(req *Request, resp Response) {
	if !c.Cacheable(req) {
		return
	}
	resp.Cached = false

	key := req.CacheKey()
	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.items[key]; ok {
		entry := el.Value.(*cacheEntry)
		entry.response = resp
		entry.storedAt = time.Now()
		c.order.MoveToFront(el)
		return
	}

	for c.order.Len() >= c.maxSize {
		oldest := c.order.Back()
		if oldest == nil {
			break
		}
		c.order.Remove(oldest)
		delete(c.items, oldest.Value.(*cacheEntry).key)
		c.evictions++
	}

	el := c.order.PushFront(&cacheEntry{key: key, response: resp, storedAt: time.Now()})
	c.items[key] = el
}

// Stats returns a snapshot of the cache counters.
func (c *Cache) Stats() CacheStats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return CacheStats{
		Hits:      c.hits,
		Misses:    c.misses,
		Bypassed:  c.bypassed,
		Evictions: c.evictions,
		Size:      c.order.Len(),
		MaxSize:   c.maxSize,
	}
}

// Clear drops all entries but keeps the counters.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.order.Init()
	c.items = make(map[string]*list.Element)
}
