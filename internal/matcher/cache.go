package matcher

import (
	"container/list"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// Resolver is the lookup surface adapters depend on. Both Matcher and
// CachedMatcher implement it.
type Resolver interface {
	Match(name, source string) (Result, bool)
	MatchCode(code, source string) (Result, bool)
}

// CachedMatcher wraps a Resolver with an in-memory LRU cache keyed by source
// and normalized name, so case and spacing variants share an entry. The
// gazetteer is read-only during runs, so misses are cached as well as hits.
type CachedMatcher struct {
	inner   Resolver
	cache   *lruCache
	lookups *prometheus.CounterVec // labels: result={hit,miss}; may be nil
}

// NewCachedMatcher creates a cache decorator holding up to maxEntries lookups.
func NewCachedMatcher(inner Resolver, maxEntries int, lookups *prometheus.CounterVec) *CachedMatcher {
	return &CachedMatcher{
		inner:   inner,
		cache:   newLRUCache(maxEntries),
		lookups: lookups,
	}
}

func (c *CachedMatcher) Match(name, source string) (Result, bool) {
	return c.lookup("name|"+source+"|"+Normalize(name), func() (Result, bool) {
		return c.inner.Match(name, source)
	})
}

func (c *CachedMatcher) MatchCode(code, source string) (Result, bool) {
	return c.lookup("code|"+source+"|"+code, func() (Result, bool) {
		return c.inner.MatchCode(code, source)
	})
}

func (c *CachedMatcher) lookup(key string, resolve func() (Result, bool)) (Result, bool) {
	if v, ok := c.cache.get(key); ok {
		c.count("hit")
		return v.result, v.found
	}
	c.count("miss")
	r, found := resolve()
	c.cache.put(key, cached{result: r, found: found})
	return r, found
}

func (c *CachedMatcher) count(result string) {
	if c.lookups != nil {
		c.lookups.WithLabelValues(result).Inc()
	}
}

type cached struct {
	key    string
	result Result
	found  bool
}

// lruCache is a mutex-guarded LRU of match outcomes. The front of order is the
// most recently used key. Entries never expire: the gazetteer does not change
// while the process runs.
type lruCache struct {
	mu    sync.Mutex
	limit int
	order *list.List
	byKey map[string]*list.Element
}

func newLRUCache(limit int) *lruCache {
	return &lruCache{
		limit: max(limit, 1),
		order: list.New(),
		byKey: make(map[string]*list.Element),
	}
}

func (c *lruCache) get(key string) (cached, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	el, ok := c.byKey[key]
	if !ok {
		return cached{}, false
	}
	c.order.MoveToFront(el)
	return el.Value.(cached), true
}

func (c *lruCache) put(key string, v cached) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v.key = key
	if el, ok := c.byKey[key]; ok {
		el.Value = v
		c.order.MoveToFront(el)
		return
	}
	c.byKey[key] = c.order.PushFront(v)
	for c.order.Len() > c.limit {
		oldest := c.order.Back()
		delete(c.byKey, oldest.Value.(cached).key)
		c.order.Remove(oldest)
	}
}

func (c *lruCache) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}
