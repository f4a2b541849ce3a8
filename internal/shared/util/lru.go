package util

import (
	"container/list"
	"sync"
)

// LRUCache is a size-bounded map that drops its least recently used entry
// once full. The resolver keeps per-file class tables and library lookups in
// it. Safe for concurrent use.
type LRUCache[K comparable, V any] struct {
	mu      sync.Mutex
	limit   int
	entries map[K]*list.Element
	recency *list.List // front is most recent
}

type cacheEntry[K comparable, V any] struct {
	key K
	val V
}

// NewLRUCache returns a cache holding at most limit entries. A limit below 1
// is raised to 1.
func NewLRUCache[K comparable, V any](limit int) *LRUCache[K, V] {
	limit = max(limit, 1)
	return &LRUCache[K, V]{
		limit:   limit,
		entries: make(map[K]*list.Element, limit),
		recency: list.New(),
	}
}

func (c *LRUCache[K, V]) Get(key K) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.entries[key]
	if !ok {
		var zero V
		return zero, false
	}
	c.recency.MoveToFront(el)
	return el.Value.(*cacheEntry[K, V]).val, true
}

// Put stores val under key and marks it most recent.
func (c *LRUCache[K, V]) Put(key K, val V) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.entries[key]; ok {
		el.Value.(*cacheEntry[K, V]).val = val
		c.recency.MoveToFront(el)
		return
	}
	for c.recency.Len() >= c.limit {
		c.removeLocked(c.recency.Back())
	}
	c.entries[key] = c.recency.PushFront(&cacheEntry[K, V]{key: key, val: val})
}

// Evict drops key if present.
func (c *LRUCache[K, V]) Evict(key K) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.entries[key]; ok {
		c.removeLocked(el)
	}
}

// EvictFunc drops every entry match accepts and returns how many went.
func (c *LRUCache[K, V]) EvictFunc(match func(K, V) bool) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	n := 0
	for el := c.recency.Front(); el != nil; {
		next := el.Next()
		e := el.Value.(*cacheEntry[K, V])
		if match(e.key, e.val) {
			c.removeLocked(el)
			n++
		}
		el = next
	}
	return n
}

func (c *LRUCache[K, V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.recency.Len()
}

func (c *LRUCache[K, V]) Cap() int {
	return c.limit
}

func (c *LRUCache[K, V]) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.recency.Init()
	clear(c.entries)
}

func (c *LRUCache[K, V]) removeLocked(el *list.Element) {
	if el == nil {
		return
	}
	c.recency.Remove(el)
	delete(c.entries, el.Value.(*cacheEntry[K, V]).key)
}
