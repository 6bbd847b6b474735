package account

import "container/list"

// assocCache is a bounded path-keyed association cache with least recently
// used eviction.  The session keeps per-folder handles in one so that state
// learned about recently touched folders stays addressable while memory
// stays capped.
type assocCache[V any] struct {
	cap     int
	order   *list.List // front is most recently used
	entries map[string]*list.Element
}

type cacheEntry[V any] struct {
	key string
	val V
}

func newAssocCache[V any](capacity int) *assocCache[V] {
	if capacity < 1 {
		capacity = 1
	}
	return &assocCache[V]{
		cap:     capacity,
		order:   list.New(),
		entries: make(map[string]*list.Element),
	}
}

// get returns the cached value and marks it most recently used.
func (c *assocCache[V]) get(key string) (V, bool) {
	if el, ok := c.entries[key]; ok {
		c.order.MoveToFront(el)
		return el.Value.(*cacheEntry[V]).val, true
	}
	var zero V
	return zero, false
}

// put inserts or refreshes a value, evicting the least recently used entry
// when over capacity.
func (c *assocCache[V]) put(key string, val V) {
	if el, ok := c.entries[key]; ok {
		el.Value.(*cacheEntry[V]).val = val
		c.order.MoveToFront(el)
		return
	}
	c.entries[key] = c.order.PushFront(&cacheEntry[V]{key: key, val: val})
	for c.order.Len() > c.cap {
		oldest := c.order.Back()
		c.order.Remove(oldest)
		delete(c.entries, oldest.Value.(*cacheEntry[V]).key)
	}
}

// remove drops one entry if present.
func (c *assocCache[V]) remove(key string) {
	if el, ok := c.entries[key]; ok {
		c.order.Remove(el)
		delete(c.entries, key)
	}
}

// clear drops everything, used on disconnect.
func (c *assocCache[V]) clear() {
	c.order.Init()
	clear(c.entries)
}

func (c *assocCache[V]) len() int {
	return c.order.Len()
}
