package cache

import (
	"container/list"
	"sync"
	"time"
)

// EvictReason tells an eviction callback why an entry left the cache.
type EvictReason int

const (
	EvictCapacity EvictReason = iota
	EvictExpired
	EvictDeleted
)

func (r EvictReason) String() string {
	switch r {
	case EvictCapacity:
		return "capacity"
	case EvictExpired:
		return "expired"
	case EvictDeleted:
		return "deleted"
	default:
		return "unknown"
	}
}

// LRU is a generic LRU cache with sliding per-entry TTL. Every Get or Put
// on a live entry pushes its deadline out by ttl. A zero ttl disables expiry.
type LRU[K comparable, V any] struct {
	mu       sync.Mutex
	capacity int
	ttl      time.Duration
	items    map[K]*list.Element
	order    *list.List
	nowFn    func() time.Time
	onEvict  func(K, V, EvictReason)

	hits   int64
	misses int64
}

type entry[K comparable, V any] struct {
	key       K
	value     V
	expiresAt time.Time
}

// Option configures an LRU.
type Option[K comparable, V any] func(*LRU[K, V])

// WithEvictCallback registers fn to run after an entry is removed. The
// callback runs outside the cache lock.
func WithEvictCallback[K comparable, V any](fn func(K, V, EvictReason)) Option[K, V] {
	return func(c *LRU[K, V]) { c.onEvict = fn }
}

// WithClock replaces time.Now for deadline checks.
func WithClock[K comparable, V any](now func() time.Time) Option[K, V] {
	return func(c *LRU[K, V]) { c.nowFn = now }
}

func NewLRU[K comparable, V any](capacity int, ttl time.Duration, opts ...Option[K, V]) *LRU[K, V] {
	if capacity < 1 {
		capacity = 1
	}
	c := &LRU[K, V]{
		capacity: capacity,
		ttl:      ttl,
		items:    make(map[K]*list.Element, capacity),
		order:    list.New(),
		nowFn:    time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Get returns the live value for key and refreshes its deadline.
func (c *LRU[K, V]) Get(key K) (V, bool) {
	var evicted []*entry[K, V]
	defer func() { c.notify(evicted, EvictExpired) }()

	c.mu.Lock()
	defer c.mu.Unlock()

	var zero V
	elem, ok := c.items[key]
	if !ok {
		c.misses++
		return zero, false
	}
	e := elem.Value.(*entry[K, V])
	if c.expired(e) {
		c.removeElement(elem)
		evicted = append(evicted, e)
		c.misses++
		return zero, false
	}
	c.touch(elem, e)
	c.hits++
	return e.value, true
}

// Put inserts or replaces the value for key.
func (c *LRU[K, V]) Put(key K, value V) {
	var evicted []*entry[K, V]
	defer func() { c.notify(evicted, EvictCapacity) }()

	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.items[key]; ok {
		e := elem.Value.(*entry[K, V])
		e.value = value
		c.touch(elem, e)
		return
	}
	for c.order.Len() >= c.capacity {
		oldest := c.order.Back()
		if oldest == nil {
			break
		}
		c.removeElement(oldest)
		evicted = append(evicted, oldest.Value.(*entry[K, V]))
	}
	e := &entry[K, V]{key: key, value: value, expiresAt: c.deadline()}
	c.items[key] = c.order.PushFront(e)
}

// Delete removes key and reports whether it was present.
func (c *LRU[K, V]) Delete(key K) bool {
	var evicted []*entry[K, V]
	defer func() { c.notify(evicted, EvictDeleted) }()

	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.items[key]
	if !ok {
		return false
	}
	c.removeElement(elem)
	evicted = append(evicted, elem.Value.(*entry[K, V]))
	return true
}

// Sweep drops every expired entry and returns how many were removed.
func (c *LRU[K, V]) Sweep() int {
	var evicted []*entry[K, V]
	defer func() { c.notify(evicted, EvictExpired) }()

	c.mu.Lock()
	defer c.mu.Unlock()

	for elem := c.order.Back(); elem != nil; {
		prev := elem.Prev()
		e := elem.Value.(*entry[K, V])
		if c.expired(e) {
			c.removeElement(elem)
			evicted = append(evicted, e)
		}
		elem = prev
	}
	return len(evicted)
}

// Purge removes every entry, reporting each as EvictDeleted.
func (c *LRU[K, V]) Purge() int {
	var evicted []*entry[K, V]
	defer func() { c.notify(evicted, EvictDeleted) }()

	c.mu.Lock()
	defer c.mu.Unlock()

	for elem := c.order.Back(); elem != nil; elem = c.order.Back() {
		evicted = append(evicted, elem.Value.(*entry[K, V]))
		c.removeElement(elem)
	}
	return len(evicted)
}

// Len counts entries including expired ones not yet swept.
func (c *LRU[K, V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}

func (c *LRU[K, V]) Stats() (hits, misses int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hits, c.misses
}

func (c *LRU[K, V]) deadline() time.Time {
	if c.ttl <= 0 {
		return time.Time{}
	}
	return c.nowFn().Add(c.ttl)
}

func (c *LRU[K, V]) expired(e *entry[K, V]) bool {
	return !e.expiresAt.IsZero() && c.nowFn().After(e.expiresAt)
}

func (c *LRU[K, V]) touch(elem *list.Element, e *entry[K, V]) {
	c.order.MoveToFront(elem)
	e.expiresAt = c.deadline()
}

func (c *LRU[K, V]) removeElement(elem *list.Element) {
	c.order.Remove(elem)
	delete(c.items, elem.Value.(*entry[K, V]).key)
}

func (c *LRU[K, V]) notify(evicted []*entry[K, V], reason EvictReason) {
	if c.onEvict == nil {
		return
	}
	for _, e := range evicted {
		c.onEvict(e.key, e.value, reason)
	}
}
