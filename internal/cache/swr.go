// Package cache provides a TTL cache with stale-while-revalidate semantics,
// shared by the API key, tool registry and tool list lookups.
package cache

import (
	"sync"
	"sync/atomic"
	"time"
)

// SWR is a TTL-based in-memory cache with stale-while-revalidate.
// Uses sync.Map for lock-free reads on the hot path.
type SWR[K comparable, V any] struct {
	store sync.Map // map[K]*entry[V]
	ttl   time.Duration
	now   func() time.Time
}

type entry[V any] struct {
	value      V
	expiresAt  time.Time
	refreshing atomic.Bool
}

// Result holds the result of a cache lookup.
type Result[V any] struct {
	Value        V
	Hit          bool // true if a value was found (fresh or stale)
	NeedsRefresh bool // true if expired; caller should refresh in background
}

// New creates a cache with the given TTL.
func New[K comparable, V any](ttl time.Duration) *SWR[K, V] {
	return &SWR[K, V]{ttl: ttl, now: time.Now}
}

// WithClock replaces time.Now. Intended for tests.
func (c *SWR[K, V]) WithClock(now func() time.Time) *SWR[K, V] {
	c.now = now
	return c
}

// Get performs a non-blocking lookup. Expired entries are still returned;
// exactly one caller per expiry sees NeedsRefresh.
func (c *SWR[K, V]) Get(key K) Result[V] {
	val, ok := c.store.Load(key)
	if !ok {
		return Result[V]{}
	}

	e := val.(*entry[V])
	if c.now().Before(e.expiresAt) {
		return Result[V]{Value: e.value, Hit: true}
	}

	// Only one goroutine wins the CAS.
	needsRefresh := e.refreshing.CompareAndSwap(false, true)
	return Result[V]{Value: e.value, Hit: true, NeedsRefresh: needsRefresh}
}

// Set stores value with a fresh TTL. A zero value is a valid negative entry.
func (c *SWR[K, V]) Set(key K, value V) {
	c.store.Store(key, &entry[V]{
		value:     value,
		expiresAt: c.now().Add(c.ttl),
	})
}

// ReleaseRefresh lets a later Get signal a refresh again after a failed one.
func (c *SWR[K, V]) ReleaseRefresh(key K) {
	if val, ok := c.store.Load(key); ok {
		val.(*entry[V]).refreshing.Store(false)
	}
}

// Delete removes an entry.
func (c *SWR[K, V]) Delete(key K) {
	c.store.Delete(key)
}
