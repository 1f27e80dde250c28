package ttlcache

import (
	"context"
	"sync"
	"time"
)

// Clock provides the current time.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

// Now returns the current UTC timestamp.
func (systemClock) Now() time.Time {
	return time.Now().UTC()
}

// SystemClock returns a Clock backed by time.Now.
func SystemClock() Clock {
	return systemClock{}
}

type entry[V any] struct {
	value     V
	expiresAt time.Time
}

// Cache is a concurrent map whose entries expire after a per-entry TTL.
// Keys are independent: operations on different keys never contend on a shared lock.
type Cache[K comparable, V any] struct {
	entries sync.Map
	clock   Clock
}

// New constructs a Cache. A nil clock selects the system clock.
func New[K comparable, V any](clock Clock) *Cache[K, V] {
	if clock == nil {
		clock = systemClock{}
	}
	return &Cache[K, V]{clock: clock}
}

// Set stores value under key until ttl elapses, replacing any existing entry.
func (cache *Cache[K, V]) Set(key K, value V, ttl time.Duration) {
	cache.entries.Store(key, &entry[V]{value: value, expiresAt: cache.clock.Now().Add(ttl)})
}

// Add stores value only when key is absent or expired. It reports whether the value was stored.
func (cache *Cache[K, V]) Add(key K, value V, ttl time.Duration) bool {
	fresh := &entry[V]{value: value, expiresAt: cache.clock.Now().Add(ttl)}
	for {
		existing, loaded := cache.entries.LoadOrStore(key, fresh)
		if !loaded {
			return true
		}
		if !cache.expired(existing.(*entry[V])) {
			return false
		}
		if cache.entries.CompareAndSwap(key, existing, fresh) {
			return true
		}
	}
}

// Get returns the live value for key.
func (cache *Cache[K, V]) Get(key K) (V, bool) {
	var zero V
	raw, ok := cache.entries.Load(key)
	if !ok {
		return zero, false
	}
	stored := raw.(*entry[V])
	if cache.expired(stored) {
		cache.entries.CompareAndDelete(key, raw)
		return zero, false
	}
	return stored.value, true
}

// Take removes key and returns its live value. Among concurrent callers for the
// same key at most one observes ok == true.
func (cache *Cache[K, V]) Take(key K) (V, bool) {
	var zero V
	raw, loaded := cache.entries.LoadAndDelete(key)
	if !loaded {
		return zero, false
	}
	stored := raw.(*entry[V])
	if cache.expired(stored) {
		return zero, false
	}
	return stored.value, true
}

// Swap replaces the live value for key with replacement, keeping the entry's deadline,
// and returns the value it displaced. Concurrent callers are linearized: each observes
// the value left by the previous one.
func (cache *Cache[K, V]) Swap(key K, replacement V) (V, bool) {
	var zero V
	for {
		raw, ok := cache.entries.Load(key)
		if !ok {
			return zero, false
		}
		stored := raw.(*entry[V])
		if cache.expired(stored) {
			cache.entries.CompareAndDelete(key, raw)
			return zero, false
		}
		next := &entry[V]{value: replacement, expiresAt: stored.expiresAt}
		if cache.entries.CompareAndSwap(key, raw, next) {
			return stored.value, true
		}
	}
}

// Delete removes key.
func (cache *Cache[K, V]) Delete(key K) {
	cache.entries.Delete(key)
}

// Len counts live entries.
func (cache *Cache[K, V]) Len() int {
	count := 0
	cache.entries.Range(func(_, raw any) bool {
		if !cache.expired(raw.(*entry[V])) {
			count++
		}
		return true
	})
	return count
}

// Purge drops every expired entry and returns how many were removed.
func (cache *Cache[K, V]) Purge() int {
	removed := 0
	cache.entries.Range(func(key, raw any) bool {
		if cache.expired(raw.(*entry[V])) && cache.entries.CompareAndDelete(key, raw) {
			removed++
		}
		return true
	})
	return removed
}

// RunSweeper purges expired entries every interval until ctx is cancelled.
func (cache *Cache[K, V]) RunSweeper(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			cache.Purge()
		}
	}
}

func (cache *Cache[K, V]) expired(stored *entry[V]) bool {
	return !cache.clock.Now().Before(stored.expiresAt)
}
