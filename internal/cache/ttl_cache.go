package cache

import (
	"log/slog"
	"sync"
	"time"
)

// entry is a cached value with its expiration time
type entry[V any] struct {
	value     V
	expiresAt time.Time
}

// TTLCache is a thread-safe map whose entries expire after a fixed TTL.
// A background goroutine evicts expired entries until Stop is called.
type TTLCache[K comparable, V any] struct {
	items       map[K]entry[V]
	mutex       sync.RWMutex
	ttl         time.Duration
	now         func() time.Time
	stopCleanup chan struct{}
	stopOnce    sync.Once
	done        chan struct{}
}

// NewTTLCache creates a cache with the given TTL. A cleanupInterval of zero
// or less disables background eviction; expired entries are still never returned.
func NewTTLCache[K comparable, V any](ttl, cleanupInterval time.Duration) *TTLCache[K, V] {
	c := &TTLCache[K, V]{
		items:       make(map[K]entry[V]),
		ttl:         ttl,
		now:         time.Now,
		stopCleanup: make(chan struct{}),
		done:        make(chan struct{}),
	}

	if cleanupInterval > 0 {
		go c.cleanupExpiredEntries(cleanupInterval)
	} else {
		close(c.done)
	}

	slog.Debug("TTL cache initialized",
		"ttl", ttl.String(),
		"cleanup_interval", cleanupInterval.String())

	return c
}

// Set stores a value, replacing any previous one and restarting its TTL
func (c *TTLCache[K, V]) Set(key K, value V) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	c.items[key] = entry[V]{value: value, expiresAt: c.now().Add(c.ttl)}
}

// Get returns the value if present and not expired
func (c *TTLCache[K, V]) Get(key K) (V, bool) {
	c.mutex.RLock()
	defer c.mutex.RUnlock()

	e, exists := c.items[key]
	if !exists || !c.now().Before(e.expiresAt) {
		var zero V
		return zero, false
	}
	return e.value, true
}

// Delete removes a key
func (c *TTLCache[K, V]) Delete(key K) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	delete(c.items, key)
}

// Size returns the number of stored entries, expired ones included
func (c *TTLCache[K, V]) Size() int {
	c.mutex.RLock()
	defer c.mutex.RUnlock()
	return len(c.items)
}

// ActiveSize returns the number of entries that have not expired
func (c *TTLCache[K, V]) ActiveSize() int {
	c.mutex.RLock()
	defer c.mutex.RUnlock()

	now := c.now()
	active := 0
	for _, e := range c.items {
		if now.Before(e.expiresAt) {
			active++
		}
	}
	return active
}

// Stop ends background eviction and waits for it. Safe to call more than once.
func (c *TTLCache[K, V]) Stop() {
	c.stopOnce.Do(func() {
		close(c.stopCleanup)
	})
	<-c.done
}

func (c *TTLCache[K, V]) cleanupExpiredEntries(interval time.Duration) {
	defer close(c.done)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.performCleanup()
		case <-c.stopCleanup:
			return
		}
	}
}

// performCleanup removes expired entries and returns how many were removed
func (c *TTLCache[K, V]) performCleanup() int {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	now := c.now()
	removed := 0
	for key, e := range c.items {
		if !now.Before(e.expiresAt) {
			delete(c.items, key)
			removed++
		}
	}

	if removed > 0 {
		slog.Debug("Cache cleanup completed",
			"expired_entries", removed,
			"remaining_entries", len(c.items))
	}
	return removed
}
