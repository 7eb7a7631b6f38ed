package cache

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (f *fakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *fakeClock) Advance(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = f.now.Add(d)
}

func newTestCache(ttl time.Duration) (*TTLCache[string, int], *fakeClock) {
	clock := &fakeClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	c := NewTTLCache[string, int](ttl, 0)
	c.now = clock.Now
	return c, clock
}

// TestTTLCache_SetGet tests storage and expiry
func TestTTLCache_SetGet(t *testing.T) {
	// Arrange
	c, clock := newTestCache(time.Minute)
	defer c.Stop()

	// Act
	c.Set("a", 1)
	value, ok := c.Get("a")

	// Assert
	require.True(t, ok)
	assert.Equal(t, 1, value)

	_, ok = c.Get("missing")
	assert.False(t, ok)

	clock.Advance(time.Minute)
	_, ok = c.Get("a")
	assert.False(t, ok, "Entry should expire exactly at its TTL")
	assert.Equal(t, 1, c.Size())
	assert.Equal(t, 0, c.ActiveSize())
}

// TestTTLCache_SetRestartsTTL tests that overwriting refreshes expiry
func TestTTLCache_SetRestartsTTL(t *testing.T) {
	c, clock := newTestCache(time.Minute)
	defer c.Stop()

	c.Set("a", 1)
	clock.Advance(40 * time.Second)
	c.Set("a", 2)
	clock.Advance(40 * time.Second)

	value, ok := c.Get("a")
	require.True(t, ok)
	assert.Equal(t, 2, value)
}

// TestTTLCache_Cleanup tests eviction of expired entries only
func TestTTLCache_Cleanup(t *testing.T) {
	c, clock := newTestCache(time.Minute)
	defer c.Stop()

	c.Set("old", 1)
	clock.Advance(30 * time.Second)
	c.Set("new", 2)
	clock.Advance(45 * time.Second)

	removed := c.performCleanup()

	assert.Equal(t, 1, removed)
	assert.Equal(t, 1, c.Size())
	_, ok := c.Get("new")
	assert.True(t, ok)

	c.Delete("new")
	assert.Equal(t, 0, c.Size())
}

// TestTTLCache_BackgroundStop tests that the eviction goroutine stops
func TestTTLCache_BackgroundStop(t *testing.T) {
	c := NewTTLCache[string, string](time.Millisecond, 5*time.Millisecond)
	c.Set("k", "v")

	assert.Eventually(t, func() bool { return c.Size() == 0 }, time.Second, 5*time.Millisecond)

	c.Stop()
	c.Stop()
}
