package adb

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestCache(size int, ttl time.Duration) (*Cache, *fakeClock) {
	clock := &fakeClock{t: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	c := NewCache(size, ttl)
	c.now = clock.now
	return c, clock
}

func TestCacheKeyIsDeterministicPerDevice(t *testing.T) {
	c := NewCache(0, 0)
	a := c.Key("10.0.0.2:5555", "dumpsys power")
	assert.Equal(t, a, c.Key("10.0.0.2:5555", "dumpsys power"))
	assert.NotEqual(t, a, c.Key("10.0.0.3:5555", "dumpsys power"))
	assert.NotEqual(t, a, c.Key("10.0.0.2:5555", "dumpsys audio"))
}

func TestCacheLookupHonoursTTL(t *testing.T) {
	c, clock := newTestCache(10, 30*time.Second)
	key := c.Key("dev", "getprop")
	want := okResult("[ro.product.model]: [box]")

	c.Store(key, want)
	clock.advance(29 * time.Second)
	got, ok := c.Lookup(key)
	require.True(t, ok)
	assert.Equal(t, want, got)

	clock.advance(time.Second)
	_, ok = c.Lookup(key)
	assert.False(t, ok, "entry must expire at capturedAt+TTL")
	assert.Equal(t, 0, c.Stats().Size, "expired entry is evicted on lookup")

	stats := c.Stats()
	assert.Equal(t, int64(1), stats.Hits)
	assert.Equal(t, int64(1), stats.Misses)
}

func TestCacheEvictsLeastRecentlyUsed(t *testing.T) {
	c, _ := newTestCache(3, time.Minute)
	k1, k2, k3, k4 := c.Key("d", "1"), c.Key("d", "2"), c.Key("d", "3"), c.Key("d", "4")
	c.Store(k1, okResult("1"))
	c.Store(k2, okResult("2"))
	c.Store(k3, okResult("3"))

	// touching k1 makes k2 the oldest
	_, ok := c.Lookup(k1)
	require.True(t, ok)
	c.Store(k4, okResult("4"))

	_, ok = c.Lookup(k2)
	assert.False(t, ok)
	for _, k := range []Key{k1, k3, k4} {
		_, ok := c.Lookup(k)
		assert.True(t, ok, string(k))
	}
	assert.Equal(t, 3, c.Stats().Size)
}

func TestCacheSweepRemovesOnlyExpired(t *testing.T) {
	c, clock := newTestCache(10, 10*time.Second)
	old := c.Key("d", "old")
	c.Store(old, okResult("old"))
	clock.advance(6 * time.Second)
	fresh := c.Key("d", "fresh")
	c.Store(fresh, okResult("fresh"))
	clock.advance(5 * time.Second)

	assert.Equal(t, 1, c.Sweep())
	_, ok := c.Lookup(fresh)
	assert.True(t, ok)
}

func TestCachePendingHandles(t *testing.T) {
	c := NewCache(0, 0)
	key := c.Key("d", "cmd")

	h1, leader := c.RegisterPending(key)
	require.True(t, leader)
	h2, leader := c.RegisterPending(key)
	require.False(t, leader)
	assert.Same(t, h1, h2)

	inflight, ok := c.InFlight(key)
	require.True(t, ok)
	assert.Same(t, h1, inflight)

	done := make(chan Result, 1)
	go func() { done <- h2.Wait(context.Background()) }()
	c.ResolvePending(key, okResult("x"))
	assert.Equal(t, okResult("x"), <-done)

	_, ok = c.InFlight(key)
	assert.False(t, ok, "handle is removed once resolved")
	c.ResolvePending(key, okResult("ignored"))
}

func TestPendingWaitRespectsContext(t *testing.T) {
	c := NewCache(0, 0)
	h, _ := c.RegisterPending(c.Key("d", "slow"))
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	res := h.Wait(ctx)
	assert.False(t, res.Success)
	assert.Equal(t, ErrorTimeout, res.Error)
}
