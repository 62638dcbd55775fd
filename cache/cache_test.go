package cache

import (
	"fmt"
	"testing"
	"time"

	"github.com/poiesic/conduit/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCache(t *testing.T, maxEntries int, maxMemory int64) *Cache {
	t.Helper()
	c, err := New(Config{MaxEntries: maxEntries, MaxMemoryBytes: maxMemory, DefaultTTL: time.Hour})
	require.NoError(t, err)
	return c
}

func TestCache_InvalidConfig(t *testing.T) {
	_, err := New(Config{MaxEntries: 0, MaxMemoryBytes: 1})
	require.ErrorIs(t, err, ErrInvalidConfig)

	_, err = New(Config{MaxEntries: 1, MaxMemoryBytes: 0})
	require.ErrorIs(t, err, ErrInvalidConfig)
}

func TestCache_GetMissAndHit(t *testing.T) {
	c := newTestCache(t, 10, 1<<20)
	key := core.IDFromContent("hello")

	_, ok := c.Get(key)
	assert.False(t, ok)

	c.Set(key, "value", 0)
	v, ok := c.Get(key)
	require.True(t, ok)
	assert.Equal(t, "value", v)

	stats := c.Stats()
	assert.Equal(t, int64(1), stats.Hits)
	assert.Equal(t, int64(1), stats.Misses)
}

func TestCache_TTLExpiry(t *testing.T) {
	c := newTestCache(t, 10, 1<<20)
	key := core.IDFromContent("stale")

	c.Set(key, "value", time.Minute)

	// Move the clock past the TTL.
	c.now = func() time.Time { return time.Now().Add(2 * time.Minute) }

	_, ok := c.Get(key)
	assert.False(t, ok)
	assert.Equal(t, 0, c.Len())

	stats := c.Stats()
	assert.Equal(t, int64(1), stats.Expirations)
}

func TestCache_CapacityEvictsExactlyOne(t *testing.T) {
	const capacity = 4
	c := newTestCache(t, capacity, 1<<20)

	for i := 0; i < capacity; i++ {
		c.Set(core.IDFromContent(fmt.Sprintf("key-%d", i)), "v", 0)
	}
	require.Equal(t, capacity, c.Len())

	c.Set(core.IDFromContent("one-more"), "v", 0)
	assert.Equal(t, capacity, c.Len())
	assert.Equal(t, int64(1), c.Stats().Evictions)
}

func TestCache_EvictsLowestAccessCount(t *testing.T) {
	// Scenario from the eviction policy: capacity=2; insert A, B; access A
	// twice; insert C -> B is evicted; A and C remain.
	c := newTestCache(t, 2, 1<<20)
	keyA := core.IDFromContent("A")
	keyB := core.IDFromContent("B")
	keyC := core.IDFromContent("C")

	c.Set(keyA, "a", 0)
	c.Set(keyB, "b", 0)

	_, ok := c.Get(keyA)
	require.True(t, ok)
	_, ok = c.Get(keyA)
	require.True(t, ok)

	c.Set(keyC, "c", 0)

	_, ok = c.Get(keyA)
	assert.True(t, ok, "A should survive eviction")
	_, ok = c.Get(keyC)
	assert.True(t, ok, "C was just inserted")

	_, ok = c.Get(keyB)
	assert.False(t, ok, "B had the lowest access count")
}

func TestCache_MemoryBudgetHeldAfterSet(t *testing.T) {
	// Each ~1 KiB string entry costs well over 512 bytes, so a tight budget
	// forces repeated eviction down to a single entry.
	big := make([]byte, 1024)
	for i := range big {
		big[i] = 'x'
	}

	budget := EstimateSize(string(big)) + entryOverhead/2
	c := newTestCache(t, 100, budget)

	for i := 0; i < 5; i++ {
		c.Set(core.IDFromContent(fmt.Sprintf("big-%d", i)), string(big), 0)
		assert.LessOrEqual(t, c.Stats().MemoryBytes, budget, "memory must be under budget after every Set")
	}
	assert.Equal(t, 1, c.Len())
}

func TestCache_ReplaceDoesNotEvict(t *testing.T) {
	c := newTestCache(t, 2, 1<<20)
	key := core.IDFromContent("dup")

	c.Set(key, "v1", 0)
	c.Set(key, "v2", 0)

	assert.Equal(t, 1, c.Len())
	assert.Equal(t, int64(0), c.Stats().Evictions)

	v, ok := c.Get(key)
	require.True(t, ok)
	assert.Equal(t, "v2", v)
}

func TestEstimateSize_OrdersByContentLength(t *testing.T) {
	small := EstimateSize("ab")
	large := EstimateSize("abcdefghij")
	assert.Less(t, small, large)

	vecSmall := EstimateSize([]float32{1, 2})
	vecLarge := EstimateSize(make([]float32, 100))
	assert.Less(t, vecSmall, vecLarge)

	nested := EstimateSize([][]float32{make([]float32, 10), make([]float32, 10)})
	flat := EstimateSize(make([]float32, 20))
	assert.Equal(t, flat, nested)
}
