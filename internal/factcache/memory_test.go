package factcache

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"storyboard-engine/internal/models"
)

// fakeClock is a manually advanced Clock for eviction tests.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 1, 15, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func testFacts(traceID string) *models.ImageFacts {
	return &models.ImageFacts{
		TraceID:  traceID,
		Colors:   []string{"#1A2B3C", "#FFFFFF"},
		Mood:     "calm",
		Strategy: models.StrategyJSON,
	}
}

func TestMemoryCache_SetGet(t *testing.T) {
	clock := newFakeClock()
	cache := NewMemoryCache(time.Minute, clock, zap.NewNop())
	defer cache.Close()

	ctx := context.Background()
	require.NoError(t, cache.Set(ctx, "trace-1", testFacts("trace-1"), 10*time.Minute))

	facts, ok, err := cache.Get(ctx, "trace-1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "trace-1", facts.TraceID)
	assert.Equal(t, []string{"#1A2B3C", "#FFFFFF"}, facts.Colors)
}

func TestMemoryCache_GetMissing(t *testing.T) {
	cache := NewMemoryCache(time.Minute, newFakeClock(), zap.NewNop())
	defer cache.Close()

	facts, ok, err := cache.Get(context.Background(), "unknown")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Nil(t, facts)
}

// An expired entry must read as absent even before the sweep has run.
func TestMemoryCache_ExpiryOnRead(t *testing.T) {
	clock := newFakeClock()
	cache := NewMemoryCache(time.Hour, clock, zap.NewNop())
	defer cache.Close()

	ctx := context.Background()
	require.NoError(t, cache.Set(ctx, "trace-1", testFacts("trace-1"), 10*time.Minute))

	clock.Advance(9 * time.Minute)
	_, ok, err := cache.Get(ctx, "trace-1")
	require.NoError(t, err)
	assert.True(t, ok, "entry should still be live before its TTL")

	clock.Advance(2 * time.Minute)
	_, ok, err = cache.Get(ctx, "trace-1")
	require.NoError(t, err)
	assert.False(t, ok, "entry should read as absent after its TTL")
}

func TestMemoryCache_SweepRemovesExpired(t *testing.T) {
	clock := newFakeClock()
	cache := NewMemoryCache(time.Hour, clock, zap.NewNop())
	defer cache.Close()

	ctx := context.Background()
	require.NoError(t, cache.Set(ctx, "old", testFacts("old"), 5*time.Minute))
	require.NoError(t, cache.Set(ctx, "fresh", testFacts("fresh"), time.Hour))

	clock.Advance(10 * time.Minute)
	cache.sweep()

	cache.mu.RLock()
	_, oldPresent := cache.entries["old"]
	_, freshPresent := cache.entries["fresh"]
	cache.mu.RUnlock()

	assert.False(t, oldPresent, "sweep should remove the expired entry")
	assert.True(t, freshPresent, "sweep must not touch live entries")
}

func TestMemoryCache_SetOverwritesTTL(t *testing.T) {
	clock := newFakeClock()
	cache := NewMemoryCache(time.Hour, clock, zap.NewNop())
	defer cache.Close()

	ctx := context.Background()
	require.NoError(t, cache.Set(ctx, "trace-1", testFacts("trace-1"), time.Minute))
	clock.Advance(50 * time.Second)

	// A rewrite restarts the TTL window.
	require.NoError(t, cache.Set(ctx, "trace-1", testFacts("trace-1"), time.Minute))
	clock.Advance(50 * time.Second)

	_, ok, err := cache.Get(ctx, "trace-1")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestMemoryCache_CloseIsIdempotent(t *testing.T) {
	cache := NewMemoryCache(time.Minute, newFakeClock(), zap.NewNop())
	cache.Close()
	cache.Close()
}
