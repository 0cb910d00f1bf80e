package factcache

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"storyboard-engine/internal/models"
)

type memoryEntry struct {
	facts     *models.ImageFacts
	createdAt time.Time
	ttl       time.Duration
}

func (e memoryEntry) expiredAt(now time.Time) bool {
	return now.After(e.createdAt.Add(e.ttl))
}

// MemoryCache is the in-process Cache implementation. A background sweep
// removes expired entries on a fixed interval; Get additionally checks
// expiry on read so a not-yet-swept entry is never returned.
type MemoryCache struct {
	mu      sync.RWMutex
	entries map[string]memoryEntry
	clock   Clock
	logger  *zap.Logger
	done    chan struct{}
	once    sync.Once
}

// NewMemoryCache creates a MemoryCache and starts its sweep loop. The sweep
// interval must be strictly shorter than the smallest TTL used with the
// cache; the config layer enforces this for the service defaults.
func NewMemoryCache(sweepInterval time.Duration, clock Clock, logger *zap.Logger) *MemoryCache {
	if clock == nil {
		clock = SystemClock{}
	}
	c := &MemoryCache{
		entries: make(map[string]memoryEntry),
		clock:   clock,
		logger:  logger.Named("FactCache"),
		done:    make(chan struct{}),
	}
	go c.sweepLoop(sweepInterval)
	return c
}

// Set stores facts under the trace id with the given TTL.
func (c *MemoryCache) Set(_ context.Context, traceID string, facts *models.ImageFacts, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[traceID] = memoryEntry{
		facts:     facts,
		createdAt: c.clock.Now(),
		ttl:       ttl,
	}
	return nil
}

// Get returns the facts for the trace id, or absent if missing or expired.
func (c *MemoryCache) Get(_ context.Context, traceID string) (*models.ImageFacts, bool, error) {
	c.mu.RLock()
	entry, ok := c.entries[traceID]
	c.mu.RUnlock()
	if !ok || entry.expiredAt(c.clock.Now()) {
		return nil, false, nil
	}
	return entry.facts, true, nil
}

// Close stops the sweep loop.
func (c *MemoryCache) Close() {
	c.once.Do(func() { close(c.done) })
}

func (c *MemoryCache) sweepLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			c.sweep()
		case <-c.done:
			return
		}
	}
}

// sweep deletes all expired entries. It holds the write lock only for the
// duration of the scan, which is bounded by the entry count.
func (c *MemoryCache) sweep() {
	now := c.clock.Now()
	c.mu.Lock()
	defer c.mu.Unlock()
	removed := 0
	for traceID, entry := range c.entries {
		if entry.expiredAt(now) {
			delete(c.entries, traceID)
			removed++
		}
	}
	if removed > 0 {
		c.logger.Debug("Swept expired image facts", zap.Int("removed", removed), zap.Int("remaining", len(c.entries)))
	}
}
