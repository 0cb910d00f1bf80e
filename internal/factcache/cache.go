// Package factcache holds short-lived image analysis results between the
// async pipeline (writer) and the context builder (reader). Entries expire
// after their TTL; the cache is never persisted, facts are re-derivable from
// the source image.
package factcache

import (
	"context"
	"time"

	"storyboard-engine/internal/models"
)

// Clock abstracts time so tests can verify eviction without real sleeps.
type Clock interface {
	Now() time.Time
}

// SystemClock is the production Clock.
type SystemClock struct{}

// Now returns the current wall-clock time.
func (SystemClock) Now() time.Time { return time.Now() }

// Cache is an expiring trace-id keyed store of image facts. Get must behave
// as if the entry were absent once its TTL has elapsed, whether or not the
// background sweep has removed it yet.
type Cache interface {
	Set(ctx context.Context, traceID string, facts *models.ImageFacts, ttl time.Duration) error
	Get(ctx context.Context, traceID string) (*models.ImageFacts, bool, error)
	Close()
}
