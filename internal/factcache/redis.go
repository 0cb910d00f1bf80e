package factcache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"storyboard-engine/internal/models"
)

const redisKeyPrefix = "image_facts:"

// RedisCache is the Redis-backed Cache implementation used in deployed
// environments. Expiry is delegated to Redis key TTLs, which satisfies the
// same absent-after-TTL contract as the in-memory sweep.
type RedisCache struct {
	rdb    *redis.Client
	logger *zap.Logger
}

// NewRedisCache wraps an existing Redis client.
func NewRedisCache(rdb *redis.Client, logger *zap.Logger) *RedisCache {
	return &RedisCache{
		rdb:    rdb,
		logger: logger.Named("RedisFactCache"),
	}
}

// Set stores facts under the trace id with the given TTL.
func (c *RedisCache) Set(ctx context.Context, traceID string, facts *models.ImageFacts, ttl time.Duration) error {
	body, err := json.Marshal(facts)
	if err != nil {
		return fmt.Errorf("failed to marshal image facts for trace '%s': %w", traceID, err)
	}
	if err := c.rdb.Set(ctx, redisKeyPrefix+traceID, body, ttl).Err(); err != nil {
		c.logger.Error("Failed to store image facts", zap.String("traceId", traceID), zap.Error(err))
		return fmt.Errorf("failed to store image facts for trace '%s': %w", traceID, err)
	}
	return nil
}

// Get returns the facts for the trace id, or absent if missing or expired.
func (c *RedisCache) Get(ctx context.Context, traceID string) (*models.ImageFacts, bool, error) {
	body, err := c.rdb.Get(ctx, redisKeyPrefix+traceID).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to read image facts for trace '%s': %w", traceID, err)
	}

	var facts models.ImageFacts
	if err := json.Unmarshal(body, &facts); err != nil {
		// A corrupt entry is treated as absent; the facts are re-derivable.
		c.logger.Warn("Dropping unreadable image facts entry", zap.String("traceId", traceID), zap.Error(err))
		return nil, false, nil
	}
	return &facts, true, nil
}

// Close is a no-op; the underlying client is owned by the caller.
func (c *RedisCache) Close() {}
