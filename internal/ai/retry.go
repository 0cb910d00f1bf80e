package ai

import (
	"context"
	"math"
	"math/rand"
	"time"

	"go.uber.org/zap"
)

// RetryPolicy bounds repeated provider calls. Delays grow exponentially from
// BaseDelay with ±10% jitter.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
}

// Do runs fn up to MaxAttempts times, sleeping between failed attempts. The
// last error is returned when the budget is exhausted; context cancellation
// aborts the wait immediately.
func (p RetryPolicy) Do(ctx context.Context, logger *zap.Logger, op string, fn func(ctx context.Context) error) error {
	maxAttempts := p.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}

		logger.Warn("AI call attempt failed",
			zap.String("op", op),
			zap.Int("attempt", attempt),
			zap.Int("maxAttempts", maxAttempts),
			zap.Error(lastErr))

		if attempt == maxAttempts {
			break
		}

		delay := float64(p.BaseDelay) * math.Pow(2, float64(attempt-1))
		jitter := delay * 0.1
		delay += jitter * (rand.Float64()*2 - 1)
		waitDuration := time.Duration(delay)
		if waitDuration < p.BaseDelay {
			waitDuration = p.BaseDelay
		}

		select {
		case <-time.After(waitDuration):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return lastErr
}
