package usecase

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/taskplane/identity-service/internal/core/port"
)

// RateLimitExceededError is returned when a sliding window for the given
// scope is full. RetryAfter tells the caller when the oldest attempt falls
// out of the window.
type RateLimitExceededError struct {
	Scope      string
	RetryAfter time.Duration
}

// Error implements error.
func (e *RateLimitExceededError) Error() string {
	return fmt.Sprintf("rate limit exceeded for %s, retry after %s", e.Scope, e.RetryAfter)
}

// enforceRateLimit applies a sliding-window limit and records the attempt.
// Store failures are logged and skipped: the limiter degrades open rather
// than blocking authentication when Redis is unavailable.
func enforceRateLimit(ctx context.Context, store port.RateLimitStore, log *zap.Logger, scope, identifier string, maxAttempts int, window time.Duration, now time.Time) error {
	if store == nil || maxAttempts <= 0 || window <= 0 {
		return nil
	}

	key := fmt.Sprintf("%s:%s", scope, identifier)

	if err := store.TrimWindow(ctx, key, window, now); err != nil {
		log.Warn("trim rate limit window failed", zap.String("scope", scope), zap.Error(err))
	}

	count, err := store.CountAttempts(ctx, key, window, now)
	if err != nil {
		log.Warn("count rate limit attempts failed", zap.String("scope", scope), zap.Error(err))
		return nil
	}

	if count >= maxAttempts {
		retryAfter := window
		if oldest, found, err := store.OldestAttempt(ctx, key, window, now); err == nil && found {
			if remaining := oldest.Add(window).Sub(now); remaining > 0 {
				retryAfter = remaining
			}
		}
		return &RateLimitExceededError{Scope: scope, RetryAfter: retryAfter}
	}

	if err := store.RecordAttempt(ctx, key, now); err != nil {
		log.Warn("record rate limit attempt failed", zap.String("scope", scope), zap.Error(err))
	}

	return nil
}
