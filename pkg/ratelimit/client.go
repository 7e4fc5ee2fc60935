// Package ratelimit keeps LLM calls of every instance inside one shared provider quota.
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/Ramsey-B/wingfox/pkg/llm"
	"github.com/Ramsey-B/wingfox/pkg/metrics"
	"github.com/Ramsey-B/wingfox/pkg/redis"
	"github.com/Ramsey-B/wingfox/pkg/tracing"
)

// Limiter is the part of redis.RateLimiter the client needs
type Limiter interface {
	Allow(ctx context.Context, key string, limit int64, window time.Duration) (*redis.RateLimitResult, error)
	BlockFor(ctx context.Context, key string, d time.Duration) error
}

// Config holds the shared quota settings
type Config struct {
	// Key names the quota bucket, usually the model
	Key string
	// RequestsPerMinute is the shared budget; zero disables limiting
	RequestsPerMinute int
	// Cooldown blocks the bucket after the provider itself throttles us
	Cooldown time.Duration
}

// ThrottledError is returned when the shared quota is used up. Its message reads as a
// rate limit so llm.IsRateLimit classifies it like a provider 429.
type ThrottledError struct {
	Key     string
	RetryIn time.Duration
}

func (e *ThrottledError) Error() string {
	return fmt.Sprintf("rate limit exceeded for %s, retry in %s", e.Key, e.RetryIn)
}

// Client wraps an llm.Client with a Redis sliding window shared across instances
type Client struct {
	next    llm.Client
	limiter Limiter
	config  Config
	logger  *zap.Logger
}

// Wrap returns next unchanged when limiting is disabled
func Wrap(next llm.Client, limiter Limiter, config Config, logger *zap.Logger) llm.Client {
	if config.RequestsPerMinute <= 0 || limiter == nil {
		return next
	}
	if config.Key == "" {
		config.Key = "llm"
	}
	return &Client{
		next:    next,
		limiter: limiter,
		config:  config,
		logger:  logger,
	}
}

// Generate checks the shared quota before calling the provider
func (c *Client) Generate(ctx context.Context, req llm.Request) (string, error) {
	ctx, span := tracing.StartSpan(ctx, "ratelimit.Generate")
	defer span.End()

	result, err := c.limiter.Allow(ctx, c.config.Key, int64(c.config.RequestsPerMinute), time.Minute)
	switch {
	case err != nil:
		// fail open, the provider still enforces its own quota
		c.logger.Warn("LLM rate limit check failed", zap.String("key", c.config.Key), zap.Error(err))
	case !result.Allowed:
		metrics.LLMCallsTotal.WithLabelValues(req.Purpose, "throttled").Inc()
		c.logger.Debug("LLM call throttled",
			zap.String("key", c.config.Key),
			zap.String("purpose", req.Purpose),
			zap.Duration("retry_in", result.RetryIn))
		return "", &ThrottledError{Key: c.config.Key, RetryIn: result.RetryIn}
	}

	text, err := c.next.Generate(ctx, req)
	if err != nil && llm.IsRateLimit(err) && c.config.Cooldown > 0 {
		if blockErr := c.limiter.BlockFor(ctx, c.config.Key, c.config.Cooldown); blockErr != nil {
			c.logger.Warn("Failed to block LLM bucket", zap.String("key", c.config.Key), zap.Error(blockErr))
		} else {
			c.logger.Info("Provider throttled, blocking LLM bucket",
				zap.String("key", c.config.Key), zap.Duration("cooldown", c.config.Cooldown))
		}
	}
	return text, err
}
