package orchestrator

import (
	"math/rand/v2"
	"time"
)

// jitterFunc returns a random duration in [0, max)
type jitterFunc func(max time.Duration) time.Duration

func randomJitter(max time.Duration) time.Duration {
	if max <= 0 {
		return 0
	}
	return rand.N(max)
}

// RetryDelay is the wait before retrying a failed round. attempt starts at 1. Rate limited
// failures start from the longer base.
func (c Config) RetryDelay(attempt int, rateLimited bool) time.Duration {
	base := c.RetryBaseDelay
	if rateLimited {
		base = c.RateLimitBaseDelay
	}
	if attempt < 1 {
		attempt = 1
	}

	delay := base
	for i := 1; i < attempt; i++ {
		delay *= 2
		if c.MaxBackoff > 0 && delay >= c.MaxBackoff {
			return c.MaxBackoff
		}
	}
	if c.MaxBackoff > 0 && delay > c.MaxBackoff {
		delay = c.MaxBackoff
	}
	return delay
}
