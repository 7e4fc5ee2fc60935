package orchestrator

import (
	"errors"
	"time"
)

// Config is fixed at construction time and shared by every conversation of an orchestrator
type Config struct {
	TotalRounds   int
	MaxRetries    int
	MaxReplyChars int

	RoundDelay     time.Duration
	RoundJitter    time.Duration
	DuplicateDelay time.Duration

	RetryBaseDelay     time.Duration
	RateLimitBaseDelay time.Duration
	MaxBackoff         time.Duration

	LockTTL time.Duration

	Temperature     float32
	MaxOutputTokens int32
	// AssessmentMaxOutputTokens bounds the finalization call, which returns JSON
	AssessmentMaxOutputTokens int32
}

// DefaultConfig returns the production defaults
func DefaultConfig() Config {
	return Config{
		TotalRounds:               5,
		MaxRetries:                3,
		MaxReplyChars:             200,
		RoundDelay:                3 * time.Second,
		RoundJitter:               2 * time.Second,
		DuplicateDelay:            5 * time.Second,
		RetryBaseDelay:            2 * time.Second,
		RateLimitBaseDelay:        10 * time.Second,
		MaxBackoff:                2 * time.Minute,
		LockTTL:                   2 * time.Minute,
		Temperature:               0.9,
		MaxOutputTokens:           256,
		AssessmentMaxOutputTokens: 1024,
	}
}

// Validate checks that the config can drive a conversation
func (c Config) Validate() error {
	var errs []error
	if c.TotalRounds < 1 {
		errs = append(errs, errors.New("total rounds must be at least 1"))
	}
	if c.MaxRetries < 1 {
		errs = append(errs, errors.New("max retries must be at least 1"))
	}
	if c.MaxReplyChars < 1 {
		errs = append(errs, errors.New("max reply chars must be at least 1"))
	}
	if c.LockTTL <= 0 {
		errs = append(errs, errors.New("lock ttl must be positive"))
	}
	if c.RetryBaseDelay <= 0 || c.RateLimitBaseDelay <= 0 {
		errs = append(errs, errors.New("retry base delays must be positive"))
	}
	return errors.Join(errs...)
}
