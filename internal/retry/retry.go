// Package retry provides a stateless exponential-backoff executor for
// asynchronous fetch operations.
package retry

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/venari/internal/models"
)

// Config defines retry behavior with exponential backoff.
type Config struct {
	MaxAttempts     int
	BaseDelay       time.Duration
	MaxDelay        time.Duration
	ExponentialBase float64
	JitterEnabled   bool

	// Classify reports whether an error is eligible for another attempt.
	// Nil falls back to models.Retryable.
	Classify func(error) bool
}

// Preconfigured profiles.
var (
	// Network: 3 attempts, base 1s, max 30s, exponent 2.
	Network = Config{MaxAttempts: 3, BaseDelay: time.Second, MaxDelay: 30 * time.Second, ExponentialBase: 2, JitterEnabled: true}

	// API: 5 attempts, base 0.5s, max 60s, exponent 1.5.
	API = Config{MaxAttempts: 5, BaseDelay: 500 * time.Millisecond, MaxDelay: 60 * time.Second, ExponentialBase: 1.5, JitterEnabled: true}

	// Scraping: 3 attempts, base 2s, max 45s, exponent 2.
	Scraping = Config{MaxAttempts: 3, BaseDelay: 2 * time.Second, MaxDelay: 45 * time.Second, ExponentialBase: 2, JitterEnabled: true}
)

// Backoff returns the sleep before the next try after the given 1-based
// attempt: min(MaxDelay, BaseDelay * ExponentialBase^(attempt-1)), plus
// uniform jitter in ±10% of that delay when enabled.
func (c Config) Backoff(attempt int) time.Duration {
	base := c.ExponentialBase
	if base <= 0 {
		base = 2
	}
	delay := float64(c.BaseDelay) * math.Pow(base, float64(attempt-1))
	if c.MaxDelay > 0 && delay > float64(c.MaxDelay) {
		delay = float64(c.MaxDelay)
	}
	if c.JitterEnabled {
		delay += delay * 0.1 * (rand.Float64()*2 - 1)
	}
	if delay < 0 {
		delay = 0
	}
	return time.Duration(delay)
}

func (c Config) retryable(err error) bool {
	if c.Classify != nil {
		return c.Classify(err)
	}
	return models.Retryable(err)
}

// Do runs fn up to MaxAttempts times. A non-retryable error propagates on
// first occurrence; exhausted retries surface the last error with the
// attempt count. The executor carries no state between invocations.
func Do[T any](ctx context.Context, cfg Config, logger arbor.ILogger, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	var lastErr error

	attempts := cfg.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	for attempt := 1; attempt <= attempts; attempt++ {
		result, err := fn(ctx)
		if err == nil {
			return result, nil
		}
		lastErr = err

		if !cfg.retryable(err) {
			if logger != nil {
				logger.Debug().
					Int("attempt", attempt).
					Err(err).
					Msg("Non-retryable error, failing immediately")
			}
			return zero, err
		}

		if attempt == attempts {
			break
		}

		backoff := cfg.Backoff(attempt)
		if logger != nil {
			logger.Debug().
				Int("attempt", attempt).
				Dur("backoff", backoff).
				Err(err).
				Msg("Retrying after backoff")
		}

		timer := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return zero, ctx.Err()
		case <-timer.C:
		}
	}

	if logger != nil {
		logger.Warn().
			Int("max_attempts", attempts).
			Err(lastErr).
			Msg("All retry attempts exhausted")
	}
	return zero, fmt.Errorf("after %d attempts: %w", attempts, lastErr)
}
