package retry

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"time"
)

// Config holds retry configuration
type Config struct {
	MaxAttempts        int           // Maximum number of retry attempts after the first try
	InitialDelay       time.Duration // Delay before the first retry
	MaxDelay           time.Duration // Cap on the delay between retries
	Multiplier         float64       // Exponential backoff multiplier (typically 2.0)
	Jitter             bool          // Add random jitter to prevent thundering herd
	NonRetryableErrors []error       // Errors that abort immediately
}

// DefaultConfig returns a default retry configuration
func DefaultConfig() Config {
	return Config{
		MaxAttempts:  3,
		InitialDelay: 100 * time.Millisecond,
		MaxDelay:     5 * time.Second,
		Multiplier:   2.0,
		Jitter:       true,
	}
}

// Do executes fn with exponential backoff. It stops on success, on a
// non-retryable error, on context cancellation, or when attempts run out.
func Do(ctx context.Context, cfg Config, fn func() error) error {
	var lastErr error

	for attempt := 0; attempt <= cfg.MaxAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return fmt.Errorf("retry cancelled: %w", ctx.Err())
		default:
		}

		err := fn()
		if err == nil {
			return nil
		}
		lastErr = err

		if isNonRetryable(err, cfg.NonRetryableErrors) {
			return fmt.Errorf("non-retryable error: %w", err)
		}
		if attempt == cfg.MaxAttempts {
			break
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("retry cancelled during wait: %w", ctx.Err())
		case <-time.After(delayFor(cfg, attempt)):
		}
	}

	return fmt.Errorf("max attempts (%d) exceeded: %w", cfg.MaxAttempts, lastErr)
}

func delayFor(cfg Config, attempt int) time.Duration {
	delay := float64(cfg.InitialDelay) * math.Pow(cfg.Multiplier, float64(attempt))
	if delay > float64(cfg.MaxDelay) {
		delay = float64(cfg.MaxDelay)
	}
	d := time.Duration(delay)
	if cfg.Jitter {
		// +-25% random variation
		jitter := time.Duration(rand.Int63n(int64(d)/2 + 1))
		d = d - d/4 + jitter
	}
	return d
}

func isNonRetryable(err error, nonRetryable []error) bool {
	for _, target := range nonRetryable {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
