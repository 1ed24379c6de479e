package util

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"
)

// RetryConfig configures a bounded attempt loop
type RetryConfig struct {
	Attempts       int           // Total number of attempts, including the first
	InitialBackoff time.Duration // Wait after the first failure
	MaxBackoff     time.Duration // Upper bound for a single wait
	Multiplier     float64       // Backoff growth per attempt
}

// ConnectRetryConfig is the policy used for socket connects: three fresh
// attempts with a short backoff
func ConnectRetryConfig() RetryConfig {
	return RetryConfig{
		Attempts:       3,
		InitialBackoff: 50 * time.Millisecond,
		MaxBackoff:     2 * time.Second,
		Multiplier:     2.0,
	}
}

// AttemptFunc is one try of a retried operation. attempt starts at 0.
type AttemptFunc func(attempt int) error

// ShouldRetryFunc determines if an error should trigger another attempt
type ShouldRetryFunc func(error) bool

// DefaultShouldRetry retries every non-nil error
func DefaultShouldRetry(err error) bool {
	return err != nil
}

// Retry runs fn until it succeeds, shouldRetry rejects the error, the attempt
// budget is spent or ctx is done. A budget below one is treated as one.
func Retry(ctx context.Context, config RetryConfig, fn AttemptFunc, shouldRetry ShouldRetryFunc) error {
	if shouldRetry == nil {
		shouldRetry = DefaultShouldRetry
	}
	attempts := config.Attempts
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		err := fn(attempt)
		if err == nil {
			if attempt > 0 {
				slog.Debug("Retry succeeded", "attempt", attempt+1)
			}
			return nil
		}
		lastErr = err

		if !shouldRetry(err) {
			slog.Debug("Error not retryable", "error", err)
			return err
		}

		if attempt == attempts-1 {
			slog.Debug("Attempts exhausted", "attempts", attempts, "error", err)
			break
		}

		backoff := CalculateBackoff(attempt, config)
		slog.Debug("Attempt failed, retrying",
			"attempt", attempt+1,
			"attempts", attempts,
			"backoff", backoff,
			"error", err,
		)

		if backoff <= 0 {
			continue
		}
		timer := time.NewTimer(backoff)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		}
	}

	return fmt.Errorf("operation failed after %d attempts: %w", attempts, lastErr)
}

// CalculateBackoff returns the wait after the given zero-based attempt
func CalculateBackoff(attempt int, config RetryConfig) time.Duration {
	backoff := float64(config.InitialBackoff) * math.Pow(config.Multiplier, float64(attempt))
	if config.MaxBackoff > 0 && backoff > float64(config.MaxBackoff) {
		backoff = float64(config.MaxBackoff)
	}
	return time.Duration(backoff)
}
