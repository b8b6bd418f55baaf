// Package resilience provides the bounded retry policy used by upstream
// transports.
package resilience

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"net/http"
	"time"
)

// RetryConfig holds configuration for the exponential backoff retry logic.
type RetryConfig struct {
	MaxRetries int           // Maximum number of retry attempts
	BaseDelay  time.Duration // Initial delay before first retry
	MaxDelay   time.Duration // Maximum delay cap
}

// DefaultRetryConfig matches the upstream SDK defaults (three retries).
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries: 3,
		BaseDelay:  500 * time.Millisecond,
		MaxDelay:   30 * time.Second,
	}
}

// HTTPError is a non-2xx response from an upstream API.
type HTTPError struct {
	StatusCode int
	Message    string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("API error %d: %s", e.StatusCode, e.Message)
}

// RetryableFunc is a function that can be retried.
// It should return a non-nil error to trigger a retry.
type RetryableFunc func(ctx context.Context) error

// Retry executes fn with exponential backoff and full jitter.
// delay = rand(0, min(maxDelay, baseDelay * 2^attempt))
// Only errors accepted by IsRetryable are retried. The last error is returned
// unwrapped so callers can classify it by its original text.
func Retry(ctx context.Context, cfg RetryConfig, fn RetryableFunc) error {
	var lastErr error

	for attempt := 0; attempt <= cfg.MaxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			if lastErr != nil {
				return lastErr
			}
			return err
		}

		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}

		if attempt == cfg.MaxRetries || !IsRetryable(lastErr) {
			break
		}

		timer := time.NewTimer(calculateDelay(attempt, cfg.BaseDelay, cfg.MaxDelay))
		select {
		case <-ctx.Done():
			timer.Stop()
			return lastErr
		case <-timer.C:
		}
	}

	return lastErr
}

// IsRetryable reports whether err is an upstream 429 or 5xx response.
func IsRetryable(err error) bool {
	var httpErr *HTTPError
	if !errors.As(err, &httpErr) {
		return false
	}
	switch httpErr.StatusCode {
	case http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	}
	return false
}

// calculateDelay computes the jittered backoff delay.
// Uses "Full Jitter": delay = rand(0, min(cap, base * 2^attempt))
func calculateDelay(attempt int, baseDelay, maxDelay time.Duration) time.Duration {
	expDelay := float64(baseDelay) * math.Pow(2, float64(attempt))
	if expDelay > float64(maxDelay) {
		expDelay = float64(maxDelay)
	}

	jitteredDelay := time.Duration(rand.Float64() * expDelay)
	if jitteredDelay < time.Millisecond {
		jitteredDelay = time.Millisecond
	}
	return jitteredDelay
}
