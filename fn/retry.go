package fn

import (
	"context"
	"time"
)

// RetryConfig defines how often and how fast RetryFuncN retries.
type RetryConfig struct {
	// MaxRetries is the number of attempts after the first one.
	MaxRetries int

	// InitialBackoff is the wait before the first retry.
	InitialBackoff time.Duration

	// BackoffMultiplier scales the wait after every retry.
	BackoffMultiplier float64

	// MaxBackoff caps the wait between two attempts.
	MaxBackoff time.Duration
}

// DefaultRetryConfig returns the retry policy used for read-only calls to
// chain and asset backends.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:        5,
		InitialBackoff:    200 * time.Millisecond,
		BackoffMultiplier: 2.0,
		MaxBackoff:        5 * time.Second,
	}
}

// RetryFuncN calls f until it succeeds or the retries are exhausted, waiting
// with exponential backoff in between. The error of the last attempt is
// returned. Cancelling ctx aborts the wait with the context's error.
//
// Only idempotent calls may be retried this way.
func RetryFuncN[T any](ctx context.Context, cfg RetryConfig,
	f func() (T, error)) (T, error) {

	backoff := cfg.InitialBackoff
	for attempt := 0; ; attempt++ {
		result, err := f()
		if err == nil || attempt >= cfg.MaxRetries {
			return result, err
		}

		backoff = min(backoff, cfg.MaxBackoff)

		select {
		case <-ctx.Done():
			return result, ctx.Err()

		case <-time.After(backoff):
		}

		backoff = time.Duration(float64(backoff) * cfg.BackoffMultiplier)
	}
}
