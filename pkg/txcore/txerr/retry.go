package txerr

import (
	"context"
	"math/rand/v2"
	"time"
)

// RetryConfig configures exponential backoff retry behavior for generic
// infrastructure retry in the event store and event bus. Saga steps do not
// use it; they follow the saga definition's own saga.RetryPolicy.
type RetryConfig struct {
	MaxAttempts   int
	InitialBackoff time.Duration
	MaxBackoff    time.Duration
	// Exponential selects exponential backoff (base * factor^attempt) when
	// true, or fixed linear backoff (base) when false.
	Exponential   bool
	BackoffFactor float64
	Jitter        float64

	// RetryableFunc overrides the default Categorize-based retryability
	// check; when nil, IsRetryable decides.
	RetryableFunc func(error) bool
}

// DefaultRetry is the standard infrastructure retry profile.
var DefaultRetry = RetryConfig{
	MaxAttempts:    3,
	InitialBackoff: 1 * time.Second,
	MaxBackoff:     30 * time.Second,
	Exponential:    true,
	BackoffFactor:  2.0,
	Jitter:         0.1,
}

// NoRetry disables retries (single attempt).
var NoRetry = RetryConfig{MaxAttempts: 1}

// Result carries the outcome of a retried operation.
type Result[T any] struct {
	Value    T
	Err      error
	Attempts int
	Duration time.Duration
}

// WithRetryContext executes fn, retrying according to cfg until it succeeds,
// a non-retryable error is returned, attempts are exhausted, or ctx is
// cancelled.
func WithRetryContext[T any](ctx context.Context, cfg RetryConfig, fn func(context.Context) (T, error)) Result[T] {
	start := time.Now()
	backoff := cfg.InitialBackoff
	if backoff <= 0 {
		backoff = 100 * time.Millisecond
	}
	maxAttempts := cfg.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 1
	}

	isRetryable := cfg.RetryableFunc
	if isRetryable == nil {
		isRetryable = IsRetryable
	}

	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return Result[T]{Err: &CategorizedError{Err: err, Category: CategoryPermanent, Context: "context cancelled"}, Attempts: attempt, Duration: time.Since(start)}
		}

		value, err := fn(ctx)
		if err == nil {
			return Result[T]{Value: value, Attempts: attempt + 1, Duration: time.Since(start)}
		}
		lastErr = err

		if !isRetryable(err) {
			return Result[T]{Err: &CategorizedError{Err: err, Category: Categorize(err), Attempts: attempt + 1}, Attempts: attempt + 1, Duration: time.Since(start)}
		}

		if attempt < maxAttempts-1 {
			sleep := calculateBackoff(backoff, cfg.Jitter)
			select {
			case <-ctx.Done():
				return Result[T]{Err: &CategorizedError{Err: ctx.Err(), Category: CategoryPermanent, Context: "context cancelled during backoff"}, Attempts: attempt + 1, Duration: time.Since(start)}
			case <-time.After(sleep):
			}
			if cfg.Exponential {
				backoff = time.Duration(float64(backoff) * cfg.BackoffFactor)
				if backoff > cfg.MaxBackoff && cfg.MaxBackoff > 0 {
					backoff = cfg.MaxBackoff
				}
			}
		}
	}

	return Result[T]{
		Err:      &CategorizedError{Err: lastErr, Category: Categorize(lastErr), Attempts: maxAttempts, Context: "max retries exceeded"},
		Attempts: maxAttempts,
		Duration: time.Since(start),
	}
}

func calculateBackoff(base time.Duration, jitter float64) time.Duration {
	if jitter <= 0 {
		return base
	}
	delta := float64(base) * jitter * (rand.Float64()*2 - 1)
	return time.Duration(float64(base) + delta)
}
