package resilience

import (
	"context"
	"math"
	"math/rand/v2"
	"time"

	"github.com/cockroachdb/errors"
)

// RetryConfig controls Retry.
type RetryConfig struct {
	// MaxRetries is the number of attempts after the first one
	MaxRetries int

	// InitialBackoff is the pause before the first retry
	InitialBackoff time.Duration

	// MaxBackoff caps the pause between attempts
	MaxBackoff time.Duration

	// BackoffMultiplier grows the pause after every attempt
	BackoffMultiplier float64

	// Jitter spreads pauses so that retrying callers do not move in lockstep
	Jitter bool

	// RetryableErrors reports whether an error is worth another attempt.
	// Nil means DefaultRetryableErrors.
	RetryableErrors func(error) bool
}

// DefaultRetryConfig returns a default configuration
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:        3,
		InitialBackoff:    100 * time.Millisecond,
		MaxBackoff:        5 * time.Second,
		BackoffMultiplier: 2.0,
		Jitter:            true,
		RetryableErrors:   DefaultRetryableErrors,
	}
}

// DefaultRetryableErrors retries everything except cancellation, deadlines
// and an open circuit.
func DefaultRetryableErrors(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if errors.Is(err, ErrCircuitBreakerOpen) || errors.Is(err, ErrCircuitBreakerTimeout) {
		return false
	}
	return true
}

// RetryStats describes one Retry run.
type RetryStats struct {
	TotalAttempts   int
	TotalRetries    int
	SuccessfulCalls int
	TotalBackoff    time.Duration
	AverageBackoff  time.Duration
}

// Retry calls fn until it succeeds, returns a non-retryable error, the
// retries run out or ctx is done.
func Retry(ctx context.Context, config RetryConfig, fn func() error) error {
	_, err := RetryWithStats(ctx, config, fn)
	return err
}

// RetryWithStats is Retry that also reports what happened.
func RetryWithStats(ctx context.Context, config RetryConfig, fn func() error) (RetryStats, error) {
	var stats RetryStats
	retryable := config.RetryableErrors
	if retryable == nil {
		retryable = DefaultRetryableErrors
	}
	for attempt := 0; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		stats.TotalAttempts++
		err := fn()
		if err == nil {
			stats.SuccessfulCalls++
			return stats, nil
		}
		if !retryable(err) {
			return stats, err
		}
		if attempt >= config.MaxRetries {
			return stats, errors.Wrapf(err, "giving up after %d attempts", stats.TotalAttempts)
		}
		backoff := calculateBackoff(attempt, config)
		t := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			t.Stop()
			return stats, errors.CombineErrors(ctx.Err(), err)
		case <-t.C:
		}
		stats.TotalRetries++
		stats.TotalBackoff += backoff
		stats.AverageBackoff = stats.TotalBackoff / time.Duration(stats.TotalRetries)
	}
}

// ExponentialBackoff retries fn up to maxRetries times starting at
// initialBackoff and doubling each time.
func ExponentialBackoff(ctx context.Context, maxRetries int, initialBackoff time.Duration, fn func() error) error {
	return Retry(ctx, RetryConfig{
		MaxRetries:        maxRetries,
		InitialBackoff:    initialBackoff,
		MaxBackoff:        initialBackoff * time.Duration(math.Pow(2, float64(maxRetries))),
		BackoffMultiplier: 2.0,
		RetryableErrors:   DefaultRetryableErrors,
	}, fn)
}

// RetryWithCircuitBreaker runs every attempt through cb. An open circuit
// ends the retries.
func RetryWithCircuitBreaker(ctx context.Context, config RetryConfig, cb *CircuitBreaker, fn func() error) error {
	return Retry(ctx, config, func() error {
		return cb.Execute(ctx, func(context.Context) error { return fn() })
	})
}

func calculateBackoff(attempt int, config RetryConfig) time.Duration {
	multiplier := config.BackoffMultiplier
	if multiplier <= 0 {
		multiplier = 1
	}
	backoff := float64(config.InitialBackoff) * math.Pow(multiplier, float64(attempt))
	if config.MaxBackoff > 0 && backoff > float64(config.MaxBackoff) {
		backoff = float64(config.MaxBackoff)
	}
	if config.Jitter {
		backoff *= 0.95 + rand.Float64()*0.2
	}
	return time.Duration(backoff)
}
