// Package retry provides a bounded retry policy with exponential backoff.
//
// The policy is deliberately explicit: a maximum attempt count, an initial
// backoff, a cap, and optional jitter. Callers classify their own errors via
// the retryable predicate; the policy never inspects error types itself.
package retry

import (
	"context"
	"math"
	"math/rand"
	"time"
)

// Policy defines bounded retry behavior for remote calls.
type Policy struct {
	MaxAttempts    int           // Total attempts including the first (minimum 1)
	InitialBackoff time.Duration // Delay before the second attempt
	MaxBackoff     time.Duration // Upper bound on any single delay
	BackoffFactor  float64       // Multiplier applied per attempt
	Jitter         bool          // Randomize delays to avoid thundering herd
}

// DefaultPolicy is a reasonable default for sandbox API calls.
var DefaultPolicy = Policy{
	MaxAttempts:    5,
	InitialBackoff: 500 * time.Millisecond,
	MaxBackoff:     15 * time.Second,
	BackoffFactor:  2.0,
	Jitter:         true,
}

// Do runs fn up to p.MaxAttempts times, sleeping between attempts.
//
// retryable decides whether an error is worth another attempt; a nil
// predicate retries every error. The last error is returned once attempts
// are exhausted or the error is classified permanent. Context cancellation
// during a backoff sleep returns ctx.Err() immediately.
func (p Policy) Do(ctx context.Context, retryable func(error) bool, fn func(ctx context.Context) error) error {
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			delay := p.delay(attempt)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
		}

		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}
		if retryable != nil && !retryable(lastErr) {
			return lastErr
		}
	}

	return lastErr
}

// delay computes the backoff before the given attempt (1-based).
func (p Policy) delay(attempt int) time.Duration {
	base := float64(p.InitialBackoff) * math.Pow(p.BackoffFactor, float64(attempt-1))
	if max := float64(p.MaxBackoff); p.MaxBackoff > 0 && base > max {
		base = max
	}
	if p.Jitter {
		// Uniform jitter in [0.5, 1.0) of the computed delay.
		base = base/2 + rand.Float64()*base/2
	}
	return time.Duration(base)
}
