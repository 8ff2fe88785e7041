// Package retry runs a function until it succeeds or a retry budget is
// exhausted.
package retry

import (
	"context"
	"time"

	goretry "github.com/sethvargo/go-retry"
)

// Policy defines retry behavior.
type Policy struct {
	// MaxRetries is the number of retries after the first attempt.
	MaxRetries int
	// Interval is the delay before the first retry. Zero retries immediately.
	Interval time.Duration
	// Exponential doubles the delay after every retry.
	Exponential bool
	// MaxDelay caps the delay between retries (0 = no cap).
	MaxDelay time.Duration
	// JitterPercent randomizes each delay by up to this percentage.
	JitterPercent uint64
	// Retryable decides whether an error should trigger a retry. Nil
	// retries every error.
	Retryable func(error) bool
}

// DefaultPolicy returns the policy used when nothing is configured.
func DefaultPolicy() Policy {
	return Policy{MaxRetries: 3}
}

// Constant creates a policy with fixed delays.
func Constant(maxRetries int, interval time.Duration) Policy {
	return Policy{MaxRetries: maxRetries, Interval: interval}
}

// Exponential creates an exponential backoff policy.
func Exponential(maxRetries int, initial time.Duration) Policy {
	return Policy{MaxRetries: maxRetries, Interval: initial, Exponential: true}
}

// Do calls fn until it succeeds, returns a non-retryable error, or the
// budget is spent. On exhaustion the last error is returned unchanged.
func (p Policy) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	return goretry.Do(ctx, p.backoff(), func(ctx context.Context) error {
		err := fn(ctx)
		if err == nil {
			return nil
		}
		if p.Retryable != nil && !p.Retryable(err) {
			return err
		}
		return goretry.RetryableError(err)
	})
}

// Attempts returns the maximum number of calls Do makes.
func (p Policy) Attempts() int {
	return max(p.MaxRetries, 0) + 1
}

// backoff builds a fresh backoff; backoffs are stateful and must not be
// shared between calls.
func (p Policy) backoff() goretry.Backoff {
	var b goretry.Backoff
	switch {
	case p.Interval <= 0:
		b = goretry.BackoffFunc(func() (time.Duration, bool) {
			return 0, false
		})
	case p.Exponential:
		b = goretry.NewExponential(p.Interval)
	default:
		b = goretry.NewConstant(p.Interval)
	}

	if p.JitterPercent > 0 && p.Interval > 0 {
		b = goretry.WithJitterPercent(p.JitterPercent, b)
	}
	if p.MaxDelay > 0 {
		b = goretry.WithCappedDuration(p.MaxDelay, b)
	}
	return goretry.WithMaxRetries(uint64(max(p.MaxRetries, 0)), b)
}
