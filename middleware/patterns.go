package middleware

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/agentstation/brickflow"
	"github.com/agentstation/brickflow/internal/retry"
)

// ErrCircuitOpen is returned while a circuit breaker rejects runs.
var ErrCircuitOpen = errors.New("brickflow: circuit breaker is open")

// Retry re-runs a failing brick according to policy. Cancellations and
// business errors are never retried: neither goes away on its own.
func Retry(policy retry.Policy) Middleware {
	retryable := policy.Retryable
	policy.Retryable = func(err error) bool {
		if brickflow.IsCancelError(err) || brickflow.IsBusinessError(err) {
			return false
		}
		return retryable == nil || retryable(err)
	}

	return func(b brickflow.Brick) brickflow.Brick {
		return wrap(b, func(ctx context.Context, args map[string]any, opts brickflow.RunOptions) (any, error) {
			var result any
			err := policy.Do(ctx, func(ctx context.Context) error {
				var err error
				result, err = b.Run(ctx, args, opts)
				return err
			})
			if err != nil {
				return nil, err
			}
			return result, nil
		})
	}
}

// Timeout bounds each brick run. The brick sees a context with the
// deadline; when it expires the run returns a CancelError.
func Timeout(duration time.Duration) Middleware {
	return func(b brickflow.Brick) brickflow.Brick {
		return wrap(b, func(ctx context.Context, args map[string]any, opts brickflow.RunOptions) (any, error) {
			timeoutCtx, cancel := context.WithTimeout(ctx, duration)
			defer cancel()

			type outcome struct {
				result any
				err    error
			}
			done := make(chan outcome, 1)
			go func() {
				result, err := b.Run(timeoutCtx, args, opts)
				done <- outcome{result, err}
			}()

			select {
			case out := <-done:
				return out.result, out.err
			case <-timeoutCtx.Done():
				if ctx.Err() != nil {
					return nil, ctx.Err()
				}
				return nil, &brickflow.CancelError{
					Message: fmt.Sprintf("brick %s timed out after %v", b.ID(), duration),
					Cause:   timeoutCtx.Err(),
				}
			}
		})
	}
}

// RateLimit limits how often the wrapped brick may start, across all
// pipelines sharing the middleware.
func RateLimit(rps float64, burst int) Middleware {
	limiter := rate.NewLimiter(rate.Limit(rps), burst)
	return func(b brickflow.Brick) brickflow.Brick {
		return wrap(b, func(ctx context.Context, args map[string]any, opts brickflow.RunOptions) (any, error) {
			if err := limiter.Wait(ctx); err != nil {
				return nil, fmt.Errorf("rate limit %s: %w", b.ID(), err)
			}
			return b.Run(ctx, args, opts)
		})
	}
}

// CircuitBreaker opens after threshold consecutive system failures and
// rejects runs until timeout has passed. Business errors and cancellations
// do not count as failures. Each brick id has its own breaker, shared by
// every wrap of that brick, so the state survives per-step wrapping.
func CircuitBreaker(threshold int, timeout time.Duration) Middleware {
	var (
		mu       sync.Mutex
		breakers = map[string]*breaker{}
	)
	breakerFor := func(id string) *breaker {
		mu.Lock()
		defer mu.Unlock()
		br, ok := breakers[id]
		if !ok {
			br = &breaker{threshold: threshold, timeout: timeout, state: stateClosed}
			breakers[id] = br
		}
		return br
	}

	return func(b brickflow.Brick) brickflow.Brick {
		br := breakerFor(b.ID())
		return wrap(b, func(ctx context.Context, args map[string]any, opts brickflow.RunOptions) (any, error) {
			if !br.allow() {
				return nil, fmt.Errorf("%w: %s", ErrCircuitOpen, b.ID())
			}
			result, err := b.Run(ctx, args, opts)
			br.record(err)
			if err != nil {
				return nil, err
			}
			return result, nil
		})
	}
}

type breakerState int

const (
	stateClosed breakerState = iota
	stateOpen
	stateHalfOpen
)

type breaker struct {
	mu          sync.Mutex
	threshold   int
	timeout     time.Duration
	failures    int
	lastFailure time.Time
	state       breakerState
}

func (br *breaker) allow() bool {
	br.mu.Lock()
	defer br.mu.Unlock()
	if br.state != stateOpen {
		return true
	}
	if time.Since(br.lastFailure) > br.timeout {
		br.state = stateHalfOpen
		return true
	}
	return false
}

func (br *breaker) record(err error) {
	br.mu.Lock()
	defer br.mu.Unlock()
	if err == nil {
		br.failures = 0
		br.state = stateClosed
		return
	}
	if Outcome(err) != OutcomeError {
		return
	}
	br.failures++
	br.lastFailure = time.Now()
	if br.failures >= br.threshold || br.state == stateHalfOpen {
		br.state = stateOpen
	}
}

// ErrorHandler passes run errors through handler. A nil return from the
// handler swallows the error and the run yields fallback.
func ErrorHandler(handler func(brickID string, err error) error, fallback any) Middleware {
	return func(b brickflow.Brick) brickflow.Brick {
		return wrap(b, func(ctx context.Context, args map[string]any, opts brickflow.RunOptions) (any, error) {
			result, err := b.Run(ctx, args, opts)
			if err == nil {
				return result, nil
			}
			if handled := handler(b.ID(), err); handled != nil {
				return nil, handled
			}
			return fallback, nil
		})
	}
}
