// Package middleware provides brick enhancement patterns for cross-cutting
// concerns like logging, metrics, timeouts and circuit breakers.
package middleware

import (
	"context"

	"github.com/agentstation/brickflow"
)

// Middleware modifies brick behavior.
type Middleware = brickflow.Middleware

// middlewareBrick wraps a brick and replaces its run function. Identity,
// kind and schemas always come from the inner brick.
type middlewareBrick struct {
	inner brickflow.Brick
	run   brickflow.RunFunc
}

func wrap(inner brickflow.Brick, run brickflow.RunFunc) brickflow.Brick {
	return &middlewareBrick{inner: inner, run: run}
}

func (m *middlewareBrick) ID() string                     { return m.inner.ID() }
func (m *middlewareBrick) Kind() brickflow.Kind           { return m.inner.Kind() }
func (m *middlewareBrick) InputSchema() brickflow.Schema  { return m.inner.InputSchema() }
func (m *middlewareBrick) OutputSchema() brickflow.Schema { return m.inner.OutputSchema() }

func (m *middlewareBrick) Run(ctx context.Context, args map[string]any, opts brickflow.RunOptions) (any, error) {
	return m.run(ctx, args, opts)
}

// Unwrap returns the wrapped brick.
func (m *middlewareBrick) Unwrap() brickflow.Brick {
	return m.inner
}

// Chain combines multiple middlewares into a single middleware.
// The first middleware is the outermost, matching the engine.
func Chain(middlewares ...Middleware) Middleware {
	return func(b brickflow.Brick) brickflow.Brick {
		for i := len(middlewares) - 1; i >= 0; i-- {
			b = middlewares[i](b)
		}
		return b
	}
}

// Apply applies middleware to a brick, innermost first.
func Apply(b brickflow.Brick, middlewares ...Middleware) brickflow.Brick {
	for _, mw := range middlewares {
		b = mw(b)
	}
	return b
}
