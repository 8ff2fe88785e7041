package builtin

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/agentstation/brickflow"
	"github.com/agentstation/brickflow/statestore"
)

// WithCache memoizes a body's result in the page-state store.
//
// A call that finds a fresh entry returns it without running the body.
// Otherwise it claims the key with a new request id and runs the body.
// When a newer call claims the same key before the body settles, the
// older call's result is discarded and it fails with a CancelError.
// Failures are memoized like values so concurrent watchers see the same
// error instead of retrying.
type WithCache struct {
	base
	store statestore.Store
	now   func() time.Time
}

// NewWithCache creates the @brickflow/with-cache brick.
func NewWithCache(store statestore.Store) *WithCache {
	return &WithCache{
		base: newBase(brickflow.Transformer, Metadata{
			ID:          "@brickflow/with-cache",
			Category:    "control",
			Description: "Caches the result of body under stateKey, coalescing concurrent requests",
			InputSchema: object(map[string]any{
				"body":       pipelineProp,
				"stateKey":   prop("string", "Page state key holding the cached value"),
				"forceFetch": propDefault("boolean", "Ignore a fresh cached value", false),
				"ttl":        prop("number", "Seconds a value stays fresh; omit to cache forever"),
			}, "body", "stateKey"),
		}),
		store: store,
		now:   time.Now,
	}
}

// Run implements brickflow.Brick.
func (b *WithCache) Run(ctx context.Context, args map[string]any, opts brickflow.RunOptions) (any, error) {
	body, err := requirePipeline(args, "body")
	if err != nil {
		return nil, err
	}
	key := stringArg(args, "stateKey", "")
	if key == "" {
		return nil, brickflow.NewBusinessError("stateKey is required")
	}
	ttl, hasTTL, err := ttlArg(args)
	if err != nil {
		return nil, err
	}
	force := boolArg(args, "forceFetch")

	requestID := uuid.NewString()
	var hit *statestore.Entry

	_, err = b.store.Update(ctx, key, func(cur *statestore.Entry) (*statestore.Entry, error) {
		if cur != nil && !force && !cur.IsFetching && !cur.Expired(b.now()) {
			hit = cur
			return nil, nil
		}
		next := cur
		if next == nil {
			next = &statestore.Entry{}
		}
		next.IsFetching = true
		next.RequestID = requestID
		return next, nil
	})
	if err != nil {
		return nil, fmt.Errorf("claim state %s: %w", key, err)
	}

	if hit != nil {
		opts.Logger.Debug(ctx, "cache hit", "stateKey", key)
		if hit.Error != nil {
			return nil, hit.Error.Err()
		}
		return hit.Data, nil
	}

	out, runErr := opts.RunPipeline(ctx, body, nil)

	superseded := false
	_, err = b.store.Update(context.WithoutCancel(ctx), key, func(cur *statestore.Entry) (*statestore.Entry, error) {
		if cur == nil || cur.RequestID != requestID {
			superseded = true
			return nil, nil
		}
		next := cur
		next.IsFetching = false
		if runErr != nil && brickflow.IsCancelError(runErr) {
			// Abandon the claim without memoizing the abort.
			return next, nil
		}
		next.ExpiresAt = time.Time{}
		if hasTTL {
			next.ExpiresAt = b.now().Add(ttl)
		}
		if runErr != nil {
			next.Error = brickflow.SerializeError(runErr)
		} else {
			next.Data = out
			next.Error = nil
		}
		return next, nil
	})
	if err != nil {
		return nil, errors.Join(runErr, fmt.Errorf("store state %s: %w", key, err))
	}

	if superseded {
		opts.Logger.Debug(ctx, "request superseded", "stateKey", key, "request", requestID)
		return nil, &brickflow.CancelError{Message: "request superseded by a newer request for " + key}
	}
	if runErr != nil {
		return nil, runErr
	}
	return out, nil
}

func ttlArg(args map[string]any) (time.Duration, bool, error) {
	v, ok := args["ttl"]
	if !ok || v == nil {
		return 0, false, nil
	}
	seconds, err := toFloat(v)
	if err != nil {
		return 0, false, &brickflow.BusinessError{Message: "ttl must be a number", Cause: err}
	}
	if seconds < 0 {
		return 0, false, brickflow.NewBusinessError("ttl must not be negative")
	}
	return time.Duration(seconds * float64(time.Second)), true, nil
}
