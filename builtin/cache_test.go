package builtin_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentstation/brickflow"
	"github.com/agentstation/brickflow/builtin"
	"github.com/agentstation/brickflow/statestore"
)

func cacheStep(ttl any) brickflow.Step {
	cfg := map[string]any{
		"stateKey": "users",
		"body":     brickflow.Sub(brickflow.Step{ID: "test/fetch"}),
	}
	if ttl != nil {
		cfg["ttl"] = ttl
	}
	return brickflow.Step{ID: "@brickflow/with-cache", Config: cfg}
}

func TestWithCache(t *testing.T) {
	t.Run("Should coalesce concurrent requests for the same key", func(t *testing.T) {
		var calls atomic.Int32
		started := make(chan struct{})
		release := make(chan struct{})
		fetch := brickflow.BrickFunc("test/fetch", brickflow.Transformer,
			func(ctx context.Context, _ map[string]any, _ brickflow.RunOptions) (any, error) {
				n := calls.Add(1)
				if n == 1 {
					close(started)
					<-release
					return "first", nil
				}
				return "second", nil
			})
		engine, _ := newEngine(t, fetch)
		pipeline := brickflow.Pipeline{cacheStep(nil)}

		firstErr := make(chan error, 1)
		go func() {
			_, err := reduce(t, engine, pipeline, nil, brickflow.V3)
			firstErr <- err
		}()
		<-started

		out, err := reduce(t, engine, pipeline, nil, brickflow.V3)
		require.NoError(t, err)
		assert.Equal(t, "second", out)

		close(release)
		err = <-firstErr
		require.Error(t, err)
		assert.True(t, brickflow.IsCancelError(err))
		var ce *brickflow.ContextError
		assert.ErrorAs(t, err, &ce)

		out, err = reduce(t, engine, pipeline, nil, brickflow.V3)
		require.NoError(t, err)
		assert.Equal(t, "second", out)
		assert.EqualValues(t, 2, calls.Load())
	})

	t.Run("Should refetch on every call with a zero ttl", func(t *testing.T) {
		var calls atomic.Int32
		fetch := brickflow.BrickFunc("test/fetch", brickflow.Transformer,
			func(context.Context, map[string]any, brickflow.RunOptions) (any, error) {
				return calls.Add(1), nil
			})
		engine, _ := newEngine(t, fetch)
		pipeline := brickflow.Pipeline{cacheStep(0)}

		for want := int32(1); want <= 3; want++ {
			out, err := reduce(t, engine, pipeline, nil, brickflow.V3)
			require.NoError(t, err)
			assert.Equal(t, want, out)
		}
	})

	t.Run("Should serve fresh values until forced", func(t *testing.T) {
		var calls atomic.Int32
		fetch := brickflow.BrickFunc("test/fetch", brickflow.Transformer,
			func(context.Context, map[string]any, brickflow.RunOptions) (any, error) {
				return calls.Add(1), nil
			})
		engine, _ := newEngine(t, fetch)

		out, err := reduce(t, engine, brickflow.Pipeline{cacheStep(60)}, nil, brickflow.V3)
		require.NoError(t, err)
		assert.Equal(t, int32(1), out)

		out, err = reduce(t, engine, brickflow.Pipeline{cacheStep(60)}, nil, brickflow.V3)
		require.NoError(t, err)
		assert.Equal(t, int32(1), out)

		forced := cacheStep(60)
		forced.Config["forceFetch"] = true
		out, err = reduce(t, engine, brickflow.Pipeline{forced}, nil, brickflow.V3)
		require.NoError(t, err)
		assert.Equal(t, int32(2), out)
	})

	t.Run("Should memoize errors", func(t *testing.T) {
		var calls atomic.Int32
		fetch := brickflow.BrickFunc("test/fetch", brickflow.Transformer,
			func(context.Context, map[string]any, brickflow.RunOptions) (any, error) {
				calls.Add(1)
				return nil, brickflow.NewBusinessError("backend down")
			})
		engine, _ := newEngine(t, fetch)

		_, err := reduce(t, engine, brickflow.Pipeline{cacheStep(nil)}, nil, brickflow.V3)
		require.Error(t, err)
		assert.True(t, brickflow.IsBusinessError(err))

		_, err = reduce(t, engine, brickflow.Pipeline{cacheStep(nil)}, nil, brickflow.V3)
		require.Error(t, err)
		assert.True(t, brickflow.IsBusinessError(err))
		assert.Contains(t, err.Error(), "backend down")
		assert.Equal(t, "BusinessError", brickflow.SerializeError(err).Name)
		assert.EqualValues(t, 1, calls.Load())
	})

	t.Run("Should release the claim when the caller is cancelled", func(t *testing.T) {
		store, err := statestore.NewMemory()
		require.NoError(t, err)

		ctx, cancel := context.WithCancel(context.Background())
		fetch := brickflow.BrickFunc("test/fetch", brickflow.Transformer,
			func(ctx context.Context, _ map[string]any, _ brickflow.RunOptions) (any, error) {
				cancel()
				return nil, ctx.Err()
			})

		reg := builtin.NewRegistry()
		require.NoError(t, builtin.RegisterAll(reg, builtin.Config{State: store}))
		reg.Register(fetch)
		engine, err := brickflow.NewEngine(reg)
		require.NoError(t, err)

		_, err = engine.Reduce(ctx, brickflow.Pipeline{cacheStep(nil)}, brickflow.Initial{}, brickflow.V3)
		assert.True(t, brickflow.IsCancelError(err))

		entry, err := store.Get(context.Background(), "users")
		require.NoError(t, err)
		require.NotNil(t, entry)
		assert.False(t, entry.IsFetching)
		assert.Nil(t, entry.Error)
	})

	t.Run("Should require a state key", func(t *testing.T) {
		engine, _ := newEngine(t)
		_, err := reduce(t, engine, brickflow.Pipeline{{
			ID:     "@brickflow/with-cache",
			Config: map[string]any{"stateKey": "", "body": brickflow.Sub(returnStep(1))},
		}}, nil, brickflow.V3)
		require.Error(t, err)
		assert.True(t, brickflow.IsBusinessError(err))
	})
}

func TestWithCacheMemoizedErrorClasses(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	memory, err := statestore.NewMemory()
	require.NoError(t, err)

	stores := map[string]statestore.Store{
		"memory": memory,
		"redis":  statestore.NewRedis(client, "test"),
	}
	tests := []struct {
		name     string
		err      error
		business bool
		target   any
	}{
		{"business", brickflow.NewBusinessError("backend down"), true, new(*brickflow.BusinessError)},
		{"template", &brickflow.TemplateRenderError{Engine: "nunjucks", Cause: errors.New("bad filter")}, true, new(*brickflow.TemplateRenderError)},
		{"validation", &brickflow.InputValidationError{BrickID: "x", Issues: []brickflow.ValidationIssue{{Field: "name", Message: "required"}}}, true, new(*brickflow.InputValidationError)},
		{"system", errors.New("disk on fire"), false, new(*brickflow.SerializedError)},
	}
	for storeName, store := range stores {
		for _, tt := range tests {
			t.Run("Should re-surface "+tt.name+" errors from "+storeName, func(t *testing.T) {
				var calls atomic.Int32
				fetch := brickflow.BrickFunc("test/fetch", brickflow.Transformer,
					func(context.Context, map[string]any, brickflow.RunOptions) (any, error) {
						calls.Add(1)
						return nil, tt.err
					})
				reg := builtin.NewRegistry()
				require.NoError(t, builtin.RegisterAll(reg, builtin.Config{State: store}))
				reg.Register(fetch)
				engine, err := brickflow.NewEngine(reg)
				require.NoError(t, err)

				step := cacheStep(nil)
				step.Config["stateKey"] = storeName + "-" + tt.name
				first, err := engine.Reduce(context.Background(), brickflow.Pipeline{step}, brickflow.Initial{}, brickflow.V3)
				require.Nil(t, first)
				require.Error(t, err)
				firstErr := err

				_, err = engine.Reduce(context.Background(), brickflow.Pipeline{step}, brickflow.Initial{}, brickflow.V3)
				require.Error(t, err)
				assert.EqualValues(t, 1, calls.Load())
				assert.Equal(t, tt.business, brickflow.IsBusinessError(firstErr))
				assert.Equal(t, tt.business, brickflow.IsBusinessError(err))
				assert.ErrorAs(t, err, tt.target)
				assert.Equal(t, brickflow.RootCause(firstErr).Error(), brickflow.RootCause(err).Error())
				assert.Equal(t, brickflow.SerializeError(firstErr), brickflow.SerializeError(err))
			})
		}
	}
}

func TestWithCacheFractionalTTL(t *testing.T) {
	store, err := statestore.NewMemory()
	require.NoError(t, err)
	fetch := brickflow.BrickFunc("test/fetch", brickflow.Transformer,
		func(context.Context, map[string]any, brickflow.RunOptions) (any, error) {
			return "fresh", nil
		})
	reg := builtin.NewRegistry()
	require.NoError(t, builtin.RegisterAll(reg, builtin.Config{State: store}))
	reg.Register(fetch)
	engine, err := brickflow.NewEngine(reg)
	require.NoError(t, err)

	before := time.Now()
	_, err = engine.Reduce(context.Background(), brickflow.Pipeline{cacheStep(0.5)}, brickflow.Initial{}, brickflow.V3)
	require.NoError(t, err)

	entry, err := store.Get(context.Background(), "users")
	require.NoError(t, err)
	require.NotNil(t, entry)
	assert.False(t, entry.ExpiresAt.Before(before.Add(500*time.Millisecond)))
	assert.True(t, entry.ExpiresAt.Before(time.Now().Add(time.Second)))
}

func TestWithCacheExpiry(t *testing.T) {
	store, err := statestore.NewMemory()
	require.NoError(t, err)

	ctx := context.Background()
	_, err = store.Update(ctx, "users", func(*statestore.Entry) (*statestore.Entry, error) {
		return &statestore.Entry{Data: "stale", ExpiresAt: time.Now().Add(-time.Minute)}, nil
	})
	require.NoError(t, err)

	fetch := brickflow.BrickFunc("test/fetch", brickflow.Transformer,
		func(context.Context, map[string]any, brickflow.RunOptions) (any, error) {
			return "fresh", nil
		})
	reg := builtin.NewRegistry()
	require.NoError(t, builtin.RegisterAll(reg, builtin.Config{State: store}))
	reg.Register(fetch)
	engine, err := brickflow.NewEngine(reg)
	require.NoError(t, err)

	out, err := engine.Reduce(ctx, brickflow.Pipeline{cacheStep(nil)}, brickflow.Initial{}, brickflow.V3)
	require.NoError(t, err)
	assert.Equal(t, "fresh", out)

	entry, err := store.Get(ctx, "users")
	require.NoError(t, err)
	assert.Equal(t, "fresh", entry.Data)
	assert.True(t, entry.ExpiresAt.IsZero())
}
