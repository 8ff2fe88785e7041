package brickflow_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentstation/brickflow"
)

// bricks is a minimal resolver for engine tests.
type bricks map[string]brickflow.Brick

func (b bricks) Resolve(_ context.Context, id string) (brickflow.Brick, error) {
	brick, ok := b[id]
	if !ok {
		return nil, brickflow.ErrBrickNotFound
	}
	return brick, nil
}

func (b bricks) add(brick brickflow.Brick) bricks {
	b[brick.ID()] = brick
	return b
}

func constBrick(id string, kind brickflow.Kind, value any) *brickflow.FuncBrick {
	return brickflow.BrickFunc(id, kind, func(context.Context, map[string]any, brickflow.RunOptions) (any, error) {
		return value, nil
	})
}

func echoBrick() brickflow.Brick {
	return brickflow.BrickFunc("test/echo", brickflow.Transformer,
		func(_ context.Context, args map[string]any, _ brickflow.RunOptions) (any, error) {
			return args["value"], nil
		})
}

func echo(value any) brickflow.Step {
	return brickflow.Step{ID: "test/echo", Config: map[string]any{"value": value}}
}

func newEngine(t *testing.T, r brickflow.Resolver, opts ...brickflow.EngineOption) *brickflow.Engine {
	t.Helper()
	engine, err := brickflow.NewEngine(r, opts...)
	require.NoError(t, err)
	return engine
}

func TestVersionIsolation(t *testing.T) {
	var (
		mu   sync.Mutex
		seen any
	)
	capture := brickflow.BrickFunc("test/capture", brickflow.Effect,
		func(_ context.Context, _ map[string]any, opts brickflow.RunOptions) (any, error) {
			mu.Lock()
			defer mu.Unlock()
			seen = opts.Ctxt
			return nil, nil
		})
	reg := bricks{}.
		add(constBrick("test/array", brickflow.Transformer, []any{1, 2, 3})).
		add(capture)
	engine := newEngine(t, reg)
	pipeline := brickflow.Pipeline{{ID: "test/array"}, {ID: "test/capture"}}

	t.Run("Should pass raw outputs through under v1", func(t *testing.T) {
		out, err := engine.Reduce(context.Background(), pipeline, brickflow.Initial{}, brickflow.V1)
		require.NoError(t, err)
		assert.Equal(t, []any{1, 2, 3}, seen)
		assert.Equal(t, []any{1, 2, 3}, out)
	})

	for _, v := range []brickflow.Version{brickflow.V2, brickflow.V3} {
		t.Run("Should hide un-keyed outputs under "+string(v), func(t *testing.T) {
			_, err := engine.Reduce(context.Background(), pipeline, brickflow.Initial{}, v)
			require.NoError(t, err)
			ctxt, ok := seen.(map[string]any)
			require.True(t, ok, "ctxt should be a variable map, got %T", seen)
			for _, value := range ctxt {
				assert.NotEqual(t, []any{1, 2, 3}, value)
			}
		})
	}
}

func TestOutputKeyPrecedence(t *testing.T) {
	reg := bricks{}.
		add(constBrick("test/first", brickflow.Transformer, map[string]any{"message": "First brick"})).
		add(echoBrick())
	engine := newEngine(t, reg)

	pipeline := brickflow.Pipeline{
		{ID: "test/first", OutputKey: "input"},
		echo(brickflow.Var("@input")),
	}
	for _, v := range []brickflow.Version{brickflow.V2, brickflow.V3} {
		t.Run("Should rebind @input under "+string(v), func(t *testing.T) {
			out, err := engine.Reduce(context.Background(), pipeline,
				brickflow.Initial{Input: map[string]any{"message": "original"}}, v)
			require.NoError(t, err)
			assert.Equal(t, map[string]any{"message": "First brick"}, out)
		})
	}
}

func TestConditionalSkip(t *testing.T) {
	ran := false
	effect := brickflow.BrickFunc("test/effect", brickflow.Transformer,
		func(context.Context, map[string]any, brickflow.RunOptions) (any, error) {
			ran = true
			return "ran", nil
		})
	sink := brickflow.NewMemoryTraceSink()
	engine := newEngine(t, bricks{}.add(effect), brickflow.WithTraceSink(sink))

	pipeline := brickflow.Pipeline{{
		ID:         "test/effect",
		InstanceID: "guarded",
		If:         brickflow.MustacheTemplate("{{# @input.run }}true{{/ @input.run }}"),
	}}

	t.Run("Should skip the step when the condition is falsy", func(t *testing.T) {
		out, err := engine.Reduce(context.Background(), pipeline,
			brickflow.Initial{Input: map[string]any{"run": false}}, brickflow.V3)
		require.NoError(t, err)
		assert.Equal(t, map[string]any{}, out)
		assert.False(t, ran)

		records := sink.Records()
		require.Len(t, records, 1)
		assert.True(t, records[0].Skipped)
		assert.Equal(t, "guarded", records[0].InstanceID)
	})

	t.Run("Should run the step when the condition is truthy", func(t *testing.T) {
		out, err := engine.Reduce(context.Background(), pipeline,
			brickflow.Initial{Input: map[string]any{"run": true}}, brickflow.V3)
		require.NoError(t, err)
		assert.Equal(t, "ran", out)
		assert.True(t, ran)
	})
}

func TestTerminalValue(t *testing.T) {
	reg := bricks{}.
		add(constBrick("test/value", brickflow.Transformer, map[string]any{"a": 1})).
		add(constBrick("test/effect", brickflow.Effect, "ignored"))
	engine := newEngine(t, reg)
	pipeline := brickflow.Pipeline{{ID: "test/value"}, {ID: "test/effect"}}

	tests := []struct {
		version brickflow.Version
		want    any
	}{
		{brickflow.V1, map[string]any{"a": 1}},
		{brickflow.V2, map[string]any{}},
		{brickflow.V3, map[string]any{"a": 1}},
	}
	for _, tt := range tests {
		t.Run("Should apply the "+string(tt.version)+" terminal rule", func(t *testing.T) {
			out, err := engine.Reduce(context.Background(), pipeline, brickflow.Initial{}, tt.version)
			require.NoError(t, err)
			assert.Equal(t, tt.want, out)
		})
	}

	t.Run("Should return an empty object for an empty v3 pipeline", func(t *testing.T) {
		out, err := engine.Reduce(context.Background(), nil, brickflow.Initial{}, brickflow.V3)
		require.NoError(t, err)
		assert.Equal(t, map[string]any{}, out)
	})
}

func TestSequentialDeterminism(t *testing.T) {
	var order []string
	step := func(name string) brickflow.Brick {
		return brickflow.BrickFunc("test/"+name, brickflow.Transformer,
			func(_ context.Context, args map[string]any, _ brickflow.RunOptions) (any, error) {
				order = append(order, name)
				return args["in"], nil
			})
	}
	reg := bricks{}.add(step("a")).add(step("b")).add(step("c"))
	engine := newEngine(t, reg)
	pipeline := brickflow.Pipeline{
		{ID: "test/a", Config: map[string]any{"in": brickflow.Var("@input")}, OutputKey: "a"},
		{ID: "test/b", Config: map[string]any{"in": brickflow.Var("@a")}, OutputKey: "b"},
		{ID: "test/c", Config: map[string]any{"in": brickflow.Var("@b")}},
	}

	var results []any
	for i := 0; i < 3; i++ {
		out, err := engine.Reduce(context.Background(), pipeline, brickflow.Initial{Input: "x"}, brickflow.V3)
		require.NoError(t, err)
		results = append(results, out)
	}
	assert.Equal(t, []string{"a", "b", "c", "a", "b", "c", "a", "b", "c"}, order)
	assert.Equal(t, []any{"x", "x", "x"}, results)
}

func TestStepErrors(t *testing.T) {
	errSystem := errors.New("disk on fire")
	reg := bricks{}.
		add(echoBrick()).
		add(brickflow.BrickFunc("test/fail", brickflow.Effect,
			func(context.Context, map[string]any, brickflow.RunOptions) (any, error) {
				return nil, errSystem
			})).
		add(constBrick("test/strict", brickflow.Transformer, "ok").WithInputSchema(brickflow.Schema{
			"type":     "object",
			"required": []any{"name"},
			"properties": map[string]any{
				"name": map[string]any{"type": "string"},
			},
		}))
	engine := newEngine(t, reg)
	ctx := context.Background()

	t.Run("Should report missing bricks as business errors", func(t *testing.T) {
		_, err := engine.Reduce(ctx, brickflow.Pipeline{
			echo(1),
			{ID: "@missing/brick", InstanceID: "m1"},
		}, brickflow.Initial{}, brickflow.V3)
		require.Error(t, err)
		assert.True(t, brickflow.IsBusinessError(err))
		assert.ErrorIs(t, err, brickflow.ErrBrickNotFound)

		var ce *brickflow.ContextError
		require.ErrorAs(t, err, &ce)
		assert.Equal(t, "m1", ce.InstanceID)
		assert.Equal(t, 1, ce.StepIndex)
	})

	t.Run("Should fill in missing instance ids", func(t *testing.T) {
		pipeline := brickflow.Pipeline{{ID: "test/fail"}}
		_, err := engine.Reduce(ctx, pipeline, brickflow.Initial{}, brickflow.V3)
		var ce *brickflow.ContextError
		require.ErrorAs(t, err, &ce)
		assert.NotEmpty(t, ce.InstanceID)
		assert.Empty(t, pipeline[0].InstanceID)
	})

	t.Run("Should keep the identity of system errors", func(t *testing.T) {
		_, err := engine.Reduce(ctx, brickflow.Pipeline{{ID: "test/fail"}}, brickflow.Initial{}, brickflow.V3)
		assert.ErrorIs(t, err, errSystem)
		assert.False(t, brickflow.IsBusinessError(err))
		assert.Equal(t, errSystem, brickflow.RootCause(err))
	})

	t.Run("Should validate rendered arguments", func(t *testing.T) {
		_, err := engine.Reduce(ctx, brickflow.Pipeline{{
			ID:     "test/strict",
			Config: map[string]any{"name": 42},
		}}, brickflow.Initial{}, brickflow.V3)
		var ve *brickflow.InputValidationError
		require.ErrorAs(t, err, &ve)
		assert.Equal(t, "test/strict", ve.BrickID)
		assert.Contains(t, ve.Fields(), "name")

		out, err := engine.Reduce(ctx, brickflow.Pipeline{{
			ID:     "test/strict",
			Config: map[string]any{"name": brickflow.Var("@input")},
		}}, brickflow.Initial{Input: "Ada"}, brickflow.V3)
		require.NoError(t, err)
		assert.Equal(t, "ok", out)
	})

	t.Run("Should classify template failures as business errors", func(t *testing.T) {
		_, err := engine.Reduce(ctx, brickflow.Pipeline{
			echo(brickflow.NunjucksTemplate("{{ @input | nosuchfilter }}")),
		}, brickflow.Initial{}, brickflow.V3)
		var te *brickflow.TemplateRenderError
		require.ErrorAs(t, err, &te)
		assert.True(t, brickflow.IsBusinessError(err))
	})

	t.Run("Should reject unknown versions", func(t *testing.T) {
		_, err := engine.Reduce(ctx, nil, brickflow.Initial{}, "v9")
		assert.ErrorIs(t, err, brickflow.ErrUnknownVersion)
	})
}

func TestCancellation(t *testing.T) {
	calls := 0
	reg := bricks{}.add(brickflow.BrickFunc("test/count", brickflow.Effect,
		func(context.Context, map[string]any, brickflow.RunOptions) (any, error) {
			calls++
			return nil, nil
		}))
	engine := newEngine(t, reg)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := engine.Reduce(ctx, brickflow.Pipeline{{ID: "test/count"}}, brickflow.Initial{}, brickflow.V3)
	require.Error(t, err)
	assert.True(t, brickflow.IsCancelError(err))
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, calls)
}

func TestNestedPipelines(t *testing.T) {
	sink := brickflow.NewMemoryTraceSink()
	twice := brickflow.BrickFunc("test/twice", brickflow.Transformer,
		func(ctx context.Context, args map[string]any, opts brickflow.RunOptions) (any, error) {
			body := args["body"].(brickflow.PipelineExpr)
			var out []any
			for i := 0; i < 2; i++ {
				v, err := opts.RunPipeline(ctx, body, map[string]any{"@n": i})
				if err != nil {
					return nil, err
				}
				out = append(out, v)
			}
			return out, nil
		})
	engine := newEngine(t, bricks{}.add(twice).add(echoBrick()), brickflow.WithTraceSink(sink))

	out, err := engine.Reduce(context.Background(), brickflow.Pipeline{{
		ID: "test/twice",
		Config: map[string]any{
			"body": brickflow.Sub(echo(brickflow.MustacheTemplate("{{ @input }}-{{ @n }}"))),
		},
	}}, brickflow.Initial{Input: "run"}, brickflow.V3)
	require.NoError(t, err)
	assert.Equal(t, []any{"run-0", "run-1"}, out)

	t.Run("Should share the run id with nested steps", func(t *testing.T) {
		records := sink.Records()
		require.Len(t, records, 3)
		for _, rec := range records {
			assert.Equal(t, records[0].RunID, rec.RunID)
			assert.Equal(t, brickflow.V3, rec.Version)
		}
		assert.Equal(t, "test/twice", records[2].BrickID)
	})
}

func TestMiddlewareOrder(t *testing.T) {
	var calls []string
	tag := func(name string) brickflow.Middleware {
		return func(next brickflow.Brick) brickflow.Brick {
			return brickflow.BrickFunc(next.ID(), next.Kind(),
				func(ctx context.Context, args map[string]any, opts brickflow.RunOptions) (any, error) {
					calls = append(calls, name)
					return next.Run(ctx, args, opts)
				})
		}
	}
	engine := newEngine(t, bricks{}.add(echoBrick()),
		brickflow.WithMiddleware(tag("outer"), tag("inner")))

	out, err := engine.Reduce(context.Background(), brickflow.Pipeline{echo("v")}, brickflow.Initial{}, brickflow.V3)
	require.NoError(t, err)
	assert.Equal(t, "v", out)
	assert.Equal(t, []string{"outer", "inner"}, calls)
}

func TestTraceSinkFailure(t *testing.T) {
	failing := brickflow.TraceSinkFunc(func(context.Context, brickflow.TraceRecord) error {
		return errors.New("sink down")
	})
	memory := brickflow.NewMemoryTraceSink()
	engine := newEngine(t, bricks{}.add(echoBrick()),
		brickflow.WithTraceSink(failing), brickflow.WithTraceSink(memory))

	out, err := engine.Reduce(context.Background(), brickflow.Pipeline{echo("v")}, brickflow.Initial{}, brickflow.V3)
	require.NoError(t, err)
	assert.Equal(t, "v", out)

	records := memory.Records()
	require.Len(t, records, 1)
	assert.Equal(t, map[string]any{"value": "v"}, records[0].Args)
	assert.Equal(t, "v", records[0].Output)
	assert.GreaterOrEqual(t, records[0].Duration().Nanoseconds(), int64(0))
}

func TestEngineEvaluate(t *testing.T) {
	engine := newEngine(t, bricks{})

	out, err := engine.Evaluate(context.Background(), brickflow.Var("@options.theme"),
		brickflow.Initial{Options: map[string]any{"theme": "dark"}}, brickflow.V2)
	require.NoError(t, err)
	assert.Equal(t, "dark", out)
}

func TestReservedOutputKeys(t *testing.T) {
	calls := 0
	reg := bricks{}.
		add(echoBrick()).
		add(brickflow.BrickFunc("test/count", brickflow.Transformer,
			func(context.Context, map[string]any, brickflow.RunOptions) (any, error) {
				calls++
				return "clobbered", nil
			}))
	engine := newEngine(t, reg)
	ctx := context.Background()
	initial := brickflow.Initial{Options: map[string]any{"a": 1}, Mod: map[string]any{"b": 2}}

	tests := []struct {
		name     string
		pipeline brickflow.Pipeline
	}{
		{"Should reject options as an output key", brickflow.Pipeline{
			{ID: "test/count", OutputKey: "options"},
			echo(brickflow.Var("@options")),
		}},
		{"Should reject mod as an output key", brickflow.Pipeline{
			{ID: "test/count", OutputKey: "mod"},
			echo(brickflow.Var("@mod")),
		}},
		{"Should reject reserved keys before running earlier steps", brickflow.Pipeline{
			{ID: "test/count"},
			{ID: "test/count", OutputKey: "options"},
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			calls = 0
			_, err := engine.Reduce(ctx, tt.pipeline, initial, brickflow.V3)
			assert.ErrorIs(t, err, brickflow.ErrInvalidStep)
			assert.Equal(t, 0, calls)
		})
	}

	t.Run("Should reject reserved keys in dynamic sub-pipelines", func(t *testing.T) {
		reg.add(brickflow.BrickFunc("test/run", brickflow.Transformer,
			func(ctx context.Context, _ map[string]any, opts brickflow.RunOptions) (any, error) {
				return opts.RunPipeline(ctx, brickflow.Sub(brickflow.Step{ID: "test/count", OutputKey: "mod"}), nil)
			}))
		calls = 0
		_, err := engine.Reduce(ctx, brickflow.Pipeline{{ID: "test/run"}}, initial, brickflow.V3)
		assert.ErrorIs(t, err, brickflow.ErrInvalidStep)
		assert.Equal(t, 0, calls)
	})

	t.Run("Should keep options stable otherwise", func(t *testing.T) {
		out, err := engine.Reduce(ctx, brickflow.Pipeline{
			{ID: "test/count", OutputKey: "result"},
			echo(brickflow.Var("@options")),
		}, initial, brickflow.V3)
		require.NoError(t, err)
		assert.Equal(t, map[string]any{"a": 1}, out)
	})
}
