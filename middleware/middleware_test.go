package middleware

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentstation/brickflow"
	"github.com/agentstation/brickflow/internal/retry"
)

var errSystem = errors.New("system failure")

func runOpts() brickflow.RunOptions {
	return brickflow.RunOptions{Logger: brickflow.NopLogger(), InstanceID: "i1"}
}

func countingBrick(id string, results ...error) (brickflow.Brick, *int) {
	calls := 0
	return brickflow.BrickFunc(id, brickflow.Transformer,
		func(context.Context, map[string]any, brickflow.RunOptions) (any, error) {
			calls++
			if calls <= len(results) && results[calls-1] != nil {
				return nil, results[calls-1]
			}
			return calls, nil
		}), &calls
}

// resolverOf resolves the given bricks by id.
type resolverOf map[string]brickflow.Brick

func newResolver(bricks ...brickflow.Brick) resolverOf {
	r := resolverOf{}
	for _, b := range bricks {
		r[b.ID()] = b
	}
	return r
}

func (r resolverOf) Resolve(_ context.Context, id string) (brickflow.Brick, error) {
	b, ok := r[id]
	if !ok {
		return nil, brickflow.ErrBrickNotFound
	}
	return b, nil
}

type recordingLogger struct {
	mu      sync.Mutex
	entries []string
}

func (l *recordingLogger) add(level, msg string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, level+":"+msg)
}

func (l *recordingLogger) Debug(_ context.Context, msg string, _ ...any) { l.add("debug", msg) }
func (l *recordingLogger) Info(_ context.Context, msg string, _ ...any)  { l.add("info", msg) }
func (l *recordingLogger) Warn(_ context.Context, msg string, _ ...any)  { l.add("warn", msg) }
func (l *recordingLogger) Error(_ context.Context, msg string, _ ...any) { l.add("error", msg) }

func TestWrapKeepsIdentity(t *testing.T) {
	inner := brickflow.BrickFunc("test/x", brickflow.Reader, nil).
		WithInputSchema(brickflow.Schema{"type": "object"})
	wrapped := Chain(Timing(NewTimingStats()), Timeout(time.Second))(inner)

	assert.Equal(t, "test/x", wrapped.ID())
	assert.Equal(t, brickflow.Reader, wrapped.Kind())
	assert.Equal(t, brickflow.Schema{"type": "object"}, wrapped.InputSchema())
}

func TestChainOrder(t *testing.T) {
	var order []string
	tag := func(name string) Middleware {
		return func(b brickflow.Brick) brickflow.Brick {
			return wrap(b, func(ctx context.Context, args map[string]any, opts brickflow.RunOptions) (any, error) {
				order = append(order, name)
				return b.Run(ctx, args, opts)
			})
		}
	}
	inner, _ := countingBrick("test/x")

	_, err := Chain(tag("a"), tag("b"))(inner).Run(context.Background(), nil, runOpts())
	require.NoError(t, err)
	_, err = Apply(inner, tag("c"), tag("d")).Run(context.Background(), nil, runOpts())
	require.NoError(t, err)

	assert.Equal(t, []string{"a", "b", "d", "c"}, order)
}

func TestLogging(t *testing.T) {
	logger := &recordingLogger{}
	ok, _ := countingBrick("test/ok")
	bad, _ := countingBrick("test/bad", errSystem)
	stop, _ := countingBrick("test/stop", &brickflow.CancelError{})

	_, _ = Logging(logger)(ok).Run(context.Background(), nil, runOpts())
	_, _ = Logging(logger)(bad).Run(context.Background(), nil, runOpts())
	_, _ = Logging(logger)(stop).Run(context.Background(), nil, runOpts())

	assert.Equal(t, []string{
		"debug:brick run starting", "info:brick run completed",
		"debug:brick run starting", "error:brick run failed",
		"debug:brick run starting", "info:brick run cancelled",
	}, logger.entries)
}

func TestTiming(t *testing.T) {
	stats := NewTimingStats()
	b, _ := countingBrick("test/x", nil, errSystem)
	wrapped := Timing(stats)(b)

	_, _ = wrapped.Run(context.Background(), nil, runOpts())
	_, _ = wrapped.Run(context.Background(), nil, runOpts())

	timing, ok := stats.Get("test/x")
	require.True(t, ok)
	assert.EqualValues(t, 2, timing.Count)
	assert.GreaterOrEqual(t, timing.Max, timing.Last)
	assert.Equal(t, timing.Total/2, timing.Average())
	assert.Equal(t, []string{"test/x"}, stats.IDs())
}

func TestPrometheusMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	collector, err := NewPrometheusCollector(reg)
	require.NoError(t, err)

	b, _ := countingBrick("test/x", errSystem, brickflow.NewBusinessError("bad"))
	wrapped := Metrics(collector)(b)
	for i := 0; i < 3; i++ {
		_, _ = wrapped.Run(context.Background(), nil, runOpts())
	}

	assert.Equal(t, 1.0, testutil.ToFloat64(collector.runs.WithLabelValues("test/x", OutcomeError)))
	assert.Equal(t, 1.0, testutil.ToFloat64(collector.runs.WithLabelValues("test/x", OutcomeBusiness)))
	assert.Equal(t, 1.0, testutil.ToFloat64(collector.runs.WithLabelValues("test/x", OutcomeSuccess)))
	assert.Equal(t, 0.0, testutil.ToFloat64(collector.inFlight.WithLabelValues("test/x")))

	expected := `
# HELP brickflow_brick_runs_total Total brick runs by brick id and outcome
# TYPE brickflow_brick_runs_total counter
brickflow_brick_runs_total{brick="test/x",outcome="business_error"} 1
brickflow_brick_runs_total{brick="test/x",outcome="error"} 1
brickflow_brick_runs_total{brick="test/x",outcome="success"} 1
`
	assert.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected), "brickflow_brick_runs_total"))

	_, err = NewPrometheusCollector(reg)
	assert.Error(t, err, "duplicate registration")
}

func TestRetry(t *testing.T) {
	t.Run("Should retry system errors", func(t *testing.T) {
		b, calls := countingBrick("test/x", errSystem, errSystem)
		out, err := Retry(retry.Constant(3, 0))(b).Run(context.Background(), nil, runOpts())
		require.NoError(t, err)
		assert.Equal(t, 3, out)
		assert.Equal(t, 3, *calls)
	})

	t.Run("Should not retry business errors", func(t *testing.T) {
		b, calls := countingBrick("test/x", brickflow.NewBusinessError("bad"))
		_, err := Retry(retry.Constant(3, 0))(b).Run(context.Background(), nil, runOpts())
		assert.True(t, brickflow.IsBusinessError(err))
		assert.Equal(t, 1, *calls)
	})

	t.Run("Should return the last error on exhaustion", func(t *testing.T) {
		b, calls := countingBrick("test/x", errSystem, errSystem, errSystem)
		_, err := Retry(retry.Constant(1, 0))(b).Run(context.Background(), nil, runOpts())
		assert.Equal(t, errSystem, err)
		assert.Equal(t, 2, *calls)
	})
}

func TestTimeout(t *testing.T) {
	slow := brickflow.BrickFunc("test/slow", brickflow.Effect,
		func(ctx context.Context, _ map[string]any, _ brickflow.RunOptions) (any, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		})

	_, err := Timeout(10*time.Millisecond)(slow).Run(context.Background(), nil, runOpts())
	require.Error(t, err)
	assert.True(t, brickflow.IsCancelError(err))
	assert.Contains(t, err.Error(), "timed out")

	fast, _ := countingBrick("test/fast")
	out, err := Timeout(time.Second)(fast).Run(context.Background(), nil, runOpts())
	require.NoError(t, err)
	assert.Equal(t, 1, out)
}

func TestRateLimit(t *testing.T) {
	b, calls := countingBrick("test/x")
	wrapped := RateLimit(1, 1)(b)

	_, err := wrapped.Run(context.Background(), nil, runOpts())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err = wrapped.Run(ctx, nil, runOpts())
	assert.Error(t, err)
	assert.Equal(t, 1, *calls)
}

func TestCircuitBreaker(t *testing.T) {
	b, calls := countingBrick("test/x", errSystem, errSystem, brickflow.NewBusinessError("bad"))
	wrapped := CircuitBreaker(2, 20*time.Millisecond)(b)
	ctx := context.Background()

	_, err := wrapped.Run(ctx, nil, runOpts())
	assert.ErrorIs(t, err, errSystem)
	_, err = wrapped.Run(ctx, nil, runOpts())
	assert.ErrorIs(t, err, errSystem)

	_, err = wrapped.Run(ctx, nil, runOpts())
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.Equal(t, 2, *calls)

	time.Sleep(30 * time.Millisecond)
	_, err = wrapped.Run(ctx, nil, runOpts())
	assert.True(t, brickflow.IsBusinessError(err), "half-open lets one run through")

	out, err := wrapped.Run(ctx, nil, runOpts())
	require.NoError(t, err)
	assert.Equal(t, 4, out)
}

func TestCircuitBreakerThroughEngine(t *testing.T) {
	failing, calls := countingBrick("test/fail", errSystem, errSystem, errSystem)
	healthy, healthyCalls := countingBrick("test/ok")
	reg := newResolver(failing, healthy)
	engine, err := brickflow.NewEngine(reg, brickflow.WithMiddleware(CircuitBreaker(1, time.Hour)))
	require.NoError(t, err)
	ctx := context.Background()

	_, err = engine.Reduce(ctx, brickflow.Pipeline{{ID: "test/fail"}}, brickflow.Initial{}, brickflow.V3)
	assert.ErrorIs(t, err, errSystem)

	for range 2 {
		_, err = engine.Reduce(ctx, brickflow.Pipeline{{ID: "test/fail"}}, brickflow.Initial{}, brickflow.V3)
		assert.ErrorIs(t, err, ErrCircuitOpen)
	}
	assert.Equal(t, 1, *calls)

	t.Run("Should keep other bricks closed", func(t *testing.T) {
		out, err := engine.Reduce(ctx, brickflow.Pipeline{{ID: "test/ok"}}, brickflow.Initial{}, brickflow.V3)
		require.NoError(t, err)
		assert.Equal(t, 1, out)
		assert.Equal(t, 1, *healthyCalls)
	})
}

func TestErrorHandler(t *testing.T) {
	b, _ := countingBrick("test/x", errSystem, errors.New("keep"))
	wrapped := ErrorHandler(func(id string, err error) error {
		if errors.Is(err, errSystem) {
			return nil
		}
		return fmt.Errorf("%s: %w", id, err)
	}, "fallback")(b)

	out, err := wrapped.Run(context.Background(), nil, runOpts())
	require.NoError(t, err)
	assert.Equal(t, "fallback", out)

	_, err = wrapped.Run(context.Background(), nil, runOpts())
	assert.EqualError(t, err, "test/x: keep")
}
