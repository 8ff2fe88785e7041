package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPolicyDo(t *testing.T) {
	errBoom := errors.New("boom")

	t.Run("Should return nil on first success", func(t *testing.T) {
		calls := 0
		err := Constant(3, 0).Do(context.Background(), func(context.Context) error {
			calls++
			return nil
		})
		require.NoError(t, err)
		assert.Equal(t, 1, calls)
	})

	t.Run("Should make one plus max retries attempts", func(t *testing.T) {
		calls := 0
		err := Constant(2, 0).Do(context.Background(), func(context.Context) error {
			calls++
			return errBoom
		})
		assert.Same(t, errBoom, err)
		assert.Equal(t, 3, calls)
	})

	t.Run("Should stop once an attempt succeeds", func(t *testing.T) {
		calls := 0
		err := Constant(5, time.Millisecond).Do(context.Background(), func(context.Context) error {
			calls++
			if calls < 3 {
				return errBoom
			}
			return nil
		})
		require.NoError(t, err)
		assert.Equal(t, 3, calls)
	})

	t.Run("Should not retry non-retryable errors", func(t *testing.T) {
		calls := 0
		p := Exponential(5, time.Millisecond)
		p.Retryable = func(err error) bool { return !errors.Is(err, errBoom) }
		err := p.Do(context.Background(), func(context.Context) error {
			calls++
			return errBoom
		})
		assert.ErrorIs(t, err, errBoom)
		assert.Equal(t, 1, calls)
	})

	t.Run("Should make a single attempt with zero retries", func(t *testing.T) {
		calls := 0
		err := Constant(0, 0).Do(context.Background(), func(context.Context) error {
			calls++
			return errBoom
		})
		assert.ErrorIs(t, err, errBoom)
		assert.Equal(t, 1, calls)
	})

	t.Run("Should stop waiting when the context is cancelled", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		calls := 0
		err := Constant(10, time.Hour).Do(ctx, func(context.Context) error {
			calls++
			cancel()
			return errBoom
		})
		assert.ErrorIs(t, err, context.Canceled)
		assert.Equal(t, 1, calls)
	})
}

func TestPolicyAttempts(t *testing.T) {
	assert.Equal(t, 4, DefaultPolicy().Attempts())
	assert.Equal(t, 1, Constant(-1, 0).Attempts())
}
