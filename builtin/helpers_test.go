package builtin_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/agentstation/brickflow"
	"github.com/agentstation/brickflow/builtin"
)

func newEngine(t *testing.T, extra ...brickflow.Brick) (*brickflow.Engine, *builtin.Registry) {
	t.Helper()
	reg := builtin.NewRegistry()
	require.NoError(t, builtin.RegisterAll(reg, builtin.Config{}))
	reg.Register(extra...)
	engine, err := brickflow.NewEngine(reg)
	require.NoError(t, err)
	return engine, reg
}

func reduce(t *testing.T, engine *brickflow.Engine, p brickflow.Pipeline, input any, v brickflow.Version) (any, error) {
	t.Helper()
	return engine.Reduce(context.Background(), p, brickflow.Initial{Input: input}, v)
}

func returnStep(value any) brickflow.Step {
	return brickflow.Step{ID: "@brickflow/return", Config: map[string]any{"value": value}}
}
