package plugin_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentstation/brickflow"
	"github.com/agentstation/brickflow/builtin"
	"github.com/agentstation/brickflow/plugin"
	"github.com/agentstation/brickflow/plugin/wasm"
	"github.com/agentstation/brickflow/plugin/wasm/wasmtest"
)

// fakePlugin answers every call with a handler.
type fakePlugin struct {
	meta   plugin.Metadata
	handle func(req plugin.Request) (plugin.Response, error)
	last   plugin.Request
}

func (p *fakePlugin) Metadata() plugin.Metadata { return p.meta }

func (p *fakePlugin) Call(_ context.Context, function string, input []byte) ([]byte, error) {
	if function != plugin.FunctionRun {
		return nil, errors.New("unexpected function " + function)
	}
	if err := json.Unmarshal(input, &p.last); err != nil {
		return nil, err
	}
	resp, err := p.handle(p.last)
	if err != nil {
		return nil, err
	}
	return json.Marshal(resp)
}

func (p *fakePlugin) Close(context.Context) error { return nil }

func metadata(bricks ...plugin.BrickDefinition) plugin.Metadata {
	return plugin.Metadata{
		Name:    "text",
		Version: "0.3.0",
		Runtime: "wasm",
		Binary:  "text.wasm",
		Bricks:  bricks,
	}
}

var upper = plugin.BrickDefinition{
	ID:          "@text/upper",
	Kind:        "transformer",
	Category:    "text",
	Description: "Upper-cases a string",
	InputSchema: brickflow.Schema{
		"type":       "object",
		"properties": map[string]any{"text": map[string]any{"type": "string"}},
		"required":   []any{"text"},
	},
	Examples: []plugin.Example{{Name: "shout", Config: map[string]any{"text": "hi"}, Output: "HI"}},
}

func TestMetadataValidate(t *testing.T) {
	tests := []struct {
		name    string
		meta    plugin.Metadata
		wantErr string
	}{
		{"Should accept a complete manifest", metadata(upper), ""},
		{"Should require bricks", metadata(), "at least one brick"},
		{"Should require a name", func() plugin.Metadata { m := metadata(upper); m.Name = ""; return m }(), "name is required"},
		{"Should reject unknown kinds", metadata(plugin.BrickDefinition{ID: "@x/y", Kind: "wizard", Description: "x"}), "unknown brick kind"},
		{"Should reject duplicate ids", metadata(upper, upper), "defined twice"},
		{"Should require descriptions", metadata(plugin.BrickDefinition{ID: "@x/y", Kind: "effect"}), "description is required"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.meta.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			assert.ErrorContains(t, err, tt.wantErr)
		})
	}
}

func TestBrick(t *testing.T) {
	fake := &fakePlugin{
		meta: metadata(upper),
		handle: func(req plugin.Request) (plugin.Response, error) {
			text, _ := req.Args["text"].(string)
			if text == "" {
				return plugin.Response{Success: false, Error: "text is empty"}, nil
			}
			out, _ := json.Marshal(map[string]any{"text": text + "!"})
			return plugin.Response{Success: true, Output: out}, nil
		},
	}
	bricks, err := plugin.Bricks(fake)
	require.NoError(t, err)
	require.Len(t, bricks, 1)

	reg := builtin.NewRegistry()
	require.NoError(t, builtin.RegisterAll(reg, builtin.Config{}))
	reg.Register(bricks...)
	engine, err := brickflow.NewEngine(reg)
	require.NoError(t, err)
	ctx := context.Background()

	t.Run("Should describe itself from the manifest", func(t *testing.T) {
		meta, ok := reg.Describe("@text/upper")
		require.True(t, ok)
		assert.Equal(t, "transformer", meta.Kind)
		assert.Equal(t, "0.3.0", meta.Since)
		assert.Equal(t, "HI", meta.Examples[0].Output)
	})

	t.Run("Should send args and context", func(t *testing.T) {
		out, err := engine.Reduce(ctx, brickflow.Pipeline{{
			ID:     "@text/upper",
			Config: map[string]any{"text": brickflow.Var("@input.word")},
		}}, brickflow.Initial{Input: map[string]any{"word": "hey"}}, brickflow.V3)
		require.NoError(t, err)
		assert.Equal(t, map[string]any{"text": "hey!"}, out)
		assert.Equal(t, "@text/upper", fake.last.Brick)
		assert.Equal(t, map[string]any{"word": "hey"}, fake.last.Ctxt.(map[string]any)["@input"])
	})

	t.Run("Should validate args against the manifest schema", func(t *testing.T) {
		_, err := engine.Reduce(ctx, brickflow.Pipeline{{
			ID:     "@text/upper",
			Config: map[string]any{"text": 7},
		}}, brickflow.Initial{}, brickflow.V3)
		var ve *brickflow.InputValidationError
		assert.ErrorAs(t, err, &ve)
	})

	t.Run("Should turn unsuccessful responses into business errors", func(t *testing.T) {
		_, err := engine.Reduce(ctx, brickflow.Pipeline{{
			ID:     "@text/upper",
			Config: map[string]any{"text": ""},
		}}, brickflow.Initial{}, brickflow.V3)
		require.Error(t, err)
		assert.True(t, brickflow.IsBusinessError(err))
		assert.Contains(t, err.Error(), "text is empty")
	})

	t.Run("Should reject unknown kinds", func(t *testing.T) {
		_, err := plugin.NewBrick(fake, plugin.BrickDefinition{ID: "@x/y", Kind: "wizard"})
		assert.Error(t, err)
	})
}

func TestWasmBrick(t *testing.T) {
	ctx := context.Background()
	meta := metadata(plugin.BrickDefinition{
		ID:          "@pong/pong",
		Kind:        "transformer",
		Description: "Returns pong",
	})
	p, err := wasm.NewPlugin(ctx, wasmtest.Module([]byte(`{"success":true,"output":{"reply":"pong"}}`)), &meta)
	require.NoError(t, err)
	defer p.Close(ctx)

	bricks, err := plugin.Bricks(p)
	require.NoError(t, err)
	reg := builtin.NewRegistry()
	reg.Register(bricks...)
	engine, err := brickflow.NewEngine(reg)
	require.NoError(t, err)

	out, err := engine.Reduce(ctx, brickflow.Pipeline{
		{ID: "@pong/pong", OutputKey: "answer"},
	}, brickflow.Initial{}, brickflow.V3)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"reply": "pong"}, out)
}
