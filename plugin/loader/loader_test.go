package loader

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/goccy/go-yaml"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentstation/brickflow"
	"github.com/agentstation/brickflow/builtin"
	"github.com/agentstation/brickflow/plugin"
	"github.com/agentstation/brickflow/plugin/wasm/wasmtest"
)

func writePlugin(t *testing.T, dir, name, brickID string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(dir, 0o755))
	manifest := plugin.Metadata{
		Name:        name,
		Version:     "1.0.0",
		Description: "Test plugin " + name,
		Runtime:     "wasm",
		Binary:      "plugin.wasm",
		Bricks: []plugin.BrickDefinition{{
			ID:          brickID,
			Kind:        "transformer",
			Category:    "test",
			Description: "Returns a greeting",
		}},
	}
	data, err := yaml.Marshal(manifest)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "manifest.yaml"), data, 0o644))
	module := wasmtest.Module([]byte(`{"success":true,"output":"hello from ` + name + `"}`))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "plugin.wasm"), module, 0o644))
}

func TestDefaultPluginPaths(t *testing.T) {
	assert.Contains(t, DefaultPluginPaths(), "./plugins")
}

func TestDiscover(t *testing.T) {
	root := t.TempDir()
	writePlugin(t, filepath.Join(root, "one"), "one", "@one/greet")
	writePlugin(t, filepath.Join(root, "two"), "two", "@two/greet")

	invalid := filepath.Join(root, "invalid")
	require.NoError(t, os.MkdirAll(invalid, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(invalid, "manifest.json"), []byte(`{"name": "invalid"}`), 0o644))

	l := New()
	found, err := l.Discover(root, filepath.Join(root, "missing"))
	require.NoError(t, err)
	require.Len(t, found, 2)

	names := []string{found[0].Name, found[1].Name}
	assert.ElementsMatch(t, []string{"one", "two"}, names)
	assert.Equal(t, filepath.Join(root, "one", "plugin.wasm"), found[0].Binary)
}

func TestLoad(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "greeter")
	writePlugin(t, dir, "greeter", "@greeter/greet")
	ctx := context.Background()
	l := New()

	tests := []struct {
		name string
		path string
	}{
		{"Should load from a manifest", filepath.Join(dir, "manifest.yaml")},
		{"Should load from a directory", dir},
		{"Should load from a wasm file", filepath.Join(dir, "plugin.wasm")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := l.Load(ctx, tt.path)
			require.NoError(t, err)
			defer p.Close(ctx)
			assert.Equal(t, "greeter", p.Metadata().Name)
		})
	}

	t.Run("Should reject other files", func(t *testing.T) {
		other := filepath.Join(dir, "notes.txt")
		require.NoError(t, os.WriteFile(other, []byte("hi"), 0o644))
		_, err := l.Load(ctx, other)
		assert.Error(t, err)
	})

	t.Run("Should reject unsupported runtimes", func(t *testing.T) {
		meta := plugin.Metadata{
			Name: "py", Version: "1", Runtime: "python", Binary: "x.py",
			Bricks: []plugin.BrickDefinition{{ID: "@py/x", Kind: "effect", Description: "x"}},
		}
		_, err := l.LoadFromMetadata(ctx, meta)
		assert.ErrorContains(t, err, "unsupported runtime")
	})
}

func TestRegisterAll(t *testing.T) {
	root := t.TempDir()
	writePlugin(t, filepath.Join(root, "greeter"), "greeter", "@greeter/greet")

	ctx := context.Background()
	reg := builtin.NewRegistry()
	loaded, err := New().RegisterAll(ctx, reg, root)
	require.NoError(t, err)
	require.Len(t, loaded, 1)
	defer loaded[0].Close(ctx)

	engine, err := brickflow.NewEngine(reg)
	require.NoError(t, err)
	out, err := engine.Reduce(ctx, brickflow.Pipeline{{ID: "@greeter/greet"}}, brickflow.Initial{}, brickflow.V3)
	require.NoError(t, err)
	assert.Equal(t, "hello from greeter", out)
}
