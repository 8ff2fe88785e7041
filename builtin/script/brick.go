package script

import (
	"context"

	"github.com/agentstation/brickflow"
)

// LuaBrick runs an inline script given in its config.
type LuaBrick struct{}

// NewBrick creates the @brickflow/lua brick.
func NewBrick() *LuaBrick {
	return &LuaBrick{}
}

// ID implements brickflow.Brick.
func (*LuaBrick) ID() string { return "@brickflow/lua" }

// Kind implements brickflow.Brick.
func (*LuaBrick) Kind() brickflow.Kind { return brickflow.Transformer }

// InputSchema implements brickflow.Brick.
func (*LuaBrick) InputSchema() brickflow.Schema {
	return brickflow.Schema{
		"type": "object",
		"properties": map[string]any{
			"script": map[string]any{"type": "string", "description": "Lua source"},
			"args":   map[string]any{"type": "object", "description": "Arguments passed to run"},
		},
		"required": []string{"script"},
	}
}

// OutputSchema implements brickflow.Brick.
func (*LuaBrick) OutputSchema() brickflow.Schema { return nil }

// Run implements brickflow.Brick.
func (b *LuaBrick) Run(ctx context.Context, args map[string]any, opts brickflow.RunOptions) (any, error) {
	source, _ := args["script"].(string)
	scriptArgs, _ := args["args"].(map[string]any)
	if scriptArgs == nil {
		scriptArgs = map[string]any{}
	}
	return Execute(ctx, source, scriptArgs, opts.Ctxt, opts.Logger)
}

// fileBrick runs a discovered script with its rendered config as args.
type fileBrick struct {
	script *Script
}

// Brick adapts the script to the brickflow.Brick interface.
func (s *Script) Brick() brickflow.Brick {
	return &fileBrick{script: s}
}

func (b *fileBrick) ID() string                     { return b.script.ID }
func (b *fileBrick) Kind() brickflow.Kind           { return b.script.Kind }
func (b *fileBrick) InputSchema() brickflow.Schema  { return nil }
func (b *fileBrick) OutputSchema() brickflow.Schema { return nil }

func (b *fileBrick) Run(ctx context.Context, args map[string]any, opts brickflow.RunOptions) (any, error) {
	return Execute(ctx, b.script.Content, args, opts.Ctxt, opts.Logger)
}
