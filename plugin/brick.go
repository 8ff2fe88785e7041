package plugin

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/agentstation/brickflow"
	"github.com/agentstation/brickflow/builtin"
)

// Brick runs one brick exported by a plugin.
type Brick struct {
	plugin Plugin
	def    BrickDefinition
	kind   brickflow.Kind
}

// NewBrick creates a brick for a definition exported by p.
func NewBrick(p Plugin, def BrickDefinition) (*Brick, error) {
	kind, err := brickflow.ParseKind(def.Kind)
	if err != nil {
		return nil, fmt.Errorf("plugin %s: brick %s: %w", p.Metadata().Name, def.ID, err)
	}
	return &Brick{plugin: p, def: def, kind: kind}, nil
}

// Bricks returns a brick for every definition in the plugin manifest.
func Bricks(p Plugin) ([]brickflow.Brick, error) {
	meta := p.Metadata()
	bricks := make([]brickflow.Brick, 0, len(meta.Bricks))
	for _, def := range meta.Bricks {
		b, err := NewBrick(p, def)
		if err != nil {
			return nil, err
		}
		bricks = append(bricks, b)
	}
	return bricks, nil
}

// ID returns the brick id.
func (b *Brick) ID() string { return b.def.ID }

// Kind returns the brick kind.
func (b *Brick) Kind() brickflow.Kind { return b.kind }

// InputSchema returns the input schema from the manifest.
func (b *Brick) InputSchema() brickflow.Schema { return b.def.InputSchema }

// OutputSchema returns the output schema from the manifest.
func (b *Brick) OutputSchema() brickflow.Schema { return b.def.OutputSchema }

// Metadata describes the brick for registries and the CLI.
func (b *Brick) Metadata() builtin.Metadata {
	examples := make([]builtin.Example, len(b.def.Examples))
	for i, ex := range b.def.Examples {
		examples[i] = builtin.Example{
			Name:        ex.Name,
			Description: ex.Description,
			Config:      ex.Config,
			Output:      ex.Output,
		}
	}
	return builtin.Metadata{
		ID:           b.def.ID,
		Kind:         b.kind.String(),
		Category:     b.def.Category,
		Description:  b.def.Description,
		InputSchema:  b.def.InputSchema,
		OutputSchema: b.def.OutputSchema,
		Examples:     examples,
		Since:        b.plugin.Metadata().Version,
	}
}

// Run sends the rendered arguments and context to the plugin. A response
// with success false becomes a business error carrying the plugin's message.
func (b *Brick) Run(ctx context.Context, args map[string]any, opts brickflow.RunOptions) (any, error) {
	req, err := json.Marshal(Request{
		Brick: b.def.ID,
		Args:  args,
		Ctxt:  opts.Ctxt,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	raw, err := b.plugin.Call(ctx, FunctionRun, req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("plugin %s: %w", b.plugin.Metadata().Name, err)
	}

	var resp Response
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, fmt.Errorf("plugin %s: decode response: %w", b.plugin.Metadata().Name, err)
	}
	if !resp.Success {
		return nil, brickflow.NewBusinessError("%s", resp.Error)
	}

	var out any
	if len(resp.Output) > 0 {
		if err := json.Unmarshal(resp.Output, &out); err != nil {
			return nil, fmt.Errorf("plugin %s: decode output: %w", b.plugin.Metadata().Name, err)
		}
	}
	return out, nil
}
