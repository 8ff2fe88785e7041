package builtin

import "github.com/agentstation/brickflow"

// Metadata describes a brick.
type Metadata struct {
	ID           string           `json:"id"`
	Kind         string           `json:"kind"`
	Category     string           `json:"category"`
	Description  string           `json:"description"`
	InputSchema  brickflow.Schema `json:"inputSchema,omitempty"`
	OutputSchema brickflow.Schema `json:"outputSchema,omitempty"`
	Examples     []Example        `json:"examples,omitempty"`
	Since        string           `json:"since,omitempty"`
}

// Example shows how to use a brick.
type Example struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Config      map[string]any `json:"config"`
	Output      any            `json:"output,omitempty"`
}

// Describer is implemented by bricks that carry metadata.
type Describer interface {
	Metadata() Metadata
}

// base implements the static parts of brickflow.Brick from metadata.
type base struct {
	meta Metadata
	kind brickflow.Kind
}

func newBase(kind brickflow.Kind, meta Metadata) base {
	meta.Kind = kind.String()
	if meta.Since == "" {
		meta.Since = "1.0.0"
	}
	return base{meta: meta, kind: kind}
}

// ID returns the brick id.
func (b base) ID() string { return b.meta.ID }

// Kind returns the brick kind.
func (b base) Kind() brickflow.Kind { return b.kind }

// InputSchema returns the input schema.
func (b base) InputSchema() brickflow.Schema { return b.meta.InputSchema }

// OutputSchema returns the output schema.
func (b base) OutputSchema() brickflow.Schema { return b.meta.OutputSchema }

// Metadata returns the brick metadata.
func (b base) Metadata() Metadata { return b.meta }

// Schema helpers keep brick definitions short.

func object(props map[string]any, required ...string) brickflow.Schema {
	s := brickflow.Schema{
		"type":       "object",
		"properties": props,
	}
	if len(required) > 0 {
		s["required"] = required
	}
	return s
}

func prop(typ, description string) map[string]any {
	p := map[string]any{"description": description}
	if typ != "" {
		p["type"] = typ
	}
	return p
}

func propDefault(typ, description string, def any) map[string]any {
	p := prop(typ, description)
	p["default"] = def
	return p
}
