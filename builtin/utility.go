package builtin

import (
	"context"
	"fmt"

	"github.com/ohler55/ojg/jp"

	"github.com/agentstation/brickflow"
)

// Identity returns its arguments.
type Identity struct{ base }

// NewIdentity creates the @brickflow/identity brick.
func NewIdentity() *Identity {
	return &Identity{newBase(brickflow.Transformer, Metadata{
		ID:          "@brickflow/identity",
		Category:    "data",
		Description: "Returns its rendered config as an object",
		InputSchema: brickflow.Schema{"type": "object"},
	})}
}

// Run implements brickflow.Brick.
func (b *Identity) Run(_ context.Context, args map[string]any, _ brickflow.RunOptions) (any, error) {
	return args, nil
}

// Return returns a single value.
type Return struct{ base }

// NewReturn creates the @brickflow/return brick.
func NewReturn() *Return {
	return &Return{newBase(brickflow.Transformer, Metadata{
		ID:          "@brickflow/return",
		Category:    "data",
		Description: "Returns the rendered value argument",
		InputSchema: object(map[string]any{
			"value": prop("", "Value to return"),
		}),
		Examples: []Example{
			{
				Name:        "Template",
				Description: "Return a rendered string",
				Config: map[string]any{
					"value": map[string]any{"__type__": "mustache", "__value__": "Hello {{ @input.name }}"},
				},
				Output: "Hello World",
			},
		},
	})}
}

// Run implements brickflow.Brick.
func (b *Return) Run(_ context.Context, args map[string]any, _ brickflow.RunOptions) (any, error) {
	return args["value"], nil
}

// JSONPath queries data with a JSONPath expression.
type JSONPath struct{ base }

// NewJSONPath creates the @brickflow/jsonpath brick.
func NewJSONPath() *JSONPath {
	return &JSONPath{newBase(brickflow.Transformer, Metadata{
		ID:          "@brickflow/jsonpath",
		Category:    "data",
		Description: "Extracts values from data using a JSONPath expression",
		InputSchema: object(map[string]any{
			"data":     prop("", "Data to query; the brick context when omitted"),
			"path":     prop("string", "JSONPath expression"),
			"multiple": propDefault("boolean", "Return every match instead of the first", false),
		}, "path"),
		Examples: []Example{
			{
				Name:        "First match",
				Description: "Extract a user's name",
				Config: map[string]any{
					"data": map[string]any{"user": map[string]any{"name": "Ada"}},
					"path": "$.user.name",
				},
				Output: "Ada",
			},
		},
	})}
}

// Run implements brickflow.Brick.
func (b *JSONPath) Run(_ context.Context, args map[string]any, opts brickflow.RunOptions) (any, error) {
	path, _ := args["path"].(string)
	x, err := jp.ParseString(path)
	if err != nil {
		return nil, &brickflow.BusinessError{Message: "invalid JSONPath " + path, Cause: err}
	}

	data, ok := args["data"]
	if !ok {
		data = opts.Ctxt
	}

	if boolArg(args, "multiple") {
		results := x.Get(data)
		if results == nil {
			results = []any{}
		}
		return results, nil
	}
	return x.First(data), nil
}

// Log writes a message to the step logger.
type Log struct{ base }

// NewLog creates the @brickflow/log brick.
func NewLog() *Log {
	return &Log{newBase(brickflow.Effect, Metadata{
		ID:          "@brickflow/log",
		Category:    "debug",
		Description: "Logs a message with optional data",
		InputSchema: object(map[string]any{
			"message": prop("string", "Message to log"),
			"level": map[string]any{
				"type":    "string",
				"enum":    []any{"debug", "info", "warn", "error"},
				"default": "info",
			},
			"data": prop("", "Data logged with the message"),
		}, "message"),
	})}
}

// Run implements brickflow.Brick.
func (b *Log) Run(ctx context.Context, args map[string]any, opts brickflow.RunOptions) (any, error) {
	msg, _ := args["message"].(string)
	var kv []any
	if data, ok := args["data"]; ok {
		kv = append(kv, "data", data)
	}

	switch stringArg(args, "level", "info") {
	case "debug":
		opts.Logger.Debug(ctx, msg, kv...)
	case "warn":
		opts.Logger.Warn(ctx, msg, kv...)
	case "error":
		opts.Logger.Error(ctx, msg, kv...)
	default:
		opts.Logger.Info(ctx, msg, kv...)
	}
	return nil, nil
}

// Raise fails the pipeline with a business error.
type Raise struct{ base }

// NewRaise creates the @brickflow/error brick.
func NewRaise() *Raise {
	return &Raise{newBase(brickflow.Effect, Metadata{
		ID:          "@brickflow/error",
		Category:    "control",
		Description: "Fails the pipeline with a business error",
		InputSchema: object(map[string]any{
			"message": prop("string", "Error message"),
		}, "message"),
	})}
}

// Run implements brickflow.Brick.
func (b *Raise) Run(_ context.Context, args map[string]any, _ brickflow.RunOptions) (any, error) {
	msg, _ := args["message"].(string)
	return nil, &brickflow.BusinessError{Message: msg}
}

// Validate checks data against a JSON schema.
type Validate struct {
	base
	validator brickflow.Validator
}

// NewValidate creates the @brickflow/validate brick.
func NewValidate(v brickflow.Validator) *Validate {
	return &Validate{
		base: newBase(brickflow.Transformer, Metadata{
			ID:          "@brickflow/validate",
			Category:    "data",
			Description: "Validates data against a JSON schema",
			InputSchema: object(map[string]any{
				"data":     prop("", "Data to validate"),
				"schema":   prop("object", "JSON schema"),
				"failFast": propDefault("boolean", "Fail the pipeline when data is invalid", false),
			}, "schema"),
			OutputSchema: object(map[string]any{
				"valid":  prop("boolean", "Whether data matches the schema"),
				"errors": prop("array", "Schema violations"),
				"data":   prop("", "The validated data"),
			}, "valid"),
		}),
		validator: v,
	}
}

// Run implements brickflow.Brick.
func (b *Validate) Run(_ context.Context, args map[string]any, _ brickflow.RunOptions) (any, error) {
	schema, _ := args["schema"].(map[string]any)
	issues, err := b.validator.Validate(schema, args["data"])
	if err != nil {
		return nil, fmt.Errorf("validate: %w", err)
	}

	if len(issues) > 0 && boolArg(args, "failFast") {
		return nil, &brickflow.InputValidationError{BrickID: b.ID(), Issues: issues}
	}

	errs := make([]any, 0, len(issues))
	for _, issue := range issues {
		errs = append(errs, map[string]any{"field": issue.Field, "message": issue.Message})
	}
	return map[string]any{
		"valid":  len(issues) == 0,
		"errors": errs,
		"data":   args["data"],
	}, nil
}
