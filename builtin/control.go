package builtin

import (
	"context"
	"time"

	"github.com/agentstation/brickflow"
	"github.com/agentstation/brickflow/internal/retry"
)

var pipelineProp = map[string]any{
	"description": "Nested pipeline",
}

// IfElse runs one of two branches.
type IfElse struct{ base }

// NewIfElse creates the @brickflow/if-else brick.
func NewIfElse() *IfElse {
	return &IfElse{newBase(brickflow.Transformer, Metadata{
		ID:          "@brickflow/if-else",
		Category:    "control",
		Description: "Runs the if branch when condition is truthy, otherwise the else branch",
		InputSchema: object(map[string]any{
			"condition": prop("", "Branch condition"),
			"if":        pipelineProp,
			"else":      pipelineProp,
		}, "condition", "if"),
		Examples: []Example{
			{
				Name:        "Flag check",
				Description: "Return a greeting only when enabled",
				Config: map[string]any{
					"condition": map[string]any{"__type__": "var", "__value__": "@input.enabled"},
					"if": map[string]any{"__type__": "pipeline", "__value__": []any{
						map[string]any{"id": "@brickflow/return", "config": map[string]any{"value": "hello"}},
					}},
				},
				Output: "hello",
			},
		},
	})}
}

// Run implements brickflow.Brick.
func (b *IfElse) Run(ctx context.Context, args map[string]any, opts brickflow.RunOptions) (any, error) {
	branch := "else"
	if brickflow.Truthy(args["condition"]) {
		branch = "if"
	}

	body, ok, err := pipelineArg(args, branch)
	if err != nil || !ok {
		return nil, err
	}
	return opts.RunPipeline(ctx, body, nil)
}

// loop holds what ForEach and MapValues share.
type loop struct {
	base
	collect bool
}

// ForEach runs a body once per element and returns the last result.
type ForEach struct{ loop }

// NewForEach creates the @brickflow/for-each brick.
func NewForEach() *ForEach {
	return &ForEach{loop{base: newBase(brickflow.Transformer, loopMetadata(
		"@brickflow/for-each",
		"Runs body sequentially for each element and returns the last result",
		"iteration 3",
	))}}
}

// MapValues runs a body once per element and collects the results.
type MapValues struct{ loop }

// NewMapValues creates the @brickflow/map-values brick.
func NewMapValues() *MapValues {
	return &MapValues{loop{collect: true, base: newBase(brickflow.Transformer, loopMetadata(
		"@brickflow/map-values",
		"Runs body sequentially for each element and returns the ordered results",
		[]any{"iteration 1", "iteration 2", "iteration 3"},
	))}}
}

func loopMetadata(id, description string, output any) Metadata {
	return Metadata{
		ID:          id,
		Category:    "control",
		Description: description,
		InputSchema: object(map[string]any{
			"elements":   prop("", "Elements to iterate"),
			"body":       pipelineProp,
			"elementKey": propDefault("string", "Variable name bound to the current element", "element"),
		}, "elements", "body"),
		Examples: []Example{
			{
				Name:        "Label elements",
				Description: "Render a label per element",
				Config: map[string]any{
					"elements": []any{1, 2, 3},
					"body": map[string]any{"__type__": "pipeline", "__value__": []any{
						map[string]any{"id": "@brickflow/return", "config": map[string]any{
							"value": map[string]any{"__type__": "mustache", "__value__": "iteration {{ @element }}"},
						}},
					}},
				},
				Output: output,
			},
		},
	}
}

// Run implements brickflow.Brick.
func (l *loop) Run(ctx context.Context, args map[string]any, opts brickflow.RunOptions) (any, error) {
	elements, ok := toSlice(args["elements"])
	if !ok {
		return nil, brickflow.NewBusinessError("elements must be an array, got %T", args["elements"])
	}
	body, err := requirePipeline(args, "body")
	if err != nil {
		return nil, err
	}
	key := "@" + stringArg(args, "elementKey", "element")

	var (
		last    any
		results = make([]any, 0, len(elements))
	)
	for i, element := range elements {
		out, err := opts.RunPipeline(ctx, body, map[string]any{
			key:      element,
			"@index": i,
		})
		if err != nil {
			return nil, err
		}
		last = out
		if l.collect {
			results = append(results, out)
		}
	}

	if l.collect {
		return results, nil
	}
	return last, nil
}

// Retry re-runs a body until it succeeds or the retry budget is spent.
type Retry struct{ base }

// NewRetry creates the @brickflow/retry brick.
func NewRetry() *Retry {
	return &Retry{newBase(brickflow.Transformer, Metadata{
		ID:          "@brickflow/retry",
		Category:    "control",
		Description: "Retries body on failure; the last error is returned once retries are exhausted",
		InputSchema: object(map[string]any{
			"body":           pipelineProp,
			"maxRetries":     propDefault("number", "Retries after the first attempt", 3),
			"intervalMillis": propDefault("number", "Delay before each retry in milliseconds", 0),
			"backoff": map[string]any{
				"type":        "string",
				"enum":        []any{"constant", "exponential"},
				"default":     "constant",
				"description": "Delay growth between retries",
			},
		}, "body"),
	})}
}

// Run implements brickflow.Brick.
func (b *Retry) Run(ctx context.Context, args map[string]any, opts brickflow.RunOptions) (any, error) {
	body, err := requirePipeline(args, "body")
	if err != nil {
		return nil, err
	}
	maxRetries, err := intArg(args, "maxRetries", 3)
	if err != nil {
		return nil, err
	}
	interval, err := intArg(args, "intervalMillis", 0)
	if err != nil {
		return nil, err
	}

	policy := retry.Constant(maxRetries, time.Duration(interval)*time.Millisecond)
	policy.Exponential = stringArg(args, "backoff", "constant") == "exponential"
	policy.Retryable = func(err error) bool {
		return ctx.Err() == nil && !brickflow.IsCancelError(err)
	}

	var (
		result  any
		attempt int
	)
	err = policy.Do(ctx, func(ctx context.Context) error {
		attempt++
		out, err := opts.RunPipeline(ctx, body, nil)
		if err != nil {
			opts.Logger.Warn(ctx, "attempt failed", "attempt", attempt, "of", policy.Attempts(), "error", err)
			return err
		}
		result = out
		return nil
	})
	if err != nil {
		if ctx.Err() != nil && !brickflow.IsCancelError(err) {
			return nil, &brickflow.CancelError{Message: "retry cancelled", Cause: err}
		}
		return nil, err
	}
	return result, nil
}

// TryExcept runs a fallback pipeline when the try pipeline fails.
type TryExcept struct{ base }

// NewTryExcept creates the @brickflow/try-except brick.
func NewTryExcept() *TryExcept {
	return &TryExcept{newBase(brickflow.Transformer, Metadata{
		ID:          "@brickflow/try-except",
		Category:    "control",
		Description: "Runs try; on failure runs except with the serialized error bound, or swallows it",
		InputSchema: object(map[string]any{
			"try":      pipelineProp,
			"except":   pipelineProp,
			"errorKey": propDefault("string", "Variable name bound to the error in except", "error"),
		}, "try"),
	})}
}

// Run implements brickflow.Brick.
func (b *TryExcept) Run(ctx context.Context, args map[string]any, opts brickflow.RunOptions) (any, error) {
	try, err := requirePipeline(args, "try")
	if err != nil {
		return nil, err
	}
	except, hasExcept, err := pipelineArg(args, "except")
	if err != nil {
		return nil, err
	}

	out, err := opts.RunPipeline(ctx, try, nil)
	if err == nil {
		return out, nil
	}
	// Aborts are not failures.
	if ctx.Err() != nil || brickflow.IsCancelError(err) {
		return nil, err
	}

	if !hasExcept {
		opts.Logger.Debug(ctx, "swallowed error", "error", err)
		return nil, nil
	}

	key := "@" + stringArg(args, "errorKey", "error")
	return opts.RunPipeline(ctx, except, map[string]any{
		key: brickflow.SerializeError(err).Map(),
	})
}
