/*
Package brickflow provides an execution engine for declarative pipelines
built from reusable bricks.

A pipeline is an ordered list of steps. Each step invokes one brick with a
config whose values may be expressions: variable references, templates in
one of two dialects, nested pipelines, or deferred sub-trees. The engine
threads an execution context through the steps, resolves expressions
against it, dispatches to the brick by its declared kind and folds the
result back into the context according to the active API version.

The three API versions are backward-compatible data-flow contracts:

  - v1: un-keyed outputs replace the whole context and non-object outputs
    pass through verbatim to the next brick.
  - v2: only outputs bound with an output key are visible downstream.
  - v3: like v2, plus un-keyed transformer outputs become the pipeline's
    return value and templates are never implicit.

Basic usage:

	registry := builtin.NewRegistry()
	builtin.RegisterAll(registry, builtin.Config{})

	engine, err := brickflow.NewEngine(registry)
	if err != nil {
		return err
	}

	pipeline := brickflow.Pipeline{
		{
			ID:        "@brickflow/return",
			Config:    map[string]any{"value": brickflow.Var("@input.name")},
			OutputKey: "name",
		},
		{
			ID:     "@brickflow/return",
			Config: map[string]any{"value": brickflow.MustacheTemplate("Hello, {{ @name }}!")},
		},
	}

	out, err := engine.Reduce(ctx, pipeline, brickflow.Initial{
		Input: map[string]any{"name": "World"},
	}, brickflow.V3)

Control flow:

Loops, branches, retries and caching are bricks themselves. They receive
their bodies as pipeline expressions and run them through
RunOptions.RunPipeline, which re-enters the engine on a branched context:

	brickflow.Step{
		ID: "@brickflow/for-each",
		Config: map[string]any{
			"elements": brickflow.Var("@input.items"),
			"body": brickflow.Sub(brickflow.Step{
				ID:     "@brickflow/return",
				Config: map[string]any{"value": brickflow.MustacheTemplate("item {{ @element }}")},
			}),
		},
	}

Errors:

Failures are returned wrapped in *ContextError, which names the failing
step. errors.As reaches the typed cause: *BusinessError for problems with
user-authored content, *InputValidationError for schema violations,
*TemplateRenderError for broken templates and *CancelError for voluntary
aborts.
*/
package brickflow
