package brickflow

import (
	"context"
	"fmt"
	"strings"

	"github.com/agentstation/brickflow/internal/lookup"
	"github.com/agentstation/brickflow/internal/template"
)

// RenderOptions controls expression evaluation.
type RenderOptions struct {
	// ImplicitTemplates renders plain strings containing "{{" as mustache.
	ImplicitTemplates bool

	// Autoescape HTML-escapes template output.
	Autoescape bool
}

// renderOptionsFor derives evaluation options from a policy.
func renderOptionsFor(p Policy) RenderOptions {
	return RenderOptions{
		ImplicitTemplates: p.ImplicitTemplates(),
		Autoescape:        p.Autoescape(),
	}
}

// Evaluator resolves expressions against a scope. It has no side effects:
// pipeline expressions are returned unevaluated for the consuming brick.
type Evaluator struct {
	templates *template.Renderer
}

// NewEvaluator creates an evaluator caching up to cacheSize compiled
// templates.
func NewEvaluator(cacheSize int) (*Evaluator, error) {
	r, err := template.New(cacheSize)
	if err != nil {
		return nil, err
	}
	return &Evaluator{templates: r}, nil
}

// Evaluate resolves a single expression.
func (e *Evaluator) Evaluate(ctx context.Context, expr Expression, scope map[string]any, opts RenderOptions) (any, error) {
	switch x := expr.(type) {
	case nil:
		return nil, nil
	case Literal:
		return e.Render(ctx, x.Value, scope, opts)
	case VarExpr:
		return lookup.Path(scope, x.Path), nil
	case TemplateExpr:
		return e.renderTemplate(x.Engine, x.Source, scope, opts.Autoescape)
	case PipelineExpr:
		return x, nil
	case DeferExpr:
		return x.Value, nil
	default:
		return nil, fmt.Errorf("%w: unsupported expression %T", ErrInvalidExpression, expr)
	}
}

// Render walks a config tree and evaluates every expression in it.
func (e *Evaluator) Render(ctx context.Context, value any, scope map[string]any, opts RenderOptions) (any, error) {
	switch v := value.(type) {
	case Expression:
		return e.Evaluate(ctx, v, scope, opts)
	case string:
		if opts.ImplicitTemplates && template.HasTemplate(v) {
			return e.renderTemplate(Mustache, v, scope, opts.Autoescape)
		}
		return v, nil
	case map[string]any:
		out := make(map[string]any, len(v))
		for k, item := range v {
			rendered, err := e.Render(ctx, item, scope, opts)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", k, err)
			}
			out[k] = rendered
		}
		return out, nil
	case []any:
		out := make([]any, len(v))
		for i, item := range v {
			rendered, err := e.Render(ctx, item, scope, opts)
			if err != nil {
				return nil, fmt.Errorf("[%d]: %w", i, err)
			}
			out[i] = rendered
		}
		return out, nil
	default:
		return value, nil
	}
}

// RenderArgs renders a step config into brick arguments.
func (e *Evaluator) RenderArgs(ctx context.Context, config map[string]any, scope map[string]any, opts RenderOptions) (map[string]any, error) {
	rendered, err := e.Render(ctx, config, scope, opts)
	if err != nil {
		return nil, err
	}
	args, _ := rendered.(map[string]any)
	if args == nil {
		args = map[string]any{}
	}
	return args, nil
}

func (e *Evaluator) renderTemplate(engine TemplateEngine, src string, scope map[string]any, autoescape bool) (any, error) {
	out, err := e.templates.Render(template.Engine(engine), src, scope, autoescape)
	if err != nil {
		return nil, &TemplateRenderError{Engine: string(engine), Template: src, Cause: err}
	}
	return out, nil
}

// Truthy applies the boolean coercion used for step conditions. Strings
// such as "false", "0", "no" and "off" are falsy.
func Truthy(v any) bool {
	switch x := v.(type) {
	case nil:
		return false
	case bool:
		return x
	case string:
		switch strings.ToLower(strings.TrimSpace(x)) {
		case "", "false", "0", "no", "off":
			return false
		}
		return true
	case int:
		return x != 0
	case int64:
		return x != 0
	case uint64:
		return x != 0
	case float64:
		return x != 0
	case int32:
		return x != 0
	case float32:
		return x != 0
	default:
		return true
	}
}
