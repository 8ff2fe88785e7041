package brickflow

import (
	"encoding/json"
	"fmt"
	"sort"
)

// ExprKind names an expression variant. The values double as the
// "__type__" tag of the wire envelope.
type ExprKind string

const (
	KindLiteral  ExprKind = "literal"
	KindVar      ExprKind = "var"
	KindMustache ExprKind = "mustache"
	KindNunjucks ExprKind = "nunjucks"
	KindPipeline ExprKind = "pipeline"
	KindDefer    ExprKind = "defer"
)

// Wire envelope keys.
const (
	typeKey  = "__type__"
	valueKey = "__value__"
)

// Expression is a deferred-evaluation value carried inside a step config.
// The set of variants is closed: Literal, VarExpr, TemplateExpr,
// PipelineExpr and DeferExpr.
type Expression interface {
	ExprKind() ExprKind
	isExpression()
}

// envelope is the serialized form of every non-literal expression.
type envelope struct {
	Type  ExprKind `json:"__type__"`
	Value any      `json:"__value__"`
}

// Literal is a plain value. It serializes as the bare value.
type Literal struct {
	Value any
}

func (Literal) ExprKind() ExprKind { return KindLiteral }
func (Literal) isExpression()      {}

// MarshalJSON encodes the bare value.
func (l Literal) MarshalJSON() ([]byte, error) {
	return json.Marshal(l.Value)
}

// VarExpr looks up a dotted, @-prefixed path in the context.
type VarExpr struct {
	Path string
}

func (VarExpr) ExprKind() ExprKind { return KindVar }
func (VarExpr) isExpression()      {}

// MarshalJSON encodes the envelope.
func (v VarExpr) MarshalJSON() ([]byte, error) {
	return json.Marshal(envelope{Type: KindVar, Value: v.Path})
}

// TemplateEngine selects a template dialect.
type TemplateEngine string

const (
	// Mustache is the logic-less dialect.
	Mustache TemplateEngine = "mustache"
	// Nunjucks is the richer dialect with loops and filters, rendered
	// with pongo2.
	Nunjucks TemplateEngine = "nunjucks"
)

// TemplateExpr is a template string rendered against the context.
type TemplateExpr struct {
	Engine TemplateEngine
	Source string
}

// ExprKind returns KindMustache or KindNunjucks.
func (t TemplateExpr) ExprKind() ExprKind {
	if t.Engine == Nunjucks {
		return KindNunjucks
	}
	return KindMustache
}

func (TemplateExpr) isExpression() {}

// MarshalJSON encodes the envelope.
func (t TemplateExpr) MarshalJSON() ([]byte, error) {
	return json.Marshal(envelope{Type: t.ExprKind(), Value: t.Source})
}

// PipelineExpr is a nested pipeline. The evaluator never runs it; the brick
// that receives it does, through RunOptions.RunPipeline.
type PipelineExpr struct {
	Steps Pipeline
}

func (PipelineExpr) ExprKind() ExprKind { return KindPipeline }
func (PipelineExpr) isExpression()      {}

// MarshalJSON encodes the envelope.
func (p PipelineExpr) MarshalJSON() ([]byte, error) {
	steps := p.Steps
	if steps == nil {
		steps = Pipeline{}
	}
	return json.Marshal(envelope{Type: KindPipeline, Value: steps})
}

// DeferExpr holds an un-evaluated config sub-tree. It is opaque to the
// reducer and evaluated later by the brick that consumes it.
type DeferExpr struct {
	Value any
}

func (DeferExpr) ExprKind() ExprKind { return KindDefer }
func (DeferExpr) isExpression()      {}

// MarshalJSON encodes the envelope.
func (d DeferExpr) MarshalJSON() ([]byte, error) {
	return json.Marshal(envelope{Type: KindDefer, Value: d.Value})
}

// IsExpression reports whether v is a non-literal expression.
func IsExpression(v any) bool {
	e, ok := v.(Expression)
	return ok && e.ExprKind() != KindLiteral
}

// Var builds a variable expression.
func Var(path string) VarExpr { return VarExpr{Path: path} }

// MustacheTemplate builds a mustache template expression.
func MustacheTemplate(src string) TemplateExpr { return TemplateExpr{Engine: Mustache, Source: src} }

// NunjucksTemplate builds a nunjucks template expression.
func NunjucksTemplate(src string) TemplateExpr { return TemplateExpr{Engine: Nunjucks, Source: src} }

// Sub builds a nested pipeline expression.
func Sub(steps ...Step) PipelineExpr { return PipelineExpr{Steps: steps} }

// ParseValue converts a decoded JSON or YAML tree into a config tree in
// which every expression envelope is replaced by its typed expression.
func ParseValue(raw any) (any, error) {
	switch v := raw.(type) {
	case map[string]any:
		if t, ok := v[typeKey]; ok {
			return parseEnvelope(t, v[valueKey])
		}
		out := make(map[string]any, len(v))
		for _, k := range sortedKeys(v) {
			parsed, err := ParseValue(v[k])
			if err != nil {
				return nil, fmt.Errorf("%s: %w", k, err)
			}
			out[k] = parsed
		}
		return out, nil
	case []any:
		out := make([]any, len(v))
		for i, item := range v {
			parsed, err := ParseValue(item)
			if err != nil {
				return nil, fmt.Errorf("[%d]: %w", i, err)
			}
			out[i] = parsed
		}
		return out, nil
	default:
		return raw, nil
	}
}

// ParseExpression parses raw into an Expression. Plain values become
// literals.
func ParseExpression(raw any) (Expression, error) {
	parsed, err := ParseValue(raw)
	if err != nil {
		return nil, err
	}
	if expr, ok := parsed.(Expression); ok {
		return expr, nil
	}
	return Literal{Value: parsed}, nil
}

func parseEnvelope(rawType, value any) (Expression, error) {
	t, ok := rawType.(string)
	if !ok {
		return nil, fmt.Errorf("%w: %s must be a string, got %T", ErrInvalidExpression, typeKey, rawType)
	}

	switch ExprKind(t) {
	case KindVar:
		path, ok := value.(string)
		if !ok {
			return nil, fmt.Errorf("%w: var expects a string path, got %T", ErrInvalidExpression, value)
		}
		return VarExpr{Path: path}, nil

	case KindMustache, KindNunjucks:
		src, ok := value.(string)
		if !ok {
			return nil, fmt.Errorf("%w: %s expects a string template, got %T", ErrInvalidExpression, t, value)
		}
		return TemplateExpr{Engine: TemplateEngine(t), Source: src}, nil

	case KindPipeline:
		steps, err := decodePipeline(value)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidExpression, err)
		}
		return PipelineExpr{Steps: steps}, nil

	case KindDefer:
		inner, err := ParseValue(value)
		if err != nil {
			return nil, err
		}
		return DeferExpr{Value: inner}, nil

	default:
		return nil, fmt.Errorf("%w: unknown expression type %q", ErrInvalidExpression, t)
	}
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
