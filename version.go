package brickflow

import (
	"fmt"
	"maps"
)

// Version is an API version: one of the three data-flow contracts.
type Version string

const (
	V1 Version = "v1"
	V2 Version = "v2"
	V3 Version = "v3"
)

// ParseVersion parses "v1", "v2" or "v3".
func ParseVersion(s string) (Version, error) {
	switch Version(s) {
	case V1, V2, V3:
		return Version(s), nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownVersion, s)
	}
}

// Policy encapsulates one data-flow contract. A policy is selected once per
// reduce call and never re-checked mid-pipeline.
type Policy interface {
	// Version returns the version implemented by the policy.
	Version() Version

	// Seed builds the initial context of a top-level pipeline.
	Seed(initial Initial) Context

	// Branch builds the context of a nested pipeline.
	Branch(parent Context, extra map[string]any) Context

	// FoldOutput folds a step result into a new context.
	FoldOutput(c Context, step *Step, kind Kind, result any) Context

	// TerminalValue returns the pipeline result. last is the last step that
	// actually ran, or nil when every step was skipped.
	TerminalValue(c Context, last *Step, lastKind Kind) any

	// Scope returns the namespace used for variable lookup and templates.
	Scope(c Context) map[string]any

	// Ctxt returns the context value handed to bricks.
	Ctxt(c Context) any

	// ImplicitTemplates reports whether plain strings in configs are
	// rendered as mustache templates.
	ImplicitTemplates() bool

	// Autoescape reports whether mustache output is HTML-escaped.
	Autoescape() bool
}

// PolicyFor returns the policy of a version.
func PolicyFor(v Version) (Policy, error) {
	switch v {
	case V1:
		return v1Policy{}, nil
	case V2:
		return v2Policy{}, nil
	case V3:
		return v3Policy{}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownVersion, v)
	}
}

// contributesValue is the single place folding decisions depend on the
// brick kind.
func contributesValue(k Kind) bool {
	switch k {
	case Transformer, Reader:
		return true
	case Effect, Renderer:
		return false
	default:
		return false
	}
}

func seedVars(initial Initial, withMod bool) map[string]any {
	options := initial.Options
	if options == nil {
		options = map[string]any{}
	}
	vars := map[string]any{
		InputVar:   initial.Input,
		OptionsVar: options,
	}
	if withMod {
		mod := initial.Mod
		if mod == nil {
			mod = map[string]any{}
		}
		vars[ModVar] = mod
	}
	return vars
}

func bind(c Context, step *Step, result any) Context {
	if step.OutputKey == "" {
		return c
	}
	return c.With("@"+step.OutputKey, result)
}

// v1Policy keeps the legacy one-step lookback: the previous output is the
// ambient context of the next step, whatever its shape.
type v1Policy struct{}

func (v1Policy) Version() Version { return V1 }

func (v1Policy) Seed(initial Initial) Context {
	return Context{vars: seedVars(initial, false), value: initial.Input}
}

func (v1Policy) Branch(parent Context, extra map[string]any) Context {
	return parent.Extend(extra)
}

func (v1Policy) FoldOutput(c Context, step *Step, kind Kind, result any) Context {
	if step.OutputKey != "" {
		return bind(c, step, result)
	}
	if contributesValue(kind) {
		return c.WithValue(result)
	}
	return c
}

func (v1Policy) TerminalValue(c Context, _ *Step, _ Kind) any {
	return c.Value()
}

func (v1Policy) Scope(c Context) map[string]any {
	scope := map[string]any{}
	if prev, ok := c.Value().(map[string]any); ok {
		maps.Copy(scope, prev)
	}
	maps.Copy(scope, c.vars)
	return scope
}

func (p v1Policy) Ctxt(c Context) any {
	switch c.Value().(type) {
	case map[string]any, nil:
		return p.Scope(c)
	default:
		return c.Value()
	}
}

func (v1Policy) ImplicitTemplates() bool { return true }
func (v1Policy) Autoescape() bool        { return true }

// v2Policy makes data flow explicit: only keyed outputs are visible.
type v2Policy struct{}

func (v2Policy) Version() Version { return V2 }

func (v2Policy) Seed(initial Initial) Context {
	return Context{vars: seedVars(initial, true), value: map[string]any{}}
}

func (v2Policy) Branch(parent Context, extra map[string]any) Context {
	return parent.Extend(extra).WithValue(map[string]any{})
}

func (v2Policy) FoldOutput(c Context, step *Step, kind Kind, result any) Context {
	next := bind(c, step, result)
	if contributesValue(kind) {
		next = next.WithValue(result)
	}
	return next
}

func (v2Policy) TerminalValue(c Context, last *Step, lastKind Kind) any {
	if last == nil || !contributesValue(lastKind) {
		return map[string]any{}
	}
	return c.Value()
}

func (v2Policy) Scope(c Context) map[string]any {
	return c.Vars()
}

func (v2Policy) Ctxt(c Context) any {
	return c.Vars()
}

func (v2Policy) ImplicitTemplates() bool { return true }
func (v2Policy) Autoescape() bool        { return true }

// v3Policy folds like v2 but keeps a provisional return value that effects
// never override, and renders only explicit expressions.
type v3Policy struct {
	v2Policy
}

func (v3Policy) Version() Version { return V3 }

func (v3Policy) TerminalValue(c Context, _ *Step, _ Kind) any {
	return c.Value()
}

func (v3Policy) ImplicitTemplates() bool { return false }
func (v3Policy) Autoescape() bool        { return false }
