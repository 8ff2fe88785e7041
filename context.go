package brickflow

import "maps"

// Reserved context variables.
const (
	InputVar   = "@input"
	OptionsVar = "@options"
	ModVar     = "@mod"
)

// Initial seeds a reduce call.
type Initial struct {
	// Input is the original invocation argument, exposed as @input.
	Input any

	// Options are the mod options, exposed as @options.
	Options map[string]any

	// Mod holds mod variables, exposed as @mod under v2 and v3.
	Mod map[string]any

	// Root is the opaque root element handle for the pipeline.
	Root any
}

// Context is an immutable execution context: a set of variables plus a
// "current value" slot whose meaning is owned by the active version policy.
// Every mutator returns a new Context; the receiver is never modified.
type Context struct {
	vars  map[string]any
	value any
}

// NewContext creates a context from variables. The map is copied.
func NewContext(vars map[string]any) Context {
	return Context{vars: maps.Clone(vars)}
}

// Get returns a variable.
func (c Context) Get(key string) (any, bool) {
	v, ok := c.vars[key]
	return v, ok
}

// Vars returns a copy of the variables.
func (c Context) Vars() map[string]any {
	out := maps.Clone(c.vars)
	if out == nil {
		out = map[string]any{}
	}
	return out
}

// Value returns the policy-managed current value.
func (c Context) Value() any {
	return c.value
}

// With returns a context with key bound to value.
func (c Context) With(key string, value any) Context {
	vars := make(map[string]any, len(c.vars)+1)
	maps.Copy(vars, c.vars)
	vars[key] = value
	return Context{vars: vars, value: c.value}
}

// Extend returns a context with every entry of extra bound.
func (c Context) Extend(extra map[string]any) Context {
	if len(extra) == 0 {
		return c
	}
	vars := make(map[string]any, len(c.vars)+len(extra))
	maps.Copy(vars, c.vars)
	maps.Copy(vars, extra)
	return Context{vars: vars, value: c.value}
}

// WithValue returns a context with the current value replaced.
func (c Context) WithValue(v any) Context {
	return Context{vars: c.vars, value: v}
}
