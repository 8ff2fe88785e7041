package brickflow

import (
	"context"
	"fmt"
)

// Kind is the declared semantics of a brick. It decides how an un-keyed
// output is folded into the execution context.
type Kind int

const (
	// Effect bricks act on the outside world and produce no visible value.
	Effect Kind = iota
	// Transformer bricks compute a value from their arguments.
	Transformer
	// Renderer bricks produce a view and contribute no value to the context.
	Renderer
	// Reader bricks read state from the page or environment.
	Reader
)

// String returns the wire name of the kind.
func (k Kind) String() string {
	switch k {
	case Effect:
		return "effect"
	case Transformer:
		return "transformer"
	case Renderer:
		return "renderer"
	case Reader:
		return "reader"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// ParseKind parses a wire kind name.
func ParseKind(s string) (Kind, error) {
	switch s {
	case "effect":
		return Effect, nil
	case "transformer":
		return Transformer, nil
	case "renderer":
		return Renderer, nil
	case "reader":
		return Reader, nil
	default:
		return 0, fmt.Errorf("brickflow: unknown brick kind %q", s)
	}
}

// Schema is a JSON Schema document in decoded form.
type Schema = map[string]any

// Brick is a single unit of pipeline functionality.
type Brick interface {
	// ID returns the registry identifier, e.g. "@brickflow/for-each".
	ID() string

	// Kind returns the declared semantics of the brick.
	Kind() Kind

	// InputSchema describes the rendered config the brick accepts.
	InputSchema() Schema

	// OutputSchema optionally describes the value the brick returns.
	OutputSchema() Schema

	// Run executes the brick with its rendered arguments.
	Run(ctx context.Context, args map[string]any, opts RunOptions) (any, error)
}

// PipelineRunner re-enters the engine to run a nested pipeline. The extra
// variables are added to the branched context, e.g. {"@element": v}.
type PipelineRunner func(ctx context.Context, body PipelineExpr, extra map[string]any) (any, error)

// RunOptions carries the execution environment handed to a brick.
type RunOptions struct {
	// Ctxt is the current execution context as seen by the brick. Under v1 it
	// may be a non-object value passed through from the previous step.
	Ctxt any

	// Logger is scoped to the step being run.
	Logger Logger

	// Root is the opaque root element handle for the step.
	Root any

	// InstanceID identifies the step being run.
	InstanceID string

	// Version is the API version of the enclosing pipeline.
	Version Version

	// RunPipeline runs a nested pipeline with the same engine and version.
	RunPipeline PipelineRunner
}

// Resolver looks up bricks by id.
type Resolver interface {
	// Resolve returns the brick registered under id, or an error wrapping
	// ErrBrickNotFound.
	Resolve(ctx context.Context, id string) (Brick, error)
}

// ResolverFunc adapts a function to the Resolver interface.
type ResolverFunc func(ctx context.Context, id string) (Brick, error)

// Resolve calls f(ctx, id).
func (f ResolverFunc) Resolve(ctx context.Context, id string) (Brick, error) {
	return f(ctx, id)
}

// RunFunc is the signature of a brick's run method.
type RunFunc func(ctx context.Context, args map[string]any, opts RunOptions) (any, error)

// BrickFunc builds a brick from an id, kind and run function. Schemas are
// optional and may be set with WithInputSchema and WithOutputSchema.
func BrickFunc(id string, kind Kind, run RunFunc) *FuncBrick {
	return &FuncBrick{id: id, kind: kind, run: run}
}

// FuncBrick is a brick backed by a function.
type FuncBrick struct {
	id     string
	kind   Kind
	input  Schema
	output Schema
	run    RunFunc
}

// WithInputSchema sets the input schema and returns the brick.
func (b *FuncBrick) WithInputSchema(s Schema) *FuncBrick {
	b.input = s
	return b
}

// WithOutputSchema sets the output schema and returns the brick.
func (b *FuncBrick) WithOutputSchema(s Schema) *FuncBrick {
	b.output = s
	return b
}

// ID returns the brick id.
func (b *FuncBrick) ID() string { return b.id }

// Kind returns the brick kind.
func (b *FuncBrick) Kind() Kind { return b.kind }

// InputSchema returns the input schema, possibly nil.
func (b *FuncBrick) InputSchema() Schema { return b.input }

// OutputSchema returns the output schema, possibly nil.
func (b *FuncBrick) OutputSchema() Schema { return b.output }

// Run calls the underlying function.
func (b *FuncBrick) Run(ctx context.Context, args map[string]any, opts RunOptions) (any, error) {
	return b.run(ctx, args, opts)
}

// Logger provides structured logging.
type Logger interface {
	Debug(ctx context.Context, msg string, keysAndValues ...any)
	Info(ctx context.Context, msg string, keysAndValues ...any)
	Warn(ctx context.Context, msg string, keysAndValues ...any)
	Error(ctx context.Context, msg string, keysAndValues ...any)
}

// NopLogger returns a logger that discards everything.
func NopLogger() Logger {
	return nopLogger{}
}

type nopLogger struct{}

func (nopLogger) Debug(context.Context, string, ...any) {}
func (nopLogger) Info(context.Context, string, ...any)  {}
func (nopLogger) Warn(context.Context, string, ...any)  {}
func (nopLogger) Error(context.Context, string, ...any) {}

// withFields returns a logger that appends fixed key/value pairs.
func withFields(l Logger, keysAndValues ...any) Logger {
	return fieldLogger{inner: l, fields: keysAndValues}
}

type fieldLogger struct {
	inner  Logger
	fields []any
}

func (f fieldLogger) merge(kv []any) []any {
	out := make([]any, 0, len(f.fields)+len(kv))
	out = append(out, f.fields...)
	return append(out, kv...)
}

func (f fieldLogger) Debug(ctx context.Context, msg string, kv ...any) {
	f.inner.Debug(ctx, msg, f.merge(kv)...)
}

func (f fieldLogger) Info(ctx context.Context, msg string, kv ...any) {
	f.inner.Info(ctx, msg, f.merge(kv)...)
}

func (f fieldLogger) Warn(ctx context.Context, msg string, kv ...any) {
	f.inner.Warn(ctx, msg, f.merge(kv)...)
}

func (f fieldLogger) Error(ctx context.Context, msg string, kv ...any) {
	f.inner.Error(ctx, msg, f.merge(kv)...)
}
