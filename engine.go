package brickflow

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/google/uuid"
)

// Middleware wraps a brick with additional behavior.
type Middleware func(Brick) Brick

type engineOptions struct {
	validator      Validator
	logger         Logger
	sinks          []TraceSink
	middleware     []Middleware
	documentRoot   any
	validateOutput bool
	cacheSize      int
}

// EngineOption configures an Engine.
type EngineOption func(*engineOptions)

// WithValidator replaces the JSON-schema validator.
func WithValidator(v Validator) EngineOption {
	return func(o *engineOptions) {
		o.validator = v
	}
}

// WithLogger adds logging to the engine.
func WithLogger(logger Logger) EngineOption {
	return func(o *engineOptions) {
		o.logger = logger
	}
}

// WithTraceSink adds a sink receiving a record per step. It may be given
// several times.
func WithTraceSink(sink TraceSink) EngineOption {
	return func(o *engineOptions) {
		o.sinks = append(o.sinks, sink)
	}
}

// WithMiddleware wraps every resolved brick. The first middleware is the
// outermost.
func WithMiddleware(mw ...Middleware) EngineOption {
	return func(o *engineOptions) {
		o.middleware = append(o.middleware, mw...)
	}
}

// WithDocumentRoot sets the root handed to steps in RootDocument mode.
func WithDocumentRoot(root any) EngineOption {
	return func(o *engineOptions) {
		o.documentRoot = root
	}
}

// WithOutputValidation checks brick outputs against their output schema.
// Violations are logged, never returned.
func WithOutputValidation(enabled bool) EngineOption {
	return func(o *engineOptions) {
		o.validateOutput = enabled
	}
}

// WithTemplateCacheSize bounds the compiled template cache.
func WithTemplateCacheSize(size int) EngineOption {
	return func(o *engineOptions) {
		o.cacheSize = size
	}
}

// Engine reduces pipelines. It is safe for concurrent use; each Reduce call
// owns its own context chain.
type Engine struct {
	resolver       Resolver
	eval           *Evaluator
	validator      Validator
	logger         Logger
	sink           TraceSink
	middleware     []Middleware
	documentRoot   any
	validateOutput bool
}

// NewEngine creates an engine resolving bricks through resolver.
func NewEngine(resolver Resolver, opts ...EngineOption) (*Engine, error) {
	if resolver == nil {
		return nil, errors.New("brickflow: nil resolver")
	}

	o := &engineOptions{}
	for _, opt := range opts {
		opt(o)
	}

	eval, err := NewEvaluator(o.cacheSize)
	if err != nil {
		return nil, err
	}

	e := &Engine{
		resolver:       resolver,
		eval:           eval,
		validator:      o.validator,
		logger:         o.logger,
		middleware:     o.middleware,
		documentRoot:   o.documentRoot,
		validateOutput: o.validateOutput,
	}
	if e.validator == nil {
		e.validator = NewJSONSchemaValidator()
	}
	if e.logger == nil {
		e.logger = NopLogger()
	}
	switch len(o.sinks) {
	case 0:
	case 1:
		e.sink = o.sinks[0]
	default:
		e.sink = multiSink(o.sinks)
	}
	return e, nil
}

// run holds the state shared by a top-level reduce call and every nested
// pipeline it spawns.
type run struct {
	id     string
	policy Policy
}

// Reduce runs pipeline sequentially and returns its terminal value.
func (e *Engine) Reduce(ctx context.Context, pipeline Pipeline, initial Initial, version Version) (any, error) {
	policy, err := PolicyFor(version)
	if err != nil {
		return nil, err
	}

	root := initial.Root
	if root == nil {
		root = e.documentRoot
	}

	if err := pipeline.Validate(); err != nil {
		return nil, fmt.Errorf("invalid pipeline: %w", err)
	}

	r := &run{id: uuid.NewString(), policy: policy}
	e.logger.Debug(ctx, "reducing pipeline", "run", r.id, "version", version, "steps", len(pipeline))
	return e.reduce(ctx, r, pipeline, policy.Seed(initial), root)
}

// Evaluate evaluates a stand-alone expression against a freshly seeded
// context.
func (e *Engine) Evaluate(ctx context.Context, expr Expression, initial Initial, version Version) (any, error) {
	policy, err := PolicyFor(version)
	if err != nil {
		return nil, err
	}
	scope := policy.Scope(policy.Seed(initial))
	return e.eval.Evaluate(ctx, expr, scope, renderOptionsFor(policy))
}

func (e *Engine) reduce(ctx context.Context, r *run, pipeline Pipeline, c Context, root any) (any, error) {
	var (
		last     *Step
		lastKind Kind
	)

	pipeline = withInstanceIDs(pipeline)
	for i := range pipeline {
		step := &pipeline[i]

		if err := cancelFromContext(ctx); err != nil {
			return nil, stepError(step, i, err)
		}

		next, kind, ran, err := e.runStep(ctx, r, step, c, root)
		if err != nil {
			e.logger.Error(ctx, "step failed", "run", r.id, "brick", step.ID, "instance", step.InstanceID, "error", err)
			return nil, stepError(step, i, err)
		}
		if !ran {
			continue
		}
		c = next
		last = step
		lastKind = kind
	}

	return r.policy.TerminalValue(c, last, lastKind), nil
}

// withInstanceIDs returns pipeline with every missing instance id filled
// in. The caller's slice is copied, never modified.
func withInstanceIDs(pipeline Pipeline) Pipeline {
	var out Pipeline
	for i := range pipeline {
		if pipeline[i].InstanceID != "" {
			continue
		}
		if out == nil {
			out = slices.Clone(pipeline)
		}
		out[i].InstanceID = uuid.NewString()
	}
	if out == nil {
		return pipeline
	}
	return out
}

func stepError(step *Step, index int, err error) error {
	return &ContextError{
		BrickID:    step.ID,
		InstanceID: step.InstanceID,
		StepIndex:  index,
		Label:      step.Label,
		Cause:      err,
	}
}

// runStep executes a single step. ran is false when the step's condition
// was falsy.
func (e *Engine) runStep(ctx context.Context, r *run, step *Step, c Context, root any) (next Context, kind Kind, ran bool, err error) {
	policy := r.policy
	scope := policy.Scope(c)
	opts := renderOptionsFor(policy)

	rec := TraceRecord{
		RunID:      r.id,
		InstanceID: step.InstanceID,
		BrickID:    step.ID,
		Label:      step.Label,
		Version:    policy.Version(),
		Start:      time.Now(),
	}
	defer func() {
		rec.End = time.Now()
		if err != nil {
			rec.Error = SerializeError(err)
		}
		e.record(ctx, rec)
	}()

	if step.If != nil {
		cond, err := e.eval.Evaluate(ctx, step.If, scope, opts)
		if err != nil {
			return c, 0, false, fmt.Errorf("evaluate condition: %w", err)
		}
		if !Truthy(cond) {
			e.logger.Debug(ctx, "step skipped", "run", r.id, "brick", step.ID, "instance", step.InstanceID)
			rec.Skipped = true
			return c, 0, false, nil
		}
	}

	args, err := e.eval.RenderArgs(ctx, step.Config, scope, opts)
	if err != nil {
		return c, 0, false, err
	}
	rec.Args = args

	brick, err := e.resolve(ctx, step.ID)
	if err != nil {
		return c, 0, false, err
	}

	issues, err := e.validator.Validate(brick.InputSchema(), args)
	if err != nil {
		return c, 0, false, fmt.Errorf("validate input: %w", err)
	}
	if len(issues) > 0 {
		return c, 0, false, &InputValidationError{BrickID: step.ID, Issues: issues}
	}

	stepRoot := root
	if step.RootMode == RootDocument {
		stepRoot = e.documentRoot
	}

	runOpts := RunOptions{
		Ctxt:       policy.Ctxt(c),
		Logger:     withFields(e.logger, "run", r.id, "brick", step.ID, "instance", step.InstanceID),
		Root:       stepRoot,
		InstanceID: step.InstanceID,
		Version:    policy.Version(),
		RunPipeline: func(ctx context.Context, body PipelineExpr, extra map[string]any) (any, error) {
			if err := body.Steps.Validate(); err != nil {
				return nil, fmt.Errorf("invalid pipeline: %w", err)
			}
			return e.reduce(ctx, r, body.Steps, policy.Branch(c, extra), stepRoot)
		},
	}

	e.logger.Debug(ctx, "running step", "run", r.id, "brick", step.ID, "instance", step.InstanceID)
	out, err := e.wrap(brick).Run(ctx, args, runOpts)
	if err != nil {
		return c, 0, false, asCancel(ctx, err)
	}
	rec.Output = out

	if e.validateOutput {
		e.checkOutput(ctx, brick, out)
	}

	return policy.FoldOutput(c, step, brick.Kind(), out), brick.Kind(), true, nil
}

func (e *Engine) resolve(ctx context.Context, id string) (Brick, error) {
	brick, err := e.resolver.Resolve(ctx, id)
	if err != nil {
		if errors.Is(err, ErrBrickNotFound) {
			return nil, &BusinessError{Message: "brick not available: " + id, Cause: err}
		}
		return nil, fmt.Errorf("resolve brick %s: %w", id, err)
	}
	if brick == nil {
		return nil, &BusinessError{Message: "brick not available: " + id, Cause: ErrBrickNotFound}
	}
	return brick, nil
}

func (e *Engine) wrap(b Brick) Brick {
	for i := len(e.middleware) - 1; i >= 0; i-- {
		b = e.middleware[i](b)
	}
	return b
}

func (e *Engine) checkOutput(ctx context.Context, b Brick, out any) {
	issues, err := e.validator.Validate(b.OutputSchema(), out)
	if err != nil {
		e.logger.Warn(ctx, "output validation failed", "brick", b.ID(), "error", err)
		return
	}
	for _, issue := range issues {
		e.logger.Warn(ctx, "output does not match schema", "brick", b.ID(), "field", issue.Field, "issue", issue.Message)
	}
}

func (e *Engine) record(ctx context.Context, rec TraceRecord) {
	if e.sink == nil {
		return
	}
	if err := e.sink.Record(ctx, rec); err != nil {
		e.logger.Warn(ctx, "trace sink failed", "brick", rec.BrickID, "error", err)
	}
}

// asCancel converts failures caused by a done context into CancelError.
func asCancel(ctx context.Context, err error) error {
	if ctx.Err() == nil || IsCancelError(err) {
		return err
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return &CancelError{Message: "pipeline cancelled", Cause: err}
	}
	return err
}
