package brickflow

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"

	"github.com/google/uuid"
)

// RootMode selects the root element handed to a brick.
type RootMode string

const (
	// RootInherit passes the root of the enclosing pipeline.
	RootInherit RootMode = "inherit"
	// RootDocument passes the engine's document root.
	RootDocument RootMode = "document"
)

var (
	outputKeyPattern = regexp.MustCompile(`^[A-Za-z_$][A-Za-z0-9_$]*$`)

	// Output keys that would shadow engine-seeded namespaces. "input" is
	// allowed: rebinding @input is supported.
	reservedOutputKeys = map[string]bool{
		"options": true,
		"mod":     true,
	}
)

// Step is a single brick invocation.
type Step struct {
	// ID is the brick id resolved through the registry at dispatch time.
	ID string

	// Label is an optional human-readable name.
	Label string

	// Config maps argument names to literals or expressions.
	Config map[string]any

	// OutputKey binds the brick output to @<OutputKey> for later steps.
	OutputKey string

	// If skips the step when it evaluates falsy.
	If Expression

	// InstanceID identifies this step in traces and errors.
	InstanceID string

	// RootMode selects the root element for the brick.
	RootMode RootMode
}

// Pipeline is an ordered sequence of steps. It may be empty.
type Pipeline []Step

type stepJSON struct {
	ID         string         `json:"id"`
	Label      string         `json:"label,omitempty"`
	Config     map[string]any `json:"config"`
	OutputKey  string         `json:"outputKey,omitempty"`
	If         Expression     `json:"if,omitempty"`
	InstanceID string         `json:"instanceId,omitempty"`
	RootMode   RootMode       `json:"rootMode,omitempty"`
}

// MarshalJSON encodes the step in its wire form.
func (s Step) MarshalJSON() ([]byte, error) {
	cfg := s.Config
	if cfg == nil {
		cfg = map[string]any{}
	}
	return json.Marshal(stepJSON{
		ID:         s.ID,
		Label:      s.Label,
		Config:     cfg,
		OutputKey:  s.OutputKey,
		If:         s.If,
		InstanceID: s.InstanceID,
		RootMode:   s.RootMode,
	})
}

// UnmarshalJSON decodes the wire form, parsing expression envelopes.
func (s *Step) UnmarshalJSON(data []byte) error {
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	step, err := decodeStep(raw)
	if err != nil {
		return err
	}
	*s = step
	return nil
}

// Validate checks the structural invariants of the step.
func (s *Step) Validate() error {
	if s.ID == "" {
		return fmt.Errorf("%w: missing brick id", ErrInvalidStep)
	}
	if s.OutputKey != "" {
		if !outputKeyPattern.MatchString(s.OutputKey) {
			return fmt.Errorf("%w: output key %q is not an identifier", ErrInvalidStep, s.OutputKey)
		}
		if reservedOutputKeys[s.OutputKey] {
			return fmt.Errorf("%w: output key %q is reserved", ErrInvalidStep, s.OutputKey)
		}
	}
	switch s.RootMode {
	case "", RootInherit, RootDocument:
	default:
		return fmt.Errorf("%w: unknown root mode %q", ErrInvalidStep, s.RootMode)
	}
	return nil
}

// Validate checks every step, including nested pipelines in configs.
func (p Pipeline) Validate() error {
	var errs []error
	for i := range p {
		if err := p[i].Validate(); err != nil {
			errs = append(errs, fmt.Errorf("step %d (%s): %w", i, p[i].ID, err))
			continue
		}
		if err := validateNested(p[i].Config); err != nil {
			errs = append(errs, fmt.Errorf("step %d (%s): %w", i, p[i].ID, err))
		}
	}
	return errors.Join(errs...)
}

func validateNested(v any) error {
	switch val := v.(type) {
	case PipelineExpr:
		return val.Steps.Validate()
	case DeferExpr:
		return validateNested(val.Value)
	case map[string]any:
		for _, k := range sortedKeys(val) {
			if err := validateNested(val[k]); err != nil {
				return fmt.Errorf("%s: %w", k, err)
			}
		}
	case []any:
		for i, item := range val {
			if err := validateNested(item); err != nil {
				return fmt.Errorf("[%d]: %w", i, err)
			}
		}
	}
	return nil
}

// ParsePipeline decodes a pipeline from its JSON wire form.
func ParsePipeline(data []byte) (Pipeline, error) {
	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("decode pipeline: %w", err)
	}
	return decodePipeline(raw)
}

// DecodePipeline converts an already-decoded tree (e.g. from YAML) into a
// pipeline.
func DecodePipeline(raw any) (Pipeline, error) {
	return decodePipeline(raw)
}

func decodePipeline(raw any) (Pipeline, error) {
	if raw == nil {
		return Pipeline{}, nil
	}
	items, ok := raw.([]any)
	if !ok {
		return nil, fmt.Errorf("%w: pipeline must be an array, got %T", ErrInvalidStep, raw)
	}
	steps := make(Pipeline, 0, len(items))
	for i, item := range items {
		m, ok := item.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("%w: step %d must be an object, got %T", ErrInvalidStep, i, item)
		}
		step, err := decodeStep(m)
		if err != nil {
			return nil, fmt.Errorf("step %d: %w", i, err)
		}
		steps = append(steps, step)
	}
	return steps, nil
}

func decodeStep(m map[string]any) (Step, error) {
	var step Step

	id, ok := m["id"].(string)
	if !ok || id == "" {
		return step, fmt.Errorf("%w: missing brick id", ErrInvalidStep)
	}
	step.ID = id
	step.Label, _ = m["label"].(string)
	step.OutputKey, _ = m["outputKey"].(string)
	step.InstanceID, _ = m["instanceId"].(string)
	if step.InstanceID == "" {
		step.InstanceID = uuid.NewString()
	}
	if mode, ok := m["rootMode"].(string); ok {
		step.RootMode = RootMode(mode)
	}

	step.Config = map[string]any{}
	if rawConfig, ok := m["config"]; ok && rawConfig != nil {
		cfgMap, ok := rawConfig.(map[string]any)
		if !ok {
			return step, fmt.Errorf("%w: config must be an object, got %T", ErrInvalidStep, rawConfig)
		}
		parsed, err := ParseValue(cfgMap)
		if err != nil {
			return step, fmt.Errorf("config: %w", err)
		}
		cfg, ok := parsed.(map[string]any)
		if !ok {
			return step, fmt.Errorf("%w: config must be an object, got %s expression", ErrInvalidStep, parsed.(Expression).ExprKind())
		}
		step.Config = cfg
	}

	if rawIf, ok := m["if"]; ok && rawIf != nil {
		cond, err := ParseExpression(rawIf)
		if err != nil {
			return step, fmt.Errorf("if: %w", err)
		}
		step.If = cond
	}

	return step, step.Validate()
}
