// Package yaml provides YAML-based pipeline definition support for
// brickflow. JSON definitions load through the same path.
package yaml

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"

	"github.com/agentstation/brickflow"
)

// Definition is a named pipeline together with the values it is seeded
// with.
type Definition struct {
	Name        string             `json:"name"`
	Description string             `json:"description,omitempty"`
	Version     string             `json:"version,omitempty"`
	APIVersion  brickflow.Version  `json:"apiVersion,omitempty"`
	Input       any                `json:"input,omitempty"`
	Options     map[string]any     `json:"options,omitempty"`
	Mod         map[string]any     `json:"mod,omitempty"`
	Metadata    map[string]any     `json:"metadata,omitempty"`
	Pipeline    brickflow.Pipeline `json:"pipeline"`
}

// Validate checks the definition and every step of its pipeline.
func (d *Definition) Validate() error {
	var errs []error
	if d.Name == "" {
		errs = append(errs, errors.New("pipeline name is required"))
	}
	if d.APIVersion != "" {
		if _, err := brickflow.ParseVersion(string(d.APIVersion)); err != nil {
			errs = append(errs, err)
		}
	}
	if err := d.Pipeline.Validate(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// APIVersionOr returns the API version to run with, defaulting to fallback.
func (d *Definition) APIVersionOr(fallback brickflow.Version) brickflow.Version {
	if d.APIVersion == "" {
		return fallback
	}
	return d.APIVersion
}

// Initial builds the reduce seed. A non-nil input replaces the
// definition's own input.
func (d *Definition) Initial(input any) brickflow.Initial {
	if input == nil {
		input = d.Input
	}
	return brickflow.Initial{
		Input:   input,
		Options: d.Options,
		Mod:     d.Mod,
	}
}

// BrickIDs returns every brick id used by the pipeline, nested pipelines
// included, in first-use order.
func (d *Definition) BrickIDs() []string {
	seen := map[string]bool{}
	var ids []string
	var walkPipeline func(p brickflow.Pipeline)
	var walkValue func(v any)

	walkPipeline = func(p brickflow.Pipeline) {
		for _, step := range p {
			if !seen[step.ID] {
				seen[step.ID] = true
				ids = append(ids, step.ID)
			}
			walkValue(step.Config)
		}
	}
	walkValue = func(v any) {
		switch val := v.(type) {
		case brickflow.PipelineExpr:
			walkPipeline(val.Steps)
		case brickflow.DeferExpr:
			walkValue(val.Value)
		case map[string]any:
			for _, k := range slices.Sorted(maps.Keys(val)) {
				walkValue(val[k])
			}
		case []any:
			for _, item := range val {
				walkValue(item)
			}
		}
	}

	walkPipeline(d.Pipeline)
	return ids
}

// CheckBricks reports every brick id that r cannot resolve.
func (d *Definition) CheckBricks(ctx context.Context, r brickflow.Resolver) error {
	var errs []error
	for _, id := range d.BrickIDs() {
		if _, err := r.Resolve(ctx, id); err != nil {
			errs = append(errs, fmt.Errorf("brick %s: %w", id, err))
		}
	}
	return errors.Join(errs...)
}
