// Package plugin provides the core interfaces and types for brick plugins.
//
// A plugin is a WebAssembly module shipped with a manifest. The manifest
// lists the bricks the module implements; every brick call is a single
// JSON request/response exchange with the module.
package plugin

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/agentstation/brickflow"
)

// Call function names understood by plugin modules.
const (
	// FunctionRun runs a brick.
	FunctionRun = "run"
)

// Plugin represents a loaded plugin instance.
type Plugin interface {
	// Metadata returns the plugin's metadata
	Metadata() Metadata

	// Call invokes a function exported by the plugin
	Call(ctx context.Context, function string, input []byte) ([]byte, error)

	// Close releases plugin resources
	Close(ctx context.Context) error
}

// Metadata contains plugin information.
type Metadata struct {
	Name        string `json:"name" yaml:"name"`
	Version     string `json:"version" yaml:"version"`
	Description string `json:"description" yaml:"description"`
	Author      string `json:"author,omitempty" yaml:"author,omitempty"`
	License     string `json:"license,omitempty" yaml:"license,omitempty"`

	Runtime string `json:"runtime" yaml:"runtime"` // "wasm" for now
	Binary  string `json:"binary" yaml:"binary"`   // Path to .wasm file

	Bricks []BrickDefinition `json:"bricks" yaml:"bricks"`

	Permissions  Permissions  `json:"permissions,omitempty" yaml:"permissions,omitempty"`
	Requirements Requirements `json:"requirements,omitempty" yaml:"requirements,omitempty"`
}

// BrickDefinition describes a brick exported by the plugin.
type BrickDefinition struct {
	ID           string           `json:"id" yaml:"id"`
	Kind         string           `json:"kind" yaml:"kind"`
	Category     string           `json:"category" yaml:"category"`
	Description  string           `json:"description" yaml:"description"`
	InputSchema  brickflow.Schema `json:"inputSchema,omitempty" yaml:"inputSchema,omitempty"`
	OutputSchema brickflow.Schema `json:"outputSchema,omitempty" yaml:"outputSchema,omitempty"`
	Examples     []Example        `json:"examples,omitempty" yaml:"examples,omitempty"`
}

// Example shows how to use a brick.
type Example struct {
	Name        string         `json:"name" yaml:"name"`
	Description string         `json:"description,omitempty" yaml:"description,omitempty"`
	Config      map[string]any `json:"config,omitempty" yaml:"config,omitempty"`
	Output      any            `json:"output,omitempty" yaml:"output,omitempty"`
}

// Permissions defines what the plugin is allowed to access.
type Permissions struct {
	Env []string `json:"env,omitempty" yaml:"env,omitempty"` // Allowed env var names

	Memory  string        `json:"memory,omitempty" yaml:"memory,omitempty"`   // Max memory (e.g., "16MB")
	Timeout time.Duration `json:"timeout,omitempty" yaml:"timeout,omitempty"` // Max execution time per call
}

// Requirements specifies plugin dependencies.
type Requirements struct {
	Brickflow string `json:"brickflow,omitempty" yaml:"brickflow,omitempty"` // Min engine version
}

// Request is sent to the plugin for every brick run.
type Request struct {
	Brick string         `json:"brick"`
	Args  map[string]any `json:"args"`
	Ctxt  any            `json:"ctxt,omitempty"`
}

// Response is returned from the plugin.
type Response struct {
	Success bool            `json:"success"`
	Error   string          `json:"error,omitempty"`
	Output  json.RawMessage `json:"output,omitempty"`
}

// Loader discovers and loads plugins.
type Loader interface {
	// Discover finds all plugins in the given paths
	Discover(paths ...string) ([]Metadata, error)

	// Load loads a plugin from a manifest, a plugin directory or a .wasm file
	Load(ctx context.Context, path string) (Plugin, error)

	// LoadFromMetadata loads a plugin using its metadata
	LoadFromMetadata(ctx context.Context, metadata Metadata) (Plugin, error)
}

// Validate checks the metadata for required fields.
func (m *Metadata) Validate() error {
	var errs []error
	if m.Name == "" {
		errs = append(errs, errors.New("plugin name is required"))
	}
	if m.Version == "" {
		errs = append(errs, errors.New("plugin version is required"))
	}
	if m.Runtime == "" {
		errs = append(errs, errors.New("plugin runtime is required"))
	}
	if m.Binary == "" {
		errs = append(errs, errors.New("plugin binary is required"))
	}
	if len(m.Bricks) == 0 {
		errs = append(errs, errors.New("plugin must export at least one brick"))
	}
	seen := make(map[string]bool, len(m.Bricks))
	for _, b := range m.Bricks {
		if b.ID == "" {
			errs = append(errs, errors.New("brick id is required"))
			continue
		}
		if seen[b.ID] {
			errs = append(errs, fmt.Errorf("brick %s is defined twice", b.ID))
		}
		seen[b.ID] = true
		if _, err := brickflow.ParseKind(b.Kind); err != nil {
			errs = append(errs, fmt.Errorf("brick %s: %w", b.ID, err))
		}
		if b.Description == "" {
			errs = append(errs, fmt.Errorf("brick description is required for %s", b.ID))
		}
	}
	return errors.Join(errs...)
}
