package builtin

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"sync"

	"github.com/agentstation/brickflow"
	"github.com/agentstation/brickflow/builtin/script"
	"github.com/agentstation/brickflow/statestore"
)

// Registry manages bricks by id. It is safe for concurrent use and
// implements brickflow.Resolver.
type Registry struct {
	mu     sync.RWMutex
	bricks map[string]brickflow.Brick
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		bricks: make(map[string]brickflow.Brick),
	}
}

// Register adds bricks, replacing any with the same id.
func (r *Registry) Register(bricks ...brickflow.Brick) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, b := range bricks {
		r.bricks[b.ID()] = b
	}
}

// Get returns a brick by id.
func (r *Registry) Get(id string) (brickflow.Brick, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	b, ok := r.bricks[id]
	return b, ok
}

// Resolve implements brickflow.Resolver.
func (r *Registry) Resolve(_ context.Context, id string) (brickflow.Brick, error) {
	b, ok := r.Get(id)
	if !ok {
		return nil, fmt.Errorf("%w: %s", brickflow.ErrBrickNotFound, id)
	}
	return b, nil
}

// IDs returns all registered ids in sorted order.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.bricks))
	for id := range r.bricks {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Describe returns the metadata of a brick. Bricks without metadata are
// described by their id, kind and schemas.
func (r *Registry) Describe(id string) (Metadata, bool) {
	b, ok := r.Get(id)
	if !ok {
		return Metadata{}, false
	}
	if d, ok := b.(Describer); ok {
		return d.Metadata(), true
	}
	return Metadata{
		ID:           b.ID(),
		Kind:         b.Kind().String(),
		InputSchema:  b.InputSchema(),
		OutputSchema: b.OutputSchema(),
	}, true
}

// Config configures the built-in bricks.
type Config struct {
	// State backs @brickflow/with-cache. A memory store is created when nil.
	State statestore.Store

	// Validator backs @brickflow/validate. Defaults to JSON Schema.
	Validator brickflow.Validator

	// HTTPClient backs @brickflow/http. Defaults to http.DefaultClient.
	HTTPClient *http.Client
}

// RegisterAll registers every built-in brick.
func RegisterAll(r *Registry, cfg Config) error {
	if cfg.State == nil {
		mem, err := statestore.NewMemory()
		if err != nil {
			return fmt.Errorf("create state store: %w", err)
		}
		cfg.State = mem
	}
	if cfg.Validator == nil {
		cfg.Validator = brickflow.NewJSONSchemaValidator()
	}

	// Control flow
	r.Register(
		NewIfElse(),
		NewForEach(),
		NewMapValues(),
		NewRetry(),
		NewTryExcept(),
		NewWithCache(cfg.State),
		NewDelay(),
	)

	// Utility
	r.Register(
		NewIdentity(),
		NewReturn(),
		NewJSONPath(),
		NewLog(),
		NewRaise(),
		NewValidate(cfg.Validator),
		NewHTTP(cfg.HTTPClient),
		script.NewBrick(),
	)
	return nil
}
