// Package script runs sandboxed Lua code as bricks.
//
// A script either defines a run(args, ctxt) function, whose return value is
// the brick output, or returns a value from its top-level chunk.
package script

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/Shopify/go-lua"

	"github.com/agentstation/brickflow"
)

// Script is a Lua script discovered on disk.
type Script struct {
	ID          string
	Path        string
	Kind        brickflow.Kind
	Description string
	Version     string
	Content     string
}

// Manager discovers scripts in a directory.
type Manager struct {
	dir     string
	scripts map[string]*Script
	logger  brickflow.Logger
}

// NewManager creates a manager for dir. Scripts are registered under
// "@scripts/<name>" unless their header names an id.
func NewManager(dir string, logger brickflow.Logger) *Manager {
	if logger == nil {
		logger = brickflow.NopLogger()
	}
	return &Manager{
		dir:     dir,
		scripts: make(map[string]*Script),
		logger:  logger,
	}
}

// Discover loads every .lua file below the directory. Files that fail to
// load are logged and skipped.
func (m *Manager) Discover(ctx context.Context) error {
	err := filepath.WalkDir(m.dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !strings.HasSuffix(path, ".lua") {
			return nil
		}

		script, err := LoadScript(path)
		if err != nil {
			m.logger.Warn(ctx, "failed to load script", "path", path, "error", err)
			return nil
		}
		m.scripts[script.ID] = script
		m.logger.Debug(ctx, "discovered script", "id", script.ID, "path", path)
		return nil
	})
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return err
}

// LoadScript reads a script and parses its header comments:
//
//	-- @id: @scripts/greet
//	-- @kind: transformer
//	-- @description: Greets the input
//	-- @version: 1.0.0
func LoadScript(path string) (*Script, error) {
	content, err := os.ReadFile(path) //nolint:gosec // Path comes from directory discovery
	if err != nil {
		return nil, err
	}

	script := &Script{
		Path:    path,
		Kind:    brickflow.Transformer,
		Content: string(content),
	}

	for _, line := range strings.Split(string(content), "\n") {
		line = strings.TrimSpace(line)
		if !strings.HasPrefix(line, "--") {
			break
		}

		key, value, ok := strings.Cut(strings.TrimSpace(strings.TrimPrefix(line, "--")), ":")
		if !ok {
			continue
		}
		value = strings.TrimSpace(value)
		switch strings.TrimSpace(key) {
		case "@id":
			script.ID = value
		case "@kind":
			kind, err := brickflow.ParseKind(value)
			if err != nil {
				return nil, err
			}
			script.Kind = kind
		case "@description":
			script.Description = value
		case "@version":
			script.Version = value
		}
	}

	if script.ID == "" {
		base := filepath.Base(path)
		script.ID = "@scripts/" + strings.TrimSuffix(base, filepath.Ext(base))
	}

	if err := Validate(script.Content); err != nil {
		return nil, err
	}
	return script, nil
}

// Get returns a discovered script by id.
func (m *Manager) Get(id string) (*Script, bool) {
	script, ok := m.scripts[id]
	return script, ok
}

// Scripts returns all discovered scripts sorted by id.
func (m *Manager) Scripts() []*Script {
	scripts := make([]*Script, 0, len(m.scripts))
	for _, script := range m.scripts {
		scripts = append(scripts, script)
	}
	sort.Slice(scripts, func(i, j int) bool { return scripts[i].ID < scripts[j].ID })
	return scripts
}

// Bricks returns a brick per discovered script.
func (m *Manager) Bricks() []brickflow.Brick {
	scripts := m.Scripts()
	bricks := make([]brickflow.Brick, 0, len(scripts))
	for _, s := range scripts {
		bricks = append(bricks, s.Brick())
	}
	return bricks
}

// Validate checks that source compiles without running it.
func Validate(source string) error {
	l := lua.NewState()
	if err := lua.LoadString(l, source); err != nil {
		return fmt.Errorf("script validation failed: %w", err)
	}
	l.Pop(1)
	return nil
}

// Execute runs source in a fresh sandbox. args and ctxt are passed to run
// when the script defines it.
func Execute(ctx context.Context, source string, args map[string]any, ctxt any, logger brickflow.Logger) (any, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = brickflow.NopLogger()
	}

	l := lua.NewState()
	setupSandbox(l)
	registerLogger(ctx, l, logger)

	if err := lua.DoString(l, source); err != nil {
		return nil, &brickflow.BusinessError{Message: "lua script failed", Cause: err}
	}

	var result any
	if l.Top() > 0 {
		result = pullValue(l, -1)
		l.Pop(l.Top())
	}

	l.Global("run")
	if l.TypeOf(-1) != lua.TypeFunction {
		l.Pop(1)
		return result, nil
	}

	pushValue(l, args)
	pushValue(l, ctxt)
	if err := l.ProtectedCall(2, 1, 0); err != nil {
		return nil, &brickflow.BusinessError{Message: "lua run failed", Cause: err}
	}
	result = pullValue(l, -1)
	l.Pop(1)

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return result, nil
}
