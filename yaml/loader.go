package yaml

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/agentstation/brickflow"
)

// Loader loads and validates pipeline definitions.
type Loader struct {
	parser   *Parser
	resolver brickflow.Resolver
	workers  int
}

// LoaderOption configures a Loader.
type LoaderOption func(*Loader)

// WithResolver makes the loader check that every brick id resolves.
func WithResolver(r brickflow.Resolver) LoaderOption {
	return func(l *Loader) {
		l.resolver = r
	}
}

// WithWorkers bounds how many files LoadDir parses at once.
func WithWorkers(n int) LoaderOption {
	return func(l *Loader) {
		l.workers = n
	}
}

// NewLoader creates a loader.
func NewLoader(opts ...LoaderOption) *Loader {
	l := &Loader{parser: NewParser(), workers: 4}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// LoadBytes parses and validates a definition.
func (l *Loader) LoadBytes(ctx context.Context, data []byte) (*Definition, error) {
	def, err := l.parser.ParseBytes(data)
	if err != nil {
		return nil, err
	}
	if err := l.check(ctx, def); err != nil {
		return nil, err
	}
	return def, nil
}

// LoadFile parses and validates a definition file.
func (l *Loader) LoadFile(ctx context.Context, filename string) (*Definition, error) {
	def, err := l.parser.ParseFile(filename)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", filename, err)
	}
	if err := l.check(ctx, def); err != nil {
		return nil, fmt.Errorf("%s: %w", filename, err)
	}
	return def, nil
}

// LoadDir loads every .yaml, .yml and .json file in dir concurrently. The
// first failure cancels the remaining loads. Definitions are keyed by name;
// duplicate names are an error.
func (l *Loader) LoadDir(ctx context.Context, dir string) (map[string]*Definition, error) {
	files, err := DefinitionFiles(dir)
	if err != nil {
		return nil, err
	}

	var (
		mu   sync.Mutex
		defs = make(map[string]*Definition, len(files))
		from = make(map[string]string, len(files))
	)
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(max(l.workers, 1))
	for _, file := range files {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			def, err := l.LoadFile(ctx, file)
			if err != nil {
				return err
			}

			mu.Lock()
			defer mu.Unlock()
			if prev, ok := from[def.Name]; ok {
				return fmt.Errorf("pipeline %q defined in both %s and %s", def.Name, prev, file)
			}
			defs[def.Name] = def
			from[def.Name] = file
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return defs, nil
}

// Marshal converts a definition to YAML.
func (l *Loader) Marshal(def *Definition) ([]byte, error) {
	return l.parser.Marshal(def)
}

func (l *Loader) check(ctx context.Context, def *Definition) error {
	if err := def.Validate(); err != nil {
		return fmt.Errorf("invalid pipeline definition: %w", err)
	}
	if l.resolver != nil {
		if err := def.CheckBricks(ctx, l.resolver); err != nil {
			return err
		}
	}
	return nil
}

// DefinitionFiles lists the definition files directly inside dir, sorted.
func DefinitionFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read dir: %w", err)
	}
	var files []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		switch strings.ToLower(filepath.Ext(e.Name())) {
		case ".yaml", ".yml", ".json":
			files = append(files, filepath.Join(dir, e.Name()))
		}
	}
	sort.Strings(files)
	return files, nil
}
