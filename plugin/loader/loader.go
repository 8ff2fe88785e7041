// Package loader provides plugin discovery and loading functionality.
package loader

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/goccy/go-yaml"

	"github.com/agentstation/brickflow"
	"github.com/agentstation/brickflow/builtin"
	"github.com/agentstation/brickflow/plugin"
	"github.com/agentstation/brickflow/plugin/wasm"
)

// Manifest file names, in lookup order.
var manifestNames = []string{"manifest.yaml", "manifest.yml", "manifest.json"}

// DefaultPluginPaths returns the default paths to search for plugins.
func DefaultPluginPaths() []string {
	var paths []string
	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".brickflow", "plugins"))
	}
	return append(paths, "/usr/local/share/brickflow/plugins", "./plugins")
}

// Option configures a Loader.
type Option func(*Loader)

// WithLogger sets the logger used to report skipped manifests.
func WithLogger(l brickflow.Logger) Option {
	return func(ld *Loader) {
		ld.logger = l
	}
}

// Loader implements plugin.Loader for WebAssembly plugins.
type Loader struct {
	logger brickflow.Logger

	mu         sync.Mutex
	discovered map[string]plugin.Metadata
}

var _ plugin.Loader = (*Loader)(nil)

// New creates a new plugin loader.
func New(opts ...Option) *Loader {
	l := &Loader{
		logger:     brickflow.NopLogger(),
		discovered: make(map[string]plugin.Metadata),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Discover finds all plugin manifests under the given paths. Missing paths
// are skipped; invalid manifests are logged and skipped.
func (l *Loader) Discover(paths ...string) ([]plugin.Metadata, error) {
	if len(paths) == 0 {
		paths = DefaultPluginPaths()
	}

	var found []plugin.Metadata
	for _, root := range paths {
		if _, err := os.Stat(root); errors.Is(err, fs.ErrNotExist) {
			continue
		}
		err := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
			if err != nil {
				return nil //nolint:nilerr // unreadable entries are skipped
			}
			if d.IsDir() || !isManifest(d.Name()) {
				return nil
			}
			metadata, err := loadManifest(p)
			if err != nil {
				l.logger.Warn(context.Background(), "skipping plugin manifest", "path", p, "error", err)
				return nil
			}

			l.mu.Lock()
			l.discovered[metadata.Name] = metadata
			l.mu.Unlock()
			found = append(found, metadata)
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("failed to walk directory %s: %w", root, err)
		}
	}
	return found, nil
}

// Load loads a plugin from a manifest file, a plugin directory or a .wasm
// file next to its manifest.
func (l *Loader) Load(ctx context.Context, path string) (plugin.Plugin, error) {
	manifest, err := findManifest(path)
	if err != nil {
		return nil, err
	}
	metadata, err := loadManifest(manifest)
	if err != nil {
		return nil, err
	}
	return l.LoadFromMetadata(ctx, metadata)
}

// LoadFromMetadata loads a plugin using its metadata. A relative binary
// path is resolved against the discovered manifest of the same name, then
// the working directory.
//
//nolint:gocritic // hugeParam: metadata is copied to keep the cache immutable
func (l *Loader) LoadFromMetadata(ctx context.Context, metadata plugin.Metadata) (plugin.Plugin, error) {
	if err := metadata.Validate(); err != nil {
		return nil, fmt.Errorf("invalid metadata: %w", err)
	}
	if metadata.Runtime != "wasm" {
		return nil, fmt.Errorf("unsupported runtime: %s", metadata.Runtime)
	}

	if !filepath.IsAbs(metadata.Binary) {
		l.mu.Lock()
		cached, ok := l.discovered[metadata.Name]
		l.mu.Unlock()
		if ok {
			metadata.Binary = cached.Binary
		}
	}

	wasmBytes, err := os.ReadFile(metadata.Binary) //nolint:gosec // path comes from a manifest
	if err != nil {
		return nil, fmt.Errorf("failed to read WASM binary: %w", err)
	}
	return wasm.NewPlugin(ctx, wasmBytes, &metadata)
}

// RegisterAll discovers plugins under paths, loads them and registers their
// bricks. The returned plugins must be closed by the caller.
func (l *Loader) RegisterAll(ctx context.Context, reg *builtin.Registry, paths ...string) ([]plugin.Plugin, error) {
	found, err := l.Discover(paths...)
	if err != nil {
		return nil, err
	}

	var loaded []plugin.Plugin
	closeAll := func() {
		for _, p := range loaded {
			_ = p.Close(ctx)
		}
	}
	for _, metadata := range found {
		p, err := l.LoadFromMetadata(ctx, metadata)
		if err != nil {
			closeAll()
			return nil, fmt.Errorf("load plugin %s: %w", metadata.Name, err)
		}
		loaded = append(loaded, p)

		bricks, err := plugin.Bricks(p)
		if err != nil {
			closeAll()
			return nil, err
		}
		reg.Register(bricks...)
		l.logger.Debug(ctx, "plugin loaded", "plugin", metadata.Name, "version", metadata.Version, "bricks", len(bricks))
	}
	return loaded, nil
}

func isManifest(name string) bool {
	for _, m := range manifestNames {
		if name == m {
			return true
		}
	}
	return false
}

// findManifest resolves a plugin path to its manifest file.
func findManifest(path string) (string, error) {
	if isManifest(filepath.Base(path)) {
		return path, nil
	}
	info, err := os.Stat(path)
	if err != nil {
		return "", fmt.Errorf("failed to stat path: %w", err)
	}

	dir := path
	if !info.IsDir() {
		if !strings.HasSuffix(path, ".wasm") {
			return "", fmt.Errorf("unable to load plugin from path: %s", path)
		}
		dir = filepath.Dir(path)
	}
	for _, name := range manifestNames {
		candidate := filepath.Join(dir, name)
		if _, err := os.Stat(candidate); err == nil {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("no plugin manifest in %s", dir)
}

// loadManifest reads and validates a manifest. The binary path is resolved
// relative to the manifest.
func loadManifest(path string) (plugin.Metadata, error) {
	data, err := os.ReadFile(path) //nolint:gosec // path is a discovered manifest
	if err != nil {
		return plugin.Metadata{}, fmt.Errorf("failed to read manifest: %w", err)
	}

	// YAML parser can handle both YAML and JSON
	var metadata plugin.Metadata
	if err := yaml.Unmarshal(data, &metadata); err != nil {
		return plugin.Metadata{}, fmt.Errorf("failed to parse manifest: %w", err)
	}
	if err := metadata.Validate(); err != nil {
		return plugin.Metadata{}, err
	}

	if !filepath.IsAbs(metadata.Binary) {
		metadata.Binary = filepath.Join(filepath.Dir(path), metadata.Binary)
	}
	return metadata, nil
}
