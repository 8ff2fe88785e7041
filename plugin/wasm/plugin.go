// Package wasm implements WebAssembly plugin support using wazero.
//
// A plugin module must export its linear memory as "memory" and two
// functions:
//
//	__brickflow_alloc(size i32) i32
//	__brickflow_run(ptr i32, len i32) i64
//
// The host allocates a buffer, writes the JSON request into it and calls the
// run function, which returns the response location packed as ptr<<32 | len.
// An optional __brickflow_free(ptr i32, len i32) releases both buffers.
package wasm

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/dustin/go-humanize"
	"github.com/goccy/go-yaml"
	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"github.com/tetratelabs/wazero/imports/wasi_snapshot_preview1"

	"github.com/agentstation/brickflow/plugin"
)

const (
	exportPrefix = "__brickflow_"
	exportAlloc  = exportPrefix + "alloc"
	exportFree   = exportPrefix + "free"
	exportMemory = "memory"

	pageSize = 65536
	maxPages = 65536
)

// ErrClosed is returned by calls on a closed plugin.
var ErrClosed = errors.New("wasm: plugin closed")

// wasmPlugin implements the Plugin interface for WebAssembly plugins.
type wasmPlugin struct {
	metadata plugin.Metadata
	runtime  wazero.Runtime
	compiled wazero.CompiledModule
	config   wazero.ModuleConfig

	mu     sync.Mutex
	module api.Module
	closed bool
}

// NewPlugin compiles and instantiates a WebAssembly plugin.
func NewPlugin(ctx context.Context, wasmBytes []byte, metadata *plugin.Metadata) (plugin.Plugin, error) {
	runtimeConfig := wazero.NewRuntimeConfig().WithCloseOnContextDone(true)
	if metadata.Permissions.Memory != "" {
		pages, err := parseMemoryLimit(metadata.Permissions.Memory)
		if err != nil {
			return nil, fmt.Errorf("invalid memory limit: %w", err)
		}
		runtimeConfig = runtimeConfig.WithMemoryLimitPages(pages)
	}

	r := wazero.NewRuntimeWithConfig(ctx, runtimeConfig)
	wasi_snapshot_preview1.MustInstantiate(ctx, r)

	compiled, err := r.CompileModule(ctx, wasmBytes)
	if err != nil {
		_ = r.Close(ctx)
		return nil, fmt.Errorf("failed to compile WASM module: %w", err)
	}

	// Start functions are not run; the host drives the module through exports.
	moduleConfig := wazero.NewModuleConfig().
		WithName(metadata.Name).
		WithStartFunctions()
	for _, name := range metadata.Permissions.Env {
		if value, ok := os.LookupEnv(name); ok {
			moduleConfig = moduleConfig.WithEnv(name, value)
		}
	}

	p := &wasmPlugin{
		metadata: *metadata,
		runtime:  r,
		compiled: compiled,
		config:   moduleConfig,
	}
	if err := p.instantiate(ctx); err != nil {
		_ = r.Close(ctx)
		return nil, err
	}
	return p, nil
}

// instantiate creates a fresh module instance and checks its exports.
func (p *wasmPlugin) instantiate(ctx context.Context) error {
	module, err := p.runtime.InstantiateModule(ctx, p.compiled, p.config)
	if err != nil {
		return fmt.Errorf("failed to instantiate WASM module: %w", err)
	}
	if module.ExportedMemory(exportMemory) == nil {
		_ = module.Close(ctx)
		return errors.New("plugin does not export memory")
	}
	if module.ExportedFunction(exportAlloc) == nil {
		_ = module.Close(ctx)
		return fmt.Errorf("plugin does not export required function: %s", exportAlloc)
	}
	if module.ExportedFunction(exportPrefix+plugin.FunctionRun) == nil {
		_ = module.Close(ctx)
		return fmt.Errorf("plugin does not export required function: %s", exportPrefix+plugin.FunctionRun)
	}
	p.module = module
	return nil
}

// Metadata returns the plugin's metadata.
func (p *wasmPlugin) Metadata() plugin.Metadata {
	return p.metadata
}

// Call invokes an exported function with a JSON payload. Calls are
// serialized; a call interrupted by its context leaves the instance closed,
// so the next call starts from a fresh instance.
func (p *wasmPlugin) Call(ctx context.Context, function string, input []byte) ([]byte, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil, ErrClosed
	}
	if p.module == nil || p.module.IsClosed() {
		if err := p.instantiate(context.WithoutCancel(ctx)); err != nil {
			return nil, err
		}
	}

	if p.metadata.Permissions.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.metadata.Permissions.Timeout)
		defer cancel()
	}

	fn := p.module.ExportedFunction(exportPrefix + function)
	if fn == nil {
		return nil, fmt.Errorf("plugin does not export function: %s", exportPrefix+function)
	}
	memory := p.module.ExportedMemory(exportMemory)
	alloc := p.module.ExportedFunction(exportAlloc)
	free := p.module.ExportedFunction(exportFree)

	inputLen := uint32(len(input))
	results, err := alloc.Call(ctx, uint64(inputLen))
	if err != nil {
		return nil, fmt.Errorf("failed to allocate memory: %w", err)
	}
	inputPtr := uint32(results[0])
	if !memory.Write(inputPtr, input) {
		return nil, errors.New("failed to write input to memory")
	}

	results, err = fn.Call(ctx, uint64(inputPtr), uint64(inputLen))
	if err != nil {
		return nil, fmt.Errorf("plugin call failed: %w", err)
	}
	if free != nil {
		_, _ = free.Call(ctx, uint64(inputPtr), uint64(inputLen))
	}

	outputPtr, outputLen := uint32(results[0]>>32), uint32(results[0])
	if outputLen == 0 {
		return nil, nil
	}
	view, ok := memory.Read(outputPtr, outputLen)
	if !ok {
		return nil, errors.New("failed to read output from memory")
	}
	// The view aliases module memory; copy before releasing it.
	output := make([]byte, len(view))
	copy(output, view)
	if free != nil {
		_, _ = free.Call(ctx, uint64(outputPtr), uint64(outputLen))
	}
	return output, nil
}

// Close releases plugin resources.
func (p *wasmPlugin) Close(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	return p.runtime.Close(ctx)
}

// LoadPlugin loads a WebAssembly plugin from its manifest file.
func LoadPlugin(ctx context.Context, manifestPath string) (plugin.Plugin, error) {
	data, err := os.ReadFile(manifestPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest: %w", err)
	}

	// YAML is a superset of JSON, so one decoder covers both manifest forms.
	var metadata plugin.Metadata
	if err := yaml.Unmarshal(data, &metadata); err != nil {
		return nil, fmt.Errorf("failed to parse manifest: %w", err)
	}
	if err := metadata.Validate(); err != nil {
		return nil, fmt.Errorf("invalid manifest %s: %w", manifestPath, err)
	}

	wasmPath := metadata.Binary
	if !filepath.IsAbs(wasmPath) {
		wasmPath = filepath.Join(filepath.Dir(manifestPath), wasmPath)
	}
	wasmBytes, err := os.ReadFile(wasmPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read WASM binary: %w", err)
	}
	return NewPlugin(ctx, wasmBytes, &metadata)
}

// parseMemoryLimit converts a size such as "16MB" or "1MiB" to 64KiB pages.
func parseMemoryLimit(limit string) (uint32, error) {
	size, err := humanize.ParseBytes(limit)
	if err != nil {
		return 0, err
	}
	pages := size / pageSize
	if pages == 0 {
		return 0, fmt.Errorf("%s is smaller than one page", limit)
	}
	if pages > maxPages {
		return 0, fmt.Errorf("%s exceeds the 4GiB address space", limit)
	}
	return uint32(pages), nil
}
