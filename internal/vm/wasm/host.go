// Package wasm hosts process code compiled to WebAssembly on wazero.
//
// Modules follow a JSON ABI. They export a memory, an allocator and an entry
// point:
//
//	memory
//	malloc(size i32) i32
//	handle(msgPtr, msgLen, envPtr, envLen i32) i64
//
// handle receives the message and environment as JSON and returns the
// output record as JSON, packed as ptr<<32 | len. Modules may import the
// "weavedrive" host module to read ledger content.
package wasm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/imports/wasi_snapshot_preview1"

	"github.com/roach88/aosim/internal/vm"
)

// Exports every module must provide.
const (
	ExportMemory = "memory"
	ExportMalloc = "malloc"
	ExportHandle = "handle"
)

const pageSize = 65536

// ErrMissingExport is returned when a module lacks a required export.
var ErrMissingExport = errors.New("wasm: missing export")

// Host compiles modules once and gives each process its own runtime.
type Host struct {
	cache  wazero.CompilationCache
	logger *slog.Logger
}

// HostOption configures a Host.
type HostOption func(*Host)

// WithLogger sets the host's default logger.
func WithLogger(l *slog.Logger) HostOption {
	return func(h *Host) {
		h.logger = l
	}
}

// NewHost creates a wasm host.
func NewHost(opts ...HostOption) *Host {
	h := &Host{
		cache:  wazero.NewCompilationCache(),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Close releases compiled code shared between handles.
func (h *Host) Close(ctx context.Context) error {
	return h.cache.Close(ctx)
}

// Instantiate implements vm.Host.
func (h *Host) Instantiate(ctx context.Context, bytecode []byte, opts vm.Options) (vm.Handle, error) {
	cfg := wazero.NewRuntimeConfig().
		WithCompilationCache(h.cache).
		WithCloseOnContextDone(true)
	if opts.Module != nil {
		limit, err := memoryLimitPages(opts.Module.Tags.Value("Memory-Limit"))
		if err != nil {
			return nil, err
		}
		if limit > 0 {
			cfg = cfg.WithMemoryLimitPages(limit)
		}
	}

	r := wazero.NewRuntimeWithConfig(ctx, cfg)
	compiled, err := r.CompileModule(ctx, bytecode)
	if err != nil {
		r.Close(ctx)
		return nil, fmt.Errorf("wasm: compile: %w", err)
	}
	if err := checkExports(compiled); err != nil {
		r.Close(ctx)
		return nil, err
	}

	logger := opts.Logger
	if logger == nil {
		logger = h.logger
	}
	hd := &handle{
		runtime:  r,
		compiled: compiled,
		drive:    opts.Drive,
		logger:   logger,
	}
	if _, err := wasi_snapshot_preview1.Instantiate(ctx, r); err != nil {
		r.Close(ctx)
		return nil, fmt.Errorf("wasm: wasi: %w", err)
	}
	if err := hd.instantiateDrive(ctx); err != nil {
		r.Close(ctx)
		return nil, fmt.Errorf("wasm: weavedrive: %w", err)
	}
	return hd, nil
}

func checkExports(compiled wazero.CompiledModule) error {
	funcs := compiled.ExportedFunctions()
	for _, name := range []string{ExportMalloc, ExportHandle} {
		if _, ok := funcs[name]; !ok {
			return fmt.Errorf("%w %q", ErrMissingExport, name)
		}
	}
	if _, ok := compiled.ExportedMemories()[ExportMemory]; !ok {
		return fmt.Errorf("%w %q", ErrMissingExport, ExportMemory)
	}
	return nil
}

// memoryLimitPages parses limits such as "500-mb" or "1-gb".
func memoryLimitPages(limit string) (uint32, error) {
	if limit == "" {
		return 0, nil
	}
	num, unit, ok := strings.Cut(strings.ToLower(limit), "-")
	if !ok {
		return 0, fmt.Errorf("wasm: malformed memory limit %q", limit)
	}
	n, err := strconv.ParseUint(num, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("wasm: malformed memory limit %q", limit)
	}
	var scale uint64
	switch unit {
	case "kb":
		scale = 1 << 10
	case "mb":
		scale = 1 << 20
	case "gb":
		scale = 1 << 30
	default:
		return 0, fmt.Errorf("wasm: unknown memory unit %q", unit)
	}
	pages := (n*scale + pageSize - 1) / pageSize
	if pages > 65536 {
		pages = 65536
	}
	return uint32(pages), nil
}

// handle owns one runtime. Each call instantiates a fresh module instance,
// restores the memory snapshot into it and discards it afterwards.
type handle struct {
	mu       sync.Mutex
	runtime  wazero.Runtime
	compiled wazero.CompiledModule
	drive    vm.Drive
	logger   *slog.Logger

	// fatal holds a drive error that aborted the current call.
	fatal error
}

func (h *handle) Close(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.runtime.Close(ctx)
}
