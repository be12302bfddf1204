package executor

import (
	"context"
	"fmt"
	"sync"

	"github.com/cespare/xxhash/v2"
	"github.com/tetratelabs/wazero"
	"go.uber.org/zap"
)

// Executor owns the engine configuration and a cache of loaded modules.
// Sessions created from it each get a runtime of their own, sharing the
// executor's compilation cache.
type Executor struct {
	cfg     executorConfig
	cache   wazero.CompilationCache
	runtime wazero.Runtime
	modules map[string]*Module
	metrics *Metrics
	logger  *zap.Logger
	mu      sync.RWMutex
	closed  bool
}

// New creates an Executor.
func New(opts ...ExecutorOption) (*Executor, error) {
	cfg := defaultExecutorConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	ctx := context.Background()

	e := &Executor{
		cfg:     cfg,
		cache:   wazero.NewCompilationCache(),
		modules: make(map[string]*Module),
		metrics: newMetrics(cfg.registerer),
		logger:  cfg.logger,
	}
	e.runtime = wazero.NewRuntimeWithConfig(ctx, e.runtimeConfig())

	for _, p := range cfg.precompile {
		if _, err := e.LoadProgram(ctx, p); err != nil {
			e.Close()
			return nil, fmt.Errorf("precompile %s: %w", p.Name(), err)
		}
	}

	return e, nil
}

// runtimeConfig is the engine configuration shared by every runtime the
// executor creates. The interpreter's call-depth guard bounds recursion.
func (e *Executor) runtimeConfig() wazero.RuntimeConfig {
	rc := wazero.NewRuntimeConfigInterpreter().
		WithCloseOnContextDone(true).
		WithCompilationCache(e.cache)
	if e.cfg.memoryLimitPages > 0 {
		rc = rc.WithMemoryLimitPages(e.cfg.memoryLimitPages)
	}
	return rc
}

// LoadProgram loads a bundled program, cached by name.
func (e *Executor) LoadProgram(ctx context.Context, p Program) (*Module, error) {
	return e.Load(ctx, p.Name(), p.Module())
}

// Load parses and validates binary. Modules are cached by name and content,
// so loading the same bytes again is free.
func (e *Executor) Load(ctx context.Context, name string, binary []byte) (*Module, error) {
	key := fmt.Sprintf("%s@%016x", name, xxhash.Sum64(binary))

	e.mu.RLock()
	if e.closed {
		e.mu.RUnlock()
		return nil, ErrExecutorClosed
	}
	if mod, ok := e.modules[key]; ok {
		e.mu.RUnlock()
		return mod, nil
	}
	e.mu.RUnlock()

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return nil, ErrExecutorClosed
	}
	if mod, ok := e.modules[key]; ok {
		return mod, nil
	}

	compiled, err := e.runtime.CompileModule(ctx, binary)
	if err != nil {
		return nil, fmt.Errorf("%w: compile %s: %v", ErrParse, name, err)
	}

	mod, err := newModule(name, binary, compiled)
	if err != nil {
		compiled.Close(ctx)
		return nil, fmt.Errorf("%w: read imports of %s: %v", ErrParse, name, err)
	}
	e.modules[key] = mod
	e.logger.Debug("module loaded",
		zap.String("module", name),
		zap.Int("imports", len(mod.imports)),
		zap.Strings("exports", mod.ExportNames()),
	)
	return mod, nil
}

// Close releases all resources held by the Executor. Sessions must be
// closed first.
func (e *Executor) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return nil
	}
	e.closed = true

	ctx := context.Background()

	var errs []error
	if err := e.runtime.Close(ctx); err != nil {
		errs = append(errs, err)
	}
	if err := e.cache.Close(ctx); err != nil {
		errs = append(errs, err)
	}

	if len(errs) > 0 {
		return errs[0]
	}
	return nil
}
