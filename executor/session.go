package executor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/caffeineduck/wasmgate/hostfunc"
	"github.com/caffeineduck/wasmgate/memory"
	"github.com/caffeineduck/wasmgate/trap"
	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"go.uber.org/zap"
)

// Session is one instantiation of a module: its memory, its host function
// table and, optionally, a key/value store and an arena. Invocations are
// serialized; a guest never runs twice at once.
type Session struct {
	exec     *Executor
	module   *Module
	resolver *Resolver
	cfg      sessionConfig
	logger   *zap.Logger

	runtime  wazero.Runtime
	instance api.Module
	kv       *hostfunc.KV
	arena    *memory.Arena

	mu     sync.Mutex
	execMu sync.Mutex
	closed bool
}

// NewSession resolves every import of mod through r and instantiates it.
// Nothing is instantiated unless all imports resolve. When NewSession fails
// r is left unbound and may be used again.
func (e *Executor) NewSession(ctx context.Context, mod *Module, r *Resolver, opts ...SessionOption) (*Session, error) {
	cfg := defaultSessionConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	logger := cfg.logger
	if logger == nil {
		logger = e.logger
	}
	logger = logger.With(zap.String("module", mod.Name()))

	e.mu.RLock()
	closed := e.closed
	e.mu.RUnlock()
	if closed {
		return nil, ErrExecutorClosed
	}

	if err := r.acquire(logger); err != nil {
		return nil, err
	}
	base := r.Registry().Clone()
	refuse := func(err error) (*Session, error) {
		r.release(base)
		return nil, err
	}

	s := &Session{
		exec:     e,
		module:   mod,
		resolver: r,
		cfg:      cfg,
		logger:   logger,
	}

	if cfg.kvEnabled {
		s.kv = hostfunc.NewKV(cfg.kvConfig)
		s.kv.Register(r.Registry())
	}

	if err := r.resolve(mod); err != nil {
		logger.Debug("instantiation refused", zap.Error(err))
		return refuse(err)
	}

	r.Table().Observe(func(b hostfunc.Binding, err error) {
		e.metrics.observeHostCall(b, err)
		if err != nil {
			logger.Debug("host call trapped", zap.String("function", b.Field), zap.Error(err))
		}
	})

	if err := s.start(ctx); err != nil {
		s.closeRuntime()
		return refuse(err)
	}

	if cfg.arenaSize > 0 {
		arena, err := memory.NewArena(r.Memory(), cfg.arenaBase, cfg.arenaSize)
		if err != nil {
			s.closeRuntime()
			return refuse(fmt.Errorf("session arena: %w", err))
		}
		s.arena = arena
	}

	logger.Debug("session started",
		zap.Int("slots", r.Table().Len()),
		zap.Uint32("memory_pages", r.Memory().Pages()),
	)
	return s, nil
}

func (s *Session) start(ctx context.Context) error {
	s.runtime = wazero.NewRuntimeWithConfig(ctx, s.exec.runtimeConfig())

	if err := link(ctx, s.runtime, s.resolver); err != nil {
		return err
	}

	compiled, err := s.runtime.CompileModule(ctx, s.module.binary)
	if err != nil {
		return fmt.Errorf("%w: compile %s: %v", ErrParse, s.module.Name(), err)
	}

	cfg := wazero.NewModuleConfig().
		WithName(s.module.Name()).
		WithStartFunctions()

	instance, err := s.runtime.InstantiateModule(ctx, compiled, cfg)
	if err != nil {
		if t, ok := trap.Classify(err); ok {
			return fmt.Errorf("start function: %w", t)
		}
		return fmt.Errorf("instantiate %s: %w", s.module.Name(), err)
	}
	s.instance = instance
	return nil
}

// Invoke calls export with args and classifies the outcome. It never panics
// on guest misbehavior.
func (s *Session) Invoke(ctx context.Context, export string, args ...hostfunc.Value) Result {
	s.execMu.Lock()
	defer s.execMu.Unlock()

	result := s.invoke(ctx, export, args)
	s.exec.metrics.observeInvocation(export, result)

	switch result.Status {
	case Trapped:
		if result.Trap.Kind == trap.StackOverflow {
			s.logger.Debug("guest trapped", zap.String("export", export), zap.Stringer("kind", result.Trap.Kind))
		} else {
			s.logger.Warn("guest trapped", zap.String("export", export), zap.Error(result.Trap))
		}
	case Failed:
		s.logger.Error("invocation failed", zap.String("export", export), zap.Error(result.Error))
	}
	return result
}

func (s *Session) invoke(ctx context.Context, export string, args []hostfunc.Value) Result {
	start := time.Now()

	if s.isClosed() {
		return failed(ErrSessionClosed, start)
	}

	sig, ok := s.module.exports[export]
	if !ok {
		if s.instance.ExportedFunction(export) != nil {
			return failed(fmt.Errorf("%w: %s", ErrUnsupportedExport, export), start)
		}
		return failed(fmt.Errorf("%w: %s", ErrExportNotFound, export), start)
	}
	if err := checkExportArgs(export, sig, args); err != nil {
		return trapped(err, start)
	}

	if s.cfg.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.timeout)
		defer cancel()
	}

	raw := make([]uint64, len(args))
	for i, a := range args {
		raw[i] = a.Raw()
	}

	out, err := s.instance.ExportedFunction(export).Call(ctx, raw...)
	if err != nil {
		if s.isClosed() {
			return failed(fmt.Errorf("%w: during %s", ErrSessionClosed, export), start)
		}
		res := classify(err, s.cfg.timeout, start)
		if errors.Is(res.Error, ErrTimeout) {
			// The engine closes the instance when the context ends it.
			s.markClosed()
		}
		return res
	}

	res := Result{Status: Completed, Value: hostfunc.Void, Duration: time.Since(start)}
	if sig.Result != hostfunc.None {
		res.Value = hostfunc.FromRaw(sig.Result, out[0])
	}
	return res
}

func checkExportArgs(export string, sig hostfunc.Signature, args []hostfunc.Value) *trap.Trap {
	if len(args) != len(sig.Params) {
		return trap.Newf(trap.TypeMismatch, "%s: got %d arguments, signature %s", export, len(args), sig)
	}
	for i, a := range args {
		if a.Kind() != sig.Params[i] {
			return trap.Newf(trap.TypeMismatch, "%s: argument %d is %s, signature %s", export, i, a.Kind(), sig)
		}
	}
	return nil
}

// Memory returns the session's linear memory, a zero-sized placeholder when
// the module imports none.
func (s *Session) Memory() *memory.Memory {
	return s.resolver.Memory()
}

// KV returns the session's store, nil unless WithSessionKV was given.
func (s *Session) KV() *hostfunc.KV {
	return s.kv
}

// Arena returns the session's arena, nil unless WithSessionArena was given.
func (s *Session) Arena() *memory.Arena {
	return s.arena
}

// Exports returns the invocable exports and their signatures.
func (s *Session) Exports() map[string]hostfunc.Signature {
	return s.module.Exports()
}

func (s *Session) Module() *Module {
	return s.module
}

func (s *Session) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *Session) markClosed() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
}

func (s *Session) closeRuntime() {
	if s.runtime != nil {
		s.runtime.Close(context.Background())
	}
}

// Close tears the session down, stopping an invocation in progress. It is
// safe to call more than once.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.runtime == nil {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	rt := s.runtime
	s.runtime = nil
	s.mu.Unlock()

	if s.kv != nil {
		s.kv.Reset()
	}
	s.logger.Debug("session closed")
	return rt.Close(context.Background())
}
