// Package sandbox runs a single export of a guest module and throws the
// instance away: load, resolve, invoke, close.
package sandbox

import (
	"context"
	"sync"
	"time"

	"github.com/caffeineduck/wasmgate/executor"
	"github.com/caffeineduck/wasmgate/hostfunc"
	"go.uber.org/zap"
)

type Result struct {
	executor.Result

	// Stored is what the guest left in its store, keyed by raw key bytes.
	// Nil unless Config.KV is set.
	Stored map[string][]byte
}

type Config struct {
	Timeout        time.Duration
	MaxMemoryPages uint32
	Registry       *hostfunc.Registry
	// KV gives the guest db_put and db_get for the duration of the run.
	KV     *hostfunc.KVConfig
	Logger *zap.Logger
}

func DefaultConfig() Config {
	return Config{
		Timeout:        30 * time.Second,
		MaxMemoryPages: executor.DefaultMaxMemoryPages,
	}
}

var (
	sharedExec     *executor.Executor
	sharedExecOnce sync.Once
	sharedExecErr  error
)

// exec returns the executor shared by every run, so repeated runs of the
// same bytes skip compilation.
func exec() (*executor.Executor, error) {
	sharedExecOnce.Do(func() {
		sharedExec, sharedExecErr = executor.New()
	})
	return sharedExec, sharedExecErr
}

// RunProgram is Run for a bundled program.
func RunProgram(ctx context.Context, p executor.Program, export string, args []hostfunc.Value, cfg Config) Result {
	return Run(ctx, p.Name(), p.Module(), export, args, cfg)
}

// Run instantiates binary, calls export once and closes the instance.
// Load and instantiation errors come back as a Failed result.
func Run(ctx context.Context, name string, binary []byte, export string, args []hostfunc.Value, cfg Config) Result {
	start := time.Now()
	fail := func(err error) Result {
		return Result{Result: executor.Result{Status: executor.Failed, Error: err, Duration: time.Since(start)}}
	}

	e, err := exec()
	if err != nil {
		return fail(err)
	}

	mod, err := e.Load(ctx, name, binary)
	if err != nil {
		return fail(err)
	}

	var ropts []executor.ResolverOption
	if cfg.MaxMemoryPages > 0 {
		ropts = append(ropts, executor.WithMaxMemoryPages(cfg.MaxMemoryPages))
	}
	resolver := executor.NewResolver(cfg.Registry, ropts...)

	sopts := []executor.SessionOption{executor.WithSessionTimeout(cfg.Timeout)}
	if cfg.KV != nil {
		sopts = append(sopts, executor.WithSessionKV(*cfg.KV))
	}
	if cfg.Logger != nil {
		sopts = append(sopts, executor.WithSessionLogger(cfg.Logger))
	}

	session, err := e.NewSession(ctx, mod, resolver, sopts...)
	if err != nil {
		return fail(err)
	}
	defer session.Close()

	res := Result{Result: session.Invoke(ctx, export, args...)}
	res.Duration = time.Since(start)

	if kv := session.KV(); kv != nil {
		res.Stored = make(map[string][]byte, kv.Len())
		for _, k := range kv.Keys() {
			v, _ := kv.Lookup([]byte(k))
			res.Stored[k] = v
		}
	}
	return res
}
