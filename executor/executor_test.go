package executor_test

import (
	"context"
	"errors"
	"os"
	"sync"
	"testing"

	"github.com/caffeineduck/wasmgate/executor"
	"github.com/caffeineduck/wasmgate/guest/arith"
	"github.com/caffeineduck/wasmgate/guest/kvstore"
	"github.com/caffeineduck/wasmgate/guest/recursion"
	"github.com/caffeineduck/wasmgate/hostfunc"
	"github.com/caffeineduck/wasmgate/trap"
)

// Shared executor so the guests are compiled once for the whole package.
var sharedExec *executor.Executor

func TestMain(m *testing.M) {
	var err error
	sharedExec, err = executor.GetTestExecutor()
	if err != nil {
		panic("failed to create shared executor: " + err.Error())
	}

	code := m.Run()

	executor.CloseTestExecutor()
	os.Exit(code)
}

func startSession(t *testing.T, p executor.Program, reg *hostfunc.Registry, opts ...executor.SessionOption) *executor.Session {
	t.Helper()
	ctx := context.Background()

	mod, err := sharedExec.LoadProgram(ctx, p)
	if err != nil {
		t.Fatalf("failed to load %s: %v", p.Name(), err)
	}
	session, err := sharedExec.NewSession(ctx, mod, executor.NewResolver(reg), opts...)
	if err != nil {
		t.Fatalf("failed to start %s: %v", p.Name(), err)
	}
	t.Cleanup(func() { session.Close() })
	return session
}

func wantI32(t *testing.T, res executor.Result, want int32) {
	t.Helper()
	if res.Status != executor.Completed {
		t.Fatalf("expected completed, got %v", res)
	}
	got, ok := res.Value.I32()
	if !ok {
		t.Fatalf("expected an i32 result, got %v", res.Value)
	}
	if got != want {
		t.Errorf("expected %d, got %d", want, got)
	}
}

func wantTrap(t *testing.T, res executor.Result, kind trap.Kind) {
	t.Helper()
	if res.Status != executor.Trapped {
		t.Fatalf("expected trapped, got %v", res)
	}
	if res.Trap.Kind != kind {
		t.Errorf("expected %s trap, got %v", kind, res.Trap)
	}
}

// =============================================================================
// ARITHMETIC GUESTS
// =============================================================================

func TestAddOne(t *testing.T) {
	session := startSession(t, arith.Simple{}, nil)
	wantI32(t, session.Invoke(context.Background(), "add_one", hostfunc.ValueI32(41)), 42)
}

func TestCrossCall(t *testing.T) {
	reg := hostfunc.NewRegistry("env")
	arith.Register(reg)
	session := startSession(t, arith.Cross{}, reg)

	wantI32(t, session.Invoke(context.Background(), "mult_four", hostfunc.ValueI32(6)), 24)
}

func TestCrossCallUnimplementedImport(t *testing.T) {
	reg := hostfunc.NewRegistry("env")
	arith.Register(reg)
	session := startSession(t, arith.Cross{}, reg)
	ctx := context.Background()

	res := session.Invoke(ctx, "wasm_unused_fn", hostfunc.ValueF32(1.5))
	wantTrap(t, res, trap.Unreachable)

	// The session survives the trap.
	wantI32(t, session.Invoke(ctx, "mult_four", hostfunc.ValueI32(1)), 4)
}

func TestCrossCallSignatureMismatch(t *testing.T) {
	reg := hostfunc.NewRegistry("env")
	reg.Register("mult_two", hostfunc.Sig(hostfunc.I64, hostfunc.I64), func(c *hostfunc.Call) (hostfunc.Value, error) {
		return hostfunc.ValueI64(0), nil
	})
	reg.Register("unused_fn", hostfunc.Sig(hostfunc.F32, hostfunc.F32), func(c *hostfunc.Call) (hostfunc.Value, error) {
		return hostfunc.ValueF32(0), nil
	})

	ctx := context.Background()
	mod, err := sharedExec.LoadProgram(ctx, arith.Cross{})
	if err != nil {
		t.Fatalf("failed to load: %v", err)
	}
	_, err = sharedExec.NewSession(ctx, mod, executor.NewResolver(reg))
	if !errors.Is(err, executor.ErrSignatureMismatch) {
		t.Fatalf("expected ErrSignatureMismatch, got %v", err)
	}
}

func TestCrossCallMissingImport(t *testing.T) {
	ctx := context.Background()
	mod, err := sharedExec.LoadProgram(ctx, arith.Cross{})
	if err != nil {
		t.Fatalf("failed to load: %v", err)
	}
	_, err = sharedExec.NewSession(ctx, mod, executor.NewResolver(nil))
	if !errors.Is(err, executor.ErrUnknownImport) {
		t.Fatalf("expected ErrUnknownImport, got %v", err)
	}
}

// =============================================================================
// RECURSION
// =============================================================================

func TestRecursion(t *testing.T) {
	session := startSession(t, recursion.Program{}, nil)
	wantI32(t, session.Invoke(context.Background(), "rec", hostfunc.ValueI32(1), hostfunc.ValueI32(10)), 55)
}

func TestRecursionStackOverflow(t *testing.T) {
	session := startSession(t, recursion.Program{}, nil)
	ctx := context.Background()

	res := session.Invoke(ctx, "rec", hostfunc.ValueI32(1), hostfunc.ValueI32(65000))
	wantTrap(t, res, trap.StackOverflow)
	if !res.Trap.Recoverable() {
		t.Error("expected stack overflow to be recoverable")
	}

	wantI32(t, session.Invoke(ctx, "rec", hostfunc.ValueI32(1), hostfunc.ValueI32(10)), 55)
}

// =============================================================================
// KEY/VALUE STORE
// =============================================================================

func TestKVStore(t *testing.T) {
	session := startSession(t, kvstore.Program{}, nil, executor.WithSessionKV(hostfunc.DefaultKVConfig()))
	ctx := context.Background()

	for _, put := range []struct{ key, value int32 }{{1000, 12}, {8, 64}} {
		res := session.Invoke(ctx, "put_int", hostfunc.ValueI32(put.key), hostfunc.ValueI32(put.value))
		if res.Status != executor.Completed {
			t.Fatalf("put_int(%d, %d): %v", put.key, put.value, res)
		}
	}

	wantI32(t, session.Invoke(ctx, "get_int", hostfunc.ValueI32(1000)), 12)
	wantI32(t, session.Invoke(ctx, "get_int", hostfunc.ValueI32(8)), 64)
	wantI32(t, session.Invoke(ctx, "lookup_len", hostfunc.ValueI32(9999)), 0)
	wantTrap(t, session.Invoke(ctx, "get_int", hostfunc.ValueI32(9999)), trap.Unreachable)

	kv := session.KV()
	if kv.Len() != 2 {
		t.Fatalf("expected 2 entries, got %d", kv.Len())
	}
	key, _ := hostfunc.EncodeKey(1000)
	val, ok := kv.Lookup(key[:hostfunc.KeySize-1])
	if !ok {
		t.Fatalf("expected %q to be stored, have %v", key, kv.Keys())
	}
	n, err := hostfunc.DecodeValue(val)
	if err != nil || n != 12 {
		t.Errorf("expected value 12, got %d (%v)", n, err)
	}
}

func TestKVStoreOverwrite(t *testing.T) {
	session := startSession(t, kvstore.Program{}, nil, executor.WithSessionKV(hostfunc.DefaultKVConfig()))
	ctx := context.Background()

	session.Invoke(ctx, "put_int", hostfunc.ValueI32(5), hostfunc.ValueI32(1))
	session.Invoke(ctx, "put_int", hostfunc.ValueI32(5), hostfunc.ValueI32(2))
	wantI32(t, session.Invoke(ctx, "get_int", hostfunc.ValueI32(5)), 2)
	if session.KV().Len() != 1 {
		t.Errorf("expected 1 entry, got %d", session.KV().Len())
	}
}

func TestKVStoreLargestKey(t *testing.T) {
	session := startSession(t, kvstore.Program{}, nil, executor.WithSessionKV(hostfunc.DefaultKVConfig()))
	ctx := context.Background()

	// -1 is 4294967295 to the guest, the widest key it can format.
	session.Invoke(ctx, "put_int", hostfunc.ValueI32(-1), hostfunc.ValueI32(7))
	wantI32(t, session.Invoke(ctx, "get_int", hostfunc.ValueI32(-1)), 7)

	keys := session.KV().Keys()
	if len(keys) != 1 || keys[0] != "key: 4294967295" {
		t.Errorf("unexpected keys %q", keys)
	}
}

func TestKVStoreEntryLimit(t *testing.T) {
	session := startSession(t, kvstore.Program{}, nil, executor.WithSessionKV(hostfunc.KVConfig{MaxEntries: 1}))
	ctx := context.Background()

	if res := session.Invoke(ctx, "put_int", hostfunc.ValueI32(1), hostfunc.ValueI32(1)); res.Status != executor.Completed {
		t.Fatalf("first put: %v", res)
	}
	wantTrap(t, session.Invoke(ctx, "put_int", hostfunc.ValueI32(2), hostfunc.ValueI32(2)), trap.HostSignaledAbort)
}

func TestKVStoreWithoutKV(t *testing.T) {
	ctx := context.Background()
	mod, err := sharedExec.LoadProgram(ctx, kvstore.Program{})
	if err != nil {
		t.Fatalf("failed to load: %v", err)
	}
	_, err = sharedExec.NewSession(ctx, mod, executor.NewResolver(nil))
	if !errors.Is(err, executor.ErrUnknownImport) {
		t.Fatalf("expected ErrUnknownImport, got %v", err)
	}
}

func TestKVStoreMemoryLimit(t *testing.T) {
	ctx := context.Background()
	mod, err := sharedExec.LoadProgram(ctx, kvstore.Program{})
	if err != nil {
		t.Fatalf("failed to load: %v", err)
	}

	tests := []struct {
		name  string
		limit uint32
		ok    bool
	}{
		{"at declared maximum", kvstore.MaxPages, true},
		{"one page short", kvstore.MaxPages - 1, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := executor.NewResolver(nil, executor.WithMaxMemoryPages(tt.limit))
			session, err := sharedExec.NewSession(ctx, mod, r, executor.WithSessionKV(hostfunc.DefaultKVConfig()))
			if tt.ok {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				session.Close()
				return
			}
			if !errors.Is(err, executor.ErrMemoryLimitExceeded) {
				t.Fatalf("expected ErrMemoryLimitExceeded, got %v", err)
			}
		})
	}
}

func TestKVSessionsAreIsolated(t *testing.T) {
	opts := executor.WithSessionKV(hostfunc.DefaultKVConfig())
	first := startSession(t, kvstore.Program{}, nil, opts)
	second := startSession(t, kvstore.Program{}, nil, opts)
	ctx := context.Background()

	first.Invoke(ctx, "put_int", hostfunc.ValueI32(1), hostfunc.ValueI32(100))
	wantI32(t, second.Invoke(ctx, "lookup_len", hostfunc.ValueI32(1)), 0)
	wantI32(t, first.Invoke(ctx, "get_int", hostfunc.ValueI32(1)), 100)
}

// =============================================================================
// LOADING
// =============================================================================

func TestLoadCaches(t *testing.T) {
	ctx := context.Background()
	a, err := sharedExec.LoadProgram(ctx, arith.Simple{})
	if err != nil {
		t.Fatalf("failed to load: %v", err)
	}
	b, err := sharedExec.Load(ctx, arith.Simple{}.Name(), arith.Simple{}.Module())
	if err != nil {
		t.Fatalf("failed to load: %v", err)
	}
	if a != b {
		t.Error("expected the same module for the same name and bytes")
	}
}

func TestLoadInvalid(t *testing.T) {
	_, err := sharedExec.Load(context.Background(), "garbage", []byte("not wasm"))
	if !errors.Is(err, executor.ErrParse) {
		t.Fatalf("expected ErrParse, got %v", err)
	}
}

func TestModuleMetadata(t *testing.T) {
	mod, err := sharedExec.LoadProgram(context.Background(), kvstore.Program{})
	if err != nil {
		t.Fatalf("failed to load: %v", err)
	}

	imports := mod.Imports()
	if len(imports) != 3 {
		t.Fatalf("expected 3 imports, got %d", len(imports))
	}
	mem := imports[2]
	if mem.Kind != executor.ImportMemory || mem.Field != "memory" {
		t.Fatalf("expected env.memory last, got %+v", mem)
	}
	if mem.Limits.Initial != kvstore.MinPages || mem.Limits.Maximum != kvstore.MaxPages || !mem.Limits.HasMaximum {
		t.Errorf("unexpected limits %s", mem.Limits)
	}

	names := mod.ExportNames()
	want := []string{"get_int", "lookup_len", "put_int"}
	if len(names) != len(want) {
		t.Fatalf("expected exports %v, got %v", want, names)
	}
	for i := range want {
		if names[i] != want[i] {
			t.Errorf("expected exports %v, got %v", want, names)
			break
		}
	}
}

// =============================================================================
// CONCURRENCY
// =============================================================================

func TestConcurrentSessions(t *testing.T) {
	const numGoroutines = 20
	var wg sync.WaitGroup
	wg.Add(numGoroutines)

	errs := make(chan error, numGoroutines)
	ctx := context.Background()

	for i := range numGoroutines {
		go func(id int32) {
			defer wg.Done()
			mod, err := sharedExec.LoadProgram(ctx, recursion.Program{})
			if err != nil {
				errs <- err
				return
			}
			session, err := sharedExec.NewSession(ctx, mod, executor.NewResolver(nil))
			if err != nil {
				errs <- err
				return
			}
			defer session.Close()

			res := session.Invoke(ctx, "rec", hostfunc.ValueI32(id), hostfunc.ValueI32(id+10))
			if err := res.Err(); err != nil {
				errs <- err
			}
		}(int32(i))
	}

	wg.Wait()
	close(errs)
	for err := range errs {
		t.Errorf("concurrent session failed: %v", err)
	}
}

func TestConcurrentInvokesSerialize(t *testing.T) {
	session := startSession(t, kvstore.Program{}, nil, executor.WithSessionKV(hostfunc.DefaultKVConfig()))
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := range 50 {
		wg.Add(1)
		go func(k int32) {
			defer wg.Done()
			session.Invoke(ctx, "put_int", hostfunc.ValueI32(k), hostfunc.ValueI32(k*2))
		}(int32(i))
	}
	wg.Wait()

	for k := int32(0); k < 50; k++ {
		wantI32(t, session.Invoke(ctx, "get_int", hostfunc.ValueI32(k)), k*2)
	}
}
