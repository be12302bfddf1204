// Package executor loads untrusted WebAssembly modules, wires them to a
// restricted set of host capabilities, and runs their exports.
//
// # Overview
//
// An [Executor] parses and caches modules. A [Resolver] answers a module's
// imports from a single namespace: function imports must match a handler in
// its [hostfunc.Registry] exactly, and at most one memory is granted, no
// larger than the resolver's page limit. A [Session] is one instantiation.
// Every invocation ends in a [Result] that is Completed, Trapped or Failed;
// guest misbehavior never panics the host.
//
// # Basic Usage
//
//	exec, err := executor.New()
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer exec.Close()
//
//	mod, err := exec.Load(ctx, "guest", wasmBytes)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	reg := hostfunc.NewRegistry("env")
//	arith.Register(reg)
//
//	session, err := exec.NewSession(ctx, mod, executor.NewResolver(reg))
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer session.Close()
//
//	res := session.Invoke(ctx, "mult_four", hostfunc.ValueI32(6))
//	fmt.Println(res) // completed: i32:24
//
// # Shared Memory
//
// When the module imports env.memory, the resolver allocates it and the
// session hands it to the engine, so host functions and the guest see the
// same bytes. Host functions receive it through [hostfunc.Call]:
//
//	session, _ := exec.NewSession(ctx, mod, executor.NewResolver(reg,
//	    executor.WithMaxMemoryPages(64)),
//	    executor.WithSessionKV(hostfunc.DefaultKVConfig()),
//	)
//
// # Traps
//
// A trap ends the invocation, not the session. [trap.StackOverflow] is
// reported as recoverable; after any other trap the host decides whether to
// keep using the session. A timeout closes the session.
package executor
