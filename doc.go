// Package wasmgate embeds untrusted WebAssembly modules behind a narrow,
// explicit host boundary.
//
// # Overview
//
// A guest module gets nothing by default. Its imports are answered from one
// namespace: functions must match a registered host function exactly, and at
// most one linear memory is granted within a page limit. Anything else is
// refused before the module runs.
//
// # Basic Usage
//
//	exec, _ := executor.New()
//	defer exec.Close()
//
//	mod, _ := exec.LoadProgram(ctx, kvstore.Program{})
//	session, _ := exec.NewSession(ctx, mod, executor.NewResolver(nil),
//	    executor.WithSessionKV(hostfunc.DefaultKVConfig()))
//	defer session.Close()
//
//	session.Invoke(ctx, "put_int", hostfunc.ValueI32(1000), hostfunc.ValueI32(12))
//	res := session.Invoke(ctx, "get_int", hostfunc.ValueI32(1000))
//	fmt.Println(res) // completed: i32:12
//
// # One-shot Runs
//
//	result := sandbox.RunProgram(ctx, arith.Simple{}, "add_one",
//	    []hostfunc.Value{hostfunc.ValueI32(41)}, sandbox.DefaultConfig())
//
// See the [executor], [hostfunc], [memory], [trap] and [sandbox] packages for
// detailed API documentation.
package wasmgate
