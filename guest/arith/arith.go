// Package arith holds the arithmetic guests: a self-contained add_one and a
// mult_four that calls back into the host.
package arith

import (
	"github.com/caffeineduck/wasmgate/hostfunc"
	"github.com/caffeineduck/wasmgate/internal/wasmbin"
	"github.com/caffeineduck/wasmgate/trap"
	"github.com/tetratelabs/wazero/api"
)

var (
	i32 = []api.ValueType{api.ValueTypeI32}
	f32 = []api.ValueType{api.ValueTypeF32}
)

// Simple exports add_one(x) = x + 1 and imports nothing.
type Simple struct{}

func (Simple) Name() string { return "arith/simple" }

func (Simple) Module() []byte {
	m := wasmbin.New()
	addOne := wasmbin.NewCode().LocalGet(0).I32Const(1).I32Add()
	m.ExportFunc("add_one", m.Func(i32, i32, nil, addOne))
	return m.Encode()
}

// Cross exports mult_four(x) = mult_two(mult_two(x)) and
// wasm_unused_fn(x) = unused_fn(x), both resolved from env.
type Cross struct{}

func (Cross) Name() string { return "arith/cross" }

func (Cross) Module() []byte {
	m := wasmbin.New()
	multTwo := m.ImportFunc("env", "mult_two", i32, i32)
	unused := m.ImportFunc("env", "unused_fn", f32, f32)

	multFour := wasmbin.NewCode().LocalGet(0).Call(multTwo).Call(multTwo)
	m.ExportFunc("mult_four", m.Func(i32, i32, nil, multFour))

	callUnused := wasmbin.NewCode().LocalGet(0).Call(unused)
	m.ExportFunc("wasm_unused_fn", m.Func(f32, f32, nil, callUnused))
	return m.Encode()
}

// Register adds the host side of Cross: mult_two doubles its argument and
// unused_fn is declared with its real signature but never implemented.
func Register(reg *hostfunc.Registry) {
	reg.Register("mult_two", hostfunc.Sig(hostfunc.I32, hostfunc.I32), MultTwo)
	reg.Register("unused_fn", hostfunc.Sig(hostfunc.F32, hostfunc.F32), unusedFn)
}

func MultTwo(c *hostfunc.Call) (hostfunc.Value, error) {
	x, err := c.I32(0)
	if err != nil {
		return hostfunc.Void, err
	}
	return hostfunc.ValueI32(x * 2), nil
}

func unusedFn(c *hostfunc.Call) (hostfunc.Value, error) {
	return hostfunc.Void, trap.New(trap.Unreachable, "unused_fn has no host implementation")
}
