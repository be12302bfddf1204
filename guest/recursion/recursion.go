// Package recursion holds a guest whose call depth is chosen by the caller.
package recursion

import (
	"github.com/caffeineduck/wasmgate/internal/wasmbin"
	"github.com/tetratelabs/wazero/api"
)

// Program exports rec(x, n), which is x + rec(x+1, n) while x < n and x
// otherwise. rec(1, 10) is 55; deep enough n overflows the call stack.
type Program struct{}

func (Program) Name() string { return "recursion" }

func (Program) Module() []byte {
	i32 := api.ValueTypeI32
	m := wasmbin.New()

	// rec is the first defined function, so its index is 0.
	const rec = 0
	body := wasmbin.NewCode().
		LocalGet(0).LocalGet(1).I32LtS().
		IfResult(i32).
		LocalGet(0).
		LocalGet(0).I32Const(1).I32Add().LocalGet(1).Call(rec).
		I32Add().
		Else().
		LocalGet(0).
		End()

	idx := m.Func([]api.ValueType{i32, i32}, []api.ValueType{i32}, nil, body)
	m.ExportFunc("rec", idx)
	return m.Encode()
}
