// Package kvstore holds a guest that stores integers in the host through
// db_put and db_get, passing keys and values by pointer into a shared
// memory it imports from env.
package kvstore

import (
	"github.com/caffeineduck/wasmgate/hostfunc"
	"github.com/caffeineduck/wasmgate/internal/wasmbin"
	"github.com/tetratelabs/wazero/api"
)

// Guest memory layout.
const (
	// KeyAddr holds the formatted key, "key: " and ten digits then a NUL.
	KeyAddr uint32 = 16
	// ValueAddr is where put_int stages the 4-byte value.
	ValueAddr uint32 = 32
	// ResultAddr receives what db_get writes.
	ResultAddr uint32 = 48
)

// Memory limits the guest declares for env.memory, in pages.
const (
	MinPages = 1
	MaxPages = 16
)

// Program exports put_int(key, value), get_int(key) and lookup_len(key).
// get_int traps with unreachable unless exactly four bytes come back;
// lookup_len returns db_get's raw byte count.
type Program struct{}

func (Program) Name() string { return "kvstore" }

func (Program) Module() []byte {
	var (
		i32   = api.ValueTypeI32
		one   = []api.ValueType{i32}
		two   = []api.ValueType{i32, i32}
		three = []api.ValueType{i32, i32, i32}
	)

	m := wasmbin.New()
	dbPut := m.ImportFunc("env", "db_put", three, nil)
	dbGet := m.ImportFunc("env", "db_get", three, one)
	m.ImportMemory("env", "memory", wasmbin.Limits{Min: MinPages, Max: MaxPages, HasMax: true})

	template, _ := hostfunc.EncodeKey(0)
	m.Data(KeyAddr, template[:])

	// format_key(n) rewrites the ten digits at KeyAddr+5..KeyAddr+14,
	// least significant first.
	formatKey := wasmbin.NewCode().
		I32Const(14).LocalSet(1).
		Loop().
		LocalGet(1).
		LocalGet(0).I32Const(10).I32RemU().I32Const('0').I32Add().
		I32Store8(KeyAddr).
		LocalGet(0).I32Const(10).I32DivU().LocalSet(0).
		LocalGet(1).I32Const(1).I32Sub().LocalTee(1).
		I32Const(5).I32GeS().
		BrIf(0).
		End()
	format := m.Func(one, nil, []api.ValueType{i32}, formatKey)

	putInt := wasmbin.NewCode().
		LocalGet(0).Call(format).
		I32Const(int32(ValueAddr)).LocalGet(1).I32Store(0).
		I32Const(int32(KeyAddr)).I32Const(int32(ValueAddr)).I32Const(4).Call(dbPut)
	m.ExportFunc("put_int", m.Func(two, nil, nil, putInt))

	getInt := wasmbin.NewCode().
		LocalGet(0).Call(format).
		I32Const(int32(KeyAddr)).I32Const(int32(ResultAddr)).I32Const(4).Call(dbGet).
		I32Const(4).I32Ne().
		If().Unreachable().End().
		I32Const(int32(ResultAddr)).I32Load(0)
	m.ExportFunc("get_int", m.Func(one, one, nil, getInt))

	lookupLen := wasmbin.NewCode().
		LocalGet(0).Call(format).
		I32Const(int32(KeyAddr)).I32Const(int32(ResultAddr)).I32Const(4).Call(dbGet)
	m.ExportFunc("lookup_len", m.Func(one, one, nil, lookupLen))

	return m.Encode()
}
