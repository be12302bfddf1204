package executor

import (
	"github.com/caffeineduck/wasmgate/internal/wasmbin"
	"github.com/tetratelabs/wazero/api"
)

// mockProgram implements Program for testing executor logic with small
// hand-assembled guests.
type mockProgram struct {
	name  string
	build func(m *wasmbin.Module)
}

func (p mockProgram) Name() string {
	return p.name
}

func (p mockProgram) Module() []byte {
	m := wasmbin.New()
	p.build(m)
	return m.Encode()
}

var (
	i32 = api.ValueTypeI32
	i64 = api.ValueTypeI64
)

// faultsProgram exports functions that misbehave in each engine-detected way.
var faultsProgram = mockProgram{name: "mock/faults", build: func(m *wasmbin.Module) {
	m.Memory(wasmbin.Limits{Min: 1, Max: 1, HasMax: true})

	div := wasmbin.NewCode().LocalGet(0).LocalGet(1).I32DivS()
	m.ExportFunc("div", m.Func([]api.ValueType{i32, i32}, []api.ValueType{i32}, nil, div))

	spin := wasmbin.NewCode().Loop().Br(0).End()
	m.ExportFunc("spin", m.Func(nil, nil, nil, spin))

	add64 := wasmbin.NewCode().LocalGet(0).LocalGet(1).I64Add()
	m.ExportFunc("add64", m.Func([]api.ValueType{i64, i64}, []api.ValueType{i64}, nil, add64))

	pair := wasmbin.NewCode().I32Const(1).I32Const(2)
	m.ExportFunc("pair", m.Func(nil, []api.ValueType{i32, i32}, nil, pair))

	oob := wasmbin.NewCode().I32Const(70000).I32Load(0)
	m.ExportFunc("oob", m.Func(nil, []api.ValueType{i32}, nil, oob))

	halt := wasmbin.NewCode().Unreachable()
	m.ExportFunc("halt", m.Func(nil, nil, nil, halt))
}}

// sharedProgram imports env.memory and exposes raw access to it.
var sharedProgram = mockProgram{name: "mock/shared", build: func(m *wasmbin.Module) {
	m.ImportMemory("env", "memory", wasmbin.Limits{Min: 1, Max: 4, HasMax: true})

	poke := wasmbin.NewCode().LocalGet(0).LocalGet(1).I32Store(0)
	m.ExportFunc("poke", m.Func([]api.ValueType{i32, i32}, nil, nil, poke))

	peek := wasmbin.NewCode().LocalGet(0).I32Load(0)
	m.ExportFunc("peek", m.Func([]api.ValueType{i32}, []api.ValueType{i32}, nil, peek))

	grow := wasmbin.NewCode().LocalGet(0).MemoryGrow()
	m.ExportFunc("grow", m.Func([]api.ValueType{i32}, []api.ValueType{i32}, nil, grow))

	pages := wasmbin.NewCode().MemorySize()
	m.ExportFunc("pages", m.Func(nil, []api.ValueType{i32}, nil, pages))
}}

// hostProgram calls env.check(x) and returns its result.
var hostProgram = mockProgram{name: "mock/host", build: func(m *wasmbin.Module) {
	check := m.ImportFunc("env", "check", []api.ValueType{i32}, []api.ValueType{i32})
	body := wasmbin.NewCode().LocalGet(0).Call(check)
	m.ExportFunc("run", m.Func([]api.ValueType{i32}, []api.ValueType{i32}, nil, body))
}}

// startTrapProgram traps while being instantiated.
var startTrapProgram = mockProgram{name: "mock/start-trap", build: func(m *wasmbin.Module) {
	m.Start(m.Func(nil, nil, nil, wasmbin.NewCode().Unreachable()))
}}

// unboundedProgram imports a memory without a maximum.
var unboundedProgram = mockProgram{name: "mock/unbounded", build: func(m *wasmbin.Module) {
	m.ImportMemory("env", "memory", wasmbin.Limits{Min: 1})
}}

// foreignProgram imports from a namespace nobody serves.
var foreignProgram = mockProgram{name: "mock/foreign", build: func(m *wasmbin.Module) {
	m.ImportFunc("wasi_snapshot_preview1", "fd_write",
		[]api.ValueType{i32, i32, i32, i32}, []api.ValueType{i32})
}}

// globalProgram imports a global next to a function the host does provide.
var globalProgram = mockProgram{name: "mock/global", build: func(m *wasmbin.Module) {
	m.ImportFunc("env", "mult_two", []api.ValueType{i32}, []api.ValueType{i32})
	m.ImportGlobal("env", "g", i32)
}}

// tableProgram imports a table.
var tableProgram = mockProgram{name: "mock/table", build: func(m *wasmbin.Module) {
	m.ImportTable("env", "table", wasmbin.Limits{Min: 1, Max: 1, HasMax: true})
}}
