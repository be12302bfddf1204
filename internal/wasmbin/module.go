package wasmbin

import (
	"github.com/tetratelabs/wazero/api"
)

const (
	sectionType     = 0x01
	sectionImport   = 0x02
	sectionFunction = 0x03
	sectionMemory   = 0x05
	sectionExport   = 0x07
	sectionStart    = 0x08
	sectionCode     = 0x0a
	sectionData     = 0x0b

	externFunc   = byte(ExternFunc)
	externTable  = byte(ExternTable)
	externMemory = byte(ExternMemory)
	externGlobal = byte(ExternGlobal)

	funcRef = 0x70

	funcTypeTag = 0x60
)

// Limits are memory limits in pages.
type Limits struct {
	Min    uint32
	Max    uint32
	HasMax bool
}

type funcType struct {
	params  []api.ValueType
	results []api.ValueType
}

func (t funcType) equal(o funcType) bool {
	if len(t.params) != len(o.params) || len(t.results) != len(o.results) {
		return false
	}
	for i := range t.params {
		if t.params[i] != o.params[i] {
			return false
		}
	}
	for i := range t.results {
		if t.results[i] != o.results[i] {
			return false
		}
	}
	return true
}

type funcImport struct {
	module, name string
	typeIdx      uint32
}

type memImport struct {
	module, name string
	limits       Limits
}

// otherImport is a table or global import.
type otherImport struct {
	module, name string
	kind         byte
	desc         []byte
}

type funcDef struct {
	typeIdx uint32
	locals  []api.ValueType
	body    []byte
}

type export struct {
	name  string
	kind  byte
	index uint32
}

type dataSegment struct {
	offset uint32
	bytes  []byte
}

// Module assembles a wasm binary. Function imports must be declared before
// any function is defined so that returned indices stay stable.
type Module struct {
	types     []funcType
	funcs     []funcImport
	memImport *memImport
	others    []otherImport
	defs      []funcDef
	memory    *Limits
	exports   []export
	data      []dataSegment
	start     *uint32
}

func New() *Module {
	return &Module{}
}

func (m *Module) typeIndex(params, results []api.ValueType) uint32 {
	t := funcType{params: params, results: results}
	for i, existing := range m.types {
		if existing.equal(t) {
			return uint32(i)
		}
	}
	m.types = append(m.types, t)
	return uint32(len(m.types) - 1)
}

// ImportFunc declares a function import and returns its function index.
func (m *Module) ImportFunc(module, name string, params, results []api.ValueType) uint32 {
	if len(m.defs) > 0 {
		panic("wasmbin: function import declared after a function definition")
	}
	m.funcs = append(m.funcs, funcImport{module: module, name: name, typeIdx: m.typeIndex(params, results)})
	return uint32(len(m.funcs) - 1)
}

// ImportMemory declares the module's memory as an import.
func (m *Module) ImportMemory(module, name string, limits Limits) {
	m.memImport = &memImport{module: module, name: name, limits: limits}
}

// ImportGlobal declares an immutable global import of type t.
func (m *Module) ImportGlobal(module, name string, t api.ValueType) {
	m.others = append(m.others, otherImport{module: module, name: name, kind: externGlobal, desc: []byte{t, 0x00}})
}

// ImportTable declares a funcref table import.
func (m *Module) ImportTable(module, name string, limits Limits) {
	desc := appendLimits([]byte{funcRef}, limits)
	m.others = append(m.others, otherImport{module: module, name: name, kind: externTable, desc: desc})
}

// Memory defines the module's own memory.
func (m *Module) Memory(limits Limits) {
	m.memory = &limits
}

// Func defines a function and returns its index.
func (m *Module) Func(params, results, locals []api.ValueType, body *Code) uint32 {
	m.defs = append(m.defs, funcDef{
		typeIdx: m.typeIndex(params, results),
		locals:  locals,
		body:    body.Bytes(),
	})
	return uint32(len(m.funcs) + len(m.defs) - 1)
}

// ExportFunc exports function index idx as name.
func (m *Module) ExportFunc(name string, idx uint32) {
	m.exports = append(m.exports, export{name: name, kind: externFunc, index: idx})
}

// ExportMemory exports memory 0 as name.
func (m *Module) ExportMemory(name string) {
	m.exports = append(m.exports, export{name: name, kind: externMemory})
}

// Data places b at offset in memory 0 when the module is instantiated.
func (m *Module) Data(offset uint32, b []byte) {
	m.data = append(m.data, dataSegment{offset: offset, bytes: append([]byte(nil), b...)})
}

// Start sets the function run on instantiation.
func (m *Module) Start(idx uint32) {
	m.start = &idx
}

// Encode returns the binary.
func (m *Module) Encode() []byte {
	out := []byte{0x00, 0x61, 0x73, 0x6d, 0x01, 0x00, 0x00, 0x00}

	if len(m.types) > 0 {
		sec := AppendULEB128(nil, uint32(len(m.types)))
		for _, t := range m.types {
			sec = append(sec, funcTypeTag)
			sec = appendValueTypes(sec, t.params)
			sec = appendValueTypes(sec, t.results)
		}
		out = appendSection(out, sectionType, sec)
	}

	if n := len(m.funcs) + len(m.others); n > 0 || m.memImport != nil {
		if m.memImport != nil {
			n++
		}
		sec := AppendULEB128(nil, uint32(n))
		for _, f := range m.funcs {
			sec = appendName(sec, f.module)
			sec = appendName(sec, f.name)
			sec = append(sec, externFunc)
			sec = AppendULEB128(sec, f.typeIdx)
		}
		if mi := m.memImport; mi != nil {
			sec = appendName(sec, mi.module)
			sec = appendName(sec, mi.name)
			sec = append(sec, externMemory)
			sec = appendLimits(sec, mi.limits)
		}
		for _, o := range m.others {
			sec = appendName(sec, o.module)
			sec = appendName(sec, o.name)
			sec = append(sec, o.kind)
			sec = append(sec, o.desc...)
		}
		out = appendSection(out, sectionImport, sec)
	}

	if len(m.defs) > 0 {
		sec := AppendULEB128(nil, uint32(len(m.defs)))
		for _, d := range m.defs {
			sec = AppendULEB128(sec, d.typeIdx)
		}
		out = appendSection(out, sectionFunction, sec)
	}

	if m.memory != nil {
		sec := AppendULEB128(nil, 1)
		sec = appendLimits(sec, *m.memory)
		out = appendSection(out, sectionMemory, sec)
	}

	if len(m.exports) > 0 {
		sec := AppendULEB128(nil, uint32(len(m.exports)))
		for _, e := range m.exports {
			sec = appendName(sec, e.name)
			sec = append(sec, e.kind)
			sec = AppendULEB128(sec, e.index)
		}
		out = appendSection(out, sectionExport, sec)
	}

	if m.start != nil {
		out = appendSection(out, sectionStart, AppendULEB128(nil, *m.start))
	}

	if len(m.defs) > 0 {
		sec := AppendULEB128(nil, uint32(len(m.defs)))
		for _, d := range m.defs {
			body := appendLocals(nil, d.locals)
			body = append(body, d.body...)
			sec = AppendULEB128(sec, uint32(len(body)))
			sec = append(sec, body...)
		}
		out = appendSection(out, sectionCode, sec)
	}

	if len(m.data) > 0 {
		sec := AppendULEB128(nil, uint32(len(m.data)))
		for _, d := range m.data {
			sec = append(sec, 0x00, opI32Const)
			sec = AppendSLEB128(sec, int64(int32(d.offset)))
			sec = append(sec, opEnd)
			sec = AppendULEB128(sec, uint32(len(d.bytes)))
			sec = append(sec, d.bytes...)
		}
		out = appendSection(out, sectionData, sec)
	}

	return out
}

func appendSection(out []byte, id byte, payload []byte) []byte {
	out = append(out, id)
	out = AppendULEB128(out, uint32(len(payload)))
	return append(out, payload...)
}

func appendValueTypes(buf []byte, ts []api.ValueType) []byte {
	buf = AppendULEB128(buf, uint32(len(ts)))
	for _, t := range ts {
		buf = append(buf, t)
	}
	return buf
}

func appendLimits(buf []byte, l Limits) []byte {
	if l.HasMax {
		buf = append(buf, 0x01)
		buf = AppendULEB128(buf, l.Min)
		return AppendULEB128(buf, l.Max)
	}
	buf = append(buf, 0x00)
	return AppendULEB128(buf, l.Min)
}

// appendLocals groups consecutive locals of the same type.
func appendLocals(buf []byte, locals []api.ValueType) []byte {
	type group struct {
		n uint32
		t api.ValueType
	}
	var groups []group
	for _, t := range locals {
		if len(groups) > 0 && groups[len(groups)-1].t == t {
			groups[len(groups)-1].n++
			continue
		}
		groups = append(groups, group{n: 1, t: t})
	}
	buf = AppendULEB128(buf, uint32(len(groups)))
	for _, g := range groups {
		buf = AppendULEB128(buf, g.n)
		buf = append(buf, g.t)
	}
	return buf
}
