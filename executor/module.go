package executor

import (
	"fmt"
	"sort"

	"github.com/caffeineduck/wasmgate/hostfunc"
	"github.com/caffeineduck/wasmgate/internal/wasmbin"
	"github.com/caffeineduck/wasmgate/memory"
	"github.com/tetratelabs/wazero"
)

// Program is a guest binary with a stable name, used as its cache key.
type Program interface {
	// Name returns a unique identifier, e.g. "kvstore".
	Name() string

	// Module returns the wasm binary.
	Module() []byte
}

// ImportKind is what an import asks for.
type ImportKind int

const (
	ImportFunc ImportKind = iota
	ImportMemory
	// ImportTable, ImportGlobal and ImportTag are recorded so they can be
	// refused; no namespace provides them.
	ImportTable
	ImportGlobal
	ImportTag
)

func (k ImportKind) String() string {
	switch k {
	case ImportMemory:
		return "memory"
	case ImportTable:
		return "table"
	case ImportGlobal:
		return "global"
	case ImportTag:
		return "tag"
	}
	return "func"
}

var otherImportKinds = map[wasmbin.ExternKind]ImportKind{
	wasmbin.ExternTable:  ImportTable,
	wasmbin.ExternGlobal: ImportGlobal,
	wasmbin.ExternTag:    ImportTag,
}

// ImportRequest is one import declared by a module. Signature is set for
// functions, Limits for memories. Err is set when the declared function
// type cannot cross the boundary at all.
type ImportRequest struct {
	Namespace string
	Field     string
	Kind      ImportKind
	Signature hostfunc.Signature
	Limits    memory.Limits
	Err       error
}

// Module is a parsed and validated guest. It is immutable and may be shared
// by any number of sessions.
type Module struct {
	name     string
	binary   []byte
	compiled wazero.CompiledModule
	imports  []ImportRequest
	exports  map[string]hostfunc.Signature
}

func newModule(name string, binary []byte, compiled wazero.CompiledModule) (*Module, error) {
	m := &Module{
		name:     name,
		binary:   binary,
		compiled: compiled,
		exports:  make(map[string]hostfunc.Signature),
	}

	for _, def := range compiled.ImportedFunctions() {
		ns, field, _ := def.Import()
		sig, err := hostfunc.SignatureOf(def.ParamTypes(), def.ResultTypes())
		m.imports = append(m.imports, ImportRequest{
			Namespace: ns,
			Field:     field,
			Kind:      ImportFunc,
			Signature: sig,
			Err:       err,
		})
	}

	for _, def := range compiled.ImportedMemories() {
		ns, field, _ := def.Import()
		limits := memory.Unbounded(def.Min())
		if max, ok := def.Max(); ok {
			limits = memory.Bounded(def.Min(), max)
		}
		m.imports = append(m.imports, ImportRequest{
			Namespace: ns,
			Field:     field,
			Kind:      ImportMemory,
			Limits:    limits,
		})
	}

	// The engine only reports imported functions and memories.
	declared, err := wasmbin.ReadImports(binary)
	if err != nil {
		return nil, err
	}
	for _, imp := range declared {
		if kind, ok := otherImportKinds[imp.Kind]; ok {
			m.imports = append(m.imports, ImportRequest{
				Namespace: imp.Module,
				Field:     imp.Name,
				Kind:      kind,
			})
		}
	}

	for name, def := range compiled.ExportedFunctions() {
		sig, err := hostfunc.SignatureOf(def.ParamTypes(), def.ResultTypes())
		if err != nil {
			continue
		}
		m.exports[name] = sig
	}

	return m, nil
}

func (m *Module) Name() string {
	return m.name
}

// Imports returns the declared imports: functions, then memories, then
// tables, globals and tags in declaration order.
func (m *Module) Imports() []ImportRequest {
	out := make([]ImportRequest, len(m.imports))
	copy(out, m.imports)
	return out
}

// Exports returns the exported functions whose signatures can be invoked.
func (m *Module) Exports() map[string]hostfunc.Signature {
	out := make(map[string]hostfunc.Signature, len(m.exports))
	for name, sig := range m.exports {
		out[name] = sig
	}
	return out
}

// ExportNames returns the invocable exports in sorted order.
func (m *Module) ExportNames() []string {
	names := make([]string, 0, len(m.exports))
	for name := range m.exports {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (m *Module) String() string {
	return fmt.Sprintf("%s (%d imports, %d exports)", m.name, len(m.imports), len(m.exports))
}
