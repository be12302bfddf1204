package wasmbin

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
)

var i32 = []api.ValueType{api.ValueTypeI32}

func TestULEB128(t *testing.T) {
	tests := []struct {
		v    uint32
		want []byte
	}{
		{0, []byte{0x00}},
		{127, []byte{0x7f}},
		{128, []byte{0x80, 0x01}},
		{624485, []byte{0xe5, 0x8e, 0x26}},
		{0xffffffff, []byte{0xff, 0xff, 0xff, 0xff, 0x0f}},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, AppendULEB128(nil, tt.v), "%d", tt.v)
	}
}

func TestSLEB128(t *testing.T) {
	tests := []struct {
		v    int64
		want []byte
	}{
		{0, []byte{0x00}},
		{63, []byte{0x3f}},
		{64, []byte{0xc0, 0x00}},
		{-1, []byte{0x7f}},
		{-64, []byte{0x40}},
		{-65, []byte{0xbf, 0x7f}},
		{-123456, []byte{0xc0, 0xbb, 0x78}},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, AppendSLEB128(nil, tt.v), "%d", tt.v)
	}
}

func TestTypesAreShared(t *testing.T) {
	m := New()
	m.ImportFunc("env", "a", i32, i32)
	m.ImportFunc("env", "b", i32, i32)
	m.ImportFunc("env", "c", nil, nil)
	assert.Len(t, m.types, 2)
}

func TestImportAfterDefinitionPanics(t *testing.T) {
	m := New()
	m.Func(nil, nil, nil, NewCode())
	assert.Panics(t, func() { m.ImportFunc("env", "late", nil, nil) })
}

func instantiate(t *testing.T, ctx context.Context, r wazero.Runtime, bin []byte) api.Module {
	t.Helper()
	mod, err := r.Instantiate(ctx, bin)
	require.NoError(t, err)
	return mod
}

func TestEncodedModuleRuns(t *testing.T) {
	ctx := context.Background()
	r := wazero.NewRuntimeWithConfig(ctx, wazero.NewRuntimeConfigInterpreter())
	defer r.Close(ctx)

	m := New()
	m.Memory(Limits{Min: 1, Max: 2, HasMax: true})
	m.Data(8, []byte{42, 0, 0, 0})

	// sum(n) = n + (n-1) + ... + 1, using a loop and a local.
	sum := NewCode().
		Block().Loop().
		LocalGet(0).I32Eqz().BrIf(1).
		LocalGet(1).LocalGet(0).I32Add().LocalSet(1).
		LocalGet(0).I32Const(1).I32Sub().LocalSet(0).
		Br(0).
		End().End().
		LocalGet(1)
	m.ExportFunc("sum", m.Func(i32, i32, []api.ValueType{api.ValueTypeI32}, sum))

	load := NewCode().LocalGet(0).I32Load(0)
	m.ExportFunc("load", m.Func(i32, i32, nil, load))

	pick := NewCode().
		LocalGet(0).IfResult(api.ValueTypeI32).
		I32Const(-7).
		Else().
		I32Const(300).
		End()
	m.ExportFunc("pick", m.Func(i32, i32, nil, pick))
	m.ExportMemory("memory")

	mod := instantiate(t, ctx, r, m.Encode())

	res, err := mod.ExportedFunction("sum").Call(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, uint64(55), res[0])

	res, err = mod.ExportedFunction("load").Call(ctx, 8)
	require.NoError(t, err)
	assert.Equal(t, uint64(42), res[0])

	res, err = mod.ExportedFunction("pick").Call(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, int32(-7), api.DecodeI32(res[0]))

	mem := mod.ExportedMemory("memory")
	require.NotNil(t, mem)
	assert.Equal(t, uint32(65536), mem.Size())
	max, ok := mem.Definition().Max()
	assert.True(t, ok)
	assert.Equal(t, uint32(2), max)
}

func TestEncodedImports(t *testing.T) {
	ctx := context.Background()
	r := wazero.NewRuntimeWithConfig(ctx, wazero.NewRuntimeConfigInterpreter())
	defer r.Close(ctx)

	_, err := r.NewHostModuleBuilder("env").
		NewFunctionBuilder().
		WithFunc(func(x uint32) uint32 { return x * 2 }).
		Export("mult_two").
		Instantiate(ctx)
	require.NoError(t, err)

	m := New()
	double := m.ImportFunc("env", "mult_two", i32, i32)
	quad := NewCode().LocalGet(0).Call(double).Call(double)
	m.ExportFunc("mult_four", m.Func(i32, i32, nil, quad))

	f32 := []api.ValueType{api.ValueTypeF32}
	m.ExportFunc("half", m.Func(f32, f32, nil, NewCode().F32Const(0.5)))

	mod := instantiate(t, ctx, r, m.Encode())
	res, err := mod.ExportedFunction("mult_four").Call(ctx, 6)
	require.NoError(t, err)
	assert.Equal(t, uint64(24), res[0])

	res, err = mod.ExportedFunction("half").Call(ctx, api.EncodeF32(3))
	require.NoError(t, err)
	assert.Equal(t, float32(0.5), api.DecodeF32(res[0]))
}

func TestStartRunsOnInstantiate(t *testing.T) {
	ctx := context.Background()
	r := wazero.NewRuntimeWithConfig(ctx, wazero.NewRuntimeConfigInterpreter())
	defer r.Close(ctx)

	m := New()
	m.Start(m.Func(nil, nil, nil, NewCode().Unreachable()))

	_, err := r.Instantiate(ctx, m.Encode())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unreachable")
}

func TestReadULEB128(t *testing.T) {
	for _, v := range []uint32{0, 1, 127, 128, 624485, 0xffffffff} {
		got, n, err := ReadULEB128(AppendULEB128(nil, v))
		require.NoError(t, err)
		assert.Equal(t, uint64(v), got)
		assert.Equal(t, len(AppendULEB128(nil, v)), n)
	}

	_, _, err := ReadULEB128([]byte{0x80, 0x80})
	assert.ErrorIs(t, err, ErrMalformed)
}

func TestReadImports(t *testing.T) {
	m := New()
	m.ImportFunc("env", "mult_two", i32, i32)
	m.ImportMemory("env", "memory", Limits{Min: 1, Max: 4, HasMax: true})
	m.ImportTable("env", "table", Limits{Min: 1})
	m.ImportGlobal("env", "g", api.ValueTypeI64)
	m.ExportFunc("id", m.Func(i32, i32, nil, NewCode().LocalGet(0)))

	imports, err := ReadImports(m.Encode())
	require.NoError(t, err)
	assert.Equal(t, []Import{
		{Module: "env", Name: "mult_two", Kind: ExternFunc},
		{Module: "env", Name: "memory", Kind: ExternMemory},
		{Module: "env", Name: "table", Kind: ExternTable},
		{Module: "env", Name: "g", Kind: ExternGlobal},
	}, imports)
}

func TestReadImportsCompilesWithEngine(t *testing.T) {
	ctx := context.Background()
	r := wazero.NewRuntimeWithConfig(ctx, wazero.NewRuntimeConfigInterpreter())
	defer r.Close(ctx)

	m := New()
	m.ImportGlobal("env", "g", api.ValueTypeI32)
	m.ImportTable("env", "t", Limits{Min: 1, Max: 1, HasMax: true})

	_, err := r.CompileModule(ctx, m.Encode())
	require.NoError(t, err)
}

func TestReadImportsNone(t *testing.T) {
	m := New()
	m.ExportFunc("id", m.Func(i32, i32, nil, NewCode().LocalGet(0)))

	imports, err := ReadImports(m.Encode())
	require.NoError(t, err)
	assert.Empty(t, imports)
}

func TestReadImportsMalformed(t *testing.T) {
	_, err := ReadImports([]byte("not wasm"))
	assert.ErrorIs(t, err, ErrMalformed)

	m := New()
	m.ImportGlobal("env", "g", api.ValueTypeI32)
	bin := m.Encode()
	_, err = ReadImports(bin[:len(bin)-2])
	assert.ErrorIs(t, err, ErrMalformed)
}
