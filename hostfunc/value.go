package hostfunc

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/tetratelabs/wazero/api"
)

// ValueKind is the type of a value crossing the guest boundary.
// None only ever describes a missing result.
type ValueKind uint8

const (
	None ValueKind = iota
	I32
	I64
	F32
	F64
)

func (k ValueKind) String() string {
	switch k {
	case None:
		return "none"
	case I32:
		return "i32"
	case I64:
		return "i64"
	case F32:
		return "f32"
	case F64:
		return "f64"
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

// KindOf converts an engine value type. The second result is false for
// reference types, which never cross this boundary.
func KindOf(t api.ValueType) (ValueKind, bool) {
	switch t {
	case api.ValueTypeI32:
		return I32, true
	case api.ValueTypeI64:
		return I64, true
	case api.ValueTypeF32:
		return F32, true
	case api.ValueTypeF64:
		return F64, true
	}
	return None, false
}

// ValueType converts k to the engine's value type.
func (k ValueKind) ValueType() api.ValueType {
	switch k {
	case I64:
		return api.ValueTypeI64
	case F32:
		return api.ValueTypeF32
	case F64:
		return api.ValueTypeF64
	}
	return api.ValueTypeI32
}

// Value is a tagged scalar. Accessors never coerce between kinds.
type Value struct {
	kind ValueKind
	bits uint64
}

// Void is the result of a function without one.
var Void = Value{}

func ValueI32(v int32) Value   { return Value{kind: I32, bits: api.EncodeI32(v)} }
func ValueI64(v int64) Value   { return Value{kind: I64, bits: api.EncodeI64(v)} }
func ValueF32(v float32) Value { return Value{kind: F32, bits: api.EncodeF32(v)} }
func ValueF64(v float64) Value { return Value{kind: F64, bits: api.EncodeF64(v)} }

// FromRaw rebuilds a value from its stack encoding.
func FromRaw(k ValueKind, raw uint64) Value {
	if k == I32 || k == F32 {
		raw = uint64(uint32(raw))
	}
	return Value{kind: k, bits: raw}
}

func (v Value) Kind() ValueKind { return v.kind }

// Raw returns the stack encoding of v.
func (v Value) Raw() uint64 { return v.bits }

func (v Value) I32() (int32, bool) {
	return api.DecodeI32(v.bits), v.kind == I32
}

func (v Value) I64() (int64, bool) {
	return int64(v.bits), v.kind == I64
}

func (v Value) F32() (float32, bool) {
	return api.DecodeF32(v.bits), v.kind == F32
}

func (v Value) F64() (float64, bool) {
	return api.DecodeF64(v.bits), v.kind == F64
}

func (v Value) String() string {
	switch v.kind {
	case None:
		return "none"
	case I32:
		return "i32:" + strconv.FormatInt(int64(api.DecodeI32(v.bits)), 10)
	case I64:
		return "i64:" + strconv.FormatInt(int64(v.bits), 10)
	case F32:
		return "f32:" + strconv.FormatFloat(float64(api.DecodeF32(v.bits)), 'g', -1, 32)
	case F64:
		return "f64:" + strconv.FormatFloat(api.DecodeF64(v.bits), 'g', -1, 64)
	}
	return v.kind.String()
}

// ParseValue parses the "kind:literal" form produced by String, for example
// "i32:5" or "f64:2.5". A bare integer is read as i32.
func ParseValue(s string) (Value, error) {
	kind, lit, found := strings.Cut(s, ":")
	if !found {
		kind, lit = "i32", s
	}
	switch kind {
	case "i32":
		n, err := strconv.ParseInt(lit, 0, 32)
		if err != nil {
			return Void, fmt.Errorf("parse %q: %w", s, err)
		}
		return ValueI32(int32(n)), nil
	case "i64":
		n, err := strconv.ParseInt(lit, 0, 64)
		if err != nil {
			return Void, fmt.Errorf("parse %q: %w", s, err)
		}
		return ValueI64(n), nil
	case "f32":
		f, err := strconv.ParseFloat(lit, 32)
		if err != nil {
			return Void, fmt.Errorf("parse %q: %w", s, err)
		}
		return ValueF32(float32(f)), nil
	case "f64":
		f, err := strconv.ParseFloat(lit, 64)
		if err != nil {
			return Void, fmt.Errorf("parse %q: %w", s, err)
		}
		return ValueF64(f), nil
	}
	return Void, fmt.Errorf("parse %q: unknown kind %q", s, kind)
}

// Signature is the type of a host function or export.
type Signature struct {
	Params []ValueKind
	Result ValueKind
}

// Sig builds a signature from a result kind and parameter kinds.
func Sig(result ValueKind, params ...ValueKind) Signature {
	return Signature{Params: params, Result: result}
}

// SignatureOf converts engine parameter and result types. It fails on
// multi-value results and reference types.
func SignatureOf(params, results []api.ValueType) (Signature, error) {
	var sig Signature
	for i, p := range params {
		k, ok := KindOf(p)
		if !ok {
			return Signature{}, fmt.Errorf("param %d: unsupported type %s", i, api.ValueTypeName(p))
		}
		sig.Params = append(sig.Params, k)
	}
	switch len(results) {
	case 0:
	case 1:
		k, ok := KindOf(results[0])
		if !ok {
			return Signature{}, fmt.Errorf("result: unsupported type %s", api.ValueTypeName(results[0]))
		}
		sig.Result = k
	default:
		return Signature{}, fmt.Errorf("%d results: multi-value is not supported", len(results))
	}
	return sig, nil
}

// Equal reports whether both signatures have the same params and result.
func (s Signature) Equal(o Signature) bool {
	if len(s.Params) != len(o.Params) || s.Result != o.Result {
		return false
	}
	for i := range s.Params {
		if s.Params[i] != o.Params[i] {
			return false
		}
	}
	return true
}

// ParamTypes returns the params as engine value types.
func (s Signature) ParamTypes() []api.ValueType {
	out := make([]api.ValueType, len(s.Params))
	for i, p := range s.Params {
		out[i] = p.ValueType()
	}
	return out
}

// ResultTypes returns the result as engine value types, empty for None.
func (s Signature) ResultTypes() []api.ValueType {
	if s.Result == None {
		return nil
	}
	return []api.ValueType{s.Result.ValueType()}
}

func (s Signature) String() string {
	parts := make([]string, len(s.Params))
	for i, p := range s.Params {
		parts[i] = p.String()
	}
	out := "(" + strings.Join(parts, ",") + ")"
	if s.Result != None {
		out += " -> " + s.Result.String()
	}
	return out
}
