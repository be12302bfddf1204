package hostfunc

import (
	"context"

	"github.com/caffeineduck/wasmgate/memory"
	"github.com/caffeineduck/wasmgate/trap"
)

// Func handles one guest call. Returning an error aborts the invocation:
// memory.ErrOutOfBounds becomes a MemoryAccessOutOfBounds trap, a *trap.Trap
// passes through unchanged, anything else is a HostSignaledAbort.
type Func func(c *Call) (Value, error)

// Call carries the arguments and the session memory for one host call.
type Call struct {
	ctx    context.Context
	Name   string
	Args   []Value
	Memory *memory.Memory
}

// NewCall builds a call outside of a Table, for tests and direct use.
func NewCall(ctx context.Context, name string, mem *memory.Memory, args ...Value) *Call {
	if mem == nil {
		mem = memory.Empty()
	}
	return &Call{ctx: ctx, Name: name, Args: args, Memory: mem}
}

func (c *Call) Context() context.Context {
	return c.ctx
}

func (c *Call) arg(i int, want ValueKind) (Value, error) {
	if i < 0 || i >= len(c.Args) {
		return Void, trap.Newf(trap.TypeMismatch, "%s: no argument %d", c.Name, i)
	}
	v := c.Args[i]
	if v.Kind() != want {
		return Void, trap.Newf(trap.TypeMismatch, "%s: argument %d is %s, not %s", c.Name, i, v.Kind(), want)
	}
	return v, nil
}

func (c *Call) I32(i int) (int32, error) {
	v, err := c.arg(i, I32)
	if err != nil {
		return 0, err
	}
	n, _ := v.I32()
	return n, nil
}

// U32 reads an i32 argument as unsigned, the usual form of a pointer or length.
func (c *Call) U32(i int) (uint32, error) {
	n, err := c.I32(i)
	return uint32(n), err
}

func (c *Call) I64(i int) (int64, error) {
	v, err := c.arg(i, I64)
	if err != nil {
		return 0, err
	}
	n, _ := v.I64()
	return n, nil
}

func (c *Call) F32(i int) (float32, error) {
	v, err := c.arg(i, F32)
	if err != nil {
		return 0, err
	}
	f, _ := v.F32()
	return f, nil
}

func (c *Call) F64(i int) (float64, error) {
	v, err := c.arg(i, F64)
	if err != nil {
		return 0, err
	}
	f, _ := v.F64()
	return f, nil
}
