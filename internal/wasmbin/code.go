package wasmbin

import (
	"math"

	"github.com/tetratelabs/wazero/api"
)

const (
	opUnreachable = 0x00
	opBlock       = 0x02
	opLoop        = 0x03
	opIf          = 0x04
	opElse        = 0x05
	opEnd         = 0x0b
	opBr          = 0x0c
	opBrIf        = 0x0d
	opReturn      = 0x0f
	opCall        = 0x10
	opDrop        = 0x1a
	opLocalGet    = 0x20
	opLocalSet    = 0x21
	opLocalTee    = 0x22
	opI32Load     = 0x28
	opI32Store    = 0x36
	opI32Store8   = 0x3a
	opMemorySize  = 0x3f
	opMemoryGrow  = 0x40
	opI32Const    = 0x41
	opI64Const    = 0x42
	opF32Const    = 0x43
	opF64Const    = 0x44
	opI32Eqz      = 0x45
	opI32Eq       = 0x46
	opI32Ne       = 0x47
	opI32LtS      = 0x48
	opI32GeS      = 0x4e
	opI32Add      = 0x6a
	opI32Sub      = 0x6b
	opI32Mul      = 0x6c
	opI32DivS     = 0x6d
	opI32DivU     = 0x6e
	opI32RemU     = 0x70
	opI64Add      = 0x7c

	blockEmpty = 0x40
)

// Code builds a function body. The final end is added by Bytes.
type Code struct {
	buf []byte
}

func NewCode() *Code {
	return &Code{}
}

func (c *Code) op(b ...byte) *Code {
	c.buf = append(c.buf, b...)
	return c
}

func (c *Code) idx(op byte, i uint32) *Code {
	c.buf = append(c.buf, op)
	c.buf = AppendULEB128(c.buf, i)
	return c
}

func (c *Code) memarg(op byte, align, offset uint32) *Code {
	c.buf = append(c.buf, op)
	c.buf = AppendULEB128(c.buf, align)
	c.buf = AppendULEB128(c.buf, offset)
	return c
}

func (c *Code) Unreachable() *Code      { return c.op(opUnreachable) }
func (c *Code) Return() *Code           { return c.op(opReturn) }
func (c *Code) Drop() *Code             { return c.op(opDrop) }
func (c *Code) End() *Code              { return c.op(opEnd) }
func (c *Code) Else() *Code             { return c.op(opElse) }
func (c *Code) Call(fn uint32) *Code    { return c.idx(opCall, fn) }
func (c *Code) LocalGet(i uint32) *Code { return c.idx(opLocalGet, i) }
func (c *Code) LocalSet(i uint32) *Code { return c.idx(opLocalSet, i) }
func (c *Code) LocalTee(i uint32) *Code { return c.idx(opLocalTee, i) }
func (c *Code) Br(depth uint32) *Code   { return c.idx(opBr, depth) }
func (c *Code) BrIf(depth uint32) *Code { return c.idx(opBrIf, depth) }

// Block opens a block without a result.
func (c *Code) Block() *Code { return c.op(opBlock, blockEmpty) }

// Loop opens a loop without a result.
func (c *Code) Loop() *Code { return c.op(opLoop, blockEmpty) }

// If opens an if without a result.
func (c *Code) If() *Code { return c.op(opIf, blockEmpty) }

// IfResult opens an if whose arms leave one value of type t.
func (c *Code) IfResult(t api.ValueType) *Code { return c.op(opIf, t) }

func (c *Code) I32Const(v int32) *Code {
	c.buf = append(c.buf, opI32Const)
	c.buf = AppendSLEB128(c.buf, int64(v))
	return c
}

func (c *Code) I64Const(v int64) *Code {
	c.buf = append(c.buf, opI64Const)
	c.buf = AppendSLEB128(c.buf, v)
	return c
}

func (c *Code) F32Const(v float32) *Code {
	bits := math.Float32bits(v)
	return c.op(opF32Const, byte(bits), byte(bits>>8), byte(bits>>16), byte(bits>>24))
}

func (c *Code) F64Const(v float64) *Code {
	bits := math.Float64bits(v)
	c.buf = append(c.buf, opF64Const)
	for i := 0; i < 8; i++ {
		c.buf = append(c.buf, byte(bits>>(8*i)))
	}
	return c
}

func (c *Code) I32Eqz() *Code  { return c.op(opI32Eqz) }
func (c *Code) I32Eq() *Code   { return c.op(opI32Eq) }
func (c *Code) I32Ne() *Code   { return c.op(opI32Ne) }
func (c *Code) I32LtS() *Code  { return c.op(opI32LtS) }
func (c *Code) I32GeS() *Code  { return c.op(opI32GeS) }
func (c *Code) I32Add() *Code  { return c.op(opI32Add) }
func (c *Code) I32Sub() *Code  { return c.op(opI32Sub) }
func (c *Code) I32Mul() *Code  { return c.op(opI32Mul) }
func (c *Code) I32DivS() *Code { return c.op(opI32DivS) }
func (c *Code) I32DivU() *Code { return c.op(opI32DivU) }
func (c *Code) I32RemU() *Code { return c.op(opI32RemU) }
func (c *Code) I64Add() *Code  { return c.op(opI64Add) }

// I32Load loads from the address on the stack plus offset.
func (c *Code) I32Load(offset uint32) *Code { return c.memarg(opI32Load, 2, offset) }

// I32Store stores to the address on the stack plus offset.
func (c *Code) I32Store(offset uint32) *Code { return c.memarg(opI32Store, 2, offset) }

// I32Store8 stores the low byte to the address on the stack plus offset.
func (c *Code) I32Store8(offset uint32) *Code { return c.memarg(opI32Store8, 0, offset) }

func (c *Code) MemorySize() *Code { return c.op(opMemorySize, 0x00) }
func (c *Code) MemoryGrow() *Code { return c.op(opMemoryGrow, 0x00) }

// Bytes returns the body terminated by end.
func (c *Code) Bytes() []byte {
	out := make([]byte, len(c.buf), len(c.buf)+1)
	copy(out, c.buf)
	return append(out, opEnd)
}
