// Package memory implements the linear memory shared between the host and a
// sandboxed guest.
//
// Every access is bounds checked against the current size: a read or write
// that would cross the end of memory fails with [ErrOutOfBounds] and touches
// nothing. Direct access to the buffer is scoped to a callback ([Memory.View],
// [Access]) so no slice outlives a [Memory.Grow].
//
//	mem, _ := memory.New(memory.Bounded(1, 4))
//	_ = mem.WriteInt32(16, 12)
//	key, _ := mem.ReadCString(0, 64)
//
// Values crossing the boundary by convention are little-endian and fixed
// width: 4 bytes for a 32-bit integer.
package memory
