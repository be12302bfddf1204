package memory

import (
	"errors"
	"fmt"
)

var ErrArenaExhausted = errors.New("arena exhausted")

// Arena is a bump allocator over a fixed region of a Memory. The host uses it
// to stage buffers it passes into the guest by pointer. It belongs to one
// session and is reset, never freed piecewise.
type Arena struct {
	mem   *Memory
	base  uint32
	limit uint32
	next  uint32
}

// NewArena reserves [base, base+size) of mem. The region must lie inside the
// memory's current size.
func NewArena(mem *Memory, base, size uint32) (*Arena, error) {
	if err := mem.check(base, size); err != nil {
		return nil, fmt.Errorf("arena region: %w", err)
	}
	return &Arena{
		mem:   mem,
		base:  base,
		limit: base + size,
		next:  base,
	}, nil
}

// Alloc reserves n bytes aligned to align (a power of two, 0 or 1 for none)
// and returns the offset.
func (a *Arena) Alloc(n, align uint32) (uint32, error) {
	if align > 1 && align&(align-1) != 0 {
		return 0, fmt.Errorf("arena: alignment %d is not a power of two", align)
	}
	start := uint64(a.next)
	if align > 1 {
		start = (start + uint64(align) - 1) &^ (uint64(align) - 1)
	}
	end := start + uint64(n)
	if end > uint64(a.limit) {
		return 0, fmt.Errorf("%w: need %d bytes, %d left", ErrArenaExhausted, n, a.Remaining())
	}
	a.next = uint32(end)
	return uint32(start), nil
}

// Put copies p into the arena and returns its offset.
func (a *Arena) Put(p []byte) (uint32, error) {
	off, err := a.Alloc(uint32(len(p)), 1)
	if err != nil {
		return 0, err
	}
	if err := a.mem.Write(off, p); err != nil {
		return 0, err
	}
	return off, nil
}

// PutCString copies p followed by a NUL byte.
func (a *Arena) PutCString(p []byte) (uint32, error) {
	buf := make([]byte, len(p)+1)
	copy(buf, p)
	return a.Put(buf)
}

// Remaining returns the free bytes left in the region.
func (a *Arena) Remaining() uint32 {
	return a.limit - a.next
}

// Used returns the bytes handed out since the last Reset.
func (a *Arena) Used() uint32 {
	return a.next - a.base
}

// Reset releases every allocation and zeroes the region that was used.
func (a *Arena) Reset() error {
	if used := a.Used(); used > 0 {
		if err := a.mem.Write(a.base, make([]byte, used)); err != nil {
			return err
		}
	}
	a.next = a.base
	return nil
}
