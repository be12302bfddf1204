package memory

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// PageSize is the unit in which linear memory is declared and grown.
const PageSize = 65536

// MaxPages is the largest page count whose byte size still fits in a uint32.
// It is the ceiling for memories that declare no maximum.
const MaxPages = (1<<32 - 1) / PageSize

var (
	ErrOutOfBounds     = errors.New("memory access out of bounds")
	ErrMaximumExceeded = errors.New("memory maximum exceeded")
	ErrInvalidLimits   = errors.New("invalid memory limits")
	ErrSizeMismatch    = errors.New("backing size does not match memory size")
	ErrAlreadyBound    = errors.New("memory already bound")
)

// Limits describes a memory's declared size in pages.
type Limits struct {
	Initial    uint32
	Maximum    uint32
	HasMaximum bool
}

// Bounded returns limits with an explicit maximum.
func Bounded(initial, maximum uint32) Limits {
	return Limits{Initial: initial, Maximum: maximum, HasMaximum: true}
}

// Unbounded returns limits without a declared maximum.
func Unbounded(initial uint32) Limits {
	return Limits{Initial: initial}
}

// Validate reports whether the limits are self-consistent.
func (l Limits) Validate() error {
	if l.Initial > MaxPages {
		return fmt.Errorf("%w: initial %d pages exceeds %d", ErrInvalidLimits, l.Initial, MaxPages)
	}
	if l.HasMaximum {
		if l.Maximum > MaxPages {
			return fmt.Errorf("%w: maximum %d pages exceeds %d", ErrInvalidLimits, l.Maximum, MaxPages)
		}
		if l.Initial > l.Maximum {
			return fmt.Errorf("%w: initial %d > maximum %d", ErrInvalidLimits, l.Initial, l.Maximum)
		}
	}
	return nil
}

// ceiling is the largest page count the memory may ever reach.
func (l Limits) ceiling() uint32 {
	if l.HasMaximum {
		return l.Maximum
	}
	return MaxPages
}

func (l Limits) String() string {
	if l.HasMaximum {
		return fmt.Sprintf("%d..%d pages", l.Initial, l.Maximum)
	}
	return fmt.Sprintf("%d.. pages", l.Initial)
}

// Memory is a bounds-checked linear memory shared by the host and one guest.
//
// A Memory starts out owning its pages. Bind hands them to an engine-owned
// instance so the guest and the host observe a single buffer. A Memory is
// owned by exactly one session and is not safe for concurrent use.
type Memory struct {
	limits  Limits
	backing Backing
	bound   bool
}

// New allocates a memory of limits.Initial pages.
func New(limits Limits) (*Memory, error) {
	if err := limits.Validate(); err != nil {
		return nil, err
	}
	return &Memory{
		limits:  limits,
		backing: newSliceBacking(limits.Initial),
	}, nil
}

// Empty returns a zero-sized memory that can never grow.
func Empty() *Memory {
	return &Memory{
		limits:  Bounded(0, 0),
		backing: newSliceBacking(0),
	}
}

// Limits returns the declared limits.
func (m *Memory) Limits() Limits {
	return m.limits
}

// Size returns the current size in bytes.
func (m *Memory) Size() uint32 {
	return m.backing.Size()
}

// Pages returns the current size in pages.
func (m *Memory) Pages() uint32 {
	return m.Size() / PageSize
}

// Bound reports whether the pages are engine-owned.
func (m *Memory) Bound() bool {
	return m.bound
}

// Bind moves the memory's contents into b and uses b from then on.
// b must have exactly the memory's current size.
func (m *Memory) Bind(b Backing) error {
	if m.bound {
		return ErrAlreadyBound
	}
	if b.Size() != m.Size() {
		return fmt.Errorf("%w: backing %d bytes, memory %d bytes", ErrSizeMismatch, b.Size(), m.Size())
	}
	if m.Size() > 0 {
		cur, _ := m.backing.Read(0, m.Size())
		if !b.Write(0, cur) {
			return fmt.Errorf("%w: copy into backing", ErrOutOfBounds)
		}
	}
	m.backing = b
	m.bound = true
	return nil
}

func (m *Memory) check(offset, length uint32) error {
	if uint64(offset)+uint64(length) > uint64(m.Size()) {
		return fmt.Errorf("%w: offset %d length %d size %d", ErrOutOfBounds, offset, length, m.Size())
	}
	return nil
}

// Read returns a copy of length bytes at offset.
func (m *Memory) Read(offset, length uint32) ([]byte, error) {
	if err := m.check(offset, length); err != nil {
		return nil, err
	}
	view, ok := m.backing.Read(offset, length)
	if !ok {
		return nil, fmt.Errorf("%w: offset %d length %d", ErrOutOfBounds, offset, length)
	}
	out := make([]byte, len(view))
	copy(out, view)
	return out, nil
}

// Write copies p to offset. Nothing is written when the range is out of bounds.
func (m *Memory) Write(offset uint32, p []byte) error {
	if uint64(len(p)) > uint64(^uint32(0)) {
		return fmt.Errorf("%w: write of %d bytes", ErrOutOfBounds, len(p))
	}
	if err := m.check(offset, uint32(len(p))); err != nil {
		return err
	}
	if !m.backing.Write(offset, p) {
		return fmt.Errorf("%w: offset %d length %d", ErrOutOfBounds, offset, len(p))
	}
	return nil
}

// View calls fn with the whole current buffer. The slice is only valid
// during the call: a later Grow may move the pages.
func (m *Memory) View(fn func(buf []byte)) {
	size := m.Size()
	buf, ok := m.backing.Read(0, size)
	if !ok {
		buf = nil
	}
	fn(buf[:len(buf):len(buf)])
}

// Access runs fn over the whole current buffer and returns its result.
func Access[T any](m *Memory, fn func(buf []byte) T) T {
	var out T
	m.View(func(buf []byte) {
		out = fn(buf)
	})
	return out
}

// ReadCString reads bytes starting at offset until a NUL byte, max bytes,
// or the end of memory, whichever comes first. The terminator is not included.
func (m *Memory) ReadCString(offset, max uint32) ([]byte, error) {
	if offset >= m.Size() {
		return nil, fmt.Errorf("%w: offset %d size %d", ErrOutOfBounds, offset, m.Size())
	}
	return Access(m, func(buf []byte) []byte {
		end := uint64(offset) + uint64(max)
		if end > uint64(len(buf)) {
			end = uint64(len(buf))
		}
		out := make([]byte, 0, end-uint64(offset))
		for i := uint64(offset); i < end && buf[i] != 0; i++ {
			out = append(out, buf[i])
		}
		return out
	}), nil
}

// Grow adds delta pages and returns the new size in bytes. New pages are zeroed.
func (m *Memory) Grow(delta uint32) (uint32, error) {
	cur := m.Pages()
	if uint64(cur)+uint64(delta) > uint64(m.limits.ceiling()) {
		return m.Size(), fmt.Errorf("%w: %d + %d pages > %d", ErrMaximumExceeded, cur, delta, m.limits.ceiling())
	}
	if delta == 0 {
		return m.Size(), nil
	}
	if _, ok := m.backing.Grow(delta); !ok {
		return m.Size(), fmt.Errorf("%w: engine refused %d pages", ErrMaximumExceeded, delta)
	}
	return m.Size(), nil
}

// ReadUint32 reads a little-endian uint32 at offset.
func (m *Memory) ReadUint32(offset uint32) (uint32, error) {
	b, err := m.Read(offset, 4)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b), nil
}

// WriteUint32 writes v little-endian at offset.
func (m *Memory) WriteUint32(offset, v uint32) error {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	return m.Write(offset, b[:])
}

// ReadInt32 reads a little-endian int32 at offset.
func (m *Memory) ReadInt32(offset uint32) (int32, error) {
	v, err := m.ReadUint32(offset)
	return int32(v), err
}

// WriteInt32 writes v little-endian at offset.
func (m *Memory) WriteInt32(offset uint32, v int32) error {
	return m.WriteUint32(offset, uint32(v))
}
