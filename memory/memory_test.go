package memory_test

import (
	"testing"

	"github.com/caffeineduck/wasmgate/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMem(t *testing.T, l memory.Limits) *memory.Memory {
	t.Helper()
	m, err := memory.New(l)
	require.NoError(t, err)
	return m
}

func TestLimitsValidate(t *testing.T) {
	assert.NoError(t, memory.Bounded(1, 16).Validate())
	assert.NoError(t, memory.Unbounded(0).Validate())
	assert.ErrorIs(t, memory.Bounded(2, 1).Validate(), memory.ErrInvalidLimits)
	assert.ErrorIs(t, memory.Unbounded(memory.MaxPages+1).Validate(), memory.ErrInvalidLimits)
	assert.ErrorIs(t, memory.Bounded(0, memory.MaxPages+1).Validate(), memory.ErrInvalidLimits)

	assert.Equal(t, "1..16 pages", memory.Bounded(1, 16).String())
	assert.Equal(t, "2.. pages", memory.Unbounded(2).String())
}

func TestNewSize(t *testing.T) {
	m := newMem(t, memory.Bounded(2, 4))
	assert.Equal(t, uint32(2*memory.PageSize), m.Size())
	assert.Equal(t, uint32(2), m.Pages())
	assert.False(t, m.Bound())

	e := memory.Empty()
	assert.Equal(t, uint32(0), e.Size())
	assert.Equal(t, memory.Bounded(0, 0), e.Limits())
}

func TestReadWrite(t *testing.T) {
	m := newMem(t, memory.Bounded(1, 1))

	require.NoError(t, m.Write(10, []byte("hello")))
	got, err := m.Read(10, 5)
	require.NoError(t, err)
	assert.Equal(t, []byte("hello"), got)

	got[0] = 'j'
	again, _ := m.Read(10, 5)
	assert.Equal(t, []byte("hello"), again, "Read must return a copy")
}

func TestBoundaries(t *testing.T) {
	m := newMem(t, memory.Bounded(1, 1))
	end := uint32(memory.PageSize)

	_, err := m.Read(end-4, 4)
	assert.NoError(t, err)
	_, err = m.Read(end, 0)
	assert.NoError(t, err)

	_, err = m.Read(end-3, 4)
	assert.ErrorIs(t, err, memory.ErrOutOfBounds)
	_, err = m.Read(^uint32(0), 2)
	assert.ErrorIs(t, err, memory.ErrOutOfBounds, "offset+length must not wrap")
}

func TestWriteIsAllOrNothing(t *testing.T) {
	m := newMem(t, memory.Bounded(1, 1))
	end := uint32(memory.PageSize)

	err := m.Write(end-2, []byte{1, 2, 3, 4})
	assert.ErrorIs(t, err, memory.ErrOutOfBounds)

	tail, err := m.Read(end-2, 2)
	require.NoError(t, err)
	assert.Equal(t, []byte{0, 0}, tail)
}

func TestReadCString(t *testing.T) {
	m := newMem(t, memory.Bounded(1, 1))
	require.NoError(t, m.Write(0, []byte("key: 0000001000\x00garbage")))

	s, err := m.ReadCString(0, 64)
	require.NoError(t, err)
	assert.Equal(t, "key: 0000001000", string(s))

	s, err = m.ReadCString(0, 3)
	require.NoError(t, err)
	assert.Equal(t, "key", string(s))

	end := uint32(memory.PageSize)
	require.NoError(t, m.Write(end-3, []byte("abc")))
	s, err = m.ReadCString(end-3, 64)
	require.NoError(t, err)
	assert.Equal(t, "abc", string(s), "stops at end of memory")

	_, err = m.ReadCString(end, 64)
	assert.ErrorIs(t, err, memory.ErrOutOfBounds)
}

func TestGrow(t *testing.T) {
	m := newMem(t, memory.Bounded(1, 3))
	require.NoError(t, m.Write(100, []byte{7}))

	size, err := m.Grow(2)
	require.NoError(t, err)
	assert.Equal(t, uint32(3*memory.PageSize), size)

	b, _ := m.Read(100, 1)
	assert.Equal(t, []byte{7}, b, "bytes survive growth")
	b, _ = m.Read(2*memory.PageSize, 4)
	assert.Equal(t, []byte{0, 0, 0, 0}, b, "new pages are zeroed")

	size, err = m.Grow(1)
	assert.ErrorIs(t, err, memory.ErrMaximumExceeded)
	assert.Equal(t, uint32(3*memory.PageSize), size)

	size, err = m.Grow(0)
	require.NoError(t, err)
	assert.Equal(t, uint32(3*memory.PageSize), size)
}

func TestGrowUnboundedCeiling(t *testing.T) {
	m := newMem(t, memory.Unbounded(0))
	_, err := m.Grow(memory.MaxPages + 1)
	assert.ErrorIs(t, err, memory.ErrMaximumExceeded)
}

func TestIntegers(t *testing.T) {
	m := newMem(t, memory.Bounded(1, 1))

	require.NoError(t, m.WriteInt32(32, 12))
	raw, _ := m.Read(32, 4)
	assert.Equal(t, []byte{12, 0, 0, 0}, raw)

	require.NoError(t, m.WriteInt32(36, -1))
	v, err := m.ReadInt32(36)
	require.NoError(t, err)
	assert.Equal(t, int32(-1), v)

	u, err := m.ReadUint32(36)
	require.NoError(t, err)
	assert.Equal(t, uint32(0xffffffff), u)

	_, err = m.ReadInt32(memory.PageSize - 3)
	assert.ErrorIs(t, err, memory.ErrOutOfBounds)
}

func TestAccessIsClamped(t *testing.T) {
	m := newMem(t, memory.Bounded(1, 2))

	n := memory.Access(m, func(buf []byte) int {
		assert.Equal(t, len(buf), cap(buf))
		return len(buf)
	})
	assert.Equal(t, memory.PageSize, n)

	m.View(func(buf []byte) {
		buf[5] = 42
	})
	b, _ := m.Read(5, 1)
	assert.Equal(t, []byte{42}, b)
}

// fakeBacking stands in for an engine-owned memory.
type fakeBacking struct {
	buf []byte
}

func (f *fakeBacking) Size() uint32 { return uint32(len(f.buf)) }

func (f *fakeBacking) Read(off, n uint32) ([]byte, bool) {
	if uint64(off)+uint64(n) > uint64(len(f.buf)) {
		return nil, false
	}
	return f.buf[off : off+n], true
}

func (f *fakeBacking) Write(off uint32, p []byte) bool {
	if uint64(off)+uint64(len(p)) > uint64(len(f.buf)) {
		return false
	}
	copy(f.buf[off:], p)
	return true
}

func (f *fakeBacking) Grow(delta uint32) (uint32, bool) {
	prev := uint32(len(f.buf) / memory.PageSize)
	f.buf = append(f.buf, make([]byte, int(delta)*memory.PageSize)...)
	return prev, true
}

func TestBind(t *testing.T) {
	m := newMem(t, memory.Bounded(1, 2))
	require.NoError(t, m.WriteInt32(0, 5))

	engine := &fakeBacking{buf: make([]byte, memory.PageSize)}
	require.NoError(t, m.Bind(engine))
	assert.True(t, m.Bound())

	v, err := m.ReadInt32(0)
	require.NoError(t, err)
	assert.Equal(t, int32(5), v, "contents move into the backing")

	engine.buf[4] = 9
	b, _ := m.Read(4, 1)
	assert.Equal(t, []byte{9}, b, "host observes guest writes")

	_, err = m.Grow(1)
	require.NoError(t, err)
	assert.Equal(t, 2*memory.PageSize, len(engine.buf))

	assert.ErrorIs(t, m.Bind(engine), memory.ErrAlreadyBound)
}

func TestBindSizeMismatch(t *testing.T) {
	m := newMem(t, memory.Bounded(1, 2))
	err := m.Bind(&fakeBacking{buf: make([]byte, 2*memory.PageSize)})
	assert.ErrorIs(t, err, memory.ErrSizeMismatch)
	assert.False(t, m.Bound())
}
