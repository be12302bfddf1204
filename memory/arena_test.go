package memory_test

import (
	"testing"

	"github.com/caffeineduck/wasmgate/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestArenaAlloc(t *testing.T) {
	m := newMem(t, memory.Bounded(1, 1))
	a, err := memory.NewArena(m, 1024, 64)
	require.NoError(t, err)

	off, err := a.Alloc(3, 1)
	require.NoError(t, err)
	assert.Equal(t, uint32(1024), off)

	off, err = a.Alloc(4, 8)
	require.NoError(t, err)
	assert.Equal(t, uint32(1032), off)
	assert.Equal(t, uint32(12), a.Used())
	assert.Equal(t, uint32(52), a.Remaining())

	_, err = a.Alloc(4, 3)
	assert.Error(t, err)

	_, err = a.Alloc(64, 1)
	assert.ErrorIs(t, err, memory.ErrArenaExhausted)
}

func TestArenaPut(t *testing.T) {
	m := newMem(t, memory.Bounded(1, 1))
	a, err := memory.NewArena(m, 0, 32)
	require.NoError(t, err)

	off, err := a.PutCString([]byte("key"))
	require.NoError(t, err)

	s, err := m.ReadCString(off, 64)
	require.NoError(t, err)
	assert.Equal(t, "key", string(s))
	assert.Equal(t, uint32(4), a.Used())

	require.NoError(t, a.Reset())
	assert.Equal(t, uint32(0), a.Used())
	b, _ := m.Read(0, 4)
	assert.Equal(t, []byte{0, 0, 0, 0}, b, "reset zeroes the used region")
}

func TestArenaRegionMustFit(t *testing.T) {
	m := newMem(t, memory.Bounded(1, 1))
	_, err := memory.NewArena(m, memory.PageSize-8, 16)
	assert.ErrorIs(t, err, memory.ErrOutOfBounds)
}
