package memory

// Backing is the storage behind a Memory. wazero's api.Memory satisfies it,
// which is how a resolved memory is handed over to the engine.
type Backing interface {
	// Size returns the size in bytes.
	Size() uint32
	// Read returns a view of byteCount bytes at offset.
	Read(offset, byteCount uint32) ([]byte, bool)
	// Write copies v to offset.
	Write(offset uint32, v []byte) bool
	// Grow adds deltaPages zeroed pages and returns the previous page count.
	Grow(deltaPages uint32) (uint32, bool)
}

// sliceBacking is a host-owned buffer used before a memory is bound and for
// placeholders that never reach the engine.
type sliceBacking struct {
	buf []byte
}

func newSliceBacking(pages uint32) *sliceBacking {
	return &sliceBacking{buf: make([]byte, int(pages)*PageSize)}
}

func (s *sliceBacking) Size() uint32 {
	return uint32(len(s.buf))
}

func (s *sliceBacking) Read(offset, byteCount uint32) ([]byte, bool) {
	end := uint64(offset) + uint64(byteCount)
	if end > uint64(len(s.buf)) {
		return nil, false
	}
	return s.buf[offset:end:end], true
}

func (s *sliceBacking) Write(offset uint32, v []byte) bool {
	end := uint64(offset) + uint64(len(v))
	if end > uint64(len(s.buf)) {
		return false
	}
	copy(s.buf[offset:end], v)
	return true
}

func (s *sliceBacking) Grow(deltaPages uint32) (uint32, bool) {
	prev := uint32(len(s.buf) / PageSize)
	if uint64(prev)+uint64(deltaPages) > MaxPages {
		return prev, false
	}
	grown := make([]byte, len(s.buf)+int(deltaPages)*PageSize)
	copy(grown, s.buf)
	s.buf = grown
	return prev, true
}
