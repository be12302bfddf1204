package wasmbin

import (
	"errors"
	"fmt"
)

// ErrMalformed is returned when a binary cannot be read.
var ErrMalformed = errors.New("wasmbin: malformed module")

// ExternKind is the kind of an import or export.
type ExternKind byte

const (
	ExternFunc   ExternKind = 0x00
	ExternTable  ExternKind = 0x01
	ExternMemory ExternKind = 0x02
	ExternGlobal ExternKind = 0x03
	ExternTag    ExternKind = 0x04
)

func (k ExternKind) String() string {
	switch k {
	case ExternFunc:
		return "func"
	case ExternTable:
		return "table"
	case ExternMemory:
		return "memory"
	case ExternGlobal:
		return "global"
	case ExternTag:
		return "tag"
	}
	return fmt.Sprintf("extern(%#x)", byte(k))
}

// Import is one entry of the import section.
type Import struct {
	Module string
	Name   string
	Kind   ExternKind
}

// ReadImports lists every import of binary in declaration order. Sections
// other than the import section are skipped unread.
func ReadImports(binary []byte) ([]Import, error) {
	if len(binary) < 8 || string(binary[:4]) != "\x00asm" {
		return nil, fmt.Errorf("%w: bad header", ErrMalformed)
	}
	r := &reader{buf: binary, pos: 8}

	for r.pos < len(r.buf) {
		id, err := r.readByte()
		if err != nil {
			return nil, err
		}
		size, err := r.u32()
		if err != nil {
			return nil, err
		}
		end := r.pos + int(size)
		if end > len(r.buf) {
			return nil, fmt.Errorf("%w: section %d overruns the binary", ErrMalformed, id)
		}
		if id != sectionImport {
			r.pos = end
			continue
		}
		sec := &reader{buf: r.buf[:end], pos: r.pos}
		return sec.imports()
	}
	return nil, nil
}

func (r *reader) imports() ([]Import, error) {
	n, err := r.u32()
	if err != nil {
		return nil, err
	}
	out := make([]Import, 0, n)
	for i := uint32(0); i < n; i++ {
		mod, err := r.name()
		if err != nil {
			return nil, err
		}
		name, err := r.name()
		if err != nil {
			return nil, err
		}
		kind, err := r.readByte()
		if err != nil {
			return nil, err
		}
		if err := r.skipDesc(ExternKind(kind)); err != nil {
			return nil, fmt.Errorf("import %s.%s: %w", mod, name, err)
		}
		out = append(out, Import{Module: mod, Name: name, Kind: ExternKind(kind)})
	}
	return out, nil
}

func (r *reader) skipDesc(kind ExternKind) error {
	switch kind {
	case ExternFunc:
		_, err := r.u64()
		return err
	case ExternTable:
		if _, err := r.readByte(); err != nil {
			return err
		}
		return r.skipLimits()
	case ExternMemory:
		return r.skipLimits()
	case ExternGlobal:
		if _, err := r.readByte(); err != nil {
			return err
		}
		_, err := r.readByte()
		return err
	case ExternTag:
		if _, err := r.readByte(); err != nil {
			return err
		}
		_, err := r.u64()
		return err
	}
	return fmt.Errorf("%w: unknown import kind %#x", ErrMalformed, byte(kind))
}

func (r *reader) skipLimits() error {
	flags, err := r.readByte()
	if err != nil {
		return err
	}
	if _, err := r.u64(); err != nil {
		return err
	}
	if flags&0x01 != 0 {
		_, err = r.u64()
	}
	return err
}

type reader struct {
	buf []byte
	pos int
}

func (r *reader) readByte() (byte, error) {
	if r.pos >= len(r.buf) {
		return 0, fmt.Errorf("%w: unexpected end at %d", ErrMalformed, r.pos)
	}
	b := r.buf[r.pos]
	r.pos++
	return b, nil
}

func (r *reader) u64() (uint64, error) {
	v, n, err := ReadULEB128(r.buf[r.pos:])
	if err != nil {
		return 0, err
	}
	r.pos += n
	return v, nil
}

func (r *reader) u32() (uint32, error) {
	v, err := r.u64()
	if err != nil {
		return 0, err
	}
	if v > 0xffffffff {
		return 0, fmt.Errorf("%w: %d overflows u32", ErrMalformed, v)
	}
	return uint32(v), nil
}

func (r *reader) name() (string, error) {
	n, err := r.u32()
	if err != nil {
		return "", err
	}
	if int(n) > len(r.buf)-r.pos {
		return "", fmt.Errorf("%w: name overruns the section", ErrMalformed)
	}
	s := string(r.buf[r.pos : r.pos+int(n)])
	r.pos += int(n)
	return s, nil
}
