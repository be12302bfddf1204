package wasmbin

import "fmt"

// AppendULEB128 appends v in unsigned LEB128.
func AppendULEB128(buf []byte, v uint32) []byte {
	for {
		b := byte(v & 0x7f)
		v >>= 7
		if v != 0 {
			b |= 0x80
		}
		buf = append(buf, b)
		if v == 0 {
			return buf
		}
	}
}

// AppendSLEB128 appends v in signed LEB128.
func AppendSLEB128(buf []byte, v int64) []byte {
	for {
		b := byte(v & 0x7f)
		v >>= 7
		done := (v == 0 && b&0x40 == 0) || (v == -1 && b&0x40 != 0)
		if !done {
			b |= 0x80
		}
		buf = append(buf, b)
		if done {
			return buf
		}
	}
}

func appendName(buf []byte, s string) []byte {
	buf = AppendULEB128(buf, uint32(len(s)))
	return append(buf, s...)
}

// ReadULEB128 decodes an unsigned LEB128 value of at most 64 bits from the
// front of buf and returns it with the number of bytes read.
func ReadULEB128(buf []byte) (uint64, int, error) {
	var v uint64
	for i, b := range buf {
		if i == 10 {
			break
		}
		v |= uint64(b&0x7f) << (7 * uint(i))
		if b&0x80 == 0 {
			return v, i + 1, nil
		}
	}
	return 0, 0, fmt.Errorf("%w: truncated or overlong LEB128", ErrMalformed)
}
