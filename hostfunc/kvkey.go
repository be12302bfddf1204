package hostfunc

import (
	"encoding/binary"
	"errors"
	"fmt"
	"strconv"
)

// KeySize is the width of an encoded key, terminator included.
const KeySize = 16

const keyTemplate = "key: 0000000000"

// keyDigits is how many digits fit between the prefix and the terminator.
const keyDigits = len(keyTemplate) - len("key: ")

var (
	ErrKeyOverflow = errors.New("key number has too many digits")
	ErrBadKey      = errors.New("malformed key")
	ErrBadValue    = errors.New("value must be 4 bytes")
)

// EncodeKey renders n into the fixed "key: 0000000000" template, digits
// right-aligned and followed by a NUL. Every uint32 fits.
func EncodeKey(n uint64) ([KeySize]byte, error) {
	var out [KeySize]byte
	digits := strconv.FormatUint(n, 10)
	if len(digits) > keyDigits {
		return out, fmt.Errorf("%w: %d", ErrKeyOverflow, n)
	}
	copy(out[:], keyTemplate)
	copy(out[len(keyTemplate)-len(digits):], digits)
	return out, nil
}

// DecodeKey parses a key produced by EncodeKey. The terminator is optional.
func DecodeKey(key []byte) (uint64, error) {
	if len(key) == KeySize && key[KeySize-1] == 0 {
		key = key[:KeySize-1]
	}
	if len(key) != len(keyTemplate) || string(key[:len("key: ")]) != "key: " {
		return 0, fmt.Errorf("%w: %q", ErrBadKey, key)
	}
	n, err := strconv.ParseUint(string(key[len("key: "):]), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrBadKey, key)
	}
	return n, nil
}

// EncodeValue is the 4-byte little-endian form of v.
func EncodeValue(v int32) [4]byte {
	var out [4]byte
	binary.LittleEndian.PutUint32(out[:], uint32(v))
	return out
}

func DecodeValue(b []byte) (int32, error) {
	if len(b) != 4 {
		return 0, fmt.Errorf("%w: got %d", ErrBadValue, len(b))
	}
	return int32(binary.LittleEndian.Uint32(b)), nil
}
