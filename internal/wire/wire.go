// Package wire implements the fixed-width big-endian pack/unpack codec and
// domain-name validation that every other package in authdnsd builds on.
package wire

import (
	"encoding/binary"
	"errors"
	"fmt"
)

var (
	// ErrBufferTooSmall is returned by Pack when buf cannot hold the
	// requested fields at the given offset.
	ErrBufferTooSmall = errors.New("wire: buffer too small")

	// ErrMalformedName is returned by CheckLenLabel on any label/domain
	// that violates RFC 1035 length or character-class rules.
	ErrMalformedName = errors.New("wire: malformed name")
)

const (
	// MaxLabelLength is the largest a single length-label may be.
	MaxLabelLength = 63
	// MaxNameLength is the largest an encoded name may be, including the
	// terminating zero byte.
	MaxNameLength = 255
)

// validNameByte reports whether b is legal in a DNS label: the LDH set
// (letters, digits, hyphen) plus '*' (wildcard) and '_' (common in SRV/TXT
// owner names, e.g. _sip._tcp).
func validNameByte(b byte) bool {
	switch {
	case b >= 'a' && b <= 'z':
		return true
	case b >= 'A' && b <= 'Z':
		return true
	case b >= '0' && b <= '9':
		return true
	case b == '-' || b == '*' || b == '_':
		return true
	default:
		return false
	}
}

// CheckLenLabel walks a length-label encoded name starting at buf[0],
// rejecting any label longer than MaxLabelLength, any byte outside the
// valid name character class, and any encoding that would exceed max
// bytes (including the terminating zero). It returns the encoded length
// (label bytes + length octets + the terminator) or ErrMalformedName.
func CheckLenLabel(buf []byte, max int) (int, error) {
	pos := 0
	for {
		if pos >= len(buf) || pos >= max {
			return 0, ErrMalformedName
		}
		l := int(buf[pos])
		if l == 0 {
			pos++
			return pos, nil
		}
		if l > MaxLabelLength {
			return 0, ErrMalformedName
		}
		pos++
		if pos+l > len(buf) || pos+l >= max {
			return 0, ErrMalformedName
		}
		for _, c := range buf[pos : pos+l] {
			if !validNameByte(c) {
				return 0, ErrMalformedName
			}
		}
		pos += l
	}
}

// Load16 reads a big-endian uint16 at buf[off:off+2].
func Load16(buf []byte, off int) (uint16, error) {
	if off+2 > len(buf) {
		return 0, ErrBufferTooSmall
	}
	return binary.BigEndian.Uint16(buf[off : off+2]), nil
}

// Load32 reads a big-endian uint32 at buf[off:off+4].
func Load32(buf []byte, off int) (uint32, error) {
	if off+4 > len(buf) {
		return 0, ErrBufferTooSmall
	}
	return binary.BigEndian.Uint32(buf[off : off+4]), nil
}

// Dump16 writes v as big-endian at buf[off:off+2].
func Dump16(buf []byte, off int, v uint16) error {
	if off+2 > len(buf) {
		return ErrBufferTooSmall
	}
	binary.BigEndian.PutUint16(buf[off:off+2], v)
	return nil
}

// Dump32 writes v as big-endian at buf[off:off+4].
func Dump32(buf []byte, off int, v uint32) error {
	if off+4 > len(buf) {
		return ErrBufferTooSmall
	}
	binary.BigEndian.PutUint32(buf[off:off+4], v)
	return nil
}

// Field describes one argument to Pack: Size is the encoded width in
// bytes (1, 2, 4, 8), or -1 for a caller-supplied byte slice (raw memory,
// copied verbatim with no width conversion).
type Field struct {
	Size int
	U8   uint8
	U16  uint16
	U32  uint32
	U64  uint64
	Mem  []byte
}

// B packs a single byte.
func B(v uint8) Field { return Field{Size: 1, U8: v} }

// H packs a big-endian uint16 ("half word", matching the C snpack 'h').
func H(v uint16) Field { return Field{Size: 2, U16: v} }

// I packs a big-endian uint32.
func I(v uint32) Field { return Field{Size: 4, U32: v} }

// Q packs a big-endian uint64.
func Q(v uint64) Field { return Field{Size: 8, U64: v} }

// M packs raw memory verbatim (no length prefix — callers that need one
// emit it separately with H or I beforehand, per the pack grammar's 'm').
func M(b []byte) Field { return Field{Size: -1, Mem: b} }

// Pack writes fields into buf starting at off, mirroring the grammar of
// the original C pack helper: a sequence of big-endian-encoded
// fixed-width integers and raw memory blocks. It returns the new offset
// or ErrBufferTooSmall if buf cannot hold every field.
func Pack(buf []byte, off int, fields ...Field) (int, error) {
	cur := off
	for _, f := range fields {
		switch f.Size {
		case 1:
			if cur+1 > len(buf) {
				return 0, ErrBufferTooSmall
			}
			buf[cur] = f.U8
			cur++
		case 2:
			if err := Dump16(buf, cur, f.U16); err != nil {
				return 0, err
			}
			cur += 2
		case 4:
			if err := Dump32(buf, cur, f.U32); err != nil {
				return 0, err
			}
			cur += 4
		case 8:
			if cur+8 > len(buf) {
				return 0, ErrBufferTooSmall
			}
			binary.BigEndian.PutUint64(buf[cur:cur+8], f.U64)
			cur += 8
		case -1:
			if cur+len(f.Mem) > len(buf) {
				return 0, ErrBufferTooSmall
			}
			copy(buf[cur:], f.Mem)
			cur += len(f.Mem)
		default:
			return 0, fmt.Errorf("wire: unknown field size %d", f.Size)
		}
	}
	return cur, nil
}
