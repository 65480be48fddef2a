package wasm

import (
	"errors"
	"fmt"
	"unicode/utf8"
)

var errUnexpectedEOF = errors.New("unexpected end of input")

// reader walks a byte slice. pos is relative to buf; base maps it back to the
// artifact offset for error messages and locations.
type reader struct {
	buf  []byte
	pos  int
	base int
}

func (r *reader) offset() int { return r.base + r.pos }

func (r *reader) remaining() int { return len(r.buf) - r.pos }

func (r *reader) eof() bool { return r.pos >= len(r.buf) }

func (r *reader) byte() (byte, error) {
	if r.pos >= len(r.buf) {
		return 0, errUnexpectedEOF
	}
	b := r.buf[r.pos]
	r.pos++
	return b, nil
}

func (r *reader) peek() (byte, error) {
	if r.pos >= len(r.buf) {
		return 0, errUnexpectedEOF
	}
	return r.buf[r.pos], nil
}

func (r *reader) bytes(n int) ([]byte, error) {
	if n < 0 || n > r.remaining() {
		return nil, errUnexpectedEOF
	}
	b := r.buf[r.pos : r.pos+n]
	r.pos += n
	return b, nil
}

func (r *reader) uleb(maxBits uint) (uint64, error) {
	var result uint64
	var shift uint
	maxBytes := int((maxBits + 6) / 7)
	for i := 0; i < maxBytes; i++ {
		b, err := r.byte()
		if err != nil {
			return 0, err
		}
		if i == maxBytes-1 {
			if b&0x80 != 0 {
				return 0, fmt.Errorf("integer representation too long at offset %d", r.offset()-1)
			}
			if uint64(b&0x7f)>>(maxBits-shift) != 0 {
				return 0, fmt.Errorf("integer too large at offset %d", r.offset()-1)
			}
		}
		result |= uint64(b&0x7f) << shift
		if b&0x80 == 0 {
			return result, nil
		}
		shift += 7
	}
	return 0, fmt.Errorf("integer representation too long at offset %d", r.offset())
}

func (r *reader) sleb(maxBits uint) (int64, error) {
	var result int64
	var shift uint
	maxBytes := int((maxBits + 6) / 7)
	for i := 0; i < maxBytes; i++ {
		b, err := r.byte()
		if err != nil {
			return 0, err
		}
		result |= int64(b&0x7f) << shift
		shift += 7
		if b&0x80 != 0 {
			continue
		}
		if shift < 64 && b&0x40 != 0 {
			result |= -1 << shift
		}
		if maxBits < 64 {
			lo := -(int64(1) << (maxBits - 1))
			hi := int64(1)<<(maxBits-1) - 1
			if result < lo || result > hi {
				return 0, fmt.Errorf("integer too large at offset %d", r.offset()-1)
			}
		}
		return result, nil
	}
	return 0, fmt.Errorf("integer representation too long at offset %d", r.offset())
}

func (r *reader) u32() (uint32, error) {
	v, err := r.uleb(32)
	return uint32(v), err
}

// count reads a vector length and rejects lengths that cannot possibly fit in
// the remaining input, so hostile lengths never drive allocations.
func (r *reader) count(minElemSize int) (int, error) {
	n, err := r.u32()
	if err != nil {
		return 0, err
	}
	if minElemSize > 0 && int64(n)*int64(minElemSize) > int64(r.remaining()) {
		return 0, fmt.Errorf("vector length %d exceeds remaining input at offset %d", n, r.offset())
	}
	return int(n), nil
}

func (r *reader) name() (string, error) {
	n, err := r.count(1)
	if err != nil {
		return "", err
	}
	b, err := r.bytes(n)
	if err != nil {
		return "", err
	}
	if !utf8.Valid(b) {
		return "", fmt.Errorf("invalid UTF-8 name at offset %d", r.offset()-n)
	}
	return string(b), nil
}

func (r *reader) valType() (ValType, error) {
	b, err := r.byte()
	if err != nil {
		return 0, err
	}
	if !validValType(b) {
		return 0, fmt.Errorf("invalid value type 0x%02x at offset %d", b, r.offset()-1)
	}
	return ValType(b), nil
}

func (r *reader) limits() (Limits, error) {
	flag, err := r.byte()
	if err != nil {
		return Limits{}, err
	}
	var l Limits
	if l.Min, err = r.u32(); err != nil {
		return Limits{}, err
	}
	switch flag {
	case 0x00:
	case 0x01:
		if l.Max, err = r.u32(); err != nil {
			return Limits{}, err
		}
		l.HasMax = true
		if l.Max < l.Min {
			return Limits{}, fmt.Errorf("limits maximum %d below minimum %d", l.Max, l.Min)
		}
	default:
		return Limits{}, fmt.Errorf("invalid limits flag 0x%02x at offset %d", flag, r.offset())
	}
	return l, nil
}
