// Package encoding implements the deterministic little-endian binary codec
// shared by the WAL, SST, and manifest formats. It is pure:
// no I/O, no allocation before bounds checks, encoders never panic.
package encoding

import (
	"encoding/binary"
	"unicode/utf8"

	"github.com/cockroachdb/errors"
)

// Safety caps, enforced before any allocation.
const (
	MaxBlobLen    = 256 << 20 // 256 MiB
	MaxVectorLen  = 16 << 20  // 16 M elements
)

// ErrShortInput is wrapped with details when a decode runs past the
// available bytes.
var ErrShortInput = errors.New("encoding: unexpected end of input")

// ErrInvalidTag is returned when an optional-value or bool tag byte is
// neither 0x00 nor 0x01.
var ErrInvalidTag = errors.New("encoding: invalid tag byte")

// ErrTooLarge is returned when a length or count prefix exceeds its safety
// cap, before any allocation is attempted.
var ErrTooLarge = errors.New("encoding: length exceeds safety cap")

// ErrInvalidUTF8 is returned when a decoded string is not valid UTF-8.
var ErrInvalidUTF8 = errors.New("encoding: invalid utf-8")

// Encoder appends encoded values to an internal buffer.
type Encoder struct {
	buf []byte
}

// NewEncoder returns an Encoder with a pre-sized buffer.
func NewEncoder(sizeHint int) *Encoder {
	return &Encoder{buf: make([]byte, 0, sizeHint)}
}

// Bytes returns the encoded buffer built so far.
func (e *Encoder) Bytes() []byte { return e.buf }

// Len returns the number of bytes encoded so far.
func (e *Encoder) Len() int { return len(e.buf) }

func (e *Encoder) PutUint8(v uint8) { e.buf = append(e.buf, v) }

func (e *Encoder) PutUint32(v uint32) {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	e.buf = append(e.buf, b[:]...)
}

func (e *Encoder) PutUint64(v uint64) {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], v)
	e.buf = append(e.buf, b[:]...)
}

func (e *Encoder) PutBool(v bool) {
	if v {
		e.buf = append(e.buf, 0x01)
	} else {
		e.buf = append(e.buf, 0x00)
	}
}

// PutBytes writes a u32-length-prefixed raw byte blob.
func (e *Encoder) PutBytes(v []byte) {
	e.PutUint32(uint32(len(v)))
	e.buf = append(e.buf, v...)
}

// PutString writes a u32-length-prefixed UTF-8 string.
func (e *Encoder) PutString(v string) {
	e.PutUint32(uint32(len(v)))
	e.buf = append(e.buf, v...)
}

// PutOptionalBytes writes the absent/present tag followed by the payload
// when present.
func (e *Encoder) PutOptionalBytes(v []byte, present bool) {
	if !present {
		e.buf = append(e.buf, 0x00)
		return
	}
	e.buf = append(e.buf, 0x01)
	e.PutBytes(v)
}

// PutVectorHeader writes the u32 count prefix for a vector of compound
// values; the caller encodes each element immediately after.
func (e *Encoder) PutVectorHeader(count int) { e.PutUint32(uint32(count)) }

// Decoder consumes values from a byte slice, bounds-checking before every
// read and never allocating before the bounds check succeeds.
type Decoder struct {
	buf []byte
	off int
}

// NewDecoder wraps buf for decoding.
func NewDecoder(buf []byte) *Decoder { return &Decoder{buf: buf} }

// Remaining returns the number of unconsumed bytes.
func (d *Decoder) Remaining() int { return len(d.buf) - d.off }

func (d *Decoder) need(n int) error {
	if d.Remaining() < n {
		return errors.Wrapf(ErrShortInput, "need %d bytes, have %d", n, d.Remaining())
	}
	return nil
}

func (d *Decoder) Uint8() (uint8, error) {
	if err := d.need(1); err != nil {
		return 0, err
	}
	v := d.buf[d.off]
	d.off++
	return v, nil
}

func (d *Decoder) Uint32() (uint32, error) {
	if err := d.need(4); err != nil {
		return 0, err
	}
	v := binary.LittleEndian.Uint32(d.buf[d.off:])
	d.off += 4
	return v, nil
}

func (d *Decoder) Uint64() (uint64, error) {
	if err := d.need(8); err != nil {
		return 0, err
	}
	v := binary.LittleEndian.Uint64(d.buf[d.off:])
	d.off += 8
	return v, nil
}

func (d *Decoder) Bool() (bool, error) {
	b, err := d.Uint8()
	if err != nil {
		return false, err
	}
	switch b {
	case 0x00:
		return false, nil
	case 0x01:
		return true, nil
	default:
		return false, errors.Wrapf(ErrInvalidTag, "bool byte %#x", b)
	}
}

// Bytes decodes a u32-length-prefixed byte blob, rejecting lengths beyond
// MaxBlobLen before allocating.
func (d *Decoder) Bytes() ([]byte, error) {
	n, err := d.Uint32()
	if err != nil {
		return nil, err
	}
	if n > MaxBlobLen {
		return nil, errors.Wrapf(ErrTooLarge, "blob length %d > %d", n, MaxBlobLen)
	}
	if err := d.need(int(n)); err != nil {
		return nil, err
	}
	v := make([]byte, n)
	copy(v, d.buf[d.off:d.off+int(n)])
	d.off += int(n)
	return v, nil
}

// String decodes a u32-length-prefixed UTF-8 string.
func (d *Decoder) String() (string, error) {
	b, err := d.Bytes()
	if err != nil {
		return "", err
	}
	if !utf8.Valid(b) {
		return "", ErrInvalidUTF8
	}
	return string(b), nil
}

// OptionalBytes decodes the absent/present tag and, if present, a byte blob.
func (d *Decoder) OptionalBytes() (v []byte, present bool, err error) {
	tag, err := d.Uint8()
	if err != nil {
		return nil, false, err
	}
	switch tag {
	case 0x00:
		return nil, false, nil
	case 0x01:
		v, err = d.Bytes()
		return v, true, err
	default:
		return nil, false, errors.Wrapf(ErrInvalidTag, "optional byte %#x", tag)
	}
}

// VectorHeader decodes the u32 count prefix of a vector, rejecting counts
// beyond MaxVectorLen before the caller allocates a slice of that length.
func (d *Decoder) VectorHeader() (int, error) {
	n, err := d.Uint32()
	if err != nil {
		return 0, err
	}
	if n > MaxVectorLen {
		return 0, errors.Wrapf(ErrTooLarge, "vector count %d > %d", n, MaxVectorLen)
	}
	return int(n), nil
}
