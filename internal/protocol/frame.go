package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"time"
	"unicode/utf8"
)

// Frame layout shared by all wire generations: a one-byte discriminant
// followed by the variant's fields in declaration order. Integers are
// big-endian. Strings are length-prefixed (uint32) UTF-8. Optional
// values carry a one-byte presence flag. Fixed-size byte arrays are
// written verbatim with no length prefix. Durations are whole seconds
// in a uint64.

// maxStringLen bounds decoded strings and byte vectors so a corrupt or
// hostile length prefix cannot force a huge allocation.
const maxStringLen = 64 * 1024

var (
	ErrStringTooLong = errors.New("length-prefixed field exceeds limit")
	ErrInvalidUTF8   = errors.New("string field is not valid UTF-8")
)

// Encoder writes frame primitives to an underlying writer. The first
// write error sticks; subsequent calls are no-ops and Err returns it.
type Encoder struct {
	w   io.Writer
	buf [8]byte
	err error
}

func NewEncoder(w io.Writer) *Encoder { return &Encoder{w: w} }

func (e *Encoder) Err() error { return e.err }

func (e *Encoder) write(b []byte) {
	if e.err != nil {
		return
	}
	_, e.err = e.w.Write(b)
}

func (e *Encoder) U8(v uint8) {
	e.buf[0] = v
	e.write(e.buf[:1])
}

func (e *Encoder) U16(v uint16) {
	binary.BigEndian.PutUint16(e.buf[:2], v)
	e.write(e.buf[:2])
}

func (e *Encoder) U32(v uint32) {
	binary.BigEndian.PutUint32(e.buf[:4], v)
	e.write(e.buf[:4])
}

func (e *Encoder) U64(v uint64) {
	binary.BigEndian.PutUint64(e.buf[:8], v)
	e.write(e.buf[:8])
}

func (e *Encoder) Bool(v bool) {
	if v {
		e.U8(1)
	} else {
		e.U8(0)
	}
}

func (e *Encoder) String(s string) {
	e.U32(uint32(len(s)))
	e.write([]byte(s))
}

// OptString writes a presence flag followed by the string if non-nil.
func (e *Encoder) OptString(s *string) {
	if s == nil {
		e.Bool(false)
		return
	}
	e.Bool(true)
	e.String(*s)
}

// Raw writes bytes verbatim, for fixed-size arrays.
func (e *Encoder) Raw(b []byte) { e.write(b) }

// Bytes writes a length-prefixed byte vector.
func (e *Encoder) Bytes(b []byte) {
	e.U32(uint32(len(b)))
	e.write(b)
}

func (e *Encoder) Duration(d time.Duration) {
	e.U64(uint64(d / time.Second))
}

// Decoder reads frame primitives. Like Encoder, the first error sticks;
// all reads after it return zero values.
type Decoder struct {
	r   io.Reader
	buf [8]byte
	err error
}

func NewDecoder(r io.Reader) *Decoder { return &Decoder{r: r} }

func (d *Decoder) Err() error { return d.err }

func (d *Decoder) fail(err error) {
	if d.err == nil {
		d.err = err
	}
}

func (d *Decoder) read(b []byte) bool {
	if d.err != nil {
		return false
	}
	if _, err := io.ReadFull(d.r, b); err != nil {
		d.err = err
		return false
	}
	return true
}

func (d *Decoder) U8() uint8 {
	if !d.read(d.buf[:1]) {
		return 0
	}
	return d.buf[0]
}

func (d *Decoder) U16() uint16 {
	if !d.read(d.buf[:2]) {
		return 0
	}
	return binary.BigEndian.Uint16(d.buf[:2])
}

func (d *Decoder) U32() uint32 {
	if !d.read(d.buf[:4]) {
		return 0
	}
	return binary.BigEndian.Uint32(d.buf[:4])
}

func (d *Decoder) U64() uint64 {
	if !d.read(d.buf[:8]) {
		return 0
	}
	return binary.BigEndian.Uint64(d.buf[:8])
}

func (d *Decoder) Bool() bool {
	switch d.U8() {
	case 0:
		return false
	case 1:
		return true
	default:
		d.fail(fmt.Errorf("invalid boolean byte"))
		return false
	}
}

func (d *Decoder) String() string {
	n := d.U32()
	if d.err != nil {
		return ""
	}
	if n > maxStringLen {
		d.fail(ErrStringTooLong)
		return ""
	}
	b := make([]byte, n)
	if !d.read(b) {
		return ""
	}
	if !utf8.Valid(b) {
		d.fail(ErrInvalidUTF8)
		return ""
	}
	return string(b)
}

func (d *Decoder) OptString() *string {
	if !d.Bool() || d.err != nil {
		return nil
	}
	s := d.String()
	if d.err != nil {
		return nil
	}
	return &s
}

// Raw reads exactly len(b) bytes into b.
func (d *Decoder) Raw(b []byte) { d.read(b) }

// Bytes reads a length-prefixed byte vector bounded by max.
func (d *Decoder) Bytes(max uint32) []byte {
	n := d.U32()
	if d.err != nil {
		return nil
	}
	if n > max {
		d.fail(ErrStringTooLong)
		return nil
	}
	b := make([]byte, n)
	if !d.read(b) {
		return nil
	}
	return b
}

func (d *Decoder) Duration() time.Duration {
	return time.Duration(d.U64()) * time.Second
}
