package codec

import (
	"encoding/binary"
	"errors"
	"fmt"
)

var (
	// ErrShortBuffer is returned when a record ends before a value is complete
	ErrShortBuffer = errors.New("codec: short buffer")
	// ErrTrailingBytes is returned when a record has bytes left after decoding
	ErrTrailingBytes = errors.New("codec: trailing bytes")
)

// maxLength bounds decoded lengths so corrupted records fail instead of
// allocating huge buffers
const maxLength = 1 << 30

// --------------------------------------------------------------------------
// Encoder
// --------------------------------------------------------------------------

// Encoder appends values to a growing byte buffer
type Encoder struct {
	buf []byte
}

// NewEncoder creates an encoder with the given initial capacity
func NewEncoder(capacity int) *Encoder {
	return &Encoder{buf: make([]byte, 0, capacity)}
}

// Bytes returns the encoded bytes. The slice is owned by the encoder.
func (e *Encoder) Bytes() []byte {
	return e.buf
}

// Len returns the number of encoded bytes
func (e *Encoder) Len() int {
	return len(e.buf)
}

func (e *Encoder) PutUvarint(v uint64) {
	e.buf = binary.AppendUvarint(e.buf, v)
}

func (e *Encoder) PutVarint(v int64) {
	e.buf = binary.AppendVarint(e.buf, v)
}

// PutUint32 writes v as 4 big endian bytes
func (e *Encoder) PutUint32(v uint32) {
	e.buf = binary.BigEndian.AppendUint32(e.buf, v)
}

func (e *Encoder) PutBool(v bool) {
	if v {
		e.buf = append(e.buf, 1)
	} else {
		e.buf = append(e.buf, 0)
	}
}

// PutBytes writes a uvarint length followed by b
func (e *Encoder) PutBytes(b []byte) {
	e.PutUvarint(uint64(len(b)))
	e.buf = append(e.buf, b...)
}

// PutString writes a uvarint length followed by the bytes of s
func (e *Encoder) PutString(s string) {
	e.PutUvarint(uint64(len(s)))
	e.buf = append(e.buf, s...)
}

// --------------------------------------------------------------------------
// Decoder
// --------------------------------------------------------------------------

// Decoder reads values from a byte buffer
type Decoder struct {
	buf []byte
	pos int
}

// NewDecoder creates a decoder reading from b
func NewDecoder(b []byte) *Decoder {
	return &Decoder{buf: b}
}

// Remaining returns the number of unread bytes
func (d *Decoder) Remaining() int {
	return len(d.buf) - d.pos
}

// Done returns ErrTrailingBytes if not all bytes were consumed
func (d *Decoder) Done() error {
	if n := d.Remaining(); n > 0 {
		return fmt.Errorf("%w: %d bytes", ErrTrailingBytes, n)
	}
	return nil
}

func (d *Decoder) Uvarint() (uint64, error) {
	v, n := binary.Uvarint(d.buf[d.pos:])
	if n <= 0 {
		return 0, fmt.Errorf("%w: invalid uvarint at offset %d", ErrShortBuffer, d.pos)
	}
	d.pos += n
	return v, nil
}

func (d *Decoder) Varint() (int64, error) {
	v, n := binary.Varint(d.buf[d.pos:])
	if n <= 0 {
		return 0, fmt.Errorf("%w: invalid varint at offset %d", ErrShortBuffer, d.pos)
	}
	d.pos += n
	return v, nil
}

func (d *Decoder) Uint32() (uint32, error) {
	if d.Remaining() < 4 {
		return 0, fmt.Errorf("%w: need 4 bytes at offset %d", ErrShortBuffer, d.pos)
	}
	v := binary.BigEndian.Uint32(d.buf[d.pos : d.pos+4])
	d.pos += 4
	return v, nil
}

func (d *Decoder) Bool() (bool, error) {
	if d.Remaining() < 1 {
		return false, fmt.Errorf("%w: need 1 byte at offset %d", ErrShortBuffer, d.pos)
	}
	v := d.buf[d.pos]
	d.pos++
	switch v {
	case 0:
		return false, nil
	case 1:
		return true, nil
	default:
		return false, fmt.Errorf("codec: invalid bool byte %d", v)
	}
}

// Bytes reads a length-prefixed byte slice. The result is a copy.
func (d *Decoder) Bytes() ([]byte, error) {
	raw, err := d.raw()
	if err != nil {
		return nil, err
	}
	out := make([]byte, len(raw))
	copy(out, raw)
	return out, nil
}

// Text reads a length-prefixed string
func (d *Decoder) Text() (string, error) {
	raw, err := d.raw()
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

func (d *Decoder) raw() ([]byte, error) {
	length, err := d.Uvarint()
	if err != nil {
		return nil, err
	}
	if length > maxLength || int(length) > d.Remaining() {
		return nil, fmt.Errorf("%w: length %d exceeds remaining %d bytes", ErrShortBuffer, length, d.Remaining())
	}
	raw := d.buf[d.pos : d.pos+int(length)]
	d.pos += int(length)
	return raw, nil
}
