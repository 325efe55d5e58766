package codec

import (
	"fmt"
	"math"

	"github.com/fxamacker/cbor/v2"
)

// Externalizer writes and reads values of type T
type Externalizer[T any] interface {
	Write(e *Encoder, v T) error
	Read(d *Decoder) (T, error)
}

// Marshal encodes v as a standalone record
func Marshal[T any](x Externalizer[T], v T) ([]byte, error) {
	e := NewEncoder(32)
	if err := x.Write(e, v); err != nil {
		return nil, err
	}
	return e.Bytes(), nil
}

// Unmarshal decodes a standalone record. All bytes must be consumed.
func Unmarshal[T any](x Externalizer[T], data []byte) (T, error) {
	d := NewDecoder(data)
	v, err := x.Read(d)
	if err != nil {
		var zero T
		return zero, err
	}
	if err := d.Done(); err != nil {
		var zero T
		return zero, err
	}
	return v, nil
}

// --------------------------------------------------------------------------
// Function adapter
// --------------------------------------------------------------------------

type funcExternalizer[T any] struct {
	write func(e *Encoder, v T) error
	read  func(d *Decoder) (T, error)
}

func (f funcExternalizer[T]) Write(e *Encoder, v T) error { return f.write(e, v) }
func (f funcExternalizer[T]) Read(d *Decoder) (T, error)  { return f.read(d) }

// Func builds an Externalizer from a pair of functions
func Func[T any](write func(e *Encoder, v T) error, read func(d *Decoder) (T, error)) Externalizer[T] {
	return funcExternalizer[T]{write: write, read: read}
}

// --------------------------------------------------------------------------
// Scalar externalizers
// --------------------------------------------------------------------------

// String encodes a string as uvarint length and bytes
func String() Externalizer[string] {
	return Func(
		func(e *Encoder, v string) error { e.PutString(v); return nil },
		func(d *Decoder) (string, error) { return d.Text() },
	)
}

// Bytes encodes a byte slice as uvarint length and bytes
func Bytes() Externalizer[[]byte] {
	return Func(
		func(e *Encoder, v []byte) error { e.PutBytes(v); return nil },
		func(d *Decoder) ([]byte, error) { return d.Bytes() },
	)
}

// Int64 encodes an int64 as zig-zag varint
func Int64() Externalizer[int64] {
	return Func(
		func(e *Encoder, v int64) error { e.PutVarint(v); return nil },
		func(d *Decoder) (int64, error) { return d.Varint() },
	)
}

// Int32 encodes an int32 as zig-zag varint
func Int32() Externalizer[int32] {
	return Func(
		func(e *Encoder, v int32) error { e.PutVarint(int64(v)); return nil },
		func(d *Decoder) (int32, error) {
			v, err := d.Varint()
			if err != nil {
				return 0, err
			}
			if v < math.MinInt32 || v > math.MaxInt32 {
				return 0, fmt.Errorf("codec: %d overflows int32", v)
			}
			return int32(v), nil
		},
	)
}

// --------------------------------------------------------------------------
// Enumerated strings
// --------------------------------------------------------------------------

// Enumerator maps strings to stable small integers
type Enumerator interface {
	ToNumber(s string) (int32, error)
	ToString(id int32) (string, error)
}

// EnumeratedString writes a string as its enumerator id. Writing may mint
// new ids, which is why the enumerator is flushed after data maps commit.
func EnumeratedString(en Enumerator) Externalizer[string] {
	return Func(
		func(e *Encoder, v string) error {
			id, err := en.ToNumber(v)
			if err != nil {
				return err
			}
			e.PutUvarint(uint64(id))
			return nil
		},
		func(d *Decoder) (string, error) {
			id, err := d.Uvarint()
			if err != nil {
				return "", err
			}
			if id > math.MaxInt32 {
				return "", fmt.Errorf("codec: enumerator id %d overflows int32", id)
			}
			return en.ToString(int32(id))
		},
	)
}

// --------------------------------------------------------------------------
// Collections
// --------------------------------------------------------------------------

// Collection encodes a slice as uvarint element count followed by each element
func Collection[V any](elem Externalizer[V]) Externalizer[[]V] {
	return Func(
		func(e *Encoder, values []V) error {
			e.PutUvarint(uint64(len(values)))
			for i, v := range values {
				if err := elem.Write(e, v); err != nil {
					return fmt.Errorf("element %d: %w", i, err)
				}
			}
			return nil
		},
		func(d *Decoder) ([]V, error) {
			n, err := d.Uvarint()
			if err != nil {
				return nil, err
			}
			// every element takes at least one byte
			if n > uint64(d.Remaining()) {
				return nil, fmt.Errorf("%w: %d elements in %d bytes", ErrShortBuffer, n, d.Remaining())
			}
			values := make([]V, 0, n)
			for i := uint64(0); i < n; i++ {
				v, err := elem.Read(d)
				if err != nil {
					return nil, fmt.Errorf("element %d: %w", i, err)
				}
				values = append(values, v)
			}
			return values, nil
		},
	)
}

// --------------------------------------------------------------------------
// Interning
// --------------------------------------------------------------------------

// Interner returns a canonical instance for equal values
type Interner[T any] interface {
	Intern(v T) T
}

// Interned passes every decoded value through in, so equal records read
// from different keys share one instance
func Interned[T any](x Externalizer[T], in Interner[T]) Externalizer[T] {
	return Func(
		x.Write,
		func(d *Decoder) (T, error) {
			v, err := x.Read(d)
			if err != nil {
				return v, err
			}
			return in.Intern(v), nil
		},
	)
}

// --------------------------------------------------------------------------
// CBOR
// --------------------------------------------------------------------------

var (
	cborEnc cbor.EncMode
	cborDec cbor.DecMode
)

func init() {
	var err error
	// deterministic encoding so equal records produce equal bytes
	if cborEnc, err = cbor.CoreDetEncOptions().EncMode(); err != nil {
		panic(err)
	}
	if cborDec, err = (cbor.DecOptions{}).DecMode(); err != nil {
		panic(err)
	}
}

// CBOR encodes structured values with CBOR, embedded as a length-prefixed
// byte string
func CBOR[T any]() Externalizer[T] {
	return Func(
		func(e *Encoder, v T) error {
			data, err := cborEnc.Marshal(v)
			if err != nil {
				return err
			}
			e.PutBytes(data)
			return nil
		},
		func(d *Decoder) (T, error) {
			var v T
			raw, err := d.raw()
			if err != nil {
				return v, err
			}
			err = cborDec.Unmarshal(raw, &v)
			return v, err
		},
	)
}
