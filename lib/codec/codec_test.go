package codec

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mapEnumerator is a minimal Enumerator for tests
type mapEnumerator struct {
	ids  map[string]int32
	strs []string
}

func newMapEnumerator() *mapEnumerator {
	return &mapEnumerator{ids: map[string]int32{}}
}

func (m *mapEnumerator) ToNumber(s string) (int32, error) {
	if id, ok := m.ids[s]; ok {
		return id, nil
	}
	id := int32(len(m.strs))
	m.ids[s] = id
	m.strs = append(m.strs, s)
	return id, nil
}

func (m *mapEnumerator) ToString(id int32) (string, error) {
	if id < 0 || int(id) >= len(m.strs) {
		return "", fmt.Errorf("unknown id %d", id)
	}
	return m.strs[id], nil
}

// countingInterner canonicalizes strings and counts hits
type countingInterner struct {
	seen map[string]string
	hits int
}

func (c *countingInterner) Intern(v string) string {
	if canonical, ok := c.seen[v]; ok {
		c.hits++
		return canonical
	}
	c.seen[v] = v
	return v
}

func TestScalars(t *testing.T) {
	data, err := Marshal(String(), "hello")
	require.NoError(t, err)
	s, err := Unmarshal(String(), data)
	require.NoError(t, err)
	assert.Equal(t, "hello", s)

	data, err = Marshal(Int64(), -1234567890123)
	require.NoError(t, err)
	i, err := Unmarshal(Int64(), data)
	require.NoError(t, err)
	assert.Equal(t, int64(-1234567890123), i)

	data, err = Marshal(Bytes(), []byte{0, 1, 2})
	require.NoError(t, err)
	b, err := Unmarshal(Bytes(), data)
	require.NoError(t, err)
	assert.Equal(t, []byte{0, 1, 2}, b)
}

func TestInt32Overflow(t *testing.T) {
	data, err := Marshal(Int64(), 1<<40)
	require.NoError(t, err)
	_, err = Unmarshal(Int32(), data)
	assert.Error(t, err)
}

func TestCollectionLayout(t *testing.T) {
	data, err := Marshal(Collection(String()), []string{"a", "bc"})
	require.NoError(t, err)
	// count, then each length-prefixed element
	assert.Equal(t, []byte{2, 1, 'a', 2, 'b', 'c'}, data)

	values, err := Unmarshal(Collection(String()), data)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "bc"}, values)
}

func TestCollectionRejectsImpossibleCount(t *testing.T) {
	e := NewEncoder(8)
	e.PutUvarint(1000)
	_, err := Unmarshal(Collection(String()), e.Bytes())
	assert.ErrorIs(t, err, ErrShortBuffer)
}

func TestTrailingBytes(t *testing.T) {
	data, err := Marshal(String(), "x")
	require.NoError(t, err)
	_, err = Unmarshal(String(), append(data, 0xff))
	assert.ErrorIs(t, err, ErrTrailingBytes)
}

func TestTruncatedRecord(t *testing.T) {
	data, err := Marshal(String(), "truncated")
	require.NoError(t, err)
	_, err = Unmarshal(String(), data[:4])
	assert.ErrorIs(t, err, ErrShortBuffer)

	_, err = Unmarshal(String(), nil)
	assert.ErrorIs(t, err, ErrShortBuffer)
}

func TestEnumeratedString(t *testing.T) {
	en := newMapEnumerator()
	x := EnumeratedString(en)

	first, err := Marshal(x, "com/example/Foo")
	require.NoError(t, err)
	second, err := Marshal(x, "com/example/Foo")
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Equal(t, []byte{0}, first)

	s, err := Unmarshal(x, first)
	require.NoError(t, err)
	assert.Equal(t, "com/example/Foo", s)

	// an id that was never minted is an error
	e := NewEncoder(4)
	e.PutUvarint(42)
	_, err = Unmarshal(x, e.Bytes())
	assert.Error(t, err)
}

func TestInterned(t *testing.T) {
	in := &countingInterner{seen: map[string]string{}}
	x := Interned(String(), in)

	data, err := Marshal(x, "usage")
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		v, err := Unmarshal(x, data)
		require.NoError(t, err)
		assert.Equal(t, "usage", v)
	}
	assert.Equal(t, 2, in.hits)
}

func TestCBOR(t *testing.T) {
	type record struct {
		Name  string            `cbor:"name"`
		Items map[string]string `cbor:"items"`
	}
	x := CBOR[record]()

	in := record{Name: "lib", Items: map[string]string{"b": "2", "a": "1"}}
	first, err := Marshal(x, in)
	require.NoError(t, err)
	second, err := Marshal(x, record{Name: "lib", Items: map[string]string{"a": "1", "b": "2"}})
	require.NoError(t, err)
	assert.Equal(t, first, second, "encoding must be deterministic")

	out, err := Unmarshal(x, first)
	require.NoError(t, err)
	assert.Equal(t, in, out)

	_, err = Unmarshal(x, []byte{3, 0xff, 0xff, 0xff})
	assert.Error(t, err)
}

func TestFunc(t *testing.T) {
	type pair struct {
		A string
		B int64
	}
	x := Func(
		func(e *Encoder, v pair) error {
			e.PutString(v.A)
			e.PutVarint(v.B)
			return nil
		},
		func(d *Decoder) (pair, error) {
			a, err := d.Text()
			if err != nil {
				return pair{}, err
			}
			b, err := d.Varint()
			return pair{A: a, B: b}, err
		},
	)
	data, err := Marshal(x, pair{A: "x", B: 7})
	require.NoError(t, err)
	v, err := Unmarshal(x, data)
	require.NoError(t, err)
	assert.Equal(t, pair{A: "x", B: 7}, v)
}
