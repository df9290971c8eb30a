package wire

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestScalarRoundTrip(t *testing.T) {
	e := NewEncoder()
	e.Bool(true)
	e.Uvarint(1234567)
	e.Ivarint(-42)
	e.Float64(3.25)
	e.String("hello")
	e.Bytes([]byte{1, 2, 3})

	d := NewDecoder(e.Bytes())
	b, err := d.Bool()
	require.NoError(t, err)
	require.True(t, b)

	u, err := d.Uvarint()
	require.NoError(t, err)
	require.Equal(t, uint64(1234567), u)

	i, err := d.Ivarint()
	require.NoError(t, err)
	require.Equal(t, int64(-42), i)

	f, err := d.Float64()
	require.NoError(t, err)
	require.Equal(t, 3.25, f)

	s, err := d.String()
	require.NoError(t, err)
	require.Equal(t, "hello", s)

	by, err := d.Bytes()
	require.NoError(t, err)
	require.Equal(t, []byte{1, 2, 3}, by)

	require.Equal(t, 0, d.Remaining())
}

func TestMapOrderIsCanonicalRegardlessOfInsertionOrder(t *testing.T) {
	encode := func(order []string) []byte {
		entries := map[string][]byte{}
		for _, k := range order {
			inner := NewEncoder()
			inner.String("v-" + k)
			entries[k] = inner.Bytes()
		}
		e := NewEncoder()
		e.StringKeyedMap(entries)
		return e.Bytes()
	}

	a := encode([]string{"zebra", "apple", "mango"})
	b := encode([]string{"mango", "zebra", "apple"})
	require.Equal(t, a, b)

	d := NewDecoder(a)
	n, err := d.MapHeader()
	require.NoError(t, err)
	require.Equal(t, 3, n)
	key, err := d.String()
	require.NoError(t, err)
	require.Equal(t, "apple", key)
	raw, err := d.RawEntry()
	require.NoError(t, err)
	inner := NewDecoder(raw)
	v, err := inner.String()
	require.NoError(t, err)
	require.Equal(t, "v-apple", v)
}

func TestOptionNoneAndSome(t *testing.T) {
	e := NewEncoder()
	e.OptionNone()
	e.OptionSome()
	e.String("present")

	d := NewDecoder(e.Bytes())
	some, err := d.Option()
	require.NoError(t, err)
	require.False(t, some)

	some, err = d.Option()
	require.NoError(t, err)
	require.True(t, some)
	s, err := d.String()
	require.NoError(t, err)
	require.Equal(t, "present", s)
}

func TestWrongKindIsAnError(t *testing.T) {
	e := NewEncoder()
	e.String("x")
	d := NewDecoder(e.Bytes())
	_, err := d.Uvarint()
	require.Error(t, err)
}
