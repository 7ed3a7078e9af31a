package stackitem

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBigIntBytesRoundTrip(t *testing.T) {
	for _, v := range []int64{0, 1, -1, 127, 128, -128, -129, 255, 256, 32767, -32768, 1 << 40, -(1 << 40)} {
		b := BigIntToBytes(big.NewInt(v))
		got := BigIntFromBytes(b)
		require.Equal(t, v, got.Int64(), "value %d encoded as %x", v, b)
	}
}

func TestBigIntBytesMinimal(t *testing.T) {
	require.Empty(t, BigIntToBytes(big.NewInt(0)))
	require.Equal(t, []byte{0x7f}, BigIntToBytes(big.NewInt(127)))
	require.Equal(t, []byte{0x80, 0x00}, BigIntToBytes(big.NewInt(128)))
	require.Equal(t, []byte{0x80}, BigIntToBytes(big.NewInt(-128)))
	require.Equal(t, []byte{0xff}, BigIntToBytes(big.NewInt(-1)))
}

func TestConversions(t *testing.T) {
	// Integer to bytes and back.
	i := NewBigIntegerFromInt64(1000)
	b, err := i.TryBytes()
	require.NoError(t, err)
	require.Equal(t, big.NewInt(1000), BigIntFromBytes(b))

	// Byte string to bool: any set bit counts.
	tru, err := ByteArray([]byte{0, 1}).TryBool()
	require.NoError(t, err)
	require.True(t, tru)
	fls, err := ByteArray([]byte{0, 0}).TryBool()
	require.NoError(t, err)
	require.False(t, fls)

	// Oversized byte string does not become an integer.
	_, err = ByteArray(make([]byte, 33)).TryInteger()
	require.ErrorIs(t, err, ErrIntegerTooBig)

	// Null converts to bool only.
	v, err := Null{}.TryBool()
	require.NoError(t, err)
	require.False(t, v)
	_, err = Null{}.TryInteger()
	require.ErrorIs(t, err, ErrInvalidConversion)

	// Compounds convert to neither integer nor bytes.
	_, err = NewArray(nil).TryInteger()
	require.ErrorIs(t, err, ErrInvalidConversion)
	_, err = NewMap().TryBytes()
	require.ErrorIs(t, err, ErrInvalidConversion)
}

func TestConvertTypes(t *testing.T) {
	arr := NewArray([]Item{Bool(true), NewBigIntegerFromInt64(2)})

	st, err := Convert(arr, StructT)
	require.NoError(t, err)
	require.Equal(t, StructT, st.Type())
	require.Equal(t, 2, st.(*Struct).Len())

	back, err := Convert(st, ArrayT)
	require.NoError(t, err)
	require.Equal(t, ArrayT, back.Type())

	_, err = Convert(arr, IntegerT)
	require.ErrorIs(t, err, ErrInvalidConversion)

	buf, err := Convert(ByteArray("abc"), BufferT)
	require.NoError(t, err)
	require.Equal(t, BufferT, buf.Type())
}

func TestEqualsRules(t *testing.T) {
	// Primitives by value.
	require.True(t, ByteArray("ab").Equals(ByteArray("ab")))
	require.True(t, NewBigIntegerFromInt64(7).Equals(NewBigIntegerFromInt64(7)))
	require.False(t, Bool(true).Equals(NewBigIntegerFromInt64(1)))

	// Arrays and maps by identity.
	a := NewArray([]Item{Bool(true)})
	b := NewArray([]Item{Bool(true)})
	require.True(t, a.Equals(a))
	require.False(t, a.Equals(b))

	// Structs element-wise.
	s1 := NewStruct([]Item{NewBigIntegerFromInt64(1), ByteArray("x")})
	s2 := NewStruct([]Item{NewBigIntegerFromInt64(1), ByteArray("x")})
	require.True(t, s1.Equals(s2))
	s2.Value()[1] = ByteArray("y")
	require.False(t, s1.Equals(s2))
}

func TestStructClone(t *testing.T) {
	inner := NewStruct([]Item{NewBigIntegerFromInt64(5)})
	s := NewStruct([]Item{inner, ByteArray("k")})

	c, err := s.Clone()
	require.NoError(t, err)
	require.True(t, s.Equals(c))

	// Mutating the clone's nested struct leaves the original alone.
	c.Value()[0].(*Struct).Value()[0] = NewBigIntegerFromInt64(6)
	require.False(t, s.Equals(c))
	require.True(t, inner.Value()[0].Equals(NewBigIntegerFromInt64(5)))

	// Unbounded nesting is refused.
	deep := NewStruct(nil)
	cur := deep
	for i := 0; i < MaxDeepCopyDepth+1; i++ {
		next := NewStruct(nil)
		cur.items = []Item{next}
		cur = next
	}
	_, err = deep.Clone()
	require.ErrorIs(t, err, ErrTooDeep)
}

func TestMapOperations(t *testing.T) {
	m := NewMap()
	require.NoError(t, m.Add(ByteArray("k1"), NewBigIntegerFromInt64(1)))
	require.NoError(t, m.Add(NewBigIntegerFromInt64(2), ByteArray("v2")))

	// Replacement keeps one entry per key.
	require.NoError(t, m.Add(ByteArray("k1"), NewBigIntegerFromInt64(10)))
	require.Equal(t, 2, m.Len())
	i := m.Index(ByteArray("k1"))
	require.GreaterOrEqual(t, i, 0)
	require.True(t, m.Value()[i].Value.Equals(NewBigIntegerFromInt64(10)))

	// Compound keys are refused.
	require.ErrorIs(t, m.Add(NewArray(nil), Null{}), ErrMapKey)
	require.ErrorIs(t, m.Add(ByteArray(make([]byte, MaxKeySize+1)), Null{}), ErrMapKey)
}

func TestSerializeRoundTrip(t *testing.T) {
	m := NewMap()
	require.NoError(t, m.Add(ByteArray("votes"), NewBigIntegerFromInt64(42)))
	original := NewArray([]Item{
		Null{},
		Bool(true),
		NewBigIntegerFromInt64(-7),
		ByteArray("payload"),
		Buffer([]byte{1, 2}),
		NewStruct([]Item{Bool(false)}),
		m,
	})

	data, err := Serialize(original)
	require.NoError(t, err)

	got, err := Deserialize(data)
	require.NoError(t, err)
	arr, ok := got.(*Array)
	require.True(t, ok)
	require.Equal(t, 7, arr.Len())
	require.True(t, arr.Value()[2].Equals(NewBigIntegerFromInt64(-7)))
	require.True(t, arr.Value()[3].Equals(ByteArray("payload")))

	// Interop handles refuse to serialize.
	_, err = Serialize(NewInterop("handle"))
	require.ErrorIs(t, err, ErrNotSerializable)
}
