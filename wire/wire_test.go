package wire

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestVarUintRoundTrip(t *testing.T) {
	for _, v := range []uint64{0, 1, 0xFC, 0xFD, 0xFFFF, 0x10000, 0xFFFFFFFF, 0x100000000, 1<<63 + 7} {
		w := NewBufBinWriter()
		w.WriteVarUint(v)
		require.NoError(t, w.Err)
		require.Len(t, w.Bytes(), VarUintSize(v))

		r := NewBinReaderFromBuf(w.Bytes())
		require.Equal(t, v, r.ReadVarUint())
		require.NoError(t, r.Err)
		require.Zero(t, r.Len())
	}
}

func TestVarUintRejectsNonMinimal(t *testing.T) {
	cases := [][]byte{
		{0xFD, 0x05, 0x00},                                     // 5 in 3-byte form
		{0xFE, 0xFF, 0xFF, 0x00, 0x00},                         // 0xFFFF in 5-byte form
		{0xFF, 0x01, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00}, // 1 in 9-byte form
	}
	for _, b := range cases {
		r := NewBinReaderFromBuf(b)
		r.ReadVarUint()
		require.ErrorIs(t, r.Err, ErrNonCanonical)
	}
}

func TestBoolRejectsNonCanonical(t *testing.T) {
	r := NewBinReaderFromBuf([]byte{0x02})
	r.ReadBool()
	require.ErrorIs(t, r.Err, ErrNonCanonical)
}

func TestReadVarBytesLimit(t *testing.T) {
	w := NewBufBinWriter()
	w.WriteVarBytes(make([]byte, 64))
	r := NewBinReaderFromBuf(w.Bytes())
	r.ReadVarBytes(32)
	require.Error(t, r.Err)
}

func TestTruncatedInput(t *testing.T) {
	r := NewBinReaderFromBuf([]byte{0xFD, 0x01})
	r.ReadVarUint()
	require.ErrorIs(t, r.Err, errDrained)
}

type pair struct {
	A uint32
	B []byte
}

func (p *pair) EncodeBinary(w *BinWriter) {
	w.WriteU32LE(p.A)
	w.WriteVarBytes(p.B)
}

func (p *pair) DecodeBinary(r *BinReader) {
	p.A = r.ReadU32LE()
	p.B = r.ReadVarBytes(MaxArraySize)
}

func TestFromBytesRejectsTrailing(t *testing.T) {
	p := &pair{A: 7, B: []byte{1, 2, 3}}
	b, err := ToBytes(p)
	require.NoError(t, err)

	var got pair
	require.NoError(t, FromBytes(b, &got))
	require.Equal(t, *p, got)

	require.ErrorIs(t, FromBytes(append(b, 0x00), &got), ErrNonCanonical)
}
