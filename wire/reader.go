package wire

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// MaxArraySize bounds any length prefix read from untrusted input.
const MaxArraySize = 0x1000000

var errDrained = errors.New("wire: unexpected end of input")

// BinReader is the decoding counterpart of BinWriter: sticky error, canonical
// varints only.
type BinReader struct {
	r   *bytes.Reader
	uv  [8]byte
	Err error
}

// NewBinReaderFromBuf returns a BinReader over data.
func NewBinReaderFromBuf(data []byte) *BinReader {
	return &BinReader{r: bytes.NewReader(data)}
}

// Len returns the number of unread bytes.
func (r *BinReader) Len() int {
	return r.r.Len()
}

// ReadBytes fills b from the input.
func (r *BinReader) ReadBytes(b []byte) {
	if r.Err != nil {
		return
	}
	if _, err := io.ReadFull(r.r, b); err != nil {
		r.Err = errDrained
	}
}

// ReadB reads a single byte.
func (r *BinReader) ReadB() byte {
	r.ReadBytes(r.uv[:1])
	if r.Err != nil {
		return 0
	}
	return r.uv[0]
}

// ReadBool reads a boolean byte, rejecting anything but 0 and 1.
func (r *BinReader) ReadBool() bool {
	b := r.ReadB()
	if r.Err == nil && b > 1 {
		r.Err = fmt.Errorf("%w: boolean byte 0x%x", ErrNonCanonical, b)
	}
	return b == 1
}

// ReadU16LE reads a little-endian uint16.
func (r *BinReader) ReadU16LE() uint16 {
	r.ReadBytes(r.uv[:2])
	if r.Err != nil {
		return 0
	}
	return binary.LittleEndian.Uint16(r.uv[:2])
}

// ReadU32LE reads a little-endian uint32.
func (r *BinReader) ReadU32LE() uint32 {
	r.ReadBytes(r.uv[:4])
	if r.Err != nil {
		return 0
	}
	return binary.LittleEndian.Uint32(r.uv[:4])
}

// ReadU64LE reads a little-endian uint64.
func (r *BinReader) ReadU64LE() uint64 {
	r.ReadBytes(r.uv[:8])
	if r.Err != nil {
		return 0
	}
	return binary.LittleEndian.Uint64(r.uv[:8])
}

// ReadVarUint reads a varint and rejects non-minimal forms, so every value
// has exactly one accepted encoding.
func (r *BinReader) ReadVarUint() uint64 {
	prefix := r.ReadB()
	if r.Err != nil {
		return 0
	}
	var v uint64
	switch prefix {
	case 0xFD:
		v = uint64(r.ReadU16LE())
		if r.Err == nil && v < 0xFD {
			r.Err = fmt.Errorf("%w: varint %d in 3-byte form", ErrNonCanonical, v)
		}
	case 0xFE:
		v = uint64(r.ReadU32LE())
		if r.Err == nil && v <= 0xFFFF {
			r.Err = fmt.Errorf("%w: varint %d in 5-byte form", ErrNonCanonical, v)
		}
	case 0xFF:
		v = r.ReadU64LE()
		if r.Err == nil && v <= 0xFFFFFFFF {
			r.Err = fmt.Errorf("%w: varint %d in 9-byte form", ErrNonCanonical, v)
		}
	default:
		v = uint64(prefix)
	}
	return v
}

// ReadVarBytes reads var-bytes with the given cap on length.
func (r *BinReader) ReadVarBytes(max int) []byte {
	n := r.ReadVarUint()
	if r.Err != nil {
		return nil
	}
	if n > uint64(max) {
		r.Err = fmt.Errorf("wire: byte string of %d exceeds limit %d", n, max)
		return nil
	}
	if n > uint64(r.Len()) {
		r.Err = errDrained
		return nil
	}
	b := make([]byte, n)
	r.ReadBytes(b)
	if r.Err != nil {
		return nil
	}
	return b
}

// ReadString reads a var-string with the given cap.
func (r *BinReader) ReadString(max int) string {
	return string(r.ReadVarBytes(max))
}

// ReadArrayCount reads an array length prefix bounded by max.
func (r *BinReader) ReadArrayCount(max int) int {
	n := r.ReadVarUint()
	if r.Err != nil {
		return 0
	}
	if n > uint64(max) {
		r.Err = fmt.Errorf("wire: array of %d exceeds limit %d", n, max)
		return 0
	}
	return int(n)
}
