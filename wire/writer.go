// Package wire implements the canonical binary form shared by on-disk records
// and consensus payloads: little-endian integers, variable-length integers in
// their minimal 1/3/5/9-byte form, and length-prefixed arrays. Hashes are
// computed over this form and nothing else, so readers reject any encoding a
// writer here would not have produced.
package wire

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// Serializable is implemented by every record that travels through the codec.
type Serializable interface {
	EncodeBinary(*BinWriter)
	DecodeBinary(*BinReader)
}

// BinWriter wraps an io.Writer with a sticky error. After the first failure
// every subsequent call is a no-op, so callers check Err once at the end.
type BinWriter struct {
	w   io.Writer
	uv  [9]byte
	Err error
}

// NewBinWriter returns a BinWriter writing to w.
func NewBinWriter(w io.Writer) *BinWriter {
	return &BinWriter{w: w}
}

// WriteBytes writes b as-is, with no length prefix.
func (w *BinWriter) WriteBytes(b []byte) {
	if w.Err != nil {
		return
	}
	_, w.Err = w.w.Write(b)
}

// WriteB writes a single byte.
func (w *BinWriter) WriteB(b byte) {
	w.uv[0] = b
	w.WriteBytes(w.uv[:1])
}

// WriteBool writes a boolean as one byte, 1 for true.
func (w *BinWriter) WriteBool(v bool) {
	if v {
		w.WriteB(1)
	} else {
		w.WriteB(0)
	}
}

// WriteU16LE writes v in little-endian form.
func (w *BinWriter) WriteU16LE(v uint16) {
	binary.LittleEndian.PutUint16(w.uv[:2], v)
	w.WriteBytes(w.uv[:2])
}

// WriteU32LE writes v in little-endian form.
func (w *BinWriter) WriteU32LE(v uint32) {
	binary.LittleEndian.PutUint32(w.uv[:4], v)
	w.WriteBytes(w.uv[:4])
}

// WriteU64LE writes v in little-endian form.
func (w *BinWriter) WriteU64LE(v uint64) {
	binary.LittleEndian.PutUint64(w.uv[:8], v)
	w.WriteBytes(w.uv[:8])
}

// WriteVarUint writes v in its minimal varint form.
func (w *BinWriter) WriteVarUint(v uint64) {
	switch {
	case v < 0xFD:
		w.WriteB(byte(v))
	case v <= 0xFFFF:
		w.WriteB(0xFD)
		w.WriteU16LE(uint16(v))
	case v <= 0xFFFFFFFF:
		w.WriteB(0xFE)
		w.WriteU32LE(uint32(v))
	default:
		w.WriteB(0xFF)
		w.WriteU64LE(v)
	}
}

// WriteVarBytes writes a varint length prefix followed by b.
func (w *BinWriter) WriteVarBytes(b []byte) {
	w.WriteVarUint(uint64(len(b)))
	w.WriteBytes(b)
}

// WriteString writes s as var-bytes.
func (w *BinWriter) WriteString(s string) {
	w.WriteVarBytes([]byte(s))
}

// WriteArray writes a varint count followed by each element. It accepts a
// slice of Serializable implementations.
func (w *BinWriter) WriteArray(items []Serializable) {
	w.WriteVarUint(uint64(len(items)))
	for _, it := range items {
		it.EncodeBinary(w)
	}
}

// BufBinWriter is a BinWriter over an in-memory buffer, used wherever a
// record is serialized for hashing.
type BufBinWriter struct {
	*BinWriter
	buf bytes.Buffer
}

// NewBufBinWriter returns a ready-to-use buffered writer.
func NewBufBinWriter() *BufBinWriter {
	w := new(BufBinWriter)
	w.BinWriter = NewBinWriter(&w.buf)
	return w
}

// Bytes returns the accumulated bytes, or nil if any write failed.
func (w *BufBinWriter) Bytes() []byte {
	if w.Err != nil {
		return nil
	}
	return w.buf.Bytes()
}

// Reset makes the writer reusable.
func (w *BufBinWriter) Reset() {
	w.Err = nil
	w.buf.Reset()
}

// ToBytes serializes s through a fresh buffered writer.
func ToBytes(s Serializable) ([]byte, error) {
	w := NewBufBinWriter()
	s.EncodeBinary(w.BinWriter)
	if w.Err != nil {
		return nil, w.Err
	}
	return w.Bytes(), nil
}

// FromBytes decodes s from data and requires the whole input to be consumed.
func FromBytes(data []byte, s Serializable) error {
	r := NewBinReaderFromBuf(data)
	s.DecodeBinary(r)
	if r.Err != nil {
		return r.Err
	}
	if r.Len() != 0 {
		return fmt.Errorf("%w: %d trailing bytes", ErrNonCanonical, r.Len())
	}
	return nil
}

// ErrNonCanonical is returned when an input decodes but is not in the unique
// form the writer produces.
var ErrNonCanonical = errors.New("wire: non-canonical encoding")
