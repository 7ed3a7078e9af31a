package wire

// VarUintSize returns the encoded length of a varint.
func VarUintSize(v uint64) int {
	switch {
	case v < 0xFD:
		return 1
	case v <= 0xFFFF:
		return 3
	case v <= 0xFFFFFFFF:
		return 5
	default:
		return 9
	}
}

// VarBytesSize returns the encoded length of var-bytes.
func VarBytesSize(b []byte) int {
	return VarUintSize(uint64(len(b))) + len(b)
}

// VarStringSize returns the encoded length of a var-string.
func VarStringSize(s string) int {
	return VarUintSize(uint64(len(s))) + len(s)
}

// SerializedSize returns the encoded length of s, or 0 on encoding failure.
func SerializedSize(s Serializable) int {
	w := NewBufBinWriter()
	s.EncodeBinary(w.BinWriter)
	if w.Err != nil {
		return 0
	}
	return len(w.Bytes())
}
