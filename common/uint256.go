package common

import (
	"bytes"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
)

// Uint256Size is the byte length of a block, transaction or state-root hash.
const Uint256Size = 32

// Uint256 is a 32-byte content hash.
type Uint256 [Uint256Size]byte

var errInvalidUint256 = errors.New("common: invalid Uint256")

// Uint256FromBytes converts b to a Uint256. The length must be exact.
func Uint256FromBytes(b []byte) (Uint256, error) {
	var u Uint256
	if len(b) != Uint256Size {
		return u, fmt.Errorf("%w: expected %d bytes, got %d", errInvalidUint256, Uint256Size, len(b))
	}
	copy(u[:], b)
	return u, nil
}

// Uint256FromHex parses a hex string, with or without the 0x prefix.
func Uint256FromHex(s string) (Uint256, error) {
	s = strings.TrimPrefix(s, "0x")
	b, err := hex.DecodeString(s)
	if err != nil {
		return Uint256{}, err
	}
	return Uint256FromBytes(b)
}

// Bytes returns a fresh copy of the underlying bytes.
func (u Uint256) Bytes() []byte {
	return append([]byte(nil), u[:]...)
}

// Equals reports byte-wise equality.
func (u Uint256) Equals(other Uint256) bool {
	return u == other
}

// Less reports byte-wise ordering, most significant byte first.
func (u Uint256) Less(other Uint256) bool {
	return bytes.Compare(u[:], other[:]) < 0
}

// IsZero reports whether all bytes are zero.
func (u Uint256) IsZero() bool {
	return u == Uint256{}
}

func (u Uint256) String() string {
	return "0x" + hex.EncodeToString(u[:])
}
