package crypto

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/gneo-network/gneo/common"
	"github.com/mr-tron/base58"
)

// AddressVersion is the version byte prepended to a script hash before
// Base58Check encoding.
const AddressVersion byte = 0x35

var (
	errAddressChecksum = errors.New("crypto: address checksum mismatch")
	errAddressVersion  = errors.New("crypto: unexpected address version")
	errAddressLength   = errors.New("crypto: invalid address length")
)

// AddressFromUint160 encodes a script hash as a Base58Check address.
func AddressFromUint160(u common.Uint160) string {
	buf := make([]byte, 0, 1+common.Uint160Size+4)
	buf = append(buf, AddressVersion)
	buf = append(buf, u[:]...)
	buf = append(buf, Checksum(buf)...)
	return base58.Encode(buf)
}

// AddressToUint160 decodes a Base58Check address back to its script hash.
func AddressToUint160(addr string) (common.Uint160, error) {
	raw, err := base58.Decode(addr)
	if err != nil {
		return common.Uint160{}, fmt.Errorf("crypto: %w", err)
	}
	if len(raw) != 1+common.Uint160Size+4 {
		return common.Uint160{}, errAddressLength
	}
	payload, check := raw[:len(raw)-4], raw[len(raw)-4:]
	if !bytes.Equal(Checksum(payload), check) {
		return common.Uint160{}, errAddressChecksum
	}
	if payload[0] != AddressVersion {
		return common.Uint160{}, fmt.Errorf("%w: 0x%x", errAddressVersion, payload[0])
	}
	return common.Uint160FromBytes(payload[1:])
}
