// Package crypto implements the hash and signature primitives of the
// protocol: SHA-256, RIPEMD-160, the Hash160/Hash256 compositions, ECDSA over
// secp256r1 and secp256k1, verification scripts and Base58Check addresses.
package crypto

import (
	"crypto/sha256"

	"github.com/gneo-network/gneo/common"
	"golang.org/x/crypto/ripemd160"
)

// Sha256 returns the SHA-256 digest of b.
func Sha256(b []byte) common.Uint256 {
	return sha256.Sum256(b)
}

// Hash256 returns SHA-256 applied twice, the content hash used for blocks and
// transactions.
func Hash256(b []byte) common.Uint256 {
	h := sha256.Sum256(b)
	return sha256.Sum256(h[:])
}

// Ripemd160 returns the RIPEMD-160 digest of b.
func Ripemd160(b []byte) []byte {
	h := ripemd160.New()
	h.Write(b)
	return h.Sum(nil)
}

// Hash160 returns RIPEMD-160 over SHA-256, the script-hash derivation.
func Hash160(b []byte) common.Uint160 {
	h := sha256.Sum256(b)
	var u common.Uint160
	copy(u[:], Ripemd160(h[:]))
	return u
}

// Checksum returns the first four bytes of Hash256, used by Base58Check.
func Checksum(b []byte) []byte {
	h := Hash256(b)
	return h[:4]
}
