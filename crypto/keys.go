package crypto

import (
	"bytes"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"sort"

	"github.com/btcsuite/btcd/btcec/v2"

	"github.com/gneo-network/gneo/common"
	"github.com/gneo-network/gneo/vm/emit"
	"github.com/gneo-network/gneo/vm/opcode"
	"github.com/gneo-network/gneo/wire"
)

// PublicKeySize is the compressed public key length.
const PublicKeySize = 33

// SignatureSize is the length of an r||s signature.
const SignatureSize = 64

var (
	ErrInvalidKey       = errors.New("crypto: invalid public key")
	ErrInvalidSignature = errors.New("crypto: invalid signature length")
)

// PublicKey is a compressed secp256r1 point. secp256k1 verification lives in
// VerifySecp256k1 and is reachable only through the CryptoLib native.
type PublicKey struct {
	X, Y *big.Int
}

// NewPublicKeyFromBytes decompresses a 33-byte secp256r1 point.
func NewPublicKeyFromBytes(b []byte) (*PublicKey, error) {
	if len(b) != PublicKeySize {
		return nil, fmt.Errorf("%w: %d bytes", ErrInvalidKey, len(b))
	}
	x, y := elliptic.UnmarshalCompressed(elliptic.P256(), b)
	if x == nil {
		return nil, ErrInvalidKey
	}
	return &PublicKey{X: x, Y: y}, nil
}

// Bytes returns the compressed form.
func (p *PublicKey) Bytes() []byte {
	return elliptic.MarshalCompressed(elliptic.P256(), p.X, p.Y)
}

// EncodeBinary implements wire.Serializable.
func (p *PublicKey) EncodeBinary(w *wire.BinWriter) {
	w.WriteBytes(p.Bytes())
}

// DecodeBinary implements wire.Serializable.
func (p *PublicKey) DecodeBinary(r *wire.BinReader) {
	b := make([]byte, PublicKeySize)
	r.ReadBytes(b)
	if r.Err != nil {
		return
	}
	k, err := NewPublicKeyFromBytes(b)
	if err != nil {
		r.Err = err
		return
	}
	*p = *k
}

// Verify checks a 64-byte r||s signature over the SHA-256 digest of msg.
func (p *PublicKey) Verify(msg, sig []byte) bool {
	if len(sig) != SignatureSize {
		return false
	}
	pk := &ecdsa.PublicKey{Curve: elliptic.P256(), X: p.X, Y: p.Y}
	h := Sha256(msg)
	rr := new(big.Int).SetBytes(sig[:32])
	ss := new(big.Int).SetBytes(sig[32:])
	return ecdsa.Verify(pk, h[:], rr, ss)
}

// VerifyHashable checks sig over the network-magic-prefixed digest used for
// blocks, transactions and consensus payloads.
func (p *PublicKey) VerifyHashable(magic uint32, hash common.Uint256, sig []byte) bool {
	return p.Verify(hashableDigest(magic, hash), sig)
}

// VerificationScript returns the canonical single-signature contract.
func (p *PublicKey) VerificationScript() []byte {
	w := wire.NewBufBinWriter()
	emit.Bytes(w.BinWriter, p.Bytes())
	emit.Syscall(w.BinWriter, "System.Crypto.CheckSig")
	return w.Bytes()
}

// ScriptHash returns the script hash of the single-signature contract.
func (p *PublicKey) ScriptHash() common.Uint160 {
	return Hash160(p.VerificationScript())
}

// Address returns the Base58Check form of ScriptHash.
func (p *PublicKey) Address() string {
	return AddressFromUint160(p.ScriptHash())
}

// Cmp imposes the byte-wise ordering used for multi-signature key lists.
func (p *PublicKey) Cmp(other *PublicKey) int {
	return bytes.Compare(p.Bytes(), other.Bytes())
}

// SortKeys sorts keys in place by compressed encoding.
func SortKeys(keys []*PublicKey) {
	sort.Slice(keys, func(i, j int) bool { return keys[i].Cmp(keys[j]) < 0 })
}

// PrivateKey is a secp256r1 scalar. Only test fixtures and the consensus
// signer construct these; the node never stores raw key material.
type PrivateKey struct {
	d   *big.Int
	pub *PublicKey
}

// NewPrivateKey generates a fresh random key.
func NewPrivateKey() (*PrivateKey, error) {
	k, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, err
	}
	return &PrivateKey{d: k.D, pub: &PublicKey{X: k.X, Y: k.Y}}, nil
}

// NewPrivateKeyFromBytes builds a key from a 32-byte scalar.
func NewPrivateKeyFromBytes(b []byte) (*PrivateKey, error) {
	if len(b) != 32 {
		return nil, fmt.Errorf("%w: private scalar must be 32 bytes", ErrInvalidKey)
	}
	d := new(big.Int).SetBytes(b)
	if d.Sign() == 0 || d.Cmp(elliptic.P256().Params().N) >= 0 {
		return nil, ErrInvalidKey
	}
	x, y := elliptic.P256().ScalarBaseMult(b)
	return &PrivateKey{d: d, pub: &PublicKey{X: x, Y: y}}, nil
}

// PublicKey returns the corresponding public key.
func (k *PrivateKey) PublicKey() *PublicKey {
	return k.pub
}

// Sign produces a 64-byte r||s signature over the SHA-256 digest of msg.
func (k *PrivateKey) Sign(msg []byte) ([]byte, error) {
	priv := &ecdsa.PrivateKey{
		PublicKey: ecdsa.PublicKey{Curve: elliptic.P256(), X: k.pub.X, Y: k.pub.Y},
		D:         k.d,
	}
	h := Sha256(msg)
	r, s, err := ecdsa.Sign(rand.Reader, priv, h[:])
	if err != nil {
		return nil, err
	}
	sig := make([]byte, SignatureSize)
	r.FillBytes(sig[:32])
	s.FillBytes(sig[32:])
	return sig, nil
}

// SignHashable signs the network-magic-prefixed digest of hash.
func (k *PrivateKey) SignHashable(magic uint32, hash common.Uint256) ([]byte, error) {
	return k.Sign(hashableDigest(magic, hash))
}

func hashableDigest(magic uint32, hash common.Uint256) []byte {
	buf := make([]byte, 4+common.Uint256Size)
	buf[0] = byte(magic)
	buf[1] = byte(magic >> 8)
	buf[2] = byte(magic >> 16)
	buf[3] = byte(magic >> 24)
	copy(buf[4:], hash[:])
	return buf
}

// VerifySecp256k1 checks a 64-byte r||s secp256k1 signature over the SHA-256
// digest of msg.
func VerifySecp256k1(pubKey, msg, sig []byte) bool {
	if len(sig) != SignatureSize {
		return false
	}
	pk, err := btcec.ParsePubKey(pubKey)
	if err != nil {
		return false
	}
	h := Sha256(msg)
	rr := new(big.Int).SetBytes(sig[:32])
	ss := new(big.Int).SetBytes(sig[32:])
	return ecdsa.Verify(pk.ToECDSA(), h[:], rr, ss)
}

// CreateMultiSigRedeemScript builds the canonical m-out-of-n contract over
// the given keys. Keys are sorted by encoding; m must not exceed n.
func CreateMultiSigRedeemScript(m int, keys []*PublicKey) ([]byte, error) {
	if m < 1 || m > len(keys) {
		return nil, fmt.Errorf("crypto: invalid signature threshold %d of %d", m, len(keys))
	}
	sorted := make([]*PublicKey, len(keys))
	copy(sorted, keys)
	SortKeys(sorted)

	w := wire.NewBufBinWriter()
	emit.Int(w.BinWriter, int64(m))
	for _, k := range sorted {
		emit.Bytes(w.BinWriter, k.Bytes())
	}
	emit.Int(w.BinWriter, int64(len(sorted)))
	emit.Syscall(w.BinWriter, "System.Crypto.CheckMultisig")
	if w.Err != nil {
		return nil, w.Err
	}
	return w.Bytes(), nil
}

// IsSignatureContract reports whether script is a canonical single-signature
// verification script.
func IsSignatureContract(script []byte) bool {
	return len(script) == 40 &&
		script[0] == byte(opcode.PUSHDATA1) && script[1] == PublicKeySize &&
		script[35] == byte(opcode.SYSCALL)
}

// BFTAddress returns the script hash of the n−(n−1)/3 multi-signature
// contract over the given validators, the next_consensus commitment.
func BFTAddress(validators []*PublicKey) (common.Uint160, error) {
	n := len(validators)
	script, err := CreateMultiSigRedeemScript(n-(n-1)/3, validators)
	if err != nil {
		return common.Uint160{}, err
	}
	return Hash160(script), nil
}
