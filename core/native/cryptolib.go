package native

import (
	"fmt"

	"github.com/twmb/murmur3"

	"github.com/gneo-network/gneo/core/interop"
	"github.com/gneo-network/gneo/crypto"
	"github.com/gneo-network/gneo/vm/stackitem"
)

// Named curves accepted by verifyWithECDsa.
const (
	curveSecp256k1 = 22
	curveSecp256r1 = 23
)

// CryptoLib provides deterministic hash and signature helpers.
type CryptoLib struct {
	baseContract
}

func newCryptoLib() *CryptoLib {
	c := &CryptoLib{baseContract{interop.NewContractMD("CryptoLib", CryptoLibID)}}
	md := c.md
	md.Methods = []interop.Method{
		{Name: "sha256", Handler: c.sha256, CPUFee: 1 << 15, ParamCount: 1},
		{Name: "ripemd160", Handler: c.ripemd160, CPUFee: 1 << 15, ParamCount: 1},
		{Name: "murmur32", Handler: c.murmur32, CPUFee: 1 << 13, ParamCount: 2},
		{Name: "verifyWithECDsa", Handler: c.verifyWithECDsa, CPUFee: 1 << 15, ParamCount: 4},
	}
	return c
}

func (c *CryptoLib) sha256(_ *interop.Context, args []stackitem.Item) (stackitem.Item, error) {
	b, err := args[0].TryBytes()
	if err != nil {
		return nil, err
	}
	h := crypto.Sha256(b)
	return stackitem.ByteArray(h[:]), nil
}

func (c *CryptoLib) ripemd160(_ *interop.Context, args []stackitem.Item) (stackitem.Item, error) {
	b, err := args[0].TryBytes()
	if err != nil {
		return nil, err
	}
	return stackitem.ByteArray(crypto.Ripemd160(b)), nil
}

func (c *CryptoLib) murmur32(_ *interop.Context, args []stackitem.Item) (stackitem.Item, error) {
	b, err := args[0].TryBytes()
	if err != nil {
		return nil, err
	}
	seed, err := toInt64(args[1])
	if err != nil {
		return nil, err
	}
	h := murmur3.SeedSum32(uint32(seed), b)
	out := []byte{byte(h), byte(h >> 8), byte(h >> 16), byte(h >> 24)}
	return stackitem.ByteArray(out), nil
}

func (c *CryptoLib) verifyWithECDsa(_ *interop.Context, args []stackitem.Item) (stackitem.Item, error) {
	msg, err := args[0].TryBytes()
	if err != nil {
		return nil, err
	}
	pubKey, err := args[1].TryBytes()
	if err != nil {
		return nil, err
	}
	sig, err := args[2].TryBytes()
	if err != nil {
		return nil, err
	}
	curve, err := toInt64(args[3])
	if err != nil {
		return nil, err
	}
	switch curve {
	case curveSecp256r1:
		key, err := crypto.NewPublicKeyFromBytes(pubKey)
		if err != nil {
			return stackitem.Bool(false), nil
		}
		return stackitem.Bool(key.Verify(msg, sig)), nil
	case curveSecp256k1:
		return stackitem.Bool(crypto.VerifySecp256k1(pubKey, msg, sig)), nil
	default:
		return nil, fmt.Errorf("%w: curve %d", ErrOutOfBounds, curve)
	}
}
