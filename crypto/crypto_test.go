package crypto

import (
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/gneo-network/gneo/common"
)

func TestHash160Hash256(t *testing.T) {
	// Pinned against independently computed digests of an empty input.
	require.Equal(t,
		"5df6e0e2761359d30a8275058e299fcc0381534545f55cf43e41983f5d4c9456",
		hex.EncodeToString(func() []byte { h := Hash256(nil); return h[:] }()))
	require.Equal(t,
		"b472a266d0bd89c13706a4132ccfb16f7c3b9fcb",
		hex.EncodeToString(func() []byte { h := Hash160(nil); return h[:] }()))
}

func TestAddressRoundTrip(t *testing.T) {
	u, err := common.Uint160FromHex("0x1234567890abcdef1234567890abcdef12345678")
	require.NoError(t, err)

	addr := AddressFromUint160(u)
	require.Equal(t, byte('N'), addr[0]) // version 0x35 maps into the N… range

	got, err := AddressToUint160(addr)
	require.NoError(t, err)
	require.Equal(t, u, got)
}

func TestAddressRejectsCorruption(t *testing.T) {
	u := common.Uint160{1, 2, 3}
	addr := AddressFromUint160(u)

	corrupted := []byte(addr)
	if corrupted[4] == 'z' {
		corrupted[4] = 'y'
	} else {
		corrupted[4] = 'z'
	}
	_, err := AddressToUint160(string(corrupted))
	require.Error(t, err)
}

func TestSignVerify(t *testing.T) {
	k, err := NewPrivateKey()
	require.NoError(t, err)

	msg := []byte("persist me")
	sig, err := k.Sign(msg)
	require.NoError(t, err)
	require.Len(t, sig, SignatureSize)

	require.True(t, k.PublicKey().Verify(msg, sig))
	require.False(t, k.PublicKey().Verify([]byte("другое"), sig))

	sig[0] ^= 0xFF
	require.False(t, k.PublicKey().Verify(msg, sig))
}

func TestSignHashableBindsMagic(t *testing.T) {
	k, err := NewPrivateKey()
	require.NoError(t, err)

	h := Sha256([]byte("header"))
	sig, err := k.SignHashable(0x4e454f54, h)
	require.NoError(t, err)

	require.True(t, k.PublicKey().VerifyHashable(0x4e454f54, h, sig))
	require.False(t, k.PublicKey().VerifyHashable(0x4e454f33, h, sig))
}

func TestPublicKeyRoundTrip(t *testing.T) {
	k, err := NewPrivateKey()
	require.NoError(t, err)

	b := k.PublicKey().Bytes()
	require.Len(t, b, PublicKeySize)

	got, err := NewPublicKeyFromBytes(b)
	require.NoError(t, err)
	require.Zero(t, got.Cmp(k.PublicKey()))

	_, err = NewPublicKeyFromBytes(b[:32])
	require.ErrorIs(t, err, ErrInvalidKey)
}

func TestVerificationScriptShape(t *testing.T) {
	k, err := NewPrivateKey()
	require.NoError(t, err)

	script := k.PublicKey().VerificationScript()
	require.Len(t, script, 40)
	require.True(t, IsSignatureContract(script))
	require.Equal(t, Hash160(script), k.PublicKey().ScriptHash())
}

func TestMultiSigRedeemScript(t *testing.T) {
	keys := make([]*PublicKey, 4)
	for i := range keys {
		k, err := NewPrivateKey()
		require.NoError(t, err)
		keys[i] = k.PublicKey()
	}

	script, err := CreateMultiSigRedeemScript(3, keys)
	require.NoError(t, err)
	require.NotEmpty(t, script)

	// Key order must not affect the contract.
	reordered := []*PublicKey{keys[2], keys[0], keys[3], keys[1]}
	script2, err := CreateMultiSigRedeemScript(3, reordered)
	require.NoError(t, err)
	require.Equal(t, script, script2)

	_, err = CreateMultiSigRedeemScript(5, keys)
	require.Error(t, err)
	_, err = CreateMultiSigRedeemScript(0, keys)
	require.Error(t, err)
}

func TestMerkleRoot(t *testing.T) {
	require.True(t, MerkleRoot(nil).IsZero())

	a := Sha256([]byte("a"))
	require.Equal(t, a, MerkleRoot([]common.Uint256{a}))

	b := Sha256([]byte("b"))
	ab := MerkleRoot([]common.Uint256{a, b})
	require.False(t, ab.Equals(a))

	// Odd layers duplicate the trailing element.
	c := Sha256([]byte("c"))
	abc := MerkleRoot([]common.Uint256{a, b, c})
	abcc := MerkleRoot([]common.Uint256{a, b, c, c})
	require.Equal(t, abcc, abc)
}
