// Package types defines the wire-level records of the protocol: blocks,
// transactions, signers, witnesses and attributes. Hashes are computed over
// the canonical encoding produced here and nowhere else.
package types

import (
	"github.com/gneo-network/gneo/common"
	"github.com/gneo-network/gneo/crypto"
	"github.com/gneo-network/gneo/wire"
)

// MaxInvocationScript bounds a witness invocation script; enough for an
// m-out-of-16 signature list.
const MaxInvocationScript = 1024

// MaxVerificationScript bounds a witness verification script.
const MaxVerificationScript = 1024

// Witness pairs an invocation script (pushing signatures) with the
// verification script whose hash names the account being witnessed.
type Witness struct {
	InvocationScript   []byte
	VerificationScript []byte
}

// ScriptHash returns the account the verification script stands for.
func (w *Witness) ScriptHash() common.Uint160 {
	return crypto.Hash160(w.VerificationScript)
}

// EncodeBinary implements wire.Serializable.
func (w *Witness) EncodeBinary(bw *wire.BinWriter) {
	bw.WriteVarBytes(w.InvocationScript)
	bw.WriteVarBytes(w.VerificationScript)
}

// DecodeBinary implements wire.Serializable.
func (w *Witness) DecodeBinary(br *wire.BinReader) {
	w.InvocationScript = br.ReadVarBytes(MaxInvocationScript)
	w.VerificationScript = br.ReadVarBytes(MaxVerificationScript)
}

// Size returns the serialized length.
func (w *Witness) Size() int {
	return wire.VarBytesSize(w.InvocationScript) + wire.VarBytesSize(w.VerificationScript)
}

// Copy returns a deep copy.
func (w *Witness) Copy() Witness {
	return Witness{
		InvocationScript:   append([]byte(nil), w.InvocationScript...),
		VerificationScript: append([]byte(nil), w.VerificationScript...),
	}
}
