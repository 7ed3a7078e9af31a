package types

import (
	"errors"

	"github.com/gneo-network/gneo/common"
	"github.com/gneo-network/gneo/crypto"
	"github.com/gneo-network/gneo/wire"
)

// MaxExtensibleCategory bounds the category string of an extensible payload.
const MaxExtensibleCategory = 32

// MaxExtensibleData bounds the payload body.
const MaxExtensibleData = 0xFFFF

// ErrInvalidExtensible is returned for structurally broken payloads.
var ErrInvalidExtensible = errors.New("types: invalid extensible payload")

// ExtensiblePayload carries consensus (and other service) messages between
// nodes. The witness signs the payload hash on behalf of Sender.
type ExtensiblePayload struct {
	Category        string
	ValidBlockStart uint32
	ValidBlockEnd   uint32
	Sender          common.Uint160
	Data            []byte
	Witness         Witness

	hash   common.Uint256
	hashed bool
}

// Hash returns the payload hash over everything but the witness.
func (p *ExtensiblePayload) Hash() common.Uint256 {
	if !p.hashed {
		w := wire.NewBufBinWriter()
		p.encodeUnsigned(w.BinWriter)
		p.hash = crypto.Hash256(w.Bytes())
		p.hashed = true
	}
	return p.hash
}

func (p *ExtensiblePayload) encodeUnsigned(w *wire.BinWriter) {
	w.WriteString(p.Category)
	w.WriteU32LE(p.ValidBlockStart)
	w.WriteU32LE(p.ValidBlockEnd)
	w.WriteBytes(p.Sender[:])
	w.WriteVarBytes(p.Data)
}

// EncodeBinary implements wire.Serializable.
func (p *ExtensiblePayload) EncodeBinary(w *wire.BinWriter) {
	p.encodeUnsigned(w)
	w.WriteB(1)
	p.Witness.EncodeBinary(w)
}

// DecodeBinary implements wire.Serializable.
func (p *ExtensiblePayload) DecodeBinary(r *wire.BinReader) {
	p.Category = r.ReadString(MaxExtensibleCategory)
	p.ValidBlockStart = r.ReadU32LE()
	p.ValidBlockEnd = r.ReadU32LE()
	if r.Err == nil && p.ValidBlockStart >= p.ValidBlockEnd {
		r.Err = ErrInvalidExtensible
		return
	}
	r.ReadBytes(p.Sender[:])
	p.Data = r.ReadVarBytes(MaxExtensibleData)
	if n := r.ReadB(); r.Err == nil && n != 1 {
		r.Err = ErrInvalidExtensible
		return
	}
	p.Witness.DecodeBinary(r)
	p.hashed = false
}
