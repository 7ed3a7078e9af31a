package types

import (
	"errors"
	"fmt"

	"github.com/gneo-network/gneo/common"
	"github.com/gneo-network/gneo/crypto"
	"github.com/gneo-network/gneo/params"
	"github.com/gneo-network/gneo/wire"
)

// CurrentTxVersion is the only transaction version in circulation.
const CurrentTxVersion byte = 0

var (
	ErrEmptyScript      = errors.New("types: transaction script is empty")
	ErrNegativeFee      = errors.New("types: negative fee")
	ErrNoSigners        = errors.New("types: transaction carries no signers")
	ErrDuplicateSigner  = errors.New("types: duplicate signer account")
	ErrTooManySigners   = errors.New("types: too many signers")
	ErrTxTooBig         = errors.New("types: transaction exceeds size limit")
	ErrWitnessCount     = errors.New("types: witness count differs from signer count")
	ErrUnsupportedVersion = errors.New("types: unsupported transaction version")
)

// Transaction is the unit of work a block orders. The hash covers every field
// but the witnesses.
type Transaction struct {
	Version         byte
	Nonce           uint32
	SystemFee       int64
	NetworkFee      int64
	ValidUntilBlock uint32
	Signers         []Signer
	Attributes      []Attribute
	Script          []byte
	Scripts         []Witness

	hash     common.Uint256
	hashed   bool
	size     int
}

// Hash returns the transaction hash, computing and caching it on first use.
func (t *Transaction) Hash() common.Uint256 {
	if !t.hashed {
		w := wire.NewBufBinWriter()
		t.encodeUnsigned(w.BinWriter)
		t.hash = crypto.Hash256(w.Bytes())
		t.hashed = true
	}
	return t.hash
}

// Sender returns the fee-paying account, the first signer.
func (t *Transaction) Sender() common.Uint160 {
	return t.Signers[0].Account
}

// Size returns the serialized length, cached after the first call.
func (t *Transaction) Size() int {
	if t.size == 0 {
		t.size = wire.SerializedSize(t)
	}
	return t.size
}

// FeePerByte returns the network fee divided by the serialized size.
func (t *Transaction) FeePerByte() int64 {
	return t.NetworkFee / int64(t.Size())
}

// Conflicts returns the hashes declared by Conflicts attributes.
func (t *Transaction) Conflicts() []common.Uint256 {
	var out []common.Uint256
	for i := range t.Attributes {
		if t.Attributes[i].Type == ConflictsT {
			out = append(out, t.Attributes[i].Conflict)
		}
	}
	return out
}

// GetAttribute returns the first attribute of the given type, or nil.
func (t *Transaction) GetAttribute(typ AttrType) *Attribute {
	for i := range t.Attributes {
		if t.Attributes[i].Type == typ {
			return &t.Attributes[i]
		}
	}
	return nil
}

func (t *Transaction) encodeUnsigned(w *wire.BinWriter) {
	w.WriteB(t.Version)
	w.WriteU32LE(t.Nonce)
	w.WriteU64LE(uint64(t.SystemFee))
	w.WriteU64LE(uint64(t.NetworkFee))
	w.WriteU32LE(t.ValidUntilBlock)
	w.WriteVarUint(uint64(len(t.Signers)))
	for i := range t.Signers {
		t.Signers[i].EncodeBinary(w)
	}
	w.WriteVarUint(uint64(len(t.Attributes)))
	for i := range t.Attributes {
		t.Attributes[i].EncodeBinary(w)
	}
	w.WriteVarBytes(t.Script)
}

// EncodeBinary implements wire.Serializable.
func (t *Transaction) EncodeBinary(w *wire.BinWriter) {
	t.encodeUnsigned(w)
	w.WriteVarUint(uint64(len(t.Scripts)))
	for i := range t.Scripts {
		t.Scripts[i].EncodeBinary(w)
	}
}

// DecodeBinary implements wire.Serializable. Structural rules that need no
// chain state are enforced here, so a decoded transaction is at least
// shape-valid.
func (t *Transaction) DecodeBinary(r *wire.BinReader) {
	t.Version = r.ReadB()
	if r.Err == nil && t.Version != CurrentTxVersion {
		r.Err = fmt.Errorf("%w: %d", ErrUnsupportedVersion, t.Version)
		return
	}
	t.Nonce = r.ReadU32LE()
	t.SystemFee = int64(r.ReadU64LE())
	t.NetworkFee = int64(r.ReadU64LE())
	if r.Err == nil && (t.SystemFee < 0 || t.NetworkFee < 0) {
		r.Err = ErrNegativeFee
		return
	}
	t.ValidUntilBlock = r.ReadU32LE()

	n := r.ReadArrayCount(params.MaxSigners)
	if r.Err != nil {
		return
	}
	if n == 0 {
		r.Err = ErrNoSigners
		return
	}
	t.Signers = make([]Signer, n)
	for i := 0; i < n; i++ {
		t.Signers[i].DecodeBinary(r)
		if r.Err != nil {
			return
		}
	}
	if err := checkDistinctSigners(t.Signers); err != nil {
		r.Err = err
		return
	}

	na := r.ReadArrayCount(params.MaxAttributes)
	if r.Err != nil {
		return
	}
	t.Attributes = make([]Attribute, na)
	seen := make(map[AttrType]bool, na)
	for i := 0; i < na; i++ {
		t.Attributes[i].DecodeBinary(r)
		if r.Err != nil {
			return
		}
		typ := t.Attributes[i].Type
		if seen[typ] && !typ.AllowsMultiple() {
			r.Err = fmt.Errorf("%w: 0x%x", ErrDuplicateAttribute, byte(typ))
			return
		}
		seen[typ] = true
	}

	t.Script = r.ReadVarBytes(params.MaxScriptSize)
	if r.Err == nil && len(t.Script) == 0 {
		r.Err = ErrEmptyScript
		return
	}

	nw := r.ReadArrayCount(params.MaxSigners)
	if r.Err != nil {
		return
	}
	if nw != n {
		r.Err = ErrWitnessCount
		return
	}
	t.Scripts = make([]Witness, nw)
	for i := 0; i < nw; i++ {
		t.Scripts[i].DecodeBinary(r)
	}
	t.hashed = false
	t.size = 0
}

func checkDistinctSigners(signers []Signer) error {
	for i := range signers {
		for j := i + 1; j < len(signers); j++ {
			if signers[i].Account.Equals(signers[j].Account) {
				return ErrDuplicateSigner
			}
		}
	}
	return nil
}

// NewTransactionFromBytes decodes and size-checks a transaction.
func NewTransactionFromBytes(data []byte) (*Transaction, error) {
	if len(data) > params.MaxTransactionSize {
		return nil, ErrTxTooBig
	}
	t := new(Transaction)
	if err := wire.FromBytes(data, t); err != nil {
		return nil, err
	}
	t.size = len(data)
	return t, nil
}
