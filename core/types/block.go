package types

import (
	"errors"

	"github.com/gneo-network/gneo/common"
	"github.com/gneo-network/gneo/crypto"
	"github.com/gneo-network/gneo/wire"
)

// MaxTxPerBlockCap is the absolute cap on transactions carried by one block;
// the PolicyContract enforces the (lower) configured value.
const MaxTxPerBlockCap = 0xFFFF

var (
	ErrMerkleMismatch = errors.New("types: merkle root does not match transactions")
	ErrNoBlockWitness = errors.New("types: block carries no witness")
)

// Header is everything a block commits to except its transactions' bodies.
// The hash covers every field but the witness.
type Header struct {
	Version       uint32
	PrevHash      common.Uint256
	MerkleRoot    common.Uint256
	Timestamp     uint64
	Nonce         uint64
	Index         uint32
	PrimaryIndex  byte
	NextConsensus common.Uint160
	Witness       Witness

	hash   common.Uint256
	hashed bool
}

// Hash returns the header hash, computing and caching it on first use.
func (h *Header) Hash() common.Uint256 {
	if !h.hashed {
		w := wire.NewBufBinWriter()
		h.encodeHashable(w.BinWriter)
		h.hash = crypto.Hash256(w.Bytes())
		h.hashed = true
	}
	return h.hash
}

func (h *Header) encodeHashable(w *wire.BinWriter) {
	w.WriteU32LE(h.Version)
	w.WriteBytes(h.PrevHash[:])
	w.WriteBytes(h.MerkleRoot[:])
	w.WriteU64LE(h.Timestamp)
	w.WriteU64LE(h.Nonce)
	w.WriteU32LE(h.Index)
	w.WriteB(h.PrimaryIndex)
	w.WriteBytes(h.NextConsensus[:])
}

// EncodeBinary implements wire.Serializable.
func (h *Header) EncodeBinary(w *wire.BinWriter) {
	h.encodeHashable(w)
	w.WriteVarUint(1)
	h.Witness.EncodeBinary(w)
}

// DecodeBinary implements wire.Serializable.
func (h *Header) DecodeBinary(r *wire.BinReader) {
	h.Version = r.ReadU32LE()
	r.ReadBytes(h.PrevHash[:])
	r.ReadBytes(h.MerkleRoot[:])
	h.Timestamp = r.ReadU64LE()
	h.Nonce = r.ReadU64LE()
	h.Index = r.ReadU32LE()
	h.PrimaryIndex = r.ReadB()
	r.ReadBytes(h.NextConsensus[:])
	if n := r.ReadVarUint(); r.Err == nil && n != 1 {
		r.Err = ErrNoBlockWitness
		return
	}
	h.Witness.DecodeBinary(r)
	h.hashed = false
}

// Block is a header plus its ordered transactions.
type Block struct {
	Header
	Transactions []*Transaction
}

// ComputeMerkleRoot returns the Merkle root over the block's transaction
// hashes.
func (b *Block) ComputeMerkleRoot() common.Uint256 {
	hashes := make([]common.Uint256, len(b.Transactions))
	for i, tx := range b.Transactions {
		hashes[i] = tx.Hash()
	}
	return crypto.MerkleRoot(hashes)
}

// RebuildMerkleRoot recomputes and stores the Merkle root, invalidating the
// cached header hash.
func (b *Block) RebuildMerkleRoot() {
	b.MerkleRoot = b.ComputeMerkleRoot()
	b.hashed = false
}

// CheckMerkleRoot verifies the header's commitment to the transaction list.
func (b *Block) CheckMerkleRoot() error {
	if !b.MerkleRoot.Equals(b.ComputeMerkleRoot()) {
		return ErrMerkleMismatch
	}
	return nil
}

// EncodeBinary implements wire.Serializable.
func (b *Block) EncodeBinary(w *wire.BinWriter) {
	b.Header.EncodeBinary(w)
	w.WriteVarUint(uint64(len(b.Transactions)))
	for _, tx := range b.Transactions {
		tx.EncodeBinary(w)
	}
}

// DecodeBinary implements wire.Serializable.
func (b *Block) DecodeBinary(r *wire.BinReader) {
	b.Header.DecodeBinary(r)
	n := r.ReadArrayCount(MaxTxPerBlockCap)
	if r.Err != nil {
		return
	}
	b.Transactions = make([]*Transaction, n)
	for i := 0; i < n; i++ {
		b.Transactions[i] = new(Transaction)
		b.Transactions[i].DecodeBinary(r)
		if r.Err != nil {
			return
		}
	}
}
