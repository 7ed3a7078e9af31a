package state

import (
	"math/big"

	"github.com/gneo-network/gneo/common"
	"github.com/gneo-network/gneo/crypto"
	"github.com/gneo-network/gneo/vm/stackitem"
	"github.com/gneo-network/gneo/wire"
)

// GASBalance is the account record of the utility token.
type GASBalance struct {
	Balance *big.Int
}

// EncodeBinary implements wire.Serializable.
func (g *GASBalance) EncodeBinary(w *wire.BinWriter) {
	w.WriteVarBytes(stackitem.BigIntToBytes(g.Balance))
}

// DecodeBinary implements wire.Serializable.
func (g *GASBalance) DecodeBinary(r *wire.BinReader) {
	g.Balance = stackitem.BigIntFromBytes(r.ReadVarBytes(stackitem.MaxIntegerBytes))
}

// NEOBalance is the account record of the governance token: balance, the
// height it last changed (for reward computation) and the current vote.
type NEOBalance struct {
	Balance       *big.Int
	BalanceHeight uint32
	VoteTo        *crypto.PublicKey
	// LastGasPerVote remembers the reward curve position at the last claim.
	LastGasPerVote *big.Int
}

// EncodeBinary implements wire.Serializable.
func (n *NEOBalance) EncodeBinary(w *wire.BinWriter) {
	w.WriteVarBytes(stackitem.BigIntToBytes(n.Balance))
	w.WriteU32LE(n.BalanceHeight)
	if n.VoteTo != nil {
		w.WriteBool(true)
		n.VoteTo.EncodeBinary(w)
	} else {
		w.WriteBool(false)
	}
	w.WriteVarBytes(stackitem.BigIntToBytes(n.LastGasPerVote))
}

// DecodeBinary implements wire.Serializable.
func (n *NEOBalance) DecodeBinary(r *wire.BinReader) {
	n.Balance = stackitem.BigIntFromBytes(r.ReadVarBytes(stackitem.MaxIntegerBytes))
	n.BalanceHeight = r.ReadU32LE()
	if r.ReadBool() {
		n.VoteTo = new(crypto.PublicKey)
		n.VoteTo.DecodeBinary(r)
	}
	n.LastGasPerVote = stackitem.BigIntFromBytes(r.ReadVarBytes(stackitem.MaxIntegerBytes))
}

// Candidate is one registered committee candidate.
type Candidate struct {
	Registered bool
	Votes      *big.Int
}

// EncodeBinary implements wire.Serializable.
func (c *Candidate) EncodeBinary(w *wire.BinWriter) {
	w.WriteBool(c.Registered)
	w.WriteVarBytes(stackitem.BigIntToBytes(c.Votes))
}

// DecodeBinary implements wire.Serializable.
func (c *Candidate) DecodeBinary(r *wire.BinReader) {
	c.Registered = r.ReadBool()
	c.Votes = stackitem.BigIntFromBytes(r.ReadVarBytes(stackitem.MaxIntegerBytes))
}

// OracleRequest is a pending oracle request.
type OracleRequest struct {
	OriginalTxID     common.Uint256
	GasForResponse   int64
	URL              string
	Filter           string
	CallbackContract common.Uint160
	CallbackMethod   string
	UserData         []byte
}

// EncodeBinary implements wire.Serializable.
func (o *OracleRequest) EncodeBinary(w *wire.BinWriter) {
	w.WriteBytes(o.OriginalTxID[:])
	w.WriteU64LE(uint64(o.GasForResponse))
	w.WriteString(o.URL)
	w.WriteString(o.Filter)
	w.WriteBytes(o.CallbackContract[:])
	w.WriteString(o.CallbackMethod)
	w.WriteVarBytes(o.UserData)
}

// DecodeBinary implements wire.Serializable.
func (o *OracleRequest) DecodeBinary(r *wire.BinReader) {
	r.ReadBytes(o.OriginalTxID[:])
	o.GasForResponse = int64(r.ReadU64LE())
	o.URL = r.ReadString(256)
	o.Filter = r.ReadString(128)
	r.ReadBytes(o.CallbackContract[:])
	o.CallbackMethod = r.ReadString(32)
	o.UserData = r.ReadVarBytes(stackitem.MaxSize)
}
