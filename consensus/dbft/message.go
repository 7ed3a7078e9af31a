// Package dbft implements the dBFT 2.0 consensus actor: view-scoped
// prepare/commit collection, exponential view-change timers, recovery, and
// block emission into the ledger.
package dbft

import (
	"errors"
	"fmt"

	"github.com/gneo-network/gneo/common"
	"github.com/gneo-network/gneo/crypto"
	"github.com/gneo-network/gneo/wire"
)

// Category is the extensible-payload category consensus traffic uses.
const Category = "dBFT"

// MessageType tags consensus messages.
type MessageType byte

// Message types.
const (
	ChangeViewType      MessageType = 0x00
	PrepareRequestType  MessageType = 0x20
	PrepareResponseType MessageType = 0x21
	CommitType          MessageType = 0x30
	RecoveryRequestType MessageType = 0x40
	RecoveryMessageType MessageType = 0x41
)

// ChangeView reasons.
const (
	CVTimeout               byte = 0x0
	CVTxNotFound            byte = 0x2
	CVTxInvalid             byte = 0x4
	CVBlockRejectedByPolicy byte = 0x5
)

// MaxTxHashes bounds one proposal's transaction list.
const MaxTxHashes = 0xFFFF

var errBadMessage = errors.New("dbft: malformed message")

// Message is one consensus message, carried serialized inside an
// ExtensiblePayload.
type Message struct {
	Type           MessageType
	BlockIndex     uint32
	ValidatorIndex byte
	ViewNumber     byte

	PrepareRequest  *PrepareRequest
	PrepareResponse *PrepareResponse
	Commit          *Commit
	ChangeView      *ChangeView
	Recovery        *RecoveryMessage
}

// PrepareRequest is the primary's proposal.
type PrepareRequest struct {
	Timestamp         uint64
	Nonce             uint64
	TransactionHashes []common.Uint256
}

// PrepareResponse acknowledges a proposal by its preparation hash.
type PrepareResponse struct {
	PreparationHash common.Uint256
}

// Commit carries a validator's signature over the candidate header hash.
type Commit struct {
	Signature [crypto.SignatureSize]byte
}

// ChangeView asks to move to a higher view.
type ChangeView struct {
	NewViewNumber byte
	Timestamp     uint64
	Reason        byte
}

// RecoveryMessage replays what a node has seen for a height, letting peers
// rejoin after a gap.
type RecoveryMessage struct {
	ChangeViews      []ChangeViewCompact
	PrepareRequest   *PrepareRequest
	PrepareResponses []PreparationCompact
	Commits          []CommitCompact
}

// ChangeViewCompact is one validator's recorded view change.
type ChangeViewCompact struct {
	ValidatorIndex     byte
	OriginalViewNumber byte
	Timestamp          uint64
}

// PreparationCompact is one validator's recorded preparation.
type PreparationCompact struct {
	ValidatorIndex byte
}

// CommitCompact is one validator's recorded commit.
type CommitCompact struct {
	ViewNumber     byte
	ValidatorIndex byte
	Signature      [crypto.SignatureSize]byte
}

// EncodeBinary implements wire.Serializable.
func (m *Message) EncodeBinary(w *wire.BinWriter) {
	w.WriteB(byte(m.Type))
	w.WriteU32LE(m.BlockIndex)
	w.WriteB(m.ValidatorIndex)
	w.WriteB(m.ViewNumber)
	switch m.Type {
	case PrepareRequestType:
		m.PrepareRequest.EncodeBinary(w)
	case PrepareResponseType:
		w.WriteBytes(m.PrepareResponse.PreparationHash[:])
	case CommitType:
		w.WriteBytes(m.Commit.Signature[:])
	case ChangeViewType:
		w.WriteB(m.ChangeView.NewViewNumber)
		w.WriteU64LE(m.ChangeView.Timestamp)
		w.WriteB(m.ChangeView.Reason)
	case RecoveryRequestType:
	case RecoveryMessageType:
		m.Recovery.EncodeBinary(w)
	default:
		w.Err = fmt.Errorf("%w: type 0x%x", errBadMessage, byte(m.Type))
	}
}

// DecodeBinary implements wire.Serializable.
func (m *Message) DecodeBinary(r *wire.BinReader) {
	m.Type = MessageType(r.ReadB())
	m.BlockIndex = r.ReadU32LE()
	m.ValidatorIndex = r.ReadB()
	m.ViewNumber = r.ReadB()
	switch m.Type {
	case PrepareRequestType:
		m.PrepareRequest = new(PrepareRequest)
		m.PrepareRequest.DecodeBinary(r)
	case PrepareResponseType:
		m.PrepareResponse = new(PrepareResponse)
		r.ReadBytes(m.PrepareResponse.PreparationHash[:])
	case CommitType:
		m.Commit = new(Commit)
		r.ReadBytes(m.Commit.Signature[:])
	case ChangeViewType:
		m.ChangeView = new(ChangeView)
		m.ChangeView.NewViewNumber = r.ReadB()
		m.ChangeView.Timestamp = r.ReadU64LE()
		m.ChangeView.Reason = r.ReadB()
	case RecoveryRequestType:
	case RecoveryMessageType:
		m.Recovery = new(RecoveryMessage)
		m.Recovery.DecodeBinary(r)
	default:
		r.Err = fmt.Errorf("%w: type 0x%x", errBadMessage, byte(m.Type))
	}
}

// EncodeBinary implements wire.Serializable.
func (p *PrepareRequest) EncodeBinary(w *wire.BinWriter) {
	w.WriteU64LE(p.Timestamp)
	w.WriteU64LE(p.Nonce)
	w.WriteVarUint(uint64(len(p.TransactionHashes)))
	for i := range p.TransactionHashes {
		w.WriteBytes(p.TransactionHashes[i][:])
	}
}

// DecodeBinary implements wire.Serializable.
func (p *PrepareRequest) DecodeBinary(r *wire.BinReader) {
	p.Timestamp = r.ReadU64LE()
	p.Nonce = r.ReadU64LE()
	n := r.ReadArrayCount(MaxTxHashes)
	p.TransactionHashes = make([]common.Uint256, n)
	for i := 0; i < n; i++ {
		r.ReadBytes(p.TransactionHashes[i][:])
	}
}

// EncodeBinary implements wire.Serializable.
func (rm *RecoveryMessage) EncodeBinary(w *wire.BinWriter) {
	w.WriteVarUint(uint64(len(rm.ChangeViews)))
	for i := range rm.ChangeViews {
		w.WriteB(rm.ChangeViews[i].ValidatorIndex)
		w.WriteB(rm.ChangeViews[i].OriginalViewNumber)
		w.WriteU64LE(rm.ChangeViews[i].Timestamp)
	}
	w.WriteBool(rm.PrepareRequest != nil)
	if rm.PrepareRequest != nil {
		rm.PrepareRequest.EncodeBinary(w)
	}
	w.WriteVarUint(uint64(len(rm.PrepareResponses)))
	for i := range rm.PrepareResponses {
		w.WriteB(rm.PrepareResponses[i].ValidatorIndex)
	}
	w.WriteVarUint(uint64(len(rm.Commits)))
	for i := range rm.Commits {
		w.WriteB(rm.Commits[i].ViewNumber)
		w.WriteB(rm.Commits[i].ValidatorIndex)
		w.WriteBytes(rm.Commits[i].Signature[:])
	}
}

// DecodeBinary implements wire.Serializable.
func (rm *RecoveryMessage) DecodeBinary(r *wire.BinReader) {
	n := r.ReadArrayCount(255)
	rm.ChangeViews = make([]ChangeViewCompact, n)
	for i := 0; i < n; i++ {
		rm.ChangeViews[i].ValidatorIndex = r.ReadB()
		rm.ChangeViews[i].OriginalViewNumber = r.ReadB()
		rm.ChangeViews[i].Timestamp = r.ReadU64LE()
	}
	if r.ReadBool() {
		rm.PrepareRequest = new(PrepareRequest)
		rm.PrepareRequest.DecodeBinary(r)
	}
	n = r.ReadArrayCount(255)
	rm.PrepareResponses = make([]PreparationCompact, n)
	for i := 0; i < n; i++ {
		rm.PrepareResponses[i].ValidatorIndex = r.ReadB()
	}
	n = r.ReadArrayCount(255)
	rm.Commits = make([]CommitCompact, n)
	for i := 0; i < n; i++ {
		rm.Commits[i].ViewNumber = r.ReadB()
		rm.Commits[i].ValidatorIndex = r.ReadB()
		r.ReadBytes(rm.Commits[i].Signature[:])
	}
}
