// Package mpt implements the modified Merkle Patricia trie that turns the
// flat storage key space into a single content-addressed state root per
// block, with inclusion proofs for any committed key.
package mpt

import (
	"errors"
	"fmt"

	"github.com/gneo-network/gneo/common"
	"github.com/gneo-network/gneo/crypto"
	"github.com/gneo-network/gneo/wire"
)

// Node kinds on the wire.
const (
	branchT    byte = 0x00
	extensionT byte = 0x01
	leafT      byte = 0x02
	hashT      byte = 0x03
	emptyT     byte = 0x04
)

// childrenCount is 16 nibble branches plus the terminal value slot.
const childrenCount = 17

// lastChild indexes the terminal value slot of a branch.
const lastChild = childrenCount - 1

// MaxKeyLength bounds nibble-expanded keys accepted by the trie.
const MaxKeyLength = (64 + 4) * 2

// MaxValueLength bounds stored values.
const MaxValueLength = 65535 + 1

var (
	// ErrNotFound is returned for keys without a value.
	ErrNotFound = errors.New("mpt: item not found")
	// ErrRestoreFailed is returned when a node referenced by hash is absent
	// from the backing store.
	ErrRestoreFailed = errors.New("mpt: failed to restore node")
)

type node interface {
	wire.Serializable
	Hash() common.Uint256
	Kind() byte
}

// baseNode caches the node hash across traversals.
type baseNode struct {
	hash      common.Uint256
	hashValid bool
}

func (b *baseNode) getHash(n node) common.Uint256 {
	if !b.hashValid {
		b.hash = hashNode(n)
		b.hashValid = true
	}
	return b.hash
}

func (b *baseNode) invalidate() {
	b.hashValid = false
}

func hashNode(n node) common.Uint256 {
	data, err := wire.ToBytes(n)
	if err != nil {
		panic(fmt.Sprintf("mpt: encoding node for hashing: %v", err))
	}
	return crypto.Sha256(data)
}

type branchNode struct {
	baseNode
	children [childrenCount]node
}

func newBranchNode() *branchNode {
	var b branchNode
	for i := range b.children {
		b.children[i] = emptyNode{}
	}
	return &b
}

func (b *branchNode) Kind() byte { return branchT }

func (b *branchNode) Hash() common.Uint256 { return b.getHash(b) }

func (b *branchNode) EncodeBinary(w *wire.BinWriter) {
	w.WriteB(branchT)
	for i := range b.children {
		encodeChild(w, b.children[i])
	}
}

func (b *branchNode) DecodeBinary(r *wire.BinReader) {
	for i := range b.children {
		b.children[i] = decodeChild(r)
	}
}

type extensionNode struct {
	baseNode
	key  []byte
	next node
}

func (e *extensionNode) Kind() byte { return extensionT }

func (e *extensionNode) Hash() common.Uint256 { return e.getHash(e) }

func (e *extensionNode) EncodeBinary(w *wire.BinWriter) {
	w.WriteB(extensionT)
	w.WriteVarBytes(e.key)
	encodeChild(w, e.next)
}

func (e *extensionNode) DecodeBinary(r *wire.BinReader) {
	e.key = r.ReadVarBytes(MaxKeyLength)
	e.next = decodeChild(r)
}

type leafNode struct {
	baseNode
	value []byte
}

func (l *leafNode) Kind() byte { return leafT }

func (l *leafNode) Hash() common.Uint256 { return l.getHash(l) }

func (l *leafNode) EncodeBinary(w *wire.BinWriter) {
	w.WriteB(leafT)
	w.WriteVarBytes(l.value)
}

func (l *leafNode) DecodeBinary(r *wire.BinReader) {
	l.value = r.ReadVarBytes(MaxValueLength)
}

// hashNodeRef stands in for an unloaded subtree.
type hashNodeRef struct {
	hash common.Uint256
}

func (h hashNodeRef) Kind() byte { return hashT }

func (h hashNodeRef) Hash() common.Uint256 { return h.hash }

func (h hashNodeRef) EncodeBinary(w *wire.BinWriter) {
	w.WriteB(hashT)
	w.WriteBytes(h.hash[:])
}

func (h hashNodeRef) DecodeBinary(r *wire.BinReader) {
	r.ReadBytes(h.hash[:])
}

type emptyNode struct{}

func (emptyNode) Kind() byte { return emptyT }

func (emptyNode) Hash() common.Uint256 { return common.Uint256{} }

func (emptyNode) EncodeBinary(w *wire.BinWriter) {
	w.WriteB(emptyT)
}

func (emptyNode) DecodeBinary(r *wire.BinReader) {}

func encodeChild(w *wire.BinWriter, n node) {
	switch n.Kind() {
	case emptyT:
		w.WriteB(emptyT)
	default:
		h := n.Hash()
		w.WriteB(hashT)
		w.WriteBytes(h[:])
	}
}

func decodeChild(r *wire.BinReader) node {
	switch t := r.ReadB(); t {
	case emptyT:
		return emptyNode{}
	case hashT:
		var h hashNodeRef
		r.ReadBytes(h.hash[:])
		return h
	default:
		r.Err = fmt.Errorf("mpt: unexpected child tag 0x%x", t)
		return emptyNode{}
	}
}

// decodeNode restores a full node from its serialized form.
func decodeNode(data []byte) (node, error) {
	r := wire.NewBinReaderFromBuf(data)
	var n node
	switch t := r.ReadB(); t {
	case branchT:
		b := newBranchNode()
		b.DecodeBinary(r)
		n = b
	case extensionT:
		e := new(extensionNode)
		e.DecodeBinary(r)
		n = e
	case leafT:
		l := new(leafNode)
		l.DecodeBinary(r)
		n = l
	case emptyT:
		n = emptyNode{}
	default:
		return nil, fmt.Errorf("mpt: unknown node tag 0x%x", t)
	}
	if r.Err != nil {
		return nil, r.Err
	}
	return n, nil
}
