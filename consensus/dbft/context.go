package dbft

import (
	"github.com/gneo-network/gneo/common"
	"github.com/gneo-network/gneo/core/types"
	"github.com/gneo-network/gneo/crypto"
	"github.com/gneo-network/gneo/vm/emit"
	"github.com/gneo-network/gneo/wire"
)

// roundContext is the per-(height,view) consensus state. It is owned by the
// service goroutine; nothing else touches it.
type roundContext struct {
	height     uint32
	view       byte
	validators []*crypto.PublicKey
	myIndex    int

	// proposal state
	request      *PrepareRequest
	proposedTxs  []*types.Transaction
	header       *types.Header
	preparations map[byte]bool
	commits      map[byte][crypto.SignatureSize]byte
	changeViews  map[byte]byte // validator index -> requested new view
	// commitSent locks the node: no view change past a commit except via
	// recovery with a higher-view commit quorum.
	commitSent bool
	// blockDone stops further processing once a block was relayed.
	blockDone bool
}

func newRoundContext(height uint32, view byte, validators []*crypto.PublicKey, myIndex int) *roundContext {
	return &roundContext{
		height:       height,
		view:         view,
		validators:   validators,
		myIndex:      myIndex,
		preparations: make(map[byte]bool),
		commits:      make(map[byte][crypto.SignatureSize]byte),
		changeViews:  make(map[byte]byte),
	}
}

// N returns the validator count.
func (c *roundContext) N() int { return len(c.validators) }

// M returns the quorum size N - (N-1)/3.
func (c *roundContext) M() int { return c.N() - (c.N()-1)/3 }

// F returns the fault tolerance (N-1)/3.
func (c *roundContext) F() int { return (c.N() - 1) / 3 }

// primaryIndex selects the primary for the context's view.
func (c *roundContext) primaryIndex() int {
	n := uint64(c.N())
	// (height - view) mod N, guarded against wrap below zero.
	v := (uint64(c.height) + n - uint64(c.view)%n) % n
	return int(v)
}

func (c *roundContext) isPrimary() bool {
	return c.myIndex == c.primaryIndex()
}

// countPreparations includes the primary's implicit preparation.
func (c *roundContext) countPreparations() int {
	return len(c.preparations)
}

func (c *roundContext) countCommits() int {
	return len(c.commits)
}

// enoughChangeViews reports whether M validators want at least newView.
func (c *roundContext) enoughChangeViews(newView byte) bool {
	count := 0
	for _, v := range c.changeViews {
		if v >= newView {
			count++
		}
	}
	return count >= c.M()
}

// makeHeader assembles the candidate header for the current proposal.
func (c *roundContext) makeHeader(prevHash common.Uint256, nextConsensus common.Uint160, txs []*types.Transaction) *types.Header {
	b := &types.Block{
		Header: types.Header{
			PrevHash:      prevHash,
			Timestamp:     c.request.Timestamp,
			Nonce:         c.request.Nonce,
			Index:         c.height,
			PrimaryIndex:  byte(c.primaryIndex()),
			NextConsensus: nextConsensus,
		},
		Transactions: txs,
	}
	b.RebuildMerkleRoot()
	h := b.Header
	return &h
}

// makeWitness assembles the M-of-N multisig witness from collected commits,
// signatures ordered by the sorted validator keys.
func (c *roundContext) makeWitness() (*types.Witness, error) {
	script, err := crypto.CreateMultiSigRedeemScript(c.M(), c.validators)
	if err != nil {
		return nil, err
	}
	w := wire.NewBufBinWriter()
	count := 0
	for i := 0; i < c.N() && count < c.M(); i++ {
		sig, ok := c.commits[byte(i)]
		if !ok {
			continue
		}
		emit.Bytes(w.BinWriter, sig[:])
		count++
	}
	if w.Err != nil {
		return nil, w.Err
	}
	return &types.Witness{
		InvocationScript:   w.Bytes(),
		VerificationScript: script,
	}, nil
}
