package native

import (
	"errors"
	"fmt"

	"github.com/gneo-network/gneo/common"
	"github.com/gneo-network/gneo/core/interop"
	"github.com/gneo-network/gneo/core/state"
	"github.com/gneo-network/gneo/core/types"
	"github.com/gneo-network/gneo/vm/callflag"
	"github.com/gneo-network/gneo/vm/stackitem"
)

var errUntraceable = errors.New("native: block outside the traceable horizon")

// Ledger exposes a read-only view over persisted blocks and transactions,
// trimmed to the traceable horizon.
type Ledger struct {
	baseContract
}

func newLedger() *Ledger {
	l := &Ledger{baseContract{interop.NewContractMD("LedgerContract", LedgerID)}}
	md := l.md
	md.Methods = []interop.Method{
		{Name: "currentHash", Handler: l.currentHash, CPUFee: 1 << 15, RequiredFlags: callflag.ReadStates},
		{Name: "currentIndex", Handler: l.currentIndex, CPUFee: 1 << 15, RequiredFlags: callflag.ReadStates},
		{Name: "getBlock", Handler: l.getBlock, CPUFee: 1 << 16, RequiredFlags: callflag.ReadStates, ParamCount: 1},
		{Name: "getTransaction", Handler: l.getTransaction, CPUFee: 1 << 15, RequiredFlags: callflag.ReadStates, ParamCount: 1},
		{Name: "getTransactionHeight", Handler: l.getTransactionHeight, CPUFee: 1 << 15, RequiredFlags: callflag.ReadStates, ParamCount: 1},
		{Name: "getTransactionVMState", Handler: l.getTransactionVMState, CPUFee: 1 << 15, RequiredFlags: callflag.ReadStates, ParamCount: 1},
	}
	return l
}

func (l *Ledger) traceable(ic *interop.Context, index uint32) bool {
	height := ic.Chain.BlockHeight()
	horizon := uint32(ic.Cfg.MaxTraceableBlocks)
	return index <= height && (height < horizon || index >= height-horizon+1)
}

func (l *Ledger) currentHash(ic *interop.Context, _ []stackitem.Item) (stackitem.Item, error) {
	h, err := ic.Chain.GetBlockHash(ic.Chain.BlockHeight())
	if err != nil {
		return nil, err
	}
	return stackitem.ByteArray(h[:]), nil
}

func (l *Ledger) currentIndex(ic *interop.Context, _ []stackitem.Item) (stackitem.Item, error) {
	return stackitem.Make(int64(ic.Chain.BlockHeight())), nil
}

func (l *Ledger) blockByArg(ic *interop.Context, arg stackitem.Item) (*types.Block, error) {
	b, err := arg.TryBytes()
	if err != nil {
		return nil, err
	}
	var hash common.Uint256
	switch len(b) {
	case common.Uint256Size:
		hash, _ = common.Uint256FromBytes(b)
	default:
		index, err := arg.TryInteger()
		if err != nil || !index.IsInt64() || index.Sign() < 0 || index.Int64() > 1<<32-1 {
			return nil, fmt.Errorf("native: bad block identifier")
		}
		hash, err = ic.Chain.GetBlockHash(uint32(index.Int64()))
		if err != nil {
			return nil, err
		}
	}
	block, err := ic.Chain.GetBlock(hash)
	if err != nil {
		return nil, err
	}
	if !l.traceable(ic, block.Index) {
		return nil, errUntraceable
	}
	return block, nil
}

func (l *Ledger) getBlock(ic *interop.Context, args []stackitem.Item) (stackitem.Item, error) {
	block, err := l.blockByArg(ic, args[0])
	if err != nil {
		return stackitem.Null{}, nil
	}
	h := block.Hash()
	return stackitem.NewArray([]stackitem.Item{
		stackitem.ByteArray(h[:]),
		stackitem.Make(int64(block.Version)),
		stackitem.ByteArray(block.PrevHash[:]),
		stackitem.ByteArray(block.MerkleRoot[:]),
		stackitem.Make(block.Timestamp),
		stackitem.Make(block.Nonce),
		stackitem.Make(int64(block.Index)),
		stackitem.Make(int64(block.PrimaryIndex)),
		stackitem.ByteArray(block.NextConsensus[:]),
		stackitem.Make(len(block.Transactions)),
	}), nil
}

func (l *Ledger) txByArg(ic *interop.Context, arg stackitem.Item) (*types.Transaction, uint32, error) {
	hash, err := toUint256(arg)
	if err != nil {
		return nil, 0, err
	}
	tx, height, err := ic.Chain.GetTransaction(hash)
	if err != nil {
		return nil, 0, err
	}
	if !l.traceable(ic, height) {
		return nil, 0, errUntraceable
	}
	return tx, height, nil
}

func (l *Ledger) getTransaction(ic *interop.Context, args []stackitem.Item) (stackitem.Item, error) {
	tx, _, err := l.txByArg(ic, args[0])
	if err != nil {
		return stackitem.Null{}, nil
	}
	h := tx.Hash()
	sender := tx.Sender()
	return stackitem.NewArray([]stackitem.Item{
		stackitem.ByteArray(h[:]),
		stackitem.Make(int64(tx.Version)),
		stackitem.Make(int64(tx.Nonce)),
		stackitem.ByteArray(sender[:]),
		stackitem.Make(tx.SystemFee),
		stackitem.Make(tx.NetworkFee),
		stackitem.Make(int64(tx.ValidUntilBlock)),
		stackitem.ByteArray(tx.Script),
	}), nil
}

func (l *Ledger) getTransactionHeight(ic *interop.Context, args []stackitem.Item) (stackitem.Item, error) {
	_, height, err := l.txByArg(ic, args[0])
	if err != nil {
		return stackitem.Make(-1), nil
	}
	return stackitem.Make(int64(height)), nil
}

func (l *Ledger) getTransactionVMState(ic *interop.Context, args []stackitem.Item) (stackitem.Item, error) {
	hash, err := toUint256(args[0])
	if err != nil {
		return nil, err
	}
	aer, err := ic.DAO.GetAppExecResult(hash, state.TriggerApplication)
	if err != nil {
		return stackitem.Make(0), nil // NONE
	}
	return stackitem.Make(int64(aer.VMState)), nil
}
