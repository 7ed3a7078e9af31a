package core

import (
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/gneo-network/gneo/common"
	"github.com/gneo-network/gneo/core/mempool"
	"github.com/gneo-network/gneo/core/types"
	"github.com/gneo-network/gneo/params"
)

// ErrReorgFailed marks a reorganization the ledger could not complete; the
// original chain is restored before it returns.
var ErrReorgFailed = errors.New("core: reorganization failed")

func (bc *Blockchain) addOrphan(b *types.Block) error {
	if len(bc.orphans) >= params.MaxOrphanBlocks {
		// Drop an arbitrary bucket; orphan space is best-effort.
		for k := range bc.orphans {
			delete(bc.orphans, k)
			break
		}
	}
	for _, o := range bc.orphans[b.PrevHash] {
		if o.Hash().Equals(b.Hash()) {
			return ErrOrphan
		}
	}
	bc.orphans[b.PrevHash] = append(bc.orphans[b.PrevHash], b)
	bc.log.Debug("stored orphan block",
		zap.Uint32("index", b.Index),
		zap.String("hash", b.Hash().String()))
	return ErrOrphan
}

// processOrphansOf re-evaluates blocks that waited for parent, transitively.
func (bc *Blockchain) processOrphansOf(parent common.Uint256) {
	pending := bc.orphans[parent]
	if pending == nil {
		return
	}
	delete(bc.orphans, parent)
	for _, b := range pending {
		if err := bc.addBlockLocked(b); err != nil && !errors.Is(err, ErrAlreadyExists) {
			bc.log.Debug("orphan re-evaluation failed",
				zap.Uint32("index", b.Index), zap.Error(err))
		}
	}
}

// knownSideParent reports whether b extends a known non-head block.
func (bc *Blockchain) knownSideParent(b *types.Block) bool {
	if _, ok := bc.sideBlocks[b.PrevHash]; ok {
		return true
	}
	// A persisted ancestor below the head is a fork point.
	if parent, err := bc.dao.GetBlock(b.PrevHash); err == nil {
		return parent.Index == b.Index-1 && parent.Index < bc.height.Load()
	}
	return false
}

// maybeReorg compares the side chain ending at tip with the main chain and
// switches when the side chain wins: longer, or equal length with a lower
// tip primary index, then a lower tip hash.
func (bc *Blockchain) maybeReorg(tip *types.Block) error {
	altChain, forkPoint, err := bc.assembleSideChain(tip)
	if err != nil {
		return err
	}
	head := bc.height.Load()
	mainLen := head - forkPoint
	altLen := tip.Index - forkPoint
	if altLen < mainLen {
		return nil
	}
	if altLen == mainLen {
		mainTip, err := bc.GetBlock(bc.CurrentBlockHash())
		if err != nil {
			return err
		}
		if tip.PrimaryIndex > mainTip.PrimaryIndex {
			return nil
		}
		if tip.PrimaryIndex == mainTip.PrimaryIndex && !tip.Hash().Less(mainTip.Hash()) {
			return nil
		}
	}
	return bc.reorganize(forkPoint, altChain)
}

// assembleSideChain walks tip backwards through side blocks to the canonical
// chain and returns the ordered alternative segment.
func (bc *Blockchain) assembleSideChain(tip *types.Block) ([]*types.Block, uint32, error) {
	var chain []*types.Block
	cur := tip
	for {
		chain = append([]*types.Block{cur}, chain...)
		canonical, err := bc.dao.GetBlockHash(cur.Index - 1)
		if err == nil && canonical.Equals(cur.PrevHash) {
			return chain, cur.Index - 1, nil
		}
		parent, ok := bc.sideBlocks[cur.PrevHash]
		if !ok {
			return nil, 0, fmt.Errorf("%w: side chain parent %s missing", ErrOrphan, cur.PrevHash)
		}
		cur = parent
	}
}

// reorganize rolls the head back to forkPoint and applies the side chain.
func (bc *Blockchain) reorganize(forkPoint uint32, altChain []*types.Block) error {
	head := bc.height.Load()
	bc.log.Info("reorganizing",
		zap.Uint32("head", head),
		zap.Uint32("fork_point", forkPoint),
		zap.Int("alt_blocks", len(altChain)))

	// Keep the abandoned blocks for mempool resurrection and for restoring
	// the original chain if the switch fails.
	var abandoned []*types.Block
	for h := forkPoint + 1; h <= head; h++ {
		hash, err := bc.dao.GetBlockHash(h)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrReorgFailed, err)
		}
		b, err := bc.GetBlock(hash)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrReorgFailed, err)
		}
		abandoned = append(abandoned, b)
	}

	// Undo first (head down to the fork point), then re-validate the pool;
	// rolled-back conflict records vanish with their blocks.
	for h := head; h > forkPoint; h-- {
		if err := bc.rollbackBlock(h); err != nil {
			return fmt.Errorf("%w: rollback of %d: %v", ErrReorgFailed, h, err)
		}
	}

	applied := uint32(0)
	var applyErr error
	for _, b := range altChain {
		if err := bc.verifyHeaderAgainstParent(&b.Header); err != nil {
			applyErr = err
			break
		}
		if err := bc.storeBlock(b, false); err != nil {
			applyErr = err
			break
		}
		delete(bc.sideBlocks, b.Hash())
		applied++
	}
	if applyErr != nil {
		// Restore the original chain; these blocks persisted before, so a
		// failure here is fatal storage corruption.
		for h := forkPoint + applied; h > forkPoint; h-- {
			if err := bc.rollbackBlock(h); err != nil {
				return fmt.Errorf("%w: restore rollback: %v", ErrStorage, err)
			}
		}
		for _, b := range abandoned {
			if err := bc.storeBlock(b, false); err != nil {
				return fmt.Errorf("%w: restore apply: %v", ErrStorage, err)
			}
		}
		return fmt.Errorf("%w: %v", ErrReorgFailed, applyErr)
	}

	// Abandoned transactions become pool candidates again.
	for _, b := range abandoned {
		for _, tx := range b.Transactions {
			if bc.dao.HasTransaction(tx.Hash()) {
				continue
			}
			if err := bc.poolTxLocked(tx); err != nil {
				bc.log.Debug("abandoned transaction not re-admitted",
					zap.String("hash", tx.Hash().String()), zap.Error(err))
			}
		}
	}
	// Remaining pool entries re-validate against the new chain.
	bc.revalidatePool()
	return nil
}

// rollbackBlock reverses one block via its undo log. The log covers every
// write of the persist, the head pointer included.
func (bc *Blockchain) rollbackBlock(h uint32) error {
	undo, err := bc.dao.GetUndoLog(h)
	if err != nil {
		return err
	}
	hash, err := bc.dao.GetBlockHash(h)
	if err == nil {
		bc.blockCache.Remove(hash)
	}
	if err := bc.dao.ApplyUndoLog(undo); err != nil {
		return err
	}
	if err := bc.dao.DeleteUndoLog(h); err != nil {
		return err
	}
	if _, err := bc.dao.Persist(); err != nil {
		return err
	}
	bc.height.Store(h - 1)
	blockHeightGauge.Set(float64(h - 1))
	return nil
}

// revalidatePool drops entries the new chain state refuses.
func (bc *Blockchain) revalidatePool() {
	bc.pool.RemoveStale(func(tx *types.Transaction) bool {
		return bc.verifyTxStateful(tx) == nil
	}, mempool.RemovalRevalidationFailed)
}
