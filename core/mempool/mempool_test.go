package mempool

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/gneo-network/gneo/common"
	"github.com/gneo-network/gneo/core/types"
)

func mkTx(nonce uint32, netFee int64, sender byte) *types.Transaction {
	return &types.Transaction{
		Nonce:      nonce,
		NetworkFee: netFee,
		Signers:    []types.Signer{{Account: common.Uint160{sender}}},
		Script:     []byte{0x40},
		Scripts:    []types.Witness{{}},
	}
}

func TestAddRemove(t *testing.T) {
	p := New(10)
	tx := mkTx(1, 100, 1)

	require.NoError(t, p.Add(tx))
	require.Equal(t, 1, p.Count())
	require.True(t, p.ContainsKey(tx.Hash()))
	require.ErrorIs(t, p.Add(tx), ErrDup)

	var removedReason RemovalReason
	p.OnRemoved = func(_ *types.Transaction, r RemovalReason) { removedReason = r }
	p.Remove(tx.Hash(), RemovalIncludedInBlock)
	require.Zero(t, p.Count())
	require.Equal(t, RemovalIncludedInBlock, removedReason)
}

func TestPriorityOrdering(t *testing.T) {
	p := New(10)
	low := mkTx(1, 100, 1)
	high := mkTx(2, 100000, 2)
	mid := mkTx(3, 5000, 3)

	require.NoError(t, p.Add(low))
	require.NoError(t, p.Add(high))
	require.NoError(t, p.Add(mid))

	got := p.GetVerified(0)
	require.Len(t, got, 3)
	require.Equal(t, high.Hash(), got[0].Hash())
	require.Equal(t, mid.Hash(), got[1].Hash())
	require.Equal(t, low.Hash(), got[2].Hash())

	require.Len(t, p.GetVerified(2), 2)
}

func TestArrivalBreaksTies(t *testing.T) {
	p := New(10)
	first := mkTx(1, 1000, 1)
	second := mkTx(2, 1000, 2)
	// Same fee and size; the earlier arrival wins.
	require.Equal(t, first.Size(), second.Size())

	require.NoError(t, p.Add(first))
	require.NoError(t, p.Add(second))
	got := p.GetVerified(0)
	require.Equal(t, first.Hash(), got[0].Hash())
}

func TestCapacityEviction(t *testing.T) {
	p := New(2)
	a := mkTx(1, 1000, 1)
	b := mkTx(2, 2000, 2)
	require.NoError(t, p.Add(a))
	require.NoError(t, p.Add(b))

	// A cheaper transaction bounces off a full pool.
	cheap := mkTx(3, 500, 3)
	require.ErrorIs(t, p.Add(cheap), ErrOOM)

	// A better-paying one evicts the worst entry.
	rich := mkTx(4, 90000, 4)
	require.NoError(t, p.Add(rich))
	require.Equal(t, 2, p.Count())
	require.False(t, p.ContainsKey(a.Hash()))
	require.True(t, p.ContainsKey(rich.Hash()))
}

func TestConflictAdmission(t *testing.T) {
	p := New(10)
	victim := mkTx(1, 1000, 1)
	require.NoError(t, p.Add(victim))

	// A pooled declarer with a higher fee blocks the declared hash.
	declarer := mkTx(2, 5000, 2)
	declarer.Attributes = []types.Attribute{{Type: types.ConflictsT, Conflict: victim.Hash()}}
	require.NoError(t, p.Add(declarer))
	require.True(t, p.HasConflict(victim.Hash()))

	reborn := mkTx(1, 1000, 1)
	p.Remove(victim.Hash(), RemovalUnknown)
	require.ErrorIs(t, p.Add(reborn), ErrConflict)

	// A declared transaction paying more than its declarer evicts it.
	expensive := mkTx(5, 90000, 5)
	cheapDeclarer := mkTx(6, 100, 6)
	cheapDeclarer.Attributes = []types.Attribute{{Type: types.ConflictsT, Conflict: expensive.Hash()}}
	require.NoError(t, p.Add(cheapDeclarer))
	require.NoError(t, p.Add(expensive))
	require.False(t, p.ContainsKey(cheapDeclarer.Hash()))
	require.True(t, p.ContainsKey(expensive.Hash()))
}

func TestSameSenderConflictEviction(t *testing.T) {
	p := New(10)
	old := mkTx(1, 1000, 7)
	require.NoError(t, p.Add(old))

	replacement := mkTx(2, 1500, 7)
	replacement.Attributes = []types.Attribute{{Type: types.ConflictsT, Conflict: old.Hash()}}
	require.NoError(t, p.Add(replacement))
	require.False(t, p.ContainsKey(old.Hash()))
	require.True(t, p.ContainsKey(replacement.Hash()))
}

func TestRemoveStale(t *testing.T) {
	p := New(10)
	keepTx := mkTx(1, 1000, 1)
	dropTx := mkTx(2, 1000, 2)
	dropTx.ValidUntilBlock = 5
	require.NoError(t, p.Add(keepTx))
	require.NoError(t, p.Add(dropTx))

	p.RemoveStale(func(tx *types.Transaction) bool {
		return tx.ValidUntilBlock == 0
	}, RemovalExpired)
	require.True(t, p.ContainsKey(keepTx.Hash()))
	require.False(t, p.ContainsKey(dropTx.Hash()))
}
