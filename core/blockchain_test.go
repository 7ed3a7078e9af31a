package core_test

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/gneo-network/gneo/common"
	"github.com/gneo-network/gneo/core"
	"github.com/gneo-network/gneo/core/state"
	"github.com/gneo-network/gneo/core/types"
	"github.com/gneo-network/gneo/internal/testchain"
	"github.com/gneo-network/gneo/params"
	"github.com/gneo-network/gneo/storage"
	"github.com/gneo-network/gneo/vm"
	"github.com/gneo-network/gneo/vm/opcode"
	"github.com/gneo-network/gneo/wire"
	"go.uber.org/zap/zaptest"
)

func TestGenesisDeterministic(t *testing.T) {
	a := testchain.NewChain(t)
	b := testchain.NewChain(t)

	require.Equal(t, uint32(0), a.BlockHeight())
	require.Equal(t, a.CurrentBlockHash(), b.CurrentBlockHash())
	require.False(t, a.CurrentBlockHash().IsZero())

	rootA, err := a.GetStateRoot(0)
	require.NoError(t, err)
	rootB, err := b.GetStateRoot(0)
	require.NoError(t, err)
	require.Equal(t, rootA, rootB)

	// Native contracts live at their fixed hashes with default policy.
	require.Equal(t, int64(params.DefaultFeePerByte), a.FeePerByte())
	natives := a.Natives()
	seen := map[common.Uint160]bool{}
	for _, n := range natives.All {
		h := n.Metadata().Hash
		require.False(t, h.IsZero())
		require.False(t, seen[h], "hash collision for %s", n.Metadata().Name)
		seen[h] = true
		// Hashes derive from names only, never from state.
		require.Equal(t, h, b.Natives().ByHash(h).Metadata().Hash)
	}

	// The full token supplies sit with the consensus account.
	holder := testchain.MultisigAccount(t)
	require.Equal(t, big.NewInt(100_000_000), a.GetGoverningBalance(holder))
	require.Equal(t, big.NewInt(a.Config().InitialGASSupply), a.GetUtilityBalance(holder))
}

func TestMarkerMismatchRefusesOpen(t *testing.T) {
	store := storage.NewMemoryStore()
	_, err := core.NewBlockchain(store, testchain.Config(t), zaptest.NewLogger(t))
	require.NoError(t, err)

	cfg := testchain.Config(t)
	cfg.Magic = 0x4e454f33
	_, err = core.NewBlockchain(store, cfg, zaptest.NewLogger(t))
	require.ErrorIs(t, err, storage.ErrMarkerMismatch)
}

func TestSimpleTransfer(t *testing.T) {
	bc := testchain.NewChain(t)
	from := testchain.MultisigAccount(t)
	to := common.Uint160{0xBB}
	neoHash := bc.Natives().NEO.Metadata().Hash

	tx := testchain.NewTransferTx(t, bc, neoHash, to, 10)
	gasBefore := bc.GetUtilityBalance(from)

	block := testchain.NewBlock(t, bc, tx)
	require.NoError(t, bc.AddBlock(block))
	require.Equal(t, uint32(1), bc.BlockHeight())

	aer, err := bc.GetAppExecResult(tx.Hash(), state.TriggerApplication)
	require.NoError(t, err)
	require.Equal(t, vm.HaltState, aer.VMState)

	// Governing balances move in whole units.
	require.Equal(t, big.NewInt(100_000_000-10), bc.GetGoverningBalance(from))
	require.Equal(t, big.NewInt(10), bc.GetGoverningBalance(to))

	// A Transfer notification names the token, sender and amount.
	var found bool
	for _, e := range aer.Events {
		if e.Name == "Transfer" && e.ScriptHash.Equals(neoHash) {
			found = true
		}
	}
	require.True(t, found)

	// The sender paid its fees and collected one block of holder reward
	// (10% of 5 GAS at full stake).
	fees := tx.SystemFee + tx.NetworkFee
	expected := new(big.Int).Sub(gasBefore, big.NewInt(fees))
	expected.Add(expected, big.NewInt(params.GasPerBlock/10))
	require.Equal(t, expected, bc.GetUtilityBalance(from))

	// Duplicate submission is refused.
	require.ErrorIs(t, bc.PoolTx(tx), core.ErrAlreadyExists)
}

func TestGasExhaustionFaults(t *testing.T) {
	bc := testchain.NewChain(t)
	from := testchain.MultisigAccount(t)

	w := wire.NewBufBinWriter()
	w.WriteB(byte(opcode.NOP))
	w.WriteB(byte(opcode.JMP))
	w.WriteB(0xFF)
	loop := w.Bytes()

	tx := &types.Transaction{
		Nonce:           7,
		SystemFee:       1_000_000,
		NetworkFee:      2_000_000,
		ValidUntilBlock: 100,
		Signers:         []types.Signer{{Account: from, Scopes: types.ScopeCalledByEntry}},
		Script:          loop,
	}
	testchain.SignTxMultisig(t, tx)

	gasBefore := bc.GetUtilityBalance(from)
	block := testchain.NewBlock(t, bc, tx)
	require.NoError(t, bc.AddBlock(block))

	aer, err := bc.GetAppExecResult(tx.Hash(), state.TriggerApplication)
	require.NoError(t, err)
	require.Equal(t, vm.FaultState, aer.VMState)
	require.GreaterOrEqual(t, aer.GasConsumed, int64(1_000_000))
	require.Empty(t, aer.Events)

	// Fees burn even on fault, and the discarded delta means no reward
	// mint reached the account.
	fees := tx.SystemFee + tx.NetworkFee
	expected := new(big.Int).Sub(gasBefore, big.NewInt(fees))
	require.Equal(t, expected, bc.GetUtilityBalance(from))
}

func TestExpiredTxRejected(t *testing.T) {
	bc := testchain.NewChain(t)
	neoHash := bc.Natives().NEO.Metadata().Hash
	tx := testchain.NewTransferTx(t, bc, neoHash, common.Uint160{1}, 1)
	tx.ValidUntilBlock = 0
	testchain.SignTxMultisig(t, tx)
	require.ErrorIs(t, bc.PoolTx(tx), core.ErrTxExpired)
}

func TestForkAndReorganize(t *testing.T) {
	bc := testchain.NewChain(t)
	genesis, err := bc.GetBlock(bc.CurrentBlockHash())
	require.NoError(t, err)

	b1 := testchain.NewBlockOver(t, genesis, 0)
	require.NoError(t, bc.AddBlock(b1))
	b2a := testchain.NewBlockOver(t, b1, 0)
	require.NoError(t, bc.AddBlock(b2a))
	b3a := testchain.NewBlockOver(t, b2a, 0)
	require.NoError(t, bc.AddBlock(b3a))
	require.Equal(t, uint32(3), bc.BlockHeight())

	// A competing chain forks off b1 and outgrows the local one.
	b2b := testchain.NewBlockOver(t, b1, 1000)
	b3b := testchain.NewBlockOver(t, b2b, 1000)
	b4b := testchain.NewBlockOver(t, b3b, 1000)

	require.NoError(t, bc.AddBlock(b2b))
	require.NoError(t, bc.AddBlock(b3b))
	require.NoError(t, bc.AddBlock(b4b))

	require.Equal(t, uint32(4), bc.BlockHeight())
	require.Equal(t, b4b.Hash(), bc.CurrentBlockHash())

	// The canonical index follows the new chain.
	h2, err := bc.GetBlockHash(2)
	require.NoError(t, err)
	require.Equal(t, b2b.Hash(), h2)

	// State roots exist for the replacement blocks.
	for i := uint32(0); i <= 4; i++ {
		_, err := bc.GetStateRoot(i)
		require.NoError(t, err, "state root at %d", i)
	}
}

func TestOrphanThenConnect(t *testing.T) {
	bc := testchain.NewChain(t)
	genesis, err := bc.GetBlock(bc.CurrentBlockHash())
	require.NoError(t, err)

	b1 := testchain.NewBlockOver(t, genesis, 0)
	b2 := testchain.NewBlockOver(t, b1, 0)

	// The child arrives first and parks as an orphan.
	require.ErrorIs(t, bc.AddBlock(b2), core.ErrOrphan)
	require.Equal(t, uint32(0), bc.BlockHeight())

	// Its parent connects both.
	require.NoError(t, bc.AddBlock(b1))
	require.Equal(t, uint32(2), bc.BlockHeight())
	require.Equal(t, b2.Hash(), bc.CurrentBlockHash())
}

func TestStateRootPerBlockDiffers(t *testing.T) {
	bc := testchain.NewChain(t)
	neoHash := bc.Natives().NEO.Metadata().Hash
	tx := testchain.NewTransferTx(t, bc, neoHash, common.Uint160{0xCC}, 5)
	require.NoError(t, bc.AddBlock(testchain.NewBlock(t, bc, tx)))

	root0, err := bc.GetStateRoot(0)
	require.NoError(t, err)
	root1, err := bc.GetStateRoot(1)
	require.NoError(t, err)
	require.NotEqual(t, root0, root1)
}
