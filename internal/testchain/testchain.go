// Package testchain builds single-validator chains and signed containers for
// package tests.
package testchain

import (
	"crypto/sha256"
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/gneo-network/gneo/common"
	"github.com/gneo-network/gneo/core"
	"github.com/gneo-network/gneo/core/types"
	"github.com/gneo-network/gneo/crypto"
	"github.com/gneo-network/gneo/params"
	"github.com/gneo-network/gneo/storage"
	"github.com/gneo-network/gneo/vm/emit"
	"github.com/gneo-network/gneo/vm/opcode"
	"github.com/gneo-network/gneo/wire"
)

// Magic is the test network magic.
const Magic = params.UnitTestMagic

// Key returns the deterministic validator key used across tests.
func Key(t testing.TB) *crypto.PrivateKey {
	seed := sha256.Sum256([]byte("gneo testchain validator 0"))
	key, err := crypto.NewPrivateKeyFromBytes(seed[:])
	require.NoError(t, err)
	return key
}

// Config returns a single-validator protocol configuration.
func Config(t testing.TB) *params.ProtocolConfiguration {
	cfg := params.Default()
	cfg.Magic = Magic
	cfg.StandbyCommittee = []string{hex.EncodeToString(Key(t).PublicKey().Bytes())}
	cfg.ValidatorsCount = 1
	return cfg
}

// MultisigAccount returns the one-of-one consensus account holding the
// genesis token supply.
func MultisigAccount(t testing.TB) common.Uint160 {
	addr, err := crypto.BFTAddress([]*crypto.PublicKey{Key(t).PublicKey()})
	require.NoError(t, err)
	return addr
}

// MultisigScript returns the consensus account's verification script.
func MultisigScript(t testing.TB) []byte {
	script, err := crypto.CreateMultiSigRedeemScript(1, []*crypto.PublicKey{Key(t).PublicKey()})
	require.NoError(t, err)
	return script
}

// NewChain opens an in-memory chain at genesis.
func NewChain(t testing.TB) *core.Blockchain {
	bc, err := core.NewBlockchain(storage.NewMemoryStore(), Config(t), zaptest.NewLogger(t))
	require.NoError(t, err)
	return bc
}

// SignTxMultisig witnesses tx for the consensus multisig sender.
func SignTxMultisig(t testing.TB, tx *types.Transaction) {
	key := Key(t)
	sig, err := key.SignHashable(Magic, tx.Hash())
	require.NoError(t, err)
	w := wire.NewBufBinWriter()
	emit.Bytes(w.BinWriter, sig)
	tx.Scripts = []types.Witness{{
		InvocationScript:   w.Bytes(),
		VerificationScript: MultisigScript(t),
	}}
}

// NewBlock assembles and signs the next block over parent carrying txs.
func NewBlock(t testing.TB, bc *core.Blockchain, txs ...*types.Transaction) *types.Block {
	parentHash := bc.CurrentBlockHash()
	parent, err := bc.GetBlock(parentHash)
	require.NoError(t, err)
	return NewBlockOver(t, parent, 0, txs...)
}

// NewBlockOver builds a signed block extending an explicit parent; nonceSalt
// varies the hash between competing blocks at one height.
func NewBlockOver(t testing.TB, parent *types.Block, nonceSalt uint64, txs ...*types.Transaction) *types.Block {
	b := &types.Block{
		Header: types.Header{
			PrevHash:      parent.Hash(),
			Timestamp:     parent.Timestamp + 15000 + nonceSalt,
			Nonce:         42 + nonceSalt,
			Index:         parent.Index + 1,
			PrimaryIndex:  0,
			NextConsensus: MultisigAccount(t),
		},
		Transactions: txs,
	}
	b.RebuildMerkleRoot()

	key := Key(t)
	sig, err := key.SignHashable(Magic, b.Hash())
	require.NoError(t, err)
	w := wire.NewBufBinWriter()
	emit.Bytes(w.BinWriter, sig)
	witness := types.Witness{
		InvocationScript:   w.Bytes(),
		VerificationScript: MultisigScript(t),
	}
	b.Witness = witness
	b.Header.Witness = witness
	return b
}

// TransferScript invokes token.transfer(from, to, amount, null).
func TransferScript(t testing.TB, token common.Uint160, from, to common.Uint160, amount int64) []byte {
	w := wire.NewBufBinWriter()
	// Arguments pack with the first argument on top.
	emit.Opcodes(w.BinWriter, opcode.PUSHNULL)
	emit.Int(w.BinWriter, amount)
	emit.Bytes(w.BinWriter, to[:])
	emit.Bytes(w.BinWriter, from[:])
	emit.Int(w.BinWriter, 4)
	emit.Opcodes(w.BinWriter, opcode.PACK)
	emit.Int(w.BinWriter, 15) // CallFlag.All
	emit.String(w.BinWriter, "transfer")
	emit.Bytes(w.BinWriter, token[:])
	emit.Syscall(w.BinWriter, "System.Contract.Call")
	require.NoError(t, w.Err)
	return w.Bytes()
}

// NewTransferTx builds a signed transfer from the consensus multisig.
func NewTransferTx(t testing.TB, bc *core.Blockchain, token common.Uint160, to common.Uint160, amount int64) *types.Transaction {
	from := MultisigAccount(t)
	tx := &types.Transaction{
		Nonce:           uint64ToNonce(parentSeed(bc)),
		SystemFee:       20_000_000,
		NetworkFee:      2_000_000,
		ValidUntilBlock: bc.BlockHeight() + 100,
		Signers:         []types.Signer{{Account: from, Scopes: types.ScopeCalledByEntry}},
		Script:          TransferScript(t, token, from, to, amount),
	}
	SignTxMultisig(t, tx)
	return tx
}

func parentSeed(bc *core.Blockchain) uint64 {
	return uint64(bc.BlockHeight())*7919 + 17
}

func uint64ToNonce(v uint64) uint32 {
	return uint32(v ^ v>>32)
}
