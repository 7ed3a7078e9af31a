package native_test

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
	"github.com/gneo-network/gneo/vm"
	"github.com/gneo-network/gneo/vm/emit"
	"github.com/gneo-network/gneo/vm/opcode"
	"github.com/gneo-network/gneo/vm/stackitem"
	"github.com/gneo-network/gneo/wire"
)

// callScript builds an entry script invoking contract.method with the given
// pre-pushed argument emitters (first argument emitted last).
func callScript(t *testing.T, contract common.Uint160, method string, args ...func(w *wire.BinWriter)) []byte {
	w := wire.NewBufBinWriter()
	for i := len(args) - 1; i >= 0; i-- {
		args[i](w.BinWriter)
	}
	emit.Int(w.BinWriter, int64(len(args)))
	emit.Opcodes(w.BinWriter, opcode.PACK)
	emit.Int(w.BinWriter, 15)
	emit.String(w.BinWriter, method)
	emit.Bytes(w.BinWriter, contract[:])
	emit.Syscall(w.BinWriter, "System.Contract.Call")
	require.NoError(t, w.Err)
	return w.Bytes()
}

func pushBytes(b []byte) func(*wire.BinWriter) {
	return func(w *wire.BinWriter) { emit.Bytes(w, b) }
}

func pushInt(v int64) func(*wire.BinWriter) {
	return func(w *wire.BinWriter) { emit.Int(w, v) }
}

func pushNull() func(*wire.BinWriter) {
	return func(w *wire.BinWriter) { emit.Opcodes(w, opcode.PUSHNULL) }
}

func committeeTx(t *testing.T, bc *core.Blockchain, script []byte) *types.Transaction {
	tx := &types.Transaction{
		Nonce:           uint32(bc.BlockHeight())*131 + 7,
		SystemFee:       100_000_000,
		NetworkFee:      2_000_000,
		ValidUntilBlock: bc.BlockHeight() + 100,
		Signers: []types.Signer{{
			Account: testchain.MultisigAccount(t),
			Scopes:  types.ScopeCalledByEntry,
		}},
		Script: script,
	}
	testchain.SignTxMultisig(t, tx)
	return tx
}

func persistTx(t *testing.T, bc *core.Blockchain, tx *types.Transaction) *state.AppExecResult {
	require.NoError(t, bc.AddBlock(testchain.NewBlock(t, bc, tx)))
	aer, err := bc.GetAppExecResult(tx.Hash(), state.TriggerApplication)
	require.NoError(t, err)
	return aer
}

func TestPolicySetterCommitteeGated(t *testing.T) {
	bc := testchain.NewChain(t)
	policyHash := bc.Natives().Policy.Metadata().Hash

	tx := committeeTx(t, bc, callScript(t, policyHash, "setFeePerByte", pushInt(555)))
	aer := persistTx(t, bc, tx)
	require.Equal(t, vm.HaltState, aer.VMState, aer.FaultException)
	require.Equal(t, int64(555), bc.FeePerByte())

	// Without the committee witness the setter faults.
	other := &types.Transaction{
		Nonce:           9999,
		SystemFee:       100_000_000,
		NetworkFee:      2_000_000,
		ValidUntilBlock: bc.BlockHeight() + 100,
		Signers: []types.Signer{{
			Account: testchain.MultisigAccount(t),
			Scopes:  types.ScopeNone,
		}},
		Script: callScript(t, policyHash, "setFeePerByte", pushInt(777)),
	}
	testchain.SignTxMultisig(t, other)
	aer = persistTx(t, bc, other)
	require.Equal(t, vm.FaultState, aer.VMState)
	require.Equal(t, int64(555), bc.FeePerByte())
}

func TestPolicyBlockSizeBounds(t *testing.T) {
	bc := testchain.NewChain(t)
	policyHash := bc.Natives().Policy.Metadata().Hash

	// Below 1 KiB and above 32 MiB both fault.
	for _, v := range []int64{params.MinBlockSizeCap - 1, params.MaxBlockSizeCap + 1} {
		tx := committeeTx(t, bc, callScript(t, policyHash, "setMaxBlockSize", pushInt(v)))
		aer := persistTx(t, bc, tx)
		require.Equal(t, vm.FaultState, aer.VMState)
	}
	tx := committeeTx(t, bc, callScript(t, policyHash, "setMaxBlockSize", pushInt(params.MinBlockSizeCap)))
	aer := persistTx(t, bc, tx)
	require.Equal(t, vm.HaltState, aer.VMState, aer.FaultException)
}

func TestBlockedAccountRefusedAtAdmission(t *testing.T) {
	bc := testchain.NewChain(t)
	policyHash := bc.Natives().Policy.Metadata().Hash
	victim := common.Uint160{0xAA}

	aer := persistTx(t, bc, committeeTx(t, bc,
		callScript(t, policyHash, "blockAccount", pushBytes(victim[:]))))
	require.Equal(t, vm.HaltState, aer.VMState, aer.FaultException)

	tx := &types.Transaction{
		Nonce:           1,
		NetworkFee:      2_000_000,
		ValidUntilBlock: bc.BlockHeight() + 10,
		Signers: []types.Signer{
			{Account: testchain.MultisigAccount(t), Scopes: types.ScopeCalledByEntry},
			{Account: victim, Scopes: types.ScopeNone},
		},
		Script: []byte{byte(opcode.RET)},
	}
	tx.Scripts = make([]types.Witness, 2)
	testchain.SignTxMultisig(t, tx)
	tx.Scripts = append(tx.Scripts[:1], types.Witness{})
	require.ErrorIs(t, bc.PoolTx(tx), core.ErrTxBlocked)
}

func TestVoteWithoutStakeReturnsFalse(t *testing.T) {
	bc := testchain.NewChain(t)
	neoHash := bc.Natives().NEO.Metadata().Hash
	empty := common.Uint160{0xE0}

	rootBefore, err := bc.GetStateRoot(bc.BlockHeight())
	require.NoError(t, err)

	v, err := bc.InvokeScript(callScript(t, neoHash, "vote",
		pushBytes(empty[:]), pushNull()), 100_000_000)
	require.NoError(t, err)
	require.Equal(t, vm.HaltState, v.State())
	res, err := v.PopResult()
	require.NoError(t, err)
	require.True(t, res.Equals(stackitem.Bool(false)))

	rootAfter, err := bc.GetStateRoot(bc.BlockHeight())
	require.NoError(t, err)
	require.Equal(t, rootBefore, rootAfter)
}

func TestCandidateAndVoteFlow(t *testing.T) {
	bc := testchain.NewChain(t)
	neoHash := bc.Natives().NEO.Metadata().Hash
	key := testchain.Key(t).PublicKey()
	holder := testchain.MultisigAccount(t)

	// The validator key registers itself; the fee rides on the committee
	// witness of the multisig (key holder's witness included via tx scope).
	reg := committeeTx(t, bc, callScript(t, neoHash, "registerCandidate", pushBytes(key.Bytes())))
	reg.SystemFee = 1100 * params.GASFactor // covers the registration price
	reg.Signers = append(reg.Signers, types.Signer{Account: key.ScriptHash(), Scopes: types.ScopeCalledByEntry})
	testchain.SignTxMultisig(t, reg)
	sig, err := testchain.Key(t).SignHashable(testchain.Magic, reg.Hash())
	require.NoError(t, err)
	w := wire.NewBufBinWriter()
	emit.Bytes(w.BinWriter, sig)
	reg.Scripts = append(reg.Scripts, types.Witness{
		InvocationScript:   w.Bytes(),
		VerificationScript: key.VerificationScript(),
	})
	aer := persistTx(t, bc, reg)
	require.Equal(t, vm.HaltState, aer.VMState, aer.FaultException)

	var sawCandidate bool
	for _, e := range aer.Events {
		if e.Name == "CandidateStateChanged" {
			sawCandidate = true
		}
	}
	require.True(t, sawCandidate)

	// The holder votes its full stake at the candidate.
	vote := committeeTx(t, bc, callScript(t, neoHash, "vote",
		pushBytes(holder[:]), pushBytes(key.Bytes())))
	aer = persistTx(t, bc, vote)
	require.Equal(t, vm.HaltState, aer.VMState, aer.FaultException)

	var sawVote bool
	for _, e := range aer.Events {
		if e.Name == "Vote" {
			sawVote = true
		}
	}
	require.True(t, sawVote)

	// The committee query reflects the registered candidate.
	v, err := bc.InvokeScript(callScript(t, neoHash, "getCandidates"), 1<<30)
	require.NoError(t, err)
	res, err := v.PopResult()
	require.NoError(t, err)
	cands := res.(*stackitem.Array)
	require.Equal(t, 1, cands.Len())
}

func TestOracleLifecycle(t *testing.T) {
	bc := testchain.NewChain(t)
	roleHash := bc.Natives().RoleMgmt.Metadata().Hash
	oracleHash := bc.Natives().Oracle.Metadata().Hash
	key := testchain.Key(t).PublicKey()

	// Designate the validator key as the oracle node set.
	designate := committeeTx(t, bc, callScript(t, roleHash, "designateAsRole",
		pushInt(8), func(w *wire.BinWriter) {
			emit.Bytes(w, key.Bytes())
			emit.Int(w, 1)
			emit.Opcodes(w, opcode.PACK)
		}))
	aer := persistTx(t, bc, designate)
	require.Equal(t, vm.HaltState, aer.VMState, aer.FaultException)

	// A request registers under id 0 and notifies.
	request := committeeTx(t, bc, callScript(t, oracleHash, "request",
		func(w *wire.BinWriter) { emit.String(w, "https://example.org/data") },
		pushNull(),
		func(w *wire.BinWriter) { emit.String(w, "cb") },
		pushNull(),
		pushInt(20_000_000)))
	request.SystemFee = 200_000_000
	testchain.SignTxMultisig(t, request)
	aer = persistTx(t, bc, request)
	require.Equal(t, vm.HaltState, aer.VMState, aer.FaultException)

	var sawRequest bool
	for _, e := range aer.Events {
		if e.Name == "OracleRequest" {
			sawRequest = true
		}
	}
	require.True(t, sawRequest)

	// The response transaction settles the request in PostPersist: the
	// pending entry dies, the event fires, the node earns the price.
	nodeAcc := key.ScriptHash()
	nodeGasBefore := bc.GetUtilityBalance(nodeAcc)

	response := committeeTx(t, bc, []byte{byte(opcode.RET)})
	response.Attributes = []types.Attribute{{
		Type:   types.OracleResponseT,
		Oracle: &types.OracleResponse{ID: 0, Code: types.OracleSuccess, Result: []byte(`"42"`)},
	}}
	testchain.SignTxMultisig(t, response)
	require.NoError(t, bc.AddBlock(testchain.NewBlock(t, bc, response)))

	blockAER, err := bc.GetAppExecResult(bc.CurrentBlockHash(), state.TriggerPostPersist)
	require.NoError(t, err)
	var sawResponse bool
	for _, e := range blockAER.Events {
		if e.Name == "OracleResponse" {
			sawResponse = true
		}
	}
	require.True(t, sawResponse)

	// The node account collects the oracle price for request 0, plus the
	// block's committee reward and network fees (same single validator).
	const oraclePrice = 50_000_000
	committeeShare := int64(params.GasPerBlock / 10)
	diff := new(big.Int).Sub(bc.GetUtilityBalance(nodeAcc), nodeGasBefore)
	require.Equal(t, big.NewInt(oraclePrice+committeeShare+response.NetworkFee), diff)

	// A second response for the settled id no longer verifies.
	again := committeeTx(t, bc, []byte{byte(opcode.RET)})
	again.Attributes = response.Attributes
	testchain.SignTxMultisig(t, again)
	require.ErrorIs(t, bc.PoolTx(again), core.ErrOracleMismatch)
}
