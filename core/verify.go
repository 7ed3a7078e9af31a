package core

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/gneo-network/gneo/common"
	"github.com/gneo-network/gneo/core/interop"
	"github.com/gneo-network/gneo/core/state"
	"github.com/gneo-network/gneo/core/types"
	"github.com/gneo-network/gneo/params"
	"github.com/gneo-network/gneo/vm"
	"github.com/gneo-network/gneo/vm/callflag"
	"github.com/gneo-network/gneo/vm/opcode"
)

// maxVerificationGas bounds one witness verification run.
const maxVerificationGas = 3 * params.GASFactor / 2

var (
	// ErrTxExpired marks a transaction outside its validity window.
	ErrTxExpired = errors.New("core: transaction expired")
	// ErrTxBlocked marks a transaction with a blocked signer.
	ErrTxBlocked = errors.New("core: signer is blocked")
	// ErrTxConflict marks a transaction invalidated by a persisted
	// conflict declaration.
	ErrTxConflict = errors.New("core: conflicts with the ledger")
	// ErrInsufficientNetworkFee marks a network fee below the floor.
	ErrInsufficientNetworkFee = errors.New("core: insufficient network fee")
	// ErrWitnessInvalid marks a failing witness verification.
	ErrWitnessInvalid = errors.New("core: invalid witness")
	// ErrOracleMismatch marks an OracleResponse with no pending request.
	ErrOracleMismatch = errors.New("core: oracle response without a matching request")
)

// PoolTx verifies tx against chain state and admits it to the mempool.
func (bc *Blockchain) PoolTx(tx *types.Transaction) error {
	bc.writeLock.Lock()
	defer bc.writeLock.Unlock()
	return bc.poolTxLocked(tx)
}

func (bc *Blockchain) poolTxLocked(tx *types.Transaction) error {
	if bc.dao.HasTransaction(tx.Hash()) {
		return ErrAlreadyExists
	}
	if bc.pool.ContainsKey(tx.Hash()) {
		return ErrAlreadyExists
	}
	if err := bc.verifyTxStateful(tx); err != nil {
		return err
	}
	return bc.pool.Add(tx)
}

// verifyTxStateful runs every chain-dependent admission rule.
func (bc *Blockchain) verifyTxStateful(tx *types.Transaction) error {
	height := bc.height.Load()
	ic := bc.newInteropContext(state.TriggerApplication, bc.dao, nil, nil)

	switch {
	case len(tx.Script) == 0:
		return types.ErrEmptyScript
	case len(tx.Signers) == 0:
		return types.ErrNoSigners
	case len(tx.Scripts) != len(tx.Signers):
		return types.ErrWitnessCount
	case tx.SystemFee < 0 || tx.NetworkFee < 0:
		return types.ErrNegativeFee
	}
	if tx.Size() > params.MaxTransactionSize {
		return types.ErrTxTooBig
	}
	// The fee payer must actually hold the declared fees.
	total := big.NewInt(tx.SystemFee + tx.NetworkFee)
	if bc.natives.GAS.BalanceOf(ic, tx.Sender()).Cmp(total) < 0 {
		return fmt.Errorf("%w: sender cannot cover %d", ErrInsufficientNetworkFee, total)
	}
	maxIncrement := uint32(bc.natives.Policy.MaxValidUntilBlockIncrement(ic))
	if tx.ValidUntilBlock <= height || tx.ValidUntilBlock > height+maxIncrement {
		return fmt.Errorf("%w: valid until %d at height %d", ErrTxExpired, tx.ValidUntilBlock, height)
	}
	if nvb := tx.GetAttribute(types.NotValidBeforeT); nvb != nil && nvb.NotValidBefore > height {
		return fmt.Errorf("%w: not valid before %d", ErrTxExpired, nvb.NotValidBefore)
	}
	for i := range tx.Signers {
		if bc.natives.Policy.IsBlocked(ic, tx.Signers[i].Account) {
			return fmt.Errorf("%w: %s", ErrTxBlocked, tx.Signers[i].Account)
		}
	}
	if bc.dao.HasConflictRecord(tx.Hash()) {
		return ErrTxConflict
	}
	// A declared conflict that already persisted invalidates the declarer.
	for _, c := range tx.Conflicts() {
		if bc.dao.HasTransaction(c) {
			return fmt.Errorf("%w: declared conflict %s already persisted", ErrTxConflict, c)
		}
	}
	if attr := tx.GetAttribute(types.OracleResponseT); attr != nil {
		if _, err := bc.natives.Oracle.GetRequest(ic, attr.Oracle.ID); err != nil {
			return ErrOracleMismatch
		}
	}

	// Witnesses verify before fees: their cost is part of the floor.
	var verificationCost int64
	for i := range tx.Signers {
		cost, err := bc.verifyTxWitness(tx, i)
		if err != nil {
			return err
		}
		verificationCost += cost
	}

	feeFloor := bc.natives.Policy.FeePerByte(ic) * int64(tx.Size())
	for i := range tx.Attributes {
		feeFloor += bc.natives.Policy.AttributeFee(ic, byte(tx.Attributes[i].Type))
	}
	feeFloor += verificationCost
	if tx.NetworkFee < feeFloor {
		return fmt.Errorf("%w: %d below floor %d", ErrInsufficientNetworkFee, tx.NetworkFee, feeFloor)
	}
	return nil
}

// verifyTxWitness runs the i-th signer's witness under the Verification
// trigger and returns the gas it consumed.
func (bc *Blockchain) verifyTxWitness(tx *types.Transaction, i int) (int64, error) {
	w := &tx.Scripts[i]
	account := tx.Signers[i].Account
	ic := bc.newInteropContext(state.TriggerVerification, bc.dao.GetWrapped(), nil, tx)
	return bc.runWitness(ic, account, w, maxVerificationGas)
}

// verifyWitness checks a block-level witness over the given container hash.
func (bc *Blockchain) verifyWitness(expected common.Uint160, container common.Uint256, w *types.Witness, gasLimit int64) (int64, error) {
	ic := bc.newInteropContext(state.TriggerVerification, bc.dao.GetWrapped(), nil, nil)
	ic.Block = &types.Block{}
	// The container hash the signatures cover is set as the context's
	// ContainerOverride in runWitnessOver.
	return bc.runWitnessOver(ic, expected, container, w, gasLimit)
}

func (bc *Blockchain) runWitness(ic *interop.Context, account common.Uint160, w *types.Witness, gasLimit int64) (int64, error) {
	return bc.runWitnessOver(ic, account, ic.Container(), w, gasLimit)
}

func (bc *Blockchain) runWitnessOver(ic *interop.Context, account common.Uint160, container common.Uint256, w *types.Witness, gasLimit int64) (int64, error) {
	if len(w.VerificationScript) == 0 {
		return 0, fmt.Errorf("%w: contract-based witnesses need a deployed verify method", ErrWitnessInvalid)
	}
	if !w.ScriptHash().Equals(account) {
		return 0, fmt.Errorf("%w: script hash mismatch", ErrWitnessInvalid)
	}
	if err := checkPushOnly(w.InvocationScript); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrWitnessInvalid, err)
	}
	ic.ContainerOverride = container
	v := ic.SpawnVM()
	v.GasLimit = gasLimit
	v.LoadWithFlags(w.VerificationScript, callflag.ReadOnly)
	if len(w.InvocationScript) != 0 {
		if err := v.LoadScript(w.InvocationScript, common.Uint160{}, callflag.ReadOnly, -1, 0); err != nil {
			return 0, err
		}
	}
	if err := v.Run(); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrWitnessInvalid, err)
	}
	if v.ResultStack().Len() != 1 {
		return 0, fmt.Errorf("%w: verification left %d items", ErrWitnessInvalid, v.ResultStack().Len())
	}
	ok, err := v.ResultStack().PopBool()
	if err != nil || !ok {
		return 0, fmt.Errorf("%w: verification returned false", ErrWitnessInvalid)
	}
	if v.State() != vm.HaltState {
		return 0, fmt.Errorf("%w: state %s", ErrWitnessInvalid, v.State())
	}
	return v.GasConsumed(), nil
}

// checkPushOnly refuses invocation scripts carrying anything beyond pushes.
func checkPushOnly(script []byte) error {
	for i := 0; i < len(script); {
		op := opcode.Opcode(script[i])
		if op > opcode.PUSH16 {
			return fmt.Errorf("non-push opcode %s in invocation script", op)
		}
		i++
		switch op {
		case opcode.PUSHINT8:
			i++
		case opcode.PUSHINT16:
			i += 2
		case opcode.PUSHINT32, opcode.PUSHA:
			i += 4
		case opcode.PUSHINT64:
			i += 8
		case opcode.PUSHINT128:
			i += 16
		case opcode.PUSHINT256:
			i += 32
		case opcode.PUSHDATA1:
			if i >= len(script) {
				return errors.New("truncated PUSHDATA1")
			}
			i += 1 + int(script[i])
		case opcode.PUSHDATA2:
			if i+2 > len(script) {
				return errors.New("truncated PUSHDATA2")
			}
			i += 2 + int(script[i]) + int(script[i+1])<<8
		case opcode.PUSHDATA4:
			if i+4 > len(script) {
				return errors.New("truncated PUSHDATA4")
			}
			n := int(script[i]) | int(script[i+1])<<8 | int(script[i+2])<<16 | int(script[i+3])<<24
			i += 4 + n
		}
		if i > len(script) {
			return errors.New("truncated push operand")
		}
	}
	return nil
}
