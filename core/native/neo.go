package native

import (
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"
	"sort"

	"github.com/gneo-network/gneo/common"
	"github.com/gneo-network/gneo/core/interop"
	"github.com/gneo-network/gneo/core/state"
	"github.com/gneo-network/gneo/crypto"
	"github.com/gneo-network/gneo/params"
	"github.com/gneo-network/gneo/vm/callflag"
	"github.com/gneo-network/gneo/vm/stackitem"
	"github.com/gneo-network/gneo/wire"
)

// NEO storage prefixes and keys.
var (
	prefixCandidate   = byte(0x21)
	prefixVoterReward = byte(0x17)
	prefixGasPerBlock = byte(0x1d)
	keyVotersCount    = []byte{0x01}
	keyCommittee      = []byte{0x0e}
	keyRegisterPrice  = []byte{0x0d}
)

// Reward split of each block's GasPerBlock.
const (
	neoHolderRewardRatio = 10
	committeeRewardRatio = 10
	voterRewardRatio     = 80
)

// rewardFactor scales the per-vote reward accumulator to keep integer
// precision across small vote counts.
var rewardFactor = big.NewInt(100_000_000)

// totalNEOSupply is fixed forever.
var totalNEOSupply = big.NewInt(100_000_000)

var errEmptyCommittee = errors.New("native: committee is empty")

// NEO is the non-divisible governance token: balances, candidate votes,
// committee derivation and GAS reward accrual.
type NEO struct {
	baseContract
	GAS    *GAS
	Policy *Policy
}

func newNEO() *NEO {
	n := &NEO{baseContract: baseContract{interop.NewContractMD("NeoToken", NeoID)}}
	md := n.md
	md.Methods = []interop.Method{
		{Name: "symbol", Handler: n.symbol, CPUFee: 0},
		{Name: "decimals", Handler: n.decimals, CPUFee: 0},
		{Name: "totalSupply", Handler: n.totalSupply, CPUFee: 1 << 15, RequiredFlags: callflag.ReadStates},
		{Name: "balanceOf", Handler: n.balanceOf, CPUFee: 1 << 15, RequiredFlags: callflag.ReadStates, ParamCount: 1},
		{Name: "transfer", Handler: n.transferMethod, CPUFee: 1 << 17, StorageFee: 50, RequiredFlags: callflag.States | callflag.AllowCall | callflag.AllowNotify, ParamCount: 4},
		{Name: "vote", Handler: n.voteMethod, CPUFee: 1 << 16, RequiredFlags: callflag.States, ParamCount: 2},
		{Name: "registerCandidate", Handler: n.registerCandidate, CPUFee: 0, RequiredFlags: callflag.States, ParamCount: 1},
		{Name: "unregisterCandidate", Handler: n.unregisterCandidate, CPUFee: 1 << 16, RequiredFlags: callflag.States, ParamCount: 1},
		{Name: "getCandidates", Handler: n.getCandidates, CPUFee: 1 << 22, RequiredFlags: callflag.ReadStates},
		{Name: "getCommittee", Handler: n.getCommitteeMethod, CPUFee: 1 << 16, RequiredFlags: callflag.ReadStates},
		{Name: "getNextBlockValidators", Handler: n.getNextBlockValidators, CPUFee: 1 << 16, RequiredFlags: callflag.ReadStates},
		{Name: "unclaimedGas", Handler: n.unclaimedGasMethod, CPUFee: 1 << 17, RequiredFlags: callflag.ReadStates, ParamCount: 2},
		{Name: "getGasPerBlock", Handler: n.getGasPerBlockMethod, CPUFee: 1 << 15, RequiredFlags: callflag.ReadStates},
		{Name: "setGasPerBlock", Handler: n.setGasPerBlock, CPUFee: 1 << 15, RequiredFlags: callflag.States, ParamCount: 1},
		{Name: "getRegisterPrice", Handler: n.getRegisterPriceMethod, CPUFee: 1 << 15, RequiredFlags: callflag.ReadStates},
		{Name: "setRegisterPrice", Handler: n.setRegisterPrice, CPUFee: 1 << 15, RequiredFlags: callflag.States, ParamCount: 1},
		{Name: "getAccountState", Handler: n.getAccountState, CPUFee: 1 << 15, RequiredFlags: callflag.ReadStates, ParamCount: 1},
	}
	return n
}

// Initialize seeds genesis state: full supply to the standby validators'
// multisig, default gas-per-block and register price, standby committee.
func (n *NEO) Initialize(ic *interop.Context) error {
	standby, err := n.standbyKeys(ic)
	if err != nil {
		return err
	}
	holder, err := crypto.BFTAddress(standby[:ic.Cfg.ValidatorsCount])
	if err != nil {
		return err
	}
	if err := n.putBalance(ic, holder, &state.NEOBalance{
		Balance:        new(big.Int).Set(totalNEOSupply),
		LastGasPerVote: new(big.Int),
	}); err != nil {
		return err
	}
	notify(ic, n.md.Hash, "Transfer", stackitem.Null{}, stackitem.ByteArray(holder[:]), stackitem.NewBigInteger(totalNEOSupply))

	if err := putIntStorage(ic, NeoID, append([]byte{prefixGasPerBlock}, beUint32(0)...), 5*params.GASFactor); err != nil {
		return err
	}
	if err := putIntStorage(ic, NeoID, keyRegisterPrice, 1000*params.GASFactor); err != nil {
		return err
	}
	return n.storeCommittee(ic, standby)
}

// --- balances ---

func (n *NEO) getBalance(ic *interop.Context, acc common.Uint160) *state.NEOBalance {
	rec := &state.NEOBalance{Balance: new(big.Int), LastGasPerVote: new(big.Int)}
	raw := getStorage(ic, NeoID, accountKey(acc))
	if raw == nil {
		return rec
	}
	if err := wire.FromBytes(raw, rec); err != nil {
		return &state.NEOBalance{Balance: new(big.Int), LastGasPerVote: new(big.Int)}
	}
	return rec
}

func (n *NEO) putBalance(ic *interop.Context, acc common.Uint160, rec *state.NEOBalance) error {
	if rec.Balance.Sign() == 0 && rec.VoteTo == nil {
		return delStorage(ic, NeoID, accountKey(acc))
	}
	return putSerializable(ic, NeoID, accountKey(acc), rec)
}

// BalanceOf reads an account's NEO balance.
func (n *NEO) BalanceOf(ic *interop.Context, acc common.Uint160) *big.Int {
	return n.getBalance(ic, acc).Balance
}

// --- gas per block history ---

// GasPerBlock returns the reward rate active at height index.
func (n *NEO) GasPerBlock(ic *interop.Context, index uint32) int64 {
	var value int64 = 5 * params.GASFactor
	ic.DAO.SeekStorage(NeoID, []byte{prefixGasPerBlock}, false, func(k, v []byte) bool {
		if len(k) != 5 {
			return true
		}
		h := uint32(k[1])<<24 | uint32(k[2])<<16 | uint32(k[3])<<8 | uint32(k[4])
		if h > index {
			return false
		}
		value = stackitem.BigIntFromBytes(v).Int64()
		return true
	})
	return value
}

// --- candidates and committee ---

func candidateKey(pub *crypto.PublicKey) []byte {
	return append([]byte{prefixCandidate}, pub.Bytes()...)
}

func (n *NEO) getCandidate(ic *interop.Context, pub *crypto.PublicKey) *state.Candidate {
	raw := getStorage(ic, NeoID, candidateKey(pub))
	if raw == nil {
		return nil
	}
	c := &state.Candidate{Votes: new(big.Int)}
	if err := wire.FromBytes(raw, c); err != nil {
		return nil
	}
	return c
}

func (n *NEO) putCandidate(ic *interop.Context, pub *crypto.PublicKey, c *state.Candidate) error {
	if !c.Registered && c.Votes.Sign() == 0 {
		return delStorage(ic, NeoID, candidateKey(pub))
	}
	return putSerializable(ic, NeoID, candidateKey(pub), c)
}

type keyWithVotes struct {
	Key   *crypto.PublicKey
	Votes *big.Int
}

func (n *NEO) candidates(ic *interop.Context) []keyWithVotes {
	var out []keyWithVotes
	ic.DAO.SeekStorage(NeoID, []byte{prefixCandidate}, false, func(k, v []byte) bool {
		if len(k) != 1+crypto.PublicKeySize {
			return true
		}
		pub, err := crypto.NewPublicKeyFromBytes(k[1:])
		if err != nil {
			return true
		}
		c := &state.Candidate{Votes: new(big.Int)}
		if err := wire.FromBytes(v, c); err != nil || !c.Registered {
			return true
		}
		out = append(out, keyWithVotes{Key: pub, Votes: c.Votes})
		return true
	})
	return out
}

func (n *NEO) standbyKeys(ic *interop.Context) ([]*crypto.PublicKey, error) {
	keys := make([]*crypto.PublicKey, len(ic.Cfg.StandbyCommittee))
	for i, s := range ic.Cfg.StandbyCommittee {
		raw, err := hex.DecodeString(s)
		if err != nil {
			return nil, fmt.Errorf("native: standby key %d: %w", i, err)
		}
		key, err := crypto.NewPublicKeyFromBytes(raw)
		if err != nil {
			return nil, fmt.Errorf("native: standby key %d: %w", i, err)
		}
		keys[i] = key
	}
	return keys, nil
}

// ComputeCommittee returns the top candidates by votes, falling back to the
// standby committee when too few candidates are registered.
func (n *NEO) ComputeCommittee(ic *interop.Context) ([]*crypto.PublicKey, error) {
	standby, err := n.standbyKeys(ic)
	if err != nil {
		return nil, err
	}
	size := len(standby)
	cands := n.candidates(ic)
	voters := getIntStorage(ic, NeoID, keyVotersCount, 0)
	// Committee follows votes only when enough stake actually voted.
	if len(cands) < size || voters*5 < totalNEOSupply.Int64() {
		return standby, nil
	}
	sort.Slice(cands, func(i, j int) bool {
		if c := cands[i].Votes.Cmp(cands[j].Votes); c != 0 {
			return c > 0
		}
		return cands[i].Key.Cmp(cands[j].Key) < 0
	})
	out := make([]*crypto.PublicKey, size)
	for i := 0; i < size; i++ {
		out[i] = cands[i].Key
	}
	return out, nil
}

func (n *NEO) storeCommittee(ic *interop.Context, keys []*crypto.PublicKey) error {
	w := wire.NewBufBinWriter()
	w.WriteVarUint(uint64(len(keys)))
	for _, k := range keys {
		k.EncodeBinary(w.BinWriter)
	}
	if w.Err != nil {
		return w.Err
	}
	return putStorage(ic, NeoID, keyCommittee, w.Bytes())
}

// GetCommittee returns the current committee.
func (n *NEO) GetCommittee(ic *interop.Context) ([]*crypto.PublicKey, error) {
	raw := getStorage(ic, NeoID, keyCommittee)
	if raw == nil {
		return nil, errEmptyCommittee
	}
	r := wire.NewBinReaderFromBuf(raw)
	count := r.ReadArrayCount(1024)
	keys := make([]*crypto.PublicKey, count)
	for i := 0; i < count; i++ {
		keys[i] = new(crypto.PublicKey)
		keys[i].DecodeBinary(r)
	}
	if r.Err != nil {
		return nil, r.Err
	}
	return keys, nil
}

// CommitteeAddress returns the committee's majority multisig script hash.
func (n *NEO) CommitteeAddress(ic *interop.Context) (common.Uint160, error) {
	keys, err := n.GetCommittee(ic)
	if err != nil {
		return common.Uint160{}, err
	}
	script, err := crypto.CreateMultiSigRedeemScript(len(keys)/2+1, keys)
	if err != nil {
		return common.Uint160{}, err
	}
	return crypto.Hash160(script), nil
}

// NextBlockValidators returns the validator subset of the committee, sorted
// by key for deterministic primary selection.
func (n *NEO) NextBlockValidators(ic *interop.Context) ([]*crypto.PublicKey, error) {
	committee, err := n.GetCommittee(ic)
	if err != nil {
		return nil, err
	}
	count := ic.Cfg.ValidatorsCount
	if count > len(committee) {
		count = len(committee)
	}
	vals := make([]*crypto.PublicKey, count)
	copy(vals, committee[:count])
	crypto.SortKeys(vals)
	return vals, nil
}

// OnPersist refreshes the committee on committee-cycle boundaries.
func (n *NEO) OnPersist(ic *interop.Context) error {
	if ic.Block == nil {
		return errors.New("native: OnPersist without a block")
	}
	size := uint32(len(ic.Cfg.StandbyCommittee))
	if ic.Block.Index%size != 0 {
		return nil
	}
	committee, err := n.ComputeCommittee(ic)
	if err != nil {
		return err
	}
	return n.storeCommittee(ic, committee)
}

// PostPersist mints the committee reward and accrues voter rewards.
func (n *NEO) PostPersist(ic *interop.Context) error {
	committee, err := n.GetCommittee(ic)
	if err != nil {
		return err
	}
	if len(committee) == 0 {
		return errEmptyCommittee
	}
	gasPerBlock := n.GasPerBlock(ic, ic.Block.Index)
	member := committee[int(ic.Block.Index)%len(committee)]

	committeeReward := gasPerBlock * committeeRewardRatio / 100
	if err := n.GAS.Mint(ic, member.ScriptHash(), big.NewInt(committeeReward)); err != nil {
		return err
	}

	// The rotating member's voters accrue their share per vote.
	cand := n.getCandidate(ic, member)
	if cand == nil || cand.Votes.Sign() == 0 {
		return nil
	}
	voterReward := big.NewInt(gasPerBlock * voterRewardRatio / 100)
	delta := new(big.Int).Mul(voterReward, rewardFactor)
	delta.Quo(delta, cand.Votes)
	key := append([]byte{prefixVoterReward}, member.Bytes()...)
	acc := new(big.Int)
	if raw := getStorage(ic, NeoID, key); raw != nil {
		acc = stackitem.BigIntFromBytes(raw)
	}
	acc.Add(acc, delta)
	return putStorage(ic, NeoID, key, stackitem.BigIntToBytes(acc))
}

func (n *NEO) rewardPerVote(ic *interop.Context, pub *crypto.PublicKey) *big.Int {
	raw := getStorage(ic, NeoID, append([]byte{prefixVoterReward}, pub.Bytes()...))
	if raw == nil {
		return new(big.Int)
	}
	return stackitem.BigIntFromBytes(raw)
}

// CalculateBonus computes the GAS accrued by an account between its last
// balance change and end.
func (n *NEO) CalculateBonus(ic *interop.Context, acc *state.NEOBalance, end uint32) *big.Int {
	total := new(big.Int)
	if acc.Balance.Sign() <= 0 || end <= acc.BalanceHeight {
		return total
	}
	// Holder share: balance × gasPerBlock × ratio over each rate segment.
	for h := acc.BalanceHeight; h < end; h++ {
		per := big.NewInt(n.GasPerBlock(ic, h) * neoHolderRewardRatio / 100)
		per.Mul(per, acc.Balance)
		per.Quo(per, totalNEOSupply)
		total.Add(total, per)
	}
	// Voter share: accumulated per-vote reward delta.
	if acc.VoteTo != nil {
		delta := new(big.Int).Sub(n.rewardPerVote(ic, acc.VoteTo), acc.LastGasPerVote)
		if delta.Sign() > 0 {
			delta.Mul(delta, acc.Balance)
			delta.Quo(delta, rewardFactor)
			total.Add(total, delta)
		}
	}
	return total
}

// distributeGas settles accrued GAS on every balance touch.
func (n *NEO) distributeGas(ic *interop.Context, owner common.Uint160, acc *state.NEOBalance) error {
	if ic.Block == nil {
		return nil
	}
	bonus := n.CalculateBonus(ic, acc, ic.Block.Index)
	acc.BalanceHeight = ic.Block.Index
	if acc.VoteTo != nil {
		acc.LastGasPerVote = n.rewardPerVote(ic, acc.VoteTo)
	}
	if bonus.Sign() > 0 {
		return n.GAS.Mint(ic, owner, bonus)
	}
	return nil
}

// --- transfers and votes ---

// Transfer moves whole NEO units, settling GAS accrual on both sides and
// shifting votes with the balance.
func (n *NEO) Transfer(ic *interop.Context, from, to common.Uint160, amount *big.Int, data stackitem.Item) (bool, error) {
	if amount.Sign() < 0 {
		return false, errNegativeAmount
	}
	ok, err := ic.CheckWitness(from)
	if err != nil {
		return false, err
	}
	if !ok {
		return false, nil
	}
	fromAcc := n.getBalance(ic, from)
	if fromAcc.Balance.Cmp(amount) < 0 {
		return false, nil
	}
	if err := n.distributeGas(ic, from, fromAcc); err != nil {
		return false, err
	}
	if !from.Equals(to) && amount.Sign() > 0 {
		// Voters-count tracks the sum of actively voting stake.
		if fromAcc.VoteTo != nil {
			if err := n.adjustVotersCount(ic, new(big.Int).Neg(amount)); err != nil {
				return false, err
			}
		}
		if err := n.shiftVotes(ic, fromAcc.VoteTo, new(big.Int).Neg(amount)); err != nil {
			return false, err
		}
		fromAcc.Balance.Sub(fromAcc.Balance, amount)
		if fromAcc.Balance.Sign() == 0 {
			// An emptied account stops voting.
			fromAcc.VoteTo = nil
		}
		if err := n.putBalance(ic, from, fromAcc); err != nil {
			return false, err
		}
		toAcc := n.getBalance(ic, to)
		if err := n.distributeGas(ic, to, toAcc); err != nil {
			return false, err
		}
		toAcc.Balance.Add(toAcc.Balance, amount)
		if toAcc.VoteTo != nil {
			if err := n.adjustVotersCount(ic, amount); err != nil {
				return false, err
			}
		}
		if err := n.shiftVotes(ic, toAcc.VoteTo, amount); err != nil {
			return false, err
		}
		if err := n.putBalance(ic, to, toAcc); err != nil {
			return false, err
		}
	} else {
		if err := n.putBalance(ic, from, fromAcc); err != nil {
			return false, err
		}
	}
	notify(ic, n.md.Hash, "Transfer",
		stackitem.ByteArray(from[:]), stackitem.ByteArray(to[:]), stackitem.NewBigInteger(amount))
	return true, postTransfer(ic, n.md.Hash, from, to, amount, data)
}

func (n *NEO) shiftVotes(ic *interop.Context, candidate *crypto.PublicKey, delta *big.Int) error {
	if candidate == nil || delta.Sign() == 0 {
		return nil
	}
	cand := n.getCandidate(ic, candidate)
	if cand == nil {
		return nil
	}
	cand.Votes.Add(cand.Votes, delta)
	return n.putCandidate(ic, candidate, cand)
}

func (n *NEO) adjustVotersCount(ic *interop.Context, delta *big.Int) error {
	count := getIntStorage(ic, NeoID, keyVotersCount, 0)
	return putIntStorage(ic, NeoID, keyVotersCount, count+delta.Int64())
}

// Vote points an account's stake at a candidate, or at nil to abstain. An
// account without stake cannot vote and nothing changes for it.
func (n *NEO) Vote(ic *interop.Context, acc common.Uint160, candidate *crypto.PublicKey) (bool, error) {
	balance := n.getBalance(ic, acc)
	if balance.Balance.Sign() == 0 {
		return false, nil
	}
	ok, err := ic.CheckWitness(acc)
	if err != nil || !ok {
		return false, err
	}
	if candidate != nil {
		cand := n.getCandidate(ic, candidate)
		if cand == nil || !cand.Registered {
			return false, nil
		}
	}
	if err := n.distributeGas(ic, acc, balance); err != nil {
		return false, err
	}
	// Voters-count tracks stake with an active vote.
	switch {
	case balance.VoteTo == nil && candidate != nil:
		if err := n.adjustVotersCount(ic, balance.Balance); err != nil {
			return false, err
		}
	case balance.VoteTo != nil && candidate == nil:
		if err := n.adjustVotersCount(ic, new(big.Int).Neg(balance.Balance)); err != nil {
			return false, err
		}
	}
	if err := n.shiftVotes(ic, balance.VoteTo, new(big.Int).Neg(balance.Balance)); err != nil {
		return false, err
	}
	oldVote := balance.VoteTo
	balance.VoteTo = candidate
	if candidate != nil {
		balance.LastGasPerVote = n.rewardPerVote(ic, candidate)
	} else {
		balance.LastGasPerVote = new(big.Int)
	}
	if err := n.shiftVotes(ic, candidate, balance.Balance); err != nil {
		return false, err
	}
	if err := n.putBalance(ic, acc, balance); err != nil {
		return false, err
	}
	notify(ic, n.md.Hash, "Vote",
		stackitem.ByteArray(acc[:]), keyOrNull(oldVote), keyOrNull(candidate),
		stackitem.NewBigInteger(balance.Balance))
	return true, nil
}

// RegisterCandidate admits a key to the candidate list after charging the
// registration price.
func (n *NEO) RegisterCandidate(ic *interop.Context, pub *crypto.PublicKey) (bool, error) {
	ok, err := ic.CheckWitness(pub.ScriptHash())
	if err != nil || !ok {
		return false, err
	}
	if err := ic.AddGas(n.RegisterPrice(ic)); err != nil {
		return false, err
	}
	return n.registerInternal(ic, pub)
}

func (n *NEO) registerInternal(ic *interop.Context, pub *crypto.PublicKey) (bool, error) {
	cand := n.getCandidate(ic, pub)
	if cand == nil {
		cand = &state.Candidate{Votes: new(big.Int)}
	}
	if cand.Registered {
		return true, nil
	}
	cand.Registered = true
	if err := n.putCandidate(ic, pub, cand); err != nil {
		return false, err
	}
	notify(ic, n.md.Hash, "CandidateStateChanged",
		stackitem.ByteArray(pub.Bytes()), stackitem.Bool(true), stackitem.NewBigInteger(cand.Votes))
	return true, nil
}

// RegisterPrice returns the candidate registration fee.
func (n *NEO) RegisterPrice(ic *interop.Context) int64 {
	return getIntStorage(ic, NeoID, keyRegisterPrice, 1000*params.GASFactor)
}

// OnNEP17Payment lets a key holder register by paying the exact price in GAS
// to the NEO contract.
func (n *NEO) OnNEP17Payment(ic *interop.Context, from common.Uint160, amount *big.Int, data stackitem.Item) error {
	keyBytes, err := data.TryBytes()
	if err != nil {
		return errors.New("native: registration payment needs a candidate key")
	}
	pub, err := crypto.NewPublicKeyFromBytes(keyBytes)
	if err != nil {
		return err
	}
	if amount.Cmp(big.NewInt(n.RegisterPrice(ic))) != 0 {
		return fmt.Errorf("native: registration costs exactly %d", n.RegisterPrice(ic))
	}
	if !pub.ScriptHash().Equals(from) {
		return errors.New("native: only the key holder can register it")
	}
	// The payment is burned.
	if err := n.GAS.Burn(ic, n.md.Hash, amount); err != nil {
		return err
	}
	_, err = n.registerInternal(ic, pub)
	return err
}

// UnclaimedGas is the public accrual query.
func (n *NEO) UnclaimedGas(ic *interop.Context, acc common.Uint160, end uint32) *big.Int {
	return n.CalculateBonus(ic, n.getBalance(ic, acc), end)
}

// --- method handlers ---

func (n *NEO) symbol(*interop.Context, []stackitem.Item) (stackitem.Item, error) {
	return stackitem.Make("NEO"), nil
}

func (n *NEO) decimals(*interop.Context, []stackitem.Item) (stackitem.Item, error) {
	return stackitem.Make(0), nil
}

func (n *NEO) totalSupply(*interop.Context, []stackitem.Item) (stackitem.Item, error) {
	return stackitem.NewBigInteger(totalNEOSupply), nil
}

func (n *NEO) balanceOf(ic *interop.Context, args []stackitem.Item) (stackitem.Item, error) {
	acc, err := toUint160(args[0])
	if err != nil {
		return nil, err
	}
	return stackitem.NewBigInteger(n.BalanceOf(ic, acc)), nil
}

func (n *NEO) transferMethod(ic *interop.Context, args []stackitem.Item) (stackitem.Item, error) {
	from, err := toUint160(args[0])
	if err != nil {
		return nil, err
	}
	to, err := toUint160(args[1])
	if err != nil {
		return nil, err
	}
	amount, err := args[2].TryInteger()
	if err != nil {
		return nil, err
	}
	ok, err := n.Transfer(ic, from, to, amount, args[3])
	if err != nil {
		return nil, err
	}
	return stackitem.Bool(ok), nil
}

func (n *NEO) voteMethod(ic *interop.Context, args []stackitem.Item) (stackitem.Item, error) {
	acc, err := toUint160(args[0])
	if err != nil {
		return nil, err
	}
	var candidate *crypto.PublicKey
	if _, isNull := args[1].(stackitem.Null); !isNull {
		candidate, err = toPublicKey(args[1])
		if err != nil {
			return nil, err
		}
	}
	ok, err := n.Vote(ic, acc, candidate)
	if err != nil {
		return nil, err
	}
	return stackitem.Bool(ok), nil
}

func (n *NEO) registerCandidate(ic *interop.Context, args []stackitem.Item) (stackitem.Item, error) {
	pub, err := toPublicKey(args[0])
	if err != nil {
		return nil, err
	}
	ok, err := n.RegisterCandidate(ic, pub)
	if err != nil {
		return nil, err
	}
	return stackitem.Bool(ok), nil
}

func (n *NEO) unregisterCandidate(ic *interop.Context, args []stackitem.Item) (stackitem.Item, error) {
	pub, err := toPublicKey(args[0])
	if err != nil {
		return nil, err
	}
	ok, err := ic.CheckWitness(pub.ScriptHash())
	if err != nil || !ok {
		return stackitem.Bool(false), err
	}
	cand := n.getCandidate(ic, pub)
	if cand == nil || !cand.Registered {
		return stackitem.Bool(true), nil
	}
	cand.Registered = false
	if err := n.putCandidate(ic, pub, cand); err != nil {
		return nil, err
	}
	notify(ic, n.md.Hash, "CandidateStateChanged",
		stackitem.ByteArray(pub.Bytes()), stackitem.Bool(false), stackitem.NewBigInteger(cand.Votes))
	return stackitem.Bool(true), nil
}

func (n *NEO) getCandidates(ic *interop.Context, _ []stackitem.Item) (stackitem.Item, error) {
	cands := n.candidates(ic)
	items := make([]stackitem.Item, len(cands))
	for i, c := range cands {
		items[i] = stackitem.NewStruct([]stackitem.Item{
			stackitem.ByteArray(c.Key.Bytes()),
			stackitem.NewBigInteger(c.Votes),
		})
	}
	return stackitem.NewArray(items), nil
}

func (n *NEO) getCommitteeMethod(ic *interop.Context, _ []stackitem.Item) (stackitem.Item, error) {
	keys, err := n.GetCommittee(ic)
	if err != nil {
		return nil, err
	}
	return keysToArray(keys), nil
}

func (n *NEO) getNextBlockValidators(ic *interop.Context, _ []stackitem.Item) (stackitem.Item, error) {
	keys, err := n.NextBlockValidators(ic)
	if err != nil {
		return nil, err
	}
	return keysToArray(keys), nil
}

func (n *NEO) unclaimedGasMethod(ic *interop.Context, args []stackitem.Item) (stackitem.Item, error) {
	acc, err := toUint160(args[0])
	if err != nil {
		return nil, err
	}
	end, err := toInt64(args[1])
	if err != nil || end < 0 {
		return nil, ErrOutOfBounds
	}
	return stackitem.NewBigInteger(n.UnclaimedGas(ic, acc, uint32(end))), nil
}

func (n *NEO) getGasPerBlockMethod(ic *interop.Context, _ []stackitem.Item) (stackitem.Item, error) {
	index := uint32(0)
	if ic.Block != nil {
		index = ic.Block.Index
	}
	return stackitem.Make(n.GasPerBlock(ic, index)), nil
}

func (n *NEO) setGasPerBlock(ic *interop.Context, args []stackitem.Item) (stackitem.Item, error) {
	v, err := toInt64(args[0])
	if err != nil {
		return nil, err
	}
	if v < 0 || v > 10*params.GASFactor {
		return nil, fmt.Errorf("%w: gas per block %d", ErrOutOfBounds, v)
	}
	if err := checkCommittee(ic, n); err != nil {
		return nil, err
	}
	index := uint32(0)
	if ic.Block != nil {
		index = ic.Block.Index + 1
	}
	if err := putIntStorage(ic, NeoID, append([]byte{prefixGasPerBlock}, beUint32(index)...), v); err != nil {
		return nil, err
	}
	return stackitem.Null{}, nil
}

func (n *NEO) getRegisterPriceMethod(ic *interop.Context, _ []stackitem.Item) (stackitem.Item, error) {
	return stackitem.Make(n.RegisterPrice(ic)), nil
}

func (n *NEO) setRegisterPrice(ic *interop.Context, args []stackitem.Item) (stackitem.Item, error) {
	v, err := toInt64(args[0])
	if err != nil {
		return nil, err
	}
	if v <= 0 {
		return nil, fmt.Errorf("%w: register price %d", ErrOutOfBounds, v)
	}
	if err := checkCommittee(ic, n); err != nil {
		return nil, err
	}
	if err := putIntStorage(ic, NeoID, keyRegisterPrice, v); err != nil {
		return nil, err
	}
	return stackitem.Null{}, nil
}

func (n *NEO) getAccountState(ic *interop.Context, args []stackitem.Item) (stackitem.Item, error) {
	acc, err := toUint160(args[0])
	if err != nil {
		return nil, err
	}
	rec := n.getBalance(ic, acc)
	if rec.Balance.Sign() == 0 && rec.VoteTo == nil {
		return stackitem.Null{}, nil
	}
	return stackitem.NewStruct([]stackitem.Item{
		stackitem.NewBigInteger(rec.Balance),
		stackitem.Make(int64(rec.BalanceHeight)),
		keyOrNull(rec.VoteTo),
	}), nil
}

func keyOrNull(pub *crypto.PublicKey) stackitem.Item {
	if pub == nil {
		return stackitem.Null{}
	}
	return stackitem.ByteArray(pub.Bytes())
}

func keysToArray(keys []*crypto.PublicKey) stackitem.Item {
	items := make([]stackitem.Item, len(keys))
	for i, k := range keys {
		items[i] = stackitem.ByteArray(k.Bytes())
	}
	return stackitem.NewArray(items)
}
