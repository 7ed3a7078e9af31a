package native

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/gneo-network/gneo/common"
	"github.com/gneo-network/gneo/core/interop"
	"github.com/gneo-network/gneo/core/state"
	"github.com/gneo-network/gneo/crypto"
	"github.com/gneo-network/gneo/vm/callflag"
	"github.com/gneo-network/gneo/vm/stackitem"
)

var (
	prefixAccount  = byte(0x14)
	keyTotalSupply = []byte{0x0b}

	errInsufficientFunds = errors.New("native: insufficient funds")
	errNegativeAmount    = errors.New("native: negative amount")
)

// GAS is the divisible utility token. Fees burn it; block rewards mint it.
type GAS struct {
	baseContract
	NEO *NEO
}

func newGAS() *GAS {
	g := &GAS{baseContract{interop.NewContractMD("GasToken", GasID)}, nil}
	md := g.md
	md.Methods = []interop.Method{
		{Name: "symbol", Handler: g.symbol, CPUFee: 0},
		{Name: "decimals", Handler: g.decimals, CPUFee: 0},
		{Name: "totalSupply", Handler: g.totalSupply, CPUFee: 1 << 15, RequiredFlags: callflag.ReadStates},
		{Name: "balanceOf", Handler: g.balanceOf, CPUFee: 1 << 15, RequiredFlags: callflag.ReadStates, ParamCount: 1},
		{Name: "transfer", Handler: g.transfer, CPUFee: 1 << 17, StorageFee: 50, RequiredFlags: callflag.States | callflag.AllowCall | callflag.AllowNotify, ParamCount: 4},
	}
	return g
}

func accountKey(acc common.Uint160) []byte {
	return append([]byte{prefixAccount}, acc[:]...)
}

// BalanceOf reads an account's GAS balance.
func (g *GAS) BalanceOf(ic *interop.Context, acc common.Uint160) *big.Int {
	var rec state.GASBalance
	if err := getSerializable(ic, GasID, accountKey(acc), &rec); err != nil {
		return new(big.Int)
	}
	return rec.Balance
}

func (g *GAS) setBalance(ic *interop.Context, acc common.Uint160, balance *big.Int) error {
	key := accountKey(acc)
	if balance.Sign() == 0 {
		return delStorage(ic, GasID, key)
	}
	return putSerializable(ic, GasID, key, &state.GASBalance{Balance: balance})
}

// TotalSupply reads the circulating amount.
func (g *GAS) TotalSupply(ic *interop.Context) *big.Int {
	raw := getStorage(ic, GasID, keyTotalSupply)
	if raw == nil {
		return new(big.Int)
	}
	return stackitem.BigIntFromBytes(raw)
}

func (g *GAS) addTotalSupply(ic *interop.Context, delta *big.Int) error {
	total := new(big.Int).Add(g.TotalSupply(ic), delta)
	if total.Sign() < 0 {
		return errInsufficientFunds
	}
	return putStorage(ic, GasID, keyTotalSupply, stackitem.BigIntToBytes(total))
}

// Mint credits amount to acc and grows the supply.
func (g *GAS) Mint(ic *interop.Context, acc common.Uint160, amount *big.Int) error {
	if amount.Sign() < 0 {
		return errNegativeAmount
	}
	if amount.Sign() == 0 {
		return nil
	}
	if err := g.setBalance(ic, acc, new(big.Int).Add(g.BalanceOf(ic, acc), amount)); err != nil {
		return err
	}
	if err := g.addTotalSupply(ic, amount); err != nil {
		return err
	}
	notify(ic, g.md.Hash, "Transfer", stackitem.Null{}, stackitem.ByteArray(acc[:]), stackitem.NewBigInteger(amount))
	return nil
}

// Burn debits amount from acc and shrinks the supply.
func (g *GAS) Burn(ic *interop.Context, acc common.Uint160, amount *big.Int) error {
	if amount.Sign() < 0 {
		return errNegativeAmount
	}
	if amount.Sign() == 0 {
		return nil
	}
	balance := g.BalanceOf(ic, acc)
	if balance.Cmp(amount) < 0 {
		return fmt.Errorf("%w: %s has %s, needs %s", errInsufficientFunds, acc, balance, amount)
	}
	if err := g.setBalance(ic, acc, new(big.Int).Sub(balance, amount)); err != nil {
		return err
	}
	if err := g.addTotalSupply(ic, new(big.Int).Neg(amount)); err != nil {
		return err
	}
	notify(ic, g.md.Hash, "Transfer", stackitem.ByteArray(acc[:]), stackitem.Null{}, stackitem.NewBigInteger(amount))
	return nil
}

// Transfer moves amount between accounts with the sender's witness.
func (g *GAS) Transfer(ic *interop.Context, from, to common.Uint160, amount *big.Int, data stackitem.Item) (bool, error) {
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
	balance := g.BalanceOf(ic, from)
	if balance.Cmp(amount) < 0 {
		return false, nil
	}
	if !from.Equals(to) && amount.Sign() > 0 {
		if err := g.setBalance(ic, from, new(big.Int).Sub(balance, amount)); err != nil {
			return false, err
		}
		if err := g.setBalance(ic, to, new(big.Int).Add(g.BalanceOf(ic, to), amount)); err != nil {
			return false, err
		}
	}
	notify(ic, g.md.Hash, "Transfer",
		stackitem.ByteArray(from[:]), stackitem.ByteArray(to[:]), stackitem.NewBigInteger(amount))
	return true, postTransfer(ic, g.md.Hash, from, to, amount, data)
}

// postTransfer invokes onNEP17Payment when the receiver is a contract.
func postTransfer(ic *interop.Context, token common.Uint160, from, to common.Uint160, amount *big.Int, data stackitem.Item) error {
	if data == nil {
		data = stackitem.Null{}
	}
	if native := ic.NativeByHash(to); native != nil {
		if receiver, ok := native.(payable); ok {
			return receiver.OnNEP17Payment(ic, from, amount, data)
		}
		return nil
	}
	if ic.GetContract == nil {
		return nil
	}
	contract, err := ic.GetContract(to)
	if err != nil {
		return nil // plain account
	}
	if contract.Manifest.Method("onNEP17Payment", -1) == nil {
		return fmt.Errorf("native: receiver %s does not accept payments", to)
	}
	return ic.CallContract(to, "onNEP17Payment", callflag.All, []stackitem.Item{
		stackitem.ByteArray(from[:]), stackitem.NewBigInteger(amount), data,
	})
}

// payable natives accept token payments.
type payable interface {
	OnNEP17Payment(ic *interop.Context, from common.Uint160, amount *big.Int, data stackitem.Item) error
}

// Initialize mints the initial GAS distribution to the standby validators'
// multisig account at genesis.
func (g *GAS) Initialize(ic *interop.Context) error {
	standby, err := g.NEO.standbyKeys(ic)
	if err != nil {
		return err
	}
	holder, err := crypto.BFTAddress(standby[:ic.Cfg.ValidatorsCount])
	if err != nil {
		return err
	}
	return g.Mint(ic, holder, big.NewInt(ic.Cfg.InitialGASSupply))
}

// OnPersist burns every transaction's declared fees from its fee payer.
// Execution happens later; fees are spent whether or not the script halts.
func (g *GAS) OnPersist(ic *interop.Context) error {
	if ic.Block == nil {
		return errors.New("native: OnPersist without a block")
	}
	for _, tx := range ic.Block.Transactions {
		total := big.NewInt(tx.SystemFee + tx.NetworkFee)
		if err := g.Burn(ic, tx.Sender(), total); err != nil {
			return err
		}
	}
	return nil
}

// PostPersist mints the block's network fees to the primary validator.
func (g *GAS) PostPersist(ic *interop.Context) error {
	if ic.Block == nil {
		return errors.New("native: PostPersist without a block")
	}
	var netFees int64
	for _, tx := range ic.Block.Transactions {
		netFees += tx.NetworkFee
	}
	if netFees == 0 {
		return nil
	}
	validators, err := g.NEO.NextBlockValidators(ic)
	if err != nil {
		return err
	}
	if int(ic.Block.PrimaryIndex) >= len(validators) {
		return errors.New("native: primary index outside validator set")
	}
	primary := validators[ic.Block.PrimaryIndex].ScriptHash()
	return g.Mint(ic, primary, big.NewInt(netFees))
}

// --- method handlers ---

func (g *GAS) symbol(*interop.Context, []stackitem.Item) (stackitem.Item, error) {
	return stackitem.Make("GAS"), nil
}

func (g *GAS) decimals(*interop.Context, []stackitem.Item) (stackitem.Item, error) {
	return stackitem.Make(8), nil
}

func (g *GAS) totalSupply(ic *interop.Context, _ []stackitem.Item) (stackitem.Item, error) {
	return stackitem.NewBigInteger(g.TotalSupply(ic)), nil
}

func (g *GAS) balanceOf(ic *interop.Context, args []stackitem.Item) (stackitem.Item, error) {
	acc, err := toUint160(args[0])
	if err != nil {
		return nil, err
	}
	return stackitem.NewBigInteger(g.BalanceOf(ic, acc)), nil
}

func (g *GAS) transfer(ic *interop.Context, args []stackitem.Item) (stackitem.Item, error) {
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
	ok, err := g.Transfer(ic, from, to, amount, args[3])
	if err != nil {
		return nil, err
	}
	return stackitem.Bool(ok), nil
}
