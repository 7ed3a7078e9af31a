package native

import (
	"fmt"

	"github.com/gneo-network/gneo/common"
	"github.com/gneo-network/gneo/core/interop"
	"github.com/gneo-network/gneo/params"
	"github.com/gneo-network/gneo/vm/callflag"
	"github.com/gneo-network/gneo/vm/stackitem"
)

// Policy storage prefixes.
var (
	keyFeePerByte         = []byte{0x0a}
	keyExecFeeFactor      = []byte{0x12}
	keyStoragePrice       = []byte{0x13}
	keyMaxTxPerBlock      = []byte{0x17}
	keyMaxBlockSize       = []byte{0x0c}
	keyMaxBlockSystemFee  = []byte{0x11}
	keyMaxTraceableBlocks = []byte{0x16}
	keyMaxVUBIncrement    = []byte{0x18}
	prefixAttributeFee    = byte(0x14)
	prefixBlockedAccount  = byte(0x0f)
)

// Policy setter bounds.
const (
	maxExecFeeFactor  = 100
	maxFeePerByte     = 1_00000000
	maxStoragePrice   = 10000000
	maxAttributeFee   = 10_00000000
	maxTxPerBlockCap  = 0xFFFF
	maxSystemFeeCap   = 100000 * params.GASFactor
	minSystemFeeFloor = 4007600
)

// Policy is the committee-gated parameter store.
type Policy struct {
	baseContract
	NEO *NEO
}

func newPolicy() *Policy {
	p := &Policy{baseContract{interop.NewContractMD("PolicyContract", PolicyID)}, nil}
	md := p.md
	md.Methods = []interop.Method{
		{Name: "getFeePerByte", Handler: p.getFeePerByte, CPUFee: 1 << 15, RequiredFlags: callflag.ReadStates},
		{Name: "setFeePerByte", Handler: p.setFeePerByte, CPUFee: 1 << 15, RequiredFlags: callflag.States, ParamCount: 1},
		{Name: "getExecFeeFactor", Handler: p.getExecFeeFactor, CPUFee: 1 << 15, RequiredFlags: callflag.ReadStates},
		{Name: "setExecFeeFactor", Handler: p.setExecFeeFactor, CPUFee: 1 << 15, RequiredFlags: callflag.States, ParamCount: 1},
		{Name: "getStoragePrice", Handler: p.getStoragePrice, CPUFee: 1 << 15, RequiredFlags: callflag.ReadStates},
		{Name: "setStoragePrice", Handler: p.setStoragePrice, CPUFee: 1 << 15, RequiredFlags: callflag.States, ParamCount: 1},
		{Name: "getMaxTransactionsPerBlock", Handler: p.getMaxTxPerBlock, CPUFee: 1 << 15, RequiredFlags: callflag.ReadStates},
		{Name: "setMaxTransactionsPerBlock", Handler: p.setMaxTxPerBlock, CPUFee: 1 << 15, RequiredFlags: callflag.States, ParamCount: 1},
		{Name: "getMaxBlockSize", Handler: p.getMaxBlockSize, CPUFee: 1 << 15, RequiredFlags: callflag.ReadStates},
		{Name: "setMaxBlockSize", Handler: p.setMaxBlockSize, CPUFee: 1 << 15, RequiredFlags: callflag.States, ParamCount: 1},
		{Name: "getMaxBlockSystemFee", Handler: p.getMaxBlockSystemFee, CPUFee: 1 << 15, RequiredFlags: callflag.ReadStates},
		{Name: "setMaxBlockSystemFee", Handler: p.setMaxBlockSystemFee, CPUFee: 1 << 15, RequiredFlags: callflag.States, ParamCount: 1},
		{Name: "getMaxTraceableBlocks", Handler: p.getMaxTraceableBlocks, CPUFee: 1 << 15, RequiredFlags: callflag.ReadStates},
		{Name: "setMaxTraceableBlocks", Handler: p.setMaxTraceableBlocks, CPUFee: 1 << 15, RequiredFlags: callflag.States, ParamCount: 1},
		{Name: "getMaxValidUntilBlockIncrement", Handler: p.getMaxVUBIncrement, CPUFee: 1 << 15, RequiredFlags: callflag.ReadStates},
		{Name: "setMaxValidUntilBlockIncrement", Handler: p.setMaxVUBIncrement, CPUFee: 1 << 15, RequiredFlags: callflag.States, ParamCount: 1},
		{Name: "getAttributeFee", Handler: p.getAttributeFee, CPUFee: 1 << 15, RequiredFlags: callflag.ReadStates, ParamCount: 1},
		{Name: "setAttributeFee", Handler: p.setAttributeFee, CPUFee: 1 << 15, RequiredFlags: callflag.States, ParamCount: 2},
		{Name: "isBlocked", Handler: p.isBlocked, CPUFee: 1 << 15, RequiredFlags: callflag.ReadStates, ParamCount: 1},
		{Name: "blockAccount", Handler: p.blockAccount, CPUFee: 1 << 15, RequiredFlags: callflag.States, ParamCount: 1},
		{Name: "unblockAccount", Handler: p.unblockAccount, CPUFee: 1 << 15, RequiredFlags: callflag.States, ParamCount: 1},
	}
	return p
}

// Getters usable from Go code (the ledger consults these constantly).

// FeePerByte returns the current network fee floor per byte.
func (p *Policy) FeePerByte(ic *interop.Context) int64 {
	return getIntStorage(ic, PolicyID, keyFeePerByte, params.DefaultFeePerByte)
}

// ExecFeeFactor returns the opcode tariff multiplier.
func (p *Policy) ExecFeeFactor(ic *interop.Context) int64 {
	return getIntStorage(ic, PolicyID, keyExecFeeFactor, params.DefaultExecFeeFactor)
}

// StoragePrice returns the price per storage byte.
func (p *Policy) StoragePrice(ic *interop.Context) int64 {
	return getIntStorage(ic, PolicyID, keyStoragePrice, params.DefaultStoragePrice)
}

// MaxTransactionsPerBlock returns the per-block transaction cap.
func (p *Policy) MaxTransactionsPerBlock(ic *interop.Context) int64 {
	return getIntStorage(ic, PolicyID, keyMaxTxPerBlock, int64(ic.Cfg.MaxTransactionsPerBlock))
}

// MaxBlockSize returns the serialized block size cap.
func (p *Policy) MaxBlockSize(ic *interop.Context) int64 {
	return getIntStorage(ic, PolicyID, keyMaxBlockSize, params.DefaultMaxBlockSize)
}

// MaxBlockSystemFee returns the per-block system fee cap.
func (p *Policy) MaxBlockSystemFee(ic *interop.Context) int64 {
	return getIntStorage(ic, PolicyID, keyMaxBlockSystemFee, params.DefaultMaxBlockSystemFee)
}

// MaxTraceableBlocks returns the lookback horizon for historical queries.
func (p *Policy) MaxTraceableBlocks(ic *interop.Context) int64 {
	return getIntStorage(ic, PolicyID, keyMaxTraceableBlocks, int64(ic.Cfg.MaxTraceableBlocks))
}

// MaxValidUntilBlockIncrement returns the expiry window cap.
func (p *Policy) MaxValidUntilBlockIncrement(ic *interop.Context) int64 {
	return getIntStorage(ic, PolicyID, keyMaxVUBIncrement, int64(ic.Cfg.MaxValidUntilBlockIncrement))
}

// AttributeFee returns the admission surcharge of one attribute type.
func (p *Policy) AttributeFee(ic *interop.Context, t byte) int64 {
	return getIntStorage(ic, PolicyID, []byte{prefixAttributeFee, t}, params.DefaultAttributeFee)
}

// IsBlocked reports whether an account is on the blocklist.
func (p *Policy) IsBlocked(ic *interop.Context, acc common.Uint160) bool {
	return getStorage(ic, PolicyID, append([]byte{prefixBlockedAccount}, acc[:]...)) != nil
}

// --- method handlers ---

func (p *Policy) getFeePerByte(ic *interop.Context, _ []stackitem.Item) (stackitem.Item, error) {
	return stackitem.Make(p.FeePerByte(ic)), nil
}

func (p *Policy) setFeePerByte(ic *interop.Context, args []stackitem.Item) (stackitem.Item, error) {
	return p.setGated(ic, args, keyFeePerByte, 0, maxFeePerByte)
}

func (p *Policy) getExecFeeFactor(ic *interop.Context, _ []stackitem.Item) (stackitem.Item, error) {
	return stackitem.Make(p.ExecFeeFactor(ic)), nil
}

func (p *Policy) setExecFeeFactor(ic *interop.Context, args []stackitem.Item) (stackitem.Item, error) {
	return p.setGated(ic, args, keyExecFeeFactor, 1, maxExecFeeFactor)
}

func (p *Policy) getStoragePrice(ic *interop.Context, _ []stackitem.Item) (stackitem.Item, error) {
	return stackitem.Make(p.StoragePrice(ic)), nil
}

func (p *Policy) setStoragePrice(ic *interop.Context, args []stackitem.Item) (stackitem.Item, error) {
	return p.setGated(ic, args, keyStoragePrice, 1, maxStoragePrice)
}

func (p *Policy) getMaxTxPerBlock(ic *interop.Context, _ []stackitem.Item) (stackitem.Item, error) {
	return stackitem.Make(p.MaxTransactionsPerBlock(ic)), nil
}

func (p *Policy) setMaxTxPerBlock(ic *interop.Context, args []stackitem.Item) (stackitem.Item, error) {
	return p.setGated(ic, args, keyMaxTxPerBlock, 1, maxTxPerBlockCap)
}

func (p *Policy) getMaxBlockSize(ic *interop.Context, _ []stackitem.Item) (stackitem.Item, error) {
	return stackitem.Make(p.MaxBlockSize(ic)), nil
}

func (p *Policy) setMaxBlockSize(ic *interop.Context, args []stackitem.Item) (stackitem.Item, error) {
	return p.setGated(ic, args, keyMaxBlockSize, params.MinBlockSizeCap, params.MaxBlockSizeCap)
}

func (p *Policy) getMaxBlockSystemFee(ic *interop.Context, _ []stackitem.Item) (stackitem.Item, error) {
	return stackitem.Make(p.MaxBlockSystemFee(ic)), nil
}

func (p *Policy) setMaxBlockSystemFee(ic *interop.Context, args []stackitem.Item) (stackitem.Item, error) {
	return p.setGated(ic, args, keyMaxBlockSystemFee, minSystemFeeFloor, maxSystemFeeCap)
}

func (p *Policy) getMaxTraceableBlocks(ic *interop.Context, _ []stackitem.Item) (stackitem.Item, error) {
	return stackitem.Make(p.MaxTraceableBlocks(ic)), nil
}

func (p *Policy) setMaxTraceableBlocks(ic *interop.Context, args []stackitem.Item) (stackitem.Item, error) {
	return p.setGated(ic, args, keyMaxTraceableBlocks, 1, 1<<31-1)
}

func (p *Policy) getMaxVUBIncrement(ic *interop.Context, _ []stackitem.Item) (stackitem.Item, error) {
	return stackitem.Make(p.MaxValidUntilBlockIncrement(ic)), nil
}

func (p *Policy) setMaxVUBIncrement(ic *interop.Context, args []stackitem.Item) (stackitem.Item, error) {
	return p.setGated(ic, args, keyMaxVUBIncrement, 1, 86400)
}

func (p *Policy) setGated(ic *interop.Context, args []stackitem.Item, key []byte, min, max int64) (stackitem.Item, error) {
	v, err := toInt64(args[0])
	if err != nil {
		return nil, err
	}
	if v < min || v > max {
		return nil, fmt.Errorf("%w: %d outside [%d, %d]", ErrOutOfBounds, v, min, max)
	}
	if err := checkCommittee(ic, p.NEO); err != nil {
		return nil, err
	}
	if err := putIntStorage(ic, PolicyID, key, v); err != nil {
		return nil, err
	}
	return stackitem.Null{}, nil
}

func (p *Policy) getAttributeFee(ic *interop.Context, args []stackitem.Item) (stackitem.Item, error) {
	t, err := toInt64(args[0])
	if err != nil || t < 0 || t > 0xFF {
		return nil, ErrOutOfBounds
	}
	return stackitem.Make(p.AttributeFee(ic, byte(t))), nil
}

func (p *Policy) setAttributeFee(ic *interop.Context, args []stackitem.Item) (stackitem.Item, error) {
	t, err := toInt64(args[0])
	if err != nil || t < 0 || t > 0xFF {
		return nil, ErrOutOfBounds
	}
	v, err := toInt64(args[1])
	if err != nil {
		return nil, err
	}
	if v < 0 || v > maxAttributeFee {
		return nil, fmt.Errorf("%w: attribute fee %d", ErrOutOfBounds, v)
	}
	if err := checkCommittee(ic, p.NEO); err != nil {
		return nil, err
	}
	if err := putIntStorage(ic, PolicyID, []byte{prefixAttributeFee, byte(t)}, v); err != nil {
		return nil, err
	}
	return stackitem.Null{}, nil
}

func (p *Policy) isBlocked(ic *interop.Context, args []stackitem.Item) (stackitem.Item, error) {
	acc, err := toUint160(args[0])
	if err != nil {
		return nil, err
	}
	return stackitem.Bool(p.IsBlocked(ic, acc)), nil
}

func (p *Policy) blockAccount(ic *interop.Context, args []stackitem.Item) (stackitem.Item, error) {
	acc, err := toUint160(args[0])
	if err != nil {
		return nil, err
	}
	if err := checkCommittee(ic, p.NEO); err != nil {
		return nil, err
	}
	// Native contracts cannot be blocked.
	for _, n := range ic.Natives {
		if n.Metadata().Hash.Equals(acc) {
			return nil, fmt.Errorf("%w: cannot block a native contract", ErrOutOfBounds)
		}
	}
	key := append([]byte{prefixBlockedAccount}, acc[:]...)
	if getStorage(ic, PolicyID, key) != nil {
		return stackitem.Bool(false), nil
	}
	if err := putStorage(ic, PolicyID, key, []byte{1}); err != nil {
		return nil, err
	}
	return stackitem.Bool(true), nil
}

func (p *Policy) unblockAccount(ic *interop.Context, args []stackitem.Item) (stackitem.Item, error) {
	acc, err := toUint160(args[0])
	if err != nil {
		return nil, err
	}
	if err := checkCommittee(ic, p.NEO); err != nil {
		return nil, err
	}
	key := append([]byte{prefixBlockedAccount}, acc[:]...)
	if getStorage(ic, PolicyID, key) == nil {
		return stackitem.Bool(false), nil
	}
	if err := delStorage(ic, PolicyID, key); err != nil {
		return nil, err
	}
	return stackitem.Bool(true), nil
}
