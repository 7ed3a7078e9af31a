// Package interop is the bridge between the virtual machine and the node:
// syscall dispatch, gas charging for services, notifications, and the
// native-contract method registry.
package interop

import (
	"errors"
	"fmt"

	"github.com/gneo-network/gneo/common"
	"github.com/gneo-network/gneo/core/dao"
	"github.com/gneo-network/gneo/core/state"
	"github.com/gneo-network/gneo/core/types"
	"github.com/gneo-network/gneo/crypto"
	"github.com/gneo-network/gneo/params"
	"github.com/gneo-network/gneo/vm"
	"github.com/gneo-network/gneo/vm/callflag"
	"github.com/gneo-network/gneo/vm/emit"
	"github.com/gneo-network/gneo/vm/stackitem"
	"github.com/gneo-network/gneo/wire"
)

var (
	// ErrNoSuchService marks an unknown syscall id.
	ErrNoSuchService = errors.New("interop: unknown syscall")
	// ErrMissingFlags marks a syscall made without its required permissions.
	ErrMissingFlags = errors.New("interop: missing call flags")
	// ErrGas marks service gas exhaustion.
	ErrGas = errors.New("interop: gas limit exceeded during syscall")
)

// Function is one registered interop service.
type Function struct {
	ID            uint32
	Name          string
	Handler       func(*Context) error
	Price         int64
	RequiredFlags callflag.CallFlag
}

// Method is one native contract method.
type Method struct {
	Name          string
	Handler       func(*Context, []stackitem.Item) (stackitem.Item, error)
	CPUFee        int64
	StorageFee    int64
	RequiredFlags callflag.CallFlag
	ParamCount    int
	// ActiveFrom gates the method on a hardfork; empty means always active.
	ActiveFrom string
}

// ContractMD is the fixed metadata of one native contract.
type ContractMD struct {
	Name    string
	ID      int32
	Hash    common.Uint160
	Methods []Method
}

// NewContractMD derives the fixed hash of a native contract from its name:
// the hash of the canonical name-push script.
func NewContractMD(name string, id int32) *ContractMD {
	w := wire.NewBufBinWriter()
	emit.String(w.BinWriter, name)
	return &ContractMD{
		Name: name,
		ID:   id,
		Hash: crypto.Hash160(w.Bytes()),
	}
}

// GetMethod finds a native method by name and parameter count.
func (md *ContractMD) GetMethod(name string, paramCount int) *Method {
	for i := range md.Methods {
		m := &md.Methods[i]
		if m.Name == name && (paramCount < 0 || m.ParamCount == paramCount) {
			return m
		}
	}
	return nil
}

// NativeContract is the interface every native implements.
type NativeContract interface {
	Metadata() *ContractMD
	OnPersist(*Context) error
	PostPersist(*Context) error
}

// Ledger is the read surface natives and syscalls need from the chain.
type Ledger interface {
	BlockHeight() uint32
	GetBlockHash(index uint32) (common.Uint256, error)
	GetBlock(hash common.Uint256) (*types.Block, error)
	GetTransaction(hash common.Uint256) (*types.Transaction, uint32, error)
}

// Context carries everything one execution can reach.
type Context struct {
	Chain    Ledger
	Cfg      *params.ProtocolConfiguration
	Trigger  state.Trigger
	Block    *types.Block
	Tx       *types.Transaction
	DAO      *dao.Simple
	VM       *vm.VM
	Natives  []NativeContract
	Log      func(msg string, scriptHash common.Uint160)
	// GetContract resolves deployed (non-native) contracts; the ledger
	// points it at ContractManagement on every context it builds.
	GetContract func(common.Uint160) (*state.Contract, error)

	// Notifications accumulate across the whole execution.
	Notifications []state.NotificationEvent

	// ExecFeeFactor and StoragePrice are policy values frozen at execution
	// start.
	ExecFeeFactor int64
	StoragePrice  int64

	// invocations counts Contract.Call per target hash.
	invocations map[common.Uint160]int

	// random is the deterministic random stream state.
	random []byte

	// ContainerOverride, when set, is the hash witnesses sign instead of
	// the transaction or block hash.
	ContainerOverride common.Uint256
}

// Container returns the hash signatures cover: an explicit override (used
// for block and payload witnesses), else the transaction, else the
// persisting block.
func (ic *Context) Container() common.Uint256 {
	if !ic.ContainerOverride.IsZero() {
		return ic.ContainerOverride
	}
	if ic.Tx != nil {
		return ic.Tx.Hash()
	}
	if ic.Block != nil {
		return ic.Block.Hash()
	}
	return common.Uint256{}
}

// NativeByHash finds a native contract by hash.
func (ic *Context) NativeByHash(h common.Uint160) NativeContract {
	for _, n := range ic.Natives {
		if n.Metadata().Hash.Equals(h) {
			return n
		}
	}
	return nil
}

// NativeByName finds a native contract by name.
func (ic *Context) NativeByName(name string) NativeContract {
	for _, n := range ic.Natives {
		if n.Metadata().Name == name {
			return n
		}
	}
	return nil
}

// AddGas meters service gas against the VM's limit.
func (ic *Context) AddGas(cost int64) error {
	if !ic.VM.AddGas(cost) {
		return ErrGas
	}
	return nil
}

// AddNotification appends one Notify event.
func (ic *Context) AddNotification(hash common.Uint160, name string, item *stackitem.Array) {
	ic.Notifications = append(ic.Notifications, state.NotificationEvent{
		ScriptHash: hash,
		Name:       name,
		Item:       item,
	})
}

// SpawnVM equips a fresh VM with this context's syscall table.
func (ic *Context) SpawnVM() *vm.VM {
	v := vm.New()
	v.ExecFeeFactor = ic.ExecFeeFactor
	v.SyscallHandler = ic.SyscallHandler
	ic.VM = v
	return v
}

// SyscallHandler dispatches one SYSCALL instruction.
func (ic *Context) SyscallHandler(v *vm.VM, id uint32) error {
	fn, ok := services[id]
	if !ok {
		return fmt.Errorf("%w: 0x%x", ErrNoSuchService, id)
	}
	if !v.Context().CallFlags().Has(fn.RequiredFlags) {
		return fmt.Errorf("%w: %s needs %08b", ErrMissingFlags, fn.Name, fn.RequiredFlags)
	}
	if err := ic.AddGas(fn.Price * ic.ExecFeeFactor); err != nil {
		return err
	}
	return fn.Handler(ic)
}

// CheckWitness reports whether hash authorized the current execution.
func (ic *Context) CheckWitness(hash common.Uint160) (bool, error) {
	// The calling contract vouches for itself.
	if ic.VM != nil && ic.VM.Context() != nil {
		if ic.VM.Context().CallingScriptHash().Equals(hash) {
			return true, nil
		}
	}
	if ic.Tx == nil {
		// Under persist triggers the block's consensus witness stands for
		// NextConsensus.
		if ic.Block != nil {
			return ic.Block.Witness.ScriptHash().Equals(hash), nil
		}
		return false, nil
	}
	for i := range ic.Tx.Signers {
		if !ic.Tx.Signers[i].Account.Equals(hash) {
			continue
		}
		mc := &types.MatchContext{Groups: func(common.Uint160) []*crypto.PublicKey { return nil }}
		if ic.VM != nil && ic.VM.Context() != nil {
			mc.CurrentScriptHash = ic.VM.Context().ScriptHash()
			mc.CallingScriptHash = ic.VM.Context().CallingScriptHash()
		}
		mc.EntryScriptHash = crypto.Hash160(ic.Tx.Script)
		if ic.Tx.Signers[i].Scopes == types.ScopeNone {
			// None pays fees and witnesses nothing else.
			return false, nil
		}
		return ic.Tx.Signers[i].Matches(mc), nil
	}
	return false, nil
}

// services is the closed syscall registry, populated by init functions in
// this package.
var services = map[uint32]Function{}

// Register adds one service at package initialization.
func Register(name string, price int64, flags callflag.CallFlag, handler func(*Context) error) {
	id := emit.InteropNameToID(name)
	if _, exists := services[id]; exists {
		panic(fmt.Sprintf("interop: duplicate syscall %s", name))
	}
	services[id] = Function{
		ID:            id,
		Name:          name,
		Handler:       handler,
		Price:         price,
		RequiredFlags: flags,
	}
}
