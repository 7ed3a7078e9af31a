package interop

import (
	"errors"
	"fmt"
	"strings"

	"github.com/gneo-network/gneo/common"
	"github.com/gneo-network/gneo/crypto"
	"github.com/gneo-network/gneo/vm/callflag"
	"github.com/gneo-network/gneo/vm/stackitem"
)

var (
	errContractNotFound = errors.New("interop: contract not found")
	errMethodNotFound   = errors.New("interop: method not found")
)

func contractCall(ic *Context) error {
	hashBytes, err := ic.VM.Estack().PopBytes()
	if err != nil {
		return err
	}
	hash, err := common.Uint160FromBytes(hashBytes)
	if err != nil {
		return err
	}
	methodBytes, err := ic.VM.Estack().PopBytes()
	if err != nil {
		return err
	}
	method := string(methodBytes)
	flagsInt, err := ic.VM.Estack().PopInt()
	if err != nil {
		return err
	}
	flags := callflag.CallFlag(flagsInt)
	if int64(flags) != flagsInt || flags&^callflag.All != 0 {
		return fmt.Errorf("interop: invalid call flags %x", flagsInt)
	}
	argItem, err := ic.VM.Estack().Pop()
	if err != nil {
		return err
	}
	args, ok := argItem.(*stackitem.Array)
	if !ok {
		return errors.New("interop: call arguments must be an array")
	}
	if strings.HasPrefix(method, "_") {
		return fmt.Errorf("interop: direct call of reserved method %s", method)
	}
	return ic.CallContract(hash, method, flags, args.Value())
}

// CallContract dispatches a method call on a native or deployed contract.
func (ic *Context) CallContract(hash common.Uint160, method string, flags callflag.CallFlag, args []stackitem.Item) error {
	if ic.invocations == nil {
		ic.invocations = make(map[common.Uint160]int)
	}
	ic.invocations[hash]++

	if native := ic.NativeByHash(hash); native != nil {
		return ic.callNative(native, method, flags, args)
	}
	if ic.GetContract == nil {
		return errContractNotFound
	}
	contract, err := ic.GetContract(hash)
	if err != nil {
		return fmt.Errorf("%w: %s", errContractNotFound, hash)
	}
	md := contract.Manifest.Method(method, len(args))
	if md == nil {
		return fmt.Errorf("%w: %s/%d on %s", errMethodNotFound, method, len(args), hash)
	}
	if md.Safe {
		flags &= callflag.ReadOnly | callflag.AllowNotify
	}
	if err := ic.VM.LoadScript(contract.Script, contract.Hash, flags, 1, md.Offset); err != nil {
		return err
	}
	for i := len(args) - 1; i >= 0; i-- {
		ic.VM.Estack().Push(args[i])
	}
	return nil
}

// callNative runs a native method synchronously and pushes its result.
func (ic *Context) callNative(native NativeContract, method string, flags callflag.CallFlag, args []stackitem.Item) error {
	md := native.Metadata()
	m := md.GetMethod(method, len(args))
	if m == nil {
		return fmt.Errorf("%w: %s/%d on native %s", errMethodNotFound, method, len(args), md.Name)
	}
	if m.ActiveFrom != "" && ic.Block != nil &&
		!ic.Cfg.HardforkEnabled(m.ActiveFrom, ic.Block.Index) {
		return fmt.Errorf("interop: method %s.%s inactive before hardfork %s", md.Name, method, m.ActiveFrom)
	}
	callerFlags := ic.VM.Context().CallFlags()
	effective := flags & callerFlags
	if !effective.Has(m.RequiredFlags) {
		return fmt.Errorf("%w: %s.%s needs %08b", ErrMissingFlags, md.Name, method, m.RequiredFlags)
	}
	if err := ic.AddGas(m.CPUFee*ic.ExecFeeFactor + m.StorageFee*ic.StoragePrice); err != nil {
		return err
	}
	result, err := m.Handler(ic, args)
	if err != nil {
		return fmt.Errorf("%s.%s: %w", md.Name, method, err)
	}
	ic.VM.Estack().Push(result)
	return nil
}

func contractGetCallFlags(ic *Context) error {
	ic.VM.Estack().PushVal(int64(ic.VM.Context().CallFlags()))
	return nil
}

func contractCreateStandardAccount(ic *Context) error {
	b, err := ic.VM.Estack().PopBytes()
	if err != nil {
		return err
	}
	key, err := crypto.NewPublicKeyFromBytes(b)
	if err != nil {
		return err
	}
	h := key.ScriptHash()
	ic.VM.Estack().PushVal(h[:])
	return nil
}

func contractCreateMultisigAccount(ic *Context) error {
	m, err := ic.VM.Estack().PopInt()
	if err != nil {
		return err
	}
	item, err := ic.VM.Estack().Pop()
	if err != nil {
		return err
	}
	arr, ok := item.(*stackitem.Array)
	if !ok {
		return errors.New("interop: expected an array of keys")
	}
	keys := make([]*crypto.PublicKey, arr.Len())
	for i, e := range arr.Value() {
		b, err := e.TryBytes()
		if err != nil {
			return err
		}
		keys[i], err = crypto.NewPublicKeyFromBytes(b)
		if err != nil {
			return err
		}
	}
	script, err := crypto.CreateMultiSigRedeemScript(int(m), keys)
	if err != nil {
		return err
	}
	h := crypto.Hash160(script)
	ic.VM.Estack().PushVal(h[:])
	return nil
}

func init() {
	Register("System.Contract.Call", 1<<15, callflag.ReadStates|callflag.AllowCall, contractCall)
	Register("System.Contract.GetCallFlags", 1<<10, callflag.NoneFlag, contractGetCallFlags)
	Register("System.Contract.CreateStandardAccount", 1<<8, callflag.NoneFlag, contractCreateStandardAccount)
	Register("System.Contract.CreateMultisigAccount", 1<<8, callflag.NoneFlag, contractCreateMultisigAccount)
}
