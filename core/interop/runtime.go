package interop

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/twmb/murmur3"

	"github.com/gneo-network/gneo/common"
	"github.com/gneo-network/gneo/crypto"
	"github.com/gneo-network/gneo/params"
	"github.com/gneo-network/gneo/vm/callflag"
	"github.com/gneo-network/gneo/vm/stackitem"
)

// MaxNotificationName bounds event names.
const MaxNotificationName = 32

// MaxLogLength bounds System.Runtime.Log messages.
const MaxLogLength = 1024

func runtimePlatform(ic *Context) error {
	ic.VM.Estack().PushVal("NEO")
	return nil
}

func runtimeGetTrigger(ic *Context) error {
	ic.VM.Estack().PushVal(int64(ic.Trigger))
	return nil
}

func runtimeGetTime(ic *Context) error {
	if ic.Block == nil {
		return errors.New("interop: no block in context")
	}
	ic.VM.Estack().PushVal(ic.Block.Timestamp)
	return nil
}

func runtimeGetNetwork(ic *Context) error {
	ic.VM.Estack().PushVal(uint64(ic.Cfg.Magic))
	return nil
}

func runtimeGetAddressVersion(ic *Context) error {
	ic.VM.Estack().PushVal(int64(ic.Cfg.AddressVersion))
	return nil
}

func runtimeGetExecutingScriptHash(ic *Context) error {
	h := ic.VM.Context().ScriptHash()
	ic.VM.Estack().PushVal(h[:])
	return nil
}

func runtimeGetCallingScriptHash(ic *Context) error {
	h := ic.VM.Context().CallingScriptHash()
	if h.IsZero() {
		ic.VM.Estack().Push(stackitem.Null{})
		return nil
	}
	ic.VM.Estack().PushVal(h[:])
	return nil
}

func runtimeGetEntryScriptHash(ic *Context) error {
	if ic.Tx != nil {
		h := crypto.Hash160(ic.Tx.Script)
		ic.VM.Estack().PushVal(h[:])
		return nil
	}
	h := ic.VM.Context().ScriptHash()
	ic.VM.Estack().PushVal(h[:])
	return nil
}

func runtimeGetScriptContainer(ic *Context) error {
	if ic.Tx == nil {
		return errors.New("interop: no transaction in context")
	}
	h := ic.Tx.Hash()
	sender := ic.Tx.Sender()
	ic.VM.Estack().Push(stackitem.NewArray([]stackitem.Item{
		stackitem.ByteArray(h[:]),
		stackitem.Make(int64(ic.Tx.Version)),
		stackitem.Make(int64(ic.Tx.Nonce)),
		stackitem.ByteArray(sender[:]),
		stackitem.Make(ic.Tx.SystemFee),
		stackitem.Make(ic.Tx.NetworkFee),
		stackitem.Make(int64(ic.Tx.ValidUntilBlock)),
		stackitem.ByteArray(ic.Tx.Script),
	}))
	return nil
}

func runtimeCheckWitness(ic *Context) error {
	b, err := ic.VM.Estack().PopBytes()
	if err != nil {
		return err
	}
	var hash common.Uint160
	switch len(b) {
	case common.Uint160Size:
		hash, _ = common.Uint160FromBytes(b)
	case 33:
		key, err := crypto.NewPublicKeyFromBytes(b)
		if err != nil {
			return err
		}
		hash = key.ScriptHash()
	default:
		return fmt.Errorf("interop: CheckWitness expects a hash or key, got %d bytes", len(b))
	}
	ok, err := ic.CheckWitness(hash)
	if err != nil {
		return err
	}
	ic.VM.Estack().PushVal(ok)
	return nil
}

func runtimeGasLeft(ic *Context) error {
	if ic.VM.GasLimit < 0 {
		ic.VM.Estack().PushVal(int64(-1))
		return nil
	}
	ic.VM.Estack().PushVal(ic.VM.GasLimit - ic.VM.GasConsumed())
	return nil
}

func runtimeBurnGas(ic *Context) error {
	n, err := ic.VM.Estack().PopInt()
	if err != nil {
		return err
	}
	if n <= 0 {
		return errors.New("interop: BurnGas amount must be positive")
	}
	return ic.AddGas(n)
}

func runtimeGetInvocationCounter(ic *Context) error {
	h := ic.VM.Context().ScriptHash()
	count := 1
	if ic.invocations != nil {
		if c := ic.invocations[h]; c > 0 {
			count = c
		}
	}
	ic.VM.Estack().PushVal(int64(count))
	return nil
}

// runtimeGetRandom derives the deterministic random stream: seeded by the
// persisting block's nonce XOR the executing transaction's hash, advanced by
// murmur128 on each call.
func runtimeGetRandom(ic *Context) error {
	if ic.random == nil {
		seed := make([]byte, 8+common.Uint256Size)
		if ic.Block != nil {
			binary.LittleEndian.PutUint64(seed, ic.Block.Nonce)
		}
		if ic.Tx != nil {
			h := ic.Tx.Hash()
			for i := 0; i < 8; i++ {
				seed[i] ^= h[i]
			}
			copy(seed[8:], h[:])
		}
		ic.random = seed
	}
	lo, hi := murmur3.SeedSum128(0x4e45, 0x4f33, ic.random)
	next := make([]byte, 16)
	binary.LittleEndian.PutUint64(next, lo)
	binary.LittleEndian.PutUint64(next[8:], hi)
	ic.random = next
	// One trailing zero byte keeps the integer non-negative.
	ic.VM.Estack().Push(stackitem.NewBigInteger(stackitem.BigIntFromBytes(append(next, 0))))
	return nil
}

func runtimeLog(ic *Context) error {
	msg, err := ic.VM.Estack().PopBytes()
	if err != nil {
		return err
	}
	if len(msg) > MaxLogLength {
		return fmt.Errorf("interop: log message of %d bytes", len(msg))
	}
	if ic.Log != nil {
		ic.Log(string(msg), ic.VM.Context().ScriptHash())
	}
	return nil
}

func runtimeNotify(ic *Context) error {
	nameBytes, err := ic.VM.Estack().PopBytes()
	if err != nil {
		return err
	}
	if len(nameBytes) > MaxNotificationName {
		return fmt.Errorf("interop: event name of %d bytes", len(nameBytes))
	}
	item, err := ic.VM.Estack().Pop()
	if err != nil {
		return err
	}
	arr, ok := item.(*stackitem.Array)
	if !ok {
		return errors.New("interop: notification state must be an array")
	}
	// The state must fit the serialized notification cap.
	data, err := stackitem.Serialize(arr)
	if err != nil {
		return fmt.Errorf("interop: notification state: %w", err)
	}
	if len(data) > params.MaxNotificationSize {
		return fmt.Errorf("interop: notification of %d bytes", len(data))
	}
	copied, err := stackitem.Deserialize(data)
	if err != nil {
		return err
	}
	ic.AddNotification(ic.VM.Context().ScriptHash(), string(nameBytes), copied.(*stackitem.Array))
	return nil
}

func init() {
	Register("System.Runtime.Platform", 1<<3, callflag.NoneFlag, runtimePlatform)
	Register("System.Runtime.GetTrigger", 1<<3, callflag.NoneFlag, runtimeGetTrigger)
	Register("System.Runtime.GetTime", 1<<3, callflag.NoneFlag, runtimeGetTime)
	Register("System.Runtime.GetNetwork", 1<<3, callflag.NoneFlag, runtimeGetNetwork)
	Register("System.Runtime.GetAddressVersion", 1<<3, callflag.NoneFlag, runtimeGetAddressVersion)
	Register("System.Runtime.GetScriptContainer", 1<<3, callflag.NoneFlag, runtimeGetScriptContainer)
	Register("System.Runtime.GetExecutingScriptHash", 1<<4, callflag.NoneFlag, runtimeGetExecutingScriptHash)
	Register("System.Runtime.GetCallingScriptHash", 1<<4, callflag.NoneFlag, runtimeGetCallingScriptHash)
	Register("System.Runtime.GetEntryScriptHash", 1<<4, callflag.NoneFlag, runtimeGetEntryScriptHash)
	Register("System.Runtime.CheckWitness", 1<<10, callflag.NoneFlag, runtimeCheckWitness)
	Register("System.Runtime.GasLeft", 1<<4, callflag.NoneFlag, runtimeGasLeft)
	Register("System.Runtime.BurnGas", 1<<4, callflag.NoneFlag, runtimeBurnGas)
	Register("System.Runtime.GetInvocationCounter", 1<<4, callflag.NoneFlag, runtimeGetInvocationCounter)
	Register("System.Runtime.GetRandom", 1<<4, callflag.NoneFlag, runtimeGetRandom)
	Register("System.Runtime.Log", 1<<15, callflag.AllowNotify, runtimeLog)
	Register("System.Runtime.Notify", 1<<15, callflag.AllowNotify, runtimeNotify)
}
