// Package state holds the records the ledger persists beyond raw blocks:
// execution results, contract state, token accounts, oracle requests.
package state

import (
	"errors"

	"github.com/gneo-network/gneo/common"
	"github.com/gneo-network/gneo/vm"
	"github.com/gneo-network/gneo/vm/stackitem"
	"github.com/gneo-network/gneo/wire"
)

// Trigger names the execution context type.
type Trigger byte

// Triggers.
const (
	TriggerOnPersist   Trigger = 0x01
	TriggerPostPersist Trigger = 0x02
	TriggerVerification Trigger = 0x20
	TriggerApplication Trigger = 0x40
)

// String implements fmt.Stringer.
func (t Trigger) String() string {
	switch t {
	case TriggerOnPersist:
		return "OnPersist"
	case TriggerPostPersist:
		return "PostPersist"
	case TriggerVerification:
		return "Verification"
	case TriggerApplication:
		return "Application"
	}
	return "Unknown"
}

// NotificationEvent is one Notify emitted during execution.
type NotificationEvent struct {
	ScriptHash common.Uint160
	Name       string
	Item       *stackitem.Array
}

// EncodeBinary implements wire.Serializable.
func (n *NotificationEvent) EncodeBinary(w *wire.BinWriter) {
	w.WriteBytes(n.ScriptHash[:])
	w.WriteString(n.Name)
	data, err := stackitem.Serialize(n.Item)
	if err != nil {
		w.Err = err
		return
	}
	w.WriteVarBytes(data)
}

// DecodeBinary implements wire.Serializable.
func (n *NotificationEvent) DecodeBinary(r *wire.BinReader) {
	r.ReadBytes(n.ScriptHash[:])
	n.Name = r.ReadString(64)
	data := r.ReadVarBytes(stackitem.MaxSize)
	if r.Err != nil {
		return
	}
	item, err := stackitem.Deserialize(data)
	if err != nil {
		r.Err = err
		return
	}
	arr, ok := item.(*stackitem.Array)
	if !ok {
		r.Err = errors.New("state: notification state is not an array")
		return
	}
	n.Item = arr
}

// AppExecResult is the persisted outcome of one execution: the application
// log minus the stack (results are not consensus state).
type AppExecResult struct {
	Container     common.Uint256
	Trigger       Trigger
	VMState       vm.State
	GasConsumed   int64
	Events        []NotificationEvent
	FaultException string
}

// EncodeBinary implements wire.Serializable.
func (a *AppExecResult) EncodeBinary(w *wire.BinWriter) {
	w.WriteBytes(a.Container[:])
	w.WriteB(byte(a.Trigger))
	w.WriteB(byte(a.VMState))
	w.WriteU64LE(uint64(a.GasConsumed))
	w.WriteVarUint(uint64(len(a.Events)))
	for i := range a.Events {
		a.Events[i].EncodeBinary(w)
	}
	w.WriteString(a.FaultException)
}

// DecodeBinary implements wire.Serializable.
func (a *AppExecResult) DecodeBinary(r *wire.BinReader) {
	r.ReadBytes(a.Container[:])
	a.Trigger = Trigger(r.ReadB())
	a.VMState = vm.State(r.ReadB())
	a.GasConsumed = int64(r.ReadU64LE())
	n := r.ReadArrayCount(wire.MaxArraySize)
	if r.Err != nil {
		return
	}
	a.Events = make([]NotificationEvent, n)
	for i := 0; i < n; i++ {
		a.Events[i].DecodeBinary(r)
		if r.Err != nil {
			return
		}
	}
	a.FaultException = r.ReadString(1024)
}
