// Package vm implements the deterministic stack machine executing contract
// scripts: opcode dispatch, gas metering, exception frames, nested contexts
// and syscall hand-off to the interop layer.
package vm

import (
	"errors"
	"fmt"

	"github.com/gneo-network/gneo/common"
	"github.com/gneo-network/gneo/params"
	"github.com/gneo-network/gneo/vm/callflag"
	"github.com/gneo-network/gneo/vm/stackitem"
)

// State is the VM termination state.
type State byte

// VM states.
const (
	NoneState  State = 0
	HaltState  State = 1 << 0
	FaultState State = 1 << 1
	BreakState State = 1 << 2
)

// String implements fmt.Stringer.
func (s State) String() string {
	switch s {
	case NoneState:
		return "NONE"
	case HaltState:
		return "HALT"
	case FaultState:
		return "FAULT"
	case BreakState:
		return "BREAK"
	}
	return "UNKNOWN"
}

var (
	// ErrGasExhausted marks an execution that ran over its gas limit.
	ErrGasExhausted = errors.New("vm: gas limit exceeded")
	// ErrUncaughtException marks a THROW no handler caught.
	ErrUncaughtException = errors.New("vm: uncaught exception")
)

// VM is one script execution. It is not safe for concurrent use and never
// suspends: a Run call returns only in HALT or FAULT.
type VM struct {
	refs   refCounter
	istack []*Context
	state  State

	// GasLimit bounds gasConsumed; negative means unmetered.
	GasLimit    int64
	gasConsumed int64
	// ExecFeeFactor scales opcode tariffs; the PolicyContract supplies it.
	ExecFeeFactor int64

	// SyscallHandler dispatches SYSCALL instructions. Errors it returns are
	// catchable exceptions; a nil handler faults every syscall.
	SyscallHandler func(v *VM, id uint32) error
	// LoadToken dispatches CALLT instructions.
	LoadToken func(v *VM, id int16) error

	// faultErr remembers why the machine faulted.
	faultErr error
}

// New returns a fresh machine with no script loaded.
func New() *VM {
	return &VM{GasLimit: -1, ExecFeeFactor: 1}
}

// State returns the termination state.
func (v *VM) State() State {
	return v.state
}

// FaultError returns the error that faulted the machine, if any.
func (v *VM) FaultError() error {
	return v.faultErr
}

// GasConsumed returns the metered gas so far.
func (v *VM) GasConsumed() int64 {
	return v.gasConsumed
}

// AddGas meters cost and reports whether the limit still holds.
func (v *VM) AddGas(cost int64) bool {
	v.gasConsumed += cost
	return v.GasLimit < 0 || v.gasConsumed <= v.GasLimit
}

// Context returns the executing context, nil when nothing is loaded.
func (v *VM) Context() *Context {
	if len(v.istack) == 0 {
		return nil
	}
	return v.istack[len(v.istack)-1]
}

// Estack returns the executing context's evaluation stack.
func (v *VM) Estack() *Stack {
	return v.Context().estack
}

// Load starts a fresh invocation stack with script as the entry.
func (v *VM) Load(script []byte) {
	v.LoadWithFlags(script, callflag.All)
}

// LoadWithFlags starts a fresh invocation stack with the given permissions.
func (v *VM) LoadWithFlags(script []byte, f callflag.CallFlag) {
	v.istack = v.istack[:0]
	v.state = NoneState
	v.gasConsumed = 0
	v.faultErr = nil
	v.refs = refCounter{}
	ctx := NewContext(script, f, &v.refs)
	v.istack = append(v.istack, ctx)
}

// LoadScript pushes a nested context starting at offset, as a cross-contract
// call does. The callee's flags are intersected with the caller's; retCount
// values survive its unload.
func (v *VM) LoadScript(script []byte, hash common.Uint160, f callflag.CallFlag, retCount, offset int) error {
	if len(v.istack) >= params.MaxInvocationStackSize {
		return errors.New("vm: invocation stack overflow")
	}
	if offset < 0 || offset >= len(script) {
		return fmt.Errorf("vm: entry offset %d outside script", offset)
	}
	caller := v.Context()
	ctx := NewContext(script, f&caller.callFlags, &v.refs)
	if !hash.IsZero() {
		ctx.scriptHash = hash
	}
	ctx.callingHash = caller.scriptHash
	ctx.retCount = retCount
	ctx.nextip = offset
	v.istack = append(v.istack, ctx)
	return nil
}

// PopResult removes and returns the top item of the result stack after HALT.
func (v *VM) PopResult() (stackitem.Item, error) {
	if v.state != HaltState || len(v.istack) == 0 {
		return nil, fmt.Errorf("vm: no result in state %s", v.state)
	}
	return v.istack[len(v.istack)-1].estack.Pop()
}

// ResultStack returns the surviving stack after HALT.
func (v *VM) ResultStack() *Stack {
	return v.istack[len(v.istack)-1].estack
}

// Run executes until HALT or FAULT.
func (v *VM) Run() error {
	if len(v.istack) == 0 {
		return errors.New("vm: no script loaded")
	}
	for v.state == NoneState {
		v.step()
	}
	if v.state == FaultState {
		if v.faultErr == nil {
			v.faultErr = errors.New("vm: faulted")
		}
		return v.faultErr
	}
	return nil
}

func (v *VM) fault(err error) {
	v.state = FaultState
	v.faultErr = err
}

func (v *VM) step() {
	ctx := v.Context()
	op, param, err := ctx.fetch()
	if err != nil {
		if err == errScriptEnd {
			// Falling off the script is an implicit RET.
			v.unloadContext(ctx)
			return
		}
		v.fault(err)
		return
	}
	price, priced := opcodePrices[op]
	if !priced {
		v.fault(fmt.Errorf("vm: reserved opcode 0x%x at %d", byte(op), ctx.ip))
		return
	}
	if !v.AddGas(price * v.ExecFeeFactor) {
		v.fault(ErrGasExhausted)
		return
	}
	if err := v.execute(ctx, op, param); err != nil {
		v.fault(fmt.Errorf("vm: %s at %d: %w", op, ctx.ip, err))
		return
	}
	if v.refs.count > params.MaxStackSize {
		v.fault(fmt.Errorf("vm: stack size %d over limit", v.refs.count))
	}
}

// unloadContext pops ctx, moving its surviving values to the caller.
func (v *VM) unloadContext(ctx *Context) {
	v.istack = v.istack[:len(v.istack)-1]
	ctx.unload()
	if len(v.istack) == 0 {
		// Entry context finished; its stack is the result stack.
		v.istack = append(v.istack, ctx)
		v.state = HaltState
		return
	}
	caller := v.Context()
	if ctx.estack == caller.estack {
		// Same-script CALL shares its stack; nothing moves.
		ctx.local.clear()
		ctx.args.clear()
		return
	}
	n := ctx.estack.Len()
	if ctx.retCount >= 0 && n > ctx.retCount {
		v.fault(fmt.Errorf("vm: context returned %d values, call site expects %d", n, ctx.retCount))
		return
	}
	items := make([]stackitem.Item, n)
	for i := n - 1; i >= 0; i-- {
		items[i], _ = ctx.estack.Pop()
	}
	for ctx.retCount > n {
		caller.estack.Push(stackitem.Null{})
		n++
	}
	for _, item := range items {
		caller.estack.Push(item)
	}
	ctx.static = nil
	ctx.local.clear()
	ctx.args.clear()
}

// throw starts exception propagation with the given payload.
func (v *VM) throw(payload stackitem.Item) {
	for len(v.istack) > 0 {
		ctx := v.Context()
		for len(ctx.tryStack) > 0 {
			f := ctx.tryStack[len(ctx.tryStack)-1]
			if f.inFinally {
				// An exception escaping a finally block is unrecoverable.
				v.fault(fmt.Errorf("%w: raised inside finally", ErrUncaughtException))
				return
			}
			if f.catchIP >= 0 {
				// Enter the catch block; the handler sees the payload.
				ctx.nextip = f.catchIP
				f.catchIP = -1 // a second throw skips straight to finally
				ctx.estack.Push(payload)
				return
			}
			if f.finallyIP >= 0 {
				f.inFinally = true
				f.throwOnExit = true
				f.pending = payload
				ctx.nextip = f.finallyIP
				return
			}
			ctx.tryStack = ctx.tryStack[:len(ctx.tryStack)-1]
		}
		// A context abandoned by an exception contributes no return values.
		if len(v.istack) > 1 && ctx.estack != v.istack[len(v.istack)-2].estack {
			ctx.estack.Clear()
		}
		v.unloadContext(ctx)
		if v.state != NoneState {
			// unloadContext halted or faulted; exception still pending.
			break
		}
	}
	msg := "unhandled"
	if b, err := payload.TryBytes(); err == nil {
		msg = string(b)
	}
	v.fault(fmt.Errorf("%w: %s", ErrUncaughtException, msg))
}

// Throw raises a catchable exception from the interop layer.
func (v *VM) Throw(payload stackitem.Item) {
	v.throw(payload)
}

func (v *VM) executeCall(ctx *Context, dst int) {
	// Same-script calls share the evaluation stack and statics.
	sub := &Context{
		script:      ctx.script,
		nextip:      dst,
		estack:      ctx.estack,
		static:      ctx.static,
		scriptHash:  ctx.scriptHash,
		callFlags:   ctx.callFlags,
		callingHash: ctx.callingHash,
		retCount:    -1,
	}
	v.istack = append(v.istack, sub)
}
