package vm

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/gneo-network/gneo/common"
	"github.com/gneo-network/gneo/crypto"
	"github.com/gneo-network/gneo/vm/callflag"
	"github.com/gneo-network/gneo/vm/opcode"
	"github.com/gneo-network/gneo/vm/stackitem"
)

// Context is one frame of the invocation stack: a script with its own
// instruction pointer, evaluation stack, slots and exception frames.
type Context struct {
	script []byte
	ip     int
	// nextip points past the current instruction once fetched.
	nextip int

	estack *Stack
	static *Slot
	local  *Slot
	args   *Slot

	tryStack []*tryFrame

	scriptHash common.Uint160
	callFlags  callflag.CallFlag
	// callingHash is the script hash of the frame below, zero for the entry.
	callingHash common.Uint160
	// retCount fixes how many values survive the context's unload; -1 keeps
	// the whole stack (entry scripts).
	retCount int

	// onUnload hooks run when the context leaves the invocation stack, in
	// reverse registration order; iterator disposal uses this.
	onUnload []func()
}

// tryFrame is one TRY..ENDFINALLY region.
type tryFrame struct {
	// catchIP and finallyIP are block entry points, -1 when absent.
	catchIP   int
	finallyIP int
	// endIP is where ENDTRY resumes after an optional finally block.
	endIP int
	// inFinally marks a frame whose finally block is executing.
	inFinally bool
	// throwOnExit re-raises pending after finally completes.
	throwOnExit bool
	pending     stackitem.Item
}

// NewContext wraps script in a fresh context.
func NewContext(script []byte, flags callflag.CallFlag, refs *refCounter) *Context {
	return &Context{
		script:     script,
		estack:     NewStack(refs),
		scriptHash: crypto.Hash160(script),
		callFlags:  flags,
		retCount:   -1,
	}
}

// ScriptHash returns the identity of the executing script.
func (c *Context) ScriptHash() common.Uint160 {
	return c.scriptHash
}

// CallingScriptHash returns the direct caller's script hash.
func (c *Context) CallingScriptHash() common.Uint160 {
	return c.callingHash
}

// CallFlags returns the context's permission bits.
func (c *Context) CallFlags() callflag.CallFlag {
	return c.callFlags
}

// Estack returns the context's evaluation stack.
func (c *Context) Estack() *Stack {
	return c.estack
}

// IP returns the current instruction pointer.
func (c *Context) IP() int {
	return c.ip
}

// Script returns the executing script.
func (c *Context) Script() []byte {
	return c.script
}

// AddUnloadHook registers f to run when the context unloads.
func (c *Context) AddUnloadHook(f func()) {
	c.onUnload = append(c.onUnload, f)
}

func (c *Context) unload() {
	for i := len(c.onUnload) - 1; i >= 0; i-- {
		c.onUnload[i]()
	}
	c.onUnload = nil
}

var errScriptEnd = errors.New("vm: reached end of script")

// fetch decodes the instruction at nextip and advances it.
func (c *Context) fetch() (opcode.Opcode, []byte, error) {
	if c.nextip >= len(c.script) {
		return 0, nil, errScriptEnd
	}
	c.ip = c.nextip
	op := opcode.Opcode(c.script[c.ip])
	pos := c.ip + 1

	var operand []byte
	size := 0
	switch op {
	case opcode.PUSHINT8, opcode.JMP, opcode.JMPIF, opcode.JMPIFNOT, opcode.JMPEQ,
		opcode.JMPNE, opcode.JMPGT, opcode.JMPGE, opcode.JMPLT, opcode.JMPLE,
		opcode.CALL, opcode.ENDTRY, opcode.INITSSLOT, opcode.LDSFLD, opcode.STSFLD,
		opcode.LDLOC, opcode.STLOC, opcode.LDARG, opcode.STARG, opcode.NEWARRAYT,
		opcode.ISTYPE, opcode.CONVERT:
		size = 1
	case opcode.PUSHINT16, opcode.CALLT, opcode.TRY, opcode.INITSLOT:
		size = 2
	case opcode.PUSHINT32, opcode.JMPL, opcode.JMPIFL, opcode.JMPIFNOTL,
		opcode.JMPEQL, opcode.JMPNEL, opcode.JMPGTL, opcode.JMPGEL, opcode.JMPLTL,
		opcode.JMPLEL, opcode.CALLL, opcode.ENDTRYL, opcode.PUSHA, opcode.SYSCALL:
		size = 4
	case opcode.PUSHINT64, opcode.TRYL:
		size = 8
	case opcode.PUSHINT128:
		size = 16
	case opcode.PUSHINT256:
		size = 32
	case opcode.PUSHDATA1:
		if pos >= len(c.script) {
			return 0, nil, errScriptEnd
		}
		n := int(c.script[pos])
		pos++
		size = n
	case opcode.PUSHDATA2:
		if pos+2 > len(c.script) {
			return 0, nil, errScriptEnd
		}
		n := int(binary.LittleEndian.Uint16(c.script[pos:]))
		pos += 2
		size = n
	case opcode.PUSHDATA4:
		if pos+4 > len(c.script) {
			return 0, nil, errScriptEnd
		}
		n := int(binary.LittleEndian.Uint32(c.script[pos:]))
		if n > stackitem.MaxSize {
			return 0, nil, fmt.Errorf("vm: PUSHDATA4 of %d bytes", n)
		}
		pos += 4
		size = n
	}
	if pos+size > len(c.script) {
		return 0, nil, errScriptEnd
	}
	operand = c.script[pos : pos+size]
	c.nextip = pos + size
	return op, operand, nil
}

// jumpOffset resolves a PC-relative operand against the current instruction.
func (c *Context) jumpOffset(operand []byte) (int, error) {
	var rel int
	switch len(operand) {
	case 1:
		rel = int(int8(operand[0]))
	case 4:
		rel = int(int32(binary.LittleEndian.Uint32(operand)))
	default:
		return 0, fmt.Errorf("vm: bad jump operand length %d", len(operand))
	}
	dst := c.ip + rel
	if dst < 0 || dst > len(c.script) {
		return 0, fmt.Errorf("vm: jump target %d out of script", dst)
	}
	return dst, nil
}

// Slot is a fixed-size variable bank (statics, locals or arguments).
type Slot struct {
	items []stackitem.Item
	refs  *refCounter
}

func newSlot(n int, refs *refCounter) *Slot {
	return &Slot{items: make([]stackitem.Item, n), refs: refs}
}

// Get returns the item at index i.
func (s *Slot) Get(i int) (stackitem.Item, error) {
	if s == nil || i < 0 || i >= len(s.items) {
		return nil, fmt.Errorf("vm: slot index %d out of range", i)
	}
	if s.items[i] == nil {
		return stackitem.Null{}, nil
	}
	return s.items[i], nil
}

// Set stores item at index i.
func (s *Slot) Set(i int, item stackitem.Item) error {
	if s == nil || i < 0 || i >= len(s.items) {
		return fmt.Errorf("vm: slot index %d out of range", i)
	}
	if old := s.items[i]; old != nil {
		s.refs.Remove(old)
	}
	s.items[i] = item
	s.refs.Add(item)
	return nil
}

// Size returns the slot capacity.
func (s *Slot) Size() int {
	if s == nil {
		return 0
	}
	return len(s.items)
}

func (s *Slot) clear() {
	if s == nil {
		return
	}
	for _, item := range s.items {
		if item != nil {
			s.refs.Remove(item)
		}
	}
	s.items = nil
}
