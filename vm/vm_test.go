package vm

import (
	"errors"
	"math/big"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/gneo-network/gneo/vm/emit"
	"github.com/gneo-network/gneo/vm/opcode"
	"github.com/gneo-network/gneo/vm/stackitem"
	"github.com/gneo-network/gneo/wire"
)

func buildScript(t *testing.T, f func(w *wire.BinWriter)) []byte {
	w := wire.NewBufBinWriter()
	f(w.BinWriter)
	require.NoError(t, w.Err)
	return w.Bytes()
}

func runScript(t *testing.T, script []byte) *VM {
	v := New()
	v.Load(script)
	require.NoError(t, v.Run())
	require.Equal(t, HaltState, v.State())
	return v
}

func TestArithmetic(t *testing.T) {
	script := buildScript(t, func(w *wire.BinWriter) {
		emit.Int(w, 7)
		emit.Int(w, 5)
		emit.Opcodes(w, opcode.ADD)
		emit.Int(w, 4)
		emit.Opcodes(w, opcode.MUL)
		emit.Opcodes(w, opcode.RET)
	})
	v := runScript(t, script)

	res, err := v.PopResult()
	require.NoError(t, err)
	require.True(t, res.Equals(stackitem.NewBigIntegerFromInt64(48)))
}

func TestDivisionByZeroFaults(t *testing.T) {
	script := buildScript(t, func(w *wire.BinWriter) {
		emit.Int(w, 1)
		emit.Int(w, 0)
		emit.Opcodes(w, opcode.DIV)
	})
	v := New()
	v.Load(script)
	require.Error(t, v.Run())
	require.Equal(t, FaultState, v.State())
}

func TestIntegerOverflowFaults(t *testing.T) {
	big255 := new(big.Int).Lsh(big.NewInt(1), 254)
	script := buildScript(t, func(w *wire.BinWriter) {
		emit.BigInt(w, big255)
		emit.BigInt(w, big255)
		emit.Opcodes(w, opcode.ADD)
	})
	v := New()
	v.Load(script)
	require.Error(t, v.Run())
	require.Equal(t, FaultState, v.State())
}

func TestGasExhaustion(t *testing.T) {
	script := buildScript(t, func(w *wire.BinWriter) {
		// An infinite loop: JMP back to start.
		emit.Opcodes(w, opcode.NOP)
		emit.Instruction(w, opcode.JMP, []byte{0xFF}) // -1: back to NOP
	})
	v := New()
	v.GasLimit = 1000
	v.ExecFeeFactor = 30
	v.Load(script)
	err := v.Run()
	require.ErrorIs(t, err, ErrGasExhausted)
	require.Equal(t, FaultState, v.State())
	require.Greater(t, v.GasConsumed(), v.GasLimit)
}

func TestGasStaysUnderLimitOnHalt(t *testing.T) {
	script := buildScript(t, func(w *wire.BinWriter) {
		emit.Int(w, 1)
		emit.Int(w, 2)
		emit.Opcodes(w, opcode.ADD, opcode.DROP, opcode.RET)
	})
	v := New()
	v.GasLimit = 1 << 20
	v.ExecFeeFactor = 30
	v.Load(script)
	require.NoError(t, v.Run())
	require.LessOrEqual(t, v.GasConsumed(), v.GasLimit)
}

func TestConditionalJump(t *testing.T) {
	// if 3 < 5 push 100 else push 200
	script := buildScript(t, func(w *wire.BinWriter) {
		emit.Int(w, 3)
		emit.Int(w, 5)
		emit.Instruction(w, opcode.JMPLT, []byte{0x05}) // over the else push
		emit.Instruction(w, opcode.PUSHINT8, []byte{200})
		emit.Opcodes(w, opcode.RET)
		emit.Instruction(w, opcode.PUSHINT8, []byte{100})
		emit.Opcodes(w, opcode.RET)
	})
	v := runScript(t, script)
	res, err := v.PopResult()
	require.NoError(t, err)
	require.True(t, res.Equals(stackitem.NewBigIntegerFromInt64(100)))
}

func TestTryCatch(t *testing.T) {
	// try { throw "boom" } catch { push 42 }
	script := buildScript(t, func(w *wire.BinWriter) {
		emit.Instruction(w, opcode.TRY, []byte{
			0x0C, // catch at +12
			0x00, // no finally
		})
		emit.String(w, "boom") // 6 bytes
		emit.Opcodes(w, opcode.THROW)
		emit.Instruction(w, opcode.ENDTRY, []byte{0x05})
		// catch: drop the exception payload, push 42
		emit.Opcodes(w, opcode.DROP)
		emit.Int(w, 42)
		emit.Opcodes(w, opcode.RET)
	})
	v := runScript(t, script)
	res, err := v.PopResult()
	require.NoError(t, err)
	require.True(t, res.Equals(stackitem.NewBigIntegerFromInt64(42)))
}

func TestUncaughtThrowFaults(t *testing.T) {
	script := buildScript(t, func(w *wire.BinWriter) {
		emit.String(w, "unhandled")
		emit.Opcodes(w, opcode.THROW)
	})
	v := New()
	v.Load(script)
	err := v.Run()
	require.ErrorIs(t, err, ErrUncaughtException)
	require.Equal(t, FaultState, v.State())
}

func TestFinallyRunsOnNormalExit(t *testing.T) {
	// try { push 1 } finally { push 2 } ; push 3
	script := buildScript(t, func(w *wire.BinWriter) {
		emit.Instruction(w, opcode.TRY, []byte{
			0x00, // no catch
			0x06, // finally at +6
		})
		emit.Int(w, 1)                                // +3
		emit.Instruction(w, opcode.ENDTRY, []byte{4}) // past the finally block
		// finally:
		emit.Int(w, 2)
		emit.Opcodes(w, opcode.ENDFINALLY)
		emit.Int(w, 3)
		emit.Opcodes(w, opcode.RET)
	})
	v := runScript(t, script)
	st := v.ResultStack()
	require.Equal(t, 3, st.Len())
	top, _ := st.Pop()
	require.True(t, top.Equals(stackitem.NewBigIntegerFromInt64(3)))
	mid, _ := st.Pop()
	require.True(t, mid.Equals(stackitem.NewBigIntegerFromInt64(2)))
}

func TestCallAndSlots(t *testing.T) {
	// main: push 10, push 32, CALL add, RET; add: INITSLOT 0 locals 2 args,
	// LDARG0 LDARG1 ADD RET
	script := buildScript(t, func(w *wire.BinWriter) {
		emit.Int(w, 10)
		emit.Int(w, 32)
		emit.Instruction(w, opcode.CALL, []byte{0x03}) // to add
		emit.Opcodes(w, opcode.RET)
		// add:
		emit.Instruction(w, opcode.INITSLOT, []byte{0x00, 0x02})
		emit.Opcodes(w, opcode.LDARG0, opcode.LDARG1, opcode.ADD, opcode.RET)
	})
	v := runScript(t, script)
	res, err := v.PopResult()
	require.NoError(t, err)
	require.True(t, res.Equals(stackitem.NewBigIntegerFromInt64(42)))
}

func TestSyscallErrorIsCatchable(t *testing.T) {
	script := buildScript(t, func(w *wire.BinWriter) {
		emit.Instruction(w, opcode.TRY, []byte{0x0A, 0x00})
		emit.Syscall(w, "System.Test.Fail") // 5 bytes
		emit.Instruction(w, opcode.ENDTRY, []byte{0x04})
		emit.Opcodes(w, opcode.DROP)
		emit.Int(w, 7)
		emit.Opcodes(w, opcode.RET)
	})
	v := New()
	v.SyscallHandler = func(v *VM, id uint32) error {
		return errors.New("interop refused")
	}
	v.Load(script)
	require.NoError(t, v.Run())
	res, err := v.PopResult()
	require.NoError(t, err)
	require.True(t, res.Equals(stackitem.NewBigIntegerFromInt64(7)))
}

func TestReservedOpcodeFaults(t *testing.T) {
	v := New()
	v.Load([]byte{0x06}) // reserved slot
	require.Error(t, v.Run())
	require.Equal(t, FaultState, v.State())
}

func TestCompoundOps(t *testing.T) {
	script := buildScript(t, func(w *wire.BinWriter) {
		emit.Int(w, 1)
		emit.Int(w, 2)
		emit.Int(w, 3)
		emit.Int(w, 3)
		emit.Opcodes(w, opcode.PACK) // [3 2 1]? PACK reverses pops
		emit.Opcodes(w, opcode.DUP)
		emit.Int(w, 0)
		emit.Opcodes(w, opcode.PICKITEM, opcode.RET)
	})
	v := runScript(t, script)
	res, err := v.PopResult()
	require.NoError(t, err)
	// PACK pops n items top-first, so index 0 holds the last pushed value.
	require.True(t, res.Equals(stackitem.NewBigIntegerFromInt64(3)))
}

func TestStackLimitFaults(t *testing.T) {
	// Keep duplicating until the reference counter trips.
	script := buildScript(t, func(w *wire.BinWriter) {
		emit.Int(w, 1)
		emit.Opcodes(w, opcode.DUP)
		emit.Instruction(w, opcode.JMP, []byte{0xFF})
	})
	v := New()
	v.Load(script)
	require.Error(t, v.Run())
	require.Equal(t, FaultState, v.State())
}
