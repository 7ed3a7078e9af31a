// Package emit provides helpers to assemble scripts for the stack machine.
package emit

import (
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"math/big"

	"github.com/gneo-network/gneo/common"
	"github.com/gneo-network/gneo/vm/opcode"
	"github.com/gneo-network/gneo/wire"
)

var errTooBigArgument = errors.New("emit: argument does not fit instruction")

// InteropNameToID converts a syscall name to its 4-byte identifier, the first
// four bytes of the name's SHA-256 digest read as a little-endian uint32.
func InteropNameToID(name string) uint32 {
	h := sha256.Sum256([]byte(name))
	return binary.LittleEndian.Uint32(h[:4])
}

// Opcodes emits each op with no operand.
func Opcodes(w *wire.BinWriter, ops ...opcode.Opcode) {
	for _, op := range ops {
		w.WriteB(byte(op))
	}
}

// Instruction emits op followed by its operand bytes.
func Instruction(w *wire.BinWriter, op opcode.Opcode, operand []byte) {
	w.WriteB(byte(op))
	w.WriteBytes(operand)
}

// Int emits the shortest instruction pushing the given integer.
func Int(w *wire.BinWriter, v int64) {
	switch {
	case v == -1:
		Opcodes(w, opcode.PUSHM1)
	case v >= 0 && v <= 16:
		Opcodes(w, opcode.PUSH0+opcode.Opcode(v))
	case v >= -128 && v <= 127:
		Instruction(w, opcode.PUSHINT8, []byte{byte(v)})
	case v >= -32768 && v <= 32767:
		var b [2]byte
		binary.LittleEndian.PutUint16(b[:], uint16(v))
		Instruction(w, opcode.PUSHINT16, b[:])
	case v >= -2147483648 && v <= 2147483647:
		var b [4]byte
		binary.LittleEndian.PutUint32(b[:], uint32(v))
		Instruction(w, opcode.PUSHINT32, b[:])
	default:
		var b [8]byte
		binary.LittleEndian.PutUint64(b[:], uint64(v))
		Instruction(w, opcode.PUSHINT64, b[:])
	}
}

// BigInt emits a push of an arbitrary-precision integer of up to 32 bytes.
func BigInt(w *wire.BinWriter, v *big.Int) {
	if v.IsInt64() {
		Int(w, v.Int64())
		return
	}
	b := toLittleEndian(v)
	switch {
	case len(b) <= 16:
		Instruction(w, opcode.PUSHINT128, padSigned(b, 16, v.Sign() < 0))
	case len(b) <= 32:
		Instruction(w, opcode.PUSHINT256, padSigned(b, 32, v.Sign() < 0))
	default:
		w.Err = errTooBigArgument
	}
}

// Bool emits a boolean push.
func Bool(w *wire.BinWriter, v bool) {
	if v {
		Opcodes(w, opcode.PUSHT)
	} else {
		Opcodes(w, opcode.PUSHF)
	}
}

// Bytes emits the shortest PUSHDATA form for b.
func Bytes(w *wire.BinWriter, b []byte) {
	switch {
	case len(b) < 0x100:
		Instruction(w, opcode.PUSHDATA1, []byte{byte(len(b))})
	case len(b) < 0x10000:
		var l [2]byte
		binary.LittleEndian.PutUint16(l[:], uint16(len(b)))
		Instruction(w, opcode.PUSHDATA2, l[:])
	default:
		var l [4]byte
		binary.LittleEndian.PutUint32(l[:], uint32(len(b)))
		Instruction(w, opcode.PUSHDATA4, l[:])
	}
	w.WriteBytes(b)
}

// String emits a push of the string's bytes.
func String(w *wire.BinWriter, s string) {
	Bytes(w, []byte(s))
}

// Syscall emits a SYSCALL of the named interop service.
func Syscall(w *wire.BinWriter, name string) {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], InteropNameToID(name))
	Instruction(w, opcode.SYSCALL, b[:])
}

// AppCall emits a System.Contract.Call of method on contract with the given
// call flags and no arguments.
func AppCall(w *wire.BinWriter, contract common.Uint160, method string, flags byte) {
	Opcodes(w, opcode.NEWARRAY0)
	Int(w, int64(flags))
	String(w, method)
	Bytes(w, contract[:])
	Syscall(w, "System.Contract.Call")
}

func toLittleEndian(v *big.Int) []byte {
	b := v.Bytes()
	for i, j := 0, len(b)-1; i < j; i, j = i+1, j-1 {
		b[i], b[j] = b[j], b[i]
	}
	return b
}

func padSigned(b []byte, size int, negative bool) []byte {
	out := make([]byte, size)
	copy(out, b)
	if negative {
		// Two's complement over the fixed width.
		carry := true
		for i := range out {
			out[i] = ^out[i]
			if carry {
				out[i]++
				carry = out[i] == 0
			}
		}
	}
	return out
}
