package vm

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math/big"

	"github.com/gneo-network/gneo/params"
	"github.com/gneo-network/gneo/vm/opcode"
	"github.com/gneo-network/gneo/vm/stackitem"
)

var (
	maxStackInt = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 255), big.NewInt(1))
	minStackInt = new(big.Int).Neg(new(big.Int).Lsh(big.NewInt(1), 255))

	errDivByZero    = errors.New("division by zero")
	errNegativeSize = errors.New("negative size operand")
	errBadOperand   = errors.New("bad operand")
)

func checkStackInt(v *big.Int) error {
	if v.Cmp(minStackInt) < 0 || v.Cmp(maxStackInt) > 0 {
		return stackitem.ErrIntegerTooBig
	}
	return nil
}

func (v *VM) execute(ctx *Context, op opcode.Opcode, param []byte) error {
	s := ctx.estack
	switch op {
	case opcode.PUSHINT8, opcode.PUSHINT16, opcode.PUSHINT32, opcode.PUSHINT64,
		opcode.PUSHINT128, opcode.PUSHINT256:
		s.Push(stackitem.NewBigInteger(stackitem.BigIntFromBytes(param)))
	case opcode.PUSHT:
		s.Push(stackitem.Bool(true))
	case opcode.PUSHF:
		s.Push(stackitem.Bool(false))
	case opcode.PUSHA:
		dst, err := ctx.jumpOffset(param)
		if err != nil {
			return err
		}
		s.Push(stackitem.Pointer{Pos: dst, Script: ctx.script})
	case opcode.PUSHNULL:
		s.Push(stackitem.Null{})
	case opcode.PUSHDATA1, opcode.PUSHDATA2, opcode.PUSHDATA4:
		s.Push(stackitem.ByteArray(param))
	case opcode.PUSHM1:
		s.PushVal(-1)
	case opcode.PUSH0, opcode.PUSH1, opcode.PUSH2, opcode.PUSH3, opcode.PUSH4,
		opcode.PUSH5, opcode.PUSH6, opcode.PUSH7, opcode.PUSH8, opcode.PUSH9,
		opcode.PUSH10, opcode.PUSH11, opcode.PUSH12, opcode.PUSH13, opcode.PUSH14,
		opcode.PUSH15, opcode.PUSH16:
		s.PushVal(int(op - opcode.PUSH0))

	case opcode.NOP:

	case opcode.JMP, opcode.JMPL:
		dst, err := ctx.jumpOffset(param)
		if err != nil {
			return err
		}
		ctx.nextip = dst
	case opcode.JMPIF, opcode.JMPIFL, opcode.JMPIFNOT, opcode.JMPIFNOTL:
		cond, err := s.PopBool()
		if err != nil {
			return err
		}
		if op == opcode.JMPIFNOT || op == opcode.JMPIFNOTL {
			cond = !cond
		}
		if cond {
			dst, err := ctx.jumpOffset(param)
			if err != nil {
				return err
			}
			ctx.nextip = dst
		}
	case opcode.JMPEQ, opcode.JMPEQL, opcode.JMPNE, opcode.JMPNEL,
		opcode.JMPGT, opcode.JMPGTL, opcode.JMPGE, opcode.JMPGEL,
		opcode.JMPLT, opcode.JMPLTL, opcode.JMPLE, opcode.JMPLEL:
		b, err := popBigInt(s)
		if err != nil {
			return err
		}
		a, err := popBigInt(s)
		if err != nil {
			return err
		}
		var cond bool
		switch cmp := a.Cmp(b); op {
		case opcode.JMPEQ, opcode.JMPEQL:
			cond = cmp == 0
		case opcode.JMPNE, opcode.JMPNEL:
			cond = cmp != 0
		case opcode.JMPGT, opcode.JMPGTL:
			cond = cmp > 0
		case opcode.JMPGE, opcode.JMPGEL:
			cond = cmp >= 0
		case opcode.JMPLT, opcode.JMPLTL:
			cond = cmp < 0
		case opcode.JMPLE, opcode.JMPLEL:
			cond = cmp <= 0
		}
		if cond {
			dst, err := ctx.jumpOffset(param)
			if err != nil {
				return err
			}
			ctx.nextip = dst
		}

	case opcode.CALL, opcode.CALLL:
		dst, err := ctx.jumpOffset(param)
		if err != nil {
			return err
		}
		v.executeCall(ctx, dst)
	case opcode.CALLA:
		item, err := s.Pop()
		if err != nil {
			return err
		}
		ptr, ok := item.(stackitem.Pointer)
		if !ok {
			return errors.New("CALLA expects a pointer")
		}
		if string(ptr.Script) != string(ctx.script) {
			return errors.New("CALLA pointer targets another script")
		}
		v.executeCall(ctx, ptr.Pos)
	case opcode.CALLT:
		if v.LoadToken == nil {
			return errors.New("CALLT without a token table")
		}
		id := int16(binary.LittleEndian.Uint16(param))
		return v.LoadToken(v, id)

	case opcode.ABORT:
		return errors.New("ABORT")
	case opcode.ABORTMSG:
		msg, err := s.PopBytes()
		if err != nil {
			return err
		}
		return fmt.Errorf("ABORT: %s", msg)
	case opcode.ASSERT:
		cond, err := s.PopBool()
		if err != nil {
			return err
		}
		if !cond {
			return errors.New("ASSERT failed")
		}
	case opcode.ASSERTMSG:
		msg, err := s.PopBytes()
		if err != nil {
			return err
		}
		cond, err := s.PopBool()
		if err != nil {
			return err
		}
		if !cond {
			return fmt.Errorf("ASSERT failed: %s", msg)
		}

	case opcode.THROW:
		payload, err := s.Pop()
		if err != nil {
			return err
		}
		v.throw(payload)

	case opcode.TRY, opcode.TRYL:
		if len(ctx.tryStack) >= params.MaxTryNestingDepth {
			return errors.New("TRY nesting too deep")
		}
		var catchRel, finallyRel int
		if op == opcode.TRY {
			catchRel = int(int8(param[0]))
			finallyRel = int(int8(param[1]))
		} else {
			catchRel = int(int32(binary.LittleEndian.Uint32(param[:4])))
			finallyRel = int(int32(binary.LittleEndian.Uint32(param[4:])))
		}
		f := &tryFrame{catchIP: -1, finallyIP: -1, endIP: -1}
		if catchRel != 0 {
			f.catchIP = ctx.ip + catchRel
		}
		if finallyRel != 0 {
			f.finallyIP = ctx.ip + finallyRel
		}
		if f.catchIP < 0 && f.finallyIP < 0 {
			return errors.New("TRY with neither catch nor finally")
		}
		ctx.tryStack = append(ctx.tryStack, f)

	case opcode.ENDTRY, opcode.ENDTRYL:
		if len(ctx.tryStack) == 0 {
			return errors.New("ENDTRY outside try")
		}
		f := ctx.tryStack[len(ctx.tryStack)-1]
		if f.inFinally {
			return errors.New("ENDTRY inside finally")
		}
		dst, err := ctx.jumpOffset(param)
		if err != nil {
			return err
		}
		if f.finallyIP >= 0 {
			f.inFinally = true
			f.throwOnExit = false
			f.endIP = dst
			ctx.nextip = f.finallyIP
		} else {
			ctx.tryStack = ctx.tryStack[:len(ctx.tryStack)-1]
			ctx.nextip = dst
		}

	case opcode.ENDFINALLY:
		if len(ctx.tryStack) == 0 {
			return errors.New("ENDFINALLY outside finally")
		}
		f := ctx.tryStack[len(ctx.tryStack)-1]
		ctx.tryStack = ctx.tryStack[:len(ctx.tryStack)-1]
		if f.throwOnExit {
			v.throw(f.pending)
		} else if f.endIP >= 0 {
			ctx.nextip = f.endIP
		}

	case opcode.RET:
		v.unloadContext(ctx)

	case opcode.SYSCALL:
		if v.SyscallHandler == nil {
			return errors.New("SYSCALL without an interop table")
		}
		id := binary.LittleEndian.Uint32(param)
		if err := v.SyscallHandler(v, id); err != nil {
			// Interop failures surface as catchable exceptions.
			v.throw(stackitem.ByteArray(err.Error()))
		}

	case opcode.DEPTH:
		s.PushVal(s.Len())
	case opcode.DROP:
		_, err := s.Pop()
		return err
	case opcode.NIP:
		_, err := s.RemoveAt(1)
		return err
	case opcode.XDROP:
		n, err := s.PopInt()
		if err != nil {
			return err
		}
		if n < 0 {
			return errNegativeSize
		}
		_, err = s.RemoveAt(int(n))
		return err
	case opcode.CLEAR:
		s.Clear()
	case opcode.DUP:
		item, err := s.Peek(0)
		if err != nil {
			return err
		}
		s.Push(item)
	case opcode.OVER:
		item, err := s.Peek(1)
		if err != nil {
			return err
		}
		s.Push(item)
	case opcode.PICK:
		n, err := s.PopInt()
		if err != nil {
			return err
		}
		if n < 0 {
			return errNegativeSize
		}
		item, err := s.Peek(int(n))
		if err != nil {
			return err
		}
		s.Push(item)
	case opcode.TUCK:
		item, err := s.Peek(0)
		if err != nil {
			return err
		}
		return s.InsertAt(item, 2)
	case opcode.SWAP:
		return swapN(s, 1)
	case opcode.ROT:
		item, err := s.RemoveAt(2)
		if err != nil {
			return err
		}
		s.Push(item)
	case opcode.ROLL:
		n, err := s.PopInt()
		if err != nil {
			return err
		}
		if n < 0 {
			return errNegativeSize
		}
		if n > 0 {
			item, err := s.RemoveAt(int(n))
			if err != nil {
				return err
			}
			s.Push(item)
		}
	case opcode.REVERSE3:
		return s.Reverse(3)
	case opcode.REVERSE4:
		return s.Reverse(4)
	case opcode.REVERSEN:
		n, err := s.PopInt()
		if err != nil {
			return err
		}
		if n < 0 {
			return errNegativeSize
		}
		return s.Reverse(int(n))

	case opcode.INITSSLOT:
		if ctx.static != nil {
			return errors.New("INITSSLOT repeated")
		}
		n := int(param[0])
		if n == 0 {
			return errBadOperand
		}
		ctx.static = newSlot(n, &v.refs)
	case opcode.INITSLOT:
		if ctx.local != nil || ctx.args != nil {
			return errors.New("INITSLOT repeated")
		}
		locals, nargs := int(param[0]), int(param[1])
		if locals == 0 && nargs == 0 {
			return errBadOperand
		}
		if locals > 0 {
			ctx.local = newSlot(locals, &v.refs)
		}
		if nargs > 0 {
			ctx.args = newSlot(nargs, &v.refs)
			for i := 0; i < nargs; i++ {
				item, err := s.Pop()
				if err != nil {
					return err
				}
				if err := ctx.args.Set(i, item); err != nil {
					return err
				}
			}
		}

	case opcode.LDSFLD0, opcode.LDSFLD1, opcode.LDSFLD2, opcode.LDSFLD3,
		opcode.LDSFLD4, opcode.LDSFLD5, opcode.LDSFLD6:
		return loadSlot(s, ctx.static, int(op-opcode.LDSFLD0))
	case opcode.LDSFLD:
		return loadSlot(s, ctx.static, int(param[0]))
	case opcode.STSFLD0, opcode.STSFLD1, opcode.STSFLD2, opcode.STSFLD3,
		opcode.STSFLD4, opcode.STSFLD5, opcode.STSFLD6:
		return storeSlot(s, ctx.static, int(op-opcode.STSFLD0))
	case opcode.STSFLD:
		return storeSlot(s, ctx.static, int(param[0]))
	case opcode.LDLOC0, opcode.LDLOC1, opcode.LDLOC2, opcode.LDLOC3,
		opcode.LDLOC4, opcode.LDLOC5, opcode.LDLOC6:
		return loadSlot(s, ctx.local, int(op-opcode.LDLOC0))
	case opcode.LDLOC:
		return loadSlot(s, ctx.local, int(param[0]))
	case opcode.STLOC0, opcode.STLOC1, opcode.STLOC2, opcode.STLOC3,
		opcode.STLOC4, opcode.STLOC5, opcode.STLOC6:
		return storeSlot(s, ctx.local, int(op-opcode.STLOC0))
	case opcode.STLOC:
		return storeSlot(s, ctx.local, int(param[0]))
	case opcode.LDARG0, opcode.LDARG1, opcode.LDARG2, opcode.LDARG3,
		opcode.LDARG4, opcode.LDARG5, opcode.LDARG6:
		return loadSlot(s, ctx.args, int(op-opcode.LDARG0))
	case opcode.LDARG:
		return loadSlot(s, ctx.args, int(param[0]))
	case opcode.STARG0, opcode.STARG1, opcode.STARG2, opcode.STARG3,
		opcode.STARG4, opcode.STARG5, opcode.STARG6:
		return storeSlot(s, ctx.args, int(op-opcode.STARG0))
	case opcode.STARG:
		return storeSlot(s, ctx.args, int(param[0]))

	case opcode.NEWBUFFER:
		n, err := s.PopInt()
		if err != nil {
			return err
		}
		if n < 0 || n > stackitem.MaxSize {
			return fmt.Errorf("buffer size %d out of range", n)
		}
		s.Push(stackitem.NewBuffer(int(n)))
	case opcode.MEMCPY:
		n, err := s.PopInt()
		if err != nil {
			return err
		}
		si, err := s.PopInt()
		if err != nil {
			return err
		}
		src, err := s.PopBytes()
		if err != nil {
			return err
		}
		di, err := s.PopInt()
		if err != nil {
			return err
		}
		dstItem, err := s.Pop()
		if err != nil {
			return err
		}
		dst, ok := dstItem.(stackitem.Buffer)
		if !ok {
			return errors.New("MEMCPY destination is not a buffer")
		}
		if n < 0 || si < 0 || di < 0 ||
			int(si+n) > len(src) || int(di+n) > len(dst) {
			return errors.New("MEMCPY out of bounds")
		}
		copy(dst[di:di+n], src[si:si+n])
	case opcode.CAT:
		b, err := s.PopBytes()
		if err != nil {
			return err
		}
		a, err := s.PopBytes()
		if err != nil {
			return err
		}
		if len(a)+len(b) > stackitem.MaxSize {
			return stackitem.ErrTooBig
		}
		out := make([]byte, 0, len(a)+len(b))
		out = append(out, a...)
		out = append(out, b...)
		s.Push(stackitem.Buffer(out))
	case opcode.SUBSTR:
		n, err := s.PopInt()
		if err != nil {
			return err
		}
		o, err := s.PopInt()
		if err != nil {
			return err
		}
		src, err := s.PopBytes()
		if err != nil {
			return err
		}
		if o < 0 || n < 0 || int(o+n) > len(src) {
			return errors.New("SUBSTR out of bounds")
		}
		s.Push(stackitem.Buffer(append([]byte(nil), src[o:o+n]...)))
	case opcode.LEFT, opcode.RIGHT:
		n, err := s.PopInt()
		if err != nil {
			return err
		}
		src, err := s.PopBytes()
		if err != nil {
			return err
		}
		if n < 0 || int(n) > len(src) {
			return errors.New("slice out of bounds")
		}
		if op == opcode.LEFT {
			s.Push(stackitem.Buffer(append([]byte(nil), src[:n]...)))
		} else {
			s.Push(stackitem.Buffer(append([]byte(nil), src[len(src)-int(n):]...)))
		}

	case opcode.INVERT:
		a, err := popBigInt(s)
		if err != nil {
			return err
		}
		s.Push(stackitem.NewBigInteger(new(big.Int).Not(a)))
	case opcode.AND, opcode.OR, opcode.XOR:
		b, err := popBigInt(s)
		if err != nil {
			return err
		}
		a, err := popBigInt(s)
		if err != nil {
			return err
		}
		out := new(big.Int)
		switch op {
		case opcode.AND:
			out.And(a, b)
		case opcode.OR:
			out.Or(a, b)
		case opcode.XOR:
			out.Xor(a, b)
		}
		s.Push(stackitem.NewBigInteger(out))
	case opcode.EQUAL, opcode.NOTEQUAL:
		b, err := s.Pop()
		if err != nil {
			return err
		}
		a, err := s.Pop()
		if err != nil {
			return err
		}
		eq := equalItems(a, b)
		if op == opcode.NOTEQUAL {
			eq = !eq
		}
		s.Push(stackitem.Bool(eq))

	case opcode.SIGN:
		a, err := popBigInt(s)
		if err != nil {
			return err
		}
		s.PushVal(int64(a.Sign()))
	case opcode.ABS, opcode.NEGATE, opcode.INC, opcode.DEC, opcode.NOT,
		opcode.NZ, opcode.SQRT:
		return v.unaryNumeric(s, op)
	case opcode.ADD, opcode.SUB, opcode.MUL, opcode.DIV, opcode.MOD,
		opcode.POW, opcode.SHL, opcode.SHR, opcode.NUMEQUAL,
		opcode.NUMNOTEQUAL, opcode.LT, opcode.LE, opcode.GT, opcode.GE,
		opcode.MIN, opcode.MAX, opcode.BOOLAND, opcode.BOOLOR:
		return v.binaryNumeric(s, op)
	case opcode.MODMUL, opcode.MODPOW:
		return v.modularNumeric(s, op)
	case opcode.WITHIN:
		hi, err := popBigInt(s)
		if err != nil {
			return err
		}
		lo, err := popBigInt(s)
		if err != nil {
			return err
		}
		x, err := popBigInt(s)
		if err != nil {
			return err
		}
		s.Push(stackitem.Bool(x.Cmp(lo) >= 0 && x.Cmp(hi) < 0))

	default:
		return v.executeCompound(ctx, op, param)
	}
	return nil
}

func swapN(s *Stack, n int) error {
	a, err := s.RemoveAt(n)
	if err != nil {
		return err
	}
	s.Push(a)
	return nil
}

func popBigInt(s *Stack) (*big.Int, error) {
	item, err := s.Pop()
	if err != nil {
		return nil, err
	}
	return item.TryInteger()
}

func loadSlot(s *Stack, slot *Slot, i int) error {
	item, err := slot.Get(i)
	if err != nil {
		return err
	}
	s.Push(item)
	return nil
}

func storeSlot(s *Stack, slot *Slot, i int) error {
	item, err := s.Pop()
	if err != nil {
		return err
	}
	return slot.Set(i, item)
}

func equalItems(a, b stackitem.Item) bool {
	// EQUAL on two byte-convertible primitives compares contents; everything
	// else falls back to the item's own equality rule.
	ab, aerr := a.TryBytes()
	bb, berr := b.TryBytes()
	if aerr == nil && berr == nil &&
		a.Type() != stackitem.BooleanT && b.Type() != stackitem.BooleanT {
		return string(ab) == string(bb)
	}
	return a.Equals(b)
}

func (v *VM) unaryNumeric(s *Stack, op opcode.Opcode) error {
	a, err := popBigInt(s)
	if err != nil {
		return err
	}
	out := new(big.Int)
	switch op {
	case opcode.ABS:
		out.Abs(a)
	case opcode.NEGATE:
		out.Neg(a)
	case opcode.INC:
		out.Add(a, big.NewInt(1))
	case opcode.DEC:
		out.Sub(a, big.NewInt(1))
	case opcode.SQRT:
		if a.Sign() < 0 {
			return errors.New("SQRT of a negative number")
		}
		out.Sqrt(a)
	case opcode.NOT:
		s.Push(stackitem.Bool(a.Sign() == 0))
		return nil
	case opcode.NZ:
		s.Push(stackitem.Bool(a.Sign() != 0))
		return nil
	}
	if err := checkStackInt(out); err != nil {
		return err
	}
	s.Push(stackitem.NewBigInteger(out))
	return nil
}

func (v *VM) binaryNumeric(s *Stack, op opcode.Opcode) error {
	b, err := popBigInt(s)
	if err != nil {
		return err
	}
	a, err := popBigInt(s)
	if err != nil {
		return err
	}
	out := new(big.Int)
	switch op {
	case opcode.ADD:
		out.Add(a, b)
	case opcode.SUB:
		out.Sub(a, b)
	case opcode.MUL:
		out.Mul(a, b)
	case opcode.DIV:
		if b.Sign() == 0 {
			return errDivByZero
		}
		out.Quo(a, b)
	case opcode.MOD:
		if b.Sign() == 0 {
			return errDivByZero
		}
		out.Rem(a, b)
	case opcode.POW:
		if !b.IsInt64() || b.Sign() < 0 || b.Int64() > int64(params.MaxShift) {
			return errors.New("POW exponent out of range")
		}
		out.Exp(a, b, nil)
	case opcode.SHL, opcode.SHR:
		if !b.IsInt64() || b.Int64() < 0 || b.Int64() > int64(params.MaxShift) {
			return errors.New("shift out of range")
		}
		if op == opcode.SHL {
			out.Lsh(a, uint(b.Int64()))
		} else {
			out.Rsh(a, uint(b.Int64()))
		}
	case opcode.NUMEQUAL:
		s.Push(stackitem.Bool(a.Cmp(b) == 0))
		return nil
	case opcode.NUMNOTEQUAL:
		s.Push(stackitem.Bool(a.Cmp(b) != 0))
		return nil
	case opcode.LT:
		s.Push(stackitem.Bool(a.Cmp(b) < 0))
		return nil
	case opcode.LE:
		s.Push(stackitem.Bool(a.Cmp(b) <= 0))
		return nil
	case opcode.GT:
		s.Push(stackitem.Bool(a.Cmp(b) > 0))
		return nil
	case opcode.GE:
		s.Push(stackitem.Bool(a.Cmp(b) >= 0))
		return nil
	case opcode.MIN:
		if a.Cmp(b) <= 0 {
			out.Set(a)
		} else {
			out.Set(b)
		}
	case opcode.MAX:
		if a.Cmp(b) >= 0 {
			out.Set(a)
		} else {
			out.Set(b)
		}
	case opcode.BOOLAND:
		s.Push(stackitem.Bool(a.Sign() != 0 && b.Sign() != 0))
		return nil
	case opcode.BOOLOR:
		s.Push(stackitem.Bool(a.Sign() != 0 || b.Sign() != 0))
		return nil
	}
	if err := checkStackInt(out); err != nil {
		return err
	}
	s.Push(stackitem.NewBigInteger(out))
	return nil
}

func (v *VM) modularNumeric(s *Stack, op opcode.Opcode) error {
	m, err := popBigInt(s)
	if err != nil {
		return err
	}
	b, err := popBigInt(s)
	if err != nil {
		return err
	}
	a, err := popBigInt(s)
	if err != nil {
		return err
	}
	if m.Sign() == 0 {
		return errDivByZero
	}
	out := new(big.Int)
	if op == opcode.MODMUL {
		out.Mul(a, b)
		out.Rem(out, m)
	} else {
		if b.Sign() < 0 {
			return errors.New("MODPOW negative exponent")
		}
		out.Exp(a, b, m)
	}
	if err := checkStackInt(out); err != nil {
		return err
	}
	s.Push(stackitem.NewBigInteger(out))
	return nil
}
