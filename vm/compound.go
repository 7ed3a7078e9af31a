package vm

import (
	"errors"
	"fmt"

	"github.com/gneo-network/gneo/params"
	"github.com/gneo-network/gneo/vm/opcode"
	"github.com/gneo-network/gneo/vm/stackitem"
)

var errNotCompound = errors.New("operand is not a compound item")

func (v *VM) executeCompound(ctx *Context, op opcode.Opcode, param []byte) error {
	s := ctx.estack
	switch op {
	case opcode.PACK:
		n, err := s.PopInt()
		if err != nil {
			return err
		}
		items, err := popN(s, n)
		if err != nil {
			return err
		}
		s.Push(stackitem.NewArray(items))
	case opcode.PACKSTRUCT:
		n, err := s.PopInt()
		if err != nil {
			return err
		}
		items, err := popN(s, n)
		if err != nil {
			return err
		}
		s.Push(stackitem.NewStruct(items))
	case opcode.PACKMAP:
		n, err := s.PopInt()
		if err != nil {
			return err
		}
		if n < 0 || int(2*n) > s.Len() {
			return ErrStackUnderflow
		}
		m := stackitem.NewMap()
		for i := int64(0); i < n; i++ {
			key, err := s.Pop()
			if err != nil {
				return err
			}
			val, err := s.Pop()
			if err != nil {
				return err
			}
			if err := m.Add(key, val); err != nil {
				return err
			}
		}
		s.Push(m)
	case opcode.UNPACK:
		item, err := s.Pop()
		if err != nil {
			return err
		}
		switch c := item.(type) {
		case *stackitem.Array:
			pushUnpacked(s, c.Value())
		case *stackitem.Struct:
			pushUnpacked(s, c.Value())
		case *stackitem.Map:
			for i := c.Len() - 1; i >= 0; i-- {
				s.Push(c.Value()[i].Value)
				s.Push(c.Value()[i].Key)
			}
			s.PushVal(c.Len())
		default:
			return errNotCompound
		}

	case opcode.NEWARRAY0:
		s.Push(stackitem.NewArray(nil))
	case opcode.NEWSTRUCT0:
		s.Push(stackitem.NewStruct(nil))
	case opcode.NEWARRAY, opcode.NEWARRAYT, opcode.NEWSTRUCT:
		n, err := s.PopInt()
		if err != nil {
			return err
		}
		if n < 0 || n > params.MaxStackSize {
			return fmt.Errorf("array size %d out of range", n)
		}
		if op == opcode.NEWARRAYT && !stackitem.Type(param[0]).IsValid() {
			return fmt.Errorf("bad element type 0x%x", param[0])
		}
		items := make([]stackitem.Item, n)
		for i := range items {
			items[i] = stackitem.Null{}
		}
		if op == opcode.NEWSTRUCT {
			s.Push(stackitem.NewStruct(items))
		} else {
			s.Push(stackitem.NewArray(items))
		}
	case opcode.NEWMAP:
		s.Push(stackitem.NewMap())

	case opcode.SIZE:
		item, err := s.Pop()
		if err != nil {
			return err
		}
		switch c := item.(type) {
		case *stackitem.Array:
			s.PushVal(c.Len())
		case *stackitem.Struct:
			s.PushVal(c.Len())
		case *stackitem.Map:
			s.PushVal(c.Len())
		default:
			b, err := item.TryBytes()
			if err != nil {
				return err
			}
			s.PushVal(len(b))
		}

	case opcode.HASKEY:
		key, err := s.Pop()
		if err != nil {
			return err
		}
		item, err := s.Pop()
		if err != nil {
			return err
		}
		switch c := item.(type) {
		case *stackitem.Array:
			i, err := indexFor(key, c.Len())
			if err != nil {
				return err
			}
			s.Push(stackitem.Bool(i < int64(c.Len())))
		case *stackitem.Struct:
			i, err := indexFor(key, c.Len())
			if err != nil {
				return err
			}
			s.Push(stackitem.Bool(i < int64(c.Len())))
		case *stackitem.Map:
			s.Push(stackitem.Bool(c.Index(key) >= 0))
		default:
			b, err := item.TryBytes()
			if err != nil {
				return err
			}
			i, err := indexFor(key, len(b))
			if err != nil {
				return err
			}
			s.Push(stackitem.Bool(i < int64(len(b))))
		}
	case opcode.KEYS:
		item, err := s.Pop()
		if err != nil {
			return err
		}
		m, ok := item.(*stackitem.Map)
		if !ok {
			return errors.New("KEYS expects a map")
		}
		keys := make([]stackitem.Item, m.Len())
		for i, e := range m.Value() {
			keys[i] = e.Key
		}
		s.Push(stackitem.NewArray(keys))
	case opcode.VALUES:
		item, err := s.Pop()
		if err != nil {
			return err
		}
		var vals []stackitem.Item
		switch c := item.(type) {
		case *stackitem.Array:
			vals = append(vals, c.Value()...)
		case *stackitem.Struct:
			vals = append(vals, c.Value()...)
		case *stackitem.Map:
			for _, e := range c.Value() {
				vals = append(vals, e.Value)
			}
		default:
			return errNotCompound
		}
		s.Push(stackitem.NewArray(vals))

	case opcode.PICKITEM:
		key, err := s.Pop()
		if err != nil {
			return err
		}
		item, err := s.Pop()
		if err != nil {
			return err
		}
		switch c := item.(type) {
		case *stackitem.Array:
			i, err := boundIndex(key, c.Len())
			if err != nil {
				return err
			}
			s.Push(c.Value()[i])
		case *stackitem.Struct:
			i, err := boundIndex(key, c.Len())
			if err != nil {
				return err
			}
			s.Push(c.Value()[i])
		case *stackitem.Map:
			i := c.Index(key)
			if i < 0 {
				return errors.New("PICKITEM key not found")
			}
			s.Push(c.Value()[i].Value)
		default:
			b, err := item.TryBytes()
			if err != nil {
				return err
			}
			i, err := boundIndex(key, len(b))
			if err != nil {
				return err
			}
			s.PushVal(int64(b[i]))
		}
	case opcode.APPEND:
		val, err := s.Pop()
		if err != nil {
			return err
		}
		item, err := s.Pop()
		if err != nil {
			return err
		}
		switch c := item.(type) {
		case *stackitem.Array:
			c.Append(val)
		case *stackitem.Struct:
			if sub, ok := val.(*stackitem.Struct); ok {
				clone, err := sub.Clone()
				if err != nil {
					return err
				}
				val = clone
			}
			c.Append(val)
		default:
			return errNotCompound
		}
	case opcode.SETITEM:
		val, err := s.Pop()
		if err != nil {
			return err
		}
		key, err := s.Pop()
		if err != nil {
			return err
		}
		item, err := s.Pop()
		if err != nil {
			return err
		}
		switch c := item.(type) {
		case *stackitem.Array:
			i, err := boundIndex(key, c.Len())
			if err != nil {
				return err
			}
			c.Value()[i] = val
		case *stackitem.Struct:
			i, err := boundIndex(key, c.Len())
			if err != nil {
				return err
			}
			c.Value()[i] = val
		case *stackitem.Map:
			return c.Add(key, val)
		case stackitem.Buffer:
			i, err := boundIndex(key, len(c))
			if err != nil {
				return err
			}
			b, err := val.TryInteger()
			if err != nil {
				return err
			}
			if !b.IsInt64() || b.Int64() < 0 || b.Int64() > 255 {
				return errors.New("SETITEM byte value out of range")
			}
			c[i] = byte(b.Int64())
		default:
			return errNotCompound
		}
	case opcode.REVERSEITEMS:
		item, err := s.Pop()
		if err != nil {
			return err
		}
		switch c := item.(type) {
		case *stackitem.Array:
			c.Reverse()
		case *stackitem.Struct:
			c.Reverse()
		case stackitem.Buffer:
			for i, j := 0, len(c)-1; i < j; i, j = i+1, j-1 {
				c[i], c[j] = c[j], c[i]
			}
		default:
			return errNotCompound
		}
	case opcode.REMOVE:
		key, err := s.Pop()
		if err != nil {
			return err
		}
		item, err := s.Pop()
		if err != nil {
			return err
		}
		switch c := item.(type) {
		case *stackitem.Array:
			i, err := boundIndex(key, c.Len())
			if err != nil {
				return err
			}
			c.Remove(int(i))
		case *stackitem.Struct:
			i, err := boundIndex(key, c.Len())
			if err != nil {
				return err
			}
			c.Remove(int(i))
		case *stackitem.Map:
			if i := c.Index(key); i >= 0 {
				c.Drop(i)
			}
		default:
			return errNotCompound
		}
	case opcode.CLEARITEMS:
		item, err := s.Pop()
		if err != nil {
			return err
		}
		switch c := item.(type) {
		case *stackitem.Array:
			c.Clear()
		case *stackitem.Struct:
			c.Clear()
		case *stackitem.Map:
			c.Clear()
		default:
			return errNotCompound
		}
	case opcode.POPITEM:
		item, err := s.Pop()
		if err != nil {
			return err
		}
		switch c := item.(type) {
		case *stackitem.Array:
			if c.Len() == 0 {
				return errors.New("POPITEM from an empty array")
			}
			last := c.Len() - 1
			s.Push(c.Value()[last])
			c.Remove(last)
		case *stackitem.Struct:
			if c.Len() == 0 {
				return errors.New("POPITEM from an empty struct")
			}
			last := c.Len() - 1
			s.Push(c.Value()[last])
			c.Remove(last)
		default:
			return errNotCompound
		}

	case opcode.ISNULL:
		item, err := s.Pop()
		if err != nil {
			return err
		}
		_, isNull := item.(stackitem.Null)
		s.Push(stackitem.Bool(isNull))
	case opcode.ISTYPE:
		item, err := s.Pop()
		if err != nil {
			return err
		}
		t := stackitem.Type(param[0])
		if !t.IsValid() {
			return fmt.Errorf("ISTYPE with bad type 0x%x", param[0])
		}
		s.Push(stackitem.Bool(item.Type() == t))
	case opcode.CONVERT:
		item, err := s.Pop()
		if err != nil {
			return err
		}
		out, err := stackitem.Convert(item, stackitem.Type(param[0]))
		if err != nil {
			return err
		}
		s.Push(out)

	default:
		return fmt.Errorf("unhandled opcode %s", op)
	}
	return nil
}

func popN(s *Stack, n int64) ([]stackitem.Item, error) {
	if n < 0 || int(n) > s.Len() {
		return nil, ErrStackUnderflow
	}
	items := make([]stackitem.Item, n)
	for i := range items {
		items[i], _ = s.Pop()
	}
	return items, nil
}

func pushUnpacked(s *Stack, items []stackitem.Item) {
	for i := len(items) - 1; i >= 0; i-- {
		s.Push(items[i])
	}
	s.PushVal(len(items))
}

func indexFor(key stackitem.Item, _ int) (int64, error) {
	v, err := key.TryInteger()
	if err != nil {
		return 0, err
	}
	if !v.IsInt64() || v.Int64() < 0 {
		return 0, errors.New("negative or oversized index")
	}
	return v.Int64(), nil
}

func boundIndex(key stackitem.Item, length int) (int64, error) {
	i, err := indexFor(key, length)
	if err != nil {
		return 0, err
	}
	if i >= int64(length) {
		return 0, fmt.Errorf("index %d out of range %d", i, length)
	}
	return i, nil
}
