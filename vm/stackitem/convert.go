package stackitem

import "fmt"

// Convert applies the CONVERT rules, producing an item of type typ.
func Convert(item Item, typ Type) (Item, error) {
	if !typ.IsValid() || typ == AnyT && item.Type() != AnyT {
		return nil, fmt.Errorf("%w: %s to %s", ErrInvalidConversion, item.Type(), typ)
	}
	if item.Type() == typ {
		return item, nil
	}
	switch typ {
	case BooleanT:
		v, err := item.TryBool()
		if err != nil {
			return nil, err
		}
		return Bool(v), nil
	case IntegerT:
		v, err := item.TryInteger()
		if err != nil {
			return nil, err
		}
		return NewBigInteger(v), nil
	case ByteArrayT, BufferT:
		v, err := item.TryBytes()
		if err != nil {
			return nil, err
		}
		cp := make([]byte, len(v))
		copy(cp, v)
		if typ == ByteArrayT {
			return ByteArray(cp), nil
		}
		return Buffer(cp), nil
	case ArrayT:
		if s, ok := item.(*Struct); ok {
			return NewArray(append([]Item(nil), s.Value()...)), nil
		}
	case StructT:
		if a, ok := item.(*Array); ok {
			return NewStruct(append([]Item(nil), a.Value()...)), nil
		}
	}
	return nil, fmt.Errorf("%w: %s to %s", ErrInvalidConversion, item.Type(), typ)
}

// DeepCopy clones item with compound sharing broken, bounded in depth.
func DeepCopy(item Item) (Item, error) {
	return deepCopy(item, MaxDeepCopyDepth)
}

func deepCopy(item Item, depth int) (Item, error) {
	if depth <= 0 {
		return nil, ErrTooDeep
	}
	switch v := item.(type) {
	case *Array:
		out := NewArray(make([]Item, v.Len()))
		for i, e := range v.Value() {
			c, err := deepCopy(e, depth-1)
			if err != nil {
				return nil, err
			}
			out.items[i] = c
		}
		return out, nil
	case *Struct:
		out := NewStruct(make([]Item, v.Len()))
		for i, e := range v.Value() {
			c, err := deepCopy(e, depth-1)
			if err != nil {
				return nil, err
			}
			out.items[i] = c
		}
		return out, nil
	case *Map:
		out := NewMap()
		for _, e := range v.Value() {
			val, err := deepCopy(e.Value, depth-1)
			if err != nil {
				return nil, err
			}
			if err := out.Add(e.Key, val); err != nil {
				return nil, err
			}
		}
		return out, nil
	case Buffer:
		return Buffer(append([]byte(nil), v...)), nil
	default:
		return item, nil
	}
}
