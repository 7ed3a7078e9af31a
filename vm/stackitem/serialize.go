package stackitem

import (
	"math/big"

	"github.com/gneo-network/gneo/wire"
)

// Serialize renders item in the canonical binary form used for contract
// storage and notification persistence. Interops and pointers do not
// serialize.
func Serialize(item Item) ([]byte, error) {
	w := wire.NewBufBinWriter()
	if err := serialize(item, w.BinWriter, MaxDeepCopyDepth); err != nil {
		return nil, err
	}
	if w.Err != nil {
		return nil, w.Err
	}
	data := w.Bytes()
	if len(data) > MaxSize {
		return nil, ErrTooBig
	}
	return data, nil
}

func serialize(item Item, w *wire.BinWriter, depth int) error {
	if depth <= 0 {
		return ErrTooDeep
	}
	switch v := item.(type) {
	case Null:
		w.WriteB(byte(AnyT))
	case Bool:
		w.WriteB(byte(BooleanT))
		w.WriteBool(bool(v))
	case *BigInteger:
		w.WriteB(byte(IntegerT))
		w.WriteVarBytes(BigIntToBytes(v.value()))
	case ByteArray:
		w.WriteB(byte(ByteArrayT))
		w.WriteVarBytes(v)
	case Buffer:
		w.WriteB(byte(BufferT))
		w.WriteVarBytes(v)
	case *Array, *Struct:
		w.WriteB(byte(item.Type()))
		var items []Item
		if a, ok := v.(*Array); ok {
			items = a.Value()
		} else {
			items = v.(*Struct).Value()
		}
		w.WriteVarUint(uint64(len(items)))
		for _, e := range items {
			if err := serialize(e, w, depth-1); err != nil {
				return err
			}
		}
	case *Map:
		w.WriteB(byte(MapT))
		w.WriteVarUint(uint64(v.Len()))
		for _, e := range v.Value() {
			if err := serialize(e.Key, w, depth-1); err != nil {
				return err
			}
			if err := serialize(e.Value, w, depth-1); err != nil {
				return err
			}
		}
	default:
		return ErrNotSerializable
	}
	return nil
}

// Deserialize reads an item back from its canonical form.
func Deserialize(data []byte) (Item, error) {
	r := wire.NewBinReaderFromBuf(data)
	item, err := deserialize(r, MaxDeepCopyDepth)
	if err != nil {
		return nil, err
	}
	if r.Err != nil {
		return nil, r.Err
	}
	return item, nil
}

func deserialize(r *wire.BinReader, depth int) (Item, error) {
	if depth <= 0 {
		return nil, ErrTooDeep
	}
	switch t := Type(r.ReadB()); t {
	case AnyT:
		return Null{}, nil
	case BooleanT:
		return Bool(r.ReadBool()), nil
	case IntegerT:
		b := r.ReadVarBytes(MaxIntegerBytes)
		if r.Err != nil {
			return nil, r.Err
		}
		return NewBigInteger(BigIntFromBytes(b)), nil
	case ByteArrayT:
		return ByteArray(r.ReadVarBytes(MaxSize)), nil
	case BufferT:
		return Buffer(r.ReadVarBytes(MaxSize)), nil
	case ArrayT, StructT:
		n := r.ReadArrayCount(MaxSize)
		if r.Err != nil {
			return nil, r.Err
		}
		items := make([]Item, n)
		for i := 0; i < n; i++ {
			e, err := deserialize(r, depth-1)
			if err != nil {
				return nil, err
			}
			items[i] = e
		}
		if t == ArrayT {
			return NewArray(items), nil
		}
		return NewStruct(items), nil
	case MapT:
		n := r.ReadArrayCount(MaxSize)
		if r.Err != nil {
			return nil, r.Err
		}
		m := NewMap()
		for i := 0; i < n; i++ {
			k, err := deserialize(r, depth-1)
			if err != nil {
				return nil, err
			}
			v, err := deserialize(r, depth-1)
			if err != nil {
				return nil, err
			}
			if err := m.Add(k, v); err != nil {
				return nil, err
			}
		}
		return m, nil
	default:
		return nil, ErrNotSerializable
	}
}

// NewBigIntegerFromInt64 is a convenience constructor.
func NewBigIntegerFromInt64(v int64) *BigInteger {
	return NewBigInteger(big.NewInt(v))
}
