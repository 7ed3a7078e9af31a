package interop

import (
	"errors"
	"fmt"

	"github.com/gneo-network/gneo/params"
	"github.com/gneo-network/gneo/vm/callflag"
	"github.com/gneo-network/gneo/vm/stackitem"
)

// StorageContext is the handle scripts hold to their storage space.
type StorageContext struct {
	ID       int32
	ReadOnly bool
}

// Find option bits accepted by System.Storage.Find.
const (
	FindDefault      = 0
	FindKeysOnly     = 1 << 0
	FindRemovePrefix = 1 << 1
	FindValuesOnly   = 1 << 2
	FindDeserialize  = 1 << 3
	FindPick0        = 1 << 4
	FindPick1        = 1 << 5
	FindBackwards    = 1 << 7
)

var errFindOptions = errors.New("interop: invalid Find options")

// Iterator walks one storage prefix scan. It is created over a materialized
// result set, which keeps iteration stable against writes made while the
// script holds the handle.
type Iterator struct {
	items []kvPair
	opts  int64
	pos   int
	disposed bool
}

type kvPair struct {
	key   []byte
	value []byte
}

// Next advances the iterator.
func (it *Iterator) Next() bool {
	if it.disposed || it.pos >= len(it.items) {
		return false
	}
	it.pos++
	return it.pos <= len(it.items)
}

// Value renders the current element per the iterator's options.
func (it *Iterator) Value() (stackitem.Item, error) {
	if it.disposed || it.pos == 0 || it.pos > len(it.items) {
		return nil, errors.New("interop: iterator out of position")
	}
	kv := it.items[it.pos-1]
	key := stackitem.ByteArray(kv.key)
	var value stackitem.Item = stackitem.ByteArray(kv.value)
	if it.opts&FindDeserialize != 0 {
		item, err := stackitem.Deserialize(kv.value)
		if err != nil {
			return nil, err
		}
		value = item
		if it.opts&FindPick0 != 0 {
			value = item.(*stackitem.Struct).Value()[0]
		} else if it.opts&FindPick1 != 0 {
			value = item.(*stackitem.Struct).Value()[1]
		}
	}
	switch {
	case it.opts&FindKeysOnly != 0:
		return key, nil
	case it.opts&FindValuesOnly != 0:
		return value, nil
	default:
		return stackitem.NewStruct([]stackitem.Item{key, value}), nil
	}
}

func (it *Iterator) dispose() {
	it.disposed = true
	it.items = nil
}

func getStorageContext(ic *Context, readOnly bool) error {
	contract := ic.contractByScriptHash()
	if contract == nil {
		return errors.New("interop: storage context outside a contract")
	}
	ic.VM.Estack().Push(stackitem.NewInterop(&StorageContext{ID: contract.ID(), ReadOnly: readOnly}))
	return nil
}

// contractRef resolves the executing script hash to a contract id: native
// contracts first, then deployed ones.
type contractRef interface{ ID() int32 }

type nativeRef struct{ id int32 }

func (n nativeRef) ID() int32 { return n.id }

func (ic *Context) contractByScriptHash() contractRef {
	h := ic.VM.Context().ScriptHash()
	if n := ic.NativeByHash(h); n != nil {
		return nativeRef{id: n.Metadata().ID}
	}
	if ic.GetContract != nil {
		if c, err := ic.GetContract(h); err == nil {
			return nativeRef{id: c.ID}
		}
	}
	return nil
}

func popStorageContext(ic *Context) (*StorageContext, error) {
	item, err := ic.VM.Estack().Pop()
	if err != nil {
		return nil, err
	}
	handle, ok := item.(*stackitem.Interop)
	if !ok {
		return nil, errors.New("interop: expected a storage context")
	}
	sc, ok := handle.Value.(*StorageContext)
	if !ok {
		return nil, errors.New("interop: expected a storage context")
	}
	return sc, nil
}

func storageGet(ic *Context) error {
	sc, err := popStorageContext(ic)
	if err != nil {
		return err
	}
	key, err := ic.VM.Estack().PopBytes()
	if err != nil {
		return err
	}
	if v := ic.DAO.GetStorageItem(sc.ID, key); v != nil {
		ic.VM.Estack().Push(stackitem.ByteArray(v))
	} else {
		ic.VM.Estack().Push(stackitem.Null{})
	}
	return nil
}

func storagePut(ic *Context) error {
	sc, err := popStorageContext(ic)
	if err != nil {
		return err
	}
	if sc.ReadOnly {
		return errors.New("interop: write through a read-only storage context")
	}
	key, err := ic.VM.Estack().PopBytes()
	if err != nil {
		return err
	}
	value, err := ic.VM.Estack().PopBytes()
	if err != nil {
		return err
	}
	if len(key) > params.MaxStorageKeyLen {
		return fmt.Errorf("interop: storage key of %d bytes", len(key))
	}
	if len(value) > params.MaxStorageValueLen {
		return fmt.Errorf("interop: storage value of %d bytes", len(value))
	}
	// New bytes are billed at the storage price.
	billed := len(key) + len(value)
	if old := ic.DAO.GetStorageItem(sc.ID, key); old != nil {
		billed = len(value) - len(old)
		if billed < 0 {
			billed = 0
		}
	}
	if err := ic.AddGas(int64(billed) * ic.StoragePrice); err != nil {
		return err
	}
	return ic.DAO.PutStorageItem(sc.ID, key, value)
}

func storageDelete(ic *Context) error {
	sc, err := popStorageContext(ic)
	if err != nil {
		return err
	}
	if sc.ReadOnly {
		return errors.New("interop: delete through a read-only storage context")
	}
	key, err := ic.VM.Estack().PopBytes()
	if err != nil {
		return err
	}
	return ic.DAO.DeleteStorageItem(sc.ID, key)
}

func storageFind(ic *Context) error {
	sc, err := popStorageContext(ic)
	if err != nil {
		return err
	}
	prefix, err := ic.VM.Estack().PopBytes()
	if err != nil {
		return err
	}
	opts, err := ic.VM.Estack().PopInt()
	if err != nil {
		return err
	}
	if opts&^int64(FindKeysOnly|FindRemovePrefix|FindValuesOnly|FindDeserialize|FindPick0|FindPick1|FindBackwards) != 0 {
		return errFindOptions
	}
	if opts&(FindPick0|FindPick1) != 0 && opts&FindDeserialize == 0 {
		return errFindOptions
	}

	it := &Iterator{opts: opts}
	ic.DAO.SeekStorage(sc.ID, prefix, opts&FindBackwards != 0, func(k, v []byte) bool {
		key := append([]byte(nil), k...)
		if opts&FindRemovePrefix != 0 {
			key = key[len(prefix):]
		}
		it.items = append(it.items, kvPair{key: key, value: append([]byte(nil), v...)})
		return true
	})
	// The handle dies with the context that created it.
	ic.VM.Context().AddUnloadHook(it.dispose)
	ic.VM.Estack().Push(stackitem.NewInterop(it))
	return nil
}

func storageAsReadOnly(ic *Context) error {
	sc, err := popStorageContext(ic)
	if err != nil {
		return err
	}
	ic.VM.Estack().Push(stackitem.NewInterop(&StorageContext{ID: sc.ID, ReadOnly: true}))
	return nil
}

func iteratorNext(ic *Context) error {
	item, err := ic.VM.Estack().Pop()
	if err != nil {
		return err
	}
	handle, ok := item.(*stackitem.Interop)
	if !ok {
		return errors.New("interop: expected an iterator")
	}
	it, ok := handle.Value.(*Iterator)
	if !ok {
		return errors.New("interop: expected an iterator")
	}
	ic.VM.Estack().PushVal(it.Next())
	return nil
}

func iteratorValue(ic *Context) error {
	item, err := ic.VM.Estack().Pop()
	if err != nil {
		return err
	}
	handle, ok := item.(*stackitem.Interop)
	if !ok {
		return errors.New("interop: expected an iterator")
	}
	it, ok := handle.Value.(*Iterator)
	if !ok {
		return errors.New("interop: expected an iterator")
	}
	v, err := it.Value()
	if err != nil {
		return err
	}
	ic.VM.Estack().Push(v)
	return nil
}

func init() {
	Register("System.Storage.GetContext", 1<<4, callflag.ReadStates, func(ic *Context) error {
		return getStorageContext(ic, false)
	})
	Register("System.Storage.GetReadOnlyContext", 1<<4, callflag.ReadStates, func(ic *Context) error {
		return getStorageContext(ic, true)
	})
	Register("System.Storage.AsReadOnly", 1<<4, callflag.ReadStates, storageAsReadOnly)
	Register("System.Storage.Get", 1<<15, callflag.ReadStates, storageGet)
	Register("System.Storage.Put", 1<<15, callflag.WriteStates, storagePut)
	Register("System.Storage.Delete", 1<<15, callflag.WriteStates, storageDelete)
	Register("System.Storage.Find", 1<<15, callflag.ReadStates, storageFind)
	Register("System.Iterator.Next", 1<<15, callflag.NoneFlag, iteratorNext)
	Register("System.Iterator.Value", 1<<4, callflag.NoneFlag, iteratorValue)
}
