// Package dao is the typed data-access layer between the ledger and raw
// storage. One Simple wraps one MemCachedStore; nested layers give per-block
// and per-transaction write-through caches that commit or vanish as a unit.
package dao

import (
	"encoding/binary"
	"errors"

	"github.com/gneo-network/gneo/common"
	"github.com/gneo-network/gneo/core/state"
	"github.com/gneo-network/gneo/core/types"
	"github.com/gneo-network/gneo/storage"
	"github.com/gneo-network/gneo/wire"
)

// Storage key prefixes. Contract storage and MPT nodes own the high ranges;
// everything below 0x10 is ledger bookkeeping.
const (
	prefixBlock        byte = 0x01
	prefixBlockHash    byte = 0x02
	prefixTransaction  byte = 0x03
	prefixAppExecResult byte = 0x04
	prefixConflict     byte = 0x05
	prefixStateRoot    byte = 0x06
	prefixUndoLog      byte = 0x07
	prefixCurrentBlock byte = 0x0c
	prefixStorageItem  byte = 0x70
)

// ErrNotFound wraps storage.ErrKeyNotFound for typed lookups.
var ErrNotFound = storage.ErrKeyNotFound

// Simple is the DAO over one cache layer.
type Simple struct {
	Store *storage.MemCachedStore
}

// NewSimple wraps a lower store in a fresh cache layer.
func NewSimple(lower storage.Store) *Simple {
	return &Simple{Store: storage.NewMemCachedStore(lower)}
}

// GetWrapped returns a child layer over this one.
func (d *Simple) GetWrapped() *Simple {
	return &Simple{Store: storage.NewMemCachedStore(d.Store)}
}

// Persist flushes this layer into the one below.
func (d *Simple) Persist() (int, error) {
	return d.Store.Persist()
}

// --- blocks and headers ---

func makeBlockKey(h common.Uint256) []byte {
	return append([]byte{prefixBlock}, h[:]...)
}

func makeBlockHashKey(index uint32) []byte {
	key := make([]byte, 5)
	key[0] = prefixBlockHash
	binary.BigEndian.PutUint32(key[1:], index)
	return key
}

// StoreBlock writes the block body and its height index entry.
func (d *Simple) StoreBlock(b *types.Block) error {
	data, err := wire.ToBytes(b)
	if err != nil {
		return err
	}
	h := b.Hash()
	if err := d.Store.Put(makeBlockKey(h), data); err != nil {
		return err
	}
	return d.Store.Put(makeBlockHashKey(b.Index), h[:])
}

// GetBlock reads a block by hash.
func (d *Simple) GetBlock(h common.Uint256) (*types.Block, error) {
	data, err := d.Store.Get(makeBlockKey(h))
	if err != nil {
		return nil, err
	}
	b := new(types.Block)
	if err := wire.FromBytes(data, b); err != nil {
		return nil, err
	}
	return b, nil
}

// DeleteBlock removes a block body and its index entry (rollback path).
func (d *Simple) DeleteBlock(h common.Uint256, index uint32) error {
	if err := d.Store.Delete(makeBlockKey(h)); err != nil {
		return err
	}
	return d.Store.Delete(makeBlockHashKey(index))
}

// GetBlockHash maps a height to the canonical block hash.
func (d *Simple) GetBlockHash(index uint32) (common.Uint256, error) {
	data, err := d.Store.Get(makeBlockHashKey(index))
	if err != nil {
		return common.Uint256{}, err
	}
	return common.Uint256FromBytes(data)
}

// currentBlockKey holds the chain head (hash || index).
var currentBlockKey = []byte{prefixCurrentBlock}

// PutCurrentBlock stores the chain head pointer.
func (d *Simple) PutCurrentBlock(h common.Uint256, index uint32) error {
	buf := make([]byte, common.Uint256Size+4)
	copy(buf, h[:])
	binary.LittleEndian.PutUint32(buf[common.Uint256Size:], index)
	return d.Store.Put(currentBlockKey, buf)
}

// GetCurrentBlock reads the chain head pointer.
func (d *Simple) GetCurrentBlock() (common.Uint256, uint32, error) {
	data, err := d.Store.Get(currentBlockKey)
	if err != nil {
		return common.Uint256{}, 0, err
	}
	if len(data) != common.Uint256Size+4 {
		return common.Uint256{}, 0, errors.New("dao: corrupted head pointer")
	}
	h, _ := common.Uint256FromBytes(data[:common.Uint256Size])
	return h, binary.LittleEndian.Uint32(data[common.Uint256Size:]), nil
}

// --- transactions ---

func makeTxKey(h common.Uint256) []byte {
	return append([]byte{prefixTransaction}, h[:]...)
}

// StoreTransaction writes a transaction with its containing block index.
func (d *Simple) StoreTransaction(tx *types.Transaction, blockIndex uint32) error {
	w := wire.NewBufBinWriter()
	w.WriteU32LE(blockIndex)
	tx.EncodeBinary(w.BinWriter)
	if w.Err != nil {
		return w.Err
	}
	return d.Store.Put(makeTxKey(tx.Hash()), w.Bytes())
}

// GetTransaction reads a transaction and the height it was included at.
func (d *Simple) GetTransaction(h common.Uint256) (*types.Transaction, uint32, error) {
	data, err := d.Store.Get(makeTxKey(h))
	if err != nil {
		return nil, 0, err
	}
	r := wire.NewBinReaderFromBuf(data)
	index := r.ReadU32LE()
	tx := new(types.Transaction)
	tx.DecodeBinary(r)
	if r.Err != nil {
		return nil, 0, r.Err
	}
	return tx, index, nil
}

// HasTransaction reports whether the ledger already contains h.
func (d *Simple) HasTransaction(h common.Uint256) bool {
	_, err := d.Store.Get(makeTxKey(h))
	return err == nil
}

// DeleteTransaction removes a transaction record (rollback path).
func (d *Simple) DeleteTransaction(h common.Uint256) error {
	return d.Store.Delete(makeTxKey(h))
}

// --- application logs ---

func makeAppExecKey(h common.Uint256, trig state.Trigger) []byte {
	key := make([]byte, 1+common.Uint256Size+1)
	key[0] = prefixAppExecResult
	copy(key[1:], h[:])
	key[len(key)-1] = byte(trig)
	return key
}

// PutAppExecResult stores one execution log.
func (d *Simple) PutAppExecResult(a *state.AppExecResult) error {
	data, err := wire.ToBytes(a)
	if err != nil {
		return err
	}
	return d.Store.Put(makeAppExecKey(a.Container, a.Trigger), data)
}

// GetAppExecResult reads the execution log of a container for one trigger.
func (d *Simple) GetAppExecResult(h common.Uint256, trig state.Trigger) (*state.AppExecResult, error) {
	data, err := d.Store.Get(makeAppExecKey(h, trig))
	if err != nil {
		return nil, err
	}
	a := new(state.AppExecResult)
	if err := wire.FromBytes(data, a); err != nil {
		return nil, err
	}
	return a, nil
}

// --- conflict records ---

func makeConflictKey(conflict, tx common.Uint256) []byte {
	key := make([]byte, 1+2*common.Uint256Size)
	key[0] = prefixConflict
	copy(key[1:], conflict[:])
	copy(key[1+common.Uint256Size:], tx[:])
	return key
}

// AddConflictRecord marks conflict as spent by tx at blockIndex.
func (d *Simple) AddConflictRecord(conflict, tx common.Uint256, blockIndex uint32) error {
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], blockIndex)
	return d.Store.Put(makeConflictKey(conflict, tx), buf[:])
}

// HasConflictRecord reports whether any persisted transaction declared h as
// a conflict.
func (d *Simple) HasConflictRecord(h common.Uint256) bool {
	found := false
	d.Store.Seek(storage.SeekRange{Prefix: append([]byte{prefixConflict}, h[:]...)}, func(k, v []byte) bool {
		found = true
		return false
	})
	return found
}

// DeleteConflictRecords removes every conflict record stored under the
// conflict hash, whichever transaction declared it.
func (d *Simple) DeleteConflictRecords(conflict common.Uint256) error {
	var keys [][]byte
	d.Store.Seek(storage.SeekRange{Prefix: append([]byte{prefixConflict}, conflict[:]...)}, func(k, v []byte) bool {
		keys = append(keys, append([]byte(nil), k...))
		return true
	})
	for _, k := range keys {
		if err := d.Store.Delete(k); err != nil {
			return err
		}
	}
	return nil
}

// --- state roots ---

func makeStateRootKey(index uint32) []byte {
	key := make([]byte, 5)
	key[0] = prefixStateRoot
	binary.BigEndian.PutUint32(key[1:], index)
	return key
}

// PutStateRoot records the trie root after applying block index.
func (d *Simple) PutStateRoot(index uint32, root common.Uint256) error {
	return d.Store.Put(makeStateRootKey(index), root[:])
}

// GetStateRoot reads the trie root recorded for block index.
func (d *Simple) GetStateRoot(index uint32) (common.Uint256, error) {
	data, err := d.Store.Get(makeStateRootKey(index))
	if err != nil {
		return common.Uint256{}, err
	}
	return common.Uint256FromBytes(data)
}

// DeleteStateRoot removes a state-root record (rollback path).
func (d *Simple) DeleteStateRoot(index uint32) error {
	return d.Store.Delete(makeStateRootKey(index))
}

// --- contract storage items ---

func makeStorageItemKey(id int32, key []byte) []byte {
	out := make([]byte, 5+len(key))
	out[0] = prefixStorageItem
	binary.LittleEndian.PutUint32(out[1:], uint32(id))
	copy(out[5:], key)
	return out
}

// GetStorageItem reads one contract storage record.
func (d *Simple) GetStorageItem(id int32, key []byte) []byte {
	data, err := d.Store.Get(makeStorageItemKey(id, key))
	if err != nil {
		return nil
	}
	return data
}

// PutStorageItem writes one contract storage record.
func (d *Simple) PutStorageItem(id int32, key, value []byte) error {
	return d.Store.Put(makeStorageItemKey(id, key), value)
}

// DeleteStorageItem removes one contract storage record.
func (d *Simple) DeleteStorageItem(id int32, key []byte) error {
	return d.Store.Delete(makeStorageItemKey(id, key))
}

// SeekStorage iterates a contract's records under prefix in byte order,
// yielding keys with the contract prefix stripped.
func (d *Simple) SeekStorage(id int32, prefix []byte, backwards bool, f func(k, v []byte) bool) {
	full := makeStorageItemKey(id, prefix)
	skip := 5 // storage prefix byte + contract id
	d.Store.Seek(storage.SeekRange{Prefix: full, Backwards: backwards}, func(k, v []byte) bool {
		return f(k[skip:], v)
	})
}

// --- undo log ---

// UndoEntry remembers one key's previous value; Existed false means the key
// was absent before the block.
type UndoEntry struct {
	Key     []byte
	Value   []byte
	Existed bool
}

// UndoLog is everything needed to reverse one block's writes.
type UndoLog struct {
	Entries []UndoEntry
}

// EncodeBinary implements wire.Serializable.
func (u *UndoLog) EncodeBinary(w *wire.BinWriter) {
	w.WriteVarUint(uint64(len(u.Entries)))
	for i := range u.Entries {
		w.WriteVarBytes(u.Entries[i].Key)
		w.WriteBool(u.Entries[i].Existed)
		if u.Entries[i].Existed {
			w.WriteVarBytes(u.Entries[i].Value)
		}
	}
}

// DecodeBinary implements wire.Serializable.
func (u *UndoLog) DecodeBinary(r *wire.BinReader) {
	n := r.ReadArrayCount(wire.MaxArraySize)
	if r.Err != nil {
		return
	}
	u.Entries = make([]UndoEntry, n)
	for i := 0; i < n; i++ {
		u.Entries[i].Key = r.ReadVarBytes(wire.MaxArraySize)
		u.Entries[i].Existed = r.ReadBool()
		if u.Entries[i].Existed {
			u.Entries[i].Value = r.ReadVarBytes(wire.MaxArraySize)
		}
	}
}

func makeUndoKey(index uint32) []byte {
	key := make([]byte, 5)
	key[0] = prefixUndoLog
	binary.BigEndian.PutUint32(key[1:], index)
	return key
}

// PutUndoLog stores the undo log of block index.
func (d *Simple) PutUndoLog(index uint32, u *UndoLog) error {
	data, err := wire.ToBytes(u)
	if err != nil {
		return err
	}
	return d.Store.Put(makeUndoKey(index), data)
}

// GetUndoLog reads the undo log of block index.
func (d *Simple) GetUndoLog(index uint32) (*UndoLog, error) {
	data, err := d.Store.Get(makeUndoKey(index))
	if err != nil {
		return nil, err
	}
	u := new(UndoLog)
	if err := wire.FromBytes(data, u); err != nil {
		return nil, err
	}
	return u, nil
}

// DeleteUndoLog drops the undo log of block index.
func (d *Simple) DeleteUndoLog(index uint32) error {
	return d.Store.Delete(makeUndoKey(index))
}

// BuildUndoLog renders the pending overlay of this layer into an undo log by
// consulting lower for previous values. Call it before Persist.
func (d *Simple) BuildUndoLog(lower storage.Store) *UndoLog {
	batch := d.Store.GetBatch()
	u := new(UndoLog)
	record := func(key []byte) {
		prev, err := lower.Get(key)
		entry := UndoEntry{Key: key}
		if err == nil {
			entry.Value = prev
			entry.Existed = true
		}
		u.Entries = append(u.Entries, entry)
	}
	for _, kv := range batch.Put {
		record(kv.Key)
	}
	for _, k := range batch.Deleted {
		record(k)
	}
	return u
}

// ApplyUndoLog reverses a block's writes against this layer.
func (d *Simple) ApplyUndoLog(u *UndoLog) error {
	for i := range u.Entries {
		e := &u.Entries[i]
		if e.Existed {
			if err := d.Store.Put(e.Key, e.Value); err != nil {
				return err
			}
		} else {
			if err := d.Store.Delete(e.Key); err != nil {
				return err
			}
		}
	}
	return nil
}
