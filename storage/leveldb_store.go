package storage

import (
	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/errors"
	"github.com/syndtr/goleveldb/leveldb/filter"
	"github.com/syndtr/goleveldb/leveldb/opt"
	"github.com/syndtr/goleveldb/leveldb/util"
)

// LevelDBStore is the default on-disk backend.
type LevelDBStore struct {
	db *leveldb.DB
}

// NewLevelDBStore opens (or creates) a LevelDB database at path.
func NewLevelDBStore(path string) (*LevelDBStore, error) {
	opts := &opt.Options{
		Filter: filter.NewBloomFilter(10),
	}
	db, err := leveldb.OpenFile(path, opts)
	if errors.IsCorrupted(err) {
		db, err = leveldb.RecoverFile(path, opts)
	}
	if err != nil {
		return nil, err
	}
	return &LevelDBStore{db: db}, nil
}

// Get implements Store.
func (s *LevelDBStore) Get(key []byte) ([]byte, error) {
	v, err := s.db.Get(key, nil)
	if err == leveldb.ErrNotFound {
		return nil, ErrKeyNotFound
	}
	return v, err
}

// Put implements Store.
func (s *LevelDBStore) Put(key, value []byte) error {
	return s.db.Put(key, value, nil)
}

// Delete implements Store.
func (s *LevelDBStore) Delete(key []byte) error {
	return s.db.Delete(key, nil)
}

// PutBatch implements Store. The batch is applied with fsync so a committed
// block survives a crash.
func (s *LevelDBStore) PutBatch(b *MemBatch) error {
	batch := new(leveldb.Batch)
	for _, kv := range b.Put {
		batch.Put(kv.Key, kv.Value)
	}
	for _, k := range b.Deleted {
		batch.Delete(k)
	}
	return s.db.Write(batch, &opt.WriteOptions{Sync: true})
}

// Seek implements Store.
func (s *LevelDBStore) Seek(rng SeekRange, f func(k, v []byte) bool) {
	iter := s.db.NewIterator(util.BytesPrefix(rng.Prefix), nil)
	defer iter.Release()

	start := append(append([]byte(nil), rng.Prefix...), rng.Start...)
	var ok bool
	if rng.Backwards {
		if len(rng.Start) != 0 {
			// Position at or before Prefix||Start.
			if ok = iter.Seek(start); ok {
				if string(iter.Key()) > string(start) {
					ok = iter.Prev()
				}
			} else {
				ok = iter.Last()
			}
		} else {
			ok = iter.Last()
		}
		for ; ok; ok = iter.Prev() {
			if !f(cloneBytes(iter.Key()), cloneBytes(iter.Value())) {
				return
			}
		}
		return
	}
	if len(rng.Start) != 0 {
		ok = iter.Seek(start)
	} else {
		ok = iter.First()
	}
	for ; ok; ok = iter.Next() {
		if !f(cloneBytes(iter.Key()), cloneBytes(iter.Value())) {
			return
		}
	}
}

// Close implements Store.
func (s *LevelDBStore) Close() error {
	return s.db.Close()
}

func cloneBytes(b []byte) []byte {
	return append([]byte(nil), b...)
}
