package storage

import (
	"bytes"
	"os"
	"time"

	"go.etcd.io/bbolt"
)

var boltBucket = []byte("GNEO")

// BoltDBStore is the single-file backend, kept for deployments preferring
// one mmapped file over a LevelDB directory.
type BoltDBStore struct {
	db *bbolt.DB
}

// NewBoltDBStore opens (or creates) a Bolt database at path.
func NewBoltDBStore(path string) (*BoltDBStore, error) {
	db, err := bbolt.Open(path, os.FileMode(0o600), &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, err
	}
	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(boltBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, err
	}
	return &BoltDBStore{db: db}, nil
}

// Get implements Store.
func (s *BoltDBStore) Get(key []byte) ([]byte, error) {
	var val []byte
	err := s.db.View(func(tx *bbolt.Tx) error {
		if v := tx.Bucket(boltBucket).Get(key); v != nil {
			val = append([]byte(nil), v...)
		}
		return nil
	})
	if err == nil && val == nil {
		err = ErrKeyNotFound
	}
	return val, err
}

// Put implements Store.
func (s *BoltDBStore) Put(key, value []byte) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(boltBucket).Put(key, value)
	})
}

// Delete implements Store.
func (s *BoltDBStore) Delete(key []byte) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(boltBucket).Delete(key)
	})
}

// PutBatch implements Store; a single Update transaction keeps it atomic.
func (s *BoltDBStore) PutBatch(b *MemBatch) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		bkt := tx.Bucket(boltBucket)
		for _, kv := range b.Put {
			if err := bkt.Put(kv.Key, kv.Value); err != nil {
				return err
			}
		}
		for _, k := range b.Deleted {
			if err := bkt.Delete(k); err != nil {
				return err
			}
		}
		return nil
	})
}

// Seek implements Store.
func (s *BoltDBStore) Seek(rng SeekRange, f func(k, v []byte) bool) {
	_ = s.db.View(func(tx *bbolt.Tx) error {
		c := tx.Bucket(boltBucket).Cursor()
		prefix := rng.Prefix
		start := append(append([]byte(nil), prefix...), rng.Start...)

		if rng.Backwards {
			k, v := seekLastWithPrefix(c, prefix, start, len(rng.Start) != 0)
			for ; k != nil && bytes.HasPrefix(k, prefix); k, v = c.Prev() {
				if !f(cloneBytes(k), cloneBytes(v)) {
					return nil
				}
			}
			return nil
		}
		var k, v []byte
		if len(rng.Start) != 0 {
			k, v = c.Seek(start)
		} else {
			k, v = c.Seek(prefix)
		}
		for ; k != nil && bytes.HasPrefix(k, prefix); k, v = c.Next() {
			if !f(cloneBytes(k), cloneBytes(v)) {
				return nil
			}
		}
		return nil
	})
}

// Close implements Store.
func (s *BoltDBStore) Close() error {
	return s.db.Close()
}

func seekLastWithPrefix(c *bbolt.Cursor, prefix, start []byte, haveStart bool) ([]byte, []byte) {
	if haveStart {
		k, v := c.Seek(start)
		if k == nil {
			return c.Last()
		}
		if bytes.Compare(k, start) > 0 {
			return c.Prev()
		}
		return k, v
	}
	// Position after every key carrying the prefix, then step back once.
	next := append([]byte(nil), prefix...)
	for i := len(next) - 1; i >= 0; i-- {
		if next[i] != 0xFF {
			next[i]++
			next = next[:i+1]
			k, _ := c.Seek(next)
			if k == nil {
				return c.Last()
			}
			return c.Prev()
		}
	}
	return c.Last()
}
