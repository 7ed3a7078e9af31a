package storage

import (
	"sort"
	"sync"
)

// MemCachedStore layers a write cache over a lower Store. The ledger opens
// one per persist attempt: every write of the attempt lands in the cache and
// reaches the lower store only through Persist, as one atomic batch. A cache
// that is thrown away leaves the lower store untouched, which is exactly the
// discard semantics a faulted persist needs.
type MemCachedStore struct {
	mu sync.RWMutex
	// mem holds the overlay; a nil value marks a deletion.
	mem      map[string][]byte
	ps       Store
	readOnly bool
}

// NewMemCachedStore wraps lower with an empty overlay.
func NewMemCachedStore(lower Store) *MemCachedStore {
	return &MemCachedStore{
		mem: make(map[string][]byte),
		ps:  lower,
	}
}

// NewReadOnlyView wraps lower with an overlay that refuses writes. External
// query services read through views like this one.
func NewReadOnlyView(lower Store) *MemCachedStore {
	s := NewMemCachedStore(lower)
	s.readOnly = true
	return s
}

// Get implements Store.
func (s *MemCachedStore) Get(key []byte) ([]byte, error) {
	s.mu.RLock()
	if v, ok := s.mem[string(key)]; ok {
		s.mu.RUnlock()
		if v == nil {
			return nil, ErrKeyNotFound
		}
		return append([]byte(nil), v...), nil
	}
	s.mu.RUnlock()
	return s.ps.Get(key)
}

// Put implements Store; the write stays in the overlay.
func (s *MemCachedStore) Put(key, value []byte) error {
	if s.readOnly {
		return ErrReadOnly
	}
	s.mu.Lock()
	s.mem[string(key)] = append([]byte{}, value...)
	s.mu.Unlock()
	return nil
}

// Delete implements Store; the tombstone stays in the overlay.
func (s *MemCachedStore) Delete(key []byte) error {
	if s.readOnly {
		return ErrReadOnly
	}
	s.mu.Lock()
	s.mem[string(key)] = nil
	s.mu.Unlock()
	return nil
}

// PutBatch implements Store.
func (s *MemCachedStore) PutBatch(b *MemBatch) error {
	if s.readOnly {
		return ErrReadOnly
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, kv := range b.Put {
		s.mem[string(kv.Key)] = append([]byte{}, kv.Value...)
	}
	for _, k := range b.Deleted {
		s.mem[string(k)] = nil
	}
	return nil
}

// Seek implements Store, merging the overlay with the lower store in byte
// order. Overlay entries shadow lower ones; tombstones hide them.
func (s *MemCachedStore) Seek(rng SeekRange, f func(k, v []byte) bool) {
	type entry struct {
		k   string
		v   []byte
		del bool
	}
	prefix := string(rng.Prefix)
	start := prefix + string(rng.Start)

	s.mu.RLock()
	mem := make([]entry, 0, len(s.mem))
	for k, v := range s.mem {
		if len(k) < len(prefix) || k[:len(prefix)] != prefix {
			continue
		}
		if len(rng.Start) != 0 {
			if !rng.Backwards && k < start || rng.Backwards && k > start {
				continue
			}
		}
		mem = append(mem, entry{k: k, v: v, del: v == nil})
	}
	s.mu.RUnlock()

	sort.Slice(mem, func(i, j int) bool {
		if rng.Backwards {
			return mem[i].k > mem[j].k
		}
		return mem[i].k < mem[j].k
	})
	before := func(a, b string) bool {
		if rng.Backwards {
			return a > b
		}
		return a < b
	}

	i := 0
	stopped := false
	s.ps.Seek(rng, func(k, v []byte) bool {
		ks := string(k)
		for i < len(mem) && before(mem[i].k, ks) {
			if !mem[i].del && !f([]byte(mem[i].k), mem[i].v) {
				stopped = true
				return false
			}
			i++
		}
		if i < len(mem) && mem[i].k == ks {
			shadow := mem[i]
			i++
			if shadow.del {
				return true
			}
			if !f(k, shadow.v) {
				stopped = true
				return false
			}
			return true
		}
		if !f(k, v) {
			stopped = true
			return false
		}
		return true
	})
	if stopped {
		return
	}
	for ; i < len(mem); i++ {
		if !mem[i].del && !f([]byte(mem[i].k), mem[i].v) {
			return
		}
	}
}

// GetBatch drains nothing; it renders the overlay as a batch for inspection
// or undo-log construction.
func (s *MemCachedStore) GetBatch() *MemBatch {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b := NewMemBatch()
	for k, v := range s.mem {
		if v == nil {
			b.Drop([]byte(k))
		} else {
			b.Add([]byte(k), v)
		}
	}
	return b
}

// Persist flushes the overlay to the lower store as one atomic batch and
// empties it. It returns the number of flushed operations.
func (s *MemCachedStore) Persist() (int, error) {
	if s.readOnly {
		return 0, ErrReadOnly
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	b := NewMemBatch()
	for k, v := range s.mem {
		if v == nil {
			b.Drop([]byte(k))
		} else {
			b.Add([]byte(k), v)
		}
	}
	if err := s.ps.PutBatch(b); err != nil {
		return 0, err
	}
	n := b.Len()
	s.mem = make(map[string][]byte)
	return n, nil
}

// Close implements Store; the lower store stays open.
func (s *MemCachedStore) Close() error {
	s.mu.Lock()
	s.mem = nil
	s.mu.Unlock()
	return nil
}
