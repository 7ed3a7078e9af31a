package storage

import (
	"bytes"
	"sort"
	"strings"
	"sync"
)

// MemoryStore is the in-memory backend used by tests and by the header cache
// warm-up path.
type MemoryStore struct {
	mu sync.RWMutex
	m  map[string][]byte
}

// NewMemoryStore returns an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{m: make(map[string][]byte)}
}

// Get implements Store.
func (s *MemoryStore) Get(key []byte) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if v, ok := s.m[string(key)]; ok {
		return append([]byte(nil), v...), nil
	}
	return nil, ErrKeyNotFound
}

// Put implements Store.
func (s *MemoryStore) Put(key, value []byte) error {
	s.mu.Lock()
	s.m[string(key)] = append([]byte(nil), value...)
	s.mu.Unlock()
	return nil
}

// Delete implements Store.
func (s *MemoryStore) Delete(key []byte) error {
	s.mu.Lock()
	delete(s.m, string(key))
	s.mu.Unlock()
	return nil
}

// PutBatch implements Store.
func (s *MemoryStore) PutBatch(b *MemBatch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, kv := range b.Put {
		s.m[string(kv.Key)] = append([]byte(nil), kv.Value...)
	}
	for _, k := range b.Deleted {
		delete(s.m, string(k))
	}
	return nil
}

// Seek implements Store.
func (s *MemoryStore) Seek(rng SeekRange, f func(k, v []byte) bool) {
	s.mu.RLock()
	prefix := string(rng.Prefix)
	keys := make([]string, 0, len(s.m))
	for k := range s.m {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	s.mu.RUnlock()

	sort.Strings(keys)
	if rng.Backwards {
		for i, j := 0, len(keys)-1; i < j; i, j = i+1, j-1 {
			keys[i], keys[j] = keys[j], keys[i]
		}
	}
	start := append(append([]byte(nil), rng.Prefix...), rng.Start...)
	for _, k := range keys {
		if len(rng.Start) != 0 {
			cmp := bytes.Compare([]byte(k), start)
			if !rng.Backwards && cmp < 0 || rng.Backwards && cmp > 0 {
				continue
			}
		}
		s.mu.RLock()
		v, ok := s.m[k]
		s.mu.RUnlock()
		if !ok {
			continue
		}
		if !f([]byte(k), v) {
			return
		}
	}
}

// Close implements Store.
func (s *MemoryStore) Close() error {
	s.mu.Lock()
	s.m = nil
	s.mu.Unlock()
	return nil
}
