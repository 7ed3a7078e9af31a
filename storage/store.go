// Package storage defines the ordered key-value store the ledger persists
// into, with three interchangeable backends and a write-cache layer providing
// snapshot semantics.
package storage

import (
	"bytes"
	"errors"
	"fmt"
)

var (
	// ErrKeyNotFound is returned by Get when the key has no value.
	ErrKeyNotFound = errors.New("storage: key not found")
	// ErrMarkerMismatch is returned when a store belongs to a different
	// network or schema than the opener expects.
	ErrMarkerMismatch = errors.New("storage: marker mismatch")
	// ErrReadOnly is returned on mutation of a read-only view.
	ErrReadOnly = errors.New("storage: read-only")
)

// SchemaVersion is written to new stores and checked on every open.
const SchemaVersion = "0.3.0"

// Fixed marker keys. They live outside every contract-id prefix space.
var (
	markerNetworkMagic  = []byte("SYS_NetworkMagic")
	markerSchemaVersion = []byte("SYS_SchemaVersion")
)

// SeekRange describes one prefix scan.
type SeekRange struct {
	// Prefix restricts the scan to keys starting with it.
	Prefix []byte
	// Start, when set, positions the scan at Prefix||Start.
	Start []byte
	// Backwards walks keys in descending byte order.
	Backwards bool
}

// KeyValue is one record yielded by Seek.
type KeyValue struct {
	Key   []byte
	Value []byte
}

// Store is the minimal ordered KV contract every backend satisfies.
// Iteration order is byte-lexicographic; batches commit atomically.
type Store interface {
	Get(key []byte) ([]byte, error)
	Put(key, value []byte) error
	Delete(key []byte) error
	// Seek calls f for every record in rng order until f returns false.
	Seek(rng SeekRange, f func(k, v []byte) bool)
	// PutBatch atomically applies a set of puts and deletes.
	PutBatch(b *MemBatch) error
	Close() error
}

// MemBatch accumulates writes for one atomic commit.
type MemBatch struct {
	Put     []KeyValue
	Deleted [][]byte
}

// NewMemBatch returns an empty batch.
func NewMemBatch() *MemBatch {
	return &MemBatch{}
}

// Add appends a put.
func (b *MemBatch) Add(key, value []byte) {
	b.Put = append(b.Put, KeyValue{
		Key:   append([]byte(nil), key...),
		Value: append([]byte(nil), value...),
	})
}

// Drop appends a delete.
func (b *MemBatch) Drop(key []byte) {
	b.Deleted = append(b.Deleted, append([]byte(nil), key...))
}

// Len returns the number of pending operations.
func (b *MemBatch) Len() int {
	return len(b.Put) + len(b.Deleted)
}

// InitMarkers stamps a fresh store or verifies an existing one. Both markers
// must match before any other key is touched; a read-only open additionally
// refuses stores with no markers at all.
func InitMarkers(s Store, magic uint32, readOnly bool) error {
	magicBytes := []byte{byte(magic), byte(magic >> 8), byte(magic >> 16), byte(magic >> 24)}

	haveMagic, err := s.Get(markerNetworkMagic)
	switch {
	case errors.Is(err, ErrKeyNotFound):
		if readOnly {
			return fmt.Errorf("%w: store carries no network marker", ErrMarkerMismatch)
		}
		if err := s.Put(markerNetworkMagic, magicBytes); err != nil {
			return err
		}
		return s.Put(markerSchemaVersion, []byte(SchemaVersion))
	case err != nil:
		return err
	}
	if !bytes.Equal(haveMagic, magicBytes) {
		return fmt.Errorf("%w: store magic %x, node magic %x", ErrMarkerMismatch, haveMagic, magicBytes)
	}
	haveVersion, err := s.Get(markerSchemaVersion)
	if err != nil {
		if errors.Is(err, ErrKeyNotFound) {
			return fmt.Errorf("%w: store carries no schema marker", ErrMarkerMismatch)
		}
		return err
	}
	if string(haveVersion) != SchemaVersion {
		return fmt.Errorf("%w: store schema %q, node schema %q", ErrMarkerMismatch, haveVersion, SchemaVersion)
	}
	return nil
}
