package storage_test

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/gneo-network/gneo/storage"
	"github.com/gneo-network/gneo/storage/storetest"
)

func TestMemoryStore(t *testing.T) {
	storetest.TestStoreSuite(t, func(t *testing.T) storage.Store {
		return storage.NewMemoryStore()
	})
}

func TestLevelDBStore(t *testing.T) {
	storetest.TestStoreSuite(t, func(t *testing.T) storage.Store {
		s, err := storage.NewLevelDBStore(filepath.Join(t.TempDir(), "chain"))
		require.NoError(t, err)
		return s
	})
}

func TestBoltDBStore(t *testing.T) {
	storetest.TestStoreSuite(t, func(t *testing.T) storage.Store {
		s, err := storage.NewBoltDBStore(filepath.Join(t.TempDir(), "chain.bolt"))
		require.NoError(t, err)
		return s
	})
}

func TestMemCachedStore(t *testing.T) {
	storetest.TestStoreSuite(t, func(t *testing.T) storage.Store {
		return storage.NewMemCachedStore(storage.NewMemoryStore())
	})
}

func TestMemCachedStoreLayering(t *testing.T) {
	lower := storage.NewMemoryStore()
	require.NoError(t, lower.Put([]byte("p/a"), []byte("old")))
	require.NoError(t, lower.Put([]byte("p/b"), []byte("keep")))

	cache := storage.NewMemCachedStore(lower)
	require.NoError(t, cache.Put([]byte("p/a"), []byte("new")))
	require.NoError(t, cache.Put([]byte("p/c"), []byte("added")))
	require.NoError(t, cache.Delete([]byte("p/b")))

	// Overlay shadows, tombstones hide, merge keeps order.
	var keys, vals []string
	cache.Seek(storage.SeekRange{Prefix: []byte("p/")}, func(k, v []byte) bool {
		keys = append(keys, string(k))
		vals = append(vals, string(v))
		return true
	})
	require.Equal(t, []string{"p/a", "p/c"}, keys)
	require.Equal(t, []string{"new", "added"}, vals)

	// Lower store untouched until Persist.
	got, err := lower.Get([]byte("p/a"))
	require.NoError(t, err)
	require.Equal(t, []byte("old"), got)

	n, err := cache.Persist()
	require.NoError(t, err)
	require.Equal(t, 3, n)

	got, err = lower.Get([]byte("p/a"))
	require.NoError(t, err)
	require.Equal(t, []byte("new"), got)
	_, err = lower.Get([]byte("p/b"))
	require.ErrorIs(t, err, storage.ErrKeyNotFound)
}

func TestReadOnlyViewRefusesWrites(t *testing.T) {
	view := storage.NewReadOnlyView(storage.NewMemoryStore())
	require.ErrorIs(t, view.Put([]byte("k"), nil), storage.ErrReadOnly)
	require.ErrorIs(t, view.Delete([]byte("k")), storage.ErrReadOnly)
	_, err := view.Persist()
	require.ErrorIs(t, err, storage.ErrReadOnly)
}

func TestInitMarkers(t *testing.T) {
	s := storage.NewMemoryStore()

	// Fresh store gets stamped.
	require.NoError(t, storage.InitMarkers(s, 0x4e454f54, false))
	// Same magic reopens.
	require.NoError(t, storage.InitMarkers(s, 0x4e454f54, false))
	// Different magic refuses.
	require.ErrorIs(t, storage.InitMarkers(s, 0x4e454f33, false), storage.ErrMarkerMismatch)
	// Read-only open of an empty store refuses.
	require.ErrorIs(t, storage.InitMarkers(storage.NewMemoryStore(), 0x4e454f54, true), storage.ErrMarkerMismatch)
	// Read-only open of a stamped store succeeds.
	require.NoError(t, storage.InitMarkers(s, 0x4e454f54, true))
}
