// Package storetest exercises the Store contract shared by every backend.
package storetest

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/gneo-network/gneo/storage"
)

// TestStoreSuite runs the shared backend conformance tests.
func TestStoreSuite(t *testing.T, open func(t *testing.T) storage.Store) {
	t.Run("GetPutDelete", func(t *testing.T) {
		s := open(t)
		defer s.Close()

		_, err := s.Get([]byte("absent"))
		require.ErrorIs(t, err, storage.ErrKeyNotFound)

		require.NoError(t, s.Put([]byte("k"), []byte("v")))
		got, err := s.Get([]byte("k"))
		require.NoError(t, err)
		require.Equal(t, []byte("v"), got)

		require.NoError(t, s.Put([]byte("k"), []byte("v2")))
		got, _ = s.Get([]byte("k"))
		require.Equal(t, []byte("v2"), got)

		require.NoError(t, s.Delete([]byte("k")))
		_, err = s.Get([]byte("k"))
		require.ErrorIs(t, err, storage.ErrKeyNotFound)

		// Deleting an absent key is not an error.
		require.NoError(t, s.Delete([]byte("k")))
	})

	t.Run("BatchAtomicVisibility", func(t *testing.T) {
		s := open(t)
		defer s.Close()

		require.NoError(t, s.Put([]byte("gone"), []byte("x")))

		b := storage.NewMemBatch()
		b.Add([]byte("a"), []byte("1"))
		b.Add([]byte("b"), []byte("2"))
		b.Drop([]byte("gone"))
		require.NoError(t, s.PutBatch(b))

		for k, want := range map[string]string{"a": "1", "b": "2"} {
			got, err := s.Get([]byte(k))
			require.NoError(t, err)
			require.Equal(t, []byte(want), got)
		}
		_, err := s.Get([]byte("gone"))
		require.ErrorIs(t, err, storage.ErrKeyNotFound)
	})

	t.Run("SeekOrder", func(t *testing.T) {
		s := open(t)
		defer s.Close()

		for _, k := range []string{"p/3", "p/1", "q/9", "p/2", "p/10"} {
			require.NoError(t, s.Put([]byte(k), []byte("v"+k)))
		}

		var got []string
		s.Seek(storage.SeekRange{Prefix: []byte("p/")}, func(k, v []byte) bool {
			got = append(got, string(k))
			return true
		})
		require.Equal(t, []string{"p/1", "p/10", "p/2", "p/3"}, got)

		got = got[:0]
		s.Seek(storage.SeekRange{Prefix: []byte("p/"), Backwards: true}, func(k, v []byte) bool {
			got = append(got, string(k))
			return true
		})
		require.Equal(t, []string{"p/3", "p/2", "p/10", "p/1"}, got)
	})

	t.Run("SeekStartAndStop", func(t *testing.T) {
		s := open(t)
		defer s.Close()

		for _, k := range []string{"p/1", "p/2", "p/3", "p/4"} {
			require.NoError(t, s.Put([]byte(k), []byte{}))
		}

		var got []string
		s.Seek(storage.SeekRange{Prefix: []byte("p/"), Start: []byte("2")}, func(k, v []byte) bool {
			got = append(got, string(k))
			return true
		})
		require.Equal(t, []string{"p/2", "p/3", "p/4"}, got)

		got = got[:0]
		s.Seek(storage.SeekRange{Prefix: []byte("p/")}, func(k, v []byte) bool {
			got = append(got, string(k))
			return len(got) < 2
		})
		require.Equal(t, []string{"p/1", "p/2"}, got)
	})
}
