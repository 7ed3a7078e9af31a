package mpt

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/gneo-network/gneo/common"
	"github.com/gneo-network/gneo/storage"
)

func newTestTrie() *Trie {
	return NewTrie(common.Uint256{}, storage.NewMemCachedStore(storage.NewMemoryStore()))
}

func TestPutGetDelete(t *testing.T) {
	tr := newTestTrie()

	require.NoError(t, tr.Put([]byte("dog"), []byte("puppy")))
	require.NoError(t, tr.Put([]byte("doge"), []byte("coin")))
	require.NoError(t, tr.Put([]byte("horse"), []byte("stallion")))

	for k, want := range map[string]string{"dog": "puppy", "doge": "coin", "horse": "stallion"} {
		got, err := tr.Get([]byte(k))
		require.NoError(t, err)
		require.Equal(t, []byte(want), got)
	}

	_, err := tr.Get([]byte("do"))
	require.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, tr.Delete([]byte("doge")))
	_, err = tr.Get([]byte("doge"))
	require.ErrorIs(t, err, ErrNotFound)

	got, err := tr.Get([]byte("dog"))
	require.NoError(t, err)
	require.Equal(t, []byte("puppy"), got)
}

func TestRootDeterminism(t *testing.T) {
	keys := []string{"alpha", "beta", "gamma", "delta", "epsilon"}

	a := newTestTrie()
	for _, k := range keys {
		require.NoError(t, a.Put([]byte(k), []byte("v-"+k)))
	}

	// Insertion order must not matter.
	b := newTestTrie()
	for i := len(keys) - 1; i >= 0; i-- {
		require.NoError(t, b.Put([]byte(keys[i]), []byte("v-"+keys[i])))
	}
	require.Equal(t, a.StateRoot(), b.StateRoot())

	// Overwrite changes the root, restoring reverts it.
	before := a.StateRoot()
	require.NoError(t, a.Put([]byte("alpha"), []byte("other")))
	require.NotEqual(t, before, a.StateRoot())
	require.NoError(t, a.Put([]byte("alpha"), []byte("v-alpha")))
	require.Equal(t, before, a.StateRoot())
}

func TestDeleteRestoresRoot(t *testing.T) {
	tr := newTestTrie()
	require.NoError(t, tr.Put([]byte("one"), []byte("1")))
	solo := tr.StateRoot()

	require.NoError(t, tr.Put([]byte("two"), []byte("2")))
	require.NoError(t, tr.Put([]byte("three"), []byte("3")))
	require.NoError(t, tr.Delete([]byte("two")))
	require.NoError(t, tr.Delete([]byte("three")))
	require.Equal(t, solo, tr.StateRoot())

	require.NoError(t, tr.Delete([]byte("one")))
	require.True(t, tr.StateRoot().IsZero())
}

func TestFlushAndReload(t *testing.T) {
	store := storage.NewMemCachedStore(storage.NewMemoryStore())
	tr := NewTrie(common.Uint256{}, store)
	for i := 0; i < 32; i++ {
		require.NoError(t, tr.Put([]byte(fmt.Sprintf("key-%02d", i)), []byte(fmt.Sprintf("val-%02d", i))))
	}
	root := tr.StateRoot()
	require.NoError(t, tr.Flush())

	reloaded := NewTrie(root, store)
	got, err := reloaded.Get([]byte("key-17"))
	require.NoError(t, err)
	require.Equal(t, []byte("val-17"), got)
	require.Equal(t, root, reloaded.StateRoot())

	// A trie opened at a root whose nodes are absent fails on access.
	missing := NewTrie(root, storage.NewMemCachedStore(storage.NewMemoryStore()))
	_, err = missing.Get([]byte("key-17"))
	require.ErrorIs(t, err, ErrRestoreFailed)
}

func TestProveVerify(t *testing.T) {
	tr := newTestTrie()
	for i := 0; i < 16; i++ {
		require.NoError(t, tr.Put([]byte(fmt.Sprintf("account-%d", i)), []byte(fmt.Sprintf("balance-%d", i))))
	}
	root := tr.StateRoot()

	proof, err := tr.Prove([]byte("account-7"))
	require.NoError(t, err)
	require.NotEmpty(t, proof)

	val, ok := VerifyProof(root, []byte("account-7"), proof)
	require.True(t, ok)
	require.Equal(t, []byte("balance-7"), val)

	// Wrong key and wrong root both fail.
	_, ok = VerifyProof(root, []byte("account-8"), proof)
	require.False(t, ok)
	_, ok = VerifyProof(common.Uint256{1}, []byte("account-7"), proof)
	require.False(t, ok)

	_, err = tr.Prove([]byte("account-99"))
	require.ErrorIs(t, err, ErrNotFound)
}

func TestFindPrefix(t *testing.T) {
	tr := newTestTrie()
	for _, k := range []string{"st/a", "st/b", "st/c", "other"} {
		require.NoError(t, tr.Put([]byte(k), []byte("v:"+k)))
	}

	var got []string
	require.NoError(t, tr.Find([]byte("st/"), nil, func(k, v []byte) bool {
		got = append(got, string(k))
		return true
	}))
	require.Equal(t, []string{"st/a", "st/b", "st/c"}, got)

	got = got[:0]
	require.NoError(t, tr.Find([]byte("st/"), []byte("st/b"), func(k, v []byte) bool {
		got = append(got, string(k))
		return true
	}))
	require.Equal(t, []string{"st/b", "st/c"}, got)

	got = got[:0]
	require.NoError(t, tr.Find([]byte("st/"), nil, func(k, v []byte) bool {
		got = append(got, string(k))
		return false
	}))
	require.Equal(t, []string{"st/a"}, got)
}
