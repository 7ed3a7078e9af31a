package mpt

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/gneo-network/gneo/common"
	"github.com/gneo-network/gneo/storage"
	"github.com/gneo-network/gneo/wire"
)

// nodeKeyPrefix namespaces trie nodes inside the backing store.
const nodeKeyPrefix = 0xf0

// Trie is a modified Merkle Patricia trie over nibble paths. It loads nodes
// lazily from the backing store and keeps modified subtrees in memory until
// Flush.
type Trie struct {
	Store *storage.MemCachedStore

	root node
}

// NewTrie opens a trie at the given root. A zero root means an empty trie.
func NewTrie(root common.Uint256, store *storage.MemCachedStore) *Trie {
	var r node = emptyNode{}
	if !root.IsZero() {
		r = hashNodeRef{hash: root}
	}
	return &Trie{Store: store, root: r}
}

// StateRoot returns the current root hash.
func (t *Trie) StateRoot() common.Uint256 {
	return t.root.Hash()
}

// Get returns the value stored under key.
func (t *Trie) Get(key []byte) ([]byte, error) {
	path := toNibbles(key)
	r, val, err := t.getWithPath(t.root, path)
	if err != nil {
		return nil, err
	}
	t.root = r
	return val, nil
}

func (t *Trie) getWithPath(curr node, path []byte) (node, []byte, error) {
	switch n := curr.(type) {
	case *leafNode:
		if len(path) == 0 {
			return curr, append([]byte(nil), n.value...), nil
		}
	case *branchNode:
		i, rest := byte(lastChild), []byte(nil)
		if len(path) != 0 {
			i, rest = splitPath(path)
		}
		r, val, err := t.getWithPath(n.children[i], rest)
		if err != nil {
			return nil, nil, err
		}
		n.children[i] = r
		return n, val, nil
	case *extensionNode:
		if bytes.HasPrefix(path, n.key) {
			r, val, err := t.getWithPath(n.next, path[len(n.key):])
			if err != nil {
				return nil, nil, err
			}
			n.next = r
			return n, val, nil
		}
	case hashNodeRef:
		full, err := t.getFromStore(n.hash)
		if err != nil {
			return nil, nil, err
		}
		return t.getWithPath(full, path)
	case emptyNode:
	}
	return curr, nil, ErrNotFound
}

// Put stores value under key, replacing any previous value.
func (t *Trie) Put(key, value []byte) error {
	if len(key) == 0 {
		return errors.New("mpt: empty key")
	}
	if len(key)*2 > MaxKeyLength {
		return fmt.Errorf("mpt: key of %d bytes exceeds limit", len(key))
	}
	if len(value) > MaxValueLength {
		return fmt.Errorf("mpt: value of %d bytes exceeds limit", len(value))
	}
	if len(value) == 0 {
		return t.Delete(key)
	}
	path := toNibbles(key)
	leaf := &leafNode{value: append([]byte(nil), value...)}
	r, err := t.putIntoNode(t.root, path, leaf)
	if err != nil {
		return err
	}
	t.root = r
	return nil
}

func (t *Trie) putIntoNode(curr node, path []byte, val node) (node, error) {
	switch n := curr.(type) {
	case *leafNode:
		if len(path) == 0 {
			return val, nil
		}
		b := newBranchNode()
		b.children[lastChild] = n
		i, rest := splitPath(path)
		b.children[i] = newSubTrie(rest, val)
		return b, nil
	case *branchNode:
		n.invalidate()
		if len(path) == 0 {
			n.children[lastChild] = val
			return n, nil
		}
		i, rest := splitPath(path)
		child, err := t.putIntoNode(n.children[i], rest, val)
		if err != nil {
			return nil, err
		}
		n.children[i] = child
		return n, nil
	case *extensionNode:
		if bytes.HasPrefix(path, n.key) {
			next, err := t.putIntoNode(n.next, path[len(n.key):], val)
			if err != nil {
				return nil, err
			}
			n.next = next
			n.invalidate()
			return n, nil
		}
		pref := lcp(n.key, path)
		keyTail := n.key[len(pref):]
		pathTail := path[len(pref):]

		b := newBranchNode()
		b.children[keyTail[0]] = newSubTrie(keyTail[1:], n.next)
		if len(pathTail) == 0 {
			b.children[lastChild] = val
		} else {
			b.children[pathTail[0]] = newSubTrie(pathTail[1:], val)
		}
		if len(pref) != 0 {
			return &extensionNode{key: pref, next: b}, nil
		}
		return b, nil
	case hashNodeRef:
		full, err := t.getFromStore(n.hash)
		if err != nil {
			return nil, err
		}
		return t.putIntoNode(full, path, val)
	case emptyNode:
		return newSubTrie(path, val), nil
	}
	return nil, fmt.Errorf("mpt: unexpected node kind 0x%x", curr.Kind())
}

// Delete removes the value stored under key. Deleting an absent key is a
// no-op.
func (t *Trie) Delete(key []byte) error {
	path := toNibbles(key)
	r, err := t.deleteFromNode(t.root, path)
	if err != nil {
		return err
	}
	t.root = r
	return nil
}

func (t *Trie) deleteFromNode(curr node, path []byte) (node, error) {
	switch n := curr.(type) {
	case *leafNode:
		if len(path) == 0 {
			return emptyNode{}, nil
		}
		return curr, nil
	case *branchNode:
		n.invalidate()
		if len(path) == 0 {
			n.children[lastChild] = emptyNode{}
			return t.collapseBranch(n)
		}
		i, rest := splitPath(path)
		child, err := t.deleteFromNode(n.children[i], rest)
		if err != nil {
			return nil, err
		}
		n.children[i] = child
		return t.collapseBranch(n)
	case *extensionNode:
		if !bytes.HasPrefix(path, n.key) {
			return curr, nil
		}
		next, err := t.deleteFromNode(n.next, path[len(n.key):])
		if err != nil {
			return nil, err
		}
		return t.wrapExtension(n.key, next)
	case hashNodeRef:
		full, err := t.getFromStore(n.hash)
		if err != nil {
			return nil, err
		}
		return t.deleteFromNode(full, path)
	case emptyNode:
		return curr, nil
	}
	return nil, fmt.Errorf("mpt: unexpected node kind 0x%x", curr.Kind())
}

func (t *Trie) collapseBranch(b *branchNode) (node, error) {
	count, index := 0, -1
	for i, c := range b.children {
		if c.Kind() != emptyT {
			count++
			index = i
		}
	}
	switch {
	case count == 0:
		return emptyNode{}, nil
	case count > 1:
		return b, nil
	}
	child := b.children[index]
	if index == lastChild {
		return child, nil
	}
	return t.wrapExtension([]byte{byte(index)}, child)
}

// wrapExtension prefixes child with key nibbles, merging adjacent extensions
// and dissolving empties.
func (t *Trie) wrapExtension(key []byte, child node) (node, error) {
	if h, ok := child.(hashNodeRef); ok {
		full, err := t.getFromStore(h.hash)
		if err != nil {
			return nil, err
		}
		child = full
	}
	switch c := child.(type) {
	case emptyNode:
		return c, nil
	case *extensionNode:
		return &extensionNode{key: append(append([]byte(nil), key...), c.key...), next: c.next}, nil
	default:
		return &extensionNode{key: append([]byte(nil), key...), next: child}, nil
	}
}

// Flush writes every in-memory node reachable from the root to the backing
// store. Content addressing makes re-writing unchanged nodes idempotent.
func (t *Trie) Flush() error {
	return t.flushNode(t.root)
}

func (t *Trie) flushNode(n node) error {
	switch v := n.(type) {
	case emptyNode, hashNodeRef:
		return nil
	case *branchNode:
		for _, c := range v.children {
			if err := t.flushNode(c); err != nil {
				return err
			}
		}
	case *extensionNode:
		if err := t.flushNode(v.next); err != nil {
			return err
		}
	case *leafNode:
	}
	data, err := wire.ToBytes(n)
	if err != nil {
		return err
	}
	h := n.Hash()
	return t.Store.Put(makeStorageKey(h), data)
}

// Collapse drops in-memory subtrees, leaving only the root reference. Callers
// flush first; the trie reloads nodes on demand afterwards.
func (t *Trie) Collapse() {
	if t.root.Kind() != emptyT {
		t.root = hashNodeRef{hash: t.root.Hash()}
	}
}

func (t *Trie) getFromStore(h common.Uint256) (node, error) {
	data, err := t.Store.Get(makeStorageKey(h))
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrRestoreFailed, h)
	}
	n, err := decodeNode(data)
	if err != nil {
		return nil, err
	}
	return n, nil
}

func makeStorageKey(h common.Uint256) []byte {
	return append([]byte{nodeKeyPrefix}, h[:]...)
}

func newSubTrie(path []byte, val node) node {
	if len(path) == 0 {
		return val
	}
	return &extensionNode{key: append([]byte(nil), path...), next: val}
}

func splitPath(path []byte) (byte, []byte) {
	return path[0], path[1:]
}

func toNibbles(key []byte) []byte {
	out := make([]byte, 2*len(key))
	for i, b := range key {
		out[2*i] = b >> 4
		out[2*i+1] = b & 0x0F
	}
	return out
}

func fromNibbles(path []byte) []byte {
	out := make([]byte, len(path)/2)
	for i := range out {
		out[i] = path[2*i]<<4 | path[2*i+1]
	}
	return out
}

func lcp(a, b []byte) []byte {
	n := 0
	for n < len(a) && n < len(b) && a[n] == b[n] {
		n++
	}
	return a[:n]
}
