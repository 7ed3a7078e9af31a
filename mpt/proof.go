package mpt

import (
	"bytes"

	"github.com/gneo-network/gneo/common"
	"github.com/gneo-network/gneo/crypto"
	"github.com/gneo-network/gneo/wire"
)

// Prove returns the serialized nodes on the path from the root to key, leaf
// included. The sequence convinces any holder of the root hash.
func (t *Trie) Prove(key []byte) ([][]byte, error) {
	var proof [][]byte
	path := toNibbles(key)
	r, err := t.proveNode(t.root, path, &proof)
	if err != nil {
		return nil, err
	}
	t.root = r
	return proof, nil
}

func (t *Trie) proveNode(curr node, path []byte, proof *[][]byte) (node, error) {
	appendNode := func(n node) error {
		data, err := wire.ToBytes(n)
		if err != nil {
			return err
		}
		*proof = append(*proof, data)
		return nil
	}
	switch n := curr.(type) {
	case *leafNode:
		if len(path) == 0 {
			return curr, appendNode(n)
		}
	case *branchNode:
		if err := appendNode(n); err != nil {
			return nil, err
		}
		i, rest := byte(lastChild), []byte(nil)
		if len(path) != 0 {
			i, rest = splitPath(path)
		}
		child, err := t.proveNode(n.children[i], rest, proof)
		if err != nil {
			return nil, err
		}
		n.children[i] = child
		return n, nil
	case *extensionNode:
		if bytes.HasPrefix(path, n.key) {
			if err := appendNode(n); err != nil {
				return nil, err
			}
			next, err := t.proveNode(n.next, path[len(n.key):], proof)
			if err != nil {
				return nil, err
			}
			n.next = next
			return n, nil
		}
	case hashNodeRef:
		full, err := t.getFromStore(n.hash)
		if err != nil {
			return nil, err
		}
		return t.proveNode(full, path, proof)
	case emptyNode:
	}
	return nil, ErrNotFound
}

// VerifyProof checks a proof against root and key and returns the proven
// value. A proof for an absent key fails.
func VerifyProof(root common.Uint256, key []byte, proof [][]byte) ([]byte, bool) {
	nodes := make(map[common.Uint256][]byte, len(proof))
	for _, data := range proof {
		nodes[crypto.Sha256(data)] = data
	}
	path := toNibbles(key)
	want := root
	for {
		data, ok := nodes[want]
		if !ok {
			return nil, false
		}
		n, err := decodeNode(data)
		if err != nil {
			return nil, false
		}
		switch v := n.(type) {
		case *leafNode:
			if len(path) == 0 {
				return append([]byte(nil), v.value...), true
			}
			return nil, false
		case *branchNode:
			i := byte(lastChild)
			if len(path) != 0 {
				i, path = splitPath(path)
			}
			child := v.children[i]
			if child.Kind() != hashT {
				return nil, false
			}
			want = child.Hash()
		case *extensionNode:
			if !bytes.HasPrefix(path, v.key) {
				return nil, false
			}
			path = path[len(v.key):]
			if v.next.Kind() != hashT {
				return nil, false
			}
			want = v.next.Hash()
		default:
			return nil, false
		}
	}
}

// Find walks all keys carrying the byte prefix in ascending order, starting
// at from (inclusive) when given, and calls f until it returns false.
func (t *Trie) Find(prefix, from []byte, f func(key, value []byte) bool) error {
	err := t.findIn(t.root, nil, toNibbles(prefix), toNibbles(from), f)
	if err == errStopIteration {
		return nil
	}
	return err
}

func (t *Trie) findIn(curr node, acc, prefix, from []byte, f func(k, v []byte) bool) error {
	switch n := curr.(type) {
	case *leafNode:
		if len(prefix) != 0 {
			return nil
		}
		if len(from) != 0 && bytes.Compare(acc, from) < 0 {
			return nil
		}
		if !f(fromNibbles(acc), append([]byte(nil), n.value...)) {
			return errStopIteration
		}
		return nil
	case *branchNode:
		for i := 0; i < childrenCount; i++ {
			// The terminal slot sorts before longer keys.
			idx := (i + lastChild) % childrenCount
			childAcc := acc
			childPrefix := prefix
			if idx != lastChild {
				if len(prefix) != 0 {
					if prefix[0] != byte(idx) {
						continue
					}
					childPrefix = prefix[1:]
				}
				childAcc = append(append([]byte(nil), acc...), byte(idx))
			} else if len(prefix) != 0 {
				continue
			}
			if err := t.findIn(n.children[idx], childAcc, childPrefix, from, f); err != nil {
				return err
			}
		}
		return nil
	case *extensionNode:
		p := prefix
		if len(p) > len(n.key) {
			if !bytes.HasPrefix(p, n.key) {
				return nil
			}
			p = p[len(n.key):]
		} else {
			if !bytes.HasPrefix(n.key, p) {
				return nil
			}
			p = nil
		}
		return t.findIn(n.next, append(append([]byte(nil), acc...), n.key...), p, from, f)
	case hashNodeRef:
		full, err := t.getFromStore(n.hash)
		if err != nil {
			return err
		}
		return t.findIn(full, acc, prefix, from, f)
	case emptyNode:
		return nil
	}
	return nil
}

var errStopIteration error = errStop{}

type errStop struct{}

func (errStop) Error() string { return "mpt: iteration stopped" }
