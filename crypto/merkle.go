package crypto

import "github.com/gneo-network/gneo/common"

// MerkleRoot computes the double SHA-256 (Hash256) Merkle root over the given hashes. An odd
// layer duplicates its last element; an empty input yields the zero hash.
func MerkleRoot(hashes []common.Uint256) common.Uint256 {
	if len(hashes) == 0 {
		return common.Uint256{}
	}
	layer := make([]common.Uint256, len(hashes))
	copy(layer, hashes)
	scratch := make([]byte, 2*common.Uint256Size)
	for len(layer) > 1 {
		if len(layer)%2 != 0 {
			layer = append(layer, layer[len(layer)-1])
		}
		next := layer[:len(layer)/2]
		for i := 0; i < len(layer); i += 2 {
			copy(scratch, layer[i][:])
			copy(scratch[common.Uint256Size:], layer[i+1][:])
			next[i/2] = Hash256(scratch)
		}
		layer = next
	}
	return layer[0]
}
