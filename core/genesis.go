package core

import (
	"encoding/hex"

	"github.com/gneo-network/gneo/common"
	"github.com/gneo-network/gneo/core/types"
	"github.com/gneo-network/gneo/crypto"
	"github.com/gneo-network/gneo/params"
	"github.com/gneo-network/gneo/vm/opcode"
)

// genesisTimestamp is the fixed protocol birth time in milliseconds; every
// network shares it so genesis hashes differ only by configuration.
const genesisTimestamp = 1468595301000

// genesisNonce is the fixed genesis nonce.
const genesisNonce = 2083236893

// createGenesisBlock builds the deterministic genesis block for cfg.
func createGenesisBlock(cfg *params.ProtocolConfiguration) (*types.Block, error) {
	validators, err := standbyValidators(cfg)
	if err != nil {
		return nil, err
	}
	nextConsensus, err := crypto.BFTAddress(validators)
	if err != nil {
		return nil, err
	}
	b := &types.Block{
		Header: types.Header{
			Version:       0,
			PrevHash:      common.Uint256{},
			Timestamp:     genesisTimestamp,
			Nonce:         genesisNonce,
			Index:         0,
			PrimaryIndex:  0,
			NextConsensus: nextConsensus,
			Witness: types.Witness{
				InvocationScript:   []byte{},
				VerificationScript: []byte{byte(opcode.PUSH1)},
			},
		},
	}
	b.RebuildMerkleRoot()
	return b, nil
}

// standbyValidators parses the configured committee and returns its
// validator prefix.
func standbyValidators(cfg *params.ProtocolConfiguration) ([]*crypto.PublicKey, error) {
	keys := make([]*crypto.PublicKey, len(cfg.StandbyCommittee))
	for i, s := range cfg.StandbyCommittee {
		raw, err := hex.DecodeString(s)
		if err != nil {
			return nil, err
		}
		keys[i], err = crypto.NewPublicKeyFromBytes(raw)
		if err != nil {
			return nil, err
		}
	}
	return keys[:cfg.ValidatorsCount], nil
}
