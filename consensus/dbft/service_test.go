package dbft

import (
	"crypto/sha256"
	"encoding/hex"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/gneo-network/gneo/core"
	"github.com/gneo-network/gneo/core/types"
	"github.com/gneo-network/gneo/crypto"
	"github.com/gneo-network/gneo/params"
	"github.com/gneo-network/gneo/storage"
	"github.com/gneo-network/gneo/wire"
)

func testKeys(t *testing.T, n int) []*crypto.PrivateKey {
	keys := make([]*crypto.PrivateKey, n)
	for i := range keys {
		seed := sha256.Sum256([]byte{byte(i), 'd', 'b', 'f', 't'})
		k, err := crypto.NewPrivateKeyFromBytes(seed[:])
		require.NoError(t, err)
		keys[i] = k
	}
	return keys
}

func testConfig(t *testing.T, keys []*crypto.PrivateKey) *params.ProtocolConfiguration {
	cfg := params.Default()
	cfg.Magic = params.UnitTestMagic
	cfg.ValidatorsCount = len(keys)
	for _, k := range keys {
		cfg.StandbyCommittee = append(cfg.StandbyCommittee, hex.EncodeToString(k.PublicKey().Bytes()))
	}
	return cfg
}

// cluster wires N validators with direct payload delivery.
type cluster struct {
	chains   []*core.Blockchain
	services []*Service
	mu       sync.Mutex
}

func newCluster(t *testing.T, keys []*crypto.PrivateKey, msPerBlock uint64, silent map[int]bool) *cluster {
	cfg := testConfig(t, keys)
	c := &cluster{}
	for range keys {
		bc, err := core.NewBlockchain(storage.NewMemoryStore(), cfg, zaptest.NewLogger(t))
		require.NoError(t, err)
		c.chains = append(c.chains, bc)
	}
	for i, k := range keys {
		if silent[i] {
			c.services = append(c.services, nil)
			continue
		}
		i := i
		svc, err := New(Config{
			Logger:     zaptest.NewLogger(t),
			Chain:      c.chains[i],
			Key:        k,
			Magic:      cfg.Magic,
			MSPerBlock: msPerBlock,
			Broadcast:  c.broadcast,
		})
		require.NoError(t, err)
		c.services = append(c.services, svc)
	}
	return c
}

// broadcast relays a payload to every running service and mirrors committed
// blocks across chains as a network layer would.
func (c *cluster) broadcast(p *types.ExtensiblePayload) {
	c.mu.Lock()
	services := append([]*Service(nil), c.services...)
	c.mu.Unlock()
	for _, s := range services {
		if s != nil {
			s.SubmitPayload(p)
		}
	}
}

func (c *cluster) start(t *testing.T) {
	for _, s := range c.services {
		if s != nil {
			require.NoError(t, s.Start())
		}
	}
	t.Cleanup(func() {
		for _, s := range c.services {
			if s != nil {
				s.Shutdown()
			}
		}
	})
}

func (c *cluster) syncBlocks() {
	// Propagate any block one chain has that another lacks.
	var best *core.Blockchain
	for _, bc := range c.chains {
		if best == nil || bc.BlockHeight() > best.BlockHeight() {
			best = bc
		}
	}
	for _, bc := range c.chains {
		for bc.BlockHeight() < best.BlockHeight() {
			hash, err := best.GetBlockHash(bc.BlockHeight() + 1)
			if err != nil {
				return
			}
			b, err := best.GetBlock(hash)
			if err != nil {
				return
			}
			if err := bc.AddBlock(b); err != nil {
				return
			}
			for _, s := range c.services {
				if s != nil {
					s.NotifyBlock(b.Index)
				}
			}
		}
	}
}

func TestMessageRoundTrip(t *testing.T) {
	msgs := []*Message{
		{Type: PrepareRequestType, BlockIndex: 5, ValidatorIndex: 1, PrepareRequest: &PrepareRequest{
			Timestamp: 1234, Nonce: 99,
		}},
		{Type: PrepareResponseType, BlockIndex: 5, ViewNumber: 1, PrepareResponse: &PrepareResponse{}},
		{Type: CommitType, BlockIndex: 5, Commit: &Commit{}},
		{Type: ChangeViewType, BlockIndex: 5, ChangeView: &ChangeView{NewViewNumber: 2, Reason: CVTimeout}},
		{Type: RecoveryRequestType, BlockIndex: 5},
		{Type: RecoveryMessageType, BlockIndex: 5, Recovery: &RecoveryMessage{
			PrepareRequest: &PrepareRequest{Timestamp: 9},
			Commits:        []CommitCompact{{ViewNumber: 0, ValidatorIndex: 3}},
		}},
	}
	for _, m := range msgs {
		data, err := wire.ToBytes(m)
		require.NoError(t, err)
		var got Message
		require.NoError(t, wire.FromBytes(data, &got))
		require.Equal(t, m.Type, got.Type)
		require.Equal(t, m.BlockIndex, got.BlockIndex)
	}
}

func TestQuorumArithmetic(t *testing.T) {
	for _, tc := range []struct{ n, m, f int }{
		{4, 3, 1}, {7, 5, 2}, {1, 1, 0},
	} {
		ctx := newRoundContext(1, 0, make([]*crypto.PublicKey, tc.n), 0)
		require.Equal(t, tc.m, ctx.M())
		require.Equal(t, tc.f, ctx.F())
	}
}

func TestPrimaryRotation(t *testing.T) {
	validators := make([]*crypto.PublicKey, 4)
	// Height 10 view 0 → primary 2; each view change walks backwards.
	require.Equal(t, 2, newRoundContext(10, 0, validators, 0).primaryIndex())
	require.Equal(t, 1, newRoundContext(10, 1, validators, 0).primaryIndex())
	require.Equal(t, 0, newRoundContext(10, 2, validators, 0).primaryIndex())
	require.Equal(t, 3, newRoundContext(10, 3, validators, 0).primaryIndex())
}

func TestConsensusProducesBlock(t *testing.T) {
	keys := testKeys(t, 4)
	c := newCluster(t, keys, 150, nil)
	c.start(t)

	require.Eventually(t, func() bool {
		c.syncBlocks()
		for _, bc := range c.chains {
			if bc.BlockHeight() < 1 {
				return false
			}
		}
		return true
	}, 15*time.Second, 50*time.Millisecond)

	// All chains agree on the block.
	h := c.chains[0].CurrentBlockHash()
	for _, bc := range c.chains[1:] {
		require.Equal(t, h, bc.CurrentBlockHash())
	}
}

func TestViewChangeOnSilentPrimary(t *testing.T) {
	keys := testKeys(t, 4)
	// Height 1 view 0 primary is (1-0)%4 = 1; keep it silent.
	c := newCluster(t, keys, 150, map[int]bool{1: true})
	c.start(t)

	require.Eventually(t, func() bool {
		c.syncBlocks()
		live := 0
		for i, bc := range c.chains {
			if i == 1 {
				continue
			}
			if bc.BlockHeight() >= 1 {
				live++
			}
		}
		return live == 3
	}, 30*time.Second, 50*time.Millisecond)

	// The accepted block names the view-1 primary: (1-1)%4 = 0.
	hash, err := c.chains[0].GetBlockHash(1)
	require.NoError(t, err)
	b, err := c.chains[0].GetBlock(hash)
	require.NoError(t, err)
	require.Equal(t, byte(0), b.PrimaryIndex)
}
