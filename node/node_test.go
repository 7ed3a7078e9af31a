package node_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/gneo-network/gneo/common"
	"github.com/gneo-network/gneo/internal/testchain"
	"github.com/gneo-network/gneo/node"
)

func newTestNode(t *testing.T) *node.Node {
	n, err := node.New(node.Options{
		Config:  testchain.Config(t),
		Backend: node.BackendMemory,
		Logger:  zaptest.NewLogger(t),
	})
	require.NoError(t, err)
	return n
}

func TestNodeRejectsBadConfig(t *testing.T) {
	_, err := node.New(node.Options{Logger: zaptest.NewLogger(t)})
	require.Error(t, err)

	cfg := testchain.Config(t)
	cfg.ValidatorsCount = 0
	_, err = node.New(node.Options{Config: cfg, Backend: node.BackendMemory, Logger: zaptest.NewLogger(t)})
	require.Error(t, err)

	_, err = node.New(node.Options{Config: testchain.Config(t), Backend: "tape", Logger: zaptest.NewLogger(t)})
	require.Error(t, err)
}

func TestEventOrdering(t *testing.T) {
	n := newTestNode(t)
	var order []string
	n.Bus().Subscribe(func(e node.Event) error {
		switch e.(type) {
		case node.BlockCommitting:
			order = append(order, "committing")
		case node.BlockCommitted:
			order = append(order, "committed")
		case node.TxAdded:
			order = append(order, "tx-added")
		}
		return nil
	})

	bc := n.Chain()
	neoHash := bc.Natives().NEO.Metadata().Hash
	tx := testchain.NewTransferTx(t, bc, neoHash, common.Uint160{9}, 1)
	require.NoError(t, n.SubmitTransaction(tx))
	require.Equal(t, []string{"tx-added"}, order)

	block := testchain.NewBlock(t, bc, tx)
	require.NoError(t, n.SubmitBlock(block))

	// Committing precedes Committed; the mempool removal lands between.
	require.Equal(t, "committing", order[1])
	require.Equal(t, "committed", order[len(order)-1])
	require.Zero(t, bc.Mempool().Count())
}

func TestSnapshotProviderReadsCommittedState(t *testing.T) {
	n := newTestNode(t)
	snap := n.Snapshot()
	// The snapshot exposes the genesis head pointer read-only.
	_, height, err := snap.GetCurrentBlock()
	require.NoError(t, err)
	require.Equal(t, uint32(0), height)
	require.Error(t, snap.Store.Put([]byte("x"), []byte("y")))
}

func TestStartStop(t *testing.T) {
	n := newTestNode(t)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- n.Start(ctx) }()
	time.Sleep(50 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("node did not stop")
	}
}
