// Package node is the orchestrator: it opens storage, wires the ledger,
// mempool and consensus together, owns the event bus, and exposes committed
// snapshots to external read services.
package node

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/gneo-network/gneo/common"
	"github.com/gneo-network/gneo/consensus/dbft"
	"github.com/gneo-network/gneo/core"
	"github.com/gneo-network/gneo/core/dao"
	"github.com/gneo-network/gneo/core/mempool"
	"github.com/gneo-network/gneo/core/state"
	"github.com/gneo-network/gneo/core/types"
	"github.com/gneo-network/gneo/crypto"
	"github.com/gneo-network/gneo/params"
	"github.com/gneo-network/gneo/storage"
)

// Storage backends accepted by Options.Backend.
const (
	BackendLevelDB = "leveldb"
	BackendBoltDB  = "boltdb"
	BackendMemory  = "memory"
)

var (
	// ErrBadStoragePath is returned when the data directory is unusable.
	ErrBadStoragePath = errors.New("node: storage path is not a directory")
)

// Options configure a node.
type Options struct {
	Config  *params.ProtocolConfiguration
	DataDir string
	Backend string
	// ConsensusKey enables block production when the key belongs to a
	// validator.
	ConsensusKey *crypto.PrivateKey
	Logger       *zap.Logger
	// RelayPayload sends consensus payloads to the network layer.
	RelayPayload func(*types.ExtensiblePayload)
}

// Node owns every subsystem. Subsystems reach back only through the event
// bus; a stopped node drops those calls instead of panicking.
type Node struct {
	opts  Options
	log   *zap.Logger
	store storage.Store
	chain *core.Blockchain
	cons  *dbft.Service
	bus   *EventBus

	stopped chan struct{}
}

// New constructs and wires a node without starting background work.
func New(opts Options) (*Node, error) {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Config == nil {
		return nil, params.ErrInvalidConfig
	}
	store, err := openStore(opts)
	if err != nil {
		return nil, err
	}
	n := &Node{
		opts:    opts,
		log:     opts.Logger,
		store:   store,
		bus:     NewEventBus(opts.Logger),
		stopped: make(chan struct{}),
	}
	chain, err := core.NewBlockchain(store, opts.Config, opts.Logger.Named("core"))
	if err != nil {
		store.Close()
		return nil, err
	}
	n.chain = chain

	chain.SetEvents(core.Events{
		Committing: func(b *types.Block, snap *dao.Simple) {
			n.publish(BlockCommitting{Block: b, Snapshot: snap})
		},
		Committed: func(b *types.Block) {
			n.publish(BlockCommitted{Block: b})
			if n.cons != nil {
				n.cons.NotifyBlock(b.Index)
			}
		},
		Log: func(msg string, contract common.Uint160) {
			n.publish(ContractLog{Contract: contract, Message: msg})
		},
		Notify: func(e state.NotificationEvent) {
			n.publish(ContractNotify{Event: e})
		},
	})
	chain.Mempool().OnRemoved = func(tx *types.Transaction, reason mempool.RemovalReason) {
		n.publish(TxRemoved{Tx: tx, Reason: reason})
	}

	if opts.ConsensusKey != nil {
		cons, err := dbft.New(dbft.Config{
			Logger:     opts.Logger,
			Chain:      chain,
			Key:        opts.ConsensusKey,
			Magic:      opts.Config.Magic,
			MSPerBlock: opts.Config.MSPerBlock,
			Broadcast: func(p *types.ExtensiblePayload) {
				if opts.RelayPayload != nil {
					opts.RelayPayload(p)
				}
			},
		})
		if err != nil {
			store.Close()
			return nil, err
		}
		n.cons = cons
	}
	return n, nil
}

func openStore(opts Options) (storage.Store, error) {
	switch opts.Backend {
	case BackendMemory, "":
		return storage.NewMemoryStore(), nil
	case BackendLevelDB:
		if err := checkDataDir(opts.DataDir); err != nil {
			return nil, err
		}
		return storage.NewLevelDBStore(filepath.Join(opts.DataDir, "chain"))
	case BackendBoltDB:
		if err := checkDataDir(opts.DataDir); err != nil {
			return nil, err
		}
		return storage.NewBoltDBStore(filepath.Join(opts.DataDir, "chain.bolt"))
	default:
		return nil, fmt.Errorf("%w: unknown backend %q", params.ErrInvalidConfig, opts.Backend)
	}
}

func checkDataDir(dir string) error {
	if dir == "" {
		return fmt.Errorf("%w: empty data directory", ErrBadStoragePath)
	}
	info, err := os.Stat(dir)
	switch {
	case errors.Is(err, os.ErrNotExist):
		return os.MkdirAll(dir, 0o700)
	case err != nil:
		return err
	case !info.IsDir():
		return fmt.Errorf("%w: %s", ErrBadStoragePath, dir)
	}
	return nil
}

// Chain returns the ledger.
func (n *Node) Chain() *core.Blockchain {
	return n.chain
}

// Bus returns the event bus for startup-time subscription.
func (n *Node) Bus() *EventBus {
	return n.bus
}

// Snapshot returns an immutable view at the latest committed height for
// read-only query services.
func (n *Node) Snapshot() *dao.Simple {
	return n.chain.GetSnapshot()
}

// SubmitTransaction verifies and pools an externally received transaction.
func (n *Node) SubmitTransaction(tx *types.Transaction) error {
	if err := n.chain.PoolTx(tx); err != nil {
		return err
	}
	n.publish(TxAdded{Tx: tx})
	return nil
}

// SubmitBlock feeds an externally received block into the ledger.
func (n *Node) SubmitBlock(b *types.Block) error {
	return n.chain.AddBlock(b)
}

// SubmitConsensusPayload routes a dBFT payload to the consensus actor.
func (n *Node) SubmitConsensusPayload(p *types.ExtensiblePayload) {
	if n.cons != nil {
		n.cons.SubmitPayload(p)
	}
}

// Start launches background services and blocks until ctx is done.
func (n *Node) Start(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	if n.cons != nil {
		if err := n.cons.Start(); err != nil {
			return err
		}
	}
	g.Go(func() error {
		<-ctx.Done()
		n.shutdown()
		return ctx.Err()
	})
	n.log.Info("node started",
		zap.Uint32("magic", n.opts.Config.Magic),
		zap.Uint32("height", n.chain.BlockHeight()),
		zap.Bool("consensus", n.cons != nil))
	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (n *Node) shutdown() {
	select {
	case <-n.stopped:
		return
	default:
	}
	close(n.stopped)
	if n.cons != nil {
		n.cons.Shutdown()
	}
	if err := n.store.Close(); err != nil {
		n.log.Error("storage close failed", zap.Error(err))
	}
	n.log.Info("node stopped")
}

// publish drops events once the node stopped instead of dispatching into
// torn-down subsystems.
func (n *Node) publish(e Event) {
	select {
	case <-n.stopped:
		return
	default:
	}
	n.bus.Publish(e)
}
