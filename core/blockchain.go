// Package core implements the ledger: genesis construction, block admission
// and the atomic persist pipeline, fork detection with undo-log
// reorganization, and transaction verification against chain state.
package core

import (
	"errors"
	"fmt"
	"math/big"
	"sync"
	"sync/atomic"

	lru "github.com/hashicorp/golang-lru"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/gneo-network/gneo/common"
	"github.com/gneo-network/gneo/core/dao"
	"github.com/gneo-network/gneo/core/interop"
	"github.com/gneo-network/gneo/core/mempool"
	"github.com/gneo-network/gneo/core/native"
	"github.com/gneo-network/gneo/core/state"
	"github.com/gneo-network/gneo/core/types"
	"github.com/gneo-network/gneo/crypto"
	"github.com/gneo-network/gneo/mpt"
	"github.com/gneo-network/gneo/params"
	"github.com/gneo-network/gneo/storage"
	"github.com/gneo-network/gneo/vm"
	"github.com/gneo-network/gneo/vm/callflag"
	"github.com/gneo-network/gneo/wire"
)

var (
	// ErrAlreadyExists marks a block or transaction the ledger has.
	ErrAlreadyExists = errors.New("core: already exists")
	// ErrOrphan marks a block whose parent is unknown.
	ErrOrphan = errors.New("core: orphan block")
	// ErrInvalidBlock marks a block failing header or body rules.
	ErrInvalidBlock = errors.New("core: invalid block")
	// ErrStorage wraps fatal storage failures; the head is untouched.
	ErrStorage = errors.New("core: storage failure")
)

// storagePrefixByte mirrors the DAO's contract-storage prefix for trie
// maintenance.
const storagePrefixByte = 0x70

var persistDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
	Namespace: "gneo",
	Name:      "block_persist_seconds",
	Help:      "Wall time of one block persist.",
})

var blockHeightGauge = prometheus.NewGauge(prometheus.GaugeOpts{
	Namespace: "gneo",
	Name:      "block_height",
	Help:      "Current committed height.",
})

func init() {
	prometheus.MustRegister(persistDuration, blockHeightGauge)
}

// Events are the ledger's outbound notifications; the orchestrator wires
// them to its bus. Dispatch is synchronous, in publication order.
type Events struct {
	// Committing fires inside the persist lock with the block's write
	// layer still open.
	Committing func(*types.Block, *dao.Simple)
	// Committed fires after the batch reaches storage.
	Committed func(*types.Block)
	Log       func(msg string, contract common.Uint160)
	Notify    func(state.NotificationEvent)
}

// Blockchain is the ledger. One writer owns the persist path; readers get
// layered snapshots without blocking it.
type Blockchain struct {
	cfg     *params.ProtocolConfiguration
	log     *zap.Logger
	store   storage.Store
	dao     *dao.Simple
	natives *native.Contracts
	pool    *mempool.Pool
	events  Events

	// writeLock serializes the whole persist pipeline.
	writeLock sync.Mutex
	height    atomic.Uint32

	blockCache *lru.Cache
	// sideBlocks holds competing-chain blocks by hash.
	sideBlocks map[common.Uint256]*types.Block
	// orphans maps a missing parent hash to blocks awaiting it.
	orphans map[common.Uint256][]*types.Block
}

// NewBlockchain opens (or creates) a chain over store.
func NewBlockchain(store storage.Store, cfg *params.ProtocolConfiguration, log *zap.Logger) (*Blockchain, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := storage.InitMarkers(store, cfg.Magic, false); err != nil {
		return nil, err
	}
	blockCache, _ := lru.New(params.HeaderCacheSize)
	bc := &Blockchain{
		cfg:        cfg,
		log:        log,
		store:      store,
		dao:        dao.NewSimple(store),
		natives:    native.NewContracts(),
		pool:       mempool.New(cfg.MemPoolSize),
		blockCache: blockCache,
		sideBlocks: make(map[common.Uint256]*types.Block),
		orphans:    make(map[common.Uint256][]*types.Block),
	}
	_, height, err := bc.dao.GetCurrentBlock()
	switch {
	case errors.Is(err, dao.ErrNotFound):
		if err := bc.initGenesis(); err != nil {
			return nil, err
		}
	case err != nil:
		return nil, err
	default:
		bc.height.Store(height)
		blockHeightGauge.Set(float64(height))
	}
	return bc, nil
}

// SetEvents installs the orchestrator's handlers before the node starts.
func (bc *Blockchain) SetEvents(e Events) {
	bc.events = e
}

// Mempool returns the chain's transaction pool.
func (bc *Blockchain) Mempool() *mempool.Pool {
	return bc.pool
}

// Natives returns the native contract set.
func (bc *Blockchain) Natives() *native.Contracts {
	return bc.natives
}

// Config returns the bound protocol configuration.
func (bc *Blockchain) Config() *params.ProtocolConfiguration {
	return bc.cfg
}

// GetSnapshot returns a read-only layered view of committed state for query
// services.
func (bc *Blockchain) GetSnapshot() *dao.Simple {
	return &dao.Simple{Store: storage.NewReadOnlyView(bc.dao.Store)}
}

// BlockHeight implements interop.Ledger.
func (bc *Blockchain) BlockHeight() uint32 {
	return bc.height.Load()
}

// CurrentBlockHash returns the head hash.
func (bc *Blockchain) CurrentBlockHash() common.Uint256 {
	h, _, err := bc.dao.GetCurrentBlock()
	if err != nil {
		return common.Uint256{}
	}
	return h
}

// GetBlockHash implements interop.Ledger.
func (bc *Blockchain) GetBlockHash(index uint32) (common.Uint256, error) {
	return bc.dao.GetBlockHash(index)
}

// GetBlock implements interop.Ledger.
func (bc *Blockchain) GetBlock(hash common.Uint256) (*types.Block, error) {
	if cached, ok := bc.blockCache.Get(hash); ok {
		return cached.(*types.Block), nil
	}
	b, err := bc.dao.GetBlock(hash)
	if err != nil {
		return nil, err
	}
	bc.blockCache.Add(hash, b)
	return b, nil
}

// GetTransaction implements interop.Ledger.
func (bc *Blockchain) GetTransaction(hash common.Uint256) (*types.Transaction, uint32, error) {
	return bc.dao.GetTransaction(hash)
}

// GetNextBlockValidators returns the validator set for the next block.
func (bc *Blockchain) GetNextBlockValidators() ([]*crypto.PublicKey, error) {
	ic := bc.newInteropContext(state.TriggerApplication, bc.dao, nil, nil)
	return bc.natives.NEO.NextBlockValidators(ic)
}

// MaxTransactionsPerBlock returns the policy cap for candidate assembly.
func (bc *Blockchain) MaxTransactionsPerBlock() int {
	ic := bc.newInteropContext(state.TriggerApplication, bc.dao, nil, nil)
	return int(bc.natives.Policy.MaxTransactionsPerBlock(ic))
}

// InvokeScript runs a script against a throwaway layer over committed state
// and returns the finished machine. Nothing persists; read services use this
// for test invocations.
func (bc *Blockchain) InvokeScript(script []byte, gasLimit int64) (*vm.VM, error) {
	head, err := bc.GetBlock(bc.CurrentBlockHash())
	if err != nil {
		return nil, err
	}
	ic := bc.newInteropContext(state.TriggerApplication, bc.dao.GetWrapped(), head, nil)
	v := ic.SpawnVM()
	v.GasLimit = gasLimit
	v.LoadWithFlags(script, callflag.All)
	err = v.Run()
	return v, err
}

// GetUtilityBalance reads an account's GAS balance from committed state.
func (bc *Blockchain) GetUtilityBalance(acc common.Uint160) *big.Int {
	ic := bc.newInteropContext(state.TriggerApplication, bc.dao, nil, nil)
	return bc.natives.GAS.BalanceOf(ic, acc)
}

// GetGoverningBalance reads an account's NEO balance from committed state.
func (bc *Blockchain) GetGoverningBalance(acc common.Uint160) *big.Int {
	ic := bc.newInteropContext(state.TriggerApplication, bc.dao, nil, nil)
	return bc.natives.NEO.BalanceOf(ic, acc)
}

// GetAppExecResult returns the stored execution log for a container hash.
func (bc *Blockchain) GetAppExecResult(h common.Uint256, trig state.Trigger) (*state.AppExecResult, error) {
	return bc.dao.GetAppExecResult(h, trig)
}

// FeePerByte returns the current policy fee floor per byte.
func (bc *Blockchain) FeePerByte() int64 {
	ic := bc.newInteropContext(state.TriggerApplication, bc.dao, nil, nil)
	return bc.natives.Policy.FeePerByte(ic)
}

// GetStateRoot returns the trie root recorded for height.
func (bc *Blockchain) GetStateRoot(index uint32) (common.Uint256, error) {
	return bc.dao.GetStateRoot(index)
}

// ProveStorage returns an inclusion proof for a contract storage key under
// the given state root.
func (bc *Blockchain) ProveStorage(root common.Uint256, key []byte) ([][]byte, error) {
	tr := mpt.NewTrie(root, storage.NewMemCachedStore(bc.dao.Store))
	return tr.Prove(key)
}

// --- genesis ---

func (bc *Blockchain) initGenesis() error {
	genesis, err := createGenesisBlock(bc.cfg)
	if err != nil {
		return err
	}
	bc.log.Info("initializing chain from genesis",
		zap.String("hash", genesis.Hash().String()),
		zap.Uint32("magic", bc.cfg.Magic))
	return bc.storeBlock(genesis, true)
}

// --- block admission ---

// AddBlock validates and persists a block, handling forks and orphans.
func (bc *Blockchain) AddBlock(b *types.Block) error {
	bc.writeLock.Lock()
	defer bc.writeLock.Unlock()
	return bc.addBlockLocked(b)
}

func (bc *Blockchain) addBlockLocked(b *types.Block) error {
	height := bc.height.Load()
	if b.Index <= height {
		if known, err := bc.dao.GetBlockHash(b.Index); err == nil && known.Equals(b.Hash()) {
			return ErrAlreadyExists
		}
	}
	if err := bc.verifyBlockBody(b); err != nil {
		return err
	}
	headHash := bc.CurrentBlockHash()
	switch {
	case b.PrevHash.Equals(headHash) && b.Index == height+1:
		if err := bc.verifyHeaderAgainstParent(&b.Header); err != nil {
			return err
		}
		if err := bc.storeBlock(b, false); err != nil {
			return err
		}
		bc.processOrphansOf(b.Hash())
		return nil
	case bc.knownSideParent(b):
		bc.sideBlocks[b.Hash()] = b
		return bc.maybeReorg(b)
	default:
		return bc.addOrphan(b)
	}
}

func (bc *Blockchain) verifyBlockBody(b *types.Block) error {
	if err := b.CheckMerkleRoot(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidBlock, err)
	}
	ic := bc.newInteropContext(state.TriggerApplication, bc.dao, nil, nil)
	if n := int64(len(b.Transactions)); n > bc.natives.Policy.MaxTransactionsPerBlock(ic) {
		return fmt.Errorf("%w: %d transactions", ErrInvalidBlock, n)
	}
	if size := wire.SerializedSize(b); int64(size) > bc.natives.Policy.MaxBlockSize(ic) {
		return fmt.Errorf("%w: %d bytes", ErrInvalidBlock, size)
	}
	var sysFees int64
	for _, tx := range b.Transactions {
		sysFees += tx.SystemFee
	}
	if sysFees > bc.natives.Policy.MaxBlockSystemFee(ic) {
		return fmt.Errorf("%w: system fee sum %d", ErrInvalidBlock, sysFees)
	}
	// Re-validate every transaction against current state: expiry, novelty
	// and witnesses. Fee floors were the pool's concern; inclusion binds
	// the block producer.
	for _, tx := range b.Transactions {
		if tx.ValidUntilBlock < b.Index {
			return fmt.Errorf("%w: transaction %s expired", ErrInvalidBlock, tx.Hash())
		}
		if bc.dao.HasTransaction(tx.Hash()) {
			return fmt.Errorf("%w: transaction %s already persisted", ErrInvalidBlock, tx.Hash())
		}
		if bc.dao.HasConflictRecord(tx.Hash()) {
			return fmt.Errorf("%w: transaction %s conflicted", ErrInvalidBlock, tx.Hash())
		}
		for i := range tx.Signers {
			if _, err := bc.verifyTxWitness(tx, i); err != nil {
				return fmt.Errorf("%w: %v", ErrInvalidBlock, err)
			}
		}
	}
	return nil
}

func (bc *Blockchain) verifyHeaderAgainstParent(h *types.Header) error {
	parentHash, err := bc.dao.GetBlockHash(h.Index - 1)
	if err != nil {
		return fmt.Errorf("%w: no parent at %d", ErrOrphan, h.Index-1)
	}
	if !h.PrevHash.Equals(parentHash) {
		return fmt.Errorf("%w: prev hash mismatch", ErrInvalidBlock)
	}
	parent, err := bc.GetBlock(parentHash)
	if err != nil {
		return err
	}
	if h.Timestamp <= parent.Timestamp {
		return fmt.Errorf("%w: timestamp not after parent", ErrInvalidBlock)
	}
	// The block witness must stand for the parent's consensus commitment.
	if !h.Witness.ScriptHash().Equals(parent.NextConsensus) {
		return fmt.Errorf("%w: witness does not match next consensus", ErrInvalidBlock)
	}
	if _, err := bc.verifyWitness(parent.NextConsensus, h.Hash(), &h.Witness, params.GASFactor); err != nil {
		return fmt.Errorf("%w: block witness: %v", ErrInvalidBlock, err)
	}
	return nil
}

// --- persist pipeline ---

func (bc *Blockchain) storeBlock(b *types.Block, genesis bool) error {
	timer := prometheus.NewTimer(persistDuration)
	defer timer.ObserveDuration()

	blockDAO := bc.dao.GetWrapped()

	var prevRoot common.Uint256
	if !genesis {
		root, err := bc.dao.GetStateRoot(b.Index - 1)
		if err != nil {
			return fmt.Errorf("%w: missing parent state root: %v", ErrStorage, err)
		}
		prevRoot = root
	}

	ic := bc.newInteropContext(state.TriggerOnPersist, blockDAO, b, nil)
	ic.SpawnVM()
	if genesis {
		for _, n := range bc.natives.All {
			if init, ok := n.(interface {
				Initialize(*interop.Context) error
			}); ok {
				if err := init.Initialize(ic); err != nil {
					return fmt.Errorf("%w: genesis init: %v", ErrInvalidBlock, err)
				}
			}
		}
	}
	for _, n := range bc.natives.All {
		if err := n.OnPersist(ic); err != nil {
			return fmt.Errorf("%w: OnPersist %s: %v", ErrInvalidBlock, n.Metadata().Name, err)
		}
	}
	bc.drainNotifications(ic, b.Hash(), state.TriggerOnPersist, blockDAO)

	// Transactions execute in index order against nested write layers.
	for _, tx := range b.Transactions {
		if err := bc.executeTransaction(blockDAO, b, tx); err != nil {
			return err
		}
	}

	post := bc.newInteropContext(state.TriggerPostPersist, blockDAO, b, nil)
	post.SpawnVM()
	for _, n := range bc.natives.All {
		if err := n.PostPersist(post); err != nil {
			return fmt.Errorf("%w: PostPersist %s: %v", ErrInvalidBlock, n.Metadata().Name, err)
		}
	}
	bc.drainNotifications(post, b.Hash(), state.TriggerPostPersist, blockDAO)

	// Record the block itself inside the same write layer so one undo log
	// reverses everything.
	if err := blockDAO.StoreBlock(b); err != nil {
		return fmt.Errorf("%w: %v", ErrStorage, err)
	}
	for _, tx := range b.Transactions {
		if err := blockDAO.StoreTransaction(tx, b.Index); err != nil {
			return fmt.Errorf("%w: %v", ErrStorage, err)
		}
		for _, c := range tx.Conflicts() {
			if err := blockDAO.AddConflictRecord(c, tx.Hash(), b.Index); err != nil {
				return fmt.Errorf("%w: %v", ErrStorage, err)
			}
		}
	}

	// Fold the block's storage writes into the state trie.
	root, err := bc.updateTrie(blockDAO, prevRoot)
	if err != nil {
		return fmt.Errorf("%w: trie: %v", ErrStorage, err)
	}
	if err := blockDAO.PutStateRoot(b.Index, root); err != nil {
		return fmt.Errorf("%w: %v", ErrStorage, err)
	}
	if err := blockDAO.PutCurrentBlock(b.Hash(), b.Index); err != nil {
		return fmt.Errorf("%w: %v", ErrStorage, err)
	}

	if bc.events.Committing != nil {
		bc.events.Committing(b, blockDAO)
	}

	undo := blockDAO.BuildUndoLog(bc.dao.Store)
	if _, err := blockDAO.Persist(); err != nil {
		return fmt.Errorf("%w: %v", ErrStorage, err)
	}
	if err := bc.dao.PutUndoLog(b.Index, undo); err != nil {
		return fmt.Errorf("%w: %v", ErrStorage, err)
	}
	if _, err := bc.dao.Persist(); err != nil {
		return fmt.Errorf("%w: %v", ErrStorage, err)
	}

	bc.height.Store(b.Index)
	blockHeightGauge.Set(float64(b.Index))
	bc.blockCache.Add(b.Hash(), b)

	// Pool maintenance: inclusion, expiry and conflicts with this block.
	bc.pool.RemoveStale(func(tx *types.Transaction) bool {
		if bc.dao.HasTransaction(tx.Hash()) {
			return false
		}
		if tx.ValidUntilBlock <= b.Index {
			return false
		}
		return !bc.dao.HasConflictRecord(tx.Hash())
	}, mempool.RemovalIncludedInBlock)

	if bc.events.Committed != nil {
		bc.events.Committed(b)
	}
	bc.log.Info("persisted block",
		zap.Uint32("index", b.Index),
		zap.String("hash", b.Hash().String()),
		zap.Int("txs", len(b.Transactions)))
	return nil
}

// executeTransaction runs one transaction under the Application trigger with
// its system fee as the gas limit.
func (bc *Blockchain) executeTransaction(blockDAO *dao.Simple, b *types.Block, tx *types.Transaction) error {
	txDAO := blockDAO.GetWrapped()
	ic := bc.newInteropContext(state.TriggerApplication, txDAO, b, tx)
	v := ic.SpawnVM()
	v.GasLimit = tx.SystemFee
	v.LoadWithFlags(tx.Script, callflag.All)
	err := v.Run()

	aer := &state.AppExecResult{
		Container:   tx.Hash(),
		Trigger:     state.TriggerApplication,
		VMState:     v.State(),
		GasConsumed: v.GasConsumed(),
	}
	if err == nil && v.State() == vm.HaltState {
		aer.Events = ic.Notifications
		for _, e := range ic.Notifications {
			if bc.events.Notify != nil {
				bc.events.Notify(e)
			}
		}
		if _, perr := txDAO.Persist(); perr != nil {
			return fmt.Errorf("%w: %v", ErrStorage, perr)
		}
	} else {
		// The delta dies; fees were already burned in OnPersist.
		aer.FaultException = fmt.Sprint(err)
		bc.log.Debug("transaction faulted",
			zap.String("hash", tx.Hash().String()),
			zap.Error(err))
	}
	return blockDAO.PutAppExecResult(aer)
}

func (bc *Blockchain) drainNotifications(ic *interop.Context, container common.Uint256, trig state.Trigger, d *dao.Simple) {
	if len(ic.Notifications) == 0 {
		return
	}
	for _, e := range ic.Notifications {
		if bc.events.Notify != nil {
			bc.events.Notify(e)
		}
	}
	_ = d.PutAppExecResult(&state.AppExecResult{
		Container: container,
		Trigger:   trig,
		VMState:   vm.HaltState,
		Events:    ic.Notifications,
	})
}

// updateTrie folds every contract-storage change of the pending layer into
// the trie and returns the new root.
func (bc *Blockchain) updateTrie(blockDAO *dao.Simple, prevRoot common.Uint256) (common.Uint256, error) {
	tr := mpt.NewTrie(prevRoot, blockDAO.Store)
	batch := blockDAO.Store.GetBatch()
	for _, kv := range batch.Put {
		if len(kv.Key) > 0 && kv.Key[0] == storagePrefixByte {
			if err := tr.Put(kv.Key, kv.Value); err != nil {
				return common.Uint256{}, err
			}
		}
	}
	for _, k := range batch.Deleted {
		if len(k) > 0 && k[0] == storagePrefixByte {
			if err := tr.Delete(k); err != nil {
				return common.Uint256{}, err
			}
		}
	}
	if err := tr.Flush(); err != nil {
		return common.Uint256{}, err
	}
	return tr.StateRoot(), nil
}

// newInteropContext builds an execution context over the given layer.
func (bc *Blockchain) newInteropContext(trig state.Trigger, d *dao.Simple, b *types.Block, tx *types.Transaction) *interop.Context {
	ic := &interop.Context{
		Chain:   bc,
		Cfg:     bc.cfg,
		Trigger: trig,
		Block:   b,
		Tx:      tx,
		DAO:     d,
		Natives: bc.natives.All,
	}
	ic.Log = func(msg string, contract common.Uint160) {
		if bc.events.Log != nil {
			bc.events.Log(msg, contract)
		}
	}
	ic.GetContract = func(h common.Uint160) (*state.Contract, error) {
		return bc.natives.Management.GetContract(ic, h)
	}
	ic.ExecFeeFactor = bc.natives.Policy.ExecFeeFactor(ic)
	ic.StoragePrice = bc.natives.Policy.StoragePrice(ic)
	return ic
}
