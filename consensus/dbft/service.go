package dbft

import (
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/gneo-network/gneo/common"
	"github.com/gneo-network/gneo/core/mempool"
	"github.com/gneo-network/gneo/core/types"
	"github.com/gneo-network/gneo/crypto"
	"github.com/gneo-network/gneo/vm/emit"
	"github.com/gneo-network/gneo/vm/opcode"
	"github.com/gneo-network/gneo/wire"
)

// maxTimerShift caps exponential view-timer growth.
const maxTimerShift = 6

// Ledger is what consensus needs from the chain.
type Ledger interface {
	BlockHeight() uint32
	CurrentBlockHash() common.Uint256
	GetBlock(common.Uint256) (*types.Block, error)
	AddBlock(*types.Block) error
	Mempool() *mempool.Pool
	GetNextBlockValidators() ([]*crypto.PublicKey, error)
	MaxTransactionsPerBlock() int
}

// Config parameterizes the consensus service.
type Config struct {
	Logger    *zap.Logger
	Chain     Ledger
	Key       *crypto.PrivateKey
	Magic     uint32
	MSPerBlock uint64
	// Broadcast relays a consensus payload to peers.
	Broadcast func(*types.ExtensiblePayload)
	// OnBlock observes blocks this service relayed into the ledger.
	OnBlock func(*types.Block)
}

// Service is the consensus actor. All state transitions happen on the Run
// goroutine; the inbox carries payloads and block notifications.
type Service struct {
	cfg Config
	log *zap.Logger

	messages  chan *types.ExtensiblePayload
	persisted chan uint32
	quit      chan struct{}

	timer     *time.Timer
	timerView byte

	ctx *roundContext
}

// New builds a consensus service; Start launches it.
func New(cfg Config) (*Service, error) {
	if cfg.Chain == nil || cfg.Logger == nil {
		return nil, errors.New("dbft: missing chain or logger")
	}
	return &Service{
		cfg:       cfg,
		log:       cfg.Logger.Named("dbft"),
		messages:  make(chan *types.ExtensiblePayload, 128),
		persisted: make(chan uint32, 8),
		quit:      make(chan struct{}),
	}, nil
}

// Start launches the actor goroutine.
func (s *Service) Start() error {
	if err := s.initRound(); err != nil {
		return err
	}
	go s.run()
	return nil
}

// Shutdown stops the actor.
func (s *Service) Shutdown() {
	close(s.quit)
}

// SubmitPayload feeds an incoming consensus payload into the inbox.
func (s *Service) SubmitPayload(p *types.ExtensiblePayload) {
	select {
	case s.messages <- p:
	default:
		s.log.Warn("consensus inbox full, dropping payload")
	}
}

// NotifyBlock tells the actor a block was committed (locally or elsewhere).
func (s *Service) NotifyBlock(height uint32) {
	select {
	case s.persisted <- height:
	default:
	}
}

func (s *Service) run() {
	for {
		select {
		case <-s.quit:
			if s.timer != nil {
				s.timer.Stop()
			}
			return
		case p := <-s.messages:
			s.handlePayload(p)
		case height := <-s.persisted:
			if height >= s.ctx.height {
				if err := s.initRound(); err != nil {
					s.log.Error("round init failed", zap.Error(err))
				}
			}
		case <-s.timerC():
			s.onTimeout()
		}
	}
}

func (s *Service) timerC() <-chan time.Time {
	if s.timer == nil {
		return nil
	}
	return s.timer.C
}

// initRound resets consensus state for the next height at view 0.
func (s *Service) initRound() error {
	validators, err := s.cfg.Chain.GetNextBlockValidators()
	if err != nil {
		return err
	}
	height := s.cfg.Chain.BlockHeight() + 1
	myIndex := -1
	if s.cfg.Key != nil {
		mine := s.cfg.Key.PublicKey()
		for i, v := range validators {
			if v.Cmp(mine) == 0 {
				myIndex = i
			}
		}
	}
	s.ctx = newRoundContext(height, 0, validators, myIndex)
	s.resetTimer(0)
	s.log.Debug("round initialized",
		zap.Uint32("height", height),
		zap.Int("validators", len(validators)),
		zap.Int("my_index", myIndex))
	return nil
}

// resetTimer arms the view timer; the duration doubles per view, capped.
func (s *Service) resetTimer(view byte) {
	if s.timer != nil {
		s.timer.Stop()
	}
	shift := view
	if shift > maxTimerShift {
		shift = maxTimerShift
	}
	d := time.Duration(s.cfg.MSPerBlock<<shift) * time.Millisecond
	s.timer = time.NewTimer(d)
	s.timerView = view
}

func (s *Service) onTimeout() {
	ctx := s.ctx
	if ctx.myIndex < 0 || ctx.blockDone {
		return
	}
	if ctx.commitSent {
		// Locked: ask peers for recovery instead of changing view.
		s.send(&Message{Type: RecoveryRequestType})
		s.resetTimer(ctx.view + 1)
		return
	}
	if ctx.isPrimary() && ctx.request == nil {
		s.makePrepareRequest()
		s.resetTimer(ctx.view + 1)
		return
	}
	s.requestChangeView(CVTimeout)
}

func (s *Service) requestChangeView(reason byte) {
	ctx := s.ctx
	newView := ctx.view + 1
	ctx.changeViews[byte(ctx.myIndex)] = newView
	s.send(&Message{
		Type: ChangeViewType,
		ChangeView: &ChangeView{
			NewViewNumber: newView,
			Timestamp:     uint64(time.Now().UnixMilli()),
			Reason:        reason,
		},
	})
	s.resetTimer(newView)
	s.maybeMoveView(newView)
}

// --- proposal ---

func (s *Service) makePrepareRequest() {
	ctx := s.ctx
	txs := s.cfg.Chain.Mempool().GetVerified(s.cfg.Chain.MaxTransactionsPerBlock())
	hashes := make([]common.Uint256, len(txs))
	for i, tx := range txs {
		hashes[i] = tx.Hash()
	}
	parent, err := s.cfg.Chain.GetBlock(s.cfg.Chain.CurrentBlockHash())
	if err != nil {
		s.log.Error("no parent block", zap.Error(err))
		return
	}
	now := uint64(time.Now().UnixMilli())
	if now <= parent.Timestamp {
		now = parent.Timestamp + 1
	}
	var nonceBytes [8]byte
	_, _ = rand.Read(nonceBytes[:])
	ctx.request = &PrepareRequest{
		Timestamp:         now,
		Nonce:             binary.LittleEndian.Uint64(nonceBytes[:]),
		TransactionHashes: hashes,
	}
	ctx.proposedTxs = txs
	nextConsensus, err := crypto.BFTAddress(ctx.validators)
	if err != nil {
		s.log.Error("next consensus derivation failed", zap.Error(err))
		return
	}
	ctx.header = ctx.makeHeader(parent.Hash(), nextConsensus, txs)
	ctx.preparations[byte(ctx.myIndex)] = true
	s.send(&Message{Type: PrepareRequestType, PrepareRequest: ctx.request})
	s.checkPreparations()
}

// --- payload handling ---

func (s *Service) handlePayload(p *types.ExtensiblePayload) {
	if p.Category != Category {
		return
	}
	msg := new(Message)
	if err := wire.FromBytes(p.Data, msg); err != nil {
		s.log.Debug("bad consensus payload", zap.Error(err))
		return
	}
	ctx := s.ctx
	if msg.BlockIndex != ctx.height {
		return
	}
	if int(msg.ValidatorIndex) >= ctx.N() {
		return
	}
	sender := ctx.validators[msg.ValidatorIndex]
	if !p.Sender.Equals(sender.ScriptHash()) {
		return
	}
	sig, err := extractSignature(p.Witness.InvocationScript)
	if err != nil || !sender.VerifyHashable(s.cfg.Magic, p.Hash(), sig) {
		s.log.Debug("consensus payload with a bad witness",
			zap.Uint8("validator", msg.ValidatorIndex))
		return
	}
	if msg.ValidatorIndex == byte(ctx.myIndex) {
		return
	}

	switch msg.Type {
	case PrepareRequestType:
		s.onPrepareRequest(msg)
	case PrepareResponseType:
		s.onPrepareResponse(msg)
	case CommitType:
		s.onCommit(msg)
	case ChangeViewType:
		s.onChangeView(msg)
	case RecoveryRequestType:
		s.onRecoveryRequest(msg)
	case RecoveryMessageType:
		s.onRecoveryMessage(msg)
	}
}

func (s *Service) onPrepareRequest(msg *Message) {
	ctx := s.ctx
	if msg.ViewNumber != ctx.view || ctx.request != nil || ctx.blockDone {
		return
	}
	if int(msg.ValidatorIndex) != ctx.primaryIndex() {
		return
	}
	parent, err := s.cfg.Chain.GetBlock(s.cfg.Chain.CurrentBlockHash())
	if err != nil {
		return
	}
	req := msg.PrepareRequest
	if req.Timestamp <= parent.Timestamp {
		s.requestChangeView(CVTxInvalid)
		return
	}
	txs := make([]*types.Transaction, len(req.TransactionHashes))
	for i, h := range req.TransactionHashes {
		tx, ok := s.cfg.Chain.Mempool().TryGetValue(h)
		if !ok {
			// The proposal references a transaction this node lacks.
			s.requestChangeView(CVTxNotFound)
			return
		}
		txs[i] = tx
	}
	ctx.request = req
	ctx.proposedTxs = txs
	nextConsensus, err := crypto.BFTAddress(ctx.validators)
	if err != nil {
		return
	}
	ctx.header = ctx.makeHeader(parent.Hash(), nextConsensus, txs)
	ctx.preparations[msg.ValidatorIndex] = true
	if ctx.myIndex >= 0 {
		ctx.preparations[byte(ctx.myIndex)] = true
		s.send(&Message{
			Type:            PrepareResponseType,
			PrepareResponse: &PrepareResponse{PreparationHash: ctx.header.Hash()},
		})
	}
	s.checkPreparations()
}

func (s *Service) onPrepareResponse(msg *Message) {
	ctx := s.ctx
	if msg.ViewNumber != ctx.view || ctx.blockDone {
		return
	}
	if ctx.header != nil &&
		!msg.PrepareResponse.PreparationHash.Equals(ctx.header.Hash()) {
		return
	}
	ctx.preparations[msg.ValidatorIndex] = true
	s.checkPreparations()
}

func (s *Service) checkPreparations() {
	ctx := s.ctx
	if ctx.header == nil || ctx.commitSent || ctx.blockDone || ctx.myIndex < 0 {
		return
	}
	if ctx.countPreparations() < ctx.M() {
		return
	}
	sig, err := s.cfg.Key.SignHashable(s.cfg.Magic, ctx.header.Hash())
	if err != nil {
		s.log.Error("commit signing failed", zap.Error(err))
		return
	}
	var fixed [crypto.SignatureSize]byte
	copy(fixed[:], sig)
	ctx.commits[byte(ctx.myIndex)] = fixed
	ctx.commitSent = true
	s.send(&Message{Type: CommitType, Commit: &Commit{Signature: fixed}})
	s.checkCommits()
}

func (s *Service) onCommit(msg *Message) {
	ctx := s.ctx
	if msg.ViewNumber != ctx.view || ctx.blockDone {
		return
	}
	if ctx.header != nil {
		key := ctx.validators[msg.ValidatorIndex]
		if !key.VerifyHashable(s.cfg.Magic, ctx.header.Hash(), msg.Commit.Signature[:]) {
			s.log.Debug("commit with a bad signature",
				zap.Uint8("validator", msg.ValidatorIndex))
			return
		}
	}
	ctx.commits[msg.ValidatorIndex] = msg.Commit.Signature
	s.checkCommits()
}

func (s *Service) checkCommits() {
	ctx := s.ctx
	if ctx.header == nil || ctx.blockDone || ctx.countCommits() < ctx.M() {
		return
	}
	witness, err := ctx.makeWitness()
	if err != nil {
		s.log.Error("witness assembly failed", zap.Error(err))
		return
	}
	block := &types.Block{Header: *ctx.header, Transactions: ctx.proposedTxs}
	block.Witness = *witness
	block.Header.Witness = *witness
	if err := s.cfg.Chain.AddBlock(block); err != nil {
		s.log.Warn("ledger rejected consensus block", zap.Error(err))
		s.requestChangeView(CVBlockRejectedByPolicy)
		return
	}
	ctx.blockDone = true
	if s.cfg.OnBlock != nil {
		s.cfg.OnBlock(block)
	}
	s.NotifyBlock(block.Index)
}

func (s *Service) onChangeView(msg *Message) {
	ctx := s.ctx
	cv := msg.ChangeView
	if cv.NewViewNumber <= ctx.view {
		return
	}
	ctx.changeViews[msg.ValidatorIndex] = cv.NewViewNumber
	s.maybeMoveView(cv.NewViewNumber)
}

func (s *Service) maybeMoveView(newView byte) {
	ctx := s.ctx
	if ctx.blockDone || ctx.commitSent {
		return
	}
	if !ctx.enoughChangeViews(newView) {
		return
	}
	s.moveToView(newView)
}

func (s *Service) moveToView(newView byte) {
	old := s.ctx
	s.ctx = newRoundContext(old.height, newView, old.validators, old.myIndex)
	// Change-view votes for even higher views survive the transition.
	for idx, v := range old.changeViews {
		if v > newView {
			s.ctx.changeViews[idx] = v
		}
	}
	s.resetTimer(newView)
	s.log.Info("view changed",
		zap.Uint32("height", s.ctx.height),
		zap.Uint8("view", newView),
		zap.Int("primary", s.ctx.primaryIndex()))
}

// --- recovery ---

func (s *Service) onRecoveryRequest(msg *Message) {
	ctx := s.ctx
	if ctx.myIndex < 0 {
		return
	}
	rm := &RecoveryMessage{PrepareRequest: ctx.request}
	for idx, v := range ctx.changeViews {
		rm.ChangeViews = append(rm.ChangeViews, ChangeViewCompact{
			ValidatorIndex:     idx,
			OriginalViewNumber: v,
		})
	}
	for idx := range ctx.preparations {
		rm.PrepareResponses = append(rm.PrepareResponses, PreparationCompact{ValidatorIndex: idx})
	}
	for idx, sig := range ctx.commits {
		rm.Commits = append(rm.Commits, CommitCompact{
			ViewNumber:     ctx.view,
			ValidatorIndex: idx,
			Signature:      sig,
		})
	}
	s.send(&Message{Type: RecoveryMessageType, Recovery: rm})
}

func (s *Service) onRecoveryMessage(msg *Message) {
	ctx := s.ctx
	rm := msg.Recovery

	// A commit quorum on a higher view releases even a commit-locked node.
	if msg.ViewNumber > ctx.view {
		byView := make(map[byte]int)
		for _, c := range rm.Commits {
			byView[c.ViewNumber]++
		}
		if byView[msg.ViewNumber] >= ctx.M() {
			s.moveToView(msg.ViewNumber)
			ctx = s.ctx
		} else if !ctx.commitSent {
			for _, cv := range rm.ChangeViews {
				if cv.OriginalViewNumber > ctx.view {
					ctx.changeViews[cv.ValidatorIndex] = cv.OriginalViewNumber
				}
			}
			s.maybeMoveView(msg.ViewNumber)
			ctx = s.ctx
		}
	}
	if msg.ViewNumber != ctx.view {
		return
	}
	if ctx.request == nil && rm.PrepareRequest != nil {
		s.onPrepareRequest(&Message{
			Type:           PrepareRequestType,
			BlockIndex:     ctx.height,
			ViewNumber:     ctx.view,
			ValidatorIndex: byte(ctx.primaryIndex()),
			PrepareRequest: rm.PrepareRequest,
		})
	}
	for _, prep := range rm.PrepareResponses {
		if int(prep.ValidatorIndex) < ctx.N() {
			ctx.preparations[prep.ValidatorIndex] = true
		}
	}
	s.checkPreparations()
	for _, c := range rm.Commits {
		if c.ViewNumber == ctx.view && int(c.ValidatorIndex) < ctx.N() {
			ctx.commits[c.ValidatorIndex] = c.Signature
		}
	}
	s.checkCommits()
}

// --- outbound ---

func (s *Service) send(msg *Message) {
	ctx := s.ctx
	if ctx.myIndex < 0 || s.cfg.Key == nil {
		return
	}
	msg.BlockIndex = ctx.height
	msg.ValidatorIndex = byte(ctx.myIndex)
	msg.ViewNumber = ctx.view
	data, err := wire.ToBytes(msg)
	if err != nil {
		s.log.Error("message encoding failed", zap.Error(err))
		return
	}
	p := &types.ExtensiblePayload{
		Category:        Category,
		ValidBlockStart: ctx.height - 1,
		ValidBlockEnd:   ctx.height + 1,
		Sender:          s.cfg.Key.PublicKey().ScriptHash(),
		Data:            data,
	}
	sig, err := s.cfg.Key.SignHashable(s.cfg.Magic, p.Hash())
	if err != nil {
		s.log.Error("payload signing failed", zap.Error(err))
		return
	}
	w := wire.NewBufBinWriter()
	emit.Bytes(w.BinWriter, sig)
	p.Witness = types.Witness{
		InvocationScript:   w.Bytes(),
		VerificationScript: s.cfg.Key.PublicKey().VerificationScript(),
	}
	// The node hears its own traffic like any peer would.
	if s.cfg.Broadcast != nil {
		s.cfg.Broadcast(p)
	}
}

// extractSignature reads the single PUSHDATA1 64-byte push of a consensus
// witness invocation script.
func extractSignature(invocation []byte) ([]byte, error) {
	if len(invocation) != 2+crypto.SignatureSize ||
		invocation[0] != byte(opcode.PUSHDATA1) ||
		invocation[1] != crypto.SignatureSize {
		return nil, fmt.Errorf("dbft: unexpected invocation script %s", hexSnippet(invocation))
	}
	return invocation[2:], nil
}

func hexSnippet(b []byte) string {
	if len(b) > 8 {
		b = b[:8]
	}
	return fmt.Sprintf("%x", b)
}
