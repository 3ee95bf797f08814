// Package consensus hosts the service that drives the dbft engine: it
// serializes inbound messages onto the single engine owner, turns quorum
// decisions into block builds and broadcasts, and checkpoints the engine
// to the store at quiescent points.
package consensus

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hashicorp/go-hclog"
	lru "github.com/hashicorp/golang-lru"
	"golang.org/x/sync/errgroup"

	"github.com/neva-network/gneva/common"
	"github.com/neva-network/gneva/consensus/dbft"
	"github.com/neva-network/gneva/nevadb"
)

// maxSeenMessages bounds the replay-protection cache.
const maxSeenMessages = 10000

// inboundBuffer is the depth of the queue feeding the engine owner.
const inboundBuffer = 256

var (
	// ErrServiceStopped rejects submissions after Stop.
	ErrServiceStopped = errors.New("consensus: service stopped")
	// ErrQueueFull rejects submissions when the inbound queue is saturated.
	ErrQueueFull = errors.New("consensus: inbound queue full")
)

// Broadcaster delivers an envelope to the validator network. Owned by
// the p2p layer.
type Broadcaster interface {
	Broadcast(msg *dbft.SignedMessage)
}

// BlockExecutor turns a committed proposal into an applied block. Owned
// by the chain layer.
type BlockExecutor interface {
	BuildBlock(height uint64, proposal common.Hash) error
}

// Signer produces this node's own signatures. Owned by the wallet.
type Signer interface {
	ID() dbft.ValidatorID
	Sign(digest common.Hash) ([]byte, error)
}

// Service owns a dbft engine and is its only caller. Network receive
// paths and timers hand messages to Submit and RequestViewChange; one
// goroutine drains the queue so the height/view state machine stays
// linearized without locking.
type Service struct {
	logger   hclog.Logger
	engine   *dbft.Engine
	store    nevadb.Store
	key      dbft.SnapshotKey
	signer   Signer
	net      Broadcaster
	executor BlockExecutor

	inbound  chan *dbft.SignedMessage
	commands chan dbft.ConsensusMessage
	seen     *lru.Cache

	group  *errgroup.Group
	cancel context.CancelFunc
	quit   chan struct{}
}

// Options collects the service collaborators and boot parameters.
type Options struct {
	Logger      hclog.Logger
	Store       nevadb.Store
	Network     uint32
	Validators  *dbft.ValidatorSet
	StartHeight uint64
	Signer      Signer
	Broadcaster Broadcaster
	Executor    BlockExecutor
}

// NewService restores the engine persisted for the network id, or starts
// a fresh one at StartHeight when no snapshot exists. A snapshot that
// cannot be loaded is a fatal boot condition and is returned as is.
func NewService(opts Options) (*Service, error) {
	logger := opts.Logger
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	key := dbft.SnapshotKey{Network: opts.Network}

	engine, err := dbft.LoadEngine(opts.Store, key, opts.Validators)
	if err != nil {
		return nil, err
	}
	if engine == nil {
		engine, err = dbft.NewEngine(opts.StartHeight, opts.Validators)
		if err != nil {
			return nil, err
		}
		logger.Info("starting fresh consensus round",
			"network", opts.Network, "height", opts.StartHeight)
	} else {
		logger.Info("resumed consensus from snapshot",
			"network", opts.Network, "height", engine.Height(), "view", engine.View())
	}

	seen, err := lru.New(maxSeenMessages)
	if err != nil {
		return nil, err
	}
	return &Service{
		logger:   logger.Named("dbft"),
		engine:   engine,
		store:    opts.Store,
		key:      key,
		signer:   opts.Signer,
		net:      opts.Broadcaster,
		executor: opts.Executor,
		inbound:  make(chan *dbft.SignedMessage, inboundBuffer),
		commands: make(chan dbft.ConsensusMessage, 1),
		seen:     seen,
		quit:     make(chan struct{}),
	}, nil
}

// Start launches the engine-owner goroutine.
func (s *Service) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)
	s.group, ctx = errgroup.WithContext(ctx)
	s.group.Go(func() error { return s.run(ctx) })
}

// Stop halts the loop, persists the state and waits for shutdown.
func (s *Service) Stop() error {
	close(s.quit)
	s.cancel()
	err := s.group.Wait()
	if perr := dbft.PersistEngine(s.store, s.key, s.engine); perr != nil {
		s.logger.Error("snapshot on shutdown failed", "err", perr)
		if err == nil {
			err = perr
		}
	}
	return err
}

// Submit enqueues a network message for the engine. Duplicates within
// the replay window are dropped silently; the digest covers everything
// the sender signed, so a replayed envelope can never be mistaken for a
// fresh vote.
func (s *Service) Submit(msg *dbft.SignedMessage) error {
	digest := msg.Digest()
	if s.seen.Contains(digest) {
		return nil
	}
	select {
	case <-s.quit:
		return ErrServiceStopped
	case s.inbound <- msg:
		// Marked seen only once it is actually queued; a message shed
		// under backpressure stays eligible for a later rebroadcast.
		s.seen.Add(digest, struct{}{})
		return nil
	default:
		return ErrQueueFull
	}
}

// SubmitRaw decodes a wire envelope and enqueues it.
func (s *Service) SubmitRaw(data []byte) error {
	msg, err := dbft.DecodeSignedMessage(data)
	if err != nil {
		return err
	}
	return s.Submit(msg)
}

// RequestViewChange asks the loop to issue this node's own ChangeView,
// the timer path for a stalled view. The message is signed with the
// engine's current view on the owner goroutine, so callers never race on
// view state.
func (s *Service) RequestViewChange(reason dbft.ChangeViewReason) error {
	return s.enqueueCommand(&dbft.ChangeView{Reason: reason})
}

// RequestRecovery broadcasts a catch-up request, typically after boot or
// a long stall.
func (s *Service) RequestRecovery() error {
	return s.enqueueCommand(&dbft.RecoveryRequest{Timestamp: uint64(time.Now().UnixMilli())})
}

func (s *Service) enqueueCommand(payload dbft.ConsensusMessage) error {
	select {
	case <-s.quit:
		return ErrServiceStopped
	case s.commands <- payload:
		return nil
	default:
		// One pending command is enough; the timer fires again if the
		// round stays stuck.
		return nil
	}
}

func (s *Service) run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case payload := <-s.commands:
			if payload.Kind() == dbft.KindRecoveryRequest {
				// Our own recovery request is broadcast only; peers
				// answer, nothing to record locally.
				if msg, err := s.sign(payload); err != nil {
					s.logger.Error("signing recovery request failed", "err", err)
				} else {
					s.net.Broadcast(msg)
				}
				continue
			}
			s.sendOwnMessage(payload)
		case msg := <-s.inbound:
			s.handleMessage(msg)
		}
	}
}

func (s *Service) handleMessage(msg *dbft.SignedMessage) {
	switch payload := msg.Message.(type) {
	case *dbft.RecoveryRequest:
		s.answerRecovery(msg)
		return
	case *dbft.RecoveryMessage:
		if err := s.engine.Verify(msg); err != nil {
			s.logger.Warn("recovery message rejected", "from", msg.Validator, "err", err)
			return
		}
		s.replayRecovery(msg.Validator, payload.Expand(msg.View))
		return
	}

	decision, err := s.engine.ProcessMessage(msg)
	if err != nil {
		s.logger.Debug("message rejected",
			"kind", msg.Kind(), "from", msg.Validator, "view", msg.View, "err", err)
		return
	}
	s.logger.Trace("message recorded", "kind", msg.Kind(), "from", msg.Validator)

	// A backup answers the primary's proposal with its own approval;
	// without it this node could never clear its own Commit precondition.
	if req, ok := msg.Message.(*dbft.PrepareRequest); ok && msg.View == s.engine.View() {
		if s.signer.ID() != s.engine.Primary() && !s.hasSent(dbft.KindPrepareResponse) {
			s.sendOwnMessage(&dbft.PrepareResponse{PreparationHash: req.ProposalHash})
			return
		}
	}
	s.handleDecision(decision)
}

// answerRecovery replies to a peer's catch-up request with a compacted
// bundle of the current round.
func (s *Service) answerRecovery(req *dbft.SignedMessage) {
	if err := s.engine.Verify(req); err != nil {
		s.logger.Debug("recovery request rejected", "from", req.Validator, "err", err)
		return
	}
	bundle := s.engine.RecoveryBundle()
	reply, err := s.sign(bundle)
	if err != nil {
		s.logger.Error("signing recovery reply failed", "err", err)
		return
	}
	s.net.Broadcast(reply)
	s.logger.Debug("answered recovery request", "from", req.Validator,
		"preparations", len(bundle.Preparations), "commits", len(bundle.Commits))
}

// replayRecovery feeds an expanded bundle through the engine. Individual
// rejections are routine for late data; only the state after the whole
// batch matters.
func (s *Service) replayRecovery(from dbft.ValidatorID, msgs []*dbft.SignedMessage) {
	accepted := 0
	for _, result := range s.engine.ReplayMessages(msgs) {
		if result.Err == nil {
			accepted++
		}
	}
	s.logger.Debug("replayed recovery bundle",
		"from", from, "messages", len(msgs), "accepted", accepted)
	s.handleDecision(s.engine.State().QuorumDecision())
}

func (s *Service) handleDecision(d dbft.QuorumDecision) {
	switch d.Outcome {
	case dbft.OutcomePending:

	case dbft.OutcomeViewChange:
		s.applyViewChange(d)

	case dbft.OutcomeProposal:
		if d.Kind == dbft.KindCommit {
			s.finalize(d)
		} else {
			s.sendOwnCommit(d)
		}
	}
}

// applyViewChange moves to the decided view and checkpoints, so a crash
// right after the transition resumes in the new view.
func (s *Service) applyViewChange(d dbft.QuorumDecision) {
	oldView := s.engine.View()
	if err := s.engine.ApplyViewChange(d.NewView); err != nil {
		s.logger.Warn("view change not applied", "target", d.NewView, "err", err)
		return
	}
	s.logger.Info("view changed",
		"height", s.engine.Height(), "from", oldView, "to", d.NewView,
		"primary", s.engine.Primary(), "missing", fmt.Sprint(d.Missing))
	s.persist()
}

// sendOwnCommit casts this node's Commit once a preparation quorum
// exists. The commit payload carries the block signature over the
// proposal hash itself.
func (s *Service) sendOwnCommit(d dbft.QuorumDecision) {
	if s.hasSent(dbft.KindCommit) {
		return
	}
	blockSig, err := s.signer.Sign(d.Proposal)
	if err != nil {
		s.logger.Error("signing proposal failed", "proposal", d.Proposal, "err", err)
		return
	}
	s.sendOwnMessage(&dbft.Commit{Signature: blockSig})
	s.persist()
}

// finalize hands the committed proposal to the executor and opens the
// next height. The snapshot for the finalized height is cleared first;
// it can never be needed again and must not resurrect a closed round.
func (s *Service) finalize(d dbft.QuorumDecision) {
	height := s.engine.Height()
	if err := s.executor.BuildBlock(height, d.Proposal); err != nil {
		s.logger.Error("block build failed", "height", height, "proposal", d.Proposal, "err", err)
		return
	}
	s.logger.Info("block committed", "height", height, "proposal", d.Proposal)

	if err := dbft.ClearSnapshot(s.store, s.key); err != nil {
		s.logger.Error("clearing snapshot failed", "err", err)
	}
	if err := s.engine.AdvanceHeight(height + 1); err != nil {
		s.logger.Error("height advance failed", "err", err)
		return
	}
	s.persist()
}

// sendOwnMessage signs a payload with the current view, records it in
// our own engine and broadcasts it.
func (s *Service) sendOwnMessage(payload dbft.ConsensusMessage) {
	msg, err := s.sign(payload)
	if err != nil {
		s.logger.Error("signing own message failed", "kind", payload.Kind(), "err", err)
		return
	}
	decision, err := s.engine.ProcessMessage(msg)
	if err != nil {
		s.logger.Warn("own message rejected", "kind", payload.Kind(), "err", err)
		return
	}
	s.net.Broadcast(msg)
	s.handleDecision(decision)
}

func (s *Service) sign(payload dbft.ConsensusMessage) (*dbft.SignedMessage, error) {
	msg := &dbft.SignedMessage{
		Validator: s.signer.ID(),
		View:      s.engine.View(),
		Message:   payload,
	}
	sig, err := s.signer.Sign(msg.Digest())
	if err != nil {
		return nil, err
	}
	msg.Signature = sig
	return msg, nil
}

// hasSent reports whether our own current-view message of the kind is
// already on record.
func (s *Service) hasSent(kind dbft.MessageKind) bool {
	for _, msg := range s.engine.State().Messages(kind) {
		if msg.Validator == s.signer.ID() {
			return true
		}
	}
	return false
}

func (s *Service) persist() {
	if err := dbft.PersistEngine(s.store, s.key, s.engine); err != nil {
		s.logger.Error("snapshot write failed", "err", err)
	}
}
