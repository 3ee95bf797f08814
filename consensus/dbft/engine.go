package dbft

import "github.com/neva-network/gneva/crypto"

// Engine wraps a ConsensusState behind the single mutating entry point,
// ProcessMessage, and authenticates every message before the state sees
// it. The engine is single-owner: calls must be serialized by one
// consensus task, there is no internal locking.
type Engine struct {
	state *ConsensusState
}

// NewEngine builds an engine voting on the given height with the given
// roster.
func NewEngine(height uint64, validators *ValidatorSet) (*Engine, error) {
	state, err := NewConsensusState(height, validators)
	if err != nil {
		return nil, err
	}
	return &Engine{state: state}, nil
}

// EngineFromState resumes an engine around a restored state.
func EngineFromState(state *ConsensusState) *Engine {
	return &Engine{state: state}
}

// EngineFromSnapshot rebuilds an engine from a durable snapshot against
// the configured roster.
func EngineFromSnapshot(validators *ValidatorSet, snap *SnapshotState) (*Engine, error) {
	state, err := StateFromSnapshot(validators, snap)
	if err != nil {
		return nil, err
	}
	return EngineFromState(state), nil
}

// Snapshot captures the engine's state for persistence.
func (e *Engine) Snapshot() *SnapshotState { return e.state.Snapshot() }

// ProcessMessage authenticates and records one inbound message and
// returns the quorum decision evaluated afterwards. Verification always
// happens before any state mutation; an unauthenticated message can
// never move a tally. Recording errors from the state pass through
// unchanged. All failures are local to the one message and leave the
// engine usable.
func (e *Engine) ProcessMessage(msg *SignedMessage) (QuorumDecision, error) {
	if err := e.Verify(msg); err != nil {
		return QuorumDecision{}, err
	}
	if err := e.state.Record(msg); err != nil {
		return QuorumDecision{}, err
	}
	return e.state.QuorumDecision(), nil
}

// Verify checks the envelope signature against the sender's roster key
// without touching the state.
func (e *Engine) Verify(msg *SignedMessage) error {
	validator, ok := e.state.validators.Get(msg.Validator)
	if !ok {
		return &UnknownValidatorError{Validator: msg.Validator}
	}
	if err := crypto.VerifySignature(validator.PublicKey, msg.Digest(), msg.Signature); err != nil {
		return &InvalidSignatureError{Validator: msg.Validator}
	}
	return nil
}

// ReplayResult pairs a replayed message with its individual outcome.
// Replay keeps going past per-message failures; late or duplicated
// recovery data routinely contains entries the state rejects.
type ReplayResult struct {
	Message  *SignedMessage
	Decision QuorumDecision
	Err      error
}

// ReplayMessages feeds a batch (typically an expanded RecoveryMessage)
// through ProcessMessage one by one.
func (e *Engine) ReplayMessages(msgs []*SignedMessage) []ReplayResult {
	results := make([]ReplayResult, 0, len(msgs))
	for _, msg := range msgs {
		decision, err := e.ProcessMessage(msg)
		results = append(results, ReplayResult{Message: msg, Decision: decision, Err: err})
	}
	return results
}

// State exposes the underlying voting state, read-only by convention.
func (e *Engine) State() *ConsensusState { return e.state }

// Height returns the height the engine is voting on.
func (e *Engine) Height() uint64 { return e.state.Height() }

// View returns the engine's current view.
func (e *Engine) View() ViewNumber { return e.state.View() }

// Primary returns the proposer for the current height and view.
func (e *Engine) Primary() ValidatorID { return e.state.Primary() }

// QuorumThreshold returns the vote threshold M for the roster.
func (e *Engine) QuorumThreshold() int { return e.state.validators.Quorum() }

// ExpectedParticipants projects the state's expected map for the kind.
func (e *Engine) ExpectedParticipants(kind MessageKind) ([]ValidatorID, bool) {
	return e.state.ExpectedParticipants(kind)
}

// MissingValidators lists roster members still owing a message of the
// kind this view.
func (e *Engine) MissingValidators(kind MessageKind) []ValidatorID {
	return e.state.MissingValidators(kind)
}

// Participation lists the validators with a current-view record of the
// kind, in roster order.
func (e *Engine) Participation(kind MessageKind) []ValidatorID {
	var out []ValidatorID
	for _, msg := range e.state.Messages(kind) {
		out = append(out, msg.Validator)
	}
	return out
}

// Tallies reports the current-view sender count per message kind.
func (e *Engine) Tallies() map[MessageKind]int {
	out := make(map[MessageKind]int, len(messageKinds))
	for _, kind := range messageKinds {
		if n := e.state.Tally(kind); n > 0 {
			out[kind] = n
		}
	}
	return out
}

// ApplyViewChange moves the engine to a later view at the same height.
func (e *Engine) ApplyViewChange(newView ViewNumber) error {
	return e.state.ApplyViewChange(newView)
}

// AdvanceHeight starts the engine on a strictly greater height.
func (e *Engine) AdvanceHeight(height uint64) error {
	return e.state.AdvanceHeight(height)
}

// RecoveryBundle compacts the engine's current round into a
// RecoveryMessage answering a RecoveryRequest.
func (e *Engine) RecoveryBundle() *RecoveryMessage {
	s := e.state
	bundle := &RecoveryMessage{}

	for _, msg := range s.Messages(KindChangeView) {
		cv := msg.Message.(*ChangeView)
		bundle.ChangeViews = append(bundle.ChangeViews, ChangeViewCompact{
			Validator:    msg.Validator,
			OriginalView: msg.View,
			Reason:       cv.Reason,
			Signature:    msg.Signature,
		})
	}

	for _, msg := range s.Messages(KindPrepareRequest) {
		bundle.PrepareRequest = msg.Message.(*PrepareRequest)
		bundle.Primary = msg.Validator
		bundle.PrepareRequestSignature = msg.Signature
		break
	}
	if bundle.PrepareRequest == nil {
		if hash, ok := s.Proposal(); ok {
			h := hash
			bundle.PreparationHash = &h
		}
	}

	for _, msg := range s.Messages(KindPrepareResponse) {
		bundle.Preparations = append(bundle.Preparations, PreparationCompact{
			Validator: msg.Validator,
			Signature: msg.Signature,
		})
	}

	for _, msg := range s.Messages(KindCommit) {
		c := msg.Message.(*Commit)
		bundle.Commits = append(bundle.Commits, CommitCompact{
			View:            msg.View,
			Validator:       msg.Validator,
			CommitSignature: c.Signature,
			Signature:       msg.Signature,
		})
	}

	return bundle
}
