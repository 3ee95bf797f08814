package dbft

import "github.com/neva-network/gneva/common"

// Outcome labels a quorum decision.
type Outcome uint8

const (
	// OutcomePending means no threshold has been reached yet.
	OutcomePending Outcome = iota
	// OutcomeProposal means the proposal gathered a quorum of
	// PrepareResponse or Commit votes.
	OutcomeProposal
	// OutcomeViewChange means a quorum asked to leave the current view.
	OutcomeViewChange
)

func (o Outcome) String() string {
	switch o {
	case OutcomePending:
		return "Pending"
	case OutcomeProposal:
		return "Proposal"
	case OutcomeViewChange:
		return "ViewChange"
	default:
		return "Outcome(?)"
	}
}

// QuorumDecision is a pure function of the state after each accepted
// message, never stored. For OutcomeProposal, Kind says which vote stage
// crossed the threshold (Commit outranks PrepareResponse) and Proposal
// is the agreed hash. For OutcomeViewChange, NewView is the view to move
// to. Missing lists the validators whose vote of the deciding kind has
// not been seen.
type QuorumDecision struct {
	Outcome  Outcome
	Kind     MessageKind
	Proposal common.Hash
	NewView  ViewNumber
	Missing  []ValidatorID
}

// ConsensusState is the per-height voting ledger: message records keyed
// by (kind, validator), expected-participant tracking, the agreed
// proposal hash and change-view tallies. Pure data and transitions, no
// I/O and no clock. Created fresh per height or restored from a
// snapshot.
type ConsensusState struct {
	height     uint64
	view       ViewNumber
	validators *ValidatorSet

	// records holds the latest message per (kind, validator). Entries
	// from past views survive a view change only as bookkeeping; every
	// tally filters on the current view.
	records  map[MessageKind]map[ValidatorID]*SignedMessage
	expected map[MessageKind][]ValidatorID
	proposal *common.Hash

	changeViewReasons map[ValidatorID]ChangeViewReason
	reasonCounts      map[ChangeViewReason]uint32
	changeViewTotal   uint32
}

// NewConsensusState creates the voting state for a height, at view zero.
func NewConsensusState(height uint64, validators *ValidatorSet) (*ConsensusState, error) {
	if validators == nil || validators.Len() == 0 {
		return nil, ErrNoValidators
	}
	s := &ConsensusState{
		height:     height,
		validators: validators,
	}
	s.reset(ViewZero)
	return s, nil
}

func (s *ConsensusState) reset(view ViewNumber) {
	s.view = view
	s.records = make(map[MessageKind]map[ValidatorID]*SignedMessage)
	s.expected = make(map[MessageKind][]ValidatorID)
	s.proposal = nil
	s.changeViewReasons = make(map[ValidatorID]ChangeViewReason)
	s.reasonCounts = make(map[ChangeViewReason]uint32)
	s.changeViewTotal = 0
}

// Height returns the height this state is voting on.
func (s *ConsensusState) Height() uint64 { return s.height }

// View returns the current view number.
func (s *ConsensusState) View() ViewNumber { return s.view }

// Validators returns the roster this state was built with.
func (s *ConsensusState) Validators() *ValidatorSet { return s.validators }

// Proposal returns the agreed proposal hash for the current view, if one
// has been recorded.
func (s *ConsensusState) Proposal() (common.Hash, bool) {
	if s.proposal == nil {
		return common.Hash{}, false
	}
	return *s.proposal, true
}

// Primary returns the proposer for the current height and view.
func (s *ConsensusState) Primary() ValidatorID {
	id, _ := s.validators.PrimaryID(s.height, s.view)
	return id
}

// Record admits one signed message into the ledger. All checks run
// before any mutation, so a rejected call leaves the state untouched.
// A later message for the same (validator, kind) replaces the earlier
// entry instead of growing the record; replaying an identical message
// is a no-op for every tally.
func (s *ConsensusState) Record(msg *SignedMessage) error {
	if _, ok := s.validators.Get(msg.Validator); !ok {
		return &UnknownValidatorError{Validator: msg.Validator}
	}
	if msg.View > s.view {
		return &InvalidViewError{Expected: s.view, Received: msg.View}
	}
	current := msg.View == s.view

	if req, ok := msg.Message.(*PrepareRequest); ok && current {
		if req.Height != s.height {
			return &InvalidHeightError{Expected: s.height, Received: req.Height}
		}
		if primary := s.Primary(); msg.Validator != primary {
			return &InvalidPrimaryError{Expected: primary, Actual: msg.Validator}
		}
	}

	if hash, ok := proposalOf(msg.Message); ok && current {
		if s.proposal != nil && *s.proposal != hash {
			return &ProposalMismatchError{Expected: *s.proposal, Actual: hash}
		}
		// Only the primary's PrepareRequest establishes the proposal; a
		// response cannot conjure a hash no one proposed.
		if s.proposal == nil && msg.Kind() != KindPrepareRequest {
			return ErrMissingProposal
		}
	}

	if msg.Kind() == KindCommit && current && !s.hasPrepared(msg.Validator) {
		return &MissingPrepareResponseError{Validator: msg.Validator}
	}

	// Admission passed; mutate.
	kind := msg.Kind()
	if current {
		if req, ok := msg.Message.(*PrepareRequest); ok && s.proposal == nil {
			h := req.ProposalHash
			s.proposal = &h
		}
		if cv, ok := msg.Message.(*ChangeView); ok {
			s.recordChangeView(msg.Validator, cv.Reason)
		}
		if _, seeded := s.expected[kind]; !seeded {
			s.expected[kind] = s.validators.IDs()
		}
	}

	byValidator, ok := s.records[kind]
	if !ok {
		byValidator = make(map[ValidatorID]*SignedMessage)
		s.records[kind] = byValidator
	}
	if prev, ok := byValidator[msg.Validator]; ok && prev.View > msg.View {
		// A stale copy never displaces the newer record.
		return nil
	}
	byValidator[msg.Validator] = msg
	return nil
}

// recordChangeView keeps the per-validator reason and the per-reason
// tallies in step. Re-sends from the same validator update the reason
// without inflating the total.
func (s *ConsensusState) recordChangeView(v ValidatorID, reason ChangeViewReason) {
	if prev, ok := s.changeViewReasons[v]; ok {
		if prev == reason {
			return
		}
		s.reasonCounts[prev]--
		if s.reasonCounts[prev] == 0 {
			delete(s.reasonCounts, prev)
		}
	} else {
		s.changeViewTotal++
	}
	s.changeViewReasons[v] = reason
	s.reasonCounts[reason]++
}

// hasPrepared reports whether the validator approved the current
// proposal: an explicit PrepareResponse in this view, or the primary's
// own PrepareRequest counting as its implicit approval.
func (s *ConsensusState) hasPrepared(v ValidatorID) bool {
	if msg, ok := s.records[KindPrepareResponse][v]; ok && msg.View == s.view {
		return true
	}
	if v != s.Primary() {
		return false
	}
	msg, ok := s.records[KindPrepareRequest][v]
	return ok && msg.View == s.view
}

// tally counts validators with a current-view record of the given kind.
func (s *ConsensusState) tally(kind MessageKind) int {
	n := 0
	for _, msg := range s.records[kind] {
		if msg.View == s.view {
			n++
		}
	}
	return n
}

// responded reports whether the validator has a current-view record of
// the given kind.
func (s *ConsensusState) responded(kind MessageKind, v ValidatorID) bool {
	msg, ok := s.records[kind][v]
	return ok && msg.View == s.view
}

// missing returns the roster members without a current-view record of
// the given kind, in roster order. The primary's PrepareRequest counts
// as its PrepareResponse.
func (s *ConsensusState) missing(kind MessageKind) []ValidatorID {
	var out []ValidatorID
	for _, id := range s.validators.IDs() {
		if s.responded(kind, id) {
			continue
		}
		if kind == KindPrepareResponse && s.hasPrepared(id) {
			continue
		}
		out = append(out, id)
	}
	return out
}

// QuorumDecision evaluates the thresholds against the current view. A
// change-view quorum preempts proposal evaluation; among proposal votes
// Commit outranks PrepareResponse as the later-stage evidence. The
// PrepareResponse tally includes the primary's implicit approval via its
// own PrepareRequest.
func (s *ConsensusState) QuorumDecision() QuorumDecision {
	quorum := s.validators.Quorum()

	if int(s.changeViewTotal) >= quorum {
		return QuorumDecision{
			Outcome: OutcomeViewChange,
			Kind:    KindChangeView,
			NewView: s.view + 1,
			Missing: s.missing(KindChangeView),
		}
	}

	if s.proposal != nil {
		if s.tally(KindCommit) >= quorum {
			return QuorumDecision{
				Outcome:  OutcomeProposal,
				Kind:     KindCommit,
				Proposal: *s.proposal,
				Missing:  s.missing(KindCommit),
			}
		}
		prepared := s.tally(KindPrepareResponse)
		primary := s.Primary()
		if !s.responded(KindPrepareResponse, primary) && s.hasPrepared(primary) {
			prepared++
		}
		if prepared >= quorum {
			return QuorumDecision{
				Outcome:  OutcomeProposal,
				Kind:     KindPrepareResponse,
				Proposal: *s.proposal,
				Missing:  s.missing(KindPrepareResponse),
			}
		}
	}

	return QuorumDecision{Outcome: OutcomePending}
}

// ExpectedParticipants returns the roster snapshot taken when the first
// message of the kind arrived this view. The second return is false
// until that first message.
func (s *ConsensusState) ExpectedParticipants(kind MessageKind) ([]ValidatorID, bool) {
	ids, ok := s.expected[kind]
	if !ok {
		return nil, false
	}
	return append([]ValidatorID(nil), ids...), true
}

// MissingValidators returns the roster members still owing a message of
// the given kind this view.
func (s *ConsensusState) MissingValidators(kind MessageKind) []ValidatorID {
	return s.missing(kind)
}

// Tally returns the number of distinct current-view senders of the kind.
func (s *ConsensusState) Tally(kind MessageKind) int {
	return s.tally(kind)
}

// ChangeViewReasons returns a copy of the per-validator change-view
// reasons recorded this view.
func (s *ConsensusState) ChangeViewReasons() map[ValidatorID]ChangeViewReason {
	out := make(map[ValidatorID]ChangeViewReason, len(s.changeViewReasons))
	for v, r := range s.changeViewReasons {
		out[v] = r
	}
	return out
}

// Messages returns the recorded messages of the kind in roster order,
// current view entries only.
func (s *ConsensusState) Messages(kind MessageKind) []*SignedMessage {
	var out []*SignedMessage
	for _, id := range s.validators.IDs() {
		if msg, ok := s.records[kind][id]; ok && msg.View == s.view {
			out = append(out, msg)
		}
	}
	return out
}

// ApplyViewChange moves the state to a later view at the same height,
// discarding the view-scoped records and tallies. Moving backwards or
// standing still is rejected.
func (s *ConsensusState) ApplyViewChange(newView ViewNumber) error {
	if newView <= s.view {
		return &InvalidViewError{Expected: s.view + 1, Received: newView}
	}
	s.reset(newView)
	return nil
}

// AdvanceHeight starts a fresh round at a strictly greater height, back
// at view zero.
func (s *ConsensusState) AdvanceHeight(height uint64) error {
	if height <= s.height {
		return &InvalidHeightTransitionError{Current: s.height, Requested: height}
	}
	s.height = height
	s.reset(ViewZero)
	return nil
}
