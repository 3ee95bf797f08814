// Package dbft implements the delegated Byzantine Fault Tolerant
// consensus core: the validator roster, the signed-message protocol, the
// per-height voting state and the quorum rules. The package is a pure
// state machine; networking, block execution, signing and timers are
// collaborators owned by the caller.
package dbft

import (
	"fmt"

	"github.com/neva-network/gneva/crypto"
)

// ValidatorID is a roster index, stable for a configuration epoch.
type ValidatorID uint16

// Validator is one member of the roster. Immutable once the set is built.
type Validator struct {
	ID        ValidatorID
	PublicKey crypto.PublicKey
	Alias     string
}

// ValidatorSet is the ordered validator roster. Roster changes produce a
// new set (and a fresh ConsensusState); there is no mutation after
// construction.
type ValidatorSet struct {
	validators []Validator
	byID       map[ValidatorID]int
}

// NewValidatorSet builds a roster from the given validators. It fails
// closed if two validators share an id.
func NewValidatorSet(validators []Validator) (*ValidatorSet, error) {
	byID := make(map[ValidatorID]int, len(validators))
	for i, v := range validators {
		if _, ok := byID[v.ID]; ok {
			return nil, fmt.Errorf("%w: %d", ErrDuplicateValidator, v.ID)
		}
		byID[v.ID] = i
	}
	return &ValidatorSet{
		validators: append([]Validator(nil), validators...),
		byID:       byID,
	}, nil
}

// Len returns the roster size.
func (s *ValidatorSet) Len() int { return len(s.validators) }

// F returns the number of tolerated faulty validators, (N-1)/3.
func (s *ValidatorSet) F() int {
	if len(s.validators) == 0 {
		return 0
	}
	return (len(s.validators) - 1) / 3
}

// Quorum returns the vote threshold M = N - F.
func (s *ValidatorSet) Quorum() int {
	return len(s.validators) - s.F()
}

// Get returns the validator with the given id.
func (s *ValidatorSet) Get(id ValidatorID) (Validator, bool) {
	idx, ok := s.byID[id]
	if !ok {
		return Validator{}, false
	}
	return s.validators[idx], true
}

// IndexOf returns the roster position of the given id.
func (s *ValidatorSet) IndexOf(id ValidatorID) (int, bool) {
	idx, ok := s.byID[id]
	return idx, ok
}

// PrimaryID returns the proposer for (height, view):
// validators[(height+view) mod N]. The second return is false only for
// an empty set.
func (s *ValidatorSet) PrimaryID(height uint64, view ViewNumber) (ValidatorID, bool) {
	if len(s.validators) == 0 {
		return 0, false
	}
	idx := (height + uint64(view)) % uint64(len(s.validators))
	return s.validators[idx].ID, true
}

// IDs returns the roster ids in order.
func (s *ValidatorSet) IDs() []ValidatorID {
	ids := make([]ValidatorID, len(s.validators))
	for i, v := range s.validators {
		ids[i] = v.ID
	}
	return ids
}

// Validators returns a copy of the roster.
func (s *ValidatorSet) Validators() []Validator {
	return append([]Validator(nil), s.validators...)
}
