package dbft

import (
	"bytes"
	"fmt"

	"github.com/fxamacker/cbor/v2"

	"github.com/neva-network/gneva/common"
)

// SnapshotState is the durable projection of a ConsensusState. The
// recorded messages are carried as their wire encoding so the snapshot
// reuses the protocol codec, and the change-view tallies are rebuilt
// from those messages on restore. The roster is included so the snapshot
// is self-describing and a restore can detect a rotated configuration.
// The envelope itself is canonical CBOR with integer keys; field numbers
// are frozen.
type SnapshotState struct {
	Height     uint64              `cbor:"1,keyasint"`
	View       uint8               `cbor:"2,keyasint"`
	Proposal   []byte              `cbor:"3,keyasint,omitempty"`
	Validators []SnapshotValidator `cbor:"4,keyasint,omitempty"`
	Expected   map[uint8][]uint16  `cbor:"5,keyasint,omitempty"`
	Messages   [][]byte            `cbor:"6,keyasint,omitempty"`
}

// SnapshotValidator is one roster entry as persisted.
type SnapshotValidator struct {
	ID     uint16 `cbor:"1,keyasint"`
	PubKey []byte `cbor:"2,keyasint"`
	Alias  string `cbor:"3,keyasint,omitempty"`
}

var (
	snapshotEncMode cbor.EncMode
	snapshotDecMode cbor.DecMode
)

func init() {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("dbft: cbor encoder init: %v", err))
	}
	snapshotEncMode = em

	dm, err := cbor.DecOptions{
		DupMapKey:        cbor.DupMapKeyEnforcedAPF,
		IndefLength:      cbor.IndefLengthForbidden,
		IntDec:           cbor.IntDecConvertNone,
		MaxArrayElements: 1 << 20,
		MaxMapPairs:      1 << 16,
		MaxNestedLevels:  16,
	}.DecMode()
	if err != nil {
		panic(fmt.Sprintf("dbft: cbor decoder init: %v", err))
	}
	snapshotDecMode = dm
}

// Snapshot captures the state for persistence. The projection is
// lossless: StateFromSnapshot over the same roster reproduces an equal
// state.
func (s *ConsensusState) Snapshot() *SnapshotState {
	snap := &SnapshotState{
		Height: s.height,
		View:   uint8(s.view),
	}
	if s.proposal != nil {
		snap.Proposal = append([]byte(nil), s.proposal[:]...)
	}
	for _, v := range s.validators.Validators() {
		snap.Validators = append(snap.Validators, SnapshotValidator{
			ID:     uint16(v.ID),
			PubKey: v.PublicKey.Bytes(),
			Alias:  v.Alias,
		})
	}
	if len(s.expected) > 0 {
		snap.Expected = make(map[uint8][]uint16, len(s.expected))
		for kind, ids := range s.expected {
			wire := make([]uint16, len(ids))
			for i, id := range ids {
				wire[i] = uint16(id)
			}
			snap.Expected[uint8(kind)] = wire
		}
	}
	for _, kind := range messageKinds {
		byValidator := s.records[kind]
		if len(byValidator) == 0 {
			continue
		}
		for _, id := range s.validators.IDs() {
			if msg, ok := byValidator[id]; ok {
				snap.Messages = append(snap.Messages, msg.EncodeBinary())
			}
		}
	}
	return snap
}

// StateFromSnapshot rebuilds a ConsensusState from a snapshot against
// the supplied roster. Every validator referenced by the expected map or
// a recorded message must exist in the roster; a rotated or mismatched
// roster fails with UnknownValidatorError rather than resuming on stale
// assumptions. Change-view tallies are rebuilt by replaying the recorded
// ChangeView messages.
func StateFromSnapshot(validators *ValidatorSet, snap *SnapshotState) (*ConsensusState, error) {
	state, err := NewConsensusState(snap.Height, validators)
	if err != nil {
		return nil, err
	}
	state.view = ViewNumber(snap.View)

	for _, sv := range snap.Validators {
		id := ValidatorID(sv.ID)
		v, ok := validators.Get(id)
		if !ok {
			return nil, &UnknownValidatorError{Validator: id}
		}
		if !bytes.Equal(v.PublicKey.Bytes(), sv.PubKey) {
			return nil, fmt.Errorf("dbft: snapshot validator %d public key mismatch", sv.ID)
		}
	}

	if len(snap.Proposal) > 0 {
		if len(snap.Proposal) != common.HashLength {
			return nil, fmt.Errorf("dbft: snapshot proposal hash is %d bytes", len(snap.Proposal))
		}
		h := common.BytesToHash(snap.Proposal)
		state.proposal = &h
	}

	for _, raw := range snap.Messages {
		msg, err := DecodeSignedMessage(raw)
		if err != nil {
			return nil, err
		}
		if err := state.Record(msg); err != nil {
			return nil, err
		}
	}

	// The expected map from the snapshot is authoritative; re-recording
	// above may have seeded a subset of it.
	expected := make(map[MessageKind][]ValidatorID, len(snap.Expected))
	for rawKind, wire := range snap.Expected {
		ids := make([]ValidatorID, len(wire))
		for i, raw := range wire {
			id := ValidatorID(raw)
			if _, ok := validators.Get(id); !ok {
				return nil, &UnknownValidatorError{Validator: id}
			}
			ids[i] = id
		}
		expected[MessageKind(rawKind)] = ids
	}
	state.expected = expected

	return state, nil
}

// MarshalSnapshot encodes a snapshot as canonical CBOR.
func MarshalSnapshot(snap *SnapshotState) ([]byte, error) {
	return snapshotEncMode.Marshal(snap)
}

// UnmarshalSnapshot decodes a CBOR snapshot envelope.
func UnmarshalSnapshot(data []byte) (*SnapshotState, error) {
	snap := new(SnapshotState)
	if err := snapshotDecMode.Unmarshal(data, snap); err != nil {
		return nil, err
	}
	return snap, nil
}
