package dbft

import "github.com/neva-network/gneva/common"

// Recovery payloads compact a round's worth of messages into a single
// bundle so a late or restarted validator can catch up without
// re-receiving each message individually. One entry per contributing
// validator; the embedded signatures are the original envelope
// signatures, so every reconstructed message is independently
// verifiable.

// ChangeViewCompact is one validator's ChangeView, folded into a
// RecoveryMessage.
type ChangeViewCompact struct {
	Validator    ValidatorID
	OriginalView ViewNumber
	Reason       ChangeViewReason
	Signature    []byte
}

// PreparationCompact is one validator's PrepareResponse. The preparation
// hash is carried once by the enclosing RecoveryMessage.
type PreparationCompact struct {
	Validator ValidatorID
	Signature []byte
}

// CommitCompact is one validator's Commit together with the view it was
// sent in.
type CommitCompact struct {
	View            ViewNumber
	Validator       ValidatorID
	CommitSignature []byte
	Signature       []byte
}

// RecoveryMessage aggregates prior messages for the current round.
// Either the full PrepareRequest is embedded (with the primary's
// envelope signature) or only the preparation hash is known.
type RecoveryMessage struct {
	ChangeViews []ChangeViewCompact

	PrepareRequest          *PrepareRequest
	Primary                 ValidatorID
	PrepareRequestSignature []byte
	PreparationHash         *common.Hash

	Preparations []PreparationCompact
	Commits      []CommitCompact
}

func (*RecoveryMessage) Kind() MessageKind { return KindRecoveryMessage }

func (m *RecoveryMessage) encodePayload(e *encoder) {
	e.writeVarInt(uint64(len(m.ChangeViews)))
	for _, cv := range m.ChangeViews {
		e.writeUint16(uint16(cv.Validator))
		e.writeByte(byte(cv.OriginalView))
		e.writeByte(byte(cv.Reason))
		e.writeVarBytes(cv.Signature)
	}

	e.writeBool(m.PrepareRequest != nil)
	if m.PrepareRequest != nil {
		e.writeUint16(uint16(m.Primary))
		m.PrepareRequest.encodePayload(e)
		e.writeVarBytes(m.PrepareRequestSignature)
	} else {
		e.writeBool(m.PreparationHash != nil)
		if m.PreparationHash != nil {
			e.writeHash(*m.PreparationHash)
		}
	}

	e.writeVarInt(uint64(len(m.Preparations)))
	for _, p := range m.Preparations {
		e.writeUint16(uint16(p.Validator))
		e.writeVarBytes(p.Signature)
	}

	e.writeVarInt(uint64(len(m.Commits)))
	for _, c := range m.Commits {
		e.writeByte(byte(c.View))
		e.writeUint16(uint16(c.Validator))
		e.writeVarBytes(c.CommitSignature)
		e.writeVarBytes(c.Signature)
	}
}

// maxRecoveryEntries bounds each compact array; a roster never exceeds
// the uint16 id space and in practice stays far smaller.
const maxRecoveryEntries = 0xFFFF

func decodeRecoveryMessage(d *decoder) (*RecoveryMessage, error) {
	msg := &RecoveryMessage{}

	count, err := d.readVarInt(maxRecoveryEntries)
	if err != nil {
		return nil, err
	}
	for i := uint64(0); i < count; i++ {
		validator, err := d.readUint16()
		if err != nil {
			return nil, err
		}
		view, err := d.readByte()
		if err != nil {
			return nil, err
		}
		reason, err := d.readByte()
		if err != nil {
			return nil, err
		}
		sig, err := d.readVarBytes(maxVarBytes)
		if err != nil {
			return nil, err
		}
		msg.ChangeViews = append(msg.ChangeViews, ChangeViewCompact{
			Validator:    ValidatorID(validator),
			OriginalView: ViewNumber(view),
			Reason:       ChangeViewReason(reason),
			Signature:    sig,
		})
	}

	hasRequest, err := d.readBool()
	if err != nil {
		return nil, err
	}
	if hasRequest {
		primary, err := d.readUint16()
		if err != nil {
			return nil, err
		}
		payload, err := decodePayload(KindPrepareRequest, d)
		if err != nil {
			return nil, err
		}
		sig, err := d.readVarBytes(maxVarBytes)
		if err != nil {
			return nil, err
		}
		msg.Primary = ValidatorID(primary)
		msg.PrepareRequest = payload.(*PrepareRequest)
		msg.PrepareRequestSignature = sig
	} else {
		hasHash, err := d.readBool()
		if err != nil {
			return nil, err
		}
		if hasHash {
			hash, err := d.readHash()
			if err != nil {
				return nil, err
			}
			msg.PreparationHash = &hash
		}
	}

	count, err = d.readVarInt(maxRecoveryEntries)
	if err != nil {
		return nil, err
	}
	for i := uint64(0); i < count; i++ {
		validator, err := d.readUint16()
		if err != nil {
			return nil, err
		}
		sig, err := d.readVarBytes(maxVarBytes)
		if err != nil {
			return nil, err
		}
		msg.Preparations = append(msg.Preparations, PreparationCompact{
			Validator: ValidatorID(validator),
			Signature: sig,
		})
	}

	count, err = d.readVarInt(maxRecoveryEntries)
	if err != nil {
		return nil, err
	}
	for i := uint64(0); i < count; i++ {
		view, err := d.readByte()
		if err != nil {
			return nil, err
		}
		validator, err := d.readUint16()
		if err != nil {
			return nil, err
		}
		commitSig, err := d.readVarBytes(maxVarBytes)
		if err != nil {
			return nil, err
		}
		sig, err := d.readVarBytes(maxVarBytes)
		if err != nil {
			return nil, err
		}
		msg.Commits = append(msg.Commits, CommitCompact{
			View:            ViewNumber(view),
			Validator:       ValidatorID(validator),
			CommitSignature: commitSig,
			Signature:       sig,
		})
	}

	return msg, nil
}

// preparation returns the proposal hash the bundle attests to, either
// from the embedded PrepareRequest or the bare hash.
func (m *RecoveryMessage) preparation() (common.Hash, bool) {
	if m.PrepareRequest != nil {
		return m.PrepareRequest.ProposalHash, true
	}
	if m.PreparationHash != nil {
		return *m.PreparationHash, true
	}
	return common.Hash{}, false
}

// Expand reconstructs the individual signed messages the bundle was
// compacted from. view is the view of the enclosing RecoveryMessage
// envelope; preparations are attributed to it, change views and commits
// carry their own. The reconstructed messages verify against the
// original signatures and are meant to be replayed through the engine.
func (m *RecoveryMessage) Expand(view ViewNumber) []*SignedMessage {
	var out []*SignedMessage

	for _, cv := range m.ChangeViews {
		out = append(out, &SignedMessage{
			Validator: cv.Validator,
			View:      cv.OriginalView,
			Message:   &ChangeView{Reason: cv.Reason},
			Signature: cv.Signature,
		})
	}

	if m.PrepareRequest != nil {
		out = append(out, &SignedMessage{
			Validator: m.Primary,
			View:      view,
			Message:   m.PrepareRequest,
			Signature: m.PrepareRequestSignature,
		})
	}

	if hash, ok := m.preparation(); ok {
		for _, p := range m.Preparations {
			out = append(out, &SignedMessage{
				Validator: p.Validator,
				View:      view,
				Message:   &PrepareResponse{PreparationHash: hash},
				Signature: p.Signature,
			})
		}
	}

	for _, c := range m.Commits {
		out = append(out, &SignedMessage{
			Validator: c.Validator,
			View:      c.View,
			Message:   &Commit{Signature: c.CommitSignature},
			Signature: c.Signature,
		})
	}

	return out
}
