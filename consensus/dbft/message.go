package dbft

import (
	"fmt"

	"github.com/neva-network/gneva/common"
	"github.com/neva-network/gneva/crypto"
)

// ViewNumber is the attempt counter at a given height. It only ever
// moves forward within a height and resets to zero when the height
// advances.
type ViewNumber uint8

// ViewZero is the first view of every height.
const ViewZero ViewNumber = 0

// MessageKind tags the consensus message variants. The numeric values
// are wire tags shared with other node implementations; do not renumber.
type MessageKind uint8

const (
	KindChangeView      MessageKind = 0x00
	KindPrepareRequest  MessageKind = 0x20
	KindPrepareResponse MessageKind = 0x21
	KindCommit          MessageKind = 0x30
	KindRecoveryRequest MessageKind = 0x40
	KindRecoveryMessage MessageKind = 0x41
)

// messageKinds lists every kind in tag order, for deterministic iteration.
var messageKinds = []MessageKind{
	KindChangeView,
	KindPrepareRequest,
	KindPrepareResponse,
	KindCommit,
	KindRecoveryRequest,
	KindRecoveryMessage,
}

func (k MessageKind) String() string {
	switch k {
	case KindChangeView:
		return "ChangeView"
	case KindPrepareRequest:
		return "PrepareRequest"
	case KindPrepareResponse:
		return "PrepareResponse"
	case KindCommit:
		return "Commit"
	case KindRecoveryRequest:
		return "RecoveryRequest"
	case KindRecoveryMessage:
		return "RecoveryMessage"
	default:
		return fmt.Sprintf("MessageKind(%#02x)", uint8(k))
	}
}

// ChangeViewReason explains why a validator asked to leave the current
// view. Closed enum; values are wire tags.
type ChangeViewReason uint8

const (
	ReasonTimeout               ChangeViewReason = 0x00
	ReasonChangeAgreement       ChangeViewReason = 0x01
	ReasonTxNotFound            ChangeViewReason = 0x02
	ReasonTxRejectedByPolicy    ChangeViewReason = 0x03
	ReasonTxInvalid             ChangeViewReason = 0x04
	ReasonBlockRejectedByPolicy ChangeViewReason = 0x05
)

func (r ChangeViewReason) String() string {
	switch r {
	case ReasonTimeout:
		return "Timeout"
	case ReasonChangeAgreement:
		return "ChangeAgreement"
	case ReasonTxNotFound:
		return "TxNotFound"
	case ReasonTxRejectedByPolicy:
		return "TxRejectedByPolicy"
	case ReasonTxInvalid:
		return "TxInvalid"
	case ReasonBlockRejectedByPolicy:
		return "BlockRejectedByPolicy"
	default:
		return fmt.Sprintf("ChangeViewReason(%#02x)", uint8(r))
	}
}

// ConsensusMessage is the closed union of payload variants. Every kind
// is handled exhaustively in Record and in the codec; adding a variant
// without extending those switches is a compile-time error via Kind().
type ConsensusMessage interface {
	Kind() MessageKind
	encodePayload(e *encoder)
}

// ChangeView asks the roster to abandon the current view.
type ChangeView struct {
	Reason ChangeViewReason
}

func (*ChangeView) Kind() MessageKind { return KindChangeView }

func (m *ChangeView) encodePayload(e *encoder) {
	e.writeByte(byte(m.Reason))
}

// PrepareRequest is the primary's block proposal for (Height, view).
type PrepareRequest struct {
	ProposalHash common.Hash
	Height       uint64
	TxHashes     []common.Hash
}

func (*PrepareRequest) Kind() MessageKind { return KindPrepareRequest }

func (m *PrepareRequest) encodePayload(e *encoder) {
	e.writeHash(m.ProposalHash)
	e.writeUint64(m.Height)
	e.writeVarInt(uint64(len(m.TxHashes)))
	for _, h := range m.TxHashes {
		e.writeHash(h)
	}
}

// PrepareResponse is a backup's approval of the proposal it saw.
type PrepareResponse struct {
	PreparationHash common.Hash
}

func (*PrepareResponse) Kind() MessageKind { return KindPrepareResponse }

func (m *PrepareResponse) encodePayload(e *encoder) {
	e.writeHash(m.PreparationHash)
}

// Commit carries the validator's block signature, the final stage of
// agreement.
type Commit struct {
	Signature []byte
}

func (*Commit) Kind() MessageKind { return KindCommit }

func (m *Commit) encodePayload(e *encoder) {
	e.writeVarBytes(m.Signature)
}

// RecoveryRequest asks peers to send back their view of the round.
type RecoveryRequest struct {
	Timestamp uint64
}

func (*RecoveryRequest) Kind() MessageKind { return KindRecoveryRequest }

func (m *RecoveryRequest) encodePayload(e *encoder) {
	e.writeUint64(m.Timestamp)
}

// SignedMessage is the authenticated envelope around a payload. Digest
// covers (validator, view, message) but not the signature itself.
type SignedMessage struct {
	Validator ValidatorID
	View      ViewNumber
	Message   ConsensusMessage
	Signature []byte
}

// Kind returns the payload's message kind.
func (m *SignedMessage) Kind() MessageKind { return m.Message.Kind() }

// Digest returns the sha256 hash of the canonical encoding of
// (validator, view, message). These are the bytes the remote validator
// signed.
func (m *SignedMessage) Digest() common.Hash {
	var e encoder
	m.encodeUnsigned(&e)
	return crypto.Sha256(e.bytes())
}

// EncodeBinary returns the wire encoding, signature included.
func (m *SignedMessage) EncodeBinary() []byte {
	var e encoder
	m.encodeUnsigned(&e)
	e.writeVarBytes(m.Signature)
	return e.bytes()
}

func (m *SignedMessage) encodeUnsigned(e *encoder) {
	e.writeByte(byte(m.Message.Kind()))
	e.writeUint16(uint16(m.Validator))
	e.writeByte(byte(m.View))
	m.Message.encodePayload(e)
}

// DecodeSignedMessage parses a wire-encoded SignedMessage and rejects
// trailing bytes.
func DecodeSignedMessage(data []byte) (*SignedMessage, error) {
	d := newDecoder(data)
	msg, err := decodeSignedMessage(d)
	if err != nil {
		return nil, err
	}
	if d.remaining() != 0 {
		return nil, errTrailing
	}
	return msg, nil
}

func decodeSignedMessage(d *decoder) (*SignedMessage, error) {
	tag, err := d.readByte()
	if err != nil {
		return nil, err
	}
	validator, err := d.readUint16()
	if err != nil {
		return nil, err
	}
	view, err := d.readByte()
	if err != nil {
		return nil, err
	}
	payload, err := decodePayload(MessageKind(tag), d)
	if err != nil {
		return nil, err
	}
	sig, err := d.readVarBytes(maxVarBytes)
	if err != nil {
		return nil, err
	}
	return &SignedMessage{
		Validator: ValidatorID(validator),
		View:      ViewNumber(view),
		Message:   payload,
		Signature: sig,
	}, nil
}

func decodePayload(kind MessageKind, d *decoder) (ConsensusMessage, error) {
	switch kind {
	case KindChangeView:
		reason, err := d.readByte()
		if err != nil {
			return nil, err
		}
		return &ChangeView{Reason: ChangeViewReason(reason)}, nil

	case KindPrepareRequest:
		hash, err := d.readHash()
		if err != nil {
			return nil, err
		}
		height, err := d.readUint64()
		if err != nil {
			return nil, err
		}
		count, err := d.readVarInt(maxTxHashes)
		if err != nil {
			return nil, err
		}
		txs := make([]common.Hash, 0, count)
		for i := uint64(0); i < count; i++ {
			tx, err := d.readHash()
			if err != nil {
				return nil, err
			}
			txs = append(txs, tx)
		}
		return &PrepareRequest{ProposalHash: hash, Height: height, TxHashes: txs}, nil

	case KindPrepareResponse:
		hash, err := d.readHash()
		if err != nil {
			return nil, err
		}
		return &PrepareResponse{PreparationHash: hash}, nil

	case KindCommit:
		sig, err := d.readVarBytes(maxVarBytes)
		if err != nil {
			return nil, err
		}
		return &Commit{Signature: sig}, nil

	case KindRecoveryRequest:
		ts, err := d.readUint64()
		if err != nil {
			return nil, err
		}
		return &RecoveryRequest{Timestamp: ts}, nil

	case KindRecoveryMessage:
		return decodeRecoveryMessage(d)

	default:
		return nil, fmt.Errorf("%w: %#02x", errUnknownKind, uint8(kind))
	}
}

// maxTxHashes bounds the transaction list in a PrepareRequest.
const maxTxHashes = 0xFFFF

// proposalOf extracts the proposal hash declared by a payload, if any.
func proposalOf(m ConsensusMessage) (common.Hash, bool) {
	switch msg := m.(type) {
	case *PrepareRequest:
		return msg.ProposalHash, true
	case *PrepareResponse:
		return msg.PreparationHash, true
	default:
		return common.Hash{}, false
	}
}
