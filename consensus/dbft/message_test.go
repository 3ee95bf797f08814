package dbft

import (
	"bytes"
	"errors"
	"reflect"
	"testing"

	"github.com/neva-network/gneva/common"
)

func TestSignedMessageRoundTrip(t *testing.T) {
	hash := hashOf(0xAB)
	payloads := []ConsensusMessage{
		&ChangeView{Reason: ReasonTimeout},
		&ChangeView{Reason: ReasonBlockRejectedByPolicy},
		&PrepareRequest{ProposalHash: hash, Height: 12, TxHashes: []common.Hash{hashOf(1), hashOf(2)}},
		&PrepareRequest{ProposalHash: hash, Height: 0, TxHashes: []common.Hash{}},
		&PrepareResponse{PreparationHash: hash},
		&Commit{Signature: bytes.Repeat([]byte{0x42}, 70)},
		&RecoveryRequest{Timestamp: 1724800000},
		&RecoveryMessage{
			ChangeViews: []ChangeViewCompact{
				{Validator: 1, OriginalView: 0, Reason: ReasonTimeout, Signature: []byte{1, 2, 3}},
			},
			PrepareRequest:          &PrepareRequest{ProposalHash: hash, Height: 12, TxHashes: []common.Hash{}},
			Primary:                 2,
			PrepareRequestSignature: []byte{9, 9},
			Preparations: []PreparationCompact{
				{Validator: 0, Signature: []byte{4}},
				{Validator: 3, Signature: []byte{5}},
			},
			Commits: []CommitCompact{
				{View: 1, Validator: 3, CommitSignature: []byte{6}, Signature: []byte{7}},
			},
		},
	}
	for _, payload := range payloads {
		msg := &SignedMessage{Validator: 3, View: 1, Message: payload, Signature: []byte{0xDE, 0xAD}}
		decoded, err := DecodeSignedMessage(msg.EncodeBinary())
		if err != nil {
			t.Fatalf("%s: decode: %v", payload.Kind(), err)
		}
		if !reflect.DeepEqual(decoded, msg) {
			t.Errorf("%s: round trip mismatch:\nhave %+v\nwant %+v", payload.Kind(), decoded, msg)
		}
	}
}

func TestRecoveryMessageHashOnlyRoundTrip(t *testing.T) {
	hash := hashOf(0x11)
	msg := &SignedMessage{
		Validator: 0,
		View:      2,
		Message: &RecoveryMessage{
			PreparationHash: &hash,
			Preparations:    []PreparationCompact{{Validator: 1, Signature: []byte{8}}},
		},
		Signature: []byte{1},
	}
	decoded, err := DecodeSignedMessage(msg.EncodeBinary())
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !reflect.DeepEqual(decoded, msg) {
		t.Errorf("round trip mismatch:\nhave %+v\nwant %+v", decoded, msg)
	}
}

func TestDigestExcludesSignature(t *testing.T) {
	payload := &PrepareResponse{PreparationHash: hashOf(7)}
	a := &SignedMessage{Validator: 1, View: 0, Message: payload, Signature: []byte{1}}
	b := &SignedMessage{Validator: 1, View: 0, Message: payload, Signature: []byte{2, 3, 4}}
	if a.Digest() != b.Digest() {
		t.Fatalf("digest changed with signature")
	}
	c := &SignedMessage{Validator: 2, View: 0, Message: payload, Signature: []byte{1}}
	if a.Digest() == c.Digest() {
		t.Fatalf("digest identical for different validators")
	}
	d := &SignedMessage{Validator: 1, View: 1, Message: payload, Signature: []byte{1}}
	if a.Digest() == d.Digest() {
		t.Fatalf("digest identical for different views")
	}
}

func TestDecodeRejectsTrailingBytes(t *testing.T) {
	msg := &SignedMessage{Validator: 0, View: 0, Message: &ChangeView{Reason: ReasonTimeout}, Signature: []byte{1}}
	data := append(msg.EncodeBinary(), 0x00)
	if _, err := DecodeSignedMessage(data); !errors.Is(err, errTrailing) {
		t.Fatalf("trailing byte: have %v want %v", err, errTrailing)
	}
}

func TestDecodeRejectsTruncated(t *testing.T) {
	msg := &SignedMessage{
		Validator: 0,
		View:      0,
		Message:   &PrepareRequest{ProposalHash: hashOf(1), Height: 5, TxHashes: []common.Hash{hashOf(2)}},
		Signature: []byte{1, 2},
	}
	data := msg.EncodeBinary()
	for i := 0; i < len(data); i++ {
		if _, err := DecodeSignedMessage(data[:i]); err == nil {
			t.Fatalf("decode of %d/%d bytes succeeded", i, len(data))
		}
	}
}

func TestDecodeRejectsUnknownKind(t *testing.T) {
	data := []byte{0x7F, 0, 0, 0, 0}
	if _, err := DecodeSignedMessage(data); !errors.Is(err, errUnknownKind) {
		t.Fatalf("unknown kind: have %v want %v", err, errUnknownKind)
	}
}

func TestDecodeRejectsOversizeSignature(t *testing.T) {
	msg := &SignedMessage{
		Validator: 0,
		View:      0,
		Message:   &ChangeView{Reason: ReasonTimeout},
		Signature: bytes.Repeat([]byte{1}, maxVarBytes+1),
	}
	if _, err := DecodeSignedMessage(msg.EncodeBinary()); !errors.Is(err, errOversize) {
		t.Fatalf("oversize signature: have %v want %v", err, errOversize)
	}
}

func TestVarIntBoundaries(t *testing.T) {
	values := []uint64{0, 1, 0xFC, 0xFD, 0xFFFF, 0x10000, 0xFFFFFFFF, 0x100000000, 1<<63 + 7}
	for _, v := range values {
		var e encoder
		e.writeVarInt(v)
		d := newDecoder(e.bytes())
		got, err := d.readVarInt(^uint64(0))
		if err != nil {
			t.Fatalf("varint %d: %v", v, err)
		}
		if got != v {
			t.Errorf("varint round trip: have %d want %d", got, v)
		}
		if d.remaining() != 0 {
			t.Errorf("varint %d: %d bytes left over", v, d.remaining())
		}
	}
}

func TestRecoveryExpand(t *testing.T) {
	b := newBench(t, 4)
	proposal := hashOf(0x55)
	req := b.sign(t, 1, ViewZero, &PrepareRequest{ProposalHash: proposal, Height: 1, TxHashes: []common.Hash{}})
	resp := b.sign(t, 2, ViewZero, &PrepareResponse{PreparationHash: proposal})
	commit := b.sign(t, 2, ViewZero, &Commit{Signature: []byte{0xCC}})
	cv := b.sign(t, 3, ViewZero, &ChangeView{Reason: ReasonTimeout})

	bundle := &RecoveryMessage{
		ChangeViews: []ChangeViewCompact{
			{Validator: 3, OriginalView: ViewZero, Reason: ReasonTimeout, Signature: cv.Signature},
		},
		PrepareRequest:          req.Message.(*PrepareRequest),
		Primary:                 1,
		PrepareRequestSignature: req.Signature,
		Preparations: []PreparationCompact{
			{Validator: 2, Signature: resp.Signature},
		},
		Commits: []CommitCompact{
			{View: ViewZero, Validator: 2, CommitSignature: []byte{0xCC}, Signature: commit.Signature},
		},
	}

	expanded := bundle.Expand(ViewZero)
	if len(expanded) != 4 {
		t.Fatalf("expanded message count: have %d want 4", len(expanded))
	}
	engine := b.engine(t, 1)
	for _, msg := range expanded {
		if err := engine.Verify(msg); err != nil {
			t.Errorf("expanded %s from %d fails verification: %v", msg.Kind(), msg.Validator, err)
		}
	}
}
