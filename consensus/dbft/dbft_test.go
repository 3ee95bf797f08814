package dbft

import (
	"testing"

	"github.com/neva-network/gneva/common"
	"github.com/neva-network/gneva/crypto"
)

// bench is a roster of validators with signing keys, the fixture every
// test in this package runs against.
type bench struct {
	set  *ValidatorSet
	keys map[ValidatorID]*crypto.PrivateKey
}

func newBench(t *testing.T, n int) *bench {
	t.Helper()
	keys := make(map[ValidatorID]*crypto.PrivateKey, n)
	validators := make([]Validator, 0, n)
	for i := 0; i < n; i++ {
		key, err := crypto.GenerateKey()
		if err != nil {
			t.Fatalf("generate key: %v", err)
		}
		id := ValidatorID(i)
		keys[id] = key
		validators = append(validators, Validator{ID: id, PublicKey: key.PublicKey()})
	}
	set, err := NewValidatorSet(validators)
	if err != nil {
		t.Fatalf("new validator set: %v", err)
	}
	return &bench{set: set, keys: keys}
}

// sign wraps a payload in a correctly signed envelope from validator v.
func (b *bench) sign(t *testing.T, v ValidatorID, view ViewNumber, payload ConsensusMessage) *SignedMessage {
	t.Helper()
	key, ok := b.keys[v]
	if !ok {
		t.Fatalf("no key for validator %d", v)
	}
	msg := &SignedMessage{Validator: v, View: view, Message: payload}
	msg.Signature = key.Sign(msg.Digest())
	return msg
}

func (b *bench) engine(t *testing.T, height uint64) *Engine {
	t.Helper()
	engine, err := NewEngine(height, b.set)
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	return engine
}

func hashOf(b byte) common.Hash {
	var h common.Hash
	h[0] = b
	return h
}

// prepareRound drives an engine to the point where a proposal is on
// file: the primary's PrepareRequest followed by responses from the
// given backups.
func prepareRound(t *testing.T, b *bench, e *Engine, proposal common.Hash, backups ...ValidatorID) {
	t.Helper()
	primary := e.Primary()
	req := b.sign(t, primary, e.View(), &PrepareRequest{ProposalHash: proposal, Height: e.Height()})
	if _, err := e.ProcessMessage(req); err != nil {
		t.Fatalf("prepare request: %v", err)
	}
	for _, v := range backups {
		resp := b.sign(t, v, e.View(), &PrepareResponse{PreparationHash: proposal})
		if _, err := e.ProcessMessage(resp); err != nil {
			t.Fatalf("prepare response from %d: %v", v, err)
		}
	}
}
