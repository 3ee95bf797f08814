// Package crypto wraps the curve operations used by the consensus core.
//
// Validator keys are secp256k1 points; signatures are DER-encoded ECDSA
// over a sha256 digest of the canonical message encoding. The consensus
// engine only ever calls VerifySignature; signing lives here too so that
// the service and the tests can produce payloads the same way a wallet
// would.
package crypto

import (
	"crypto/sha256"
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/ecdsa"

	"github.com/neva-network/gneva/common"
)

// PubKeyLength is the length of a serialized compressed public key.
const PubKeyLength = 33

var (
	ErrInvalidPubKey    = errors.New("crypto: invalid public key")
	ErrInvalidSignature = errors.New("crypto: signature verification failed")
)

// PublicKey is a compressed secp256k1 public key.
type PublicKey [PubKeyLength]byte

// PrivateKey wraps a secp256k1 scalar.
type PrivateKey struct {
	key *btcec.PrivateKey
}

// GenerateKey creates a fresh random private key.
func GenerateKey() (*PrivateKey, error) {
	key, err := btcec.NewPrivateKey()
	if err != nil {
		return nil, fmt.Errorf("crypto: generate key: %w", err)
	}
	return &PrivateKey{key: key}, nil
}

// PrivateKeyFromBytes interprets b as a 32-byte big-endian scalar.
func PrivateKeyFromBytes(b []byte) (*PrivateKey, error) {
	if len(b) != 32 {
		return nil, fmt.Errorf("crypto: private key must be 32 bytes, got %d", len(b))
	}
	key, _ := btcec.PrivKeyFromBytes(b)
	if key.Key.IsZero() {
		return nil, errors.New("crypto: private key is zero")
	}
	return &PrivateKey{key: key}, nil
}

// PublicKey returns the compressed public key for the private key.
func (p *PrivateKey) PublicKey() PublicKey {
	var pub PublicKey
	copy(pub[:], p.key.PubKey().SerializeCompressed())
	return pub
}

// Sign produces a DER-encoded ECDSA signature over digest.
func (p *PrivateKey) Sign(digest common.Hash) []byte {
	return ecdsa.Sign(p.key, digest.Bytes()).Serialize()
}

// ParsePubKey validates that b is a point on the curve in compressed form.
func ParsePubKey(b []byte) (PublicKey, error) {
	if len(b) != PubKeyLength {
		return PublicKey{}, fmt.Errorf("%w: want %d bytes, got %d", ErrInvalidPubKey, PubKeyLength, len(b))
	}
	if _, err := btcec.ParsePubKey(b); err != nil {
		return PublicKey{}, fmt.Errorf("%w: %v", ErrInvalidPubKey, err)
	}
	var pub PublicKey
	copy(pub[:], b)
	return pub, nil
}

// Bytes returns the compressed serialization of the key.
func (pub PublicKey) Bytes() []byte {
	out := make([]byte, PubKeyLength)
	copy(out, pub[:])
	return out
}

// VerifySignature checks a DER-encoded ECDSA signature against digest and
// the given compressed public key.
func VerifySignature(pub PublicKey, digest common.Hash, sig []byte) error {
	key, err := btcec.ParsePubKey(pub[:])
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidPubKey, err)
	}
	parsed, err := ecdsa.ParseDERSignature(sig)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	if !parsed.Verify(digest.Bytes(), key) {
		return ErrInvalidSignature
	}
	return nil
}

// Sha256 computes the sha256 digest of data.
func Sha256(data []byte) common.Hash {
	return common.Hash(sha256.Sum256(data))
}
