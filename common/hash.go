// Package common contains the small value types shared across the node.
package common

import (
	"encoding/hex"
	"fmt"
)

// HashLength is the expected length of a hash in bytes.
const HashLength = 32

// Hash represents the 32 byte sha256 hash of arbitrary data.
type Hash [HashLength]byte

// BytesToHash sets b to hash. If b is larger than len(h), b will be
// cropped from the left.
func BytesToHash(b []byte) Hash {
	var h Hash
	h.SetBytes(b)
	return h
}

// HexToHash sets byte representation of s to hash. If s is larger than
// len(h), s will be cropped from the left.
func HexToHash(s string) Hash {
	return BytesToHash(fromHex(s))
}

// SetBytes sets the hash to the value of b. If b is larger than len(h),
// b will be cropped from the left.
func (h *Hash) SetBytes(b []byte) {
	if len(b) > len(h) {
		b = b[len(b)-HashLength:]
	}
	copy(h[HashLength-len(b):], b)
}

// Bytes gets the byte representation of the underlying hash.
func (h Hash) Bytes() []byte { return h[:] }

// Hex converts a hash to a hex string with a 0x prefix.
func (h Hash) Hex() string { return "0x" + hex.EncodeToString(h[:]) }

// IsZero reports whether the hash is the all-zero value.
func (h Hash) IsZero() bool { return h == Hash{} }

// String implements the fmt.Stringer interface.
func (h Hash) String() string { return h.Hex() }

// Format implements fmt.Formatter, forcing the byte slice rendering for %v.
func (h Hash) Format(s fmt.State, c rune) {
	switch c {
	case 'x', 'X', 'v', 's':
		fmt.Fprint(s, h.Hex())
	default:
		fmt.Fprintf(s, "%%!%c(common.Hash=%s)", c, h.Hex())
	}
}

func fromHex(s string) []byte {
	if len(s) >= 2 && s[0] == '0' && (s[1] == 'x' || s[1] == 'X') {
		s = s[2:]
	}
	if len(s)%2 == 1 {
		s = "0" + s
	}
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil
	}
	return b
}
