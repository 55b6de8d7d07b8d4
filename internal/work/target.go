package work

import (
	"encoding/hex"
	"fmt"
	"math/big"
)

// Target is a 256-bit little-endian integer upper bound. A digest h meets
// a Target t iff h <= t when both are interpreted as 256-bit
// little-endian integers (compared from the most-significant byte, index
// 31, downward).
type Target [32]byte

// Zero is the target that no digest can ever meet (every hash is > 0
// only if the hash itself is non-zero, which is true with overwhelming
// probability — see spec invariant 11).
var Zero = Target{}

// AllOnes is the target every digest meets on the first try (spec
// invariant 10).
var AllOnes = func() Target {
	var t Target
	for i := range t {
		t[i] = 0xFF
	}
	return t
}()

// FromBytes validates a 32-byte little-endian buffer and returns it as a
// Target.
func FromBytes(b []byte) (Target, error) {
	var t Target
	if len(b) != 32 {
		return t, fmt.Errorf("target: expected 32 bytes, got %d", len(b))
	}
	copy(t[:], b)
	return t, nil
}

// Bytes returns a freshly allocated copy of the 32 little-endian bytes.
func (t Target) Bytes() []byte {
	b := make([]byte, 32)
	copy(b, t[:])
	return b
}

// Int converts the little-endian Target into a big.Int.
func (t Target) Int() *big.Int {
	be := make([]byte, 32)
	for i := 0; i < 32; i++ {
		be[i] = t[31-i]
	}
	return new(big.Int).SetBytes(be)
}

// FromInt converts a non-negative big.Int no larger than 2^256-1 into a
// 32-byte little-endian Target. It is the inverse of Int (spec invariant
// 8: Target <-> big.Int <-> 32-byte buffer round-trips in both
// directions).
func FromInt(n *big.Int) (Target, error) {
	var t Target
	if n.Sign() < 0 {
		return t, fmt.Errorf("target: negative value")
	}
	be := n.Bytes()
	if len(be) > 32 {
		return t, fmt.Errorf("target: value exceeds 256 bits")
	}
	for i := 0; i < len(be); i++ {
		t[len(be)-1-i] = be[i]
	}
	return t, nil
}

// Hex returns the target as a lowercase hex string, little-endian byte
// order (matching the wire format).
func (t Target) Hex() string {
	return hex.EncodeToString(t[:])
}

// compareLE compares two 32-byte buffers as little-endian 256-bit
// integers, returning -1, 0, or 1 the way bytes.Compare does for
// big-endian buffers.
func compareLE(a, b [32]byte) int {
	for i := 31; i >= 0; i-- {
		if a[i] != b[i] {
			if a[i] < b[i] {
				return -1
			}
			return 1
		}
	}
	return 0
}

// Meets reports whether digest meets this target, i.e. digest <= target.
func (t Target) Meets(digest [32]byte) bool {
	return compareLE(digest, [32]byte(t)) <= 0
}

// Compare orders two Targets as 256-bit little-endian integers.
func (t Target) Compare(other Target) int {
	return compareLE([32]byte(t), [32]byte(other))
}
