// Package work defines the binary data model shared by the node client,
// the worker implementations, and the Stratum server: the opaque block
// header blob ("Work"), its nonce field, the 256-bit difficulty target,
// and the chain identifier.
package work

import (
	"encoding/binary"
	"fmt"

	"golang.org/x/crypto/blake2s"
)

const (
	// Size is the exact byte length of a Chainweb block header blob.
	Size = 286

	// NonceOffset is the byte offset of the 8-byte little-endian nonce
	// field within a Work.
	NonceOffset = 278

	// NonceSize is the byte length of the nonce field.
	NonceSize = 8
)

// Work is a 286-byte candidate block header. It is value-typed: copying a
// Work copies its bytes, so callers may pass it by value freely without
// aliasing the original. The zero value is 286 zero bytes, a valid (if
// not very useful) Work.
type Work [Size]byte

// New validates that b is exactly Size bytes and returns it as a Work.
func New(b []byte) (Work, error) {
	var w Work
	if len(b) != Size {
		return w, fmt.Errorf("work: expected %d bytes, got %d", Size, len(b))
	}
	copy(w[:], b)
	return w, nil
}

// Bytes returns a freshly allocated copy of the underlying 286 bytes.
func (w Work) Bytes() []byte {
	b := make([]byte, Size)
	copy(b, w[:])
	return b
}

// Nonce reads the 8-byte little-endian nonce field.
func (w Work) Nonce() uint64 {
	return binary.LittleEndian.Uint64(w[NonceOffset : NonceOffset+NonceSize])
}

// SetNonce returns a copy of w with the nonce field overwritten; all other
// bytes are unchanged. w itself is never mutated.
func (w Work) SetNonce(n uint64) Work {
	out := w
	binary.LittleEndian.PutUint64(out[NonceOffset:NonceOffset+NonceSize], n)
	return out
}

// Digest computes the Blake2s-256 mining digest over the full 286 bytes.
func (w Work) Digest() [32]byte {
	return blake2s.Sum256(w[:])
}

// String returns a short summary showing the nonce in decimal, useful in
// log lines.
func (w Work) String() string {
	return fmt.Sprintf("work(nonce=%d)", w.Nonce())
}
