package stratum

import (
	"fmt"
	"sync"
)

// Nonce1Size is the byte width of the server-assigned nonce prefix. The
// remaining NonceSize-Nonce1Size bytes (Nonce2) are chosen by the miner.
// Two bytes gives 65536 concurrent sessions per server, comfortably
// above any single Stratum endpoint's realistic connection count.
const Nonce1Size = 2

// Nonce1Space is the number of distinct Nonce1 values available.
const Nonce1Space = 1 << (8 * Nonce1Size)

// Nonce2Size is the byte width of the miner-chosen nonce suffix.
const Nonce2Size = NonceTotalSize - Nonce1Size

// NonceTotalSize is the full 8-byte nonce field width, re-exported here
// so Nonce1Size/Nonce2Size are defined relative to one constant.
const NonceTotalSize = 8

// ErrNonce1PoolExhausted is returned by Nonce1Pool.Allocate when every
// prefix in the space is already assigned to a live session.
var ErrNonce1PoolExhausted = fmt.Errorf("stratum: nonce1 pool exhausted (max %d concurrent sessions)", Nonce1Space)

// Nonce1Pool hands out unique Nonce1 prefixes to sessions and reclaims
// them when a session closes, so the server never assigns two live
// sessions overlapping nonce ranges.
type Nonce1Pool struct {
	mu    sync.Mutex
	inUse map[uint16]bool
}

// NewNonce1Pool returns an empty pool.
func NewNonce1Pool() *Nonce1Pool {
	return &Nonce1Pool{inUse: make(map[uint16]bool)}
}

// Allocate reserves and returns the smallest unused Nonce1 value. It
// rejects the request outright rather than queuing when the pool is
// exhausted: a Stratum server at that many concurrent sessions needs
// operator intervention, not a miner stuck waiting for a prefix.
func (p *Nonce1Pool) Allocate() (uint16, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(p.inUse) >= Nonce1Space {
		return 0, ErrNonce1PoolExhausted
	}

	for i := 0; i < Nonce1Space; i++ {
		candidate := uint16(i)
		if !p.inUse[candidate] {
			p.inUse[candidate] = true
			return candidate, nil
		}
	}
	return 0, ErrNonce1PoolExhausted
}

// Release returns a Nonce1 value to the pool.
func (p *Nonce1Pool) Release(n uint16) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.inUse, n)
}

// InUse reports how many prefixes are currently allocated.
func (p *Nonce1Pool) InUse() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.inUse)
}
