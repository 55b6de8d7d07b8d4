package worker

import (
	"context"
	"math"
	"math/big"
	"math/rand"
	"time"

	"chainweb-mining-client/internal/work"
)

// twoTo256 is 2^256, the size of the digest space.
var twoTo256 = new(big.Float).SetInt(new(big.Int).Lsh(big.NewInt(1), 256))

// Simulation does not hash at all: it samples a waiting time from an
// exponential distribution whose rate is tuned so the expected time to
// solution matches what a real miner at HashRate would see against
// target, then sleeps that long and returns a Work with a random nonce
// (not an actually-verified solution). It exists for load-testing the
// coordinator and Stratum server without burning CPU on real hashing.
type Simulation struct {
	// HashRate is the simulated hash rate in hashes/second.
	HashRate float64

	// Rand is used to sample the waiting time and the winning nonce; if
	// nil, each Mine call creates a fresh time-seeded source. Tests inject a seeded
	// *rand.Rand for determinism.
	Rand *rand.Rand
}

// Name implements Worker.
func (s *Simulation) Name() string { return "simulation" }

// Mine implements Worker.
func (s *Simulation) Mine(ctx context.Context, w work.Work, target work.Target) (work.MiningResult, error) {
	r := s.Rand
	if r == nil {
		r = rand.New(rand.NewSource(time.Now().UnixNano()))
	}

	rate := s.HashRate
	if rate <= 0 {
		rate = 1e6
	}

	// Probability a single hash meets target is target/2^256. The
	// expected number of hashes until a meet is its reciprocal, and the
	// expected waiting time is that divided by the hash rate. Sampling
	// from Exp(1/mean) reproduces the real process's memorylessness.
	p := probabilityOfMeeting(target)
	meanHashes := 1.0 / p
	meanSeconds := meanHashes / rate

	waitSec := -meanSeconds * math.Log(1-r.Float64())
	wait := time.Duration(math.MaxInt64)
	if waitSec < float64(math.MaxInt64)/float64(time.Second) {
		wait = time.Duration(waitSec * float64(time.Second))
	}

	timer := time.NewTimer(wait)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return work.MiningResult{}, ErrCancelled
	case <-timer.C:
	}

	nonce := r.Uint64()
	solved := w.SetNonce(nonce)
	return work.MiningResult{Work: solved, Digest: solved.Digest()}, nil
}

// probabilityOfMeeting returns target/2^256 as a float64, clamped away
// from zero so meanHashes never divides by zero for a non-trivial
// target.
func probabilityOfMeeting(target work.Target) float64 {
	n := target.Int()
	if n.Sign() <= 0 {
		return math.SmallestNonzeroFloat64
	}
	f := new(big.Float).SetInt(n)
	f.Quo(f, twoTo256)
	p, _ := f.Float64()
	if p <= 0 {
		return math.SmallestNonzeroFloat64
	}
	return p
}
