package work

import "fmt"

// MiningResult pairs a solved Work with its mining digest. The solved
// Work equals the original Work with bytes NonceOffset..NonceOffset+8
// overwritten by the winning nonce; every other byte is preserved
// verbatim.
type MiningResult struct {
	Work   Work
	Digest [32]byte
}

// Verify reports an error if the result's digest does not actually meet
// target, or does not match the recomputed digest of Work — this is the
// check the coordinator runs on every worker result before trusting it
// (spec §4.2: "the returned digest, recomputed by the caller, must meet
// target; otherwise coordinator discards it as a worker bug").
func (r MiningResult) Verify(target Target) error {
	recomputed := r.Work.Digest()
	if recomputed != r.Digest {
		return fmt.Errorf("mining result: digest mismatch (worker bug)")
	}
	if !target.Meets(recomputed) {
		return fmt.Errorf("mining result: digest does not meet target (worker bug)")
	}
	return nil
}
