package worker

import (
	"context"
	"time"

	"chainweb-mining-client/internal/work"
)

// ConstantDelay is a non-proof-of-work stub: it sleeps for a fixed
// duration, increments the nonce by one, and always "succeeds". It is
// useful for driving the coordinator and Stratum plumbing at a
// predictable cadence in integration tests, without any relation to
// target difficulty.
type ConstantDelay struct {
	Delay time.Duration

	nonce uint64
}

// Name implements Worker.
func (c *ConstantDelay) Name() string { return "constant-delay" }

// Mine implements Worker.
func (c *ConstantDelay) Mine(ctx context.Context, w work.Work, target work.Target) (work.MiningResult, error) {
	timer := time.NewTimer(c.Delay)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return work.MiningResult{}, ErrCancelled
	case <-timer.C:
	}

	c.nonce++
	solved := w.SetNonce(c.nonce)
	return work.MiningResult{Work: solved, Digest: solved.Digest()}, nil
}
