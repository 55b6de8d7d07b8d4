package worker

import (
	"context"
	"runtime"
	"sync"
	"sync/atomic"

	"chainweb-mining-client/internal/work"
)

// defaultBatchSize is how many nonces a CPU thread hashes between checks
// of the cancellation flag and the "won" flag. Too small and threads
// spend more time synchronizing than hashing; too large and cancellation
// latency suffers.
const defaultBatchSize = 4096

// CPU mines by partitioning the 64-bit nonce space across a fixed number
// of OS threads, each hashing its own stride and checking a shared atomic
// flag between batches.
type CPU struct {
	// Threads is the number of concurrent hashing threads. Zero means
	// runtime.NumCPU().
	Threads int

	// BatchSize overrides defaultBatchSize.
	BatchSize int
}

// Name implements Worker.
func (c *CPU) Name() string { return "cpu" }

// Mine implements Worker.
func (c *CPU) Mine(ctx context.Context, w work.Work, target work.Target) (work.MiningResult, error) {
	threads := c.Threads
	if threads <= 0 {
		threads = runtime.NumCPU()
	}
	batch := c.BatchSize
	if batch <= 0 {
		batch = defaultBatchSize
	}

	var won atomic.Bool
	resultCh := make(chan work.MiningResult, 1)

	cctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	wg.Add(threads)
	for t := 0; t < threads; t++ {
		go func(start uint64, stride uint64) {
			defer wg.Done()
			runtime.LockOSThread()
			defer runtime.UnlockOSThread()

			hashOneThread(cctx, w, target, start, stride, batch, &won, resultCh)
		}(uint64(t), uint64(threads))
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case res := <-resultCh:
		cancel()
		<-done
		return res, nil
	case <-ctx.Done():
		cancel()
		<-done
		return work.MiningResult{}, ErrCancelled
	}
}

// hashOneThread hashes nonces start, start+stride, start+2*stride, ...
// until it finds a solution, the shared won flag is set by a sibling
// thread, or ctx is cancelled. It checks for cancellation only between
// batches of batch hashes, trading a small amount of overshoot for much
// lower synchronization overhead.
func hashOneThread(ctx context.Context, w work.Work, target work.Target, start, stride uint64, batch int, won *atomic.Bool, resultCh chan<- work.MiningResult) {
	nonce := start
	for {
		for i := 0; i < batch; i++ {
			if won.Load() {
				return
			}

			candidate := w.SetNonce(nonce)
			digest := candidate.Digest()
			if target.Meets(digest) {
				if won.CompareAndSwap(false, true) {
					resultCh <- work.MiningResult{Work: candidate, Digest: digest}
				}
				return
			}

			nonce += stride
		}

		select {
		case <-ctx.Done():
			return
		default:
		}
	}
}
