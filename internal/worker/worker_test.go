package worker

import (
	"context"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"chainweb-mining-client/internal/work"
)

func TestCPUMineFindsSolutionAgainstEasyTarget(t *testing.T) {
	c := &CPU{Threads: 2, BatchSize: 64}

	var w work.Work
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	res, err := c.Mine(ctx, w, work.AllOnes)
	require.NoError(t, err)
	require.True(t, work.AllOnes.Meets(res.Digest))
	require.NoError(t, res.Verify(work.AllOnes))
}

func TestCPUMineCancelledReturnsErrCancelled(t *testing.T) {
	c := &CPU{Threads: 2, BatchSize: 64}

	var w work.Work
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	// Zero target can never be met, so Mine must run until ctx expires.
	_, err := c.Mine(ctx, w, work.Zero)
	require.ErrorIs(t, err, ErrCancelled)
}

func TestConstantDelayMineIncrementsNonce(t *testing.T) {
	cd := &ConstantDelay{Delay: time.Millisecond}
	var w work.Work

	r1, err := cd.Mine(context.Background(), w, work.AllOnes)
	require.NoError(t, err)
	require.Equal(t, uint64(1), r1.Work.Nonce())

	r2, err := cd.Mine(context.Background(), w, work.AllOnes)
	require.NoError(t, err)
	require.Equal(t, uint64(2), r2.Work.Nonce())
}

func TestConstantDelayMineCancellation(t *testing.T) {
	cd := &ConstantDelay{Delay: time.Second}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := cd.Mine(ctx, work.Work{}, work.AllOnes)
	require.ErrorIs(t, err, ErrCancelled)
}

func TestSimulationMineRespectsCancellation(t *testing.T) {
	s := &Simulation{HashRate: 1, Rand: rand.New(rand.NewSource(1))}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	// With a very low hash rate and a hard target, the expected wait
	// vastly exceeds the context deadline.
	_, err := s.Mine(ctx, work.Work{}, work.Zero)
	require.ErrorIs(t, err, ErrCancelled)
}

func TestSimulationMineEventuallyReturnsForEasyTarget(t *testing.T) {
	s := &Simulation{HashRate: 1e9, Rand: rand.New(rand.NewSource(1))}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	res, err := s.Mine(ctx, work.Work{}, work.AllOnes)
	require.NoError(t, err)
	require.NotZero(t, res.Work.Nonce())
}
