package stratum

import (
	"math/big"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"chainweb-mining-client/internal/work"
)

func TestPeriodStateRecordShareFiresEveryRetargetEvery(t *testing.T) {
	p := newPeriodState()
	now := time.Unix(1700000000, 0)

	for i := 0; i < retargetEvery-1; i++ {
		require.False(t, p.recordShare(now.Add(time.Duration(i)*time.Second)))
	}
	require.True(t, p.recordShare(now.Add(retargetEvery*time.Second)))
	require.Equal(t, 0, p.sinceRetarget)
}

func TestPeriodStateEstimateHashrateNeedsMinimumWindow(t *testing.T) {
	p := newPeriodState()
	now := time.Unix(1700000000, 0)

	for i := 0; i < minWindowForEstimate-1; i++ {
		p.recordShare(now.Add(time.Duration(i) * time.Second))
	}
	require.Zero(t, p.estimateHashrate(work.AllOnes))

	p.recordShare(now.Add(minWindowForEstimate * time.Second))
	require.Greater(t, p.estimateHashrate(work.AllOnes), 0.0)
}

func TestDifficultyConfigRetargetTightensTowardJobTarget(t *testing.T) {
	cfg := DifficultyConfig{TargetTimeSec: 10}
	p := newPeriodState()

	jobTarget, err := work.FromInt(big.NewInt(1 << 40))
	require.NoError(t, err)
	currentTarget := work.AllOnes

	now := time.Unix(1700000000, 0)
	for i := 0; i < minWindowForEstimate; i++ {
		p.recordShare(now.Add(time.Duration(i) * time.Millisecond))
	}

	newTarget, changed := cfg.retarget(p, currentTarget, jobTarget)
	require.True(t, changed)
	// Tightened relative to the prior (maximally easy) target, but never
	// past the job's own real-block target.
	require.Equal(t, -1, newTarget.Compare(currentTarget))
	require.Equal(t, 1, newTarget.Compare(jobTarget))
}

func TestDifficultyConfigRetargetClampsToJobTarget(t *testing.T) {
	cfg := DifficultyConfig{TargetTimeSec: 10}
	p := newPeriodState()

	jobTarget, err := work.FromInt(big.NewInt(1 << 40))
	require.NoError(t, err)
	// A hard currentTarget (2^246 attempts expected per share) combined with
	// shares a full second apart implies an enormous hashrate, driving
	// the naive ideal target far below jobTarget — retarget must clamp
	// back up to jobTarget rather than hand out an impossible target.
	currentTarget, err := work.FromInt(big.NewInt(1 << 10))
	require.NoError(t, err)

	now := time.Unix(1700000000, 0)
	for i := 0; i < minWindowForEstimate; i++ {
		p.recordShare(now.Add(time.Duration(i) * time.Second))
	}

	newTarget, changed := cfg.retarget(p, currentTarget, jobTarget)
	require.True(t, changed)
	require.Equal(t, jobTarget, newTarget)
}

func TestEaseTargetDoublesAndCapsAtAllOnes(t *testing.T) {
	small, err := work.FromInt(big.NewInt(1 << 10))
	require.NoError(t, err)

	doubled := easeTarget(small)
	want, err := work.FromInt(new(big.Int).Lsh(big.NewInt(1<<10), 1))
	require.NoError(t, err)
	require.Equal(t, want, doubled)

	require.Equal(t, work.AllOnes, easeTarget(work.AllOnes))
}
