package stratum

import (
	"math/big"
	"time"

	"chainweb-mining-client/internal/work"
)

var twoTo256 = new(big.Int).Lsh(big.NewInt(1), 256)
var twoTo256Minus1 = new(big.Int).Sub(twoTo256, big.NewInt(1))

// DifficultyMode selects how a session's share-acceptance target is
// derived from the chain's real block target.
type DifficultyMode int

const (
	// DifficultyModeBlock hands out the chain's real target directly:
	// every accepted share is itself a valid block solution. Only
	// sensible for solo mining or very low hashrate sessions.
	DifficultyModeBlock DifficultyMode = iota

	// DifficultyModeFixed scales the chain target by a fixed difficulty
	// level L set when the session is created and never adjusted.
	DifficultyModeFixed

	// DifficultyModePeriod targets a configured average time T between
	// accepted shares, continuously retargeting per session (vardiff).
	DifficultyModePeriod
)

// DifficultyConfig parameterizes session difficulty management.
type DifficultyConfig struct {
	Mode DifficultyMode

	// FixedLevel is the scaling factor used in DifficultyModeFixed.
	FixedLevel float64

	// TargetTimeSec is the desired average seconds between qualifying
	// shares in DifficultyModePeriod.
	TargetTimeSec float64

	// RetargetTimeSec is how often (at most) an idle session's
	// difficulty is reconsidered in DifficultyModePeriod absent a fresh
	// share.
	RetargetTimeSec float64

	// VariancePct is kept for config-file compatibility with older
	// deployments; the ring-buffer retarget below does not use it.
	VariancePct float64

	MinLevel float64
	MaxLevel float64
}

func (c DifficultyConfig) retargetInterval() time.Duration {
	return time.Duration(c.RetargetTimeSec * float64(time.Second))
}

// LevelTarget scales chainTarget up by level (level >= 1 makes shares
// easier to find than a real block, i.e. a *larger* 256-bit integer
// target). A level of 1 reproduces the chain target exactly.
func LevelTarget(chainTarget work.Target, level float64) work.Target {
	if level <= 1 {
		return chainTarget
	}
	n := new(big.Float).SetInt(chainTarget.Int())
	n.Mul(n, big.NewFloat(level))

	scaled, _ := n.Int(nil)
	if scaled.Cmp(twoTo256Minus1) > 0 {
		scaled = twoTo256Minus1
	}

	t, err := work.FromInt(scaled)
	if err != nil {
		return work.AllOnes
	}
	return t
}

// levelFromTargets reports sessionTarget's easiness relative to
// jobTarget (sessionTarget / jobTarget, floored at 1), purely for
// MinerInfo/mining.set_difficulty reporting alongside a Period-mode
// target that is otherwise managed directly rather than via a level
// multiplier.
func levelFromTargets(jobTarget, sessionTarget work.Target) float64 {
	jt := new(big.Float).SetInt(jobTarget.Int())
	if jt.Sign() == 0 {
		return 1
	}
	st := new(big.Float).SetInt(sessionTarget.Int())
	ratio, _ := new(big.Float).Quo(st, jt).Float64()
	if ratio < 1 {
		return 1
	}
	return ratio
}

const (
	// shareWindowCap is K, the ring buffer's capacity in accepted-share
	// timestamps.
	shareWindowCap = 32

	// retargetEvery is M, how many qualifying shares accumulate between
	// target recomputations.
	retargetEvery = 8

	// minWindowForEstimate is the smallest ring size (n) the hashrate
	// estimate trusts.
	minWindowForEstimate = 4

	// hashrateSmoothing is the EMA weight given to each new hashrate
	// sample against the running estimate.
	hashrateSmoothing = 0.3
)

// periodState is a Session's Period-mode bookkeeping: a bounded ring of
// accepted-share timestamps and the exponentially smoothed hashrate
// estimate derived from it.
type periodState struct {
	times         []time.Time
	hashrate      float64
	sinceRetarget int
}

func newPeriodState() *periodState {
	return &periodState{}
}

// recordShare appends now to the ring, evicting the oldest entry past
// shareWindowCap, and reports whether retargetEvery shares have now
// accumulated since the last retarget.
func (p *periodState) recordShare(now time.Time) bool {
	p.times = append(p.times, now)
	if len(p.times) > shareWindowCap {
		p.times = p.times[1:]
	}
	p.sinceRetarget++
	if p.sinceRetarget >= retargetEvery {
		p.sinceRetarget = 0
		return true
	}
	return false
}

// estimateHashrate updates and returns p's smoothed hashrate estimate
// given the target the window's shares were accepted against. It leaves
// the estimate unchanged until the window holds at least
// minWindowForEstimate timestamps.
func (p *periodState) estimateHashrate(sessionTarget work.Target) float64 {
	n := len(p.times)
	if n < minWindowForEstimate {
		return p.hashrate
	}
	elapsed := p.times[n-1].Sub(p.times[0]).Seconds()
	if elapsed <= 0 {
		return p.hashrate
	}

	// Expected hash attempts per accepted share is 2^256/target, since a
	// hash meets the target with probability target/2^256.
	attemptsPerShare, _ := new(big.Float).Quo(
		new(big.Float).SetInt(twoTo256),
		new(big.Float).SetInt(sessionTarget.Int()),
	).Float64()

	sample := float64(n-1) * attemptsPerShare / elapsed
	if p.hashrate == 0 {
		p.hashrate = sample
	} else {
		p.hashrate = hashrateSmoothing*sample + (1-hashrateSmoothing)*p.hashrate
	}
	return p.hashrate
}

// retarget recomputes the session target from p's hashrate estimate so
// the expected time between accepted shares approaches
// cfg.TargetTimeSec: target = 2^256 / (hashrate * T), the inverse of the
// attempts-per-share relation estimateHashrate uses, clamped to
// [jobTarget, 2^256-1] so a session target is never harder than the
// real chain target it is ultimately compared against. Returns
// currentTarget unchanged (changed=false) until a usable estimate
// exists.
func (cfg DifficultyConfig) retarget(p *periodState, currentTarget, jobTarget work.Target) (work.Target, bool) {
	sample := p.estimateHashrate(currentTarget)
	if sample <= 0 || cfg.TargetTimeSec <= 0 {
		return currentTarget, false
	}

	ideal := new(big.Float).Quo(
		new(big.Float).SetInt(twoTo256),
		big.NewFloat(sample*cfg.TargetTimeSec),
	)
	idealInt, _ := ideal.Int(nil)
	if idealInt.Sign() < 0 {
		idealInt = big.NewInt(0)
	}
	if idealInt.Cmp(twoTo256Minus1) > 0 {
		idealInt = twoTo256Minus1
	}

	newTarget, err := work.FromInt(idealInt)
	if err != nil {
		return currentTarget, false
	}
	if newTarget.Compare(jobTarget) < 0 {
		newTarget = jobTarget
	}
	if newTarget == currentTarget {
		return currentTarget, false
	}
	return newTarget, true
}

// easeTarget doubles t (halving the implied difficulty), capped at
// AllOnes. Used to relax an idle session's Period-mode target instead of
// leaving it pinned at a hashrate the session hasn't demonstrated in a
// full retarget interval.
func easeTarget(t work.Target) work.Target {
	doubled := new(big.Int).Lsh(t.Int(), 1)
	if doubled.Cmp(twoTo256Minus1) > 0 {
		doubled = twoTo256Minus1
	}
	out, err := work.FromInt(doubled)
	if err != nil {
		return work.AllOnes
	}
	return out
}
