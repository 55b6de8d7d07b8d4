// Package preempt implements the strategies the coordinator uses to
// decide whether an in-flight mining attempt should be cancelled in
// favor of newly arrived work.
package preempt

import (
	"sync/atomic"
	"time"

	"chainweb-mining-client/internal/work"
)

// Decision is what a Strategy recommends when new work arrives while a
// worker is already mining.
type Decision int

const (
	// Continue leaves the in-flight attempt running; the new work is
	// discarded.
	Continue Decision = iota
	// Preempt cancels the in-flight attempt and dispatches the new work
	// immediately.
	Preempt
)

// Strategy decides whether newWork should preempt an attempt already in
// progress against oldWork.
type Strategy interface {
	ShouldPreempt(oldWork, newWork work.Work) Decision
}

// Counters tracks how many preemption decisions a Strategy has made, for
// observability.
type Counters struct {
	Preempted int64
	Continued int64
}

func (c *Counters) record(d Decision) {
	if d == Preempt {
		atomic.AddInt64(&c.Preempted, 1)
	} else {
		atomic.AddInt64(&c.Continued, 1)
	}
}

// Immediate always preempts: any new work cancels whatever is running.
// This is the correct default for Chainweb, where stale work can never
// produce an acceptable block.
type Immediate struct {
	Counters Counters
}

// ShouldPreempt implements Strategy.
func (s *Immediate) ShouldPreempt(oldWork, newWork work.Work) Decision {
	s.Counters.record(Preempt)
	return Preempt
}

// preemptCompareStart and preemptCompareEnd bound the byte range of Work
// compared by Conditional: Chainweb's parent-block-hash field, the
// portion of the header that actually identifies which chain tip a
// worker is mining against.
const (
	preemptCompareStart = 4
	preemptCompareEnd   = 36
)

// Conditional preempts only when the compared header range differs
// between old and new work, i.e. the parent actually changed. This
// avoids cancelling a live attempt for work that is byte-identical
// except for fields the session doesn't care about (e.g. a pure nonce
// refresh of the same parent).
type Conditional struct {
	Counters Counters
}

// ShouldPreempt implements Strategy.
func (s *Conditional) ShouldPreempt(oldWork, newWork work.Work) Decision {
	oldBytes := oldWork.Bytes()[preemptCompareStart:preemptCompareEnd]
	newBytes := newWork.Bytes()[preemptCompareStart:preemptCompareEnd]

	for i := range oldBytes {
		if oldBytes[i] != newBytes[i] {
			s.Counters.record(Preempt)
			return Preempt
		}
	}
	s.Counters.record(Continue)
	return Continue
}

// RateLimited preempts immediately, like Immediate, but never more often
// than once per Interval: updates arriving faster than that are
// coalesced, so a burst of near-simultaneous node notifications causes
// at most one worker restart.
type RateLimited struct {
	Interval time.Duration
	Counters Counters

	lastPreempt atomic.Int64 // unix nanos
}

// ShouldPreempt implements Strategy.
func (s *RateLimited) ShouldPreempt(oldWork, newWork work.Work) Decision {
	now := time.Now().UnixNano()
	last := s.lastPreempt.Load()

	if last != 0 && time.Duration(now-last) < s.Interval {
		s.Counters.record(Continue)
		return Continue
	}

	if s.lastPreempt.CompareAndSwap(last, now) {
		s.Counters.record(Preempt)
		return Preempt
	}
	// Lost the race to another goroutine updating lastPreempt; treat as
	// already-handled for this call.
	s.Counters.record(Continue)
	return Continue
}
