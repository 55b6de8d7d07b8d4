package preempt

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"chainweb-mining-client/internal/work"
)

func TestImmediateAlwaysPreempts(t *testing.T) {
	s := &Immediate{}
	var a, b work.Work
	require.Equal(t, Preempt, s.ShouldPreempt(a, b))
	require.Equal(t, int64(1), s.Counters.Preempted)
}

func TestConditionalOnlyPreemptsOnParentChange(t *testing.T) {
	s := &Conditional{}
	var a, b work.Work

	require.Equal(t, Continue, s.ShouldPreempt(a, b))

	b = b.SetNonce(12345) // outside compared range, no effect
	require.Equal(t, Continue, s.ShouldPreempt(a, b))

	bytes := b.Bytes()
	bytes[10] = 0xFF
	changed, err := work.New(bytes)
	require.NoError(t, err)
	require.Equal(t, Preempt, s.ShouldPreempt(a, changed))
}

func TestRateLimitedCoalescesBursts(t *testing.T) {
	s := &RateLimited{Interval: 50 * time.Millisecond}
	var a, b work.Work

	require.Equal(t, Preempt, s.ShouldPreempt(a, b))
	require.Equal(t, Continue, s.ShouldPreempt(a, b))

	time.Sleep(60 * time.Millisecond)
	require.Equal(t, Preempt, s.ShouldPreempt(a, b))
}
