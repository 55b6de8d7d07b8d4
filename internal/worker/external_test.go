package worker

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"chainweb-mining-client/internal/work"
)

// TestExternalWorkerBinaryFraming exercises the raw target(32) || work(286)
// stdin framing and the 286-byte solved-Work stdout framing against a
// subprocess that simply echoes the trailing 286 bytes of its input back
// out, standing in for a real external miner.
func TestExternalWorkerBinaryFraming(t *testing.T) {
	var w work.Work
	w = w.SetNonce(123456789)

	e := &External{Command: "sh", Args: []string{"-c", "tail -c 286"}}

	res, err := e.Mine(context.Background(), w, work.AllOnes)
	require.NoError(t, err)
	require.Equal(t, w, res.Work)
	require.Equal(t, w.Digest(), res.Digest)
}

func TestExternalWorkerCancellationKillsSubprocess(t *testing.T) {
	e := &External{Command: "sleep", Args: []string{"30"}, KillGrace: 100 * time.Millisecond}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := e.Mine(ctx, work.Work{}, work.AllOnes)
		done <- err
	}()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.ErrorIs(t, err, ErrCancelled)
	case <-time.After(2 * time.Second):
		t.Fatal("external worker did not stop after cancellation")
	}
}
