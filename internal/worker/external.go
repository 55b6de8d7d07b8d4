package worker

import (
	"context"
	"fmt"
	"io"
	"os/exec"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"chainweb-mining-client/internal/work"
)

// External delegates mining to a subprocess over a raw binary framing:
// Target (32 bytes) followed by Work (286 bytes) is written to its
// stdin, and the subprocess writes back the full 286-byte solved Work
// on stdout once it finds a nonce. This lets a GPU or FPGA miner plug in
// without the node process needing to know how it hashes.
type External struct {
	// Command is the executable path; Args are passed verbatim.
	Command string
	Args    []string

	// KillGrace is how long to wait after SIGTERM before escalating to
	// SIGKILL on cancellation. Zero means 2 seconds.
	KillGrace time.Duration

	Log logrus.FieldLogger
}

// Name implements Worker.
func (e *External) Name() string { return "external" }

// Mine implements Worker.
func (e *External) Mine(ctx context.Context, w work.Work, target work.Target) (work.MiningResult, error) {
	log := e.Log
	if log == nil {
		log = logrus.StandardLogger()
	}

	cmd := exec.Command(e.Command, e.Args...)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return work.MiningResult{}, fmt.Errorf("external worker: stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return work.MiningResult{}, fmt.Errorf("external worker: stdout pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return work.MiningResult{}, fmt.Errorf("external worker: start: %w", err)
	}

	// cmd.Wait must be called exactly once; a single goroutine owns it
	// and everyone else learns the exit status from waitErrCh.
	waitErrCh := make(chan error, 1)
	go func() { waitErrCh <- cmd.Wait() }()

	grace := e.KillGrace
	if grace <= 0 {
		grace = 2 * time.Second
	}

	cancelled := make(chan struct{})
	stopWatch := make(chan struct{})
	go e.watchCancellation(ctx, cmd, grace, log, stopWatch, cancelled)
	defer close(stopWatch)

	frame := make([]byte, 0, 32+work.Size)
	frame = append(frame, target.Bytes()...)
	frame = append(frame, w.Bytes()...)
	if _, err := stdin.Write(frame); err != nil {
		<-waitErrCh
		return work.MiningResult{}, fmt.Errorf("external worker: write stdin: %w", err)
	}
	stdin.Close()

	type readResult struct {
		buf []byte
		err error
	}
	readDone := make(chan readResult, 1)
	go func() {
		buf := make([]byte, work.Size)
		_, err := io.ReadFull(stdout, buf)
		readDone <- readResult{buf: buf, err: err}
	}()

	var solvedBytes []byte
	select {
	case r := <-readDone:
		if r.err != nil {
			<-waitErrCh
			if ctx.Err() != nil {
				return work.MiningResult{}, ErrCancelled
			}
			return work.MiningResult{}, fmt.Errorf("external worker: read solved work: %w", r.err)
		}
		solvedBytes = r.buf
	case <-cancelled:
		<-waitErrCh
		return work.MiningResult{}, ErrCancelled
	}
	<-waitErrCh

	solved, err := work.New(solvedBytes)
	if err != nil {
		return work.MiningResult{}, fmt.Errorf("external worker: malformed solved work: %w", err)
	}
	digest := solved.Digest()
	if !target.Meets(digest) {
		return work.MiningResult{}, fmt.Errorf("external worker: reported nonce does not meet target")
	}
	return work.MiningResult{Work: solved, Digest: digest}, nil
}

// watchCancellation sends SIGTERM (escalating to SIGKILL after grace) as
// soon as ctx is cancelled, and signals cancelled so Mine can stop
// waiting on subprocess output. It exits without signaling anything if
// stopWatch closes first (the subprocess finished on its own).
func (e *External) watchCancellation(ctx context.Context, cmd *exec.Cmd, grace time.Duration, log logrus.FieldLogger, stopWatch <-chan struct{}, cancelled chan<- struct{}) {
	select {
	case <-stopWatch:
		return
	case <-ctx.Done():
	}
	close(cancelled)

	if cmd.Process == nil {
		return
	}
	if err := cmd.Process.Signal(syscall.SIGTERM); err != nil {
		log.WithError(err).Warn("external worker: SIGTERM failed")
	}

	timer := time.NewTimer(grace)
	defer timer.Stop()
	select {
	case <-stopWatch:
	case <-timer.C:
		log.Warn("external worker: did not exit after SIGTERM, sending SIGKILL")
		cmd.Process.Kill()
	}
}
