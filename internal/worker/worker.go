// Package worker defines the pluggable mining backend abstraction and its
// concrete implementations: CPU hashing, an external subprocess, a
// statistical simulation, a fixed-delay stub, and an HTTP-triggered
// on-demand worker.
package worker

import (
	"context"
	"errors"

	"chainweb-mining-client/internal/work"
)

// ErrCancelled is returned by Mine when ctx is cancelled before a
// solution is found. Callers distinguish this from a real error: it
// means "stopped on request", not "something went wrong".
var ErrCancelled = errors.New("worker: mining cancelled")

// Worker is the single operation every mining backend implements: given a
// Work and the Target it must meet, search the nonce space until either a
// solution is found, ctx is cancelled, or an unrecoverable error occurs.
type Worker interface {
	// Mine searches for a nonce such that Digest(w') meets target, where
	// w' is w with its nonce field overwritten. It returns the solved
	// Work and its digest on success, ErrCancelled if ctx is done before
	// a solution was found, or another error on worker failure.
	Mine(ctx context.Context, w work.Work, target work.Target) (work.MiningResult, error)

	// Name identifies the worker implementation in logs and metrics.
	Name() string
}
