// Package coordinator runs the main mining loop: it multiplexes node
// update notifications, worker results, and shutdown signals, ensuring
// exactly one mining attempt is ever in flight.
package coordinator

import (
	"context"
	"sync"

	"github.com/sirupsen/logrus"

	"chainweb-mining-client/internal/nodeclient"
	"chainweb-mining-client/internal/preempt"
	"chainweb-mining-client/internal/work"
	"chainweb-mining-client/internal/worker"
)

// NodeClient is the subset of nodeclient.Client the coordinator depends
// on, narrowed for testability.
type NodeClient interface {
	GetWork(ctx context.Context, account, predicate string, publicKeys []string) (nodeclient.WorkResponse, error)
	SubmitWork(ctx context.Context, solved work.Work) error
	Updates(ctx context.Context) <-chan nodeclient.UpdateEvent
}

// Coordinator owns the single worker invocation that is allowed to be
// in flight at any time: it cancels before dispatching, and waits for
// that cancellation to actually take effect before dispatching again,
// so two solved-Work submissions (and two live Worker.Mine calls) can
// never race.
type Coordinator struct {
	Node       NodeClient
	Worker     worker.Worker
	Strategy   preempt.Strategy
	Account    string
	Predicate  string
	PublicKeys []string

	Log logrus.FieldLogger
}

// Run drives the main loop until ctx is cancelled. It never returns an
// error on ordinary shutdown; only unrecoverable setup failures surface
// as errors.
func (c *Coordinator) Run(ctx context.Context) error {
	log := c.Log
	if log == nil {
		log = logrus.StandardLogger()
	}

	updates := c.Node.Updates(ctx)

	resultCh := make(chan work.MiningResult)
	errCh := make(chan error, 1)

	predicate := c.Predicate
	if predicate == "" {
		predicate = "keys-all"
	}

	var mineCancel context.CancelFunc
	var mineWG sync.WaitGroup
	var currentWork work.Work
	var currentTarget work.Target
	haveWork := false

	dispatch := func(resp nodeclient.WorkResponse) {
		if mineCancel != nil {
			mineCancel()
			mineWG.Wait()
		}
		mineCtx, cancel := context.WithCancel(ctx)
		mineCancel = cancel
		currentWork = resp.Work
		currentTarget = resp.Target
		haveWork = true

		mineWG.Add(1)
		go func() {
			defer mineWG.Done()
			res, err := c.Worker.Mine(mineCtx, resp.Work, resp.Target)
			if err != nil {
				if err == worker.ErrCancelled {
					return
				}
				select {
				case errCh <- err:
				case <-mineCtx.Done():
				}
				return
			}
			select {
			case resultCh <- res:
			case <-mineCtx.Done():
			}
		}()
	}

	fetchAndDispatch := func() {
		resp, err := c.Node.GetWork(ctx, c.Account, predicate, c.PublicKeys)
		if err != nil {
			log.WithError(err).Warn("coordinator: get-work failed")
			return
		}
		dispatch(resp)
	}

	resp, err := c.Node.GetWork(ctx, c.Account, predicate, c.PublicKeys)
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return err
	}
	dispatch(resp)

	for {
		select {
		case <-ctx.Done():
			if mineCancel != nil {
				mineCancel()
				mineWG.Wait()
			}
			return nil

		case _, ok := <-updates:
			if !ok {
				// SSE stream dropped for good (ctx cancelled inside
				// nodeclient); nothing left to multiplex.
				updates = nil
				continue
			}
			resp, err := c.Node.GetWork(ctx, c.Account, predicate, c.PublicKeys)
			if err != nil {
				log.WithError(err).Warn("coordinator: get-work after update failed")
				continue
			}
			if haveWork && c.Strategy != nil {
				if c.Strategy.ShouldPreempt(currentWork, resp.Work) == preempt.Continue {
					continue
				}
			}
			dispatch(resp)

		case res := <-resultCh:
			if err := res.Verify(currentTarget); err != nil {
				log.WithError(err).Error("coordinator: worker returned invalid result, discarding")
				fetchAndDispatch()
				continue
			}
			if err := c.Node.SubmitWork(ctx, res.Work); err != nil {
				log.WithError(err).Error("coordinator: submit-work failed")
			} else {
				log.Info("coordinator: solved work submitted")
			}
			fetchAndDispatch()

		case err := <-errCh:
			log.WithError(err).Error("coordinator: worker error")
			fetchAndDispatch()
		}
	}
}
