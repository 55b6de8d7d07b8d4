package nodeclient

import (
	"bufio"
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"chainweb-mining-client/internal/backoff"
)

// UpdateEvent signals that the node has new cut data available and any
// outstanding work should be discarded and re-fetched. The event carries
// no payload; GET /mining/updates is a notify-only stream.
type UpdateEvent struct{}

// Updates streams UpdateEvents from GET /mining/updates over a
// server-sent-events connection, reconnecting with backoff whenever the
// stream drops. Updates runs until ctx is cancelled, at which point the
// returned channel is closed.
func (c *Client) Updates(ctx context.Context) <-chan UpdateEvent {
	out := make(chan UpdateEvent)
	go c.updatesLoop(ctx, out)
	return out
}

func (c *Client) updatesLoop(ctx context.Context, out chan<- UpdateEvent) {
	defer close(out)

	bo := backoff.NewExponential(500*time.Millisecond, 30*time.Second, 500*time.Millisecond)

	for {
		if ctx.Err() != nil {
			return
		}

		if err := c.streamOnce(ctx, out); err != nil {
			c.log.WithError(err).Warn("nodeclient: update stream disconnected, reconnecting")
			select {
			case <-ctx.Done():
				return
			case <-time.After(bo.NextDuration()):
			}
			continue
		}

		// Graceful EOF (node closed the stream cleanly): reconnect
		// immediately, resetting the backoff schedule.
		bo.Reset()
	}
}

// streamOnce opens one SSE connection and forwards "New" events until the
// stream ends or errs.
func (c *Client) streamOnce(ctx context.Context, out chan<- UpdateEvent) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.apiPath("updates"), nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "text/event-stream")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("update stream: http status %d", resp.StatusCode)
	}

	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		payload := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if payload == "" {
			continue
		}
		// Every event on this stream means "new cut": the payload itself
		// (typically "New") carries no information the miner needs, it
		// is a pure "go re-fetch work" signal.
		select {
		case out <- UpdateEvent{}:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return scanner.Err()
}
