// Package nodeclient talks to a Chainweb node's mining API: fetching
// work, submitting solved blocks, and streaming update notifications.
package nodeclient

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"chainweb-mining-client/internal/backoff"
	"chainweb-mining-client/internal/work"
)

const (
	workResponseSize = 4 + 32 + work.Size // ChainId (u32 LE) + Target + Work

	defaultTimeout    = 30 * time.Second
	defaultMaxRetries = 5
	backoffBase       = 250 * time.Millisecond
	backoffMax        = 10 * time.Second
	backoffJitter     = 100 * time.Millisecond

	// defaultFetchRate bounds how often GetWork is allowed to hit the
	// node, serializing the coordinator's update-triggered refetches
	// against any periodic polling so a burst of SSE events can't turn
	// into a burst of /mining/work requests.
	defaultFetchRate  = 10 // per second
	defaultFetchBurst = 2
)

// Info is the subset of GET /info this client cares about.
type Info struct {
	NodeVersion     string `json:"nodeVersion"`
	APIVersion      string `json:"nodeApiVersion"`
	ChainwebVersion string `json:"chainwebVersion"`
}

// defaultVersion is the chain graph identifier used when the caller
// never supplies one via WithVersion, matching the public network most
// operators point this client at.
const defaultVersion = "mainnet01"

// Client is a Chainweb node mining-API client bound to one chain.
type Client struct {
	baseURL      string
	version      string
	chain        work.ChainID
	httpClient   *http.Client
	maxRetries   int
	log          logrus.FieldLogger
	fetchLimiter *rate.Limiter
}

// Option configures a Client.
type Option func(*Client)

// WithTimeout overrides the per-request HTTP timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.httpClient.Timeout = d }
}

// WithMaxRetries overrides the number of attempts per request before a
// transient error is surfaced to the caller.
func WithMaxRetries(n int) Option {
	return func(c *Client) { c.maxRetries = n }
}

// WithInsecureSkipVerify disables TLS certificate verification, for
// talking to nodes behind self-signed certs in development.
func WithInsecureSkipVerify() Option {
	return func(c *Client) {
		c.httpClient.Transport = &http.Transport{
			TLSClientConfig: &tls.Config{InsecureSkipVerify: true},
		}
	}
}

// WithLogger attaches a logger; if omitted, a silent logger is used.
func WithLogger(l logrus.FieldLogger) Option {
	return func(c *Client) { c.log = l }
}

// WithVersion sets the Chainweb graph version ({version} in
// /chainweb/0.0/{version}/...) this client's mining endpoints are
// scoped to, e.g. "mainnet01" or "testnet04". GET /info is unversioned
// and unaffected.
func WithVersion(version string) Option {
	return func(c *Client) { c.version = version }
}

// New returns a Client bound to baseURL (e.g. "https://node.example:443")
// and chain.
func New(baseURL string, chain work.ChainID, opts ...Option) *Client {
	c := &Client{
		baseURL: baseURL,
		chain:   chain,
		version: defaultVersion,
		httpClient: &http.Client{
			Timeout: defaultTimeout,
		},
		maxRetries:   defaultMaxRetries,
		log:          logrus.StandardLogger(),
		fetchLimiter: rate.NewLimiter(rate.Limit(defaultFetchRate), defaultFetchBurst),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// apiPath builds a versioned Chainweb mining API URL:
// {baseURL}/chainweb/0.0/{version}/mining/{suffix}.
func (c *Client) apiPath(suffix string) string {
	return fmt.Sprintf("%s/chainweb/0.0/%s/mining/%s", c.baseURL, c.version, suffix)
}

// GetInfo fetches GET /info.
func (c *Client) GetInfo(ctx context.Context) (Info, error) {
	var info Info
	err := c.withRetry(ctx, "get-info", func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/info", nil)
		if err != nil {
			return terminalErr("get-info", err)
		}
		resp, err := c.httpClient.Do(req)
		if err != nil {
			return transientErr("get-info", err)
		}
		defer resp.Body.Close()

		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return transientErr("get-info", err)
		}
		if classified := classifyStatus("get-info", resp.StatusCode); classified != nil {
			return classified
		}
		if err := json.Unmarshal(body, &info); err != nil {
			return terminalErr("get-info", fmt.Errorf("decode: %w", err))
		}
		return nil
	})
	return info, err
}

// WorkResponse is the parsed 322-byte body of POST /mining/work.
type WorkResponse struct {
	ChainID work.ChainID
	Target  work.Target
	Work    work.Work
}

// workRequest is the JSON miner descriptor POST /mining/work expects.
type workRequest struct {
	Account    string   `json:"account"`
	Predicate  string   `json:"predicate"`
	PublicKeys []string `json:"public-keys"`
}

// GetWork requests a fresh work unit for c's chain, identifying the
// miner by account, a Pact key-predicate (e.g. "keys-all"), and the
// hex-encoded public keys that predicate is evaluated against.
func (c *Client) GetWork(ctx context.Context, account, predicate string, publicKeys []string) (WorkResponse, error) {
	if err := c.fetchLimiter.Wait(ctx); err != nil {
		return WorkResponse{}, err
	}

	reqBody, err := json.Marshal(workRequest{Account: account, Predicate: predicate, PublicKeys: publicKeys})
	if err != nil {
		return WorkResponse{}, terminalErr("get-work", err)
	}

	var out WorkResponse
	err = c.withRetry(ctx, "get-work", func(ctx context.Context) error {
		url := fmt.Sprintf("%s?chain=%d", c.apiPath("work"), c.chain)
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(reqBody))
		if err != nil {
			return terminalErr("get-work", err)
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return transientErr("get-work", err)
		}
		defer resp.Body.Close()

		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return transientErr("get-work", err)
		}
		if classified := classifyStatus("get-work", resp.StatusCode); classified != nil {
			return classified
		}
		if len(body) != workResponseSize {
			return terminalErr("get-work", fmt.Errorf("expected %d byte body, got %d", workResponseSize, len(body)))
		}

		chain := work.ChainID(binary.LittleEndian.Uint32(body[0:4]))
		target, err := work.FromBytes(body[4:36])
		if err != nil {
			return terminalErr("get-work", err)
		}
		w, err := work.New(body[36:])
		if err != nil {
			return terminalErr("get-work", err)
		}

		out = WorkResponse{ChainID: chain, Target: target, Work: w}
		return nil
	})
	return out, err
}

// SubmitWork submits a solved Work back to the node.
func (c *Client) SubmitWork(ctx context.Context, solved work.Work) error {
	return c.withRetry(ctx, "submit-work", func(ctx context.Context) error {
		url := fmt.Sprintf("%s?chain=%d", c.apiPath("solved"), c.chain)
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(solved.Bytes()))
		if err != nil {
			return terminalErr("submit-work", err)
		}
		req.Header.Set("Content-Type", "application/octet-stream")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return transientErr("submit-work", err)
		}
		defer resp.Body.Close()
		io.Copy(io.Discard, resp.Body)

		return classifyStatus("submit-work", resp.StatusCode)
	})
}

// classifyStatus maps an HTTP status to nil (success), a transient
// Error (5xx, 429 — worth retrying), or a terminal Error (other 4xx).
func classifyStatus(op string, status int) error {
	switch {
	case status >= 200 && status < 300:
		return nil
	case status == http.StatusTooManyRequests, status >= 500:
		return transientErr(op, fmt.Errorf("http status %d", status))
	default:
		return terminalErr(op, fmt.Errorf("http status %d", status))
	}
}

// withRetry runs fn, retrying transient errors with exponential backoff
// up to c.maxRetries attempts. Terminal errors and context cancellation
// abort immediately.
func (c *Client) withRetry(ctx context.Context, op string, fn func(context.Context) error) error {
	bo := backoff.NewExponential(backoffBase, backoffMax, backoffJitter)

	var lastErr error
	for attempt := 1; attempt <= c.maxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}
		if !IsTransient(lastErr) {
			return lastErr
		}

		c.log.WithFields(logrus.Fields{
			"op":      op,
			"attempt": attempt,
			"error":   lastErr,
		}).Warn("nodeclient: transient error, retrying")

		if attempt == c.maxRetries {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(bo.NextDuration()):
		}
	}
	return fmt.Errorf("%s: giving up after %d attempts: %w", op, c.maxRetries, lastErr)
}
