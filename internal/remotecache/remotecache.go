// Package remotecache implements the HTTP client side of the remote cache
// protocol (spec.md §4.5): a bounded-retry client against
// PUT/GET/HEAD /v1/artifacts/{key}, with a fail-count circuit breaker and a
// one-shot reachability probe performed before first use.
package remotecache

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/hashicorp/go-hclog"
	"github.com/hashicorp/go-retryablehttp"
)

// ErrTooManyFailures is returned once maxFailCount consecutive request
// failures have occurred; callers should stop hitting the remote cache for
// the rest of the run.
var ErrTooManyFailures = errors.New("remotecache: too many failures, skipping remaining requests")

// maxFailCount bounds how many failed requests are tolerated before the
// client gives up on the remote cache for the remainder of the run.
const maxFailCount = uint64(3)

// probeKey is a syntactically valid but reserved artifact key used solely
// to test reachability of the remote cache before first real use.
var probeKey = strings.Repeat("0", 64)

// Config configures a Client.
type Config struct {
	BaseURL  string
	Token    string
	ReadOnly bool
	Timeout  time.Duration
}

// Client talks to a remote cache server implementing spec.md §4.6.
type Client struct {
	baseURL    string
	token      string
	readOnly   bool
	httpClient *retryablehttp.Client

	failCount uint64
}

// New constructs a Client configured with bounded retries, matching the
// teacher's APIClient wait/retry bounds.
func New(cfg Config, logger hclog.Logger) *Client {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 20 * time.Second
	}
	c := &Client{
		baseURL:  cfg.BaseURL,
		token:    cfg.Token,
		readOnly: cfg.ReadOnly,
		httpClient: &retryablehttp.Client{
			HTTPClient: &http.Client{Timeout: timeout},
			RetryWaitMin: 2 * time.Second,
			RetryWaitMax: 10 * time.Second,
			RetryMax:     2,
			Backoff:      retryablehttp.DefaultBackoff,
			Logger:       logger,
		},
	}
	c.httpClient.CheckRetry = c.checkRetry
	return c
}

func (c *Client) okToRequest() error {
	if atomic.LoadUint64(&c.failCount) < maxFailCount {
		return nil
	}
	return ErrTooManyFailures
}

func (c *Client) checkRetry(ctx context.Context, resp *http.Response, err error) (bool, error) {
	if ctx.Err() != nil {
		atomic.AddUint64(&c.failCount, 1)
		return false, ctx.Err()
	}
	if err != nil {
		atomic.AddUint64(&c.failCount, 1)
		return true, nil
	}
	if resp.StatusCode == http.StatusTooManyRequests || (resp.StatusCode >= 500 && resp.StatusCode != http.StatusNotImplemented) {
		atomic.AddUint64(&c.failCount, 1)
		return true, fmt.Errorf("remotecache: unexpected status %s", resp.Status)
	}
	return false, nil
}

func (c *Client) artifactURL(key string) string {
	return fmt.Sprintf("%s/v1/artifacts/%s", c.baseURL, url.PathEscape(key))
}

func (c *Client) newRequest(ctx context.Context, method, requestURL string, body io.Reader) (*retryablehttp.Request, error) {
	req, err := retryablehttp.NewRequestWithContext(ctx, method, requestURL, body)
	if err != nil {
		return nil, err
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	return req, nil
}

// Probe issues a one-shot HEAD request against a reserved key to determine
// whether the remote cache is reachable, retrying with exponential backoff
// independent of the per-request retry policy used for real artifacts.
// This is meant to be called once, early in a run, not on every lookup.
func (c *Client) Probe(ctx context.Context) error {
	operation := func() error {
		req, err := c.newRequest(ctx, http.MethodHead, c.artifactURL(probeKey), nil)
		if err != nil {
			return backoff.Permanent(err)
		}
		resp, err := c.httpClient.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close() //nolint:errcheck
		if resp.StatusCode == http.StatusNotFound {
			// Reachable: the server answered, it just doesn't have this key.
			return nil
		}
		if resp.StatusCode >= 500 {
			return fmt.Errorf("remotecache: probe got status %s", resp.Status)
		}
		return nil
	}

	policy := backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 3)
	return backoff.Retry(operation, backoff.WithContext(policy, ctx))
}

// Exists issues a HEAD request for key. ok is true only on 200.
func (c *Client) Exists(ctx context.Context, key string) (ok bool, err error) {
	if err := c.okToRequest(); err != nil {
		return false, err
	}
	req, err := c.newRequest(ctx, http.MethodHead, c.artifactURL(key), nil)
	if err != nil {
		return false, err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return false, err
	}
	defer resp.Body.Close() //nolint:errcheck
	return resp.StatusCode == http.StatusOK, nil
}

// Fetch downloads the compressed artifact for key, verifying its sha256
// digest against the X-Artifact-Hash response header, or against key itself
// when that header is absent, before returning the payload. A digest mismatch
// is treated as a miss, per spec.md §4.5 step 3.
func (c *Client) Fetch(ctx context.Context, key string) (payload []byte, ok bool, err error) {
	if err := c.okToRequest(); err != nil {
		return nil, false, err
	}
	req, err := c.newRequest(ctx, http.MethodGet, c.artifactURL(key), nil)
	if err != nil {
		return nil, false, err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, false, err
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode == http.StatusNotFound {
		return nil, false, nil
	}
	if resp.StatusCode != http.StatusOK {
		return nil, false, fmt.Errorf("remotecache: fetch %s: unexpected status %s", key, resp.Status)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, false, err
	}

	sum := sha256.Sum256(body)
	if hex.EncodeToString(sum[:]) != headerDigest(resp, key) {
		// Discard and treat as a miss rather than failing the task.
		return nil, false, nil
	}

	return body, true, nil
}

// headerDigest returns the X-Artifact-Hash header value, falling back to
// key itself if the server omitted it, so the body must then hash to key.
func headerDigest(resp *http.Response, key string) string {
	if h := resp.Header.Get("X-Artifact-Hash"); h != "" {
		return h
	}
	return key
}

// Store uploads the compressed artifact body for key. A 409 Conflict (lost
// the race to another writer) is non-fatal; any other failure is returned
// for the caller to log without failing the task, per spec.md §4.5
// "Store-on-success".
func (c *Client) Store(ctx context.Context, key string, body []byte) error {
	if c.readOnly {
		return nil
	}
	if err := c.okToRequest(); err != nil {
		return err
	}

	req, err := c.newRequest(ctx, http.MethodPut, c.artifactURL(key), bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/zstd")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close() //nolint:errcheck

	switch resp.StatusCode {
	case http.StatusCreated, http.StatusConflict:
		return nil
	default:
		return fmt.Errorf("remotecache: store %s: unexpected status %s", key, resp.Status)
	}
}
