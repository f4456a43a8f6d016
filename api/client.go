// Package api issues rate-limited JSON requests against the Moltbook REST
// surface and resolves the per-endpoint quirks the platform does not
// document: which pagination convention an endpoint uses and which of two
// routes serves a submolt's posts.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/moltlab/moltbook-scraper/metrics"
	"github.com/moltlab/moltbook-scraper/ratelimit"
	"github.com/moltlab/moltbook-scraper/store"
)

// ErrNotFound reports a 404 on a comments endpoint. It is a terminal result,
// not a failure: the post simply has no comments resource, and callers mark
// it done-without-comments instead of retrying.
var ErrNotFound = errors.New("resource not found")

const (
	defaultMaxAttempts = 3
	backoffCap         = 8 * time.Second

	// dnsBackoffStep and dnsBackoffCap bound the global sleep applied to
	// every request while DNS resolution keeps failing, so a network-wide
	// outage throttles the whole crawl instead of being amplified per task.
	dnsBackoffStep = 5 * time.Second
	dnsBackoffCap  = 60 * time.Second
)

// Options configure a Client.
type Options struct {
	BaseURL   string
	Token     string
	UserAgent string
	// Headers are extra request headers merged over the defaults.
	Headers map[string]string

	RPS          float64
	LogRequests  bool
	CurlFallback bool
	MaxAttempts  int

	Journal *store.Journal
	// ErrorHook is invoked with every failure record after it is journaled,
	// letting the owner fold failures into the crawl state tally.
	ErrorHook func(event map[string]any)
}

// Client fetches JSON payloads with retry, backoff and structured failure
// logging. All requests from all goroutines share one rate limiter and one
// DNS-failure counter.
type Client struct {
	baseURL      string
	headers      map[string]string
	httpClient   *http.Client
	limiter      *ratelimit.Limiter
	journal      *store.Journal
	logRequests  bool
	curlFallback bool
	maxAttempts  int
	errorHook    func(map[string]any)

	dnsMu       sync.Mutex
	dnsFailures int

	// sleep is stubbed in tests to keep backoff paths fast.
	sleep func(ctx context.Context, d time.Duration)
}

// New creates a Client.
func New(opts Options) *Client {
	headers := map[string]string{
		"Accept":     "application/json, text/html;q=0.9",
		"User-Agent": opts.UserAgent,
	}
	if opts.Token != "" {
		headers["Authorization"] = "Bearer " + opts.Token
	}
	for k, v := range opts.Headers {
		headers[k] = v
	}
	maxAttempts := opts.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = defaultMaxAttempts
	}
	return &Client{
		baseURL: strings.TrimRight(opts.BaseURL, "/"),
		headers: headers,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
			Transport: &http.Transport{
				DialContext: (&net.Dialer{Timeout: 10 * time.Second}).DialContext,
			},
		},
		limiter:      ratelimit.New(opts.RPS),
		journal:      opts.Journal,
		logRequests:  opts.LogRequests,
		curlFallback: opts.CurlFallback,
		maxAttempts:  maxAttempts,
		errorHook:    opts.ErrorHook,
		sleep:        sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) {
	select {
	case <-ctx.Done():
	case <-time.After(d):
	}
}

// FetchJSON GETs a JSON payload. Transport and status failures are retried
// with exponential backoff (capped at 8s) and journaled per attempt. A 404 on
// a comments endpoint returns ErrNotFound without retrying.
func (c *Client) FetchJSON(ctx context.Context, path string, params map[string]string) (any, error) {
	reqURL := c.baseURL + "/" + strings.TrimLeft(path, "/")
	if len(params) > 0 {
		q := url.Values{}
		for k, v := range params {
			q.Set(k, v)
		}
		reqURL += "?" + q.Encode()
	}

	var lastErr error
	for attempt := 1; attempt <= c.maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		c.dnsBackoffWait(ctx)
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}

		payload, status, err := c.doRequest(ctx, reqURL)
		if err == nil {
			if c.logRequests {
				c.journal.Event(map[string]any{
					"event":  "request",
					"path":   path,
					"params": params,
					"status": status,
				})
			}
			c.resetDNSFailures()
			metrics.ObserveRequest(status)
			return payload, nil
		}

		if status == http.StatusNotFound && strings.HasSuffix(path, "/comments") {
			c.logError(map[string]any{
				"event":   "request_error",
				"path":    path,
				"params":  params,
				"attempt": attempt,
				"status":  status,
				"error":   err.Error(),
				"skip":    "comments_404",
			})
			metrics.ObserveRequest(status)
			return nil, ErrNotFound
		}

		if isDNSFailure(err) {
			if c.curlFallback {
				if payload, curlErr := c.fetchJSONCurl(reqURL); curlErr == nil {
					if c.logRequests {
						c.journal.Event(map[string]any{
							"event":  "request",
							"path":   path,
							"params": params,
							"status": http.StatusOK,
							"source": "curl",
						})
					}
					c.resetDNSFailures()
					metrics.ObserveRequest(http.StatusOK)
					return payload, nil
				}
			}
			c.recordDNSFailure(path)
		}

		lastErr = err
		event := map[string]any{
			"event":   "request_error",
			"path":    path,
			"params":  params,
			"attempt": attempt,
			"error":   err.Error(),
		}
		if status != 0 {
			event["status"] = status
		}
		c.logError(event)
		metrics.ObserveRequest(status)

		if attempt < c.maxAttempts {
			c.sleep(ctx, backoff(attempt))
		}
	}
	return nil, fmt.Errorf("fetch %s: %w", path, lastErr)
}

// doRequest performs one HTTP round trip and decodes the body. The returned
// status is zero on transport errors.
func (c *Client) doRequest(ctx context.Context, reqURL string) (any, int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, 0, err
	}
	for k, v := range c.headers {
		req.Header.Set(k, v)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()
	metrics.ObserveRequestDuration(time.Since(start))

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, resp.StatusCode, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	var payload any
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, resp.StatusCode, fmt.Errorf("decode response: %w", err)
	}
	return payload, resp.StatusCode, nil
}

// fetchJSONCurl shells out to curl as a secondary transport. Some sandboxed
// environments break Go's resolver while the system one still works.
func (c *Client) fetchJSONCurl(reqURL string) (any, error) {
	args := []string{
		"-sS",
		"--retry", "2",
		"--retry-all-errors",
		"--connect-timeout", "10",
		"--max-time", "20",
		reqURL,
	}
	for k, v := range c.headers {
		args = append(args, "-H", k+": "+v)
	}
	out, err := exec.Command("curl", args...).Output()
	if err != nil {
		return nil, fmt.Errorf("curl fallback: %w", err)
	}
	if len(out) == 0 {
		return nil, errors.New("curl fallback: empty response")
	}
	var payload any
	if err := json.Unmarshal(out, &payload); err != nil {
		return nil, fmt.Errorf("curl fallback decode: %w", err)
	}
	return payload, nil
}

// logError journals a failure and forwards it to the owner's hook.
func (c *Client) logError(event map[string]any) {
	c.journal.Error(event)
	if c.errorHook != nil {
		c.errorHook(event)
	}
}

func backoff(attempt int) time.Duration {
	d := time.Duration(1<<uint(attempt)) * time.Second
	if d > backoffCap {
		d = backoffCap
	}
	return d
}

func isDNSFailure(err error) bool {
	var dnsErr *net.DNSError
	return errors.As(err, &dnsErr)
}

// dnsBackoffWait sleeps min(60s, 5s*failures) when the process is inside a
// DNS outage window, throttling every caller rather than each task retrying
// a dead resolver on its own.
func (c *Client) dnsBackoffWait(ctx context.Context) {
	c.dnsMu.Lock()
	failures := c.dnsFailures
	c.dnsMu.Unlock()
	if failures == 0 {
		return
	}
	wait := time.Duration(failures) * dnsBackoffStep
	if wait > dnsBackoffCap {
		wait = dnsBackoffCap
	}
	c.journal.Event(map[string]any{"event": "network_backoff", "wait_s": wait.Seconds(), "failures": failures})
	c.sleep(ctx, wait)
}

func (c *Client) recordDNSFailure(path string) {
	c.dnsMu.Lock()
	c.dnsFailures++
	failures := c.dnsFailures
	c.dnsMu.Unlock()
	log.Warn().Int("failures", failures).Str("path", path).Msg("DNS resolution failed, throttling all requests")
}

func (c *Client) resetDNSFailures() {
	c.dnsMu.Lock()
	c.dnsFailures = 0
	c.dnsMu.Unlock()
}
