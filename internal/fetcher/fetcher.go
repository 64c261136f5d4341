// Package fetcher is the page-fetcher collaborator of the scrape pipeline:
// a plain HTTP client with a uniform retry policy, a session cookie bundle
// and typed failures. Site-specific parsing lives with the extractors, not
// here.
package fetcher

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/adubovik/freshscrape/internal/session"
	"github.com/sirupsen/logrus"
)

const defaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) " +
	"AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

// Blocked-page markers. Kept short on purpose: the fetcher only needs to
// classify, evasion is out of scope.
var blockedMarkers = []string{"captcha", "access denied", "доступ ограничен"}

// Client fetches pages over HTTP with retries and session cookies.
type Client struct {
	httpClient *http.Client
	retry      RetryPolicy
	userAgent  string
	headers    map[string]string
	cookies    []*http.Cookie
	log        *logrus.Entry
}

// Option configures a Client.
type Option func(*Client)

// WithRetryPolicy overrides the default retry policy.
func WithRetryPolicy(p RetryPolicy) Option {
	return func(c *Client) { c.retry = p }
}

// WithUserAgent overrides the default desktop user agent.
func WithUserAgent(ua string) Option {
	return func(c *Client) {
		if ua != "" {
			c.userAgent = ua
		}
	}
}

// WithHeaders adds headers sent with every request.
func WithHeaders(h map[string]string) Option {
	return func(c *Client) { c.headers = h }
}

// WithSession attaches a credential bundle captured elsewhere. The bundle is
// opaque to the pipeline: cookies are passed through unchanged.
func WithSession(bundle *session.Bundle) Option {
	return func(c *Client) {
		if bundle != nil {
			c.cookies = bundle.HTTPCookies()
		}
	}
}

// WithTimeout overrides the per-request timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.httpClient.Timeout = d
		}
	}
}

// NewClient creates a page fetcher.
func NewClient(log *logrus.Entry, opts ...Option) *Client {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	c := &Client{
		httpClient: &http.Client{Timeout: 30 * time.Second},
		retry:      DefaultRetryPolicy(),
		userAgent:  defaultUserAgent,
		log:        log,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Get fetches rawURL and returns the response body. Failures come back as
// *TimeoutError, *HTTPError or *BlockedError; retryable ones (timeouts,
// 403/429/5xx) are retried per the policy before giving up.
func (c *Client) Get(ctx context.Context, rawURL string) ([]byte, error) {
	return c.GetWithReferer(ctx, rawURL, "")
}

// GetWithReferer is Get with an explicit Referer header, needed by JSON
// endpoints that validate the originating page.
func (c *Client) GetWithReferer(ctx context.Context, rawURL, referer string) ([]byte, error) {
	var body []byte

	op := func() error {
		var err error
		body, err = c.getOnce(ctx, rawURL, referer)
		return err
	}

	err := c.retry.Do(ctx, op, func(err error) bool {
		var httpErr *HTTPError
		if errors.As(err, &httpErr) {
			retryable := httpErr.StatusCode == http.StatusForbidden ||
				httpErr.StatusCode == http.StatusTooManyRequests ||
				httpErr.StatusCode >= 500
			if retryable {
				c.log.Warnf("retrying %s after status %d", rawURL, httpErr.StatusCode)
			}
			return retryable
		}
		var timeoutErr *TimeoutError
		if errors.As(err, &timeoutErr) {
			c.log.Warnf("retrying %s after timeout", rawURL)
			return true
		}
		return false
	})
	if err != nil {
		return nil, err
	}
	return body, nil
}

func (c *Client) getOnce(ctx context.Context, rawURL, referer string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build request for %s: %w", rawURL, err)
	}

	req.Header.Set("User-Agent", c.userAgent)
	for k, v := range c.headers {
		req.Header.Set(k, v)
	}
	if referer != "" {
		req.Header.Set("Referer", referer)
	}
	for _, cookie := range c.cookies {
		req.AddCookie(cookie)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if isTimeout(err) {
			return nil, &TimeoutError{URL: rawURL}
		}
		return nil, fmt.Errorf("request to %s failed: %w", rawURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &HTTPError{URL: rawURL, StatusCode: resp.StatusCode}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response from %s: %w", rawURL, err)
	}

	if looksBlocked(body) {
		return nil, &BlockedError{URL: rawURL}
	}

	return body, nil
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return urlErr.Timeout()
	}
	return false
}

// looksBlocked sniffs the first chunk of a response for anti-bot markers.
// Only small bodies are checked fully; a real product page is large and
// never starts with a challenge page.
func looksBlocked(body []byte) bool {
	probe := body
	if len(probe) > 4096 {
		probe = probe[:4096]
	}
	lower := strings.ToLower(string(probe))
	for _, marker := range blockedMarkers {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}
