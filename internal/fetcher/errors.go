package fetcher

import (
	"errors"
	"fmt"
	"strconv"
)

// TimeoutError indicates the request did not complete within the configured
// deadline.
type TimeoutError struct {
	URL string
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("request to %s timed out", e.URL)
}

// HTTPError indicates a non-2xx response.
type HTTPError struct {
	URL        string
	StatusCode int
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("request to %s failed with status %d", e.URL, e.StatusCode)
}

// BlockedError indicates the anti-bot layer intercepted the request (captcha
// page, access-denied challenge). Retrying without a fresh session rarely
// helps, so it is reported as its own kind.
type BlockedError struct {
	URL string
}

func (e *BlockedError) Error() string {
	return fmt.Sprintf("request to %s blocked by anti-bot protection", e.URL)
}

// ResultCode renders a completed fetch for the per-URL progress line: the
// HTTP status for a success or status failure, otherwise a short word naming
// the failure kind.
func ResultCode(err error) string {
	if err == nil {
		return "200"
	}
	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		return strconv.Itoa(httpErr.StatusCode)
	}
	var timeoutErr *TimeoutError
	if errors.As(err, &timeoutErr) {
		return "timeout"
	}
	var blockedErr *BlockedError
	if errors.As(err, &blockedErr) {
		return "blocked"
	}
	return "error"
}
