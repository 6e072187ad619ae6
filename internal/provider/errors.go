package provider

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"time"
)

// Sentinel errors surfaced to callers.
var (
	// ErrNoCredentials means the key pool is empty.
	ErrNoCredentials = errors.New("provider: no credentials configured")
	// ErrInvalidRequest means the request is missing a model or asks for an
	// unsupported operation.
	ErrInvalidRequest = errors.New("provider: invalid request")
)

// AllKeysExhaustedError is the terminal per-call failure: the full retry
// budget was spent without a successful attempt. It wraps the last observed
// upstream error.
type AllKeysExhaustedError struct {
	Attempts int
	Last     error
}

func (e *AllKeysExhaustedError) Error() string {
	return fmt.Sprintf("provider: all keys exhausted after %d attempts: %v", e.Attempts, e.Last)
}

func (e *AllKeysExhaustedError) Unwrap() error { return e.Last }

// HTTPError carries an upstream status and body for inspection by the retry
// loop. It never crosses the executor boundary: callers only ever see the
// sentinels above or AllKeysExhaustedError.
type HTTPError struct {
	Status int
	Body   string

	// RetryAfter is a machine-readable retry hint already extracted by the
	// wire layer, zero when absent.
	RetryAfter time.Duration
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("provider: upstream status %d: %s", e.Status, e.Body)
}

// retryDelayHint returns the retry-after duration carried by the error,
// falling back to scanning the body for the common machine-readable shapes
// ("retryDelay": "17s" from Google RPC RetryInfo, or "retry after 17s"
// prose some gateways emit).
func (e *HTTPError) retryDelayHint() (time.Duration, bool) {
	if e.RetryAfter > 0 {
		return e.RetryAfter, true
	}
	return parseRetryDelay(e.Body)
}

var (
	retryDelayJSONRe  = regexp.MustCompile(`"retryDelay"\s*:\s*"([0-9.]+)s"`)
	retryDelayProseRe = regexp.MustCompile(`(?i)retry\s+(?:in|after)\s+([0-9.]+)\s*s`)
)

func parseRetryDelay(body string) (time.Duration, bool) {
	for _, re := range []*regexp.Regexp{retryDelayJSONRe, retryDelayProseRe} {
		if m := re.FindStringSubmatch(body); m != nil {
			if secs, err := strconv.ParseFloat(m[1], 64); err == nil && secs > 0 {
				return time.Duration(secs * float64(time.Second)), true
			}
		}
	}
	return 0, false
}
