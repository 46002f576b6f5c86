package driven

import (
	"errors"
	"fmt"
	"time"
	"unicode/utf8"
)

// ErrorKind classifies a failed platform call. It is assigned once at the
// HTTP boundary; downstream logic switches on the kind, never on message text.
type ErrorKind int

const (
	KindNetwork ErrorKind = iota + 1
	KindRateLimited
	KindUnauthorized
	KindForbidden
	KindNotFound
	KindServerError
	KindParse
)

// String returns the kind name used in logs.
func (k ErrorKind) String() string {
	switch k {
	case KindNetwork:
		return "network_error"
	case KindRateLimited:
		return "rate_limited"
	case KindUnauthorized:
		return "unauthorized"
	case KindForbidden:
		return "forbidden"
	case KindNotFound:
		return "not_found"
	case KindServerError:
		return "server_error"
	case KindParse:
		return "parse_error"
	default:
		return "unknown"
	}
}

// APIError is the typed failure returned by the platform gateway.
type APIError struct {
	Kind       ErrorKind
	StatusCode int
	// RetryAfter is set for KindRateLimited when the platform sent a hint.
	RetryAfter time.Duration
	// Body holds the (bounded) response body for non-2xx responses.
	Body string
	Err  error
}

func (e *APIError) Error() string {
	switch e.Kind {
	case KindRateLimited:
		return fmt.Sprintf("platform: rate limited, retry after %s", e.RetryAfter)
	case KindNetwork, KindParse:
		return fmt.Sprintf("platform: %s: %v", e.Kind, e.Err)
	case KindServerError:
		return fmt.Sprintf("platform: HTTP %d: %s", e.StatusCode, Snippet(e.Body, 300))
	default:
		return fmt.Sprintf("platform: %s (HTTP %d)", e.Kind, e.StatusCode)
	}
}

func (e *APIError) Unwrap() error { return e.Err }

// KindOf returns the ErrorKind carried by err, or 0 when err is not an APIError.
func KindOf(err error) ErrorKind {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Kind
	}
	return 0
}

// IsAuthError reports whether err means the credential was rejected.
func IsAuthError(err error) bool {
	return KindOf(err) == KindUnauthorized
}

// RetryAfterOf returns the rate-limit hint carried by err, if any.
func RetryAfterOf(err error) (time.Duration, bool) {
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.Kind == KindRateLimited {
		return apiErr.RetryAfter, true
	}
	return 0, false
}

// Snippet truncates s to at most max bytes, marking the cut. The cut never
// splits a UTF-8 sequence.
func Snippet(s string, max int) string {
	if len(s) <= max {
		return s
	}
	cut := max
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "..."
}
