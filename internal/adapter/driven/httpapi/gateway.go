// Package httpapi executes calls against third-party HTTP APIs and classifies
// every non-2xx outcome into a *driven.APIError. Platform adapters build
// requests; this package owns status mapping and rate-limit hints.
package httpapi

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/ericfisherdev/streamlink/internal/domain/port/driven"
)

const (
	// maxBodyBytes bounds how much of any response body is read into memory.
	maxBodyBytes = 1 << 20

	// maxSnippetBytes bounds the body kept on an APIError.
	maxSnippetBytes = 300
)

// Gateway executes HTTP calls and classifies responses into a typed result.
// It performs no retries, no waits and no caching.
type Gateway struct {
	httpClient *http.Client
	// statusKinds overrides the default kind for specific status codes.
	statusKinds map[int]driven.ErrorKind
}

// Option configures a Gateway.
type Option func(*Gateway)

// WithStatusKind classifies status as kind instead of the default mapping.
func WithStatusKind(status int, kind driven.ErrorKind) Option {
	return func(g *Gateway) {
		g.statusKinds[status] = kind
	}
}

// WithoutRedirects stops the Gateway from following redirects, so a 3xx is
// classified like any other non-2xx response.
func WithoutRedirects() Option {
	return func(g *Gateway) {
		copied := *g.httpClient
		copied.CheckRedirect = func(*http.Request, []*http.Request) error { return http.ErrUseLastResponse }
		g.httpClient = &copied
	}
}

// NewGateway creates a Gateway. A nil httpClient uses a client with a 30s
// timeout as a safety net alongside context cancellation.
func NewGateway(httpClient *http.Client, opts ...Option) *Gateway {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	g := &Gateway{
		httpClient:  httpClient,
		statusKinds: make(map[int]driven.ErrorKind),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Request performs one call. form, when non-nil, is sent as an
// application/x-www-form-urlencoded body. On 2xx the raw body is returned;
// every other outcome is a *driven.APIError.
func (g *Gateway) Request(ctx context.Context, method, rawURL string, header http.Header, form url.Values) ([]byte, error) {
	var body io.Reader
	if form != nil {
		body = strings.NewReader(form.Encode())
	}

	req, err := http.NewRequestWithContext(ctx, method, rawURL, body)
	if err != nil {
		return nil, &driven.APIError{Kind: driven.KindNetwork, Err: fmt.Errorf("creating request: %w", err)}
	}
	for key, values := range header {
		for _, v := range values {
			req.Header.Add(key, v)
		}
	}
	if form != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}

	return g.Do(req)
}

// Do sends a prepared request with the same classification as Request.
func (g *Gateway) Do(req *http.Request) ([]byte, error) {
	resp, err := g.httpClient.Do(req)
	if err != nil {
		return nil, &driven.APIError{Kind: driven.KindNetwork, Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, &driven.APIError{Kind: driven.KindNetwork, StatusCode: resp.StatusCode, Err: fmt.Errorf("reading body: %w", err)}
	}

	logRateLimit(resp, req.URL.Path)

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return data, nil
	}

	return nil, g.classify(resp, data)
}

// classify maps a non-2xx response onto an APIError.
func (g *Gateway) classify(resp *http.Response, data []byte) *driven.APIError {
	apiErr := &driven.APIError{
		StatusCode: resp.StatusCode,
		Body:       driven.Snippet(string(data), maxSnippetBytes),
	}

	kind, ok := g.statusKinds[resp.StatusCode]
	if !ok {
		switch resp.StatusCode {
		case http.StatusTooManyRequests:
			kind = driven.KindRateLimited
		case http.StatusUnauthorized:
			kind = driven.KindUnauthorized
		case http.StatusForbidden:
			kind = driven.KindForbidden
		case http.StatusNotFound:
			kind = driven.KindNotFound
		default:
			kind = driven.KindServerError
		}
	}

	apiErr.Kind = kind
	if kind == driven.KindRateLimited {
		apiErr.RetryAfter = parseRetryAfter(resp.Header)
	}
	return apiErr
}

// parseRetryAfter reads the retry hint in seconds. The platform-specific
// header wins over the standard one; an absent or malformed value yields 0.
func parseRetryAfter(h http.Header) time.Duration {
	for _, key := range []string{"Ratelimit-Retry-After", "Retry-After"} {
		v := strings.TrimSpace(h.Get(key))
		if v == "" {
			continue
		}
		if secs, err := strconv.Atoi(v); err == nil && secs >= 0 {
			return time.Duration(secs) * time.Second
		}
	}
	return 0
}

// logRateLimit logs the remaining request budget reported by the API.
func logRateLimit(resp *http.Response, endpoint string) {
	remaining := resp.Header.Get("Ratelimit-Remaining")
	if remaining == "" {
		return
	}

	n, err := strconv.Atoi(remaining)
	if err != nil {
		return
	}

	slog.Debug("api call",
		"endpoint", endpoint,
		"status", resp.StatusCode,
		"rate_remaining", n,
		"rate_limit", resp.Header.Get("Ratelimit-Limit"),
	)

	if n < 10 {
		slog.Warn("api rate limit low", "endpoint", endpoint, "remaining", n)
	}
}
