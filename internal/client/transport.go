package client

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/ferrow/reqscope/internal/util"
)

// Transport issues one upstream request. Implementations translate the
// narrow Request shape into whatever wire format the service speaks.
type Transport interface {
	Do(ctx context.Context, service string, req Request) (*Response, error)
}

// bufferPool reuses byte buffers for response bodies to reduce GC pressure
// when many sessions fan out concurrently.
var bufferPool = sync.Pool{
	New: func() interface{} {
		return new(bytes.Buffer)
	},
}

func getBuffer() *bytes.Buffer {
	buf := bufferPool.Get().(*bytes.Buffer)
	buf.Reset()
	return buf
}

// putBuffer returns a buffer to the pool. Buffers over the size limit are
// discarded so the pool never pins large allocations.
func putBuffer(buf *bytes.Buffer) {
	const maxBufferSize = 64 * 1024
	if buf.Cap() <= maxBufferSize {
		bufferPool.Put(buf)
	}
}

// HTTPTransport performs read-only GET requests against per-service base
// URLs, with optional bearer auth.
type HTTPTransport struct {
	httpClient *http.Client
	baseURLs   map[string]string
	apiKey     func(service string) string
	logger     *slog.Logger
}

// NewHTTPTransport creates a transport. apiKey may return "" for services
// without credentials.
func NewHTTPTransport(baseURLs map[string]string, apiKey func(string) string, logger *slog.Logger) *HTTPTransport {
	return &HTTPTransport{
		httpClient: &http.Client{},
		baseURLs:   baseURLs,
		apiKey:     apiKey,
		logger:     logger,
	}
}

// Do issues the request. Non-2xx responses are returned as classified
// APIErrors; a Retry-After header on 429 is propagated as the hint.
func (t *HTTPTransport) Do(ctx context.Context, service string, req Request) (*Response, error) {
	base, ok := t.baseURLs[service]
	if !ok {
		return nil, fmt.Errorf("unknown service: %s", service)
	}

	u, err := url.Parse(base)
	if err != nil {
		return nil, fmt.Errorf("invalid base URL for %s: %w", service, err)
	}
	u.Path, err = url.JoinPath(u.Path, req.Path)
	if err != nil {
		return nil, fmt.Errorf("invalid request path: %w", err)
	}
	q := u.Query()
	for k, v := range req.Params {
		q.Set(k, v)
	}
	u.RawQuery = q.Encode()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Accept", "application/json")
	if key := t.apiKey(service); key != "" {
		httpReq.Header.Set("Authorization", "Bearer "+key)
	}

	httpResp, err := t.httpClient.Do(httpReq)
	if err != nil {
		return nil, ClassifyError(err)
	}
	defer func() {
		if err := httpResp.Body.Close(); err != nil {
			t.logger.Warn("Failed to close response body", "error", err)
		}
	}()

	buf := getBuffer()
	defer putBuffer(buf)
	if _, err := io.Copy(buf, httpResp.Body); err != nil {
		return nil, ClassifyError(fmt.Errorf("failed to read response: %w", err))
	}
	body := append([]byte(nil), buf.Bytes()...)

	if httpResp.StatusCode < 200 || httpResp.StatusCode >= 300 {
		apiErr := &APIError{
			Class:      ClassifyStatus(httpResp.StatusCode),
			StatusCode: httpResp.StatusCode,
			Message:    util.TruncateString(string(body), 200),
		}
		if apiErr.Class == ClassRateLimited {
			apiErr.RetryAfter = parseRetryAfter(httpResp.Header.Get("Retry-After"))
		}
		return nil, apiErr
	}

	return &Response{StatusCode: httpResp.StatusCode, Body: body}, nil
}

// parseRetryAfter handles the delay-seconds form; the HTTP-date form is
// rare on research APIs and falls back to no hint.
func parseRetryAfter(v string) time.Duration {
	if v == "" {
		return 0
	}
	secs, err := strconv.Atoi(v)
	if err != nil || secs < 0 {
		return 0
	}
	return time.Duration(secs) * time.Second
}
