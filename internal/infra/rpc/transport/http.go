package transport

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// HTTPTransport implements Transport over a keep-alive HTTP client.
type HTTPTransport struct {
	httpClient *http.Client

	mu       sync.RWMutex
	monitors map[string]*Monitor
}

// HTTPOptions configures an HTTPTransport.
type HTTPOptions struct {
	// Traced wraps the round tripper with OpenTelemetry instrumentation.
	Traced bool
	// MaxBodyBytes limits the response body size; larger bodies fail with
	// ErrBodyTooLarge. 0 means 10 MiB.
	MaxBodyBytes int64
}

const defaultMaxBodyBytes = 10 << 20

// NewHTTPTransport creates a transport. Timeouts are applied per call by the caller's
// context, so the client itself has none.
func NewHTTPTransport(opts HTTPOptions) *HTTPTransport {
	var rt http.RoundTripper = &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 10,
		IdleConnTimeout:     90 * time.Second,
	}
	if opts.Traced {
		rt = otelhttp.NewTransport(rt)
	}

	maxBody := opts.MaxBodyBytes
	if maxBody <= 0 {
		maxBody = defaultMaxBodyBytes
	}

	return &HTTPTransport{
		httpClient: &http.Client{Transport: &limitedBodyTransport{next: rt, max: maxBody}},
		monitors:   make(map[string]*Monitor),
	}
}

// Do performs one HTTP exchange.
func (t *HTTPTransport) Do(ctx context.Context, r Request) (*Response, error) {
	method := r.Method
	if method == "" {
		method = http.MethodGet
	}

	var body io.Reader
	if len(r.Body) > 0 {
		body = bytes.NewReader(r.Body)
	}

	req, err := http.NewRequestWithContext(ctx, method, r.URL, body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	for k, vs := range r.Header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}

	mon := t.monitorFor(req.URL)
	start := time.Now()

	resp, err := t.httpClient.Do(req)
	if err != nil {
		mon.RecordFailure()
		return nil, fmt.Errorf("http call: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		mon.RecordFailure()
		return nil, fmt.Errorf("read response: %w", err)
	}

	latency := time.Since(start)
	out := &Response{
		Status: resp.StatusCode,
		Header: resp.Header,
		Body:   data,
	}

	switch resp.StatusCode {
	case http.StatusTooManyRequests, http.StatusServiceUnavailable:
		out.RetryAfter = ParseRetryAfter(resp.Header.Get("Retry-After"), time.Now())
		if resp.StatusCode == http.StatusTooManyRequests {
			mon.RecordThrottle(resp.StatusCode, out.RetryAfter)
		}
	case http.StatusForbidden:
		mon.RecordThrottle(resp.StatusCode, 0)
	}

	if out.OK() {
		mon.RecordRequest(latency)
	} else {
		mon.RecordFailure()
	}
	return out, nil
}

// Stats returns monitoring stats keyed by host.
func (t *HTTPTransport) Stats() map[string]MonitorStats {
	t.mu.RLock()
	defer t.mu.RUnlock()

	stats := make(map[string]MonitorStats, len(t.monitors))
	for host, m := range t.monitors {
		stats[host] = m.Stats()
	}
	return stats
}

// Close releases idle connections.
func (t *HTTPTransport) Close() error {
	t.httpClient.CloseIdleConnections()
	return nil
}

func (t *HTTPTransport) monitorFor(u *url.URL) *Monitor {
	host := u.Host

	t.mu.RLock()
	m, ok := t.monitors[host]
	t.mu.RUnlock()
	if ok {
		return m
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if m, ok = t.monitors[host]; !ok {
		m = NewMonitor()
		t.monitors[host] = m
	}
	return m
}

// ErrBodyTooLarge is returned when a response body exceeds HTTPOptions.MaxBodyBytes.
var ErrBodyTooLarge = errors.New("response body too large")

// limitedBodyTransport caps response bodies so a misbehaving server cannot exhaust memory.
type limitedBodyTransport struct {
	next http.RoundTripper
	max  int64
}

func (l *limitedBodyTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	resp, err := l.next.RoundTrip(req)
	if err != nil {
		return nil, err
	}
	resp.Body = &limitedBody{r: io.LimitReader(resp.Body, l.max+1), c: resp.Body, left: l.max}
	return resp, nil
}

// limitedBody fails instead of truncating once more than left bytes arrive.
type limitedBody struct {
	r    io.Reader
	c    io.Closer
	left int64
}

func (b *limitedBody) Read(p []byte) (int, error) {
	n, err := b.r.Read(p)
	b.left -= int64(n)
	if b.left < 0 {
		return n + int(b.left), ErrBodyTooLarge
	}
	return n, err
}

func (b *limitedBody) Close() error {
	return b.c.Close()
}
