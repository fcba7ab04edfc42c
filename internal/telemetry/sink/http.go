package sink

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/vietddude/resilio/internal/core/domain"
)

// HTTPSink POSTs each record as JSON to a collector endpoint.
type HTTPSink struct {
	endpoint string
	client   *http.Client
	headers  http.Header
}

// HTTPSinkOptions configures an HTTPSink.
type HTTPSinkOptions struct {
	Headers http.Header
	Timeout time.Duration
	Traced  bool
}

// NewHTTPSink creates a sink with a keep-alive client so delivery during shutdown
// reuses open connections.
func NewHTTPSink(endpoint string, opts HTTPSinkOptions) *HTTPSink {
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}

	var rt http.RoundTripper = &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		MaxIdleConns:        10,
		MaxIdleConnsPerHost: 2,
		IdleConnTimeout:     90 * time.Second,
	}
	if opts.Traced {
		rt = otelhttp.NewTransport(rt)
	}

	return &HTTPSink{
		endpoint: endpoint,
		client:   &http.Client{Timeout: opts.Timeout, Transport: rt},
		headers:  opts.Headers,
	}
}

func (s *HTTPSink) Name() string { return "http" }

// Send posts rec. Any non-2xx response is an error; the reporter does not retry it.
func (s *HTTPSink) Send(ctx context.Context, rec domain.ErrorRecord) error {
	body, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal record: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, vs := range s.headers {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("post report: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("report endpoint returned %d", resp.StatusCode)
	}
	return nil
}

// Close releases idle connections.
func (s *HTTPSink) Close() error {
	s.client.CloseIdleConnections()
	return nil
}
