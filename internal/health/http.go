package health

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
)

// HTTPProber GETs the endpoint. 204, or any 2xx with a JSON body, is healthy.
type HTTPProber struct {
	client *http.Client
}

func NewHTTPProber(client *http.Client) *HTTPProber {
	if client == nil {
		client = &http.Client{}
	}
	return &HTTPProber{client: client}
}

func (p *HTTPProber) Probe(ctx context.Context, target string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return &ProbeError{Err: fmt.Errorf("create request: %w", err)}
	}
	req.Header.Set("Accept", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return &ProbeError{Err: err, TimedOut: errors.Is(ctx.Err(), context.DeadlineExceeded)}
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &ProbeError{Reached: true, Status: resp.StatusCode}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return &ProbeError{Reached: true, Status: resp.StatusCode, Err: fmt.Errorf("read body: %w", err)}
	}
	if !json.Valid(body) {
		return &ProbeError{Reached: true, Status: resp.StatusCode, Err: errors.New("response is not JSON")}
	}
	return nil
}
