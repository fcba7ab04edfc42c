// Package transport implements the outbound side of the request layer.
//
// This package contains:
//   - Transport: the single-attempt call abstraction used by the executor
//   - HTTPTransport: keep-alive HTTP implementation with per-host monitoring
//   - Monitor: latency and throttle tracking per host
//   - Connectivity: reachability checks consulted before each attempt
package transport

import (
	"context"
	"net/http"
	"time"
)

// RequestType selects the timeout budget for a request.
type RequestType string

const (
	TypeDefault  RequestType = "default"
	TypeUpload   RequestType = "upload"
	TypeDownload RequestType = "download"
)

// Request is one logical outbound call.
type Request struct {
	URL    string
	Method string
	Header http.Header
	Body   []byte
	Type   RequestType

	// Timeout overrides the per-type budget when > 0.
	Timeout time.Duration
}

// Response is the result of a completed HTTP exchange, whatever its status.
type Response struct {
	Status     int
	Header     http.Header
	Body       []byte
	RetryAfter time.Duration
}

// OK reports whether the status is 2xx.
func (r *Response) OK() bool {
	return r != nil && r.Status >= 200 && r.Status < 300
}

// Transport performs a single attempt. A non-2xx response is not an error.
type Transport interface {
	Do(ctx context.Context, req Request) (*Response, error)
}

// TransportFunc adapts a function to Transport.
type TransportFunc func(ctx context.Context, req Request) (*Response, error)

// Do calls f.
func (f TransportFunc) Do(ctx context.Context, req Request) (*Response, error) {
	return f(ctx, req)
}
