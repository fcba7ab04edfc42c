// Package rpc provides the resilient request executor.
//
// This package offers:
//   - Failure classification (offline, timeout, service, client, network)
//   - Exponential backoff with jitter and Retry-After support
//   - Per request type timeouts (default, upload, download)
//   - Exactly-once recording of terminal failures for telemetry
//
// # Quick Start
//
//	import "github.com/vietddude/resilio/internal/infra/rpc"
//
//	exec := rpc.NewExecutor(
//	    rpc.NewHTTPTransport(rpc.HTTPOptions{}),
//	    rpc.DefaultPolicy(),
//	    rpc.WithRecorder(aggregator),
//	)
//
//	resp, err := exec.Execute(ctx, rpc.Request{URL: "https://api.example.com/flows"})
//	var reqErr *rpc.RequestError
//	if errors.As(err, &reqErr) && reqErr.Kind == domain.KindOffline {
//	    // show offline banner
//	}
//
// # Package Structure
//
//   - transport/ - Transport implementations, host monitoring, connectivity checks
//   - retry/     - Classification and backoff (pure functions)
//
// Most types are re-exported at the root level for convenience.
package rpc

import (
	"github.com/vietddude/resilio/internal/infra/rpc/retry"
	"github.com/vietddude/resilio/internal/infra/rpc/transport"
)

// =============================================================================
// Re-exported types from transport package
// =============================================================================

// Request is one logical outbound call.
type Request = transport.Request

// Response is a completed HTTP exchange.
type Response = transport.Response

// RequestType selects the timeout budget.
type RequestType = transport.RequestType

// Transport performs a single attempt.
type Transport = transport.Transport

// HTTPTransport is the keep-alive HTTP transport.
type HTTPTransport = transport.HTTPTransport

// HTTPOptions configures an HTTPTransport.
type HTTPOptions = transport.HTTPOptions

// Connectivity reports network reachability.
type Connectivity = transport.Connectivity

// Request type constants
const (
	TypeDefault  = transport.TypeDefault
	TypeUpload   = transport.TypeUpload
	TypeDownload = transport.TypeDownload
)

// NewHTTPTransport creates the keep-alive HTTP transport.
func NewHTTPTransport(opts HTTPOptions) *HTTPTransport {
	return transport.NewHTTPTransport(opts)
}

// =============================================================================
// Re-exported types from retry package
// =============================================================================

// Policy defines retry behavior.
type Policy = retry.Policy

// Classification is the classifier verdict.
type Classification = retry.Classification

// DefaultPolicy provides sensible retry defaults.
func DefaultPolicy() Policy {
	return retry.DefaultPolicy()
}
