// Package health probes dependency endpoints and tracks the overall status.
package health

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/vietddude/resilio/internal/core/domain"
)

// Report is the result of one poll.
type Report struct {
	Overall   domain.OverallStatus             `json:"overall"`
	Endpoints map[string]domain.EndpointHealth `json:"endpoints"`
	CheckedAt time.Time                        `json:"checked_at"`
}

// Prober checks one endpoint. A nil error means healthy.
type Prober interface {
	Probe(ctx context.Context, target string) error
}

// ProberFunc adapts a function to Prober.
type ProberFunc func(ctx context.Context, target string) error

// Probe calls f.
func (f ProberFunc) Probe(ctx context.Context, target string) error {
	return f(ctx, target)
}

// ProbeError describes a failed probe.
type ProbeError struct {
	// Reached is true when the endpoint answered but the answer was not healthy.
	Reached  bool
	Status   int
	TimedOut bool
	Err      error
}

func (e *ProbeError) Error() string {
	switch {
	case e.Status > 0 && e.Err != nil:
		return fmt.Sprintf("status %d: %v", e.Status, e.Err)
	case e.Status > 0:
		return fmt.Sprintf("status %d", e.Status)
	case e.Err != nil:
		return e.Err.Error()
	default:
		return "probe failed"
	}
}

func (e *ProbeError) Unwrap() error {
	return e.Err
}

func asProbeError(err error) *ProbeError {
	var pe *ProbeError
	if errors.As(err, &pe) {
		return pe
	}
	return &ProbeError{Err: err}
}
