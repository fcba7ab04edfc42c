// Package retry holds the pure decision logic of the request layer: failure
// classification and backoff delay computation.
package retry

import (
	"context"
	"errors"
	"net"
	"strings"
	"syscall"
	"time"

	"github.com/vietddude/resilio/internal/core/domain"
)

// Failure is the raw outcome of a failed attempt. Either Err or Status (or both) is set.
type Failure struct {
	Err        error
	Status     int
	TimedOut   bool
	RetryAfter time.Duration
}

// RequestContext is what the classifier knows about the call at failure time.
type RequestContext struct {
	Online            bool
	Elapsed           time.Duration
	Timeout           time.Duration
	RetryableStatuses map[int]bool
}

// Classification is the classifier's verdict.
type Classification struct {
	Kind      domain.ErrorKind
	Retryable bool
	Severity  domain.Severity
}

// DefaultRetryableStatuses are retried with backoff.
var DefaultRetryableStatuses = []int{408, 429, 500, 502, 503, 504}

// ContainerStatuses are added to the retryable set for containerized deployments.
var ContainerStatuses = []int{507, 508}

// StatusSet builds a lookup set from status codes.
func StatusSet(statuses []int, containerized bool) map[int]bool {
	set := make(map[int]bool, len(statuses)+len(ContainerStatuses))
	for _, s := range statuses {
		set[s] = true
	}
	if containerized {
		for _, s := range ContainerStatuses {
			set[s] = true
		}
	}
	return set
}

var networkPatterns = []string{
	"connection refused",
	"connection reset",
	"no route to host",
	"unreachable",
	"no such host",
	"broken pipe",
}

// Classify maps a failure to {kind, retryable, severity}. It has no side effects.
func Classify(f Failure, rc RequestContext) Classification {
	if !rc.Online {
		return Classification{Kind: domain.KindOffline, Retryable: false, Severity: domain.SeverityWarning}
	}

	if f.TimedOut || (rc.Timeout > 0 && rc.Elapsed >= rc.Timeout) || isDeadline(f.Err) {
		return Classification{Kind: domain.KindTimeout, Retryable: true, Severity: domain.SeverityError}
	}

	if f.Status > 0 {
		if rc.RetryableStatuses[f.Status] {
			return Classification{Kind: domain.KindService, Retryable: true, Severity: domain.SeverityError}
		}
		if f.Status >= 400 {
			severity := domain.SeverityWarning
			if f.Status >= 500 {
				severity = domain.SeverityError
			}
			return Classification{Kind: domain.KindClient, Retryable: false, Severity: severity}
		}
	}

	if isNetwork(f.Err) {
		return Classification{Kind: domain.KindNetwork, Retryable: true, Severity: domain.SeverityError}
	}

	return Classification{Kind: domain.KindUnknown, Retryable: false, Severity: domain.SeverityError}
}

func isDeadline(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

func isNetwork(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.EHOSTUNREACH) || errors.Is(err, syscall.ENETUNREACH) {
		return true
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return true
	}

	sLower := strings.ToLower(err.Error())
	for _, pattern := range networkPatterns {
		if strings.Contains(sLower, pattern) {
			return true
		}
	}
	return false
}
