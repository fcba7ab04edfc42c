package rpc

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/vietddude/resilio/internal/core/domain"
	"github.com/vietddude/resilio/internal/infra/rpc/retry"
	"github.com/vietddude/resilio/internal/infra/rpc/transport"
	"github.com/vietddude/resilio/internal/telemetry/metrics"
)

// Recorder receives terminal failures. The aggregator implements it.
type Recorder interface {
	Record(rec domain.ErrorRecord)
}

// Timeouts holds the per request type budgets.
type Timeouts struct {
	Default  time.Duration
	Upload   time.Duration
	Download time.Duration
}

// DefaultTimeouts provides sensible timeout defaults.
var DefaultTimeouts = Timeouts{
	Default:  30 * time.Second,
	Upload:   120 * time.Second,
	Download: 60 * time.Second,
}

// Executor runs requests through the retry loop. It keeps no per-call state, so
// concurrent Execute calls are independent.
type Executor struct {
	transport    transport.Transport
	policy       retry.Policy
	backoff      *retry.Backoff
	timeouts     Timeouts
	connectivity transport.Connectivity
	recorder     Recorder
	instanceID   string
	sleep        func(time.Duration)
	log          *slog.Logger
}

// Option configures an Executor.
type Option func(*Executor)

// WithConnectivity sets the reachability check consulted before each attempt.
func WithConnectivity(c transport.Connectivity) Option {
	return func(e *Executor) { e.connectivity = c }
}

// WithRecorder sets where terminal failures are recorded.
func WithRecorder(r Recorder) Option {
	return func(e *Executor) { e.recorder = r }
}

// WithInstanceID stamps records with the owning instance.
func WithInstanceID(id string) Option {
	return func(e *Executor) { e.instanceID = id }
}

// WithTimeouts sets the per request type budgets. Zero values keep the defaults.
func WithTimeouts(t Timeouts) Option {
	return func(e *Executor) {
		if t.Default > 0 {
			e.timeouts.Default = t.Default
		}
		if t.Upload > 0 {
			e.timeouts.Upload = t.Upload
		}
		if t.Download > 0 {
			e.timeouts.Download = t.Download
		}
	}
}

// WithSleeper replaces the backoff sleep. Tests use it to observe delays.
func WithSleeper(sleep func(time.Duration)) Option {
	return func(e *Executor) { e.sleep = sleep }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Executor) { e.log = l }
}

// NewExecutor creates an executor over a transport.
func NewExecutor(t transport.Transport, policy retry.Policy, opts ...Option) *Executor {
	if policy.RetryableStatuses == nil {
		policy.RetryableStatuses = retry.StatusSet(retry.DefaultRetryableStatuses, false)
	}
	if policy.MaxRetries < 0 {
		policy.MaxRetries = 0
	}

	e := &Executor{
		transport:    t,
		policy:       policy,
		backoff:      retry.NewBackoff(policy),
		timeouts:     DefaultTimeouts,
		connectivity: transport.AlwaysOnline,
		sleep:        time.Sleep,
		log:          slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Execute sends the request, retrying retryable failures with backoff. It returns the
// first 2xx response, or a *RequestError once a failure is terminal. A terminal failure
// is recorded exactly once. If ctx is cancelled the loop stops before the next attempt
// and the context error is returned without being recorded.
func (e *Executor) Execute(ctx context.Context, req Request) (*Response, error) {
	if req.Method == "" {
		req.Method = http.MethodGet
	}
	start := time.Now()
	defer func() {
		metrics.RequestLatency.WithLabelValues(req.Method).Observe(time.Since(start).Seconds())
	}()

	for attempt := 0; attempt <= e.policy.MaxRetries; attempt++ {
		if !e.connectivity.Online() {
			c := retry.Classify(retry.Failure{}, retry.RequestContext{Online: false})
			return nil, e.fail(req, c, "no network connectivity", attempt, 0, nil)
		}
		if err := ctx.Err(); err != nil {
			return nil, e.abandon(req, attempt, err)
		}

		a := domain.RequestAttempt{
			URL:       req.URL,
			Method:    req.Method,
			Attempt:   attempt,
			StartedAt: time.Now(),
		}

		resp, failure, timeout := e.attempt(ctx, req)
		if failure == nil {
			metrics.AttemptsTotal.WithLabelValues(req.Method, "success").Inc()
			metrics.RequestsTotal.WithLabelValues(req.Method, "success").Inc()
			return resp, nil
		}
		if ctx.Err() != nil && !failure.TimedOut {
			return nil, e.abandon(req, attempt+1, ctx.Err())
		}

		c := retry.Classify(*failure, retry.RequestContext{
			Online:            e.connectivity.Online(),
			Elapsed:           time.Since(a.StartedAt),
			Timeout:           timeout,
			RetryableStatuses: e.policy.RetryableStatuses,
		})
		metrics.AttemptsTotal.WithLabelValues(req.Method, string(c.Kind)).Inc()

		a.Outcome = "failed"
		a.Status = failure.Status
		a.Kind = c.Kind

		if !e.policy.Retryable(c, attempt) || attempt == e.policy.MaxRetries {
			return nil, e.fail(req, c, failureMessage(failure, resp, timeout), attempt, failure.Status, failure.Err)
		}

		delay := e.backoff.DelayFor(attempt+1, failure.RetryAfter)
		metrics.RetriesTotal.WithLabelValues(string(c.Kind)).Inc()
		e.log.Debug("Attempt failed, retrying", "attempt", a, "delay", delay)

		// The delay is not interrupted by ctx; cancellation is observed at the next loop.
		e.sleep(delay)
	}

	// Unreachable: the last iteration always returns.
	return nil, fmt.Errorf("retry loop exited without result")
}

type result struct {
	resp *Response
	err  error
}

// attempt races one transport call against the request's timeout.
func (e *Executor) attempt(ctx context.Context, req Request) (*Response, *retry.Failure, time.Duration) {
	timeout := e.timeoutFor(req)
	actx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	done := make(chan result, 1)
	go func() {
		resp, err := e.transport.Do(actx, req)
		done <- result{resp: resp, err: err}
	}()

	var r result
	select {
	case r = <-done:
	case <-actx.Done():
		if ctx.Err() != nil {
			return nil, &retry.Failure{Err: ctx.Err()}, timeout
		}
		return nil, &retry.Failure{Err: actx.Err(), TimedOut: true}, timeout
	}

	if r.err != nil {
		timedOut := errors.Is(actx.Err(), context.DeadlineExceeded) && ctx.Err() == nil
		return nil, &retry.Failure{Err: r.err, TimedOut: timedOut}, timeout
	}
	if r.resp == nil {
		return nil, &retry.Failure{Err: errors.New("transport returned no response")}, timeout
	}
	if !r.resp.OK() {
		return r.resp, &retry.Failure{Status: r.resp.Status, RetryAfter: r.resp.RetryAfter}, timeout
	}
	return r.resp, nil, timeout
}

func (e *Executor) timeoutFor(req Request) time.Duration {
	if req.Timeout > 0 {
		return req.Timeout
	}
	switch req.Type {
	case TypeUpload:
		return e.timeouts.Upload
	case TypeDownload:
		return e.timeouts.Download
	default:
		return e.timeouts.Default
	}
}

// fail builds the terminal error and records it once.
func (e *Executor) fail(
	req Request,
	c retry.Classification,
	message string,
	attempt, status int,
	cause error,
) *RequestError {
	ctxMap := map[string]string{
		"url":      req.URL,
		"method":   req.Method,
		"attempts": strconv.Itoa(attempt + 1),
	}
	if req.Type != "" {
		ctxMap["type"] = string(req.Type)
	}
	if status > 0 {
		ctxMap["status"] = strconv.Itoa(status)
	}

	rec := domain.NewErrorRecord(c.Kind, c.Severity, message, e.instanceID, attempt, ctxMap)
	if e.recorder != nil {
		e.recorder.Record(rec)
	}

	metrics.RequestsTotal.WithLabelValues(req.Method, string(c.Kind)).Inc()
	e.log.Debug("Request failed", "url", req.URL, "kind", c.Kind, "retries", attempt, "message", message)

	return &RequestError{
		Kind:      c.Kind,
		Retryable: c.Retryable,
		Severity:  c.Severity,
		Message:   message,
		Context:   ctxMap,
		Attempts:  attempt + 1,
		Status:    status,
		Record:    rec,
		Err:       cause,
	}
}

func (e *Executor) abandon(req Request, attempts int, err error) error {
	metrics.RequestsTotal.WithLabelValues(req.Method, "abandoned").Inc()
	return fmt.Errorf("request %s %s abandoned after %d attempt(s): %w", req.Method, req.URL, attempts, err)
}

func failureMessage(f *retry.Failure, resp *Response, timeout time.Duration) string {
	switch {
	case f.TimedOut:
		return fmt.Sprintf("request timed out after %v", timeout)
	case f.Status > 0:
		body := ""
		if resp != nil {
			body = string(resp.Body)
			if len(body) > 256 {
				body = body[:256]
			}
		}
		if body == "" {
			body = http.StatusText(f.Status)
		}
		return fmt.Sprintf("http %d: %s", f.Status, body)
	case f.Err != nil:
		return f.Err.Error()
	default:
		return "unknown failure"
	}
}
