package health

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/vietddude/resilio/internal/core/domain"
	"github.com/vietddude/resilio/internal/infra/rpc/retry"
	"github.com/vietddude/resilio/internal/infra/rpc/transport"
	"github.com/vietddude/resilio/internal/telemetry/metrics"
)

// TransitionFunc is called when the overall status changes.
type TransitionFunc func(from, to domain.OverallStatus, report Report)

// Options configures a Monitor.
type Options struct {
	Interval time.Duration
	// Timeout bounds each probe individually.
	Timeout      time.Duration
	HTTP         Prober
	GRPC         Prober
	Connectivity transport.Connectivity
	Logger       *slog.Logger
}

// Monitor aggregates health status from the configured endpoints.
type Monitor struct {
	endpoints    map[string]string
	interval     time.Duration
	timeout      time.Duration
	http         Prober
	grpc         Prober
	connectivity transport.Connectivity
	log          *slog.Logger

	mu          sync.RWMutex
	last        Report
	listeners   map[int]TransitionFunc
	nextID      int
	commitMu    sync.Mutex
	cancel      context.CancelFunc
	done        chan struct{}
	runningLock sync.Mutex
}

// NewMonitor creates a new health monitor for name -> URL endpoints.
func NewMonitor(endpoints map[string]string, opts Options) *Monitor {
	if opts.Interval <= 0 {
		opts.Interval = 30 * time.Second
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 5 * time.Second
	}
	if opts.HTTP == nil {
		opts.HTTP = NewHTTPProber(nil)
	}
	if opts.GRPC == nil {
		opts.GRPC = NewGRPCProber()
	}
	if opts.Connectivity == nil {
		opts.Connectivity = transport.AlwaysOnline
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	eps := make(map[string]string, len(endpoints))
	for k, v := range endpoints {
		eps[k] = v
	}

	return &Monitor{
		endpoints:    eps,
		interval:     opts.Interval,
		timeout:      opts.Timeout,
		http:         opts.HTTP,
		grpc:         opts.GRPC,
		connectivity: opts.Connectivity,
		log:          opts.Logger.With("component", "health"),
		last:         Report{Overall: domain.OverallUnknown, Endpoints: map[string]domain.EndpointHealth{}},
		listeners:    make(map[int]TransitionFunc),
	}
}

// CheckHealth probes every endpoint concurrently and returns the new report. A slow
// endpoint never delays another's result beyond the shared probe timeout.
func (m *Monitor) CheckHealth(ctx context.Context) Report {
	type result struct {
		name   string
		health domain.EndpointHealth
	}

	started := time.Now()
	results := make(chan result, len(m.endpoints))
	var wg sync.WaitGroup
	for name, target := range m.endpoints {
		wg.Add(1)
		go func(name, target string) {
			defer wg.Done()
			results <- result{name: name, health: m.probe(ctx, name, target)}
		}(name, target)
	}
	wg.Wait()
	close(results)

	report := Report{
		Endpoints: make(map[string]domain.EndpointHealth, len(m.endpoints)),
		CheckedAt: started,
	}
	for r := range results {
		report.Endpoints[r.name] = r.health
	}
	report.Overall = domain.AggregateStatus(report.Endpoints)

	// A poll cut short by cancellation is not a completed poll.
	if ctx.Err() != nil {
		return report
	}
	m.commit(report)
	return report
}

func (m *Monitor) probe(ctx context.Context, name, target string) domain.EndpointHealth {
	pctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	prober := m.http
	if IsGRPCTarget(target) {
		prober = m.grpc
	}

	start := time.Now()
	err := m.safeProbe(pctx, prober, target)
	latency := time.Since(start)
	metrics.ProbeLatency.WithLabelValues(name).Observe(latency.Seconds())

	h := domain.EndpointHealth{
		Name:      name,
		URL:       target,
		State:     domain.EndpointHealthy,
		Latency:   latency,
		CheckedAt: time.Now(),
	}
	if err == nil {
		metrics.EndpointUp.WithLabelValues(name).Set(1)
		return h
	}
	metrics.EndpointUp.WithLabelValues(name).Set(0)

	pe := asProbeError(err)
	c := retry.Classify(
		retry.Failure{Err: pe.Err, Status: pe.Status, TimedOut: pe.TimedOut},
		retry.RequestContext{
			Online:            m.connectivity.Online(),
			Elapsed:           latency,
			Timeout:           m.timeout,
			RetryableStatuses: retry.StatusSet(retry.DefaultRetryableStatuses, false),
		},
	)

	h.Kind = c.Kind
	h.Detail = pe.Error()
	if pe.Reached {
		h.State = domain.EndpointUnhealthy
	} else {
		h.State = domain.EndpointError
	}
	return h
}

// safeProbe bounds a probe by ctx even when the prober ignores it. A prober that
// outlives ctx keeps running in the background; its result is dropped.
func (m *Monitor) safeProbe(ctx context.Context, p Prober, target string) error {
	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- &ProbeError{Err: &panicError{value: r}}
			}
		}()
		done <- p.Probe(ctx, target)
	}()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return &ProbeError{Err: ctx.Err(), TimedOut: errors.Is(ctx.Err(), context.DeadlineExceeded)}
	}
}

type panicError struct{ value any }

func (e *panicError) Error() string { return fmt.Sprintf("prober panicked: %v", e.value) }

// commit stores report and fires transition listeners when the overall status changed.
// A poll that started before the stored one is discarded.
func (m *Monitor) commit(report Report) {
	m.commitMu.Lock()
	defer m.commitMu.Unlock()

	m.mu.Lock()
	if report.CheckedAt.Before(m.last.CheckedAt) {
		m.mu.Unlock()
		m.log.Debug("Discarding stale health poll", "started", report.CheckedAt)
		return
	}
	prev := m.last.Overall
	m.last = report
	var ls []TransitionFunc
	if prev != report.Overall {
		ids := make([]int, 0, len(m.listeners))
		for id := range m.listeners {
			ids = append(ids, id)
		}
		sort.Ints(ids)
		for _, id := range ids {
			ls = append(ls, m.listeners[id])
		}
	}
	m.mu.Unlock()

	metrics.OverallHealth.Set(overallValue(report.Overall))

	if prev == report.Overall {
		return
	}
	m.log.Info("Health status changed", "from", prev, "to", report.Overall)
	for _, fn := range ls {
		m.notify(fn, prev, report)
	}
}

func (m *Monitor) notify(fn TransitionFunc, prev domain.OverallStatus, report Report) {
	defer func() {
		if r := recover(); r != nil {
			m.log.Warn("Transition listener panicked", "panic", r)
		}
	}()
	fn(prev, report.Overall, report)
}

func overallValue(s domain.OverallStatus) float64 {
	switch s {
	case domain.OverallHealthy:
		return 2
	case domain.OverallDegraded:
		return 1
	default:
		return 0
	}
}

// Status returns the last completed report without probing.
func (m *Monitor) Status() Report {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := Report{
		Overall:   m.last.Overall,
		CheckedAt: m.last.CheckedAt,
		Endpoints: make(map[string]domain.EndpointHealth, len(m.last.Endpoints)),
	}
	for k, v := range m.last.Endpoints {
		out.Endpoints[k] = v
	}
	return out
}

// OnTransition registers fn and returns a function that removes it.
func (m *Monitor) OnTransition(fn TransitionFunc) (unregister func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	id := m.nextID
	m.listeners[id] = fn
	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		delete(m.listeners, id)
	}
}

// Start polls immediately and then every interval until Stop or ctx is done.
func (m *Monitor) Start(ctx context.Context) {
	m.runningLock.Lock()
	defer m.runningLock.Unlock()
	if m.cancel != nil {
		return
	}

	ctx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.done = make(chan struct{})

	go func(done chan struct{}) {
		defer close(done)
		ticker := time.NewTicker(m.interval)
		defer ticker.Stop()

		m.CheckHealth(ctx)
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.CheckHealth(ctx)
			}
		}
	}(m.done)

	m.log.Info("Health monitor started", "endpoints", len(m.endpoints), "interval", m.interval)
}

// Stop clears the polling timer and waits for an in-flight poll to finish.
func (m *Monitor) Stop() {
	m.runningLock.Lock()
	defer m.runningLock.Unlock()
	if m.cancel == nil {
		return
	}
	m.cancel()
	<-m.done
	m.cancel = nil
	m.done = nil
}

// Close stops polling and releases prober resources.
func (m *Monitor) Close() error {
	m.Stop()
	if c, ok := m.grpc.(interface{ Close() error }); ok {
		return c.Close()
	}
	return nil
}
