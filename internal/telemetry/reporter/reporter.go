// Package reporter delivers forwarded error records to a sink in the background.
// Delivery is fire-and-forget: a failed send is logged and counted, never retried,
// and never fed back into the aggregator.
package reporter

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/vietddude/resilio/internal/core/domain"
	"github.com/vietddude/resilio/internal/telemetry/metrics"
	"github.com/vietddude/resilio/internal/telemetry/sink"
)

// Options configures a Reporter.
type Options struct {
	// RatePerSecond limits sink calls; <= 0 disables limiting.
	RatePerSecond float64
	Burst         int
	QueueSize     int
	SendTimeout   time.Duration
	Logger        *slog.Logger
}

// Stats counts reporter outcomes.
type Stats struct {
	Sent    int64
	Failed  int64
	Dropped int64
	Queued  int
}

// Reporter owns one worker goroutine that drains a bounded queue into the sink.
type Reporter struct {
	sink    sink.Sink
	limiter *rate.Limiter
	timeout time.Duration
	log     *slog.Logger

	mu     sync.RWMutex
	queue  chan domain.ErrorRecord
	closed bool

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	sent    atomic.Int64
	failed  atomic.Int64
	dropped atomic.Int64
}

// New creates a reporter and starts its worker.
func New(s sink.Sink, opts Options) *Reporter {
	if opts.QueueSize <= 0 {
		opts.QueueSize = 100
	}
	if opts.SendTimeout <= 0 {
		opts.SendTimeout = 10 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	limit := rate.Inf
	if opts.RatePerSecond > 0 {
		limit = rate.Limit(opts.RatePerSecond)
	}
	burst := opts.Burst
	if burst <= 0 {
		burst = 1
	}

	ctx, cancel := context.WithCancel(context.Background())
	r := &Reporter{
		sink:    s,
		limiter: rate.NewLimiter(limit, burst),
		timeout: opts.SendTimeout,
		log:     opts.Logger.With("component", "reporter", "sink", s.Name()),
		queue:   make(chan domain.ErrorRecord, opts.QueueSize),
		ctx:     ctx,
		cancel:  cancel,
		done:    make(chan struct{}),
	}
	go r.run()
	return r
}

// Report enqueues rec without blocking. When the queue is full or the reporter is
// closed the record is dropped.
func (r *Reporter) Report(rec domain.ErrorRecord) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.closed {
		r.drop(rec, "closed")
		return
	}

	select {
	case r.queue <- rec:
		metrics.ReportQueueDepth.Set(float64(len(r.queue)))
	default:
		r.drop(rec, "queue_full")
	}
}

func (r *Reporter) drop(rec domain.ErrorRecord, reason string) {
	r.dropped.Add(1)
	metrics.ReportsTotal.WithLabelValues("dropped_" + reason).Inc()
	r.log.Debug("Report dropped", "id", rec.ID, "reason", reason)
}

func (r *Reporter) run() {
	defer close(r.done)

	for rec := range r.queue {
		metrics.ReportQueueDepth.Set(float64(len(r.queue)))

		if err := r.limiter.Wait(r.ctx); err != nil {
			r.drop(rec, "shutdown")
			continue
		}
		r.send(rec)
	}
}

func (r *Reporter) send(rec domain.ErrorRecord) {
	ctx, cancel := context.WithTimeout(r.ctx, r.timeout)
	defer cancel()

	if err := r.sink.Send(ctx, rec); err != nil {
		r.failed.Add(1)
		metrics.ReportsTotal.WithLabelValues("failed").Inc()
		r.log.Warn("Failed to deliver error report", "id", rec.ID, "kind", rec.Kind, "error", err)
		return
	}
	r.sent.Add(1)
	metrics.ReportsTotal.WithLabelValues("sent").Inc()
}

// Close stops accepting records and drains the queue. If ctx expires first, pending
// records are dropped and ctx's error is returned.
func (r *Reporter) Close(ctx context.Context) error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		<-r.done
		return nil
	}
	r.closed = true
	close(r.queue)
	r.mu.Unlock()

	select {
	case <-r.done:
		r.cancel()
		return nil
	case <-ctx.Done():
		r.cancel()
		<-r.done
		return ctx.Err()
	}
}

// Stats returns delivery counters.
func (r *Reporter) Stats() Stats {
	return Stats{
		Sent:    r.sent.Load(),
		Failed:  r.failed.Load(),
		Dropped: r.dropped.Load(),
		Queued:  len(r.queue),
	}
}
