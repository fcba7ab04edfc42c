// Package aggregator groups classified errors for the session and decides which of them
// reach the reporter and the propagation bus.
package aggregator

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/vietddude/resilio/internal/core/domain"
	"github.com/vietddude/resilio/internal/core/session"
	"github.com/vietddude/resilio/internal/telemetry/metrics"
)

// Reporter accepts forwarded records. Report must not block.
type Reporter interface {
	Report(rec domain.ErrorRecord)
}

// Propagator broadcasts forwarded records to peer instances.
type Propagator interface {
	Propagate(ctx context.Context, rec domain.ErrorRecord) bool
}

// PropagatorFunc adapts a function to Propagator.
type PropagatorFunc func(ctx context.Context, rec domain.ErrorRecord) bool

// Propagate calls f.
func (f PropagatorFunc) Propagate(ctx context.Context, rec domain.ErrorRecord) bool {
	return f(ctx, rec)
}

// Listener observes every record the aggregator counts, local or peer.
type Listener func(rec domain.ErrorRecord, group domain.ErrorGroup)

// Options configures an Aggregator.
type Options struct {
	MinSeverity  domain.Severity
	GroupSimilar bool
	// SampleEvery forwards every Kth occurrence of a group after the first.
	SampleEvery int
	// RecentSize bounds the ring of recent records kept for debugging.
	RecentSize int
	// PropagationTimeout bounds one Propagate call.
	PropagationTimeout time.Duration

	Session  *session.Session
	Reporter Reporter
	Logger   *slog.Logger
}

// Aggregator is safe for concurrent use.
type Aggregator struct {
	opts    Options
	session *session.Session
	log     *slog.Logger

	mu         sync.Mutex
	groups     map[string]*domain.ErrorGroup
	recent     []domain.ErrorRecord
	next       int
	propagator Propagator
	listeners  map[int]Listener
	listenerID int
}

// New creates an aggregator.
func New(opts Options) *Aggregator {
	if opts.SampleEvery <= 0 {
		opts.SampleEvery = 10
	}
	if opts.RecentSize <= 0 {
		opts.RecentSize = 100
	}
	if opts.PropagationTimeout <= 0 {
		opts.PropagationTimeout = 5 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	sess := opts.Session
	if sess == nil {
		sess = session.New(session.Options{MaxForwarded: 50, Logger: opts.Logger})
	}

	return &Aggregator{
		opts:      opts,
		session:   sess,
		log:       opts.Logger.With("component", "aggregator"),
		groups:    make(map[string]*domain.ErrorGroup),
		recent:    make([]domain.ErrorRecord, 0, opts.RecentSize),
		listeners: make(map[int]Listener),
	}
}

// SetPropagator attaches the propagation bus. The bus is created after the aggregator
// because it ingests peer records into it.
func (a *Aggregator) SetPropagator(p Propagator) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.propagator = p
}

// Record counts a locally observed record and forwards it when the sampling rules,
// the severity floor and the session cap allow.
func (a *Aggregator) Record(rec domain.ErrorRecord) {
	group, propagator := a.count(rec)
	metrics.ErrorsRecordedTotal.WithLabelValues(string(rec.Kind), rec.Severity.String(), "local").Inc()
	a.notify(rec, group)

	if rec.Severity < a.opts.MinSeverity {
		return
	}
	if !a.sampled(group.Count) {
		return
	}
	if !a.session.TryForward() {
		metrics.ReportsTotal.WithLabelValues("capped").Inc()
		return
	}

	if a.opts.Reporter != nil {
		a.opts.Reporter.Report(rec)
	}
	if propagator != nil && !rec.Propagated {
		a.session.Go("propagate", func() {
			ctx, cancel := context.WithTimeout(context.Background(), a.opts.PropagationTimeout)
			defer cancel()
			propagator.Propagate(ctx, rec)
		})
	}
}

// Ingest counts a record received from a peer. Peer records are never forwarded.
func (a *Aggregator) Ingest(rec domain.ErrorRecord) {
	if !rec.Propagated {
		rec = rec.AsPeer()
	}
	group, _ := a.count(rec)
	metrics.ErrorsRecordedTotal.WithLabelValues(string(rec.Kind), rec.Severity.String(), "peer").Inc()
	a.notify(rec, group)
}

func (a *Aggregator) count(rec domain.ErrorRecord) (domain.ErrorGroup, Propagator) {
	key := rec.GroupKey
	if key == "" {
		key = domain.GroupKey(rec.Kind, rec.Message)
	}
	ts := rec.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	g, ok := a.groups[key]
	if !ok {
		g = &domain.ErrorGroup{GroupKey: key, Kind: rec.Kind, FirstSeen: ts}
		a.groups[key] = g
	}
	g.Count++
	if ts.After(g.LastSeen) {
		g.LastSeen = ts
	}

	if len(a.recent) < a.opts.RecentSize {
		a.recent = append(a.recent, rec)
	} else {
		a.recent[a.next] = rec
	}
	a.next = (a.next + 1) % a.opts.RecentSize

	return *g, a.propagator
}

func (a *Aggregator) sampled(count int) bool {
	if !a.opts.GroupSimilar {
		return true
	}
	return count == 1 || count%a.opts.SampleEvery == 0
}

func (a *Aggregator) notify(rec domain.ErrorRecord, group domain.ErrorGroup) {
	a.mu.Lock()
	ls := make([]Listener, 0, len(a.listeners))
	for _, fn := range a.listeners {
		ls = append(ls, fn)
	}
	a.mu.Unlock()

	for _, fn := range ls {
		a.safeCall(fn, rec, group)
	}
}

func (a *Aggregator) safeCall(fn Listener, rec domain.ErrorRecord, group domain.ErrorGroup) {
	defer func() {
		if r := recover(); r != nil {
			a.log.Warn("Listener panicked", "group", group.GroupKey, "panic", r)
		}
	}()
	fn(rec, group)
}

// Subscribe registers a listener and returns a function that removes it.
func (a *Aggregator) Subscribe(fn Listener) (unsubscribe func()) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.listenerID++
	id := a.listenerID
	a.listeners[id] = fn
	return func() {
		a.mu.Lock()
		defer a.mu.Unlock()
		delete(a.listeners, id)
	}
}

// Groups returns a snapshot of all groups, most frequent first.
func (a *Aggregator) Groups() []domain.ErrorGroup {
	a.mu.Lock()
	out := make([]domain.ErrorGroup, 0, len(a.groups))
	for _, g := range a.groups {
		out = append(out, *g)
	}
	a.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].GroupKey < out[j].GroupKey
	})
	return out
}

// Group returns the group for key.
func (a *Aggregator) Group(key string) (domain.ErrorGroup, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	g, ok := a.groups[key]
	if !ok {
		return domain.ErrorGroup{}, false
	}
	return *g, true
}

// Recent returns the retained records, oldest first.
func (a *Aggregator) Recent() []domain.ErrorRecord {
	a.mu.Lock()
	defer a.mu.Unlock()

	out := make([]domain.ErrorRecord, 0, len(a.recent))
	if len(a.recent) < a.opts.RecentSize {
		return append(out, a.recent...)
	}
	out = append(out, a.recent[a.next:]...)
	return append(out, a.recent[:a.next]...)
}

// Forwarded returns how many records this session has forwarded.
func (a *Aggregator) Forwarded() int {
	return a.session.Forwarded()
}
