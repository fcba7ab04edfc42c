// Package propagation broadcasts locally observed errors to other running instances
// of the same application and feeds their errors into the local aggregator.
//
// Feedback loops are prevented twice: an instance ignores messages whose origin is
// itself, and records received from peers are marked propagated and never re-sent.
package propagation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/vietddude/resilio/internal/core/domain"
	"github.com/vietddude/resilio/internal/infra/channel"
	"github.com/vietddude/resilio/internal/telemetry/metrics"
)

// DefaultPrefix is the key prefix messages are published under.
const DefaultPrefix = "resilio:errors"

// Ingester accepts peer records. The aggregator implements it.
type Ingester interface {
	Ingest(rec domain.ErrorRecord)
}

// Options configures a Bus.
type Options struct {
	Enabled    bool
	InstanceID string
	Prefix     string
	Channel    channel.Channel
	Ingester   Ingester
	Registry   *Registry
	Logger     *slog.Logger
}

// PropagateOption adjusts a single Propagate call.
type PropagateOption func(*propagateOptions)

type propagateOptions struct {
	severity *domain.Severity
}

// WithSeverity overrides the severity peers will see.
func WithSeverity(s domain.Severity) PropagateOption {
	return func(o *propagateOptions) { o.severity = &s }
}

// Bus is the propagation endpoint of one instance.
type Bus struct {
	enabled    bool
	instanceID string
	prefix     string
	ch         channel.Channel
	ingester   Ingester
	registry   *Registry
	log        *slog.Logger

	mu          sync.Mutex
	started     bool
	unsubscribe func() error
}

// New creates a bus. A bus without a channel is always disabled.
func New(opts Options) *Bus {
	prefix := opts.Prefix
	if prefix == "" {
		prefix = DefaultPrefix
	}
	registry := opts.Registry
	if registry == nil {
		registry = NewRegistry()
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Bus{
		enabled:    opts.Enabled && opts.Channel != nil,
		instanceID: opts.InstanceID,
		prefix:     prefix,
		ch:         opts.Channel,
		ingester:   opts.Ingester,
		registry:   registry,
		log:        logger.With("component", "propagation"),
	}
}

// Start registers this instance and subscribes to the prefix. It is a no-op when the
// bus is disabled.
func (b *Bus) Start(ctx context.Context) error {
	if !b.enabled {
		b.log.Debug("Propagation disabled")
		return nil
	}
	if b.instanceID == "" {
		return errors.New("propagation requires an instance id")
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.started {
		return nil
	}

	b.registry.Register(b.instanceID)

	unsubscribe, err := b.ch.Subscribe(ctx, b.prefix, b.receive)
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", b.prefix, err)
	}
	b.unsubscribe = unsubscribe
	b.started = true

	b.log.Info("Propagation started", "instance", b.instanceID, "prefix", b.prefix)
	return nil
}

// Stop unsubscribes. It is safe to call more than once.
func (b *Bus) Stop() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.started {
		return nil
	}
	b.started = false
	b.registry.Unregister(b.instanceID)

	if b.unsubscribe != nil {
		err := b.unsubscribe()
		b.unsubscribe = nil
		return err
	}
	return nil
}

// Running reports whether the bus is started.
func (b *Bus) Running() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.started
}

// Propagate publishes rec to peers. It returns false without writing when the bus is
// disabled or stopped, or when rec itself came from a peer. It never panics.
func (b *Bus) Propagate(ctx context.Context, rec domain.ErrorRecord, opts ...PropagateOption) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			b.log.Error("Propagate panicked", "panic", r)
			metrics.PropagationMessagesTotal.WithLabelValues("out", "panic").Inc()
			ok = false
		}
	}()

	if !b.enabled || rec.Propagated || !b.Running() {
		metrics.PropagationMessagesTotal.WithLabelValues("out", "skipped").Inc()
		return false
	}

	var o propagateOptions
	for _, opt := range opts {
		opt(&o)
	}
	severity := rec.Severity
	if o.severity != nil {
		severity = *o.severity
	}

	msg := domain.NewBroadcastMessage(rec, b.instanceID, severity)
	payload, err := json.Marshal(msg)
	if err != nil {
		b.log.Warn("Failed to encode broadcast", "id", rec.ID, "error", err)
		metrics.PropagationMessagesTotal.WithLabelValues("out", "encode_error").Inc()
		return false
	}

	if err := b.ch.Publish(ctx, channel.Key(b.prefix, msg.ID), payload); err != nil {
		b.log.Warn("Failed to publish broadcast", "id", rec.ID, "error", err)
		metrics.PropagationMessagesTotal.WithLabelValues("out", "publish_error").Inc()
		return false
	}

	metrics.PropagationMessagesTotal.WithLabelValues("out", "sent").Inc()
	return true
}

func (b *Bus) receive(key string, payload []byte) {
	defer func() {
		if r := recover(); r != nil {
			b.log.Error("Broadcast handler panicked", "key", key, "panic", r)
			metrics.PropagationMessagesTotal.WithLabelValues("in", "panic").Inc()
		}
	}()

	var msg domain.BroadcastMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		b.log.Debug("Ignoring undecodable broadcast", "key", key, "error", err)
		metrics.PropagationMessagesTotal.WithLabelValues("in", "decode_error").Inc()
		return
	}
	if msg.OriginInstanceID == b.instanceID {
		metrics.PropagationMessagesTotal.WithLabelValues("in", "self").Inc()
		return
	}

	b.registry.Seen(msg.OriginInstanceID, msg.Timestamp)

	rec := msg.Record.AsPeer()
	rec.Severity = msg.Severity
	if rec.OriginInstanceID == "" {
		rec.OriginInstanceID = msg.OriginInstanceID
	}

	if b.ingester != nil {
		b.ingester.Ingest(rec)
	}
	metrics.PropagationMessagesTotal.WithLabelValues("in", "ingested").Inc()
}

// Peers returns the instances this bus knows about.
func (b *Bus) Peers() []Peer {
	return b.registry.Peers()
}
