package control

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/vietddude/resilio/internal/core/config"
	"github.com/vietddude/resilio/internal/core/domain"
	"github.com/vietddude/resilio/internal/core/session"
	"github.com/vietddude/resilio/internal/core/worker"
	"github.com/vietddude/resilio/internal/health"
	"github.com/vietddude/resilio/internal/infra/channel"
	redisclient "github.com/vietddude/resilio/internal/infra/redis"
	"github.com/vietddude/resilio/internal/infra/rpc"
	"github.com/vietddude/resilio/internal/infra/rpc/retry"
	"github.com/vietddude/resilio/internal/infra/rpc/transport"
	"github.com/vietddude/resilio/internal/infra/storage"
	"github.com/vietddude/resilio/internal/infra/storage/memory"
	"github.com/vietddude/resilio/internal/infra/storage/postgres"
	"github.com/vietddude/resilio/internal/propagation"
	"github.com/vietddude/resilio/internal/telemetry/aggregator"
	"github.com/vietddude/resilio/internal/telemetry/reporter"
	"github.com/vietddude/resilio/internal/telemetry/sink"
	"github.com/vietddude/resilio/internal/telemetry/tracing"
)

// Runtime owns every component of one running instance and their teardown.
type Runtime struct {
	cfg     *config.AppConfig
	session *session.Session
	log     *slog.Logger

	transport    *transport.HTTPTransport
	connectivity transport.Connectivity
	dialChecker  *transport.DialChecker
	executor     *rpc.Executor

	aggregator *aggregator.Aggregator
	reporter   *reporter.Reporter
	bus        *propagation.Bus
	channel    channel.Channel
	ownChannel bool

	monitor      *health.Monitor
	healthServer *health.Server
	serveHealth  bool

	reports     storage.ReportRepository
	db          *postgres.DB
	redisClient *redisclient.Client

	tracingShutdown tracing.Shutdown
	cancel          context.CancelFunc
}

// Option customises a Runtime.
type Option func(*runtimeOptions)

type runtimeOptions struct {
	channel     channel.Channel
	logger      *slog.Logger
	serveHealth bool
}

// WithChannel injects the propagation channel instead of building one from config.
// Instances sharing one channel.Memory see each other's errors. The caller closes it.
func WithChannel(ch channel.Channel) Option {
	return func(o *runtimeOptions) { o.channel = ch }
}

// WithLogger sets the base logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *runtimeOptions) { o.logger = l }
}

// WithoutHealthServer skips the HTTP health server.
func WithoutHealthServer() Option {
	return func(o *runtimeOptions) { o.serveHealth = false }
}

// New builds all components from cfg. Nothing runs until Start.
func New(cfg *config.AppConfig, opts ...Option) (*Runtime, error) {
	o := runtimeOptions{serveHealth: true}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}

	sess := session.New(session.Options{
		InstanceID:   cfg.Propagation.InstanceID,
		MaxForwarded: cfg.Reporting.MaxErrorsPerSession,
		Logger:       o.logger,
	})
	r := &Runtime{
		cfg:         cfg,
		session:     sess,
		log:         sess.Logger(),
		serveHealth: o.serveHealth,
	}

	// 1. Tracing
	if cfg.Tracing.Enabled {
		shutdown, err := tracing.Init(cfg.Tracing.ServiceName, sess.InstanceID, nil, r.log)
		if err != nil {
			return nil, fmt.Errorf("failed to init tracing: %w", err)
		}
		r.tracingShutdown = shutdown
	}

	minSeverity, err := domain.ParseSeverity(cfg.Reporting.MinSeverity)
	if err != nil {
		return nil, fmt.Errorf("invalid min severity: %w", err)
	}

	// 2. Reporting sink
	s, err := r.buildSink()
	if err != nil {
		r.closeInfra()
		return nil, err
	}
	r.reporter = reporter.New(s, reporter.Options{
		RatePerSecond: cfg.Reporting.RatePerSecond,
		Burst:         cfg.Reporting.Burst,
		QueueSize:     cfg.Reporting.QueueSize,
		Logger:        r.log,
	})

	// 3. Aggregator
	r.aggregator = aggregator.New(aggregator.Options{
		MinSeverity:  minSeverity,
		GroupSimilar: cfg.Reporting.GroupSimilar(),
		SampleEvery:  cfg.Reporting.SampleEvery,
		Session:      sess,
		Reporter:     r.reporter,
		Logger:       r.log,
	})

	// 4. Propagation
	r.channel = o.channel
	if r.channel == nil && cfg.Propagation.Enabled {
		ch, err := r.buildChannel()
		if err != nil {
			r.reporter.Close(context.Background())
			r.closeInfra()
			return nil, err
		}
		r.channel = ch
		r.ownChannel = true
	}
	r.bus = propagation.New(propagation.Options{
		Enabled:    cfg.Propagation.Enabled,
		InstanceID: sess.InstanceID,
		Prefix:     cfg.Propagation.Prefix,
		Channel:    r.channel,
		Ingester:   r.aggregator,
		Logger:     r.log,
	})
	r.aggregator.SetPropagator(aggregator.PropagatorFunc(func(ctx context.Context, rec domain.ErrorRecord) bool {
		return r.bus.Propagate(ctx, rec)
	}))

	// 5. Connectivity and executor
	r.connectivity = transport.AlwaysOnline
	if cfg.Connectivity.ProbeAddr != "" {
		r.dialChecker = transport.NewDialChecker(cfg.Connectivity.ProbeAddr,
			cfg.Connectivity.Interval, cfg.Connectivity.Timeout)
		r.connectivity = r.dialChecker
	}

	r.transport = transport.NewHTTPTransport(transport.HTTPOptions{Traced: cfg.Tracing.Enabled})
	r.executor = rpc.NewExecutor(r.transport, policyFromConfig(cfg.Retry),
		rpc.WithConnectivity(r.connectivity),
		rpc.WithRecorder(r.aggregator),
		rpc.WithInstanceID(sess.InstanceID),
		rpc.WithTimeouts(rpc.Timeouts{
			Default:  cfg.Timeout.Default,
			Upload:   cfg.Timeout.Upload,
			Download: cfg.Timeout.Download,
		}),
		rpc.WithLogger(r.log),
	)

	// 6. Health
	r.monitor = health.NewMonitor(cfg.HealthCheck.Endpoints, health.Options{
		Interval:     cfg.HealthCheck.Interval,
		Timeout:      cfg.HealthCheck.Timeout,
		HTTP:         health.NewHTTPProber(&http.Client{Transport: http.DefaultTransport}),
		Connectivity: r.connectivity,
		Logger:       r.log,
	})
	r.healthServer = health.NewServer(r.monitor, cfg.Server.Port, health.ServerOptions{
		Errors:    r.aggregator,
		Peers:     func() any { return r.bus.Peers() },
		Transport: func() any { return r.transport.Stats() },
		Traced:    cfg.Tracing.Enabled,
	})

	// Panics in session goroutines end up as critical records.
	sess.Hooks.Register(func(err error, next func(error)) {
		r.aggregator.Record(domain.NewErrorRecord(domain.KindUnknown, domain.SeverityCritical,
			err.Error(), sess.InstanceID, 0, map[string]string{"source": "panic"}))
		next(err)
	})

	return r, nil
}

func policyFromConfig(c config.RetryConfig) retry.Policy {
	statuses := c.RetryableStatuses
	if len(statuses) == 0 {
		statuses = retry.DefaultRetryableStatuses
	}
	return retry.Policy{
		MaxRetries:        c.MaxRetries,
		InitialDelay:      c.InitialDelay,
		MaxDelay:          c.MaxDelay,
		BackoffFactor:     c.BackoffFactor,
		Jitter:            c.Jitter,
		RetryableStatuses: retry.StatusSet(statuses, c.Containerized),
	}
}

func (r *Runtime) buildSink() (sink.Sink, error) {
	cfg := r.cfg
	switch cfg.Reporting.Sink {
	case "http":
		r.log.Info("Reporting errors over HTTP", "endpoint", cfg.Reporting.Endpoint)
		return sink.NewHTTPSink(cfg.Reporting.Endpoint, sink.HTTPSinkOptions{Traced: cfg.Tracing.Enabled}), nil

	case "postgres":
		ctx := context.Background()
		db, err := postgres.NewDB(ctx, cfg.Database)
		if err != nil {
			return nil, fmt.Errorf("failed to init db: %w", err)
		}
		r.db = db
		if err := db.Migrate(ctx); err != nil {
			return nil, err
		}
		r.log.Info("Reporting errors to PostgreSQL")
		r.reports = postgres.NewReportRepo(db)
		return sink.NewStoreSink("postgres", r.reports), nil

	case "memory":
		r.reports = memory.NewReportStore()
		return sink.NewStoreSink("memory", r.reports), nil

	default:
		return sink.NewLogSink(r.log), nil
	}
}

func (r *Runtime) buildChannel() (channel.Channel, error) {
	cfg := r.cfg.Propagation
	switch cfg.Channel {
	case "redis":
		client, err := redisclient.NewClient(r.cfg.Redis)
		if err != nil {
			return nil, fmt.Errorf("failed to connect redis: %w", err)
		}
		r.redisClient = client
		return redisclient.NewChannel(client, cfg.MessageTTL, r.log), nil

	case "dir":
		dir, err := channel.NewDir(cfg.Dir, cfg.MessageTTL, r.log)
		if err != nil {
			return nil, fmt.Errorf("failed to open propagation dir: %w", err)
		}
		return dir, nil

	default:
		r.log.Warn("In-memory propagation channel only reaches instances in this process")
		return channel.NewMemory(), nil
	}
}

// Start starts background components: connectivity checks, propagation, health
// polling and the health server.
func (r *Runtime) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	r.cancel = cancel

	if r.dialChecker != nil {
		r.session.Go("connectivity", func() { r.dialChecker.Start(ctx) })
	}

	if err := r.bus.Start(ctx); err != nil {
		cancel()
		return fmt.Errorf("failed to start propagation: %w", err)
	}

	r.monitor.Start(ctx)

	if r.db != nil {
		r.db.StartMetricsCollector(ctx)
	}

	if r.reports != nil && r.cfg.Reporting.Retention > 0 {
		pruner := worker.NewPruner("reports", r.cfg.Reporting.Retention, r.reports, r.log)
		r.session.Go("report-pruner", func() { pruner.Start(ctx) })
	}
	if dir, ok := r.channel.(*channel.Dir); ok && r.cfg.Propagation.MessageTTL > 0 {
		pruner := worker.NewPruner("propagation-dir", r.cfg.Propagation.MessageTTL,
			worker.TargetFunc(func(_ context.Context, cutoff time.Time) (int, error) {
				return dir.Prune(cutoff), nil
			}), r.log)
		r.session.Go("dir-pruner", func() { pruner.Start(ctx) })
	}

	if r.serveHealth {
		r.session.Go("health-server", func() {
			if err := r.healthServer.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				r.log.Error("Health server failed", "error", err)
			}
		})
	}

	r.log.Info("Runtime started",
		"instance", r.session.InstanceID,
		"propagation", r.cfg.Propagation.Enabled,
		"sink", r.cfg.Reporting.Sink,
		"endpoints", len(r.cfg.HealthCheck.Endpoints),
	)
	return nil
}

// Stop tears everything down in reverse dependency order. Pending reports are
// delivered until ctx expires.
func (r *Runtime) Stop(ctx context.Context) error {
	r.log.Info("Stopping runtime...")

	var errs []error
	if r.serveHealth {
		if err := r.healthServer.Stop(ctx); err != nil {
			errs = append(errs, fmt.Errorf("health server: %w", err))
		}
	}
	if err := r.monitor.Close(); err != nil {
		errs = append(errs, fmt.Errorf("health monitor: %w", err))
	}
	if err := r.bus.Stop(); err != nil {
		errs = append(errs, fmt.Errorf("propagation: %w", err))
	}
	if r.cancel != nil {
		r.cancel()
	}

	// Waits for in-flight propagation and other session goroutines.
	if err := r.session.Close(); err != nil {
		errs = append(errs, err)
	}

	if err := r.reporter.Close(ctx); err != nil {
		errs = append(errs, fmt.Errorf("reporter: %w", err))
	}
	if err := r.transport.Close(); err != nil {
		errs = append(errs, err)
	}
	r.closeInfra()

	if r.tracingShutdown != nil {
		if err := r.tracingShutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("tracing: %w", err))
		}
	}
	return errors.Join(errs...)
}

func (r *Runtime) closeInfra() {
	if r.channel != nil && r.ownChannel {
		if err := r.channel.Close(); err != nil {
			r.log.Warn("Failed to close channel", "error", err)
		}
	}
	if r.redisClient != nil {
		if err := r.redisClient.Close(); err != nil {
			r.log.Warn("Failed to close Redis", "error", err)
		}
		r.redisClient = nil
	}
	if r.db != nil {
		if err := r.db.Close(); err != nil {
			r.log.Warn("Failed to close database", "error", err)
		}
		r.db = nil
	}
}

// Execute runs one request through the executor.
func (r *Runtime) Execute(ctx context.Context, req rpc.Request) (*rpc.Response, error) {
	return r.executor.Execute(ctx, req)
}

func (r *Runtime) Session() *session.Session          { return r.session }
func (r *Runtime) Executor() *rpc.Executor            { return r.executor }
func (r *Runtime) Aggregator() *aggregator.Aggregator { return r.aggregator }
func (r *Runtime) Bus() *propagation.Bus              { return r.bus }
func (r *Runtime) Monitor() *health.Monitor           { return r.monitor }
func (r *Runtime) HealthServer() *health.Server       { return r.healthServer }
func (r *Runtime) Reporter() *reporter.Reporter       { return r.reporter }

// Reports returns the report store backing the sink, or nil for the http and log sinks.
func (r *Runtime) Reports() storage.ReportRepository { return r.reports }
