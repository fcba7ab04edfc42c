package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RequestsTotal tracks Execute calls by final outcome (success or error kind)
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "resilio_requests_total",
			Help: "Total number of executed requests by outcome",
		},
		[]string{"method", "outcome"},
	)

	// AttemptsTotal tracks individual attempts including retries
	AttemptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "resilio_attempts_total",
			Help: "Total number of request attempts",
		},
		[]string{"method", "outcome"},
	)

	// RetriesTotal tracks scheduled retries by error kind
	RetriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "resilio_retries_total",
			Help: "Total number of scheduled retries",
		},
		[]string{"kind"},
	)

	// RequestLatency tracks end-to-end Execute latency including backoff
	RequestLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "resilio_request_latency_seconds",
			Help:    "Execute latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method"},
	)

	// ErrorsRecordedTotal tracks records seen by the aggregator
	ErrorsRecordedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "resilio_errors_recorded_total",
			Help: "Total number of error records aggregated",
		},
		[]string{"kind", "severity", "source"},
	)

	// ReportsTotal tracks reporter outcomes (sent, failed, dropped reasons)
	ReportsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "resilio_reports_total",
			Help: "Total number of error reports by outcome",
		},
		[]string{"outcome"},
	)

	// PropagationMessagesTotal tracks bus traffic
	PropagationMessagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "resilio_propagation_messages_total",
			Help: "Total number of propagation messages by direction and outcome",
		},
		[]string{"direction", "outcome"},
	)

	// EndpointUp is 1 when the last probe of an endpoint was healthy
	EndpointUp = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "resilio_health_endpoint_up",
			Help: "Whether the dependency endpoint was healthy at the last probe",
		},
		[]string{"endpoint"},
	)

	// ProbeLatency tracks health probe latency
	ProbeLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "resilio_health_probe_latency_seconds",
			Help:    "Health probe latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"endpoint"},
	)

	// OverallHealth is 2 healthy, 1 degraded, 0 unhealthy
	OverallHealth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "resilio_health_overall",
			Help: "Overall dependency health (2 healthy, 1 degraded, 0 unhealthy)",
		},
	)

	// ReportQueueDepth is the number of records waiting for the reporter worker
	ReportQueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "resilio_report_queue_depth",
			Help: "Records queued for delivery to the reporting sink",
		},
	)

	// DBConnectionPoolUsage tracks DB connection pool usage percentage
	DBConnectionPoolUsage = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "resilio_db_connection_pool_usage_percent",
			Help: "Database connection pool usage percentage",
		},
	)
)
