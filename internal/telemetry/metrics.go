// Package telemetry holds the Prometheus metric set and the OpenTelemetry
// bootstrap shared by the gateway components.
package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for Toolgate.
// Pass to components that need to record metrics.
type Metrics struct {
	RequestsTotal         *prometheus.CounterVec
	RequestDuration       *prometheus.HistogramVec
	AdapterBudgetOverruns prometheus.Counter
	RoutingDecisions      *prometheus.CounterVec
	RoutingConfidence     prometheus.Histogram
	PoolHits              prometheus.Counter
	PoolMisses            prometheus.Counter
	ColdStartDuration     prometheus.Histogram
	SandboxesActive       prometheus.Gauge
	SandboxesReady        prometheus.Gauge
	ExecutionsTotal       *prometheus.CounterVec
	AuditWritesTotal      prometheus.Counter
	AuditFlushesTotal     *prometheus.CounterVec
	AuditDropsTotal       prometheus.Counter
	ApprovalsPending      prometheus.Gauge
	CacheHitsTotal        *prometheus.CounterVec
	CacheMissesTotal      *prometheus.CounterVec
	RateLimitedTotal      prometheus.Counter
}

// NewMetrics creates and registers all metrics with the given registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	return &Metrics{
		RequestsTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "toolgate",
				Name:      "requests_total",
				Help:      "Total number of requests processed",
			},
			[]string{"protocol", "status"}, // status=ok/error/pending_approval
		),
		RequestDuration: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "toolgate",
				Name:      "request_duration_seconds",
				Help:      "End-to-end request duration in seconds",
				Buckets:   prometheus.DefBuckets, // 5ms to 10s
			},
			[]string{"protocol"},
		),
		AdapterBudgetOverruns: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Namespace: "toolgate",
				Name:      "adapter_budget_overruns_total",
				Help:      "Parse+normalize cycles that exceeded the latency budget",
			},
		),
		RoutingDecisions: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "toolgate",
				Name:      "routing_decisions_total",
				Help:      "Total routing decisions",
			},
			[]string{"outcome"}, // outcome=matched/no_match/timeout/error
		),
		RoutingConfidence: promauto.With(reg).NewHistogram(
			prometheus.HistogramOpts{
				Namespace: "toolgate",
				Name:      "routing_confidence",
				Help:      "Adjusted confidence of selected tools",
				Buckets:   prometheus.LinearBuckets(0.5, 0.05, 11),
			},
		),
		PoolHits: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Namespace: "toolgate",
				Name:      "sandbox_pool_hits_total",
				Help:      "Acquisitions served by a warm sandbox",
			},
		),
		PoolMisses: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Namespace: "toolgate",
				Name:      "sandbox_pool_misses_total",
				Help:      "Acquisitions that required a cold start",
			},
		),
		ColdStartDuration: promauto.With(reg).NewHistogram(
			prometheus.HistogramOpts{
				Namespace: "toolgate",
				Name:      "sandbox_cold_start_seconds",
				Help:      "Sandbox creation time in seconds",
				Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
			},
		),
		SandboxesActive: promauto.With(reg).NewGauge(
			prometheus.GaugeOpts{
				Namespace: "toolgate",
				Name:      "sandboxes_active",
				Help:      "Sandboxes currently executing",
			},
		),
		SandboxesReady: promauto.With(reg).NewGauge(
			prometheus.GaugeOpts{
				Namespace: "toolgate",
				Name:      "sandboxes_ready",
				Help:      "Warm sandboxes waiting in the pool",
			},
		),
		ExecutionsTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "toolgate",
				Name:      "executions_total",
				Help:      "Total sandbox executions",
			},
			[]string{"status"}, // status=ok/error/timeout
		),
		AuditWritesTotal: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Namespace: "toolgate",
				Name:      "audit_writes_total",
				Help:      "Audit entries accepted into the stream buffer",
			},
		),
		AuditFlushesTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "toolgate",
				Name:      "audit_flushes_total",
				Help:      "Audit buffer flushes",
			},
			[]string{"trigger"}, // trigger=interval/capacity/manual/shutdown
		),
		AuditDropsTotal: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Namespace: "toolgate",
				Name:      "audit_drops_total",
				Help:      "Audit records dropped due to backpressure",
			},
		),
		ApprovalsPending: promauto.With(reg).NewGauge(
			prometheus.GaugeOpts{
				Namespace: "toolgate",
				Name:      "approvals_pending",
				Help:      "Requests parked at the human approval gate",
			},
		),
		CacheHitsTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "toolgate",
				Name:      "cache_hits_total",
				Help:      "Cache hits",
			},
			[]string{"cache"}, // cache=embedding/constraint
		),
		CacheMissesTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "toolgate",
				Name:      "cache_misses_total",
				Help:      "Cache misses",
			},
			[]string{"cache"},
		),
		RateLimitedTotal: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Namespace: "toolgate",
				Name:      "rate_limited_total",
				Help:      "Requests rejected by the ingress rate counter",
			},
		),
	}
}
