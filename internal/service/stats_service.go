package service

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"

	"github.com/Tool-Gate/Toolgate/internal/domain/ratelimit"
	"github.com/Tool-Gate/Toolgate/internal/domain/sandbox"
)

// RateSnapshot is the current request-rate reading.
type RateSnapshot struct {
	// Current is the number of requests in the last second.
	Current int `json:"current"`
	// Budget is the configured per-second budget.
	Budget int `json:"budget"`
	// Remaining is the headroom left in the window.
	Remaining int `json:"remaining"`
}

// StatsSnapshot is one point-in-time view of the gateway, assembled for the
// stats command and operator queries.
type StatsSnapshot struct {
	// RequestsByProtocol counts processed requests per protocol, all
	// statuses combined.
	RequestsByProtocol map[string]int64 `json:"requests_by_protocol"`
	// RoutingOutcomes counts routing decisions per outcome.
	RoutingOutcomes map[string]int64 `json:"routing_outcomes"`
	// Pool is the sandbox pool counter snapshot.
	Pool sandbox.Stats `json:"pool"`
	// EmbeddingCacheEntries is the live embedding cache size.
	EmbeddingCacheEntries int `json:"embedding_cache_entries"`
	// EmbeddingCacheHitRate is hits / (hits+misses) from the counters,
	// 0 when nothing was looked up yet.
	EmbeddingCacheHitRate float64 `json:"embedding_cache_hit_rate"`
	// AuditBufferDepth is the live audit buffer size.
	AuditBufferDepth int `json:"audit_buffer_depth"`
	// AuditHandlerErrors counts contained subscriber failures.
	AuditHandlerErrors int64 `json:"audit_handler_errors"`
	// PendingApprovals is the number of parked requests.
	PendingApprovals int `json:"pending_approvals"`
	// Rate is the request-rate reading.
	Rate RateSnapshot `json:"rate"`
}

// StatsService assembles snapshots from the Prometheus registry and the
// component counters the registry cannot see (live cache and buffer sizes).
type StatsService struct {
	gatherer   prometheus.Gatherer
	runtime    *RuntimeService
	embeddings *EmbeddingService
	stream     *AuditService
	gateway    *GatewayService
	rate       *ratelimit.Counter
}

// NewStatsService builds the service. Any component may be nil; its section
// is then zero-valued.
func NewStatsService(gatherer prometheus.Gatherer, runtime *RuntimeService, embeddings *EmbeddingService, stream *AuditService, gateway *GatewayService, rate *ratelimit.Counter) *StatsService {
	return &StatsService{
		gatherer:   gatherer,
		runtime:    runtime,
		embeddings: embeddings,
		stream:     stream,
		gateway:    gateway,
		rate:       rate,
	}
}

// Snapshot assembles the current view.
func (s *StatsService) Snapshot() (*StatsSnapshot, error) {
	snap := &StatsSnapshot{
		RequestsByProtocol: make(map[string]int64),
		RoutingOutcomes:    make(map[string]int64),
	}

	if s.gatherer != nil {
		families, err := s.gatherer.Gather()
		if err != nil {
			return nil, fmt.Errorf("gather metrics: %w", err)
		}
		var cacheHits, cacheMisses float64
		for _, mf := range families {
			switch mf.GetName() {
			case "toolgate_requests_total":
				sumByLabel(mf, "protocol", snap.RequestsByProtocol)
			case "toolgate_routing_decisions_total":
				sumByLabel(mf, "outcome", snap.RoutingOutcomes)
			case "toolgate_cache_hits_total":
				cacheHits += counterForLabel(mf, "cache", "embedding")
			case "toolgate_cache_misses_total":
				cacheMisses += counterForLabel(mf, "cache", "embedding")
			}
		}
		if total := cacheHits + cacheMisses; total > 0 {
			snap.EmbeddingCacheHitRate = cacheHits / total
		}
	}

	if s.runtime != nil {
		snap.Pool = s.runtime.Stats()
	}
	if s.embeddings != nil {
		snap.EmbeddingCacheEntries = s.embeddings.CacheLen()
	}
	if s.stream != nil {
		snap.AuditBufferDepth = s.stream.Len()
		snap.AuditHandlerErrors = s.stream.HandlerErrors()
	}
	if s.gateway != nil {
		snap.PendingApprovals = len(s.gateway.Pending())
	}
	if s.rate != nil {
		snap.Rate = RateSnapshot{
			Current:   s.rate.Rate(),
			Budget:    s.rate.Budget(),
			Remaining: s.rate.Remaining(),
		}
	}
	return snap, nil
}

// sumByLabel folds counter values into out keyed by one label, summing
// across the remaining labels.
func sumByLabel(mf *dto.MetricFamily, label string, out map[string]int64) {
	for _, m := range mf.GetMetric() {
		for _, lp := range m.GetLabel() {
			if lp.GetName() == label {
				out[lp.GetValue()] += int64(m.GetCounter().GetValue())
			}
		}
	}
}

// counterForLabel returns the summed counter value of series whose label
// matches the given value.
func counterForLabel(mf *dto.MetricFamily, label, value string) float64 {
	var total float64
	for _, m := range mf.GetMetric() {
		for _, lp := range m.GetLabel() {
			if lp.GetName() == label && lp.GetValue() == value {
				total += m.GetCounter().GetValue()
			}
		}
	}
	return total
}
