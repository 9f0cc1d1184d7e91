// Package service contains the application services wiring the domain to
// the outbound adapters: embedding, routing, runtime, audit stream,
// catalog, credentials, gateway, and stats.
package service

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/Tool-Gate/Toolgate/internal/clock"
	"github.com/Tool-Gate/Toolgate/internal/domain/embedding"
	"github.com/Tool-Gate/Toolgate/internal/domain/intent"
	"github.com/Tool-Gate/Toolgate/internal/port/outbound"
	"github.com/Tool-Gate/Toolgate/internal/telemetry"
)

// DefaultCacheTTL is how long a cached embedding stays valid.
const DefaultCacheTTL = 5 * time.Minute

// embeddingCacheName labels this cache in the hit/miss metrics.
const embeddingCacheName = "embedding"

type cachedVector struct {
	vector     []float64
	insertedAt time.Time
}

// EmbeddingService computes and caches embeddings for intents and tool
// descriptions. Provider vectors are L2-normalized before caching, so every
// embedding leaving the service has unit length. Cache entries expire after
// a TTL; reads of stale entries evict and report a miss. Safe for concurrent
// use; racing regeneration of the same key is acceptable.
type EmbeddingService struct {
	provider outbound.EmbeddingProvider
	logger   *slog.Logger
	clk      clock.Clock
	metrics  *telemetry.Metrics

	ttl        time.Duration
	maxEntries int

	mu    sync.RWMutex
	cache map[string]cachedVector
}

// EmbeddingOption configures the EmbeddingService.
type EmbeddingOption func(*EmbeddingService)

// WithTTL sets the cache entry lifetime.
func WithTTL(ttl time.Duration) EmbeddingOption {
	return func(s *EmbeddingService) { s.ttl = ttl }
}

// WithMaxEntries bounds the cache; 0 means unbounded. When the bound is
// hit, the least-recently-inserted entry is evicted.
func WithMaxEntries(n int) EmbeddingOption {
	return func(s *EmbeddingService) { s.maxEntries = n }
}

// WithClock substitutes the time source. Tests use a Manual clock to drive
// TTL expiry deterministically.
func WithClock(clk clock.Clock) EmbeddingOption {
	return func(s *EmbeddingService) { s.clk = clk }
}

// WithEmbeddingMetrics wires the cache hit/miss counters.
func WithEmbeddingMetrics(m *telemetry.Metrics) EmbeddingOption {
	return func(s *EmbeddingService) { s.metrics = m }
}

// NewEmbeddingService creates the service over the given provider.
func NewEmbeddingService(provider outbound.EmbeddingProvider, logger *slog.Logger, opts ...EmbeddingOption) *EmbeddingService {
	if logger == nil {
		logger = slog.Default()
	}
	s := &EmbeddingService{
		provider: provider,
		logger:   logger,
		clk:      clock.System(),
		ttl:      DefaultCacheTTL,
		cache:    make(map[string]cachedVector),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// EmbedIntent returns the embedding for a normalized intent. The cache key
// covers category, action, and the canonical parameter JSON, so the same
// logical intent hits the cache regardless of map iteration order.
func (s *EmbeddingService) EmbedIntent(ctx context.Context, in *intent.NormalizedIntent) (embedding.Embedding, error) {
	key := fmt.Sprintf("intent|%s|%s|%s", in.Category, in.Action, intent.CanonicalJSON(in.Parameters))
	text := fmt.Sprintf("Action: %s\nCategory: %s\nTarget: %s\nParameters: %s",
		in.Action, in.Category, in.Target, intent.CanonicalJSON(in.Parameters))
	return s.embed(ctx, key, text)
}

// EmbedTool returns the embedding for a tool, keyed by name.
func (s *EmbeddingService) EmbedTool(ctx context.Context, name, description string) (embedding.Embedding, error) {
	return s.embed(ctx, "tool|"+name, name+": "+description)
}

// Similarity returns the cosine similarity of two embeddings.
func (s *EmbeddingService) Similarity(a, b embedding.Embedding) (float64, error) {
	return embedding.Cosine(a.Vector, b.Vector)
}

// CacheLen returns the number of live cache entries. Test helper.
func (s *EmbeddingService) CacheLen() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.cache)
}

func (s *EmbeddingService) embed(ctx context.Context, key, text string) (embedding.Embedding, error) {
	if vec, ok := s.lookup(key); ok {
		s.countHit()
		return embedding.Embedding{Vector: vec, Model: s.provider.Model()}, nil
	}
	s.countMiss()

	vec, err := s.provider.Embed(ctx, text)
	if err != nil {
		return embedding.Embedding{}, fmt.Errorf("embed %q: %w", key, err)
	}
	if len(vec) != s.provider.Dimensions() {
		return embedding.Embedding{}, fmt.Errorf("embed %q: %w", key,
			&embedding.DimensionMismatchError{Want: s.provider.Dimensions(), Got: len(vec)})
	}
	vec = embedding.Normalize(vec)

	s.store(key, vec)
	return embedding.Embedding{Vector: vec, Model: s.provider.Model()}, nil
}

// lookup returns a live cached vector. Stale entries are evicted under the
// write lock and reported as misses.
func (s *EmbeddingService) lookup(key string) ([]float64, bool) {
	s.mu.RLock()
	entry, ok := s.cache[key]
	s.mu.RUnlock()
	if !ok {
		return nil, false
	}
	if s.clk.Since(entry.insertedAt) > s.ttl {
		s.mu.Lock()
		// Re-check: a concurrent store may have refreshed the entry.
		if cur, still := s.cache[key]; still && s.clk.Since(cur.insertedAt) > s.ttl {
			delete(s.cache, key)
		}
		s.mu.Unlock()
		return nil, false
	}
	return entry.vector, true
}

// store upserts the key and refreshes its timestamp, evicting the
// least-recently-inserted entry when the bound is exceeded.
func (s *EmbeddingService) store(key string, vec []float64) {
	now := s.clk.Now()
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.cache[key]; !exists && s.maxEntries > 0 && len(s.cache) >= s.maxEntries {
		var oldestKey string
		var oldestAt time.Time
		for k, e := range s.cache {
			if oldestKey == "" || e.insertedAt.Before(oldestAt) {
				oldestKey, oldestAt = k, e.insertedAt
			}
		}
		delete(s.cache, oldestKey)
	}
	s.cache[key] = cachedVector{vector: vec, insertedAt: now}
}

func (s *EmbeddingService) countHit() {
	if s.metrics != nil {
		s.metrics.CacheHitsTotal.WithLabelValues(embeddingCacheName).Inc()
	}
}

func (s *EmbeddingService) countMiss() {
	if s.metrics != nil {
		s.metrics.CacheMissesTotal.WithLabelValues(embeddingCacheName).Inc()
	}
}
