package service

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Tool-Gate/Toolgate/internal/clock"
	"github.com/Tool-Gate/Toolgate/internal/domain/audit"
	"github.com/Tool-Gate/Toolgate/internal/ident"
	"github.com/Tool-Gate/Toolgate/internal/port/outbound"
	"github.com/Tool-Gate/Toolgate/internal/telemetry"
)

// Audit stream defaults; overridable through options.
const (
	DefaultAuditBufferSize    = 100
	DefaultAuditFlushInterval = 5 * time.Second

	// flushTimeout bounds sink writes during capacity and shutdown flushes.
	flushTimeout = 5 * time.Second
)

// Subscriber receives every flushed batch. Handlers run synchronously during
// the flush; a panicking or erroring handler is contained and never blocks
// the stream.
type Subscriber func(entries []*audit.Entry) error

// AuditService is the append-only audit stream: writes land in a bounded
// in-memory buffer, a background worker flushes on an interval, and a full
// buffer flushes synchronously. Flushed batches fan out to subscribers
// before they reach the sink.
type AuditService struct {
	sink    outbound.AuditSink
	logger  *slog.Logger
	clk     clock.Clock
	metrics *telemetry.Metrics

	bufferSize    int
	flushInterval time.Duration

	mu      sync.Mutex
	buffer  []*audit.Entry
	nextSub int
	subs    map[int]Subscriber

	handlerErrs atomic.Int64

	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
}

// AuditOption configures the AuditService.
type AuditOption func(*AuditService)

// WithBufferSize sets the buffer capacity that triggers a synchronous flush.
func WithBufferSize(n int) AuditOption {
	return func(s *AuditService) { s.bufferSize = n }
}

// WithFlushInterval sets the periodic flush interval.
func WithFlushInterval(d time.Duration) AuditOption {
	return func(s *AuditService) { s.flushInterval = d }
}

// WithAuditClock substitutes the time source.
func WithAuditClock(clk clock.Clock) AuditOption {
	return func(s *AuditService) { s.clk = clk }
}

// WithAuditMetrics wires the stream counters.
func WithAuditMetrics(m *telemetry.Metrics) AuditOption {
	return func(s *AuditService) { s.metrics = m }
}

// NewAuditService creates the stream over the given sink and starts its
// flush worker. Call Stop to drain and shut down.
func NewAuditService(sink outbound.AuditSink, logger *slog.Logger, opts ...AuditOption) *AuditService {
	if logger == nil {
		logger = slog.Default()
	}
	s := &AuditService{
		sink:          sink,
		logger:        logger,
		clk:           clock.System(),
		bufferSize:    DefaultAuditBufferSize,
		flushInterval: DefaultAuditFlushInterval,
		subs:          make(map[int]Subscriber),
		stop:          make(chan struct{}),
		done:          make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.buffer = make([]*audit.Entry, 0, s.bufferSize)
	go s.worker()
	return s
}

// Write appends one entry to the stream. Missing id and timestamp are
// filled in; sensitive detail values are redacted before buffering. When
// the buffer reaches capacity the batch is flushed synchronously.
func (s *AuditService) Write(entry *audit.Entry) {
	if entry.ID == "" {
		entry.ID = ident.AuditID()
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = s.clk.Now()
	}
	entry.Details = audit.RedactSensitiveDetails(entry.Details)

	s.mu.Lock()
	s.buffer = append(s.buffer, entry)
	full := len(s.buffer) >= s.bufferSize
	s.mu.Unlock()

	if s.metrics != nil {
		s.metrics.AuditWritesTotal.Inc()
	}
	if full {
		s.flush("capacity")
	}
}

// Subscribe registers a handler for every flushed batch and returns its
// unsubscribe func.
func (s *AuditService) Subscribe(handler Subscriber) (unsubscribe func()) {
	s.mu.Lock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = handler
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		delete(s.subs, id)
		s.mu.Unlock()
	}
}

// Flush forces a flush of the live buffer.
func (s *AuditService) Flush() {
	s.flush("manual")
}

// Query returns entries matching the filter, oldest first: persisted
// entries when the sink answers queries, then the live buffer.
func (s *AuditService) Query(ctx context.Context, filter audit.Filter) ([]*audit.Entry, error) {
	var out []*audit.Entry
	if q, ok := s.sink.(outbound.QueryableSink); ok {
		persisted, err := q.Query(ctx, filter)
		if err != nil {
			return nil, err
		}
		out = persisted
	}

	s.mu.Lock()
	live := make([]*audit.Entry, len(s.buffer))
	copy(live, s.buffer)
	s.mu.Unlock()

	for _, e := range live {
		if filter.Limit > 0 && len(out) >= filter.Limit {
			break
		}
		if filter.Matches(e) {
			out = append(out, e)
		}
	}
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

// HandlerErrors returns the lifetime count of contained subscriber
// failures.
func (s *AuditService) HandlerErrors() int64 {
	return s.handlerErrs.Load()
}

// Len returns the live buffer depth.
func (s *AuditService) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.buffer)
}

// Stop drains the buffer and shuts the flush worker down. Idempotent.
func (s *AuditService) Stop() {
	s.stopOnce.Do(func() {
		close(s.stop)
		<-s.done
		s.flush("shutdown")
	})
}

func (s *AuditService) worker() {
	defer close(s.done)
	ticker := time.NewTicker(s.flushInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.flush("interval")
		case <-s.stop:
			return
		}
	}
}

// flush swaps the buffer under the lock, then fans the batch out to
// subscribers and hands it to the sink outside it. Sink failures are logged
// and counted as drops, never propagated.
func (s *AuditService) flush(trigger string) {
	s.mu.Lock()
	if len(s.buffer) == 0 {
		s.mu.Unlock()
		return
	}
	batch := s.buffer
	s.buffer = make([]*audit.Entry, 0, s.bufferSize)
	subs := make([]Subscriber, 0, len(s.subs))
	for _, h := range s.subs {
		subs = append(subs, h)
	}
	s.mu.Unlock()

	if s.metrics != nil {
		s.metrics.AuditFlushesTotal.WithLabelValues(trigger).Inc()
	}

	for _, h := range subs {
		s.notify(h, batch)
	}

	ctx, cancel := context.WithTimeout(context.Background(), flushTimeout)
	defer cancel()
	if err := s.sink.Persist(ctx, batch); err != nil {
		s.logger.Error("audit batch persist failed",
			"error", err, "count", len(batch), "trigger", trigger)
		if s.metrics != nil {
			s.metrics.AuditDropsTotal.Add(float64(len(batch)))
		}
	}
}

// notify runs one subscriber over the batch, containing panics and errors.
func (s *AuditService) notify(h Subscriber, batch []*audit.Entry) {
	defer func() {
		if r := recover(); r != nil {
			s.handlerErrs.Add(1)
			s.logger.Error("audit subscriber panicked", "panic", r)
		}
	}()
	if err := h(batch); err != nil {
		s.handlerErrs.Add(1)
		s.logger.Warn("audit subscriber failed", "error", err)
	}
}
