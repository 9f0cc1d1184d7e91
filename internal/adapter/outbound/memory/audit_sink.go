package memory

import (
	"context"
	"sync"

	"github.com/Tool-Gate/Toolgate/internal/domain/audit"
	"github.com/Tool-Gate/Toolgate/internal/port/outbound"
)

// DefaultAuditCapacity bounds the in-memory audit ring when no explicit
// capacity is given.
const DefaultAuditCapacity = 10000

// AuditSink retains the most recent persisted entries in a bounded ring.
// Oldest entries are dropped once the capacity is reached.
type AuditSink struct {
	mu       sync.RWMutex
	entries  []*audit.Entry
	capacity int
}

// NewAuditSink returns a ring sink with the given capacity; non-positive
// capacities fall back to DefaultAuditCapacity.
func NewAuditSink(capacity int) *AuditSink {
	if capacity <= 0 {
		capacity = DefaultAuditCapacity
	}
	return &AuditSink{capacity: capacity}
}

// Persist implements the sink port.
func (s *AuditSink) Persist(_ context.Context, entries []*audit.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.entries = append(s.entries, entries...)
	if over := len(s.entries) - s.capacity; over > 0 {
		s.entries = append([]*audit.Entry(nil), s.entries[over:]...)
	}
	return nil
}

// Query implements the queryable sink port. Results are oldest first.
func (s *AuditSink) Query(_ context.Context, filter audit.Filter) ([]*audit.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*audit.Entry
	for _, e := range s.entries {
		if !filter.Matches(e) {
			continue
		}
		out = append(out, e)
		if filter.Limit > 0 && len(out) >= filter.Limit {
			break
		}
	}
	return out, nil
}

// Close implements the sink port.
func (s *AuditSink) Close() error {
	return nil
}

// Len returns the number of retained entries.
func (s *AuditSink) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// Compile-time interface verification.
var _ outbound.QueryableSink = (*AuditSink)(nil)
