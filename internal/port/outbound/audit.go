package outbound

import (
	"context"

	"github.com/Tool-Gate/Toolgate/internal/domain/audit"
)

// AuditSink persists flushed audit batches. Persist may block; the stream
// calls it off the hot path, after fan-out.
type AuditSink interface {
	// Persist stores one flushed batch. Entries within a batch arrive in
	// append order.
	Persist(ctx context.Context, entries []*audit.Entry) error

	// Close releases sink resources after a final flush.
	Close() error
}

// QueryableSink is implemented by sinks that can answer filtered queries
// over already-persisted entries. The stream merges these results with its
// live buffer.
type QueryableSink interface {
	AuditSink

	// Query returns persisted entries matching the filter, oldest first.
	Query(ctx context.Context, filter audit.Filter) ([]*audit.Entry, error)
}
