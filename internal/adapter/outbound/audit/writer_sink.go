package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"

	"github.com/Tool-Gate/Toolgate/internal/domain/audit"
	"github.com/Tool-Gate/Toolgate/internal/port/outbound"
)

// WriterSink persists flushed audit batches as JSON Lines on an io.Writer,
// typically stdout. It holds no resources of its own; Close is a no-op
// beyond rejecting further writes.
type WriterSink struct {
	mu     sync.Mutex
	w      io.Writer
	closed bool
}

// NewWriterSink wraps w as an audit sink.
func NewWriterSink(w io.Writer) *WriterSink {
	return &WriterSink{w: w}
}

// Persist writes one JSON line per entry, in append order.
func (s *WriterSink) Persist(ctx context.Context, entries []*audit.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("writer sink is closed")
	}
	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return err
		}
		data, err := json.Marshal(entry)
		if err != nil {
			return fmt.Errorf("marshal audit entry %s: %w", entry.ID, err)
		}
		if _, err := s.w.Write(append(data, '\n')); err != nil {
			return fmt.Errorf("write audit entry: %w", err)
		}
	}
	return nil
}

// Close marks the sink closed. The underlying writer is not owned by the
// sink and stays open.
func (s *WriterSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

var _ outbound.AuditSink = (*WriterSink)(nil)
