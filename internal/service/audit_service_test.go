package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/Tool-Gate/Toolgate/internal/adapter/outbound/memory"
	"github.com/Tool-Gate/Toolgate/internal/domain/audit"
)

func newAuditStream(t *testing.T, sink *memory.AuditSink, opts ...AuditOption) *AuditService {
	t.Helper()
	opts = append([]AuditOption{WithFlushInterval(time.Hour)}, opts...)
	s := NewAuditService(sink, testLogger(), opts...)
	t.Cleanup(s.Stop)
	return s
}

func auditEntry(action string) *audit.Entry {
	return &audit.Entry{
		TraceID:   "trace_a",
		EventType: audit.EventToolExecuted,
		Severity:  audit.SeverityInfo,
		Actor:     "user_1",
		Action:    action,
	}
}

func TestWriteFillsIdentityAndRedacts(t *testing.T) {
	sink := memory.NewAuditSink(100)
	s := newAuditStream(t, sink)

	e := auditEntry("execute")
	e.Details = map[string]interface{}{"api_key": "hunter2", "query": "weather"}
	s.Write(e)

	if e.ID == "" {
		t.Error("write should assign an id")
	}
	if e.Timestamp.IsZero() {
		t.Error("write should stamp the entry")
	}
	if e.Details["api_key"] != "***REDACTED***" {
		t.Errorf("sensitive detail not redacted: %v", e.Details["api_key"])
	}
	if e.Details["query"] != "weather" {
		t.Errorf("benign detail mangled: %v", e.Details["query"])
	}
}

func TestCapacityTriggersSynchronousFlush(t *testing.T) {
	sink := memory.NewAuditSink(100)
	s := newAuditStream(t, sink, WithBufferSize(3))

	for i := 0; i < 2; i++ {
		s.Write(auditEntry(fmt.Sprintf("a%d", i)))
	}
	if sink.Len() != 0 {
		t.Fatalf("nothing should be persisted below capacity, got %d", sink.Len())
	}
	s.Write(auditEntry("a2"))
	if sink.Len() != 3 {
		t.Errorf("full buffer should flush synchronously, persisted=%d", sink.Len())
	}
	if s.Len() != 0 {
		t.Errorf("buffer should be empty after flush, depth=%d", s.Len())
	}
}

func TestSubscribersReceiveFlushedBatches(t *testing.T) {
	sink := memory.NewAuditSink(100)
	s := newAuditStream(t, sink)

	var mu sync.Mutex
	var seen []string
	unsubscribe := s.Subscribe(func(entries []*audit.Entry) error {
		mu.Lock()
		defer mu.Unlock()
		for _, e := range entries {
			seen = append(seen, e.Action)
		}
		return nil
	})

	s.Write(auditEntry("first"))
	s.Flush()

	mu.Lock()
	got := len(seen)
	mu.Unlock()
	if got != 1 || seen[0] != "first" {
		t.Fatalf("subscriber should see the batch, seen=%v", seen)
	}

	unsubscribe()
	s.Write(auditEntry("second"))
	s.Flush()

	mu.Lock()
	defer mu.Unlock()
	if len(seen) != 1 {
		t.Errorf("unsubscribed handler should see nothing new, seen=%v", seen)
	}
}

func TestSubscriberFailuresAreContained(t *testing.T) {
	sink := memory.NewAuditSink(100)
	s := newAuditStream(t, sink)

	s.Subscribe(func([]*audit.Entry) error { return errors.New("handler broke") })
	s.Subscribe(func([]*audit.Entry) error { panic("handler exploded") })
	delivered := 0
	s.Subscribe(func(entries []*audit.Entry) error {
		delivered += len(entries)
		return nil
	})

	s.Write(auditEntry("execute"))
	s.Flush()

	if delivered != 1 {
		t.Error("healthy subscriber should still receive the batch")
	}
	if sink.Len() != 1 {
		t.Error("the sink should still receive the batch")
	}
	if got := s.HandlerErrors(); got != 2 {
		t.Errorf("expected 2 contained failures, got %d", got)
	}
}

func TestQueryMergesSinkAndLiveBuffer(t *testing.T) {
	sink := memory.NewAuditSink(100)
	s := newAuditStream(t, sink)

	s.Write(auditEntry("persisted"))
	s.Flush()
	s.Write(auditEntry("live"))

	entries, err := s.Query(context.Background(), audit.Filter{TraceID: "trace_a"})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected persisted+live, got %d", len(entries))
	}
	if entries[0].Action != "persisted" || entries[1].Action != "live" {
		t.Errorf("expected oldest-first merge, got %s then %s",
			entries[0].Action, entries[1].Action)
	}

	limited, err := s.Query(context.Background(), audit.Filter{Limit: 1})
	if err != nil {
		t.Fatalf("limited Query: %v", err)
	}
	if len(limited) != 1 {
		t.Errorf("limit not honored, got %d", len(limited))
	}
}

func TestQueryFiltersLiveBuffer(t *testing.T) {
	sink := memory.NewAuditSink(100)
	s := newAuditStream(t, sink)

	e := auditEntry("alert")
	e.EventType = audit.EventSecurityAlert
	e.Severity = audit.SeverityCritical
	s.Write(e)
	s.Write(auditEntry("execute"))

	entries, err := s.Query(context.Background(), audit.Filter{
		EventTypes: []audit.EventType{audit.EventSecurityAlert},
	})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(entries) != 1 || entries[0].Action != "alert" {
		t.Errorf("filter should select the alert only, got %v", entries)
	}
}

func TestIntervalFlush(t *testing.T) {
	sink := memory.NewAuditSink(100)
	s := NewAuditService(sink, testLogger(), WithFlushInterval(10*time.Millisecond))
	defer s.Stop()

	s.Write(auditEntry("periodic"))

	deadline := time.Now().Add(2 * time.Second)
	for sink.Len() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("periodic flush never fired")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestStopDrainsBuffer(t *testing.T) {
	sink := memory.NewAuditSink(100)
	s := NewAuditService(sink, testLogger(), WithFlushInterval(time.Hour))

	s.Write(auditEntry("pending"))
	s.Stop()

	if sink.Len() != 1 {
		t.Errorf("stop should drain the buffer, persisted=%d", sink.Len())
	}
	// Idempotent.
	s.Stop()
}
