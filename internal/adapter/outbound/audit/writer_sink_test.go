package audit

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/Tool-Gate/Toolgate/internal/domain/audit"
)

func TestWriterSinkPersist(t *testing.T) {
	var buf bytes.Buffer
	s := NewWriterSink(&buf)

	now := time.Now().UTC()
	batch := []*audit.Entry{
		entryAt("w1", now),
		entryAt("w2", now.Add(time.Second)),
	}
	if err := s.Persist(context.Background(), batch); err != nil {
		t.Fatalf("Persist: %v", err)
	}

	var ids []string
	sc := bufio.NewScanner(&buf)
	for sc.Scan() {
		var entry audit.Entry
		if err := json.Unmarshal(sc.Bytes(), &entry); err != nil {
			t.Fatalf("unmarshal line %q: %v", sc.Text(), err)
		}
		ids = append(ids, entry.ID)
	}
	if len(ids) != 2 || ids[0] != "w1" || ids[1] != "w2" {
		t.Errorf("expected [w1 w2] in order, got %v", ids)
	}
}

func TestWriterSinkClosedRejectsPersist(t *testing.T) {
	var buf bytes.Buffer
	s := NewWriterSink(&buf)

	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	err := s.Persist(context.Background(), []*audit.Entry{entryAt("w1", time.Now())})
	if err == nil {
		t.Error("expected error persisting to a closed sink")
	}
	if buf.Len() != 0 {
		t.Errorf("closed sink wrote %q", buf.String())
	}
}

func TestWriterSinkCancelledContext(t *testing.T) {
	var buf bytes.Buffer
	s := NewWriterSink(&buf)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := s.Persist(ctx, []*audit.Entry{entryAt("w1", time.Now())})
	if err != context.Canceled {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}
