package session

import (
	"fmt"
	"testing"
	"time"

	"github.com/Tool-Gate/Toolgate/internal/domain/intent"
)

func TestIsExpired(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	s := &Session{ID: "sess_1", ExpiresAt: now.Add(time.Minute)}

	if s.IsExpired(now) {
		t.Error("session should not be expired before its deadline")
	}
	if !s.IsExpired(now.Add(2 * time.Minute)) {
		t.Error("session should be expired past its deadline")
	}
}

func TestRefreshExtendsExpiry(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	s := &Session{ID: "sess_1", ExpiresAt: now}

	s.Refresh(now, 30*time.Minute)
	if !s.ExpiresAt.Equal(now.Add(30 * time.Minute)) {
		t.Errorf("expected expiry %v, got %v", now.Add(30*time.Minute), s.ExpiresAt)
	}
	if !s.LastAccess.Equal(now) {
		t.Errorf("expected last access %v, got %v", now, s.LastAccess)
	}
}

func TestAppendHistoryBounded(t *testing.T) {
	s := &Session{ID: "sess_1"}
	for i := 0; i < MaxHistoryEntries+10; i++ {
		s.AppendHistory(intent.HistoryEntry{
			Role:    "user",
			Content: fmt.Sprintf("message %d", i),
		})
	}

	if len(s.History) != MaxHistoryEntries {
		t.Fatalf("expected history bounded at %d, got %d", MaxHistoryEntries, len(s.History))
	}
	// The oldest entries are dropped first.
	if s.History[0].Content != "message 10" {
		t.Errorf("expected oldest entry dropped, head is %q", s.History[0].Content)
	}
}
