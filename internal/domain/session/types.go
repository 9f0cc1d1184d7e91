// Package session tracks client sessions across requests: bounded
// conversation history and the tool ids the session may route to. The
// gateway enriches normalized requests from this state.
package session

import (
	"time"

	"github.com/Tool-Gate/Toolgate/internal/domain/intent"
)

// MaxHistoryEntries bounds the conversation history kept per session.
// Older entries are dropped first.
const MaxHistoryEntries = 50

// Session is one client session's accumulated context.
type Session struct {
	// ID is the client-supplied session identifier.
	ID string `json:"id"`
	// UserID is the end user the session belongs to, when known.
	UserID string `json:"user_id,omitempty"`
	// History is the bounded conversation history, oldest first.
	History []intent.HistoryEntry `json:"history,omitempty"`
	// AvailableTools restricts routing for this session when non-empty.
	AvailableTools []string `json:"available_tools,omitempty"`
	// CreatedAt is when the session was first seen (UTC).
	CreatedAt time.Time `json:"created_at"`
	// ExpiresAt is when the session will expire (UTC).
	ExpiresAt time.Time `json:"expires_at"`
	// LastAccess is the last time the session was used (UTC).
	LastAccess time.Time `json:"last_access"`
}

// IsExpired reports whether the session passed its expiry at the given time.
func (s *Session) IsExpired(now time.Time) bool {
	return now.After(s.ExpiresAt)
}

// Refresh updates LastAccess and extends ExpiresAt by the given timeout.
func (s *Session) Refresh(now time.Time, timeout time.Duration) {
	s.LastAccess = now
	s.ExpiresAt = now.Add(timeout)
}

// AppendHistory records one exchange, dropping the oldest entries beyond
// MaxHistoryEntries.
func (s *Session) AppendHistory(entry intent.HistoryEntry) {
	s.History = append(s.History, entry)
	if len(s.History) > MaxHistoryEntries {
		s.History = s.History[len(s.History)-MaxHistoryEntries:]
	}
}
