package outbound

import (
	"context"
	"errors"

	"github.com/Tool-Gate/Toolgate/internal/domain/session"
)

// ErrSessionNotFound is returned when a session does not exist or expired.
var ErrSessionNotFound = errors.New("session not found")

// SessionStore persists session context between requests.
type SessionStore interface {
	// Get returns the session by id, or ErrSessionNotFound.
	Get(ctx context.Context, id string) (*session.Session, error)

	// Put stores or replaces a session.
	Put(ctx context.Context, s *session.Session) error

	// Delete removes a session. Deleting an absent id is not an error.
	Delete(ctx context.Context, id string) error
}
