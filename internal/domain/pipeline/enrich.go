package pipeline

import (
	"context"
	"errors"
	"time"

	"github.com/Tool-Gate/Toolgate/internal/clock"
	"github.com/Tool-Gate/Toolgate/internal/domain/session"
	"github.com/Tool-Gate/Toolgate/internal/port/outbound"
)

// SessionEnricher fills a request's context from the session store:
// conversation history, available tools, and the user id. Requests without
// a session id pass through untouched. Runs before routing, as part of the
// request's construction.
type SessionEnricher struct {
	store   outbound.SessionStore
	clk     clock.Clock
	timeout time.Duration
}

// NewSessionEnricher builds the enrichment stage.
func NewSessionEnricher(store outbound.SessionStore, clk clock.Clock, timeout time.Duration) *SessionEnricher {
	if clk == nil {
		clk = clock.System()
	}
	if timeout <= 0 {
		timeout = 30 * time.Minute
	}
	return &SessionEnricher{store: store, clk: clk, timeout: timeout}
}

// Name implements Stage.
func (s *SessionEnricher) Name() string {
	return "session_enrich"
}

// Process implements Stage. An unknown session id starts a fresh session;
// a known one contributes its history and tool restrictions.
func (s *SessionEnricher) Process(ctx context.Context, st *State) error {
	sid := st.Request.Context.SessionID
	if sid == "" || s.store == nil {
		return nil
	}

	now := s.clk.Now()
	sess, err := s.store.Get(ctx, sid)
	if errors.Is(err, outbound.ErrSessionNotFound) {
		sess = &session.Session{
			ID:        sid,
			UserID:    st.Request.Context.UserID,
			CreatedAt: now,
		}
	} else if err != nil {
		return err
	}
	sess.Refresh(now, s.timeout)

	if len(st.Request.Context.History) == 0 {
		st.Request.Context.History = sess.History
	}
	if len(st.Request.Context.AvailableTools) == 0 {
		st.Request.Context.AvailableTools = sess.AvailableTools
	}
	if st.Request.Context.UserID == "" {
		st.Request.Context.UserID = sess.UserID
	}

	return s.store.Put(ctx, sess)
}

// Compile-time check that SessionEnricher implements Stage.
var _ Stage = (*SessionEnricher)(nil)
