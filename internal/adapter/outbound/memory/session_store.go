package memory

import (
	"context"
	"sync"
	"time"

	"github.com/Tool-Gate/Toolgate/internal/clock"
	"github.com/Tool-Gate/Toolgate/internal/domain/session"
	"github.com/Tool-Gate/Toolgate/internal/port/outbound"
)

// SessionStore keeps sessions in memory with a background TTL sweeper.
type SessionStore struct {
	mu       sync.RWMutex
	sessions map[string]*session.Session
	clk      clock.Clock

	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
}

// NewSessionStore returns a store sweeping expired sessions every
// cleanupInterval. Stop must be called to release the sweeper. A
// non-positive interval disables sweeping (tests expire via Get).
func NewSessionStore(clk clock.Clock, cleanupInterval time.Duration) *SessionStore {
	if clk == nil {
		clk = clock.System()
	}
	s := &SessionStore{
		sessions: make(map[string]*session.Session),
		clk:      clk,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	if cleanupInterval > 0 {
		go s.sweep(cleanupInterval)
	} else {
		close(s.done)
	}
	return s
}

// Get implements the session port. Expired sessions are treated as absent
// and removed.
func (s *SessionStore) Get(_ context.Context, id string) (*session.Session, error) {
	s.mu.RLock()
	sess, ok := s.sessions[id]
	s.mu.RUnlock()
	if !ok {
		return nil, outbound.ErrSessionNotFound
	}
	if sess.IsExpired(s.clk.Now()) {
		s.mu.Lock()
		delete(s.sessions, id)
		s.mu.Unlock()
		return nil, outbound.ErrSessionNotFound
	}
	cp := *sess
	return &cp, nil
}

// Put implements the session port.
func (s *SessionStore) Put(_ context.Context, sess *session.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *sess
	s.sessions[sess.ID] = &cp
	return nil
}

// Delete implements the session port.
func (s *SessionStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, id)
	return nil
}

// Len returns the number of stored sessions, expired included.
func (s *SessionStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

// Stop terminates the sweeper and waits for it to exit.
func (s *SessionStore) Stop() {
	s.stopOnce.Do(func() { close(s.stop) })
	<-s.done
}

func (s *SessionStore) sweep(interval time.Duration) {
	defer close(s.done)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			now := s.clk.Now()
			s.mu.Lock()
			for id, sess := range s.sessions {
				if sess.IsExpired(now) {
					delete(s.sessions, id)
				}
			}
			s.mu.Unlock()
		case <-s.stop:
			return
		}
	}
}

// Compile-time interface verification.
var _ outbound.SessionStore = (*SessionStore)(nil)
