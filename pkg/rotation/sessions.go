package rotation

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

type session struct {
	rotator  *Rotator
	lastSeen time.Time
}

// Sessions keeps one Rotator per display session so cursors are scoped by
// session identifier and series identifier.
type Sessions struct {
	mu       sync.Mutex
	window   int
	forecast int
	now      func() time.Time
	sessions map[string]*session
}

// NewSessions creates a registry whose rotators use window w and forecast f.
func NewSessions(w, f int) (*Sessions, error) {
	// validate geometry once up front so GetOrCreate cannot fail later
	if _, err := NewRotator(w, f); err != nil {
		return nil, err
	}
	return &Sessions{
		window:   w,
		forecast: f,
		now:      time.Now,
		sessions: make(map[string]*session),
	}, nil
}

// GetOrCreate returns the rotator of sessionID, creating it on first use, and
// marks the session as seen.
func (s *Sessions) GetOrCreate(sessionID string) (*Rotator, error) {
	if sessionID == "" {
		return nil, errors.New("invalid session id: must not be empty")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[sessionID]
	if !ok {
		r, err := NewRotator(s.window, s.forecast)
		if err != nil {
			return nil, fmt.Errorf("failed to create rotator for session %q: %w", sessionID, err)
		}
		sess = &session{rotator: r}
		s.sessions[sessionID] = sess
	}
	sess.lastSeen = s.now()
	return sess.rotator, nil
}

// Add registers r for sessionID unless the session already exists, and
// returns the rotator registered for it. r must use the registry geometry.
func (s *Sessions) Add(sessionID string, r *Rotator) (*Rotator, error) {
	if sessionID == "" {
		return nil, errors.New("invalid session id: must not be empty")
	}
	if r.Window() != s.window || r.Forecast() != s.forecast {
		return nil, fmt.Errorf("rotator geometry %d/%d does not match sessions %d/%d",
			r.Window(), r.Forecast(), s.window, s.forecast)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[sessionID]
	if !ok {
		sess = &session{rotator: r}
		s.sessions[sessionID] = sess
	}
	sess.lastSeen = s.now()
	return sess.rotator, nil
}

// Get returns the rotator of sessionID without creating or touching it.
func (s *Sessions) Get(sessionID string) (*Rotator, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[sessionID]
	if !ok {
		return nil, false
	}
	return sess.rotator, true
}

// Remove drops a session and its cursors.
func (s *Sessions) Remove(sessionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, sessionID)
}

// Len returns the number of live sessions.
func (s *Sessions) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// Each calls fn for every live session. fn must not call back into Sessions.
func (s *Sessions) Each(fn func(sessionID string, r *Rotator)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, sess := range s.sessions {
		fn(id, sess.rotator)
	}
}

// Sweep evicts sessions not seen within ttl of now and returns the evicted ids.
// Sessions listed in keep are never evicted.
func (s *Sessions) Sweep(now time.Time, ttl time.Duration, keep ...string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	var evicted []string
outer:
	for id, sess := range s.sessions {
		for _, k := range keep {
			if k == id {
				continue outer
			}
		}
		if now.Sub(sess.lastSeen) > ttl {
			delete(s.sessions, id)
			evicted = append(evicted, id)
		}
	}
	return evicted
}
