package conversation

import (
	"fmt"
	"sync"
	"time"
)

const (
	// DefaultWindow is how long a conversation survives without activity.
	DefaultWindow = time.Hour

	// DefaultPrefix is prepended to every generated conversation ID.
	DefaultPrefix = "discord"
)

// Snapshot is a read-only view of a session.
type Snapshot struct {
	LastActive time.Time
	ID         string
	Window     time.Duration
}

// Active reports whether the snapshot holds a conversation that would still
// be continued at now.
func (s Snapshot) Active(now time.Time) bool {
	return s.ID != "" && now.Sub(s.LastActive) <= s.Window
}

// Session holds the single conversation shared by every chat message.
// It is safe for concurrent use.
type Session struct {
	lastActive time.Time
	clock      Clock
	id         string
	prefix     string
	window     time.Duration
	mu         sync.Mutex
}

// SessionOption configures a Session.
type SessionOption func(*Session)

// WithWindow sets the inactivity window. Non-positive values are ignored.
func WithWindow(window time.Duration) SessionOption {
	return func(s *Session) {
		if window > 0 {
			s.window = window
		}
	}
}

// WithPrefix sets the conversation ID prefix. Empty values are ignored.
func WithPrefix(prefix string) SessionOption {
	return func(s *Session) {
		if prefix != "" {
			s.prefix = prefix
		}
	}
}

// WithClock sets the clock read by TouchNow. Nil is ignored.
func WithClock(clock Clock) SessionOption {
	return func(s *Session) {
		if clock != nil {
			s.clock = clock
		}
	}
}

// NewSession creates a session with no conversation yet.
func NewSession(opts ...SessionOption) *Session {
	s := &Session{
		clock:  SystemClock{},
		window: DefaultWindow,
		prefix: DefaultPrefix,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Touch returns the conversation ID for a message arriving at now.
//
// A new ID is generated when no conversation exists yet or when more than the
// window has elapsed since the last activity. A gap of exactly the window
// continues the conversation. The activity time is updated in both cases.
func (s *Session) Touch(now time.Time) string {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.touchLocked(now)
}

// TouchNow is Touch at the session clock's current time.
func (s *Session) TouchNow() string {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.touchLocked(s.clock.Now())
}

func (s *Session) touchLocked(now time.Time) string {
	if s.id == "" || now.Sub(s.lastActive) > s.window {
		s.id = fmt.Sprintf("%s-%d", s.prefix, now.Unix())
	}
	s.lastActive = now

	return s.id
}

// Snapshot returns the current conversation state.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	return Snapshot{
		ID:         s.id,
		LastActive: s.lastActive,
		Window:     s.window,
	}
}

// Window returns the configured inactivity window.
func (s *Session) Window() time.Duration {
	return s.window
}
