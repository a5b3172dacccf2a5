// Package session holds the identifier that correlates a client with its
// event stream on the backend. One Session lives for the whole CLI run; the
// identifier changes only through Regenerate.
package session

import (
	"sync"

	"github.com/google/uuid"
)

// Session generates and holds the active session identifier.
type Session struct {
	mu  sync.Mutex
	id  string
	gen func() string
}

// Option configures a Session.
type Option func(*Session)

// WithGenerator replaces the identifier generator.
func WithGenerator(gen func() string) Option {
	return func(s *Session) { s.gen = gen }
}

// New returns a Session whose identifier is created on first use.
func New(opts ...Option) *Session {
	s := &Session{gen: newID}
	for _, o := range opts {
		o(s)
	}
	return s
}

// CurrentID returns the active identifier, generating it on first call.
func (s *Session) CurrentID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.id == "" {
		s.id = s.gen()
	}
	return s.id
}

// Regenerate installs a fresh identifier and returns it. Callers own any
// connection keyed by the old identifier and must re-establish it.
func (s *Session) Regenerate() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.id = s.gen()
	return s.id
}

func newID() string {
	return uuid.NewString()
}
