package session

import (
	"sync"

	"bedtime-sketch/core"

	"github.com/oklog/ulid/v2"
	"github.com/sirupsen/logrus"
)

// Registry holds the live sessions of a server.
type Registry struct {
	opts Options

	mu       sync.RWMutex
	sessions map[string]*Session
}

func NewRegistry(opts Options) *Registry {
	return &Registry{
		opts:     opts,
		sessions: make(map[string]*Session),
	}
}

// Store returns the story archive shared by the registry's sessions.
func (r *Registry) Store() core.StoryStore {
	return r.opts.Store
}

// Create starts a new session under a fresh ULID.
func (r *Registry) Create() *Session {
	id := ulid.Make().String()
	s := New(id, r.opts)

	r.mu.Lock()
	r.sessions[id] = s
	count := len(r.sessions)
	r.mu.Unlock()

	logrus.WithFields(logrus.Fields{
		"session_id": id,
		"sessions":   count,
	}).Info("Session created")
	return s
}

// Get returns the session with id or a KindNotFound error.
func (r *Registry) Get(id string) (*Session, error) {
	r.mu.RLock()
	s, ok := r.sessions[id]
	r.mu.RUnlock()
	if !ok {
		return nil, core.NewError(core.KindNotFound, "session %s not found", id)
	}
	return s, nil
}

// Close tears down and forgets the session with id.
func (r *Registry) Close(id string) error {
	r.mu.Lock()
	s, ok := r.sessions[id]
	delete(r.sessions, id)
	r.mu.Unlock()
	if !ok {
		return core.NewError(core.KindNotFound, "session %s not found", id)
	}
	s.Close()
	return nil
}

// CloseAll tears down every session, used on shutdown.
func (r *Registry) CloseAll() {
	r.mu.Lock()
	sessions := r.sessions
	r.sessions = make(map[string]*Session)
	r.mu.Unlock()

	for _, s := range sessions {
		s.Close()
	}
	logrus.WithField("sessions", len(sessions)).Info("All sessions closed")
}

// Len returns the number of live sessions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}
