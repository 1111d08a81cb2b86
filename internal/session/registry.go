package session

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// Registry is the server-mode collection of named sessions.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{sessions: make(map[string]*Session)}
}

// Add registers s under its own name. It fails if a session with that name
// already exists.
func (r *Registry) Add(s *Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.sessions[s.Name]; exists {
		return fmt.Errorf("session: %q already registered", s.Name)
	}
	r.sessions[s.Name] = s
	return nil
}

// Get returns the named session, if any.
func (r *Registry) Get(name string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[name]
	return s, ok
}

// Remove closes and unregisters the named session.
func (r *Registry) Remove(name string) error {
	r.mu.Lock()
	s, ok := r.sessions[name]
	if ok {
		delete(r.sessions, name)
	}
	r.mu.Unlock()
	if !ok {
		return fmt.Errorf("session: %q not found", name)
	}
	return s.Close()
}

// Names returns the registered session names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.sessions))
	for name := range r.sessions {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// CloseAll closes every registered session.
func (r *Registry) CloseAll() {
	r.mu.Lock()
	sessions := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		sessions = append(sessions, s)
	}
	r.sessions = make(map[string]*Session)
	r.mu.Unlock()

	for _, s := range sessions {
		_ = s.Close()
	}
}

// snapshot returns the currently registered sessions without holding the
// registry lock for the duration of the caller's work.
func (r *Registry) snapshot() []*Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	sessions := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		sessions = append(sessions, s)
	}
	return sessions
}

// ShutdownAll signals every registered session's shutdown coordinator and
// waits, up to ctx, for their WebSocket connections to drain. It does not
// close the sessions themselves; call CloseAll afterward.
func (r *Registry) ShutdownAll(ctx context.Context) {
	sessions := r.snapshot()
	for _, s := range sessions {
		s.Shutdown.Shutdown()
	}
	for _, s := range sessions {
		_ = s.Shutdown.WaitForAllClosed(ctx)
	}
}

// ApplyConfig hot-reloads the scrollback limit and quiescence default onto
// every registered session, in place of a restart.
func (r *Registry) ApplyConfig(scrollbackLimit int, quiescenceDefault time.Duration) {
	for _, s := range r.snapshot() {
		s.SetScrollbackLimit(scrollbackLimit)
		s.SetQuiescenceDefault(quiescenceDefault)
	}
}
