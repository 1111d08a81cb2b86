// Package api adapts the session core to HTTP and WebSocket: the route
// handlers, JSON envelopes, and WS upgrades the spec treats as external
// collaborators of the data plane.
package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/jacoblasky/wsh/internal/session"
)

// Lookup resolves a session by name. In standalone mode it always returns
// the one session regardless of the name requested; in server mode it
// consults the registry.
type Lookup func(name string) (*session.Session, bool)

// Server wires session.Session/session.Registry operations onto HTTP
// routes and WebSocket upgrades.
type Server struct {
	lookup Lookup

	// registry and newSession are only set in server mode, where sessions
	// are created through the management endpoint rather than at startup.
	registry          *session.Registry
	newSession        func() session.Config
	quiescenceDefault func() time.Duration
}

// NewServer returns a Server that resolves sessions through lookup.
func NewServer(lookup Lookup) *Server {
	return &Server{lookup: lookup}
}

// NewSingleSessionServer returns a Server backing exactly one session,
// matching standalone mode where {name} in a route is accepted but ignored.
func NewSingleSessionServer(s *session.Session) *Server {
	return NewServer(func(string) (*session.Session, bool) { return s, true })
}

// NewRegistryServer returns a Server backed by a session.Registry, matching
// server mode's named sessions. newSession is called for each POST
// /sessions request to obtain the defaults (rows, cols, scrollback limit)
// for the session being created, and quiescenceDefault for its initial
// quiescence default; both are funcs rather than fixed values so a config
// hot-reload changes what sessions created later pick up, without
// restarting the daemon.
func NewRegistryServer(r *session.Registry, newSession func() session.Config, quiescenceDefault func() time.Duration) *Server {
	s := NewServer(r.Get)
	s.registry = r
	s.newSession = newSession
	s.quiescenceDefault = quiescenceDefault
	return s
}

// Handler builds the route table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("POST /sessions", s.handleCreateSession)
	mux.HandleFunc("POST /sessions/{name}/input", s.handleInput)
	mux.HandleFunc("GET /sessions/{name}/input/mode", s.handleGetMode)
	mux.HandleFunc("POST /sessions/{name}/input/capture", s.handleCapture)
	mux.HandleFunc("POST /sessions/{name}/input/release", s.handleRelease)
	mux.HandleFunc("GET /sessions/{name}/screen", s.handleScreen)
	mux.HandleFunc("GET /sessions/{name}/scrollback", s.handleScrollback)
	mux.HandleFunc("GET /sessions/{name}/quiescence", s.handleQuiescence)
	mux.HandleFunc("GET /ws/raw", s.handleWSRaw)
	mux.HandleFunc("GET /sessions/{name}/events", s.handleWSEvents)
	return mux
}

// createSessionRequest is the JSON body for POST /sessions. Rows, Cols, and
// Command fall back to the server's configured defaults when zero/empty.
type createSessionRequest struct {
	Name    string `json:"name"`
	Command string `json:"command,omitempty"`
	Rows    int    `json:"rows,omitempty"`
	Cols    int    `json:"cols,omitempty"`
}

// handleCreateSession is POST /sessions: server mode's session-management
// endpoint. It's a 501 in standalone mode, where the one session already
// exists at startup.
func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	if s.registry == nil {
		http.Error(w, "session creation requires server mode", http.StatusNotImplemented)
		return
	}
	var req createSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Name == "" {
		http.Error(w, "name is required", http.StatusBadRequest)
		return
	}

	cfg := s.newSession()
	cfg.Name = req.Name
	if req.Command != "" {
		cfg.Command = req.Command
	}
	if req.Rows > 0 {
		cfg.Rows = req.Rows
	}
	if req.Cols > 0 {
		cfg.Cols = req.Cols
	}

	sess, err := session.New(cfg)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	sess.SetQuiescenceDefault(s.quiescenceDefault())
	if err := s.registry.Add(sess); err != nil {
		_ = sess.Close()
		http.Error(w, err.Error(), http.StatusConflict)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"name": sess.Name})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (s *Server) sessionFor(w http.ResponseWriter, r *http.Request) (*session.Session, bool) {
	name := r.PathValue("name")
	sess, ok := s.lookup(name)
	if !ok {
		http.Error(w, "session not found", http.StatusNotFound)
		return nil, false
	}
	return sess, true
}
