package api

import (
	"context"
	"io"
	"net/http"
	"strconv"
	"time"
)

// handleInput is POST /sessions/{name}/input: raw body bytes are enqueued
// unconditionally, matching §4.4's remote-input clause (not subject to
// capture gating).
func (s *Server) handleInput(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.sessionFor(w, r)
	if !ok {
		return
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		http.Error(w, "read body", http.StatusBadRequest)
		return
	}
	if err := sess.SendInput(body); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleGetMode(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.sessionFor(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"mode": sess.InputMode.Get()})
}

func (s *Server) handleCapture(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.sessionFor(w, r)
	if !ok {
		return
	}
	sess.InputMode.Capture()
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleRelease(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.sessionFor(w, r)
	if !ok {
		return
	}
	sess.InputMode.Release()
	w.WriteHeader(http.StatusNoContent)
}

// handleScreen is GET /sessions/{name}/screen?format=plain|styled.
func (s *Server) handleScreen(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.sessionFor(w, r)
	if !ok {
		return
	}
	styled := r.URL.Query().Get("format") == "styled"

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()
	screen, err := sess.Engine.Screen(ctx, styled)
	if err != nil {
		writeQueryError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, screen)
}

// handleScrollback is GET /sessions/{name}/scrollback?format=&offset=&limit=.
func (s *Server) handleScrollback(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.sessionFor(w, r)
	if !ok {
		return
	}
	q := r.URL.Query()
	styled := q.Get("format") == "styled"
	offset, _ := strconv.Atoi(q.Get("offset"))
	limit, _ := strconv.Atoi(q.Get("limit"))

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()
	result, err := sess.Engine.Scrollback(ctx, styled, offset, limit)
	if err != nil {
		writeQueryError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func writeQueryError(w http.ResponseWriter, err error) {
	http.Error(w, err.Error(), http.StatusGatewayTimeout)
}

// handleQuiescence is GET /sessions/{name}/quiescence?timeout_ms=: blocks
// until timeout_ms (or the session's configured default) has elapsed since
// the last PTY output, then reports quiescent.
func (s *Server) handleQuiescence(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.sessionFor(w, r)
	if !ok {
		return
	}
	if ms, err := strconv.Atoi(r.URL.Query().Get("timeout_ms")); err == nil && ms > 0 {
		sess.Activity.WaitForQuiescence(time.Duration(ms) * time.Millisecond)
	} else {
		sess.Activity.WaitForDefaultQuiescence()
	}
	writeJSON(w, http.StatusOK, map[string]bool{"quiescent": true})
}
