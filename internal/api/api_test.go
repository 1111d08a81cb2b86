package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/jacoblasky/wsh/internal/session"
)

func newTestServer(t *testing.T) (*Server, *session.Session) {
	t.Helper()
	sess, err := session.New(session.Config{
		Name:            "default",
		Rows:            24,
		Cols:            80,
		Command:         "/bin/sh",
		ScrollbackLimit: 100,
	})
	if err != nil {
		t.Fatalf("session.New: %v", err)
	}
	t.Cleanup(func() { _ = sess.Close() })
	return NewSingleSessionServer(sess), sess
}

func TestHealthEndpoint(t *testing.T) {
	s, _ := newTestServer(t)
	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	s.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rr.Code)
	}
	var body map[string]string
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["status"] != "ok" {
		t.Errorf("status = %q, want ok", body["status"])
	}
}

func TestInputEndpointEnqueuesAndRejectsWrongMethod(t *testing.T) {
	s, sess := newTestServer(t)
	sub := sess.Broker.Subscribe()

	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/sessions/default/input", bytes.NewBufferString("echo API_OK\n"))
	s.Handler().ServeHTTP(rr, req)
	if rr.Code != http.StatusNoContent {
		t.Fatalf("status = %d, want 204", rr.Code)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	var seen bytes.Buffer
	for !strings.Contains(seen.String(), "API_OK") {
		data, _, err := sub.Recv(ctx)
		if err != nil {
			t.Fatalf("Recv: %v", err)
		}
		seen.Write(data)
	}

	rr2 := httptest.NewRecorder()
	badReq := httptest.NewRequest(http.MethodGet, "/sessions/default/input", nil)
	s.Handler().ServeHTTP(rr2, badReq)
	if rr2.Code != http.StatusMethodNotAllowed {
		t.Errorf("GET /input status = %d, want 405", rr2.Code)
	}
}

func TestModeEndpointsAreIdempotent(t *testing.T) {
	s, _ := newTestServer(t)

	getMode := func() string {
		rr := httptest.NewRecorder()
		s.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/sessions/default/input/mode", nil))
		var body map[string]string
		_ = json.Unmarshal(rr.Body.Bytes(), &body)
		return body["mode"]
	}

	if mode := getMode(); mode != "passthrough" {
		t.Fatalf("default mode = %q, want passthrough", mode)
	}

	for i := 0; i < 3; i++ {
		rr := httptest.NewRecorder()
		s.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/sessions/default/input/capture", nil))
		if rr.Code != http.StatusNoContent {
			t.Fatalf("capture status = %d", rr.Code)
		}
	}
	if mode := getMode(); mode != "capture" {
		t.Fatalf("mode after capture = %q, want capture", mode)
	}

	for i := 0; i < 3; i++ {
		rr := httptest.NewRecorder()
		s.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/sessions/default/input/release", nil))
		if rr.Code != http.StatusNoContent {
			t.Fatalf("release status = %d", rr.Code)
		}
	}
	if mode := getMode(); mode != "passthrough" {
		t.Fatalf("mode after release = %q, want passthrough", mode)
	}
}

func TestScreenEndpointReturnsAccounting(t *testing.T) {
	s, sess := newTestServer(t)
	if err := sess.SendInput([]byte("echo hi\n")); err != nil {
		t.Fatalf("SendInput: %v", err)
	}
	time.Sleep(200 * time.Millisecond)

	rr := httptest.NewRecorder()
	s.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/sessions/default/screen", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rr.Code)
	}
	var screen struct {
		Rows, TotalLines, FirstLineIndex int
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &screen); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if screen.TotalLines != screen.FirstLineIndex+screen.Rows {
		t.Errorf("total_lines=%d != first_line_index=%d + rows=%d", screen.TotalLines, screen.FirstLineIndex, screen.Rows)
	}
}

func TestUnknownSessionReturns404(t *testing.T) {
	s := NewServer(func(string) (*session.Session, bool) { return nil, false })
	rr := httptest.NewRecorder()
	s.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/sessions/missing/input/mode", nil))
	if rr.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rr.Code)
	}
}
