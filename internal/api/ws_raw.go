package api

import (
	"context"
	"net/http"

	"github.com/coder/websocket"

	"github.com/jacoblasky/wsh/internal/session"
	"github.com/jacoblasky/wsh/internal/wshlog"
)

// handleWSRaw is GET /ws/raw?session=name: a bidirectional binary channel.
// Inbound binary/text frames go to the session's input channel; PTY output
// chunks come back as outbound binary frames. A close frame ends the
// inbound half; either half finishing aborts the other.
func (s *Server) handleWSRaw(w http.ResponseWriter, r *http.Request) {
	name := r.URL.Query().Get("session")
	sess, ok := s.lookup(name)
	if !ok {
		http.Error(w, "session not found", http.StatusNotFound)
		return
	}

	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		return
	}
	defer conn.CloseNow()
	conn.SetReadLimit(1 << 20)

	guard, shutdownCh := sess.Shutdown.Register()
	defer guard.Release()

	ctx := r.Context()
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	done := make(chan struct{}, 2)

	go func() {
		select {
		case <-shutdownCh:
			_ = conn.Close(websocket.StatusGoingAway, "server shutting down")
		case <-ctx.Done():
		}
	}()

	go func() {
		defer func() { done <- struct{}{} }()
		runWSInbound(ctx, conn, sess)
	}()
	go func() {
		defer func() { done <- struct{}{} }()
		runWSOutbound(ctx, conn, sess)
	}()

	<-done
	cancel()
	<-done
}

func runWSInbound(ctx context.Context, conn *websocket.Conn, sess *session.Session) {
	for {
		typ, data, err := conn.Read(ctx)
		if err != nil {
			return
		}
		if typ == websocket.MessageText || typ == websocket.MessageBinary {
			if err := sess.SendInput(data); err != nil {
				wshlog.Warn("ws input send failed", "session", sess.Name, "error", err)
				return
			}
		}
	}
}

func runWSOutbound(ctx context.Context, conn *websocket.Conn, sess *session.Session) {
	sub := sess.Broker.Subscribe()
	for {
		data, lag, err := sub.Recv(ctx)
		if err != nil {
			return
		}
		if lag > 0 {
			// A lossy subscriber fell behind; the raw channel has no
			// structured lag marker, so resume silently from the tail.
			continue
		}
		if err := conn.Write(ctx, websocket.MessageBinary, data); err != nil {
			return
		}
	}
}
