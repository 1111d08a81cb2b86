package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/coder/websocket"

	"github.com/jacoblasky/wsh/internal/vterm"
	"github.com/jacoblasky/wsh/internal/wshlog"
)

// eventSubscribeRequest is the JSON envelope a client sends to select which
// VT event kinds it wants and how the server should throttle delivery.
// Format is decoded but has no effect: Line events always carry plain
// (SGR-stripped) text.
type eventSubscribeRequest struct {
	Events     []string `json:"events"`
	IntervalMS int      `json:"interval_ms"`
	Format     string   `json:"format"`
}

// laggedMarker is emitted in place of an event when the subscriber fell
// behind the VT event bus's capacity.
type laggedMarker struct {
	Lagged uint64 `json:"lagged"`
}

const defaultEventIntervalMS = 100

// handleWSEvents is GET /sessions/{name}/events: a WebSocket carrying a JSON
// subscription request, then a stream of VT events (or lag markers) as JSON
// text frames.
func (s *Server) handleWSEvents(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.sessionFor(w, r)
	if !ok {
		return
	}

	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		return
	}
	defer conn.CloseNow()

	guard, shutdownCh := sess.Shutdown.Register()
	defer guard.Release()

	ctx := r.Context()

	_, data, err := conn.Read(ctx)
	if err != nil {
		return
	}
	var req eventSubscribeRequest
	if err := json.Unmarshal(data, &req); err != nil {
		_ = conn.Close(websocket.StatusPolicyViolation, "invalid subscription")
		return
	}
	wanted := make(map[string]bool, len(req.Events))
	for _, kind := range req.Events {
		wanted[kind] = true
	}
	interval := time.Duration(req.IntervalMS) * time.Millisecond
	if req.IntervalMS <= 0 {
		interval = defaultEventIntervalMS * time.Millisecond
	}

	sub := sess.Engine.Events()
	recvCh := make(chan any)
	go pumpEvents(ctx, sub, wanted, recvCh)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	pending := make([]any, 0, 8)
	for {
		select {
		case item, ok := <-recvCh:
			if !ok {
				return
			}
			pending = append(pending, item)
		case <-ticker.C:
			if len(pending) == 0 {
				continue
			}
			if err := flushEvents(ctx, conn, pending); err != nil {
				wshlog.Warn("ws event flush failed", "session", sess.Name, "error", err)
				return
			}
			pending = pending[:0]
		case <-shutdownCh:
			_ = conn.Close(websocket.StatusGoingAway, "server shutting down")
			return
		case <-ctx.Done():
			return
		}
	}
}

// pumpEvents translates the VT event subscription into JSON-ready values
// (events the caller asked for, plus lag markers), closing recvCh once the
// subscription ends.
func pumpEvents(ctx context.Context, sub interface {
	Recv(context.Context) (vterm.Event, uint64, error)
}, wanted map[string]bool, recvCh chan<- any) {
	defer close(recvCh)
	for {
		ev, lag, err := sub.Recv(ctx)
		if err != nil {
			return
		}
		var item any
		if lag > 0 {
			item = laggedMarker{Lagged: lag}
		} else if eventWanted(wanted, ev) {
			item = ev
		} else {
			continue
		}
		select {
		case recvCh <- item:
		case <-ctx.Done():
			return
		}
	}
}

func eventWanted(wanted map[string]bool, ev vterm.Event) bool {
	if len(wanted) == 0 {
		return true
	}
	switch ev.Kind {
	case vterm.EventLine:
		return wanted["lines"]
	case vterm.EventCursor:
		return wanted["cursor"]
	case vterm.EventMode:
		return wanted["mode"]
	case vterm.EventDiff:
		return wanted["diffs"]
	default:
		return true
	}
}

func flushEvents(ctx context.Context, conn *websocket.Conn, events []any) error {
	for _, ev := range events {
		data, err := json.Marshal(ev)
		if err != nil {
			continue
		}
		if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
			return err
		}
	}
	return nil
}
