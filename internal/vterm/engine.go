// Package vterm wires a charmbracelet/x/vt terminal emulator into the
// session's data plane: a single-owner task fed serially by the output
// pump, answering bounded queries, and emitting a typed event stream with
// panic-supervised restart.
package vterm

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"time"

	uv "github.com/charmbracelet/ultraviolet"
	"github.com/charmbracelet/x/vt"

	"github.com/jacoblasky/wsh/internal/wshlog"
)

// QueryTimeout bounds every query end-to-end.
const QueryTimeout = 5 * time.Second

// ErrQueryTimeout is returned when a query doesn't complete within
// QueryTimeout.
var ErrQueryTimeout = errors.New("vterm: query timed out")

// CursorPos is a cursor snapshot.
type CursorPos struct {
	Row, Col int
	Visible  bool
}

// Screen answers the Screen query: the visible grid plus positioning and
// scrollback accounting.
type Screen struct {
	Lines           []FormattedLine
	Cursor          CursorPos
	Cols, Rows      int
	AlternateActive bool
	TotalLines      int
	FirstLineIndex  int
}

// ScrollbackResult answers the Scrollback query: a page of history-plus-
// visible lines.
type ScrollbackResult struct {
	Lines      []FormattedLine
	TotalLines int
}

type queryKind int

const (
	queryScreen queryKind = iota
	queryScrollback
	queryCursor
	queryResize
)

type queryRequest struct {
	kind          queryKind
	styled        bool
	offset, limit int
	cols, rows    int
	reply         chan queryResponse
}

type queryResponse struct {
	screen     Screen
	scrollback ScrollbackResult
	cursor     CursorPos
	err        error
}

// Engine owns the emulator and exposes the feed/query/event surface. The
// emulator itself is only ever touched from the supervised feed goroutine;
// everything else talks to it through channels.
type Engine struct {
	feedCh chan []byte
	queryCh chan queryRequest
	events  *eventBus

	scrollbackLimit atomic.Int64
}

// NewEngine starts the supervised feed loop and returns an Engine sized
// cols x rows, retaining up to scrollbackLimit scrolled-off lines.
func NewEngine(cols, rows, scrollbackLimit int) *Engine {
	if scrollbackLimit <= 0 {
		scrollbackLimit = 10000
	}
	e := &Engine{
		feedCh:  make(chan []byte, 256),
		queryCh: make(chan queryRequest),
		events:  newEventBus(),
	}
	e.scrollbackLimit.Store(int64(scrollbackLimit))
	go e.supervise(cols, rows)
	return e
}

// SetScrollbackLimit updates the limit applied the next time the emulator
// incarnation restarts, which happens only after the supervisor recovers a
// panic; a hard reset (ESC c) does not start a new incarnation. A
// non-positive value is ignored.
func (e *Engine) SetScrollbackLimit(n int) {
	if n <= 0 {
		return
	}
	e.scrollbackLimit.Store(int64(n))
}

// FeedCh returns the channel the output pump sends raw PTY bytes into. The
// send must be a blocking send (capacity 256): losing bytes here would
// desynchronize server-side state from the real terminal forever, unlike
// the broker's lossy broadcast.
func (e *Engine) FeedCh() chan<- []byte {
	return e.feedCh
}

// Events returns a fresh subscription to the event stream.
func (e *Engine) Events() *eventSub {
	return e.events.subscribe()
}

// Close stops the feed loop and the event bus.
func (e *Engine) Close() {
	close(e.feedCh)
	e.events.close()
}

func (e *Engine) supervise(cols, rows int) {
	epoch := uint64(0)
	for {
		st := newFeedState(cols, rows, int(e.scrollbackLimit.Load()))
		shutdown := e.runGuarded(st, epoch)
		cols, rows = st.cols, st.rows
		if shutdown {
			return
		}
		epoch++
		wshlog.Warn("vt engine restarted", "epoch", epoch)
		e.events.publish(Event{Kind: EventReset, Epoch: epoch, Seq: 0, Reason: ResetParserRestart})
	}
}

// runGuarded runs one emulator incarnation, recovering from any panic in
// its inner loop. The events and query channels are owned by Engine, not by
// feedState, so they outlive a panic and restart cleanly.
func (e *Engine) runGuarded(st *feedState, epoch uint64) (shutdown bool) {
	defer func() {
		if r := recover(); r != nil {
			wshlog.Error("vt engine panic", "error", r, "epoch", epoch)
			shutdown = false
		}
	}()
	shutdown = st.run(e.feedCh, e.queryCh, epoch, e.events)
	return
}

func (e *Engine) query(ctx context.Context, req queryRequest) (queryResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, QueryTimeout)
	defer cancel()

	req.reply = make(chan queryResponse, 1)
	select {
	case e.queryCh <- req:
	case <-ctx.Done():
		return queryResponse{}, ErrQueryTimeout
	}
	select {
	case resp := <-req.reply:
		return resp, resp.err
	case <-ctx.Done():
		return queryResponse{}, ErrQueryTimeout
	}
}

// Screen returns the visible grid, cursor, and scrollback accounting.
func (e *Engine) Screen(ctx context.Context, styled bool) (Screen, error) {
	resp, err := e.query(ctx, queryRequest{kind: queryScreen, styled: styled})
	return resp.screen, err
}

// Scrollback returns a page of history-plus-visible lines.
func (e *Engine) Scrollback(ctx context.Context, styled bool, offset, limit int) (ScrollbackResult, error) {
	resp, err := e.query(ctx, queryRequest{kind: queryScrollback, styled: styled, offset: offset, limit: limit})
	return resp.scrollback, err
}

// Cursor returns just the cursor position.
func (e *Engine) Cursor(ctx context.Context) (CursorPos, error) {
	resp, err := e.query(ctx, queryRequest{kind: queryCursor})
	return resp.cursor, err
}

// Resize mutates the grid and re-emits Reset{reason=resize}.
func (e *Engine) Resize(ctx context.Context, cols, rows int) error {
	_, err := e.query(ctx, queryRequest{kind: queryResize, cols: cols, rows: rows})
	return err
}

// feedState is the emulator incarnation's private state. It is only ever
// touched from the goroutine running feedState.run.
type feedState struct {
	emu *vt.Emulator

	cols, rows   int
	altScreen    bool
	cursorHidden bool

	rowCache []string
	seq      uint64

	scrollback []string
	sbHead     int
	sbLen      int
}

func newFeedState(cols, rows, scrollbackLimit int) *feedState {
	st := &feedState{
		cols:       cols,
		rows:       rows,
		rowCache:   make([]string, rows),
		scrollback: make([]string, scrollbackLimit),
	}
	st.emu = vt.NewEmulator(cols, rows)
	st.emu.SetCallbacks(vt.Callbacks{
		ScrollOut: func(lines []uv.Line) {
			if st.altScreen {
				return
			}
			for _, line := range lines {
				st.pushScrollback(line.Render())
			}
		},
		ScrollbackClear: func() {
			for i := range st.scrollback {
				st.scrollback[i] = ""
			}
			st.sbHead, st.sbLen = 0, 0
		},
		AltScreen: func(on bool) {
			st.altScreen = on
		},
		CursorVisibility: func(visible bool) {
			st.cursorHidden = !visible
		},
	})
	return st
}

func (st *feedState) pushScrollback(rendered string) {
	if st.sbLen == len(st.scrollback) {
		st.scrollback[st.sbHead] = ""
	}
	st.scrollback[st.sbHead] = rendered
	st.sbHead = (st.sbHead + 1) % len(st.scrollback)
	if st.sbLen < len(st.scrollback) {
		st.sbLen++
	}
}

func (st *feedState) scrollbackLines() []string {
	if st.sbLen == 0 {
		return nil
	}
	lines := make([]string, st.sbLen)
	start := (st.sbHead - st.sbLen + len(st.scrollback)) % len(st.scrollback)
	for i := 0; i < st.sbLen; i++ {
		lines[i] = st.scrollback[(start+i)%len(st.scrollback)]
	}
	return lines
}

func (st *feedState) cursorPos() CursorPos {
	pos := st.emu.CursorPosition()
	return CursorPos{Row: pos.Y, Col: pos.X, Visible: !st.cursorHidden}
}

func (st *feedState) totalLines() int   { return st.sbLen + st.rows }
func (st *feedState) firstLineIndex() int { return st.totalLines() - st.rows }

// run drains the feed channel and interleaves queries; it returns true only
// when feedCh is closed (orderly shutdown). Any panic propagates to the
// caller, which supervises and restarts.
func (st *feedState) run(feedCh <-chan []byte, queryCh <-chan queryRequest, epoch uint64, events *eventBus) bool {
	defer st.emu.Close()
	for {
		select {
		case data, ok := <-feedCh:
			if !ok {
				return true
			}
			st.feed(data, epoch, events)
		case q := <-queryCh:
			st.handleQuery(q, epoch, events)
		}
	}
}

func (st *feedState) feed(data []byte, epoch uint64, events *eventBus) {
	prevAlt := st.altScreen
	prevCursor := st.cursorPos()

	st.emu.Write(data)

	if hardReset, clearScreen := scanResetSignals(data); hardReset {
		st.seq++
		events.publish(Event{Kind: EventReset, Epoch: epoch, Seq: st.seq, Reason: ResetHardReset})
	} else if clearScreen {
		st.seq++
		events.publish(Event{Kind: EventReset, Epoch: epoch, Seq: st.seq, Reason: ResetClearScreen})
	}

	newRows := splitRows(st.emu.Render(), st.rows)
	for i := 0; i < len(newRows); i++ {
		if i >= len(st.rowCache) || st.rowCache[i] != newRows[i] {
			line := FormatLine(newRows[i], false)
			st.seq++
			events.publish(Event{
				Kind: EventLine, Epoch: epoch, Seq: st.seq,
				Index: i, Line: &line, TotalLines: st.totalLines(),
			})
		}
	}
	st.rowCache = newRows

	if cur := st.cursorPos(); cur != prevCursor {
		st.seq++
		events.publish(Event{
			Kind: EventCursor, Epoch: epoch, Seq: st.seq,
			Row: cur.Row, Col: cur.Col, Visible: cur.Visible,
		})
	}

	if st.altScreen != prevAlt {
		st.seq++
		events.publish(Event{Kind: EventMode, Epoch: epoch, Seq: st.seq, AlternateActive: st.altScreen})
		reason := ResetAlternateScreenExit
		if st.altScreen {
			reason = ResetAlternateScreenEnter
		}
		st.seq++
		events.publish(Event{Kind: EventReset, Epoch: epoch, Seq: st.seq, Reason: reason})
	}
}

func (st *feedState) handleQuery(q queryRequest, epoch uint64, events *eventBus) {
	switch q.kind {
	case queryScreen:
		q.reply <- queryResponse{screen: st.buildScreen(q.styled)}
	case queryScrollback:
		q.reply <- queryResponse{scrollback: st.buildScrollback(q.styled, q.offset, q.limit)}
	case queryCursor:
		q.reply <- queryResponse{cursor: st.cursorPos()}
	case queryResize:
		st.emu.Resize(q.cols, q.rows)
		st.cols, st.rows = q.cols, q.rows
		st.rowCache = splitRows(st.emu.Render(), st.rows)
		st.seq++
		events.publish(Event{Kind: EventReset, Epoch: epoch, Seq: st.seq, Reason: ResetResize})
		q.reply <- queryResponse{}
	}
}

func (st *feedState) buildScreen(styled bool) Screen {
	lines := make([]FormattedLine, len(st.rowCache))
	for i, raw := range st.rowCache {
		lines[i] = FormatLine(raw, styled)
	}
	return Screen{
		Lines:           lines,
		Cursor:          st.cursorPos(),
		Cols:            st.cols,
		Rows:            st.rows,
		AlternateActive: st.altScreen,
		TotalLines:      st.totalLines(),
		FirstLineIndex:  st.firstLineIndex(),
	}
}

func (st *feedState) buildScrollback(styled bool, offset, limit int) ScrollbackResult {
	all := append(st.scrollbackLines(), st.rowCache...)
	total := len(all)
	if offset > total {
		offset = total
	}
	end := offset + limit
	if limit <= 0 || end > total {
		end = total
	}
	page := all[offset:end]
	lines := make([]FormattedLine, len(page))
	for i, raw := range page {
		lines[i] = FormatLine(raw, styled)
	}
	return ScrollbackResult{Lines: lines, TotalLines: total}
}

// splitRows recovers per-row strings from a whole-grid ANSI repaint. Rows
// are conventionally separated by CRLF in a top-to-bottom repaint; this is
// the one place the engine infers structure the emulator library doesn't
// expose directly (it only hands back scrolled-off rows individually via
// the ScrollOut callback).
func splitRows(rendered string, rows int) []string {
	var parts []string
	if strings.Contains(rendered, "\r\n") {
		parts = strings.Split(rendered, "\r\n")
	} else {
		parts = strings.Split(rendered, "\n")
	}
	out := make([]string, rows)
	for i := 0; i < rows && i < len(parts); i++ {
		out[i] = parts[i]
	}
	return out
}

// scanResetSignals looks for a hard reset (ESC c) or a full clear-screen
// (CSI 2J / CSI 3J) in a raw PTY chunk.
func scanResetSignals(data []byte) (hardReset, clearScreen bool) {
	for i := 0; i < len(data); i++ {
		if data[i] != 0x1b || i+1 >= len(data) {
			continue
		}
		if data[i+1] == 'c' {
			hardReset = true
			continue
		}
		if data[i+1] != '[' {
			continue
		}
		j := i + 2
		for j < len(data) && data[j] >= '0' && data[j] <= '9' {
			j++
		}
		if j < len(data) && data[j] == 'J' && j > i+2 {
			digits := string(data[i+2 : j])
			if digits == "2" || digits == "3" {
				clearScreen = true
			}
		}
	}
	return
}
