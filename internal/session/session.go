// Package session assembles the PTY, broker, VT engine, activity tracker,
// input mode, and shutdown coordinator into the single data-plane object a
// daemon instance (standalone or server mode) actually runs.
package session

import (
	"context"
	"errors"
	"io"
	"sync"
	"time"

	"github.com/jacoblasky/wsh/internal/activity"
	"github.com/jacoblasky/wsh/internal/broker"
	"github.com/jacoblasky/wsh/internal/inputmode"
	"github.com/jacoblasky/wsh/internal/ptyproc"
	"github.com/jacoblasky/wsh/internal/shutdown"
	"github.com/jacoblasky/wsh/internal/vterm"
	"github.com/jacoblasky/wsh/internal/wshlog"
)

// inputQueueCapacity is the bounded input channel's capacity.
const inputQueueCapacity = 64

// ErrClosed is returned by SendInput once the session has torn down.
var ErrClosed = errors.New("session: closed")

// Config describes a session to create. LocalOutput is nil in server mode,
// where no controlling terminal is attached.
type Config struct {
	Name            string
	Rows, Cols      int
	Command         string
	ScrollbackLimit int
	LocalOutput     io.Writer
}

// Session is the top-level aggregate: a name, a PTY, the VT engine, the
// broker, the activity tracker, the input-mode flag, the shutdown
// coordinator, and the bounded input channel that feeds the PTY.
type Session struct {
	Name string

	Broker      *broker.Broker
	StdinMirror *broker.Broker
	Engine      *vterm.Engine
	Activity    *activity.Tracker
	InputMode   *inputmode.InputMode
	Shutdown    *shutdown.Coordinator

	pty      *ptyproc.Pty
	inputCh  chan []byte
	localOut io.Writer

	mu   sync.Mutex
	rows int
	cols int

	done     chan struct{}
	pumpDone chan struct{}
	closeOne sync.Once
}

// New spawns the PTY and starts the output pump and input pump. The
// returned Session owns the PTY for its lifetime.
func New(cfg Config) (*Session, error) {
	p, err := ptyproc.Spawn(cfg.Rows, cfg.Cols, cfg.Command)
	if err != nil {
		return nil, err
	}

	reader, ok := p.TakeReader()
	if !ok {
		return nil, errors.New("session: PTY reader already taken")
	}
	writer, ok := p.TakeWriter()
	if !ok {
		return nil, errors.New("session: PTY writer already taken")
	}

	s := &Session{
		Name:        cfg.Name,
		Broker:      broker.New(broker.Capacity),
		StdinMirror: broker.New(broker.Capacity),
		Engine:      vterm.NewEngine(cfg.Cols, cfg.Rows, cfg.ScrollbackLimit),
		Activity:    activity.New(),
		InputMode:   &inputmode.InputMode{},
		Shutdown:    shutdown.New(),
		pty:         p,
		inputCh:     make(chan []byte, inputQueueCapacity),
		localOut:    cfg.LocalOutput,
		rows:        cfg.Rows,
		cols:        cfg.Cols,
		done:        make(chan struct{}),
		pumpDone:    make(chan struct{}),
	}

	go s.runOutputPump(reader)
	go s.runInputPump(writer)

	return s, nil
}

// Wait blocks until the child shell exits, returning its exit code. It must
// be called from a dedicated goroutine: it blocks on a real wait4 syscall.
func (s *Session) Wait() (int, error) {
	return s.pty.Wait()
}

// Size returns the last-known outer terminal size.
func (s *Session) Size() (rows, cols int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rows, s.cols
}

// Resize propagates a new size to the PTY and the VT engine. The PTY is
// resized first, then the engine is told, so a client that immediately
// queries Screen after Resize sees the new size; see the design note on the
// open question of PTY-vs-engine resize ordering.
func (s *Session) Resize(ctx context.Context, rows, cols int) error {
	if err := s.pty.Resize(rows, cols); err != nil {
		return err
	}
	s.mu.Lock()
	s.rows, s.cols = rows, cols
	s.mu.Unlock()
	return s.Engine.Resize(ctx, cols, rows)
}

// SendInput enqueues data onto the bounded input channel unconditionally;
// used by remote producers (HTTP, WebSocket) that are not subject to the
// capture/passthrough gate.
func (s *Session) SendInput(data []byte) error {
	select {
	case s.inputCh <- data:
		return nil
	case <-s.done:
		return ErrClosed
	}
}

// FeedLocalKeystrokes is the local-stdin producer's entry point. It strips
// and acts on a Ctrl+\ (0x1C) toggle byte, always mirrors the remaining
// bytes to stdin-mirror subscribers, and forwards them to the PTY only
// while the input mode is Passthrough.
func (s *Session) FeedLocalKeystrokes(data []byte) error {
	stripped := make([]byte, 0, len(data))
	for _, b := range data {
		if b == 0x1C {
			s.InputMode.Toggle()
			continue
		}
		stripped = append(stripped, b)
	}
	if len(stripped) == 0 {
		return nil
	}

	s.StdinMirror.Publish(stripped)

	if !s.InputMode.IsCapture() {
		return s.SendInput(stripped)
	}
	return nil
}

// SetScrollbackLimit updates the line limit the VT engine retains for
// scrolled-off rows. It takes effect the next time the engine's emulator
// incarnation restarts after a recovered parser panic; a hard reset does not
// apply it, and the live ring buffer already sized for the previous limit is
// not resized in place.
func (s *Session) SetScrollbackLimit(n int) {
	s.Engine.SetScrollbackLimit(n)
}

// SetQuiescenceDefault updates the duration WaitForDefaultQuiescence blocks
// for when a caller doesn't supply an explicit timeout.
func (s *Session) SetQuiescenceDefault(d time.Duration) {
	s.Activity.SetDefaultQuiescence(d)
}

// Close tears down the session. It signals s.done (ending the input pump
// and any blocked SendInput), closes the PTY master (which unblocks the
// output pump's PTY read, if it's blocked there), and waits for the output
// pump to actually exit before touching the broker and stdin mirror. The
// output pump — and only the output pump — closes the VT engine's feed
// channel, in its own exit path, after its read loop has permanently
// stopped sending; that ordering is what keeps Close from racing a send on
// a closed channel. It is safe to call more than once, including
// concurrently from the output pump's own exit path.
func (s *Session) Close() error {
	var err error
	s.closeOne.Do(func() {
		close(s.done)
		err = s.pty.Close()
		<-s.pumpDone
		s.Broker.Close()
		s.StdinMirror.Close()
	})
	return err
}

// runOutputPump reads PTY output and, in order, writes it locally,
// publishes it to the broker, feeds the VT engine (blocking send — losing
// these bytes would desynchronize server-side state forever), and touches
// the activity tracker. It exits on EOF or read error, which ends the
// session. Its deferred cleanup is the sole caller of Engine.Close: by the
// time it runs, this goroutine — the feed channel's only writer — is
// guaranteed to never send again, so closing the channel here cannot race a
// concurrent send the way closing it from Session.Close (a different
// goroutine) could.
func (s *Session) runOutputPump(r io.Reader) {
	defer func() {
		s.Engine.Close()
		close(s.pumpDone)
	}()
	buf := make([]byte, 4096)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			chunk := append([]byte(nil), buf[:n]...)
			s.writeLocal(chunk)
			s.Broker.Publish(chunk)
			s.Engine.FeedCh() <- chunk
			s.Activity.Touch()
		}
		if err != nil {
			if err != io.EOF {
				wshlog.Warn("pty read error", "session", s.Name, "error", err)
			}
			// Close blocks on <-s.pumpDone, which only closes after this
			// deferred cleanup runs; calling it synchronously from this
			// goroutine would deadlock, so the rest of the session's
			// teardown is kicked off asynchronously instead.
			go func() { _ = s.Close() }()
			return
		}
	}
}

func (s *Session) writeLocal(chunk []byte) {
	if s.localOut == nil {
		return
	}
	if _, err := s.localOut.Write(chunk); err != nil {
		wshlog.Warn("local stdout write failed", "session", s.Name, "error", err)
		return
	}
	if f, ok := s.localOut.(interface{ Flush() error }); ok {
		_ = f.Flush()
	}
}

// runInputPump consumes the bounded input channel and writes each chunk to
// the PTY. It exits when the session closes or a write fails.
func (s *Session) runInputPump(w io.Writer) {
	for {
		select {
		case chunk := <-s.inputCh:
			if _, err := w.Write(chunk); err != nil {
				wshlog.Warn("pty write error", "session", s.Name, "error", err)
				return
			}
			if f, ok := w.(interface{ Flush() error }); ok {
				_ = f.Flush()
			}
		case <-s.done:
			return
		}
	}
}
