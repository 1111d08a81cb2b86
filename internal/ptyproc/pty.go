// Package ptyproc owns the lifecycle of the child shell's pseudo-terminal:
// spawning, resizing, and handing out its single-use reader/writer/child
// handles.
package ptyproc

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"

	"github.com/creack/pty"
)

// Error is a distinct failure category, matching the PTY error taxonomy:
// open, spawn, clone, resize, and wait each fail independently.
type Error struct {
	Op  string
	Err error
}

func (e *Error) Error() string { return fmt.Sprintf("pty: %s: %v", e.Op, e.Err) }
func (e *Error) Unwrap() error { return e.Err }

// Pty is a master/slave pseudo-terminal pair plus the child process
// attached to the slave end. The reader, writer, and child handles are each
// single-use: a second Take call on any of them returns false/nil.
type Pty struct {
	ptmx *os.File
	cmd  *exec.Cmd

	readerOnce sync.Once
	writerOnce sync.Once
	childOnce  sync.Once
}

// Spawn starts command under a new PTY sized rows x cols. It inherits the
// environment, forcing TERM=xterm-256color unless already set, and
// replaces the command's argv with an explicit "-i" flag so that the shell
// takes the interactive path even though PTY presence alone doesn't
// guarantee that.
func Spawn(rows, cols int, command string) (*Pty, error) {
	if command == "" {
		command = os.Getenv("SHELL")
	}
	if command == "" {
		command = "/bin/sh"
	}

	cmd := exec.Command(command, "-i")
	cmd.Env = os.Environ()
	if os.Getenv("TERM") == "" {
		cmd.Env = append(cmd.Env, "TERM=xterm-256color")
	}

	ptmx, err := pty.StartWithSize(cmd, &pty.Winsize{
		Rows: uint16(rows),
		Cols: uint16(cols),
	})
	if err != nil {
		return nil, &Error{Op: "spawn", Err: err}
	}

	return &Pty{ptmx: ptmx, cmd: cmd}, nil
}

// TakeReader hands out the PTY's read half. Only the first call succeeds;
// subsequent calls return (nil, false).
func (p *Pty) TakeReader() (io.Reader, bool) {
	ok := false
	p.readerOnce.Do(func() { ok = true })
	if !ok {
		return nil, false
	}
	return p.ptmx, true
}

// TakeWriter hands out the PTY's write half. Only the first call succeeds.
func (p *Pty) TakeWriter() (io.Writer, bool) {
	ok := false
	p.writerOnce.Do(func() { ok = true })
	if !ok {
		return nil, false
	}
	return p.ptmx, true
}

// TakeChild hands out the child process handle. Idempotent-by-absence: a
// second call returns (nil, false) rather than erroring.
func (p *Pty) TakeChild() (*os.Process, bool) {
	ok := false
	p.childOnce.Do(func() { ok = true })
	if !ok || p.cmd.Process == nil {
		return nil, false
	}
	return p.cmd.Process, true
}

// Resize changes the PTY's window size.
func (p *Pty) Resize(rows, cols int) error {
	if err := pty.Setsize(p.ptmx, &pty.Winsize{Rows: uint16(rows), Cols: uint16(cols)}); err != nil {
		return &Error{Op: "resize", Err: err}
	}
	return nil
}

// Wait blocks until the child exits and returns its exit code. It must be
// called from a dedicated goroutine: exec.Cmd.Wait blocks on a real
// syscall.
func (p *Pty) Wait() (int, error) {
	err := p.cmd.Wait()
	if err == nil {
		return 0, nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode(), nil
	}
	return -1, &Error{Op: "wait", Err: err}
}

// Close releases the PTY master file descriptor. It does not kill the
// child; callers that need that send a signal to the handle from TakeChild
// first.
func (p *Pty) Close() error {
	return p.ptmx.Close()
}
