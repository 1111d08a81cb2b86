// Package termio manages the local controlling terminal: raw mode and size
// detection. Raw mode is a process-wide resource, acquired once at startup.
package termio

import (
	"errors"
	"os"

	"golang.org/x/term"
)

var errNotANumber = errors.New("termio: not a positive integer")

// RawModeGuard holds the terminal state needed to restore the local TTY to
// its original (cooked) mode. Scoped guards do not run on os.Exit: callers
// on a hard-exit path must call Restore explicitly before exiting, or the
// user's shell is left in raw mode. Treat that as a hard invariant.
type RawModeGuard struct {
	fd    int
	state *term.State
}

// Enable puts the given fd (normally os.Stdin.Fd()) into raw mode and
// returns a guard. If fd is not a terminal, Enable returns a no-op guard
// so headless/server-mode invocations don't fail.
func Enable(fd int) (*RawModeGuard, error) {
	if !term.IsTerminal(fd) {
		return &RawModeGuard{fd: fd}, nil
	}
	state, err := term.MakeRaw(fd)
	if err != nil {
		return nil, err
	}
	return &RawModeGuard{fd: fd, state: state}, nil
}

// Restore returns the terminal to its original mode. Safe to call more than
// once; the second call is a no-op.
func (g *RawModeGuard) Restore() error {
	if g == nil || g.state == nil {
		return nil
	}
	err := term.Restore(g.fd, g.state)
	g.state = nil
	return err
}

// Size returns the current (cols, rows) of fd, falling back to the
// LINES/COLUMNS environment variables and finally 80x24 when fd is not a
// terminal or the ioctl fails.
func Size(fd int) (cols, rows int) {
	if term.IsTerminal(fd) {
		if c, r, err := term.GetSize(fd); err == nil {
			return c, r
		}
	}
	cols, rows = 80, 24
	if v := os.Getenv("COLUMNS"); v != "" {
		if n, err := parsePositiveInt(v); err == nil {
			cols = n
		}
	}
	if v := os.Getenv("LINES"); v != "" {
		if n, err := parsePositiveInt(v); err == nil {
			rows = n
		}
	}
	return cols, rows
}

func parsePositiveInt(s string) (int, error) {
	n := 0
	for _, c := range s {
		if c < '0' || c > '9' {
			return 0, errNotANumber
		}
		n = n*10 + int(c-'0')
	}
	if n <= 0 {
		return 0, errNotANumber
	}
	return n, nil
}
