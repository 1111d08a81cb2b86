// Package activity tracks the most recent PTY output timestamp and lets
// callers wait for a period of quiescence — a heuristic signal that a
// command has finished producing output.
package activity

import (
	"sync"
	"time"
)

// defaultQuiescenceMS is the built-in default-quiescence duration, used
// until a caller sets one explicitly (typically from loaded config).
const defaultQuiescenceMS = 500

// Tracker holds a single monotonically-updated timestamp. All methods are
// safe to call from any goroutine, including ones doing blocking I/O.
type Tracker struct {
	mu                sync.Mutex
	last              time.Time
	notify            chan struct{}
	defaultQuiescence time.Duration
}

// New returns a Tracker initialized as if touched right now.
func New() *Tracker {
	return &Tracker{
		last:              time.Now(),
		notify:            make(chan struct{}),
		defaultQuiescence: defaultQuiescenceMS * time.Millisecond,
	}
}

// SetDefaultQuiescence updates the duration WaitForDefaultQuiescence uses.
func (t *Tracker) SetDefaultQuiescence(d time.Duration) {
	t.mu.Lock()
	t.defaultQuiescence = d
	t.mu.Unlock()
}

// DefaultQuiescence returns the duration WaitForDefaultQuiescence uses.
func (t *Tracker) DefaultQuiescence() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.defaultQuiescence
}

// WaitForDefaultQuiescence blocks for the currently configured default
// duration; see WaitForQuiescence.
func (t *Tracker) WaitForDefaultQuiescence() {
	t.WaitForQuiescence(t.DefaultQuiescence())
}

// Touch records the current time as the last-output instant.
func (t *Tracker) Touch() {
	t.mu.Lock()
	t.last = time.Now()
	old := t.notify
	t.notify = make(chan struct{})
	t.mu.Unlock()
	close(old)
}

// WaitForQuiescence blocks until timeout has elapsed since the most recent
// Touch. It is race-correct against a Touch landing between the sleep
// completing and the re-check: each wake recomputes the remaining duration
// from the current last-touch instant and loops if a Touch intervened.
func (t *Tracker) WaitForQuiescence(timeout time.Duration) {
	for {
		t.mu.Lock()
		remaining := timeout - time.Since(t.last)
		if remaining <= 0 {
			t.mu.Unlock()
			return
		}
		ch := t.notify
		t.mu.Unlock()

		timer := time.NewTimer(remaining)
		select {
		case <-timer.C:
			// Re-check: no Touch occurred (or one did exactly at the
			// boundary); the loop head recomputes remaining either way.
		case <-ch:
			timer.Stop()
			// A Touch landed mid-wait; loop to recompute from the new
			// last-touch instant.
		}
	}
}
