// Package shutdown coordinates graceful teardown across blocking readers,
// async tasks, and WebSocket connections: a signal that shutdown has
// started, and a gate that only opens once every outstanding connection has
// closed.
package shutdown

import (
	"context"
	"sync"
)

// Coordinator is a signal bool plus an exact connection-count gate.
// Construct with New; the zero value has no channels and is not usable.
type Coordinator struct {
	mu       sync.Mutex
	signaled bool
	signalCh chan struct{}

	active    int
	allClosed chan struct{}
}

// New returns a ready Coordinator.
func New() *Coordinator {
	return &Coordinator{
		signalCh:  make(chan struct{}),
		allClosed: make(chan struct{}),
	}
}

// Register increments the active-connection count and returns a guard plus
// a channel that is closed exactly once, when Shutdown is called. Callers
// must arrange for the guard to be released on every exit path (defer
// guard.Release()), including panics, or the count leaks.
func (c *Coordinator) Register() (*ConnectionGuard, <-chan struct{}) {
	c.mu.Lock()
	c.active++
	c.mu.Unlock()
	return &ConnectionGuard{c: c}, c.signalCh
}

// Shutdown signals that the process is tearing down. Monotonic: once
// signaled, it stays signaled, and repeated calls are no-ops.
func (c *Coordinator) Shutdown() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.signaled {
		return
	}
	c.signaled = true
	close(c.signalCh)
}

// ActiveCount returns the current number of registered, un-released
// connections.
func (c *Coordinator) ActiveCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active
}

// WaitForAllClosed blocks until the active-connection count reaches zero.
// Called with count already at zero, it returns immediately.
func (c *Coordinator) WaitForAllClosed(ctx context.Context) error {
	for {
		c.mu.Lock()
		if c.active == 0 {
			c.mu.Unlock()
			return nil
		}
		ch := c.allClosed
		c.mu.Unlock()

		select {
		case <-ch:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// ConnectionGuard represents one registered connection. Release must be
// called exactly once per guard; subsequent calls are no-ops so a deferred
// Release is always safe even after an explicit early release.
type ConnectionGuard struct {
	c    *Coordinator
	once sync.Once
}

// Release decrements the active-connection count. If this is the last
// outstanding connection, it wakes every WaitForAllClosed waiter.
func (g *ConnectionGuard) Release() {
	g.once.Do(func() {
		c := g.c
		c.mu.Lock()
		c.active--
		zero := c.active == 0
		var old chan struct{}
		if zero {
			old = c.allClosed
			c.allClosed = make(chan struct{})
		}
		c.mu.Unlock()
		if zero {
			close(old)
		}
	})
}
