package shutdown

import (
	"context"
	"testing"
	"time"
)

func TestNoConnectionsReturnsImmediately(t *testing.T) {
	c := New()
	start := time.Now()
	if err := c.WaitForAllClosed(context.Background()); err != nil {
		t.Fatalf("WaitForAllClosed: %v", err)
	}
	if elapsed := time.Since(start); elapsed > 10*time.Millisecond {
		t.Errorf("took %v, want near-immediate", elapsed)
	}
}

func TestWaitForConnectionToClose(t *testing.T) {
	c := New()
	guard, _ := c.Register()

	done := make(chan struct{})
	go func() {
		c.WaitForAllClosed(context.Background())
		close(done)
	}()

	select {
	case <-done:
		t.Fatal("WaitForAllClosed returned before guard released")
	case <-time.After(30 * time.Millisecond):
	}

	guard.Release()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("WaitForAllClosed did not return after Release")
	}
}

func TestMultipleConnectionsAllMustRelease(t *testing.T) {
	c := New()
	guards := make([]*ConnectionGuard, 3)
	for i := range guards {
		g, _ := c.Register()
		guards[i] = g
	}
	if got := c.ActiveCount(); got != 3 {
		t.Fatalf("ActiveCount = %d, want 3", got)
	}

	done := make(chan struct{})
	go func() {
		c.WaitForAllClosed(context.Background())
		close(done)
	}()

	for i, g := range guards {
		g.Release()
		if i < len(guards)-1 {
			select {
			case <-done:
				t.Fatalf("WaitForAllClosed returned after only %d releases", i+1)
			case <-time.After(10 * time.Millisecond):
			}
		}
	}

	select {
	case <-done:
	case <-time.After(100 * time.Millisecond):
		t.Fatal("WaitForAllClosed did not return after final Release")
	}
}

func TestGuardReleaseIsIdempotent(t *testing.T) {
	c := New()
	guard, _ := c.Register()
	guard.Release()
	guard.Release()
	guard.Release()
	if got := c.ActiveCount(); got != 0 {
		t.Fatalf("ActiveCount = %d, want 0 (no double-decrement)", got)
	}
}

func TestShutdownSignalReceivedExactlyOnce(t *testing.T) {
	c := New()
	_, sig1 := c.Register()
	_, sig2 := c.Register()

	c.Shutdown()
	c.Shutdown() // monotonic, must not panic on double-close

	select {
	case <-sig1:
	default:
		t.Error("sig1 was not closed after Shutdown")
	}
	select {
	case <-sig2:
	default:
		t.Error("sig2 was not closed after Shutdown")
	}
}
