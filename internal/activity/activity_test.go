package activity

import (
	"testing"
	"time"
)

func TestAlreadyQuiescentReturnsImmediately(t *testing.T) {
	tr := New()
	time.Sleep(10 * time.Millisecond)

	start := time.Now()
	tr.WaitForQuiescence(5 * time.Millisecond)
	if elapsed := time.Since(start); elapsed > 10*time.Millisecond {
		t.Errorf("WaitForQuiescence took %v, want near-immediate", elapsed)
	}
}

func TestQuiescenceFiresAfterTimeout(t *testing.T) {
	tr := New()

	start := time.Now()
	tr.WaitForQuiescence(50 * time.Millisecond)
	if elapsed := time.Since(start); elapsed < 50*time.Millisecond {
		t.Errorf("elapsed = %v, want >= 50ms", elapsed)
	}
}

func TestActivityResetsTimer(t *testing.T) {
	tr := New()

	start := time.Now()
	go func() {
		time.Sleep(30 * time.Millisecond)
		tr.Touch()
	}()
	tr.WaitForQuiescence(50 * time.Millisecond)

	if elapsed := time.Since(start); elapsed < 75*time.Millisecond {
		t.Errorf("elapsed = %v, want >= 75ms (30ms touch + 50ms timeout)", elapsed)
	}
}

func TestMultipleConcurrentWaiters(t *testing.T) {
	tr := New()
	done := make(chan time.Duration, 3)

	for i := 0; i < 3; i++ {
		go func() {
			start := time.Now()
			tr.WaitForQuiescence(40 * time.Millisecond)
			done <- time.Since(start)
		}()
	}

	for i := 0; i < 3; i++ {
		select {
		case elapsed := <-done:
			if elapsed < 40*time.Millisecond {
				t.Errorf("waiter returned after %v, want >= 40ms", elapsed)
			}
		case <-time.After(time.Second):
			t.Fatal("waiter never returned")
		}
	}
}
