package broker

import (
	"context"
	"testing"
	"time"
)

func TestPublishWithNoSubscribersIsNoop(t *testing.T) {
	b := New(4)
	b.Publish([]byte("hello")) // must not block or panic
}

func TestSubscribeDeliversInOrder(t *testing.T) {
	b := New(4)
	sub := b.Subscribe()

	b.Publish([]byte("a"))
	b.Publish([]byte("b"))

	ctx := context.Background()
	data, lag, err := sub.Recv(ctx)
	if err != nil || lag != 0 || string(data) != "a" {
		t.Fatalf("got (%q, %d, %v), want (a, 0, nil)", data, lag, err)
	}
	data, lag, err = sub.Recv(ctx)
	if err != nil || lag != 0 || string(data) != "b" {
		t.Fatalf("got (%q, %d, %v), want (b, 0, nil)", data, lag, err)
	}
}

func TestSlowSubscriberLagsExactlyOnce(t *testing.T) {
	b := New(2)
	sub := b.Subscribe()

	for i := 0; i < 5; i++ {
		b.Publish([]byte{byte('0' + i)})
	}

	ctx := context.Background()
	_, lag, err := sub.Recv(ctx)
	if err != nil || lag == 0 {
		t.Fatalf("expected a lag report, got lag=%d err=%v", lag, err)
	}
	if lag != 3 {
		t.Fatalf("lag = %d, want 3", lag)
	}

	// Subsequent receives must resume cleanly with no further lag.
	_, lag, err = sub.Recv(ctx)
	if err != nil || lag != 0 {
		t.Fatalf("expected clean resume, got lag=%d err=%v", lag, err)
	}
}

func TestRecvBlocksUntilPublish(t *testing.T) {
	b := New(4)
	sub := b.Subscribe()

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _, err := sub.Recv(context.Background())
		if err != nil {
			t.Errorf("Recv: %v", err)
		}
	}()

	select {
	case <-done:
		t.Fatal("Recv returned before any publish")
	case <-time.After(50 * time.Millisecond):
	}

	b.Publish([]byte("x"))

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Recv did not unblock after publish")
	}
}

func TestCloseUnblocksSubscribers(t *testing.T) {
	b := New(4)
	sub := b.Subscribe()

	errCh := make(chan error, 1)
	go func() {
		_, _, err := sub.Recv(context.Background())
		errCh <- err
	}()

	time.Sleep(20 * time.Millisecond)
	b.Close()

	select {
	case err := <-errCh:
		if err != ErrClosed {
			t.Fatalf("err = %v, want ErrClosed", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Recv did not unblock after Close")
	}
}
