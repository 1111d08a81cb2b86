package vterm

import (
	"context"
	"fmt"
	"testing"
	"time"
)

func feedAndWait(t *testing.T, e *Engine, data []byte) {
	t.Helper()
	select {
	case e.FeedCh() <- data:
	case <-time.After(time.Second):
		t.Fatal("feed channel did not accept data")
	}
}

func TestScreenTotalLinesAccounting(t *testing.T) {
	e := NewEngine(80, 5, 100)
	defer e.Close()

	for i := 0; i < 10; i++ {
		feedAndWait(t, e, []byte(fmt.Sprintf("Line %d\r\n", i)))
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	screen, err := e.Screen(ctx, false)
	if err != nil {
		t.Fatalf("Screen: %v", err)
	}
	if screen.TotalLines != screen.FirstLineIndex+screen.Rows {
		t.Errorf("total_lines=%d != first_line_index=%d + rows=%d", screen.TotalLines, screen.FirstLineIndex, screen.Rows)
	}
	if screen.TotalLines < 10 {
		t.Errorf("total_lines=%d, want >= 10", screen.TotalLines)
	}

	sb, err := e.Scrollback(ctx, false, 0, 0)
	if err != nil {
		t.Fatalf("Scrollback: %v", err)
	}
	if sb.TotalLines != screen.TotalLines {
		t.Errorf("scrollback total=%d, screen total=%d, want equal", sb.TotalLines, screen.TotalLines)
	}
}

func TestAlternateScreenPreservesScrollback(t *testing.T) {
	e := NewEngine(80, 5, 100)
	defer e.Close()

	for i := 0; i < 10; i++ {
		feedAndWait(t, e, []byte(fmt.Sprintf("Line %d\r\n", i)))
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	before, err := e.Scrollback(ctx, false, 0, 0)
	if err != nil {
		t.Fatalf("Scrollback before: %v", err)
	}

	feedAndWait(t, e, []byte("\x1b[?1049h"))
	feedAndWait(t, e, []byte("\x1b[?1049l"))

	after, err := e.Scrollback(ctx, false, 0, 0)
	if err != nil {
		t.Fatalf("Scrollback after: %v", err)
	}
	if before.TotalLines != after.TotalLines {
		t.Errorf("scrollback line count changed across alt-screen: %d -> %d", before.TotalLines, after.TotalLines)
	}
}

func TestResizeEmitsResetEvent(t *testing.T) {
	e := NewEngine(80, 24, 100)
	defer e.Close()

	sub := e.Events()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	if err := e.Resize(ctx, 100, 30); err != nil {
		t.Fatalf("Resize: %v", err)
	}

	found := false
	for i := 0; i < 20; i++ {
		ev, _, err := sub.Recv(ctx)
		if err != nil {
			break
		}
		if ev.Kind == EventReset && ev.Reason == ResetResize {
			found = true
			break
		}
	}
	if !found {
		t.Error("expected a Reset{reason=resize} event after Resize")
	}

	screen, err := e.Screen(ctx, false)
	if err != nil {
		t.Fatalf("Screen: %v", err)
	}
	if screen.Cols != 100 || screen.Rows != 30 {
		t.Errorf("Screen size = %dx%d, want 100x30", screen.Cols, screen.Rows)
	}
}

func TestEventSeqMonotonicWithinEpoch(t *testing.T) {
	e := NewEngine(80, 24, 100)
	defer e.Close()

	sub := e.Events()
	for i := 0; i < 5; i++ {
		feedAndWait(t, e, []byte(fmt.Sprintf("row %d\r\n", i)))
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	var lastSeq uint64
	seen := 0
	for seen < 3 {
		ev, lag, err := sub.Recv(ctx)
		if err != nil {
			t.Fatalf("Recv: %v", err)
		}
		if lag > 0 {
			continue
		}
		if ev.Seq <= lastSeq && seen > 0 {
			t.Errorf("seq did not strictly increase: %d -> %d", lastSeq, ev.Seq)
		}
		lastSeq = ev.Seq
		seen++
	}
}

func TestCursorQuery(t *testing.T) {
	e := NewEngine(80, 24, 100)
	defer e.Close()

	feedAndWait(t, e, []byte("hello"))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	cur, err := e.Cursor(ctx)
	if err != nil {
		t.Fatalf("Cursor: %v", err)
	}
	if cur.Col != 5 {
		t.Errorf("cursor col = %d, want 5 after writing \"hello\"", cur.Col)
	}
}
