package ptyproc

import (
	"bufio"
	"strings"
	"testing"
	"time"
)

func TestSpawnWriteReadRoundtrip(t *testing.T) {
	p, err := Spawn(24, 80, "/bin/sh")
	if err != nil {
		t.Fatalf("Spawn: %v", err)
	}
	defer p.Close()

	w, ok := p.TakeWriter()
	if !ok {
		t.Fatal("TakeWriter failed")
	}
	r, ok := p.TakeReader()
	if !ok {
		t.Fatal("TakeReader failed")
	}

	if _, err := w.Write([]byte("echo WSH_TEST_12345\n")); err != nil {
		t.Fatalf("write: %v", err)
	}

	done := make(chan struct{})
	var found bool
	go func() {
		defer close(done)
		sc := bufio.NewScanner(r)
		for sc.Scan() {
			if strings.Contains(sc.Text(), "WSH_TEST_12345") {
				found = true
				return
			}
		}
	}()

	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for echo output")
	}
	if !found {
		t.Fatal("output did not contain marker")
	}
}

func TestTakeReaderWriterChildAtMostOnce(t *testing.T) {
	p, err := Spawn(24, 80, "/bin/sh")
	if err != nil {
		t.Fatalf("Spawn: %v", err)
	}
	defer p.Close()

	if _, ok := p.TakeReader(); !ok {
		t.Fatal("first TakeReader should succeed")
	}
	if _, ok := p.TakeReader(); ok {
		t.Fatal("second TakeReader should fail")
	}

	if _, ok := p.TakeWriter(); !ok {
		t.Fatal("first TakeWriter should succeed")
	}
	if _, ok := p.TakeWriter(); ok {
		t.Fatal("second TakeWriter should fail")
	}

	if _, ok := p.TakeChild(); !ok {
		t.Fatal("first TakeChild should succeed")
	}
	if _, ok := p.TakeChild(); ok {
		t.Fatal("second TakeChild should return false")
	}
}
