// Package broker implements the bounded, lossy broadcast of raw PTY output
// to N subscribers (WebSocket/HTTP streams). Publish never blocks and never
// fails; subscribers that fall behind the ring buffer's capacity observe a
// lag marker exactly once, then resume from the new tail.
package broker

import (
	"context"
	"errors"
	"sync"
)

// Capacity is the default ring buffer size. A magic number, tunable per
// deployment.
const Capacity = 64

// ErrClosed is returned by Recv once the broker has been closed and the
// subscriber has drained any remaining buffered chunks.
var ErrClosed = errors.New("broker: closed")

// Broker is a bounded ring buffer of byte chunks shared by all
// subscriptions. The zero value is not usable; construct with New.
type Broker struct {
	mu     sync.Mutex
	buf    [][]byte
	total  uint64 // sequence number of the next chunk to be published
	notify chan struct{}
	closed bool
}

// New creates a Broker with the given ring capacity.
func New(capacity int) *Broker {
	if capacity <= 0 {
		capacity = Capacity
	}
	return &Broker{
		buf:    make([][]byte, capacity),
		notify: make(chan struct{}),
	}
}

// Publish appends a chunk. It never blocks and never fails; with zero
// subscribers this is a no-op beyond bookkeeping.
func (b *Broker) Publish(data []byte) {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.buf[b.total%uint64(len(b.buf))] = data
	b.total++
	old := b.notify
	b.notify = make(chan struct{})
	b.mu.Unlock()
	close(old)
}

// Close shuts the broker down; all blocked and future Recv calls return
// ErrClosed once buffered data is drained.
func (b *Broker) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	old := b.notify
	b.mu.Unlock()
	close(old)
}

// Subscription tracks one subscriber's read position into the Broker's ring.
type Subscription struct {
	b    *Broker
	next uint64
}

// Subscribe returns a Subscription that will observe chunks published from
// this point forward (no backlog replay).
func (b *Broker) Subscribe() *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()
	return &Subscription{b: b, next: b.total}
}

// Recv returns the next chunk in publish order. If this subscriber fell
// behind the ring capacity, lag is the number of chunks skipped and data is
// nil; exactly one such lag report is delivered before normal delivery
// resumes. Recv blocks until data is available, ctx is done, or the broker
// is closed.
func (s *Subscription) Recv(ctx context.Context) (data []byte, lag uint64, err error) {
	for {
		s.b.mu.Lock()
		oldest := uint64(0)
		capacity := uint64(len(s.b.buf))
		if s.b.total > capacity {
			oldest = s.b.total - capacity
		}
		if s.next < oldest {
			lag = oldest - s.next
			s.next = oldest
			s.b.mu.Unlock()
			return nil, lag, nil
		}
		if s.next < s.b.total {
			data = s.b.buf[s.next%capacity]
			s.next++
			s.b.mu.Unlock()
			return data, 0, nil
		}
		if s.b.closed {
			s.b.mu.Unlock()
			return nil, 0, ErrClosed
		}
		ch := s.b.notify
		s.b.mu.Unlock()

		select {
		case <-ch:
		case <-ctx.Done():
			return nil, 0, ctx.Err()
		}
	}
}
