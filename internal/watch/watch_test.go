package watch

import (
	"context"
	"testing"
	"time"

	"github.com/tugtool/tugcast/internal/codec"
)

func TestCurrentBeforeAnySet(t *testing.T) {
	c := NewCell()
	r := c.Subscribe()
	_, ok := r.Current()
	if ok {
		t.Fatalf("expected no value before any Set")
	}
}

func TestCurrentAfterSet(t *testing.T) {
	c := NewCell()
	c.Set(codec.Frame{FeedID: codec.Git, Payload: []byte("v1")})

	r := c.Subscribe()
	f, ok := r.Current()
	if !ok || string(f.Payload) != "v1" {
		t.Fatalf("Current() = %v, %v", f, ok)
	}
}

func TestChangedCoalesces(t *testing.T) {
	c := NewCell()
	r := c.Subscribe()

	c.Set(codec.Frame{FeedID: codec.Git, Payload: []byte("v1")})
	c.Set(codec.Frame{FeedID: codec.Git, Payload: []byte("v2")})
	c.Set(codec.Frame{FeedID: codec.Git, Payload: []byte("v3")})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	f, err := r.Changed(ctx)
	if err != nil {
		t.Fatalf("Changed() error = %v", err)
	}
	if string(f.Payload) != "v3" {
		t.Fatalf("Changed() = %q, want the latest value %q", f.Payload, "v3")
	}
}

func TestChangedBlocksUntilSet(t *testing.T) {
	c := NewCell()
	r := c.Subscribe()

	done := make(chan codec.Frame, 1)
	go func() {
		f, err := r.Changed(context.Background())
		if err == nil {
			done <- f
		}
	}()

	select {
	case <-done:
		t.Fatalf("Changed() returned before any Set")
	case <-time.After(30 * time.Millisecond):
	}

	c.Set(codec.Frame{FeedID: codec.Stats, Payload: []byte("snapshot")})

	select {
	case f := <-done:
		if string(f.Payload) != "snapshot" {
			t.Fatalf("Changed() = %q", f.Payload)
		}
	case <-time.After(time.Second):
		t.Fatalf("Changed() did not unblock after Set")
	}
}

func TestChangedRespectsContext(t *testing.T) {
	c := NewCell()
	r := c.Subscribe()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := r.Changed(ctx)
	if err != context.DeadlineExceeded {
		t.Fatalf("err = %v, want DeadlineExceeded", err)
	}
}
