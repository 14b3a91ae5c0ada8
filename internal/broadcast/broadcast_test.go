package broadcast

import (
	"context"
	"testing"
	"time"

	"github.com/tugtool/tugcast/internal/codec"
)

func TestSendRecvOrder(t *testing.T) {
	b := New(4)
	sub := b.Subscribe()

	b.Send(codec.Frame{FeedID: codec.TerminalOutput, Payload: []byte("a")})
	b.Send(codec.Frame{FeedID: codec.TerminalOutput, Payload: []byte("b")})

	ctx := context.Background()
	f1, lag1, err := sub.Recv(ctx)
	if err != nil || lag1 != 0 || string(f1.Payload) != "a" {
		t.Fatalf("first recv = %v, %d, %v", f1, lag1, err)
	}
	f2, lag2, err := sub.Recv(ctx)
	if err != nil || lag2 != 0 || string(f2.Payload) != "b" {
		t.Fatalf("second recv = %v, %d, %v", f2, lag2, err)
	}
}

func TestSubscribeOnlySeesFutureFrames(t *testing.T) {
	b := New(4)
	b.Send(codec.Frame{FeedID: codec.Heartbeat})

	sub := b.Subscribe()
	b.Send(codec.Frame{FeedID: codec.TerminalOutput, Payload: []byte("later")})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	f, lag, err := sub.Recv(ctx)
	if err != nil || lag != 0 {
		t.Fatalf("recv error = %v lag = %d", err, lag)
	}
	if string(f.Payload) != "later" {
		t.Fatalf("payload = %q, want %q", f.Payload, "later")
	}
}

func TestLagSignalOnOverflow(t *testing.T) {
	b := New(2)
	sub := b.Subscribe()

	for i := 0; i < 5; i++ {
		b.Send(codec.Frame{FeedID: codec.TerminalOutput, Payload: []byte{byte(i)}})
	}

	ctx := context.Background()
	_, lag, err := sub.Recv(ctx)
	if err != nil {
		t.Fatalf("recv error = %v", err)
	}
	if lag == 0 {
		t.Fatalf("expected a nonzero lag signal after overflowing capacity")
	}

	// Following the lag signal, the subscriber resumes from the retained head.
	f, lag2, err := sub.Recv(ctx)
	if err != nil || lag2 != 0 {
		t.Fatalf("recv after lag: %v, %d, %v", f, lag2, err)
	}
}

func TestSendNeverBlocksWithoutSubscribers(t *testing.T) {
	b := New(1)
	done := make(chan struct{})
	go func() {
		for i := 0; i < 100; i++ {
			b.Send(codec.Frame{FeedID: codec.Heartbeat})
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("Send blocked with no subscribers")
	}
}

func TestRecvContextCancellation(t *testing.T) {
	b := New(4)
	sub := b.Subscribe()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, _, err := sub.Recv(ctx)
	if err != context.DeadlineExceeded {
		t.Fatalf("err = %v, want context.DeadlineExceeded", err)
	}
}

func TestCloseWakesSubscribers(t *testing.T) {
	b := New(4)
	sub := b.Subscribe()

	done := make(chan error, 1)
	go func() {
		_, _, err := sub.Recv(context.Background())
		done <- err
	}()

	time.Sleep(10 * time.Millisecond)
	b.Close()

	select {
	case err := <-done:
		if err != ErrClosed {
			t.Fatalf("err = %v, want ErrClosed", err)
		}
	case <-time.After(time.Second):
		t.Fatalf("Close did not wake blocked subscriber")
	}
}
