package tmuxbridge

import (
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"sync"

	"github.com/creack/pty"

	"github.com/tugtool/tugcast/internal/broadcast"
	"github.com/tugtool/tugcast/internal/codec"
	"github.com/tugtool/tugcast/internal/logging"
)

// readBufSize is the chunk size read from the pty master per iteration.
const readBufSize = 8192

// InputChannelSize bounds the MPSC input sink feeding terminal input and
// resize intents into the feed.
const InputChannelSize = 256

type resizePayload struct {
	Cols uint16 `json:"cols"`
	Rows uint16 `json:"rows"`
}

// Feed bridges a pty attached to a tmux session to a terminal stream feed.
// Run is single-shot; invoking it a second time is a programming error.
type Feed struct {
	session string
	input   chan codec.Frame

	ranOnce sync.Once
}

// New creates a terminal Feed bound to the given tmux session name.
func New(session string) *Feed {
	return &Feed{
		session: session,
		input:   make(chan codec.Frame, InputChannelSize),
	}
}

// FeedID identifies this feed's outbound stream.
func (f *Feed) FeedID() codec.FeedID { return codec.TerminalOutput }

// Name is a short human identifier for logging.
func (f *Feed) Name() string { return "terminal" }

// InputSink returns the channel the router forwards TerminalInput and
// TerminalResize frames onto.
func (f *Feed) InputSink() chan<- codec.Frame { return f.input }

// Run opens a pty, attaches tmux to it, and bridges bytes both ways until
// ctx is cancelled or the pty reports EOF.
func (f *Feed) Run(ctx context.Context, out *broadcast.Broadcaster) {
	called := false
	f.ranOnce.Do(func() { called = true })
	if !called {
		logging.Error("terminal feed run() called more than once", "session", f.session)
		return
	}

	logging.Info("starting terminal feed", "session", f.session)

	if _, err := CheckVersion(ctx); err != nil {
		logging.Error("tmux precondition failed", "session", f.session, "err", err)
		return
	}
	if err := EnsureSession(ctx, f.session); err != nil {
		logging.Error("tmux precondition failed", "session", f.session, "err", err)
		return
	}

	ptmx, err := pty.StartWithSize(
		exec.CommandContext(ctx, "tmux", "attach-session", "-t", f.session),
		&pty.Winsize{Rows: 24, Cols: 80},
	)
	if err != nil {
		logging.Error("failed to open pty for tmux attach", "session", f.session, "err", err)
		return
	}
	defer ptmx.Close()

	readDone := make(chan struct{})
	go func() {
		defer close(readDone)
		buf := make([]byte, readBufSize)
		for {
			n, err := ptmx.Read(buf)
			if n > 0 {
				payload := make([]byte, n)
				copy(payload, buf[:n])
				out.Send(codec.Frame{FeedID: codec.TerminalOutput, Payload: payload})
			}
			if err != nil {
				logging.Info("pty read ended", "session", f.session, "err", err)
				return
			}
			select {
			case <-ctx.Done():
				return
			default:
			}
		}
	}()

	writeDone := make(chan struct{})
	go func() {
		defer close(writeDone)
		for {
			select {
			case <-ctx.Done():
				return
			case frame, ok := <-f.input:
				if !ok {
					return
				}
				switch frame.FeedID {
				case codec.TerminalInput:
					if _, err := ptmx.Write(frame.Payload); err != nil {
						logging.Error("pty write error", "session", f.session, "err", err)
						return
					}
				case codec.TerminalResize:
					var rp resizePayload
					if err := json.Unmarshal(frame.Payload, &rp); err != nil {
						logging.Warn("failed to parse resize payload", "err", err)
						continue
					}
					if err := ResizePane(ctx, f.session, rp.Cols, rp.Rows); err != nil {
						logging.Warn("tmux resize-pane failed", "session", f.session, "err", err)
					}
					_ = pty.Setsize(ptmx, &pty.Winsize{Rows: rp.Rows, Cols: rp.Cols})
					logging.Info("terminal resized", "cols", rp.Cols, "rows", rp.Rows)
				}
			}
		}
	}()

	select {
	case <-ctx.Done():
		logging.Info("terminal feed shutting down", "session", f.session)
	case <-readDone:
	case <-writeDone:
	}
}

// Snapshot returns a one-shot capture of the current pane contents, used
// by the client session state machine's Bootstrap transition.
func Snapshot(ctx context.Context, session string) ([]byte, error) {
	b, err := CapturePane(ctx, session)
	if err != nil {
		return nil, fmt.Errorf("terminal snapshot: %w", err)
	}
	return b, nil
}
