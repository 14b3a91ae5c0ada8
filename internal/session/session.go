// Package session implements the per-connection BOOTSTRAP/LIVE client
// state machine: every newly attached client is primed with a consistent
// snapshot of the terminal feed before receiving live frames, and falls
// back to BOOTSTRAP whenever it lags behind the terminal broadcast feed
// (a lag on the conversation feed does not). Grounded on
// original_source's router.rs handle_client, translated from one
// axum::extract::ws::WebSocket + tokio::select! loop into an explicit Go
// state machine driven by an abstract Conn.
package session

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/tugtool/tugcast/internal/broadcast"
	"github.com/tugtool/tugcast/internal/codec"
	"github.com/tugtool/tugcast/internal/logging"
	"github.com/tugtool/tugcast/internal/watch"
)

// HeartbeatInterval is how often the session sends an outbound heartbeat.
const HeartbeatInterval = 15 * time.Second

// HeartbeatTimeout closes the connection if no inbound heartbeat has been
// observed for this long.
const HeartbeatTimeout = 45 * time.Second

// Conn is the minimal transport contract a Session needs: binary send,
// and receive-with-context. Implementations wrap a real WebSocket
// connection; tests use an in-memory fake.
type Conn interface {
	Send(ctx context.Context, payload []byte) error
	Recv(ctx context.Context) ([]byte, error)
	Close() error
}

// SnapshotSource produces the one-shot terminal pane capture used when
// entering Bootstrap.
type SnapshotSource interface {
	Snapshot(ctx context.Context) ([]byte, error)
}

// Dispatch routes a decoded inbound frame to the right producer or
// control handler. Implementations live in the router.
type Dispatch interface {
	ForwardTerminal(codec.Frame)
	ForwardConversation(codec.Frame)
	HandleControl(payload []byte)
}

// SnapshotFeed is one named snapshot feed's subscription, used to send
// the current value on entry to Live and forward subsequent changes.
type SnapshotFeed struct {
	Name string
	Recv *watch.Receiver
}

// Session drives one client connection through Bootstrap and Live.
type Session struct {
	conn         Conn
	terminal     SnapshotSource
	broadcast    *broadcast.Subscriber
	conversation *broadcast.Subscriber
	snapshots    []SnapshotFeed
	dispatch     Dispatch
}

// New builds a Session bound to conn. broadcastSub is a fresh subscription
// on the terminal output stream, whose lag policy drives Bootstrap
// re-entry; snapshots lists every snapshot feed the session should
// forward on entry to Live.
func New(conn Conn, terminal SnapshotSource, broadcastSub *broadcast.Subscriber, snapshots []SnapshotFeed, dispatch Dispatch) *Session {
	return &Session{
		conn:      conn,
		terminal:  terminal,
		broadcast: broadcastSub,
		snapshots: snapshots,
		dispatch:  dispatch,
	}
}

// WithConversation attaches a second stream subscription (the agent
// conversation feed) that is relayed in Live without participating in
// Bootstrap re-entry: a lag on this feed is logged and resumes from the
// current head, since there is no pane-style snapshot to re-prime from.
func (s *Session) WithConversation(sub *broadcast.Subscriber) *Session {
	s.conversation = sub
	return s
}

// Run drives the session until ctx is cancelled or the connection ends.
// It always starts in Bootstrap, per the implementation's committed
// choice documented in SPEC_FULL.md §12.5 (reconnect and first-attach are
// treated identically: snapshot-first).
func (s *Session) Run(ctx context.Context) {
	defer s.conn.Close()

	state := "bootstrap"
	var buffer []codec.Frame

	for {
		switch state {
		case "bootstrap":
			var err error
			buffer, err = s.runBootstrap(ctx, buffer)
			if err != nil {
				logging.Info("session ended during bootstrap", "err", err)
				return
			}
			state = "live"

		case "live":
			next, err := s.runLive(ctx)
			if err != nil {
				logging.Info("session ended", "err", err)
				return
			}
			if next == "" {
				return
			}
			state = next
			buffer = nil
		}
	}
}

// runBootstrap sends the terminal snapshot, drains any broadcast frames
// that arrived in the meantime into buffer, flushes buffer to the client,
// and returns. No live stream frame reaches the client before the
// snapshot and drained buffer have been sent.
func (s *Session) runBootstrap(ctx context.Context, buffer []codec.Frame) ([]codec.Frame, error) {
	logging.Debug("session entering bootstrap")

	if snap, err := s.terminal.Snapshot(ctx); err != nil {
		logging.Warn("terminal snapshot failed, continuing without it", "err", err)
	} else {
		frame := codec.Frame{FeedID: codec.TerminalOutput, Payload: snap}
		if err := s.conn.Send(ctx, codec.Encode(frame)); err != nil {
			return nil, fmt.Errorf("send snapshot: %w", err)
		}
	}

	for {
		frame, lagged, err := s.tryRecvNonBlocking(ctx)
		if err != nil {
			return nil, err
		}
		if !frame.valid {
			break
		}
		if lagged > 0 {
			continue
		}
		buffer = append(buffer, frame.frame)
	}

	for _, frame := range buffer {
		if err := s.conn.Send(ctx, codec.Encode(frame)); err != nil {
			return nil, fmt.Errorf("flush buffer: %w", err)
		}
	}

	return nil, nil
}

type recvResult struct {
	frame codec.Frame
	valid bool
}

// tryRecvNonBlocking drains any broadcast frames already queued without
// blocking for new ones, used while flushing the bootstrap buffer.
func (s *Session) tryRecvNonBlocking(ctx context.Context) (recvResult, int, error) {
	drainCtx, cancel := context.WithTimeout(ctx, 0)
	defer cancel()
	frame, lagged, err := s.broadcast.Recv(drainCtx)
	if err != nil {
		if drainCtx.Err() != nil {
			return recvResult{}, 0, nil
		}
		return recvResult{}, 0, err
	}
	return recvResult{frame: frame, valid: true}, lagged, nil
}

// runLive forwards snapshot and stream frames to the client, demuxes
// inbound frames, and exchanges heartbeats, until the connection ends,
// lag is detected (returns "bootstrap"), or ctx is cancelled (returns "").
func (s *Session) runLive(ctx context.Context) (string, error) {
	logging.Debug("session entering live")

	for _, snap := range s.snapshots {
		if frame, ok := snap.Recv.Current(); ok {
			if err := s.conn.Send(ctx, codec.Encode(frame)); err != nil {
				return "", fmt.Errorf("send initial %s snapshot: %w", snap.Name, err)
			}
		}
	}

	lastHeartbeat := make(chan time.Time, 1)
	lastHeartbeat <- time.Now()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	outCh := make(chan codec.Frame)
	errCh := make(chan error, 1)
	nextState := make(chan string, 1)

	go s.pumpBroadcast(ctx, outCh, nextState)
	if s.conversation != nil {
		go s.pumpConversation(ctx, outCh)
	}
	for i := range s.snapshots {
		go s.pumpSnapshot(ctx, s.snapshots[i], outCh)
	}
	go s.pumpInbound(ctx, lastHeartbeat, errCh)

	heartbeatTicker := time.NewTicker(HeartbeatInterval)
	defer heartbeatTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return "", nil

		case frame := <-outCh:
			if err := s.conn.Send(ctx, codec.Encode(frame)); err != nil {
				return "", fmt.Errorf("send live frame: %w", err)
			}

		case next := <-nextState:
			return next, nil

		case err := <-errCh:
			return "", err

		case <-heartbeatTicker.C:
			hb := codec.Frame{FeedID: codec.Heartbeat}
			if err := s.conn.Send(ctx, codec.Encode(hb)); err != nil {
				return "", fmt.Errorf("send heartbeat: %w", err)
			}
			last := <-lastHeartbeat
			lastHeartbeat <- last
			if time.Since(last) > HeartbeatTimeout {
				return "", fmt.Errorf("heartbeat timeout")
			}
		}
	}
}

// pumpBroadcast relays the terminal stream subscription to outCh, and
// signals a transition back to bootstrap on Lagged.
func (s *Session) pumpBroadcast(ctx context.Context, out chan<- codec.Frame, nextState chan<- string) {
	for {
		frame, lagged, err := s.broadcast.Recv(ctx)
		if err != nil {
			return
		}
		if lagged > 0 {
			logging.Warn("session lagged on broadcast feed, re-entering bootstrap", "lagged", lagged)
			select {
			case nextState <- "bootstrap":
			case <-ctx.Done():
			}
			return
		}
		select {
		case out <- frame:
		case <-ctx.Done():
			return
		}
	}
}

// pumpConversation relays the agent conversation stream to outCh. Unlike
// pumpBroadcast, a lag here never triggers Bootstrap re-entry: it is
// logged and the subscriber simply resumes from the new head.
func (s *Session) pumpConversation(ctx context.Context, out chan<- codec.Frame) {
	for {
		frame, lagged, err := s.conversation.Recv(ctx)
		if err != nil {
			return
		}
		if lagged > 0 {
			logging.Warn("session lagged on conversation feed, resuming from head", "lagged", lagged)
			continue
		}
		select {
		case out <- frame:
		case <-ctx.Done():
			return
		}
	}
}

// pumpSnapshot relays subsequent changes of one snapshot feed to outCh.
func (s *Session) pumpSnapshot(ctx context.Context, feed SnapshotFeed, out chan<- codec.Frame) {
	for {
		frame, err := feed.Recv.Changed(ctx)
		if err != nil {
			return
		}
		select {
		case out <- frame:
		case <-ctx.Done():
			return
		}
	}
}

// pumpInbound reads frames from the client and demuxes them: terminal and
// conversation input are forwarded to their producers, heartbeats update
// lastHeartbeat, control frames dispatch, unknown ids are dropped.
func (s *Session) pumpInbound(ctx context.Context, lastHeartbeat chan time.Time, errCh chan<- error) {
	for {
		raw, err := s.conn.Recv(ctx)
		if err != nil {
			select {
			case errCh <- err:
			case <-ctx.Done():
			}
			return
		}

		frame, _, err := codec.Decode(raw)
		if err != nil {
			logging.Warn("dropping malformed inbound frame", "err", err)
			continue
		}

		switch frame.FeedID {
		case codec.TerminalInput, codec.TerminalResize:
			s.dispatch.ForwardTerminal(frame)
		case codec.ConversationInput:
			s.dispatch.ForwardConversation(frame)
		case codec.Heartbeat:
			select {
			case <-lastHeartbeat:
			default:
			}
			lastHeartbeat <- time.Now()
		case codec.Control:
			s.dispatch.HandleControl(frame.Payload)
		default:
			logging.Debug("dropping frame with unhandled feed id", "feed_id", frame.FeedID)
		}
	}
}

// ControlAction is the client->server control payload shape, §6.
type ControlAction struct {
	Action string `json:"action"`
}

// ParseControlAction decodes a Control frame payload.
func ParseControlAction(payload []byte) (ControlAction, error) {
	var a ControlAction
	if err := json.Unmarshal(payload, &a); err != nil {
		return ControlAction{}, fmt.Errorf("parse control action: %w", err)
	}
	return a, nil
}
