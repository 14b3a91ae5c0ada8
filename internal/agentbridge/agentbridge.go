// Package agentbridge supervises the child agent process: it resolves the
// binary, spawns it, performs the protocol handshake, relays
// line-delimited JSON both ways, and restarts it under a crash budget.
// Grounded on original_source's feeds/agent_bridge.rs, translated from
// tokio::process::Command + tokio::select! to exec.CommandContext +
// goroutines over channels.
package agentbridge

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/tugtool/tugcast/internal/broadcast"
	"github.com/tugtool/tugcast/internal/codec"
	"github.com/tugtool/tugcast/internal/logging"
)

// HandshakeTimeout bounds how long the bridge waits for protocol_ack.
const HandshakeTimeout = 5 * time.Second

// RestartDelay is the pause between a crashed attempt and the next spawn.
const RestartDelay = 1 * time.Second

// InputChannelSize bounds the MPSC input sink feeding ConversationInput
// frames into the bridge.
const InputChannelSize = 256

const (
	crashBudgetMax    = 3
	crashBudgetWindow = 60 * time.Second
)

// ResolveBinary implements the resolution chain documented in spec.md
// §4.8: an explicit override, then a binary sibling to the current
// executable, then a documented PATH fallback. Grounded on
// original_source's resolve_tugtalk_path.
func ResolveBinary(override string, fallbackName string) string {
	if override != "" {
		return override
	}

	if exe, err := os.Executable(); err == nil {
		sibling := filepath.Join(filepath.Dir(exe), fallbackName)
		if _, err := os.Stat(sibling); err == nil {
			return sibling
		}
	}

	if path, err := exec.LookPath(fallbackName); err == nil {
		return path
	}

	logging.Warn("agent binary not found via override, sibling, or PATH; falling back to bare name", "name", fallbackName)
	return fallbackName
}

// Bridge owns the child process lifecycle for one conversation feed.
type Bridge struct {
	binary     string
	projectDir string
	input      chan codec.Frame
}

// New builds a Bridge that will spawn binary with projectDir as its
// argument.
func New(binary, projectDir string) *Bridge {
	return &Bridge{
		binary:     binary,
		projectDir: projectDir,
		input:      make(chan codec.Frame, InputChannelSize),
	}
}

// FeedID identifies this feed's outbound stream.
func (b *Bridge) FeedID() codec.FeedID { return codec.ConversationOutput }

// Name is a short human identifier for logging.
func (b *Bridge) Name() string { return "agent" }

// InputSink returns the channel the router forwards ConversationInput
// frames onto.
func (b *Bridge) InputSink() chan<- codec.Frame { return b.input }

// Run publishes a project_info frame once, then loops spawning the agent
// under a crash budget until ctx is cancelled or the budget is exhausted.
func (b *Bridge) Run(ctx context.Context, out *broadcast.Broadcaster) {
	projectInfo, _ := json.Marshal(map[string]string{
		"type":        "project_info",
		"project_dir": b.projectDir,
	})
	out.Send(codec.Frame{FeedID: codec.ConversationOutput, Payload: projectInfo})

	budget := NewCrashBudget(crashBudgetMax, crashBudgetWindow)

	for {
		if budget.IsExhausted() {
			logging.Error("agent crash budget exhausted, stopping bridge")
			errFrame, _ := json.Marshal(map[string]any{
				"type":        "error",
				"message":     "agent crashed too many times",
				"recoverable": false,
			})
			out.Send(codec.Frame{FeedID: codec.ConversationOutput, Payload: errFrame})
			return
		}

		select {
		case <-ctx.Done():
			return
		default:
		}

		if err := b.attempt(ctx, out); err != nil {
			logging.Error("agent attempt ended", "err", err)
			if budget.RecordCrash() {
				continue // loop head re-checks IsExhausted and reports terminal error
			}
			select {
			case <-ctx.Done():
				return
			case <-time.After(RestartDelay):
			}
			continue
		}

		// attempt returned nil only on a clean exit or cancellation.
		select {
		case <-ctx.Done():
			return
		default:
			return
		}
	}
}

// attempt spawns and relays one child process lifetime. It returns nil on
// cancellation or a successful (status 0) child exit, and a non-nil error
// for anything that should count against the crash budget.
func (b *Bridge) attempt(ctx context.Context, out *broadcast.Broadcaster) error {
	logging.Info("spawning agent", "binary", b.binary, "project_dir", b.projectDir)

	cmd := exec.CommandContext(ctx, b.binary, b.projectDir)
	cmd.Stderr = os.Stderr

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("agent stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("agent stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("spawn agent: %w", err)
	}

	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)

	if err := handshake(stdin, scanner); err != nil {
		_ = cmd.Process.Kill()
		_ = cmd.Wait()
		return fmt.Errorf("agent handshake: %w", err)
	}
	logging.Info("agent handshake successful")

	relayErr := b.relay(ctx, stdin, scanner, out)

	if ctx.Err() != nil {
		_ = cmd.Process.Kill()
		_ = cmd.Wait()
		return nil
	}

	waitErr := cmd.Wait()
	if relayErr != nil {
		return relayErr
	}
	if waitErr != nil {
		return fmt.Errorf("agent exited: %w", waitErr)
	}
	return nil
}

type ackLine struct {
	line string
	err  error
}

// handshake writes protocol_init and waits up to HandshakeTimeout for a
// protocol_ack line.
func handshake(stdin io.Writer, scanner *bufio.Scanner) error {
	if _, err := stdin.Write([]byte(`{"type":"protocol_init","version":1}` + "\n")); err != nil {
		return fmt.Errorf("write protocol_init: %w", err)
	}

	result := make(chan ackLine, 1)
	go func() {
		if scanner.Scan() {
			result <- ackLine{line: scanner.Text()}
		} else {
			result <- ackLine{err: scanner.Err()}
		}
	}()

	select {
	case r := <-result:
		if r.err != nil {
			return fmt.Errorf("reading protocol_ack: %w", r.err)
		}
		if !strings.Contains(r.line, `"type":"protocol_ack"`) {
			return fmt.Errorf("unexpected handshake response: %q", r.line)
		}
		return nil
	case <-time.After(HandshakeTimeout):
		return fmt.Errorf("timed out waiting for protocol_ack")
	}
}

// relay forwards stdout lines as ConversationOutput frames and inbound
// ConversationInput frames to stdin, until the child's stdout closes, a
// write fails, or ctx is cancelled.
func (b *Bridge) relay(ctx context.Context, stdin io.Writer, scanner *bufio.Scanner, out *broadcast.Broadcaster) error {
	lines := make(chan string)
	scanDone := make(chan error, 1)
	go func() {
		defer close(lines)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
		scanDone <- scanner.Err()
	}()

	for {
		select {
		case <-ctx.Done():
			return nil

		case line, ok := <-lines:
			if !ok {
				if err := <-scanDone; err != nil {
					return fmt.Errorf("reading agent stdout: %w", err)
				}
				return fmt.Errorf("agent stdout closed")
			}
			out.Send(codec.Frame{FeedID: codec.ConversationOutput, Payload: []byte(line)})

		case frame, ok := <-b.input:
			if !ok {
				continue
			}
			if frame.FeedID != codec.ConversationInput {
				continue
			}
			if _, err := stdin.Write(append(frame.Payload, '\n')); err != nil {
				return fmt.Errorf("writing to agent stdin: %w", err)
			}
		}
	}
}
