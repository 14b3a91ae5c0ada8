package statsfeed

import (
	"context"
	"os/exec"
	"regexp"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/tugtool/tugcast/internal/codec"
	"github.com/tugtool/tugcast/internal/logging"
)

var (
	inputOutputTokensRe = regexp.MustCompile(`(\d+)/(\d+)\s+tokens?`)
	percentRe           = regexp.MustCompile(`\((\d+(?:\.\d+)?)%\)`)
	totalTokensRe        = regexp.MustCompile(`(\d+)\s+tokens?`)
)

// TokenUsageCollector extracts best-effort token usage from the
// multiplexer pane, grounded on original_source's token_usage.rs. A parse
// miss is never an error: it publishes null and logs at debug, once per
// failure streak, mirroring the original's "warned" flag.
type TokenUsageCollector struct {
	session string
	warned  atomic.Bool
}

// NewTokenUsageCollector builds a collector that captures the given
// multiplexer session's pane.
func NewTokenUsageCollector(session string) *TokenUsageCollector {
	return &TokenUsageCollector{session: session}
}

func (c *TokenUsageCollector) Name() string            { return "token_usage" }
func (c *TokenUsageCollector) FeedID() codec.FeedID     { return codec.StatsTokenUsage }
func (c *TokenUsageCollector) Interval() time.Duration  { return 10 * time.Second }

type tokenUsage struct {
	Name                   string   `json:"name"`
	InputTokens            *uint64  `json:"input_tokens"`
	OutputTokens           *uint64  `json:"output_tokens"`
	TotalTokens            uint64   `json:"total_tokens"`
	ContextWindowPercent   float64  `json:"context_window_percent"`
}

func (c *TokenUsageCollector) Collect() any {
	out, err := exec.CommandContext(context.Background(), "tmux", "capture-pane", "-t", c.session, "-p").Output()
	if err != nil {
		c.logOnce("failed to run tmux capture-pane", "err", err)
		return nil
	}

	value := parseTokenUsage(string(out))
	if value == nil {
		c.logOnce("failed to parse token usage from pane output")
		return nil
	}
	c.warned.Store(false)
	return value
}

func (c *TokenUsageCollector) logOnce(msg string, args ...any) {
	if !c.warned.Swap(true) {
		logging.Debug(msg, args...)
	}
}

// parseTokenUsage tries the "X/Y tokens" form first, then falls back to a
// bare "N tokens" total. Returns nil on no match at all.
func parseTokenUsage(text string) *tokenUsage {
	if m := inputOutputTokensRe.FindStringSubmatch(text); m != nil {
		in, errIn := strconv.ParseUint(m[1], 10, 64)
		out, errOut := strconv.ParseUint(m[2], 10, 64)
		if errIn != nil || errOut != nil {
			return nil
		}
		pct := 0.0
		if p := percentRe.FindStringSubmatch(text); p != nil {
			pct, _ = strconv.ParseFloat(p[1], 64)
		}
		return &tokenUsage{
			Name:                 "token_usage",
			InputTokens:          &in,
			OutputTokens:         &out,
			TotalTokens:          in + out,
			ContextWindowPercent: pct,
		}
	}

	if m := totalTokensRe.FindStringSubmatch(text); m != nil {
		total, err := strconv.ParseUint(m[1], 10, 64)
		if err != nil {
			return nil
		}
		return &tokenUsage{Name: "token_usage", TotalTokens: total}
	}

	return nil
}
