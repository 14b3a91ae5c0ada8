// Package statsfeed implements the pluggable stats collector framework:
// each collector runs on its own ticker and publishes to its own watch
// feed, and an aggregator assembles a combined snapshot from whichever
// collector values are currently available. Grounded on
// original_source's feeds/stats/mod.rs, translated from a tokio
// spawn-per-collector design to one goroutine per collector plus one
// aggregator goroutine, coordinated by cancellation via context.
package statsfeed

import (
	"context"
	"encoding/json"
	"time"

	"github.com/tugtool/tugcast/internal/codec"
	"github.com/tugtool/tugcast/internal/logging"
	"github.com/tugtool/tugcast/internal/watch"
)

// AggregatorInterval is the fixed cadence at which the aggregator builds
// and publishes a combined StatSnapshot.
const AggregatorInterval = 1 * time.Second

// Collector is a pluggable periodic sampler. Collect must never panic; any
// recovered panic is translated to a null JSON value by Run.
type Collector interface {
	Name() string
	FeedID() codec.FeedID
	Interval() time.Duration
	Collect() any
}

// Snapshot is the aggregate published on the Stats feed: the latest
// available value from every collector, keyed by name, plus the assembly
// time.
type Snapshot struct {
	Collectors map[string]any `json:"collectors"`
	Timestamp  string         `json:"timestamp"`
}

// entry pairs a collector with the cell its individual values are
// published on.
type entry struct {
	collector Collector
	cell      *watch.Cell
}

// Runner owns the lifecycle of a fixed set of collectors plus the
// aggregator that combines them.
type Runner struct {
	entries []entry
}

// NewRunner builds a Runner over collectors, each paired with a fresh
// watch.Cell for its individual feed.
func NewRunner(collectors []Collector) *Runner {
	entries := make([]entry, len(collectors))
	for i, c := range collectors {
		entries[i] = entry{collector: c, cell: watch.NewCell()}
	}
	return &Runner{entries: entries}
}

// Cell returns the individual watch.Cell for the named collector, or nil
// if no such collector was registered.
func (r *Runner) Cell(name string) *watch.Cell {
	for _, e := range r.entries {
		if e.collector.Name() == name {
			return e.cell
		}
	}
	return nil
}

// Run starts one goroutine per collector plus the aggregator, and blocks
// until ctx is cancelled.
func (r *Runner) Run(ctx context.Context, aggregate *watch.Cell) {
	for _, e := range r.entries {
		go runCollector(ctx, e.collector, e.cell)
	}
	runAggregator(ctx, r.entries, aggregate)
}

// runCollector ticks a single collector on its own interval with
// missed-tick behavior = skip: a slow collect() never causes a burst of
// queued ticks once it returns.
func runCollector(ctx context.Context, c Collector, cell *watch.Cell) {
	ticker := time.NewTicker(c.Interval())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			value := safeCollect(c)
			payload, err := json.Marshal(value)
			if err != nil {
				logging.Error("failed to marshal collector output", "collector", c.Name(), "err", err)
				continue
			}
			cell.Set(codec.Frame{FeedID: c.FeedID(), Payload: payload})
		}
	}
}

// safeCollect recovers from any panic inside Collect(), per the spec's
// "panics are translated to null" rule.
func safeCollect(c Collector) (value any) {
	defer func() {
		if rec := recover(); rec != nil {
			logging.Warn("collector panicked, reporting null", "collector", c.Name(), "recovered", rec)
			value = nil
		}
	}()
	return c.Collect()
}

// runAggregator ticks at AggregatorInterval, reads the latest value from
// every collector's cell (skipping any never-set), and publishes a
// combined Snapshot. It never waits for a collector; a stale value is
// acceptable.
func runAggregator(ctx context.Context, entries []entry, aggregate *watch.Cell) {
	receivers := make(map[string]*watch.Receiver, len(entries))
	for _, e := range entries {
		receivers[e.collector.Name()] = e.cell.Subscribe()
	}

	ticker := time.NewTicker(AggregatorInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			collectors := make(map[string]any, len(entries))
			for name, recv := range receivers {
				frame, ok := recv.Current()
				if !ok {
					continue
				}
				var value any
				if err := json.Unmarshal(frame.Payload, &value); err != nil {
					logging.Warn("failed to unmarshal collector output in aggregator", "collector", name, "err", err)
					continue
				}
				collectors[name] = value
			}

			snapshot := Snapshot{Collectors: collectors, Timestamp: nowISO8601()}
			payload, err := json.Marshal(snapshot)
			if err != nil {
				logging.Error("failed to marshal stat snapshot", "err", err)
				continue
			}
			aggregate.Set(codec.Frame{FeedID: codec.Stats, Payload: payload})
		}
	}
}

func nowISO8601() string {
	return time.Now().UTC().Format(time.RFC3339)
}
