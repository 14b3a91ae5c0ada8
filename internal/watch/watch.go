// Package watch implements a single-latest-value cell with change
// notification: a Go equivalent of Rust's tokio::sync::watch, used by every
// snapshot feed in tugcast. Publishing overwrites; a subscriber never sees
// superseded intermediate values, only the current one, plus a
// notification each time the value changes.
package watch

import (
	"context"
	"sync"

	"github.com/tugtool/tugcast/internal/codec"
)

// Cell holds the latest frame published for one snapshot feed.
type Cell struct {
	mu      sync.Mutex
	value   codec.Frame
	version uint64
	hasVal  bool
	notify  chan struct{}
}

// NewCell creates an empty Cell with no initial value.
func NewCell() *Cell {
	return &Cell{notify: make(chan struct{})}
}

// Set overwrites the current value and wakes every blocked receiver.
func (c *Cell) Set(f codec.Frame) {
	c.mu.Lock()
	c.value = f
	c.hasVal = true
	c.version++
	old := c.notify
	c.notify = make(chan struct{})
	c.mu.Unlock()
	close(old)
}

// Receiver observes a Cell's value, coalescing any values it misses.
type Receiver struct {
	cell    *Cell
	seen    uint64
	sawInit bool
}

// Subscribe returns a Receiver with no initial value.
func (c *Cell) Subscribe() *Receiver {
	return &Receiver{cell: c}
}

// Current returns the cell's present value without blocking, and whether
// one has ever been set.
func (r *Receiver) Current() (codec.Frame, bool) {
	r.cell.mu.Lock()
	defer r.cell.mu.Unlock()
	r.seen = r.cell.version
	r.sawInit = true
	return r.cell.value, r.cell.hasVal
}

// Changed blocks until the cell's value differs from the one this receiver
// last observed (via Current or a prior Changed), then returns it. Calls
// that happened between two observations are coalesced into the latest
// value only.
func (r *Receiver) Changed(ctx context.Context) (codec.Frame, error) {
	for {
		r.cell.mu.Lock()
		if r.cell.hasVal && (!r.sawInit || r.cell.version != r.seen) {
			f := r.cell.value
			r.seen = r.cell.version
			r.sawInit = true
			r.cell.mu.Unlock()
			return f, nil
		}
		ch := r.cell.notify
		r.cell.mu.Unlock()

		select {
		case <-ch:
		case <-ctx.Done():
			return codec.Frame{}, ctx.Err()
		}
	}
}
