// Package fsfeed watches a directory tree and publishes batches of
// filesystem change events on a snapshot feed, mirroring original_source's
// filesystem.rs: a gitignore-aware fsnotify watcher with a debounce/poll
// loop. Ignore matching is delegated to
// github.com/monochromegane/go-gitignore, a real ecosystem library present
// in the broader example pack rather than a hand-rolled matcher.
package fsfeed

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	gitignore "github.com/monochromegane/go-gitignore"

	"github.com/tugtool/tugcast/internal/codec"
	"github.com/tugtool/tugcast/internal/logging"
	"github.com/tugtool/tugcast/internal/watch"
)

// Debounce is the quiet period after the first pending event before a
// batch is flushed.
const Debounce = 100 * time.Millisecond

// Poll is the idle wait between checks when no event is pending.
const Poll = 50 * time.Millisecond

// EventKind tags an FsEvent the way original_source's serde(tag = "kind")
// enum does: {"kind":"Created","path":"..."} etc.
type EventKind string

const (
	Created  EventKind = "Created"
	Modified EventKind = "Modified"
	Removed  EventKind = "Removed"
	Renamed  EventKind = "Renamed"
)

// FsEvent is one filesystem change, relative to the watch root.
type FsEvent struct {
	Kind EventKind `json:"kind"`
	Path string    `json:"path,omitempty"`
	From string    `json:"from,omitempty"`
	To   string    `json:"to,omitempty"`
}

// Feed watches root and publishes batches of FsEvent as JSON arrays on a
// watch.Cell.
type Feed struct {
	root    string
	ignores gitignore.IgnoreMatcher

	pendingRename *pendingRename
}

// pendingRename is a rename's source path, held until either a matching
// destination Create arrives (pairing into Renamed{From,To}) or Debounce
// elapses with no pair, at which point it resolves to Removed. fsnotify
// exposes rename(From)/rename(To) as two independent events with no shared
// cookie, so pairing them is this package's own responsibility, mirroring
// the three-way split (Both/From/To) original_source gets for free from
// the notify crate's RenameMode.
type pendingRename struct {
	path     string
	deadline time.Time
}

// New builds a filesystem Feed rooted at root, loading a .gitignore from
// root if present. A missing .gitignore yields an empty matcher; a
// .gitignore that cannot be read is logged and also falls back to an
// empty matcher.
func New(root string) *Feed {
	f := &Feed{root: root}

	path := filepath.Join(root, ".gitignore")
	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			logging.Warn("failed to read .gitignore, ignoring nothing", "path", path, "err", err)
		}
		f.ignores = emptyMatcher{}
		return f
	}
	f.ignores = gitignore.NewGitIgnoreFromReader(root, strings.NewReader(string(data)))
	return f
}

type emptyMatcher struct{}

func (emptyMatcher) Match(string, bool) bool { return false }

func (f *Feed) isIgnored(relPath string, isDir bool) bool {
	if f.ignores == nil {
		return false
	}
	parts := strings.Split(filepath.ToSlash(relPath), "/")
	for i := range parts {
		prefix := strings.Join(parts[:i+1], "/")
		if f.ignores.Match(prefix, isDir && i == len(parts)-1) {
			return true
		}
	}
	return false
}

func (f *Feed) relPath(abs string) string {
	rel, err := filepath.Rel(f.root, abs)
	if err != nil {
		return abs
	}
	return filepath.ToSlash(rel)
}

// Run watches the root directory tree until ctx is cancelled, publishing
// debounced batches of FsEvent arrays onto cell.
func (f *Feed) Run(ctx context.Context, cell *watch.Cell) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		logging.Error("failed to create fsnotify watcher", "err", err)
		return
	}
	defer watcher.Close()

	if err := addRecursive(watcher, f.root); err != nil {
		logging.Error("failed to watch root tree", "root", f.root, "err", err)
		return
	}

	var pending []FsEvent

	flush := func() {
		if ev, ok := f.resolveExpiredRename(); ok {
			pending = append(pending, ev)
		}
		if len(pending) == 0 {
			return
		}
		payload, err := json.Marshal(pending)
		if err != nil {
			logging.Error("failed to marshal fs event batch", "err", err)
			pending = nil
			return
		}
		cell.Set(codec.Frame{FeedID: codec.Filesystem, Payload: payload})
		pending = nil
	}

	for {
		select {
		case <-ctx.Done():
			return

		case ev, ok := <-watcher.Events:
			if !ok {
				return
			}
			if fsEvent, ok := f.convert(ev); ok {
				pending = append(pending, fsEvent)
			}
			f.drainDebounce(ctx, watcher, &pending)
			flush()

		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			logging.Warn("fsnotify watcher error", "err", err)

		case <-time.After(Poll):
			flush()
		}
	}
}

// drainDebounce sleeps for Debounce and folds in any events that arrive
// during that window, matching original_source's "sleep then drain"
// batching policy.
func (f *Feed) drainDebounce(ctx context.Context, watcher *fsnotify.Watcher, pending *[]FsEvent) {
	timer := time.NewTimer(Debounce)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
			return
		case ev, ok := <-watcher.Events:
			if !ok {
				return
			}
			if fsEvent, ok := f.convert(ev); ok {
				*pending = append(*pending, fsEvent)
			}
		}
	}
}

func (f *Feed) convert(ev fsnotify.Event) (FsEvent, bool) {
	info, statErr := os.Stat(ev.Name)
	isDir := statErr == nil && info.IsDir()
	rel := f.relPath(ev.Name)

	if f.isIgnored(rel, isDir) {
		return FsEvent{}, false
	}

	switch {
	case ev.Has(fsnotify.Create):
		if f.pendingRename != nil {
			from := f.pendingRename.path
			f.pendingRename = nil
			return FsEvent{Kind: Renamed, From: from, To: rel}, true
		}
		return FsEvent{Kind: Created, Path: rel}, true
	case ev.Has(fsnotify.Write) || ev.Has(fsnotify.Chmod):
		return FsEvent{Kind: Modified, Path: rel}, true
	case ev.Has(fsnotify.Remove):
		return FsEvent{Kind: Removed, Path: rel}, true
	case ev.Has(fsnotify.Rename):
		// fsnotify reports only the source path for a rename, with no
		// cookie linking it to the destination's Create. Hold it and
		// decide at flush time: paired within Debounce -> Renamed,
		// otherwise -> Removed.
		f.pendingRename = &pendingRename{path: rel, deadline: time.Now().Add(Debounce)}
		return FsEvent{}, false
	default:
		return FsEvent{}, false
	}
}

// resolveExpiredRename returns a Removed event for a pendingRename whose
// deadline has passed unpaired, clearing it. Call before every flush.
func (f *Feed) resolveExpiredRename() (FsEvent, bool) {
	if f.pendingRename == nil || time.Now().Before(f.pendingRename.deadline) {
		return FsEvent{}, false
	}
	ev := FsEvent{Kind: Removed, Path: f.pendingRename.path}
	f.pendingRename = nil
	return ev, true
}

func addRecursive(watcher *fsnotify.Watcher, root string) error {
	return filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if d.Name() == ".git" && path != root {
				return filepath.SkipDir
			}
			return watcher.Add(path)
		}
		return nil
	})
}
