// Package watcher turns fsnotify notifications for the watched root into
// document-level events.
package watcher

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"docsync/internal/contextutil"
)

// Operation is the kind of change an Event reports.
type Operation int

const (
	OpCreate Operation = iota
	OpModify
	OpDelete
	OpRename
)

// String returns a human-readable representation of the operation.
func (op Operation) String() string {
	switch op {
	case OpCreate:
		return "CREATE"
	case OpModify:
		return "MODIFY"
	case OpDelete:
		return "DELETE"
	case OpRename:
		return "RENAME"
	default:
		return "UNKNOWN"
	}
}

// Event is a change under the watched root. Paths are absolute.
// For OpRename, OldPath is the source and Path the destination; Path is
// empty when the destination is unknown (moved out of the root).
type Event struct {
	Path    string
	OldPath string
	Op      Operation
	IsDir   bool
}

// PathFilter decides which paths produce events.
type PathFilter interface {
	Root() string
	RelPath(absPath string) (string, error)
	Excluded(relPath string) bool
	Accepts(absPath string) bool
}

// DefaultRenameWindow is how long a rename waits for its matching create.
const DefaultRenameWindow = 100 * time.Millisecond

// Watcher watches the root recursively and emits Events.
type Watcher struct {
	fsw          *fsnotify.Watcher
	filter       PathFilter
	renameWindow time.Duration

	events chan Event
	errors chan error

	// dirs is every watched directory, used to classify paths that no longer exist.
	dirs map[string]struct{}

	// pending holds a rename source until its create arrives or the window expires.
	pending      *Event
	pendingTimer *time.Timer
	expired      chan struct{}

	stopOnce sync.Once
}

// New creates a watcher for filter.Root(). Start must be called to begin.
func New(filter PathFilter) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating fsnotify watcher: %w", err)
	}
	return &Watcher{
		fsw:          fsw,
		filter:       filter,
		renameWindow: DefaultRenameWindow,
		dirs:         make(map[string]struct{}),
		events:       make(chan Event, 256),
		errors:       make(chan error, 10),
		expired:      make(chan struct{}, 1),
	}, nil
}

// Events returns the event channel. It is closed when Start returns.
func (w *Watcher) Events() <-chan Event {
	return w.events
}

// Errors returns non-fatal watcher errors. It is closed when Start returns.
func (w *Watcher) Errors() <-chan error {
	return w.errors
}

// Start adds the root and its subdirectories and delivers events until ctx is
// cancelled or Stop is called. It blocks.
func (w *Watcher) Start(ctx context.Context) error {
	defer close(w.errors)
	defer close(w.events)

	if err := w.addRecursive(ctx, w.filter.Root()); err != nil {
		_ = w.Stop()
		return fmt.Errorf("watching %s: %w", w.filter.Root(), err)
	}

	for {
		select {
		case <-ctx.Done():
			w.flushPending(ctx)
			_ = w.Stop()
			return ctx.Err()
		case <-w.expired:
			w.flushPending(ctx)
		case ev, ok := <-w.fsw.Events:
			if !ok {
				w.flushPending(ctx)
				return nil
			}
			w.handle(ctx, ev)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return nil
			}
			w.emitError(err)
		}
	}
}

// Stop releases the fsnotify watcher. Safe to call multiple times.
func (w *Watcher) Stop() error {
	var err error
	w.stopOnce.Do(func() {
		err = w.fsw.Close()
	})
	return err
}

func (w *Watcher) handle(ctx context.Context, ev fsnotify.Event) {
	logger := contextutil.LoggerFromContext(ctx)

	rel, err := w.filter.RelPath(ev.Name)
	if err != nil {
		return
	}

	isDir := false
	if info, err := os.Lstat(ev.Name); err == nil {
		isDir = info.IsDir()
	}

	switch {
	case ev.Op.Has(fsnotify.Create):
		if w.ignored(rel, ev.Name, isDir) {
			return
		}
		if isDir {
			if err := w.addRecursive(ctx, ev.Name); err != nil {
				logger.WarnContext(ctx, "failed to watch new directory", "path", ev.Name, "error", err)
			}
		}
		if w.pending != nil {
			old := w.takePending()
			w.emit(ctx, Event{Path: ev.Name, OldPath: old.OldPath, Op: OpRename, IsDir: isDir})
			return
		}
		w.emit(ctx, Event{Path: ev.Name, Op: OpCreate, IsDir: isDir})

	case ev.Op.Has(fsnotify.Write):
		if isDir || w.ignored(rel, ev.Name, false) {
			return
		}
		w.emit(ctx, Event{Path: ev.Name, Op: OpModify})

	case ev.Op.Has(fsnotify.Remove):
		wasDir, ok := w.gone(rel, ev.Name)
		if !ok {
			return
		}
		w.emit(ctx, Event{Path: ev.Name, Op: OpDelete, IsDir: wasDir})

	case ev.Op.Has(fsnotify.Rename):
		wasDir, ok := w.gone(rel, ev.Name)
		if !ok {
			return
		}
		w.flushPending(ctx)
		w.pending = &Event{OldPath: ev.Name, Op: OpRename, IsDir: wasDir}
		w.pendingTimer = time.AfterFunc(w.renameWindow, func() {
			select {
			case w.expired <- struct{}{}:
			default:
			}
		})
	}
	// Chmod is ignored.
}

// gone handles a path that was removed or moved away. It reports whether the
// path was a watched directory and whether an event should be emitted.
// Files the filter would never index produce no event.
func (w *Watcher) gone(rel, abs string) (wasDir, emit bool) {
	if w.filter.Excluded(rel) {
		return false, false
	}
	_ = w.fsw.Remove(abs)
	if w.forgetDir(abs) {
		return true, true
	}
	return false, w.filter.Accepts(abs)
}

// forgetDir drops dir and its descendants from the watched set.
func (w *Watcher) forgetDir(dir string) bool {
	if _, ok := w.dirs[dir]; !ok {
		return false
	}
	prefix := dir + string(filepath.Separator)
	for d := range w.dirs {
		if d == dir || strings.HasPrefix(d, prefix) {
			delete(w.dirs, d)
		}
	}
	return true
}

// ignored reports whether a path that still exists should be skipped.
func (w *Watcher) ignored(rel, abs string, isDir bool) bool {
	if isDir {
		return hidden(rel) || w.filter.Excluded(rel)
	}
	return !w.filter.Accepts(abs)
}

func (w *Watcher) takePending() *Event {
	p := w.pending
	w.pending = nil
	if w.pendingTimer != nil {
		w.pendingTimer.Stop()
		w.pendingTimer = nil
	}
	return p
}

// flushPending emits an unmatched rename as a rename without destination.
func (w *Watcher) flushPending(ctx context.Context) {
	if w.pending == nil {
		return
	}
	w.emit(ctx, *w.takePending())
}

func (w *Watcher) emit(ctx context.Context, ev Event) {
	contextutil.LoggerFromContext(ctx).DebugContext(ctx, "file event",
		"op", ev.Op.String(), "path", ev.Path, "old_path", ev.OldPath, "dir", ev.IsDir)
	select {
	case w.events <- ev:
	case <-ctx.Done():
	}
}

func (w *Watcher) emitError(err error) {
	select {
	case w.errors <- err:
	default:
		// Drop when the consumer is behind.
	}
}

// addRecursive watches dir and every non-excluded directory below it.
func (w *Watcher) addRecursive(ctx context.Context, dir string) error {
	logger := contextutil.LoggerFromContext(ctx)
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == dir {
				return err
			}
			logger.WarnContext(ctx, "skipping unreadable directory", "path", path, "error", err)
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if path != w.filter.Root() {
			rel, relErr := w.filter.RelPath(path)
			if relErr != nil || hidden(rel) || w.filter.Excluded(rel) {
				return filepath.SkipDir
			}
		}
		if err := w.fsw.Add(path); err != nil {
			if path == dir {
				return err
			}
			if errors.Is(err, fs.ErrNotExist) {
				return filepath.SkipDir
			}
			logger.WarnContext(ctx, "failed to watch directory", "path", path, "error", err)
			return nil
		}
		w.dirs[path] = struct{}{}
		return nil
	})
}

// hidden reports whether any component of rel starts with a dot.
func hidden(rel string) bool {
	for _, part := range strings.Split(rel, "/") {
		if strings.HasPrefix(part, ".") {
			return true
		}
	}
	return false
}
