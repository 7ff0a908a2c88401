package watch

import (
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// Watcher monitors a set of root directories recursively and delivers
// normalized change events to a callback from a single background
// goroutine.
//
// Directories created after Start are not added to the watch list; the
// watcher has to be restarted to pick them up. This is a documented
// limitation, not an oversight.
type Watcher struct {
	logger  *slog.Logger
	ignores []string

	mu      sync.Mutex
	fw      *fsnotify.Watcher
	done    chan struct{}
	running bool
}

// WatcherOption configures a Watcher.
type WatcherOption func(*Watcher)

// WithWatcherLogger sets the logger used for worker diagnostics.
func WithWatcherLogger(logger *slog.Logger) WatcherOption {
	return func(w *Watcher) {
		w.logger = logger
	}
}

// WithIgnores adds glob patterns (matched against the base name) whose
// events are dropped, in addition to the built-in editor-noise filter.
func WithIgnores(patterns []string) WatcherOption {
	return func(w *Watcher) {
		w.ignores = patterns
	}
}

// NewWatcher creates a watcher. The underlying OS watch handle is not
// allocated until Start.
func NewWatcher(opts ...WatcherOption) *Watcher {
	w := &Watcher{logger: slog.Default()}

	for _, opt := range opts {
		opt(w)
	}

	return w
}

// Start begins monitoring the given roots recursively. It is idempotent:
// when the watcher is already running it returns (false, nil) and
// performs no new registration. Roots or subdirectories that are missing
// or unreadable are skipped with a warning, never fatal.
func (w *Watcher) Start(roots []string, fn func(Event)) (bool, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.running {
		return false, nil
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return false, fmt.Errorf("creating watcher: %w", err)
	}

	for _, root := range roots {
		w.addRecursive(fw, root)
	}

	w.fw = fw
	w.done = make(chan struct{})
	w.running = true

	go w.loop(fw, w.done, fn)

	return true, nil
}

// Stop signals the worker to halt and releases the OS watch handle.
// After Stop returns no new callback fires; a callback already in flight
// may still complete. Safe to call multiple times.
func (w *Watcher) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.running {
		return
	}

	w.running = false
	close(w.done)

	_ = w.fw.Close()
	w.fw = nil
}

// Watching reports whether the background worker is running.
func (w *Watcher) Watching() bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	return w.running
}

// WatchList returns the directories currently registered with the OS
// watch facility. Empty when stopped.
func (w *Watcher) WatchList() []string {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.fw == nil {
		return nil
	}

	return w.fw.WatchList()
}

// addRecursive walks root and registers every readable directory,
// skipping hidden ones. Registration failures are logged and skipped.
func (w *Watcher) addRecursive(fw *fsnotify.Watcher, root string) {
	walkErr := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			w.logger.Warn("skipping unreadable path",
				slog.String("path", path),
				slog.String("error", err.Error()),
			)

			if d != nil && d.IsDir() {
				return filepath.SkipDir
			}

			return nil
		}

		if !d.IsDir() {
			return nil
		}

		// Skip hidden directories (e.g. .git) below the root itself.
		if strings.HasPrefix(d.Name(), ".") && path != root {
			return filepath.SkipDir
		}

		if addErr := fw.Add(path); addErr != nil {
			w.logger.Warn("skipping unwatchable directory",
				slog.String("path", path),
				slog.String("error", addErr.Error()),
			)
		}

		return nil
	})
	if walkErr != nil {
		w.logger.Warn("walking root failed",
			slog.String("root", root),
			slog.String("error", walkErr.Error()),
		)
	}
}

// loop is the background worker. It parks on the fsnotify channels and
// the done channel, so a stop request wakes it immediately.
func (w *Watcher) loop(fw *fsnotify.Watcher, done <-chan struct{}, fn func(Event)) {
	for {
		select {
		case ev, ok := <-fw.Events:
			if !ok {
				return
			}

			if !w.relevant(ev) {
				continue
			}

			kind, ok := eventKind(ev.Op)
			if !ok {
				continue
			}

			w.dispatch(fn, Event{Path: ev.Name, Kind: kind})

		case err, ok := <-fw.Errors:
			if !ok {
				return
			}

			w.logger.Error("watch loop error", slog.String("error", err.Error()))

		case <-done:
			return
		}
	}
}

// dispatch invokes the callback with per-event failure isolation: a
// panicking callback is logged and never terminates the worker.
func (w *Watcher) dispatch(fn func(Event), ev Event) {
	defer func() {
		if r := recover(); r != nil {
			w.logger.Error("watch callback panicked",
				slog.String("path", ev.Path),
				slog.Any("error", r),
			)
		}
	}()

	fn(ev)
}

// relevant filters out events on hidden files, editor temp files, and
// paths matching a configured ignore pattern.
func (w *Watcher) relevant(ev fsnotify.Event) bool {
	if ev.Op == 0 {
		return false
	}

	name := filepath.Base(ev.Name)

	if strings.HasPrefix(name, ".") || strings.HasSuffix(name, "~") ||
		strings.HasSuffix(name, ".swp") || strings.HasPrefix(name, "#") {
		return false
	}

	for _, pattern := range w.ignores {
		if matched, _ := filepath.Match(pattern, name); matched {
			return false
		}
	}

	// Events on directories themselves are not file changes.
	if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
		return false
	}

	return true
}
