package watcher

import (
	"fmt"
	"hxindex/internal/core/errors"
	"hxindex/internal/shared/observability"
	"hxindex/internal/shared/util"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/gobwas/glob"
)

const cacheDirName = "__pycache__"

const contentOps = fsnotify.Write | fsnotify.Create | fsnotify.Remove | fsnotify.Rename

// Watcher reports batches of changed file paths below a set of roots.
// Changes are debounced, and a limiter caps how many paths are delivered per
// flush; paths over budget wait for the next one.
type Watcher struct {
	fsWatcher   *fsnotify.Watcher
	debounce    time.Duration
	excludeDirs []glob.Glob
	accept      func(string) bool
	limiter     *util.Limiter
	onChange    func([]string)
	callbackMu  sync.Mutex

	pending   map[string]struct{}
	pendingMu sync.Mutex
	timer     *time.Timer
	closed    bool
}

// NewWatcher builds a watcher. accept filters file paths and may be nil to
// accept everything.
func NewWatcher(debounce time.Duration, excludeDirs []string, accept func(string) bool, onChange func([]string)) (*Watcher, error) {
	if onChange == nil {
		return nil, os.ErrInvalid
	}

	compiled := make([]glob.Glob, 0, len(excludeDirs))
	for _, pattern := range excludeDirs {
		g, err := glob.Compile(pattern)
		if err != nil {
			return nil, errors.Wrap(err, errors.CodeValidationError, fmt.Sprintf("invalid exclude pattern %q", pattern))
		}
		compiled = append(compiled, g)
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeInternal, "create fsnotify watcher")
	}

	if accept == nil {
		accept = func(string) bool { return true }
	}
	return &Watcher{
		fsWatcher:   fsw,
		debounce:    debounce,
		excludeDirs: compiled,
		accept:      accept,
		limiter:     util.NewLimiter(0, 1),
		onChange:    onChange,
		pending:     make(map[string]struct{}),
	}, nil
}

// SetLimiter caps delivered paths at the limiter's rate.
func (w *Watcher) SetLimiter(l *util.Limiter) {
	w.pendingMu.Lock()
	defer w.pendingMu.Unlock()
	if l != nil {
		w.limiter = l
	}
}

func (w *Watcher) SetDebounce(debounce time.Duration) {
	w.pendingMu.Lock()
	defer w.pendingMu.Unlock()
	w.debounce = debounce
}

func (w *Watcher) Watch(paths []string) error {
	for _, path := range paths {
		if err := w.watchRecursive(path); err != nil {
			return errors.AddContext(errors.Wrap(err, errors.CodeInternal, "watch directory"), errors.CtxPath, path)
		}
	}

	go w.run()
	return nil
}

func (w *Watcher) watchRecursive(root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if path != root && w.shouldExcludeDir(path) {
			return filepath.SkipDir
		}
		return w.fsWatcher.Add(path)
	})
}

func (w *Watcher) run() {
	for {
		select {
		case event, ok := <-w.fsWatcher.Events:
			if !ok {
				return
			}
			observability.WatcherEventsTotal.Inc()
			w.handleEvent(event)

		case err, ok := <-w.fsWatcher.Errors:
			if !ok {
				return
			}
			slog.Error("watcher error", "error", err)
		}
	}
}

// handleEvent starts watching created directories and queues accepted files.
// Chmod-only events carry no content change.
func (w *Watcher) handleEvent(event fsnotify.Event) {
	if event.Has(fsnotify.Create) && util.IsDir(event.Name) {
		if w.shouldExcludeDir(event.Name) {
			return
		}
		if err := w.watchRecursive(event.Name); err != nil {
			slog.Warn("failed to watch new directory", "path", event.Name, "error", err)
			return
		}
		w.enqueueExistingFiles(event.Name)
		return
	}
	if event.Op&contentOps == 0 || !w.accept(event.Name) {
		return
	}
	w.scheduleChange(event.Name)
}

func (w *Watcher) scheduleChange(path string) {
	w.pendingMu.Lock()
	defer w.pendingMu.Unlock()

	w.pending[path] = struct{}{}
	w.resetTimerLocked()
}

func (w *Watcher) resetTimerLocked() {
	if w.closed {
		return
	}
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.debounce, w.flushChanges)
}

func (w *Watcher) flushChanges() {
	w.pendingMu.Lock()
	all := make([]string, 0, len(w.pending))
	for path := range w.pending {
		all = append(all, path)
	}
	sort.Strings(all)

	ready := all[:0:0]
	for _, path := range all {
		if !w.limiter.Allow(1) {
			break
		}
		ready = append(ready, path)
		delete(w.pending, path)
	}
	if len(w.pending) > 0 {
		slog.Debug("watcher deferred changes over rate limit", "deferred", len(w.pending))
		w.resetTimerLocked()
	}
	w.pendingMu.Unlock()

	if len(ready) > 0 {
		w.callbackMu.Lock()
		defer w.callbackMu.Unlock()
		w.onChange(ready)
	}
}

func (w *Watcher) shouldExcludeDir(path string) bool {
	base := filepath.Base(path)
	if base == cacheDirName {
		return true
	}
	for _, g := range w.excludeDirs {
		if g.Match(base) {
			return true
		}
	}
	return false
}

func (w *Watcher) Close() error {
	w.pendingMu.Lock()
	w.closed = true
	if w.timer != nil {
		w.timer.Stop()
	}
	w.pendingMu.Unlock()
	return w.fsWatcher.Close()
}

func (w *Watcher) enqueueExistingFiles(root string) {
	_ = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			if path != root && w.shouldExcludeDir(path) {
				return filepath.SkipDir
			}
			return nil
		}
		if w.accept(path) {
			w.scheduleChange(path)
		}
		return nil
	})
}
