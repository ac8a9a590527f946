package watcher

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/fsnotify/fsnotify"
)

// ErrClosed is returned by Add after Close.
var ErrClosed = errors.New("watcher closed")

// Watcher watches directory trees and emits debounced batches of changes.
type Watcher struct {
	fs        *fsnotify.Watcher
	debouncer *Debouncer
	opts      Options
	errors    chan error

	mu     sync.RWMutex
	roots  []string            // watched directory roots
	files  map[string]struct{} // roots that are single files
	closed bool

	done chan struct{}
	wg   sync.WaitGroup
}

// New creates a watcher. Nothing is watched until Add is called.
func New(opts Options) (*Watcher, error) {
	opts = opts.WithDefaults()
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create fsnotify watcher: %w", err)
	}
	w := &Watcher{
		fs:        fsw,
		debouncer: NewDebouncer(opts.DebounceWindow, opts.BatchBuffer),
		opts:      opts,
		errors:    make(chan error, 10),
		files:     make(map[string]struct{}),
		done:      make(chan struct{}),
	}
	w.wg.Add(1)
	go w.loop()
	return w, nil
}

// Add watches root. A directory is watched recursively, including
// directories created later. A regular file is watched through its parent.
func (w *Watcher) Add(root string) error {
	abs, err := filepath.Abs(root)
	if err != nil {
		return fmt.Errorf("resolve absolute path: %w", err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return err
	}

	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return ErrClosed
	}
	if info.IsDir() {
		w.roots = append(w.roots, abs)
	} else {
		w.files[abs] = struct{}{}
	}
	w.mu.Unlock()

	if !info.IsDir() {
		return w.fs.Add(filepath.Dir(abs))
	}
	return w.addTree(abs, nil)
}

// addTree adds every directory under dir. When found is set it receives
// the regular files already present.
func (w *Watcher) addTree(dir string, found func(string)) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			slog.Debug("watch_walk_skipped", slog.String("path", path), slog.String("error", err.Error()))
			return nil
		}
		if path != dir && w.ignored(path) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			if err := w.fs.Add(path); err != nil {
				return fmt.Errorf("watch %s: %w", path, err)
			}
			return nil
		}
		if found != nil && d.Type().IsRegular() {
			found(path)
		}
		return nil
	})
}

// Roots returns the watched roots.
func (w *Watcher) Roots() []string {
	w.mu.RLock()
	defer w.mu.RUnlock()
	roots := append([]string(nil), w.roots...)
	for f := range w.files {
		roots = append(roots, f)
	}
	return roots
}

func (w *Watcher) loop() {
	defer w.wg.Done()
	for {
		select {
		case <-w.done:
			return
		case ev, ok := <-w.fs.Events:
			if !ok {
				return
			}
			w.handle(ev)
		case err, ok := <-w.fs.Errors:
			if !ok {
				return
			}
			w.emitError(err)
		}
	}
}

func (w *Watcher) handle(ev fsnotify.Event) {
	path := ev.Name
	if !w.watched(path) || w.ignored(path) {
		return
	}

	var op Operation
	switch {
	case ev.Op.Has(fsnotify.Create):
		info, err := os.Lstat(path)
		if err != nil {
			return
		}
		if info.IsDir() {
			err := w.addTree(path, func(file string) {
				w.debouncer.Add(FileEvent{Path: file, Operation: OpCreate, Timestamp: time.Now()})
			})
			if err != nil {
				w.emitError(err)
			}
			return
		}
		if !info.Mode().IsRegular() {
			return
		}
		op = OpCreate
	case ev.Op.Has(fsnotify.Write):
		op = OpModify
	case ev.Op.Has(fsnotify.Remove), ev.Op.Has(fsnotify.Rename):
		// A renamed file shows up again as a Create under its new name.
		op = OpDelete
	default:
		return
	}

	w.debouncer.Add(FileEvent{Path: path, Operation: op, Timestamp: time.Now()})
}

// watched reports whether path belongs to a root. Events for siblings of a
// single-file root arrive through the shared parent and are dropped.
func (w *Watcher) watched(path string) bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if _, ok := w.files[path]; ok {
		return true
	}
	for _, root := range w.roots {
		if within(root, path) {
			return true
		}
	}
	return false
}

func (w *Watcher) ignored(path string) bool {
	for _, ex := range w.opts.Exclude {
		if ex != "" && within(ex, path) {
			return true
		}
	}
	name := filepath.Base(path)
	if name == ".git" || strings.Contains(filepath.ToSlash(path), "/.git/") {
		return true
	}
	for _, p := range w.opts.IgnorePatterns {
		if ok, _ := doublestar.Match(p, name); ok {
			return true
		}
	}
	return w.opts.Ignore != nil && w.opts.Ignore(path)
}

func (w *Watcher) emitError(err error) {
	select {
	case w.errors <- err:
	default:
		slog.Warn("watch_error_dropped", slog.String("error", err.Error()))
	}
}

// Events returns the channel of debounced batches. It is closed by Close.
func (w *Watcher) Events() <-chan []FileEvent {
	return w.debouncer.Output()
}

// Errors returns non-fatal watch errors. It is closed by Close.
func (w *Watcher) Errors() <-chan error {
	return w.errors
}

// Close stops watching. Pending events are discarded.
// Safe to call multiple times.
func (w *Watcher) Close() error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.closed = true
	w.mu.Unlock()

	close(w.done)
	err := w.fs.Close()
	w.wg.Wait()
	w.debouncer.Stop()
	close(w.errors)
	return err
}

// within reports whether path is dir or below it.
func within(dir, path string) bool {
	rel, err := filepath.Rel(dir, path)
	return err == nil && rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}
