// Package watch notifies subscribers when files or directories change on
// disk.
//
// A single [Watcher] owns one fsnotify instance and dispatches its events to
// [Handle]s. File handles watch the parent directory filtered to one name,
// so records replaced through an atomic rename keep being observed.
// Delivery is coalesced and never blocks the dispatch loop: consumers must
// re-read the file rather than trust an event.
package watch

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/maruel/fsrecord/internal/notify"
)

// ErrClosed is returned when watching through a closed Watcher.
var ErrClosed = errors.New("watcher closed")

// Watcher dispatches file system events to handles.
type Watcher struct {
	fsw *fsnotify.Watcher

	mu     sync.Mutex
	dirs   map[string]map[*sub]struct{} // watched dir -> subscriptions
	closed bool
	done   chan struct{}
}

// New starts a watcher. Call Close to release the OS resources.
func New() (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}
	w := &Watcher{
		fsw:  fsw,
		dirs: make(map[string]map[*sub]struct{}),
		done: make(chan struct{}),
	}
	go w.loop()
	return w, nil
}

// WatchFile watches a single file. When the file does not exist yet, an
// empty placeholder is created first so that records never saved can be
// observed.
func (w *Watcher) WatchFile(path string) (*Handle, error) {
	path, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil { //nolint:gosec // G301: 0o755 is intentional for data directories
			return nil, fmt.Errorf("failed to create directory for %s: %w", path, err)
		}
		f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY, 0o644) //nolint:gosec // G302: records are not secrets
		if err != nil {
			return nil, fmt.Errorf("failed to create placeholder %s: %w", path, err)
		}
		if err := f.Close(); err != nil {
			return nil, fmt.Errorf("failed to create placeholder %s: %w", path, err)
		}
	} else if err != nil {
		return nil, fmt.Errorf("failed to stat %s: %w", path, err)
	}
	return w.add(filepath.Dir(path), filepath.Base(path))
}

// WatchDir watches every visible entry directly inside dir, creating dir
// when missing.
func (w *Watcher) WatchDir(dir string) (*Handle, error) {
	dir, err := filepath.Abs(dir)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil { //nolint:gosec // G301: 0o755 is intentional for data directories
		return nil, fmt.Errorf("failed to create directory %s: %w", dir, err)
	}
	return w.add(dir, "")
}

// Close stops event delivery and releases the OS resources. Safe to call
// more than once.
func (w *Watcher) Close() error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.closed = true
	w.dirs = make(map[string]map[*sub]struct{})
	w.mu.Unlock()
	err := w.fsw.Close()
	<-w.done
	return err
}

// Watched returns the number of directories currently registered with the
// OS.
func (w *Watcher) Watched() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.dirs)
}

func (w *Watcher) add(dir, name string) (*Handle, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil, ErrClosed
	}
	subs := w.dirs[dir]
	if subs == nil {
		if err := w.fsw.Add(dir); err != nil {
			return nil, fmt.Errorf("failed to watch %s: %w", dir, err)
		}
		subs = make(map[*sub]struct{})
		w.dirs[dir] = subs
	}
	s := &sub{w: w, dir: dir, name: name}
	subs[s] = struct{}{}
	h := &Handle{s: s}
	// Handles dropped without Cancel still release their watch.
	runtime.AddCleanup(h, func(s *sub) { s.cancel() }, s)
	return h, nil
}

func (w *Watcher) remove(s *sub) {
	w.mu.Lock()
	defer w.mu.Unlock()
	subs := w.dirs[s.dir]
	if _, ok := subs[s]; !ok {
		return
	}
	delete(subs, s)
	if len(subs) == 0 {
		delete(w.dirs, s.dir)
		// The directory may already be gone, which removes the watch.
		_ = w.fsw.Remove(s.dir)
	}
}

func (w *Watcher) loop() {
	defer close(w.done)
	for {
		select {
		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			w.dispatch(event)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			slog.WarnContext(context.Background(), "Error watching files", "err", err)
		}
	}
}

func (w *Watcher) dispatch(event fsnotify.Event) {
	if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) && !event.Has(fsnotify.Remove) && !event.Has(fsnotify.Rename) {
		return
	}
	dir, name := filepath.Split(event.Name)
	dir = filepath.Clean(dir)
	w.mu.Lock()
	defer w.mu.Unlock()
	for s := range w.dirs[dir] {
		if s.name == name || (s.name == "" && !strings.HasPrefix(name, ".")) {
			s.sig.Notify()
		}
	}
}

// Handle is a subscription to changes of one file or directory.
type Handle struct {
	s *sub
}

// sub is the part of a Handle the Watcher references, so that an abandoned
// Handle can be collected.
type sub struct {
	w    *Watcher
	dir  string
	name string // empty for a directory watch
	sig  notify.Signal
	once sync.Once
}

func (s *sub) cancel() {
	s.once.Do(func() {
		s.w.remove(s)
	})
}

// Path returns the watched file or directory.
func (h *Handle) Path() string {
	if h.s.name == "" {
		return h.s.dir
	}
	return filepath.Join(h.s.dir, h.s.name)
}

// Subscribe returns a channel that receives a value after changes. Bursts
// of changes may be delivered as a single value.
func (h *Handle) Subscribe() (<-chan struct{}, func()) {
	return h.s.sig.Subscribe()
}

// Cancel stops delivery and releases the watch. Safe to call more than once.
func (h *Handle) Cancel() {
	h.s.cancel()
}
