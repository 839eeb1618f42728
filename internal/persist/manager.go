// Package persist keeps in-memory records synchronized with their files.
//
// # Overview
//
// A [Manager] is the process-wide service: it resolves paths, shares record
// values through a weak cache, watches files and applies the results of
// background reads and writes on a single dispatch queue.
//
// [Object] observes one record selected by a [store.Context]. [Query]
// observes every record of a type matching a [query.Query]. Both expose their
// state through accessors and a change signal; reads and writes never block
// the caller and their errors are reported through the observer, not
// returned.
//
// # Recency
//
// Every local edit mints a change token held by the shared value. A save
// only marks the value clean when no newer edit happened while it was in
// flight, and a load only replaces it when it is the newest read of the file,
// no edit or save happened since it started and no edit is pending. Every
// observer of a record therefore agrees on its state.
//
// [Save], [Load], [Delete] and [List] are the synchronous counterparts for
// callers that do not need observation.
package persist

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"

	"github.com/maruel/fsrecord/internal/cache"
	"github.com/maruel/fsrecord/internal/codec"
	"github.com/maruel/fsrecord/internal/dispatch"
	"github.com/maruel/fsrecord/internal/history"
	"github.com/maruel/fsrecord/internal/store"
	"github.com/maruel/fsrecord/internal/watch"
	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"
)

// DefaultReloadLimit is the rate at which one observer reloads on file
// changes when Config.ReloadLimit is zero.
const DefaultReloadLimit = rate.Limit(10)

// Config configures a Manager.
type Config struct {
	// Root is the data directory. Records live in Root/db/<TypeName>/.
	Root string
	// Codec encodes records. Defaults to codec.JSON.
	Codec codec.Codec
	// History, when set, receives a commit for every write and delete.
	History *history.Repo
	// ReloadLimit throttles reloads triggered by file changes, per observer.
	ReloadLimit rate.Limit
	// ReloadBurst is the limiter burst. Defaults to 1.
	ReloadBurst int
}

// Manager owns the shared services observers rely on.
type Manager struct {
	layout   store.Layout
	codec    codec.Codec
	history  *history.Repo
	registry *cache.Registry
	watcher  *watch.Watcher
	queue    *dispatch.Queue
	limit    rate.Limit
	burst    int

	// reads merges the first reads of observers selecting the same record.
	reads singleflight.Group
	// mu guards the reference counts of directory watches.
	mu sync.Mutex

	ctx    context.Context
	cancel context.CancelFunc
	io     inflight
}

// New starts a Manager. Call Close to stop it.
func New(cfg Config) (*Manager, error) {
	if cfg.Root == "" {
		return nil, errors.New("root directory is required")
	}
	root, err := filepath.Abs(cfg.Root)
	if err != nil {
		return nil, err
	}
	c := cfg.Codec
	if c == nil {
		c = codec.JSON
	}
	w, err := watch.New()
	if err != nil {
		return nil, err
	}
	m := &Manager{
		layout:   store.Layout{Root: root, Ext: c.Ext()},
		codec:    c,
		history:  cfg.History,
		registry: cache.NewRegistry(),
		watcher:  w,
		queue:    dispatch.NewQueue(),
		limit:    cfg.ReloadLimit,
		burst:    cfg.ReloadBurst,
	}
	if m.limit == 0 {
		m.limit = DefaultReloadLimit
	}
	if m.burst <= 0 {
		m.burst = 1
	}
	m.io.cond.L = &m.io.mu
	m.ctx, m.cancel = context.WithCancel(context.Background())
	return m, nil
}

// Close waits for in-flight I/O then stops the dispatch queue and the file
// watcher. Observers stop receiving updates.
func (m *Manager) Close() error {
	m.io.close()
	m.cancel()
	m.io.wait()
	m.queue.Close()
	if err := m.watcher.Close(); err != nil {
		return fmt.Errorf("failed to close watcher: %w", err)
	}
	return nil
}

// Sync blocks until every read and write started so far completed and its
// result was applied.
func (m *Manager) Sync() {
	for {
		m.io.wait()
		m.queue.Sync()
		if m.io.idle() {
			return
		}
	}
}

// Layout returns the path layout.
func (m *Manager) Layout() store.Layout {
	return m.layout
}

// Registry returns the cache shared by every observer of this Manager.
func (m *Manager) Registry() *cache.Registry {
	return m.registry
}

// History returns the history repository, nil when disabled.
func (m *Manager) History() *history.Repo {
	return m.history
}

func (m *Manager) limiter() *rate.Limiter {
	return rate.NewLimiter(m.limit, m.burst)
}

// goIO runs fn on its own goroutine, tracked by Sync and Close. It returns
// false once the Manager is closed.
func (m *Manager) goIO(fn func()) bool {
	if !m.io.add() {
		return false
	}
	go func() {
		defer m.io.done()
		fn()
	}()
	return true
}

// post applies fn on the dispatch queue.
func (m *Manager) post(fn func()) {
	m.queue.Post(fn)
}

// backendFor returns the store of T, shared by the observers using it.
func backendFor[T any](m *Manager) Backend[T] {
	s, _ := cache.Shared(m.registry, "store\x00"+store.TypeName[T](), func() (*store.Store[T], error) {
		if m.history != nil {
			return store.New[T](m.codec, store.WithHistory(m.history)), nil
		}
		return store.New[T](m.codec), nil
	})
	return s
}

// dirWatch is the watch of a type directory, shared by the queries of that
// type. The last release cancels it.
type dirWatch struct {
	h    *watch.Handle
	refs int
}

func (m *Manager) acquireDir(dir string) (*dirWatch, *watch.Handle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	dw, err := cache.Shared(m.registry, "watch\x00"+dir, func() (*dirWatch, error) {
		return &dirWatch{}, nil
	})
	if err != nil {
		return nil, nil, err
	}
	if dw.refs == 0 {
		if dw.h, err = m.watcher.WatchDir(dir); err != nil {
			return nil, nil, err
		}
	}
	dw.refs++
	return dw, dw.h, nil
}

func (m *Manager) releaseDir(dw *dirWatch) {
	m.mu.Lock()
	defer m.mu.Unlock()
	dw.refs--
	if dw.refs == 0 {
		dw.h.Cancel()
		dw.h = nil
	}
}

// inflight counts running I/O goroutines.
type inflight struct {
	mu     sync.Mutex
	cond   sync.Cond
	n      int
	closed bool
}

func (f *inflight) add() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return false
	}
	f.n++
	return true
}

func (f *inflight) done() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.n--
	if f.n == 0 {
		f.cond.Broadcast()
	}
}

func (f *inflight) wait() {
	f.mu.Lock()
	defer f.mu.Unlock()
	for f.n != 0 {
		f.cond.Wait()
	}
}

func (f *inflight) idle() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.n == 0
}

func (f *inflight) close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
}
