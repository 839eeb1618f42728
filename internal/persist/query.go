package persist

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"sync"

	"github.com/maruel/fsrecord/internal/notify"
	"github.com/maruel/fsrecord/internal/query"
	"github.com/maruel/fsrecord/internal/store"
	"golang.org/x/time/rate"
)

// Query observes the records of type T selected by a query.Query.
//
// Files that cannot be decoded or vanished while reading are skipped. The
// type directory is watched and every change triggers a reload.
type Query[T any] struct {
	m       *Manager
	backend Backend[T]
	dir     string
	limiter *rate.Limiter
	sig     notify.Signal
	watch   *dirWatch // shared by every Query of the directory
	cancel  context.CancelFunc

	mu       sync.Mutex
	q        query.Query
	gen      uint64 // bumped on every query change
	lastLoad uint64
	keys     []string
	values   []T
	state    State
	loading  int
	readErr  error
	closed   bool
}

// NewQuery returns an observer of q, which may be nil for an empty
// placeholder. A nil backend uses the Manager's store.
func NewQuery[T any](m *Manager, q query.Query, b Backend[T]) (*Query[T], error) {
	if b == nil {
		b = backendFor[T](m)
	}
	dir := m.layout.Dir(store.TypeName[T]())
	dw, h, err := m.acquireDir(dir)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithCancel(m.ctx)
	o := &Query[T]{
		m:       m,
		backend: b,
		dir:     dir,
		limiter: m.limiter(),
		watch:   dw,
		cancel:  cancel,
	}
	c, unsub := h.Subscribe()
	go func() {
		defer unsub()
		for {
			select {
			case <-c:
				if o.limiter.Wait(ctx) != nil {
					return
				}
				o.Reload()
			case <-ctx.Done():
				return
			}
		}
	}()
	o.SetQuery(q)
	return o, nil
}

// Values returns the matching records, ordered by file name.
func (o *Query[T]) Values() []T {
	o.mu.Lock()
	defer o.mu.Unlock()
	return slices.Clone(o.values)
}

// Keys returns the keys of the matching records, parallel to Values.
func (o *Query[T]) Keys() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return slices.Clone(o.keys)
}

// State returns Placeholder until a result is applied, then Unmodified.
func (o *Query[T]) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

// Loading reports whether a resolution is in flight.
func (o *Query[T]) Loading() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.loading > 0
}

// ReadError returns the error of the last failed resolution, cleared by the
// next successful one.
func (o *Query[T]) ReadError() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.readErr
}

// Query returns the current query.
func (o *Query[T]) Query() query.Query {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.q
}

// Subscribe returns a channel notified after every change of values or state.
func (o *Query[T]) Subscribe() (<-chan struct{}, func()) {
	return o.sig.Subscribe()
}

// SetQuery replaces the query and resolves it. nil resets to an empty
// placeholder.
func (o *Query[T]) SetQuery(q query.Query) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return
	}
	o.gen++
	o.q = q
	o.keys, o.values = nil, nil
	o.state = State{Kind: Placeholder}
	o.readErr = nil
	o.sig.Notify()
	o.loadLocked()
}

// Reload resolves the current query again.
func (o *Query[T]) Reload() {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return
	}
	o.loadLocked()
}

// Close stops observing. The shared directory watch is released once no
// Query uses it.
func (o *Query[T]) Close() {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return
	}
	o.closed = true
	o.gen++
	o.cancel()
	o.m.releaseDir(o.watch)
}

func (o *Query[T]) loadLocked() {
	if o.q == nil {
		return
	}
	o.lastLoad++
	seq, gen, q := o.lastLoad, o.gen, o.q
	started := o.m.goIO(func() {
		keys, values, err := readAll(o.backend, o.dir, q)
		o.m.post(func() { o.apply(seq, gen, keys, values, err) })
	})
	if started {
		o.loading++
		o.sig.Notify()
	}
}

func (o *Query[T]) apply(seq, gen uint64, keys []string, values []T, err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.loading--
	defer o.sig.Notify()
	if gen != o.gen || seq != o.lastLoad {
		return
	}
	if err != nil {
		o.readErr = err
		o.keys, o.values = nil, nil
		o.state = State{Kind: Placeholder}
		return
	}
	o.readErr = nil
	o.keys, o.values = keys, values
	o.state = State{Kind: Unmodified}
}

// readAll resolves q in dir and reads every record, skipping the ones that
// are gone or cannot be decoded. A missing directory has no records.
func readAll[T any](b Backend[T], dir string, q query.Query) ([]string, []T, error) {
	paths, err := q.Paths(dir, b.List)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, nil, nil
		}
		return nil, nil, err
	}
	slices.Sort(paths)
	keys := make([]string, 0, len(paths))
	values := make([]T, 0, len(paths))
	for _, p := range paths {
		v, err := b.Read(p)
		if err != nil {
			var de *store.DecodeError
			switch {
			case errors.As(err, &de):
				slog.Warn("Skipping undecodable record", "path", p, "err", de.Err)
				continue
			case errors.Is(err, store.ErrNotFound):
				slog.Debug("Skipping missing record", "path", p)
				continue
			}
			return nil, nil, err
		}
		keys = append(keys, store.KeyOf(p))
		values = append(values, v)
	}
	return keys, values, nil
}
