package persist

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/maruel/fsrecord/internal/cache"
	"github.com/maruel/fsrecord/internal/notify"
	"github.com/maruel/fsrecord/internal/store"
	"github.com/maruel/fsrecord/internal/watch"
	"github.com/maruel/ksid"
	"golang.org/x/time/rate"
)

// Object observes the record of type T selected by a context.
//
// Its value is shared with every other Object of the same Manager looking at
// the same file. Changes to the file on disk trigger a reload.
type Object[T any] struct {
	m           *Manager
	backend     Backend[T]
	typeName    string
	placeholder T
	limiter     *rate.Limiter
	sig         notify.Signal

	mu       sync.Mutex
	ctx      store.Context
	path     string
	gen      uint64 // bumped on every context change
	box      *cache.Box[T]
	unbox    func()
	attached *attachment
	loading  int
	lastLoad uint64 // last issued read
	applied  uint64 // last successful read
	readErr  error
	writeErr error
	closed   bool
}

// attachment is the file watch of the current context.
type attachment struct {
	handle *watch.Handle
	cancel context.CancelFunc
}

// NewObject returns a detached observer holding placeholder. A nil backend
// uses the Manager's store.
func NewObject[T any](m *Manager, placeholder T, b Backend[T]) *Object[T] {
	if b == nil {
		b = backendFor[T](m)
	}
	o := &Object[T]{
		m:           m,
		backend:     b,
		typeName:    store.TypeName[T](),
		placeholder: placeholder,
		limiter:     m.limiter(),
	}
	o.setBoxLocked(cache.NewBox("", placeholder))
	return o
}

// Value returns the current value.
func (o *Object[T]) Value() T {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.box.Value()
}

// State returns the synchronization state.
//
// It is the state of the shared value: an edit made through another observer
// of the same record is pending here too.
func (o *Object[T]) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return stateOf(o.box)
}

func stateOf[T any](b *cache.Box[T]) State {
	if t := b.Pending(); !t.IsZero() {
		return State{Kind: PendingChanges, Token: t}
	}
	if b.Loaded() {
		return State{Kind: Unmodified}
	}
	return State{Kind: Placeholder}
}

// Loading reports whether a read is in flight.
func (o *Object[T]) Loading() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.loading > 0
}

// ReadError returns the error of the last failed read, cleared by the next
// successful one.
func (o *Object[T]) ReadError() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.readErr
}

// WriteError returns the error of the last failed write, cleared by the next
// successful one.
func (o *Object[T]) WriteError() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.writeErr
}

// Context returns the current context, nil when detached.
func (o *Object[T]) Context() store.Context {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.ctx
}

// Path returns the file of the current context, empty when detached.
func (o *Object[T]) Path() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.path
}

// Subscribe returns a channel notified after every change of value or state.
func (o *Object[T]) Subscribe() (<-chan struct{}, func()) {
	return o.sig.Subscribe()
}

// SetContext selects the record to observe. Setting the current context is a
// no-op and nil detaches the observer.
//
// When another observer already holds the record, its value and pending
// edit are adopted without reading the file. Otherwise a read is started,
// joining the one of an observer whose first read is still in flight.
func (o *Object[T]) SetContext(c store.Context) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return watch.ErrClosed
	}
	return o.setContextLocked(c)
}

func (o *Object[T]) setContextLocked(c store.Context) error {
	if store.Equal(c, o.ctx) {
		return nil
	}
	path := ""
	if c != nil {
		var err error
		if path, err = o.m.layout.Path(o.typeName, c); err != nil {
			return err
		}
	}
	o.detachLocked()
	o.gen++
	o.ctx, o.path = c, path
	o.readErr, o.writeErr = nil, nil
	defer o.sig.Notify()
	if c == nil {
		o.setBoxLocked(cache.NewBox("", o.placeholder))
		return nil
	}
	o.attachLocked()
	b := cache.Acquire(o.m.registry, path, c.FileName(), o.placeholder)
	o.setBoxLocked(b)
	if !b.Loaded() {
		o.loadLocked(false, true)
	}
	return nil
}

// SetValue replaces the value as a local edit, shared with the other
// observers of the same record.
func (o *Object[T]) SetValue(v T) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.box.Edit(v)
	o.sig.Notify()
}

// Load reads the record of c, or of the current context when c is nil. A
// different context is selected first.
//
// The result replaces the value only if no local edit was made or saved
// since the read started and none is pending, unless force is set.
func (o *Object[T]) Load(c store.Context, force bool) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return watch.ErrClosed
	}
	if c != nil && !store.Equal(c, o.ctx) {
		issued := o.lastLoad
		if err := o.setContextLocked(c); err != nil {
			return err
		}
		if o.lastLoad != issued && !force {
			// The initial read is already in flight.
			return nil
		}
	}
	if o.ctx == nil {
		return nil
	}
	o.loadLocked(force, false)
	return nil
}

// Save writes the value when it has pending changes, or unconditionally
// when force is set. Nothing happens without a context.
func (o *Object[T]) Save(force bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed || o.ctx == nil {
		return
	}
	b := o.box
	token := b.Pending()
	if token.IsZero() && !force {
		return
	}
	gen, path, v := o.gen, o.path, b.Value()
	ctx := o.m.ctx
	o.m.goIO(func() {
		err := o.backend.Write(ctx, path, v)
		o.m.post(func() { o.applySave(gen, b, token, err) })
	})
}

// Close detaches the observer. It no longer changes afterward.
func (o *Object[T]) Close() {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return
	}
	o.closed = true
	o.gen++
	o.detachLocked()
	if o.unbox != nil {
		o.unbox()
		o.unbox = nil
	}
}

// loadLocked starts a read of the current file. A shared read joins the
// read of the same file by another observer still in flight.
func (o *Object[T]) loadLocked(force, shared bool) {
	o.lastLoad++
	seq, gen, path, b := o.lastLoad, o.gen, o.path, o.box
	r := b.BeginRead()
	read := func() (T, error) { return o.backend.Read(path) }
	if shared {
		ch := o.m.reads.DoChan(fmt.Sprintf("%p\x00%s", o.backend, path), func() (any, error) {
			return o.backend.Read(path)
		})
		read = func() (T, error) {
			res := <-ch
			v, _ := res.Val.(T)
			return v, res.Err
		}
	}
	started := o.m.goIO(func() {
		v, err := read()
		o.m.post(func() { o.applyLoad(b, r, seq, gen, force, v, err) })
	})
	if started {
		o.loading++
		o.sig.Notify()
	}
}

func (o *Object[T]) applyLoad(b *cache.Box[T], r cache.Read, seq, gen uint64, force bool, v T, err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.loading--
	defer o.sig.Notify()
	if err == nil {
		// The box outlives a context switch and other observers may share it.
		b.Apply(r, v, force)
	}
	if gen != o.gen || seq <= o.applied {
		return
	}
	if err != nil {
		o.readErr = err
		return
	}
	o.applied = seq
	o.readErr = nil
}

func (o *Object[T]) applySave(gen uint64, b *cache.Box[T], token ksid.ID, err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	defer o.sig.Notify()
	if err == nil {
		b.Saved(token)
	}
	if gen != o.gen {
		return
	}
	if err != nil {
		o.writeErr = err
		return
	}
	o.writeErr = nil
}

// reload is the watch callback.
func (o *Object[T]) reload(gen uint64) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed || gen != o.gen {
		return
	}
	o.loadLocked(false, false)
}

// setBoxLocked switches to b, relaying its changes to subscribers.
func (o *Object[T]) setBoxLocked(b *cache.Box[T]) {
	if b == o.box {
		return
	}
	if o.unbox != nil {
		o.unbox()
	}
	o.box = b
	c, cancel := b.Subscribe()
	o.unbox = cancel
	done := o.m.ctx.Done()
	go func() {
		for {
			select {
			case _, ok := <-c:
				if !ok {
					return
				}
				o.sig.Notify()
			case <-done:
				return
			}
		}
	}()
}

func (o *Object[T]) attachLocked() {
	h, err := o.m.watcher.WatchFile(o.path)
	if err != nil {
		slog.Warn("Failed to watch record", "path", o.path, "err", err)
		return
	}
	ctx, cancel := context.WithCancel(o.m.ctx)
	o.attached = &attachment{handle: h, cancel: cancel}
	c, unsub := h.Subscribe()
	gen := o.gen
	go func() {
		defer unsub()
		for {
			select {
			case <-c:
				if o.limiter.Wait(ctx) != nil {
					return
				}
				o.reload(gen)
			case <-ctx.Done():
				return
			}
		}
	}()
}

func (o *Object[T]) detachLocked() {
	if o.attached == nil {
		return
	}
	o.attached.cancel()
	o.attached.handle.Cancel()
	o.attached = nil
}
