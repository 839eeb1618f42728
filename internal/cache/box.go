package cache

import (
	"sync"

	"github.com/maruel/fsrecord/internal/notify"
	"github.com/maruel/ksid"
)

// Box holds the current in-memory value of one record and signals every
// change to it.
//
// A box also tracks the edits and reads applied to it so that observers
// sharing it agree on which file content is newer than the value.
type Box[T any] struct {
	key string

	mu      sync.RWMutex
	value   T
	loaded  bool
	pending ksid.ID // newest unsaved edit
	changes uint64  // bumped by every edit, save and Set
	reads   uint64  // last issued read
	applied uint64  // last applied read
	sig     notify.Signal
}

// Read is a read of the backing file registered with BeginRead.
type Read struct {
	seq     uint64
	changes uint64
}

// NewBox returns an unregistered box, for values without a context. The box
// is not loaded until a value is set, edited or read into it.
func NewBox[T any](key string, v T) *Box[T] {
	return &Box[T]{key: key, value: v}
}

// Key returns the context key the box was created for.
func (b *Box[T]) Key() string {
	return b.key
}

// Value returns the current value.
func (b *Box[T]) Value() T {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.value
}

// Loaded reports whether the value came from the file or a local edit
// rather than the placeholder.
func (b *Box[T]) Loaded() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.loaded
}

// Pending returns the token of the newest edit not saved yet, zero when the
// value matches the file.
func (b *Box[T]) Pending() ksid.ID {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.pending
}

// Set replaces the value with content known to match the file and notifies
// subscribers before returning.
func (b *Box[T]) Set(v T) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.value = v
	b.loaded = true
	b.pending = 0
	b.changes++
	b.sig.Notify()
}

// Edit replaces the value with an unsaved local change and returns its
// token.
func (b *Box[T]) Edit(v T) ksid.ID {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.value = v
	b.loaded = true
	b.pending = ksid.NewID()
	b.changes++
	b.sig.Notify()
	return b.pending
}

// Saved records that the edit identified by token reached the file. A zero
// token stands for the value as it is. It reports whether the box is clean
// afterward; a newer edit keeps it pending.
func (b *Box[T]) Saved(token ksid.ID) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.pending == token {
		b.pending = 0
		b.loaded = true
	}
	// Reads started before the write may return the previous content.
	b.changes++
	b.sig.Notify()
	return b.pending.IsZero()
}

// BeginRead registers a read of the backing file about to start.
func (b *Box[T]) BeginRead() Read {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.reads++
	return Read{seq: b.reads, changes: b.changes}
}

// Apply stores v, the result of r, and reports whether it was kept.
//
// A result older than one already applied is dropped. Unless force is set,
// so is a result that started before the last edit or save, or that would
// overwrite an unsaved edit. A forced result discards unsaved edits.
func (b *Box[T]) Apply(r Read, v T, force bool) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if r.seq <= b.applied {
		return false
	}
	if !force && (r.changes != b.changes || !b.pending.IsZero()) {
		return false
	}
	b.value = v
	b.loaded = true
	b.pending = 0
	b.applied = r.seq
	b.sig.Notify()
	return true
}

// Subscribe returns a channel receiving a notification after each change.
func (b *Box[T]) Subscribe() (<-chan struct{}, func()) {
	return b.sig.Subscribe()
}

func boxKey(path string) string {
	return "box\x00" + path
}

// GetOrCreate returns the shared box for path holding v.
//
// When a live box for path exists with the same context key, v is stored in
// it (notifying its subscribers) and it is returned. Otherwise a new box
// holding v is created and replaces the registry entry: for a different
// key, last created wins and the previous box lives on only for the
// observers still holding it.
func GetOrCreate[T any](r *Registry, path, key string, v T) *Box[T] {
	r.mu.Lock()
	defer r.mu.Unlock()
	if b := lookupLocked[Box[T]](r, boxKey(path)); b != nil && b.key == key {
		b.Set(v)
		return b
	}
	b := NewBox(key, v)
	b.Set(v)
	registerLocked(r, boxKey(path), b)
	return b
}

// Acquire returns the live box for path if it was created for key, as is.
// Otherwise it registers a new box holding placeholder, not loaded, with the
// same replacement rule as GetOrCreate.
func Acquire[T any](r *Registry, path, key string, placeholder T) *Box[T] {
	r.mu.Lock()
	defer r.mu.Unlock()
	if b := lookupLocked[Box[T]](r, boxKey(path)); b != nil && b.key == key {
		return b
	}
	b := NewBox(key, placeholder)
	registerLocked(r, boxKey(path), b)
	return b
}

// Lookup returns the live box for path if it was created for key.
func Lookup[T any](r *Registry, path, key string) *Box[T] {
	r.mu.Lock()
	defer r.mu.Unlock()
	if b := lookupLocked[Box[T]](r, boxKey(path)); b != nil && b.key == key {
		return b
	}
	return nil
}
