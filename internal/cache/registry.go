// Package cache deduplicates in-memory objects by key without keeping them
// alive.
//
// # Overview
//
// [Registry] maps keys to weak pointers. An object stays reachable through
// the registry only while something else holds a strong reference to it;
// once it is collected, lookups treat the entry as absent and a cleanup
// removes the entry, so the map never grows with dead keys.
//
// [Box] is the unit of sharing for persisted records: every observer of the
// same file holds the same Box, so an edit through one is immediately seen
// by the others without reading the file again.
package cache

import (
	"runtime"
	"sync"
	"weak"
)

// Registry is a weak, mutex-guarded key to object map. Create one per
// process (or per test) and pass it around.
type Registry struct {
	mu      sync.Mutex
	entries map[string]any // weak.Pointer[V] for any V
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]any)}
}

// Len returns the number of live entries.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.entries {
		if e.(interface{ alive() bool }).alive() {
			n++
		}
	}
	return n
}

// Shared returns the live object registered under key, or registers the
// result of create. The registry does not keep the object alive.
func Shared[V any](r *Registry, key string, create func() (*V, error)) (*V, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if v := lookupLocked[V](r, key); v != nil {
		return v, nil
	}
	v, err := create()
	if err != nil {
		return nil, err
	}
	registerLocked(r, key, v)
	return v, nil
}

// entry wraps a weak pointer so Len can check liveness without knowing V.
type entry[V any] struct {
	p weak.Pointer[V]
}

func (e entry[V]) alive() bool {
	return e.p.Value() != nil
}

func lookupLocked[V any](r *Registry, key string) *V {
	e, ok := r.entries[key].(entry[V])
	if !ok {
		return nil
	}
	return e.p.Value()
}

func registerLocked[V any](r *Registry, key string, v *V) {
	e := entry[V]{p: weak.Make(v)}
	r.entries[key] = e
	runtime.AddCleanup(v, r.expire, expiry{key: key, e: e})
}

type expiry struct {
	key string
	e   any
}

// expire removes the entry for a collected object unless it was replaced
// in the meantime.
func (r *Registry) expire(x expiry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cur, ok := r.entries[x.key]; ok && cur == x.e {
		delete(r.entries, x.key)
	}
}
