// Package notify implements a coalescing change signal with many
// subscribers.
package notify

import "sync"

// Signal broadcasts "something changed" to its subscribers.
//
// Each subscriber channel has a capacity of one and Notify never blocks: a
// burst of notifications collapses into a single pending receive. Receivers
// must re-read authoritative state instead of counting events.
//
// The zero value is ready to use.
type Signal struct {
	mu   sync.Mutex
	next int
	subs map[int]chan struct{}
}

// Subscribe returns a channel receiving notifications and a function that
// closes it. The function is safe to call more than once.
func (s *Signal) Subscribe() (<-chan struct{}, func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.subs == nil {
		s.subs = make(map[int]chan struct{})
	}
	id := s.next
	s.next++
	c := make(chan struct{}, 1)
	s.subs[id] = c
	return c, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if c, ok := s.subs[id]; ok {
			delete(s.subs, id)
			close(c)
		}
	}
}

// Notify wakes every subscriber.
func (s *Signal) Notify() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.subs {
		select {
		case c <- struct{}{}:
		default:
		}
	}
}

// Len returns the number of active subscribers.
func (s *Signal) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.subs)
}
