// Package dispatch provides a serial executor: the single delivery point on
// which asynchronous results are applied to observable state.
package dispatch

import "sync"

// Executor runs posted functions.
type Executor interface {
	Post(fn func()) bool
}

// Queue runs posted functions one at a time, in order, on a dedicated
// goroutine. Post never blocks.
type Queue struct {
	mu      sync.Mutex
	pending []func()
	closed  bool
	wake    chan struct{}
	done    chan struct{}
}

// NewQueue starts a queue.
func NewQueue() *Queue {
	q := &Queue{
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
	}
	go q.run()
	return q
}

// Post schedules fn. It returns false once the queue is closed, in which
// case fn never runs.
func (q *Queue) Post(fn func()) bool {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return false
	}
	q.pending = append(q.pending, fn)
	q.mu.Unlock()
	select {
	case q.wake <- struct{}{}:
	default:
	}
	return true
}

// Sync blocks until every function posted before the call has run.
func (q *Queue) Sync() {
	ran := make(chan struct{})
	if !q.Post(func() { close(ran) }) {
		<-q.done
		return
	}
	select {
	case <-ran:
	case <-q.done:
	}
}

// Close runs what is already pending then stops the queue. Safe to call
// more than once.
func (q *Queue) Close() {
	q.mu.Lock()
	if !q.closed {
		q.closed = true
		select {
		case q.wake <- struct{}{}:
		default:
		}
	}
	q.mu.Unlock()
	<-q.done
}

func (q *Queue) run() {
	defer close(q.done)
	for range q.wake {
		for {
			q.mu.Lock()
			if len(q.pending) == 0 {
				closed := q.closed
				q.mu.Unlock()
				if closed {
					return
				}
				break
			}
			fn := q.pending[0]
			q.pending[0] = nil
			q.pending = q.pending[1:]
			q.mu.Unlock()
			fn()
		}
	}
}
