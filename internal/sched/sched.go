// Package sched serializes access to the single transport resource.
// Operations run strictly one at a time in arrival order; a waiter
// whose context is cancelled never runs and never blocks the queue.
package sched

import (
	"context"
	"sync"
)

// Link is the serialized resource: the transport's buffered bytes and
// the connection's IO handle, both reset at operation boundaries.
type Link interface {
	ClearLeftover()
	ReleaseIO()
}

type waiter struct {
	ready   chan struct{}
	granted bool
}

// Scheduler grants exclusive turns over the link.
type Scheduler struct {
	link Link

	mu    sync.Mutex
	busy  bool
	queue []*waiter
}

// New creates a scheduler for the given link.
func New(link Link) *Scheduler {
	return &Scheduler{link: link}
}

// Run waits for its turn, clears stale leftover bytes, and executes fn.
// Whether fn succeeds or fails, the connection's IO handle is released
// and the next waiter is granted the turn. If ctx is cancelled while
// waiting, fn never runs.
func (s *Scheduler) Run(ctx context.Context, fn func(context.Context) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	if !s.busy {
		s.busy = true
		s.mu.Unlock()
	} else {
		w := &waiter{ready: make(chan struct{})}
		s.queue = append(s.queue, w)
		s.mu.Unlock()

		select {
		case <-w.ready:
		case <-ctx.Done():
			s.mu.Lock()
			if w.granted {
				// The turn arrived while we were cancelling; pass it on.
				s.mu.Unlock()
				s.finish()
				return ctx.Err()
			}
			s.remove(w)
			s.mu.Unlock()
			return ctx.Err()
		}
	}

	defer s.finish()

	s.link.ClearLeftover()
	return fn(ctx)
}

// finish releases the IO handle and hands the turn to the next waiter.
func (s *Scheduler) finish() {
	s.link.ReleaseIO()

	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.queue) == 0 {
		s.busy = false
		return
	}
	next := s.queue[0]
	s.queue = s.queue[1:]
	next.granted = true
	close(next.ready)
}

// remove drops a cancelled waiter from the queue. Caller holds s.mu.
func (s *Scheduler) remove(w *waiter) {
	for i, q := range s.queue {
		if q == w {
			s.queue = append(s.queue[:i], s.queue[i+1:]...)
			return
		}
	}
}
