// Package dispatch runs units of work on background goroutines and marshals
// their completions onto a single designated goroutine, so callers always
// observe completions one at a time and in completion order.
package dispatch

import "sync"

type Queue struct {
	mu          sync.Mutex
	closed      bool
	completions chan func()
	closeOnce   sync.Once
	done        chan struct{}
}

func NewQueue() *Queue {
	q := &Queue{
		completions: make(chan func(), 64),
		done:        make(chan struct{}),
	}
	go q.run()
	return q
}

func (q *Queue) run() {
	for fn := range q.completions {
		fn()
	}
	close(q.done)
}

// Close stops accepting work and waits for queued completions to drain.
// Work still in flight keeps running; its completion is dropped.
func (q *Queue) Close() {
	q.closeOnce.Do(func() {
		q.mu.Lock()
		q.closed = true
		q.mu.Unlock()
		close(q.completions)
	})
	<-q.done
}

// Async runs work on its own goroutine. Fire and forget.
func (q *Queue) Async(work func()) {
	go work()
}

// Go runs work on its own goroutine and hands (result, err) to complete on
// the queue goroutine. complete is invoked at most once, and never after
// Close has returned.
func Go[T any](q *Queue, work func() (T, error), complete func(T, error)) {
	go func() {
		result, err := work()
		if complete == nil {
			return
		}
		q.mu.Lock()
		defer q.mu.Unlock()
		if q.closed {
			return
		}
		q.completions <- func() {
			complete(result, err)
		}
	}()
}
