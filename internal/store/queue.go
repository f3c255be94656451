package store

import "sync"

// updateQueue serializes all writers touching one room's cache. Operations
// run in submission order on a single goroutine, so the mutation
// coordinator, the push reconciler and the paginator never interleave
// partial updates.
type updateQueue struct {
	ops chan func()

	mu     sync.Mutex
	closed bool
	done   chan struct{}
}

func newUpdateQueue() *updateQueue {
	q := &updateQueue{
		ops:  make(chan func(), 64),
		done: make(chan struct{}),
	}
	go q.run()
	return q
}

func (q *updateQueue) run() {
	defer close(q.done)
	for fn := range q.ops {
		fn()
	}
}

// do runs fn on the queue goroutine and waits for it to complete. After
// Close the operation runs inline, still serialized by the queue mutex, so
// callers never observe a failure.
func (q *updateQueue) do(fn func()) {
	q.mu.Lock()
	if q.closed {
		defer q.mu.Unlock()
		fn()
		return
	}
	ran := make(chan struct{})
	q.ops <- func() {
		fn()
		close(ran)
	}
	q.mu.Unlock()
	<-ran
}

func (q *updateQueue) close() {
	q.mu.Lock()
	if !q.closed {
		q.closed = true
		close(q.ops)
	}
	q.mu.Unlock()
	<-q.done
}
