package client

import "sync"

// callQueue is the pending-call queue: the manager appends at the tail, the
// reconciler pops at the head. FIFO reply delivery means the head is always
// the call the next reply belongs to; there is no per-call routing.
//
// A closed queue is terminal. Once the reconciler has stopped, nothing will
// ever resolve a queued call, so a push after close fails with the teardown
// cause instead of stranding the caller on a call nobody owns.
type callQueue struct {
	mu     sync.Mutex
	calls  []*Call
	closed bool
	cause  error
}

func newCallQueue() *callQueue {
	return &callQueue{}
}

// push appends c, or reports the teardown cause once the queue is closed.
func (q *callQueue) push(c *Call) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return q.cause
	}
	q.calls = append(q.calls, c)
	return nil
}

// popHead removes and returns the oldest pending call, or nil.
func (q *callQueue) popHead() *Call {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.calls) == 0 {
		return nil
	}
	c := q.calls[0]
	q.calls = q.calls[1:]
	return c
}

// dropTail removes c if it is still the newest entry. Used to back out a
// call whose request failed to send: no reply will ever arrive for it, so it
// must not occupy a queue slot.
func (q *callQueue) dropTail(c *Call) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if n := len(q.calls); n > 0 && q.calls[n-1] == c {
		q.calls = q.calls[:n-1]
		return true
	}
	return false
}

// close marks the queue terminal and empties it, returning the stranded
// calls in submission order.
func (q *callQueue) close(cause error) []*Call {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
	q.cause = cause
	calls := q.calls
	q.calls = nil
	return calls
}

func (q *callQueue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.calls)
}
