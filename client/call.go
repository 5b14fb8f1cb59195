package client

import (
	"context"
	"sync"
)

// Call is a pending call: a future awaiting exactly one reply. It lives at
// the tail of the manager's queue from submission until the reconciler
// resolves it with the matching reply.
//
// Resolution happens at most once; whichever of resolve/reject runs first
// wins and later attempts are ignored, so a racing teardown can never
// overwrite a delivered result.
type Call struct {
	mu    sync.Mutex
	done  chan struct{}
	value any
	err   error
	seq   uint32
}

func newCall(seq uint32) *Call {
	return &Call{
		done: make(chan struct{}),
		seq:  seq,
	}
}

// failedCall is a call resolved before it was ever enqueued (reserved name,
// unknown operation, submission after close).
func failedCall(err error) *Call {
	c := newCall(0)
	c.reject(err)
	return c
}

// Done is closed once the call has resolved.
func (c *Call) Done() <-chan struct{} {
	return c.done
}

// Resolved reports whether the call has resolved, without blocking.
func (c *Call) Resolved() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

// Result blocks until the call resolves or ctx is done.
func (c *Call) Result(ctx context.Context) (any, error) {
	select {
	case <-c.done:
		return c.value, c.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Value returns the resolved value; nil until resolution.
func (c *Call) Value() any {
	if !c.Resolved() {
		return nil
	}
	return c.value
}

// Err returns the resolved failure; nil until resolution and on success.
func (c *Call) Err() error {
	if !c.Resolved() {
		return nil
	}
	return c.err
}

// Cancel always fails with ErrNotCancelable and never alters the call's
// eventual resolution.
func (c *Call) Cancel() error {
	return ErrNotCancelable
}

func (c *Call) resolve(value any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	select {
	case <-c.done:
		return
	default:
	}
	c.value = value
	close(c.done)
}

func (c *Call) reject(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	select {
	case <-c.done:
		return
	default:
	}
	c.err = err
	close(c.done)
}
