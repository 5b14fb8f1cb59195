package client

import (
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/dustyrockpyle/mpworker/protocol"
	"github.com/dustyrockpyle/mpworker/transport"
)

// reconciler continuously drains the endpoint on its own goroutine and
// resolves the head of the pending-call queue with each arriving reply.
// Resolution is marshaled through the scheduler rather than performed here,
// so the goroutine never mutates call state the owning context might be
// reading.
//
// It holds only what it needs — not the Manager — so a dropped Manager stays
// collectible and its leak-guard cleanup can fire.
type reconciler struct {
	ep           *transport.Endpoint
	queue        *callQueue
	sched        Scheduler
	proc         Process
	logger       *zap.Logger
	pollInterval time.Duration
	faultGrace   time.Duration
	closing      *atomic.Bool
}

// run polls until the transport fails or worker-closed is observed, then
// tears down whatever is still pending.
func (r *reconciler) run() {
	defer r.teardown()
	for {
		ready, err := r.ep.Poll(r.pollInterval)
		if err != nil {
			return
		}
		if !ready {
			select {
			case <-r.proc.Done():
				r.drainRemaining()
				return
			default:
			}
			continue
		}
		f, err := r.ep.Recv()
		if err != nil {
			return
		}
		r.deliver(f)
	}
}

// drainRemaining consumes replies the worker sent before closing. The worker
// closes its end of the pipe on exit, so this loop always terminates at the
// transport error once the stream is empty.
func (r *reconciler) drainRemaining() {
	for {
		ready, err := r.ep.Poll(50 * time.Millisecond)
		if err != nil {
			return
		}
		if !ready {
			continue
		}
		f, err := r.ep.Recv()
		if err != nil {
			return
		}
		r.deliver(f)
	}
}

// deliver resolves the queue head with one reply frame.
func (r *reconciler) deliver(f *transport.Frame) {
	if f.Header.MsgType != protocol.MsgTypeReply {
		r.logger.Warn("unexpected frame type", zap.Uint8("msg_type", uint8(f.Header.MsgType)))
		return
	}

	head := r.queue.popHead()
	if head == nil {
		r.logger.Error("reply with no pending call", zap.Uint32("seq", f.Header.Seq))
		return
	}

	// FIFO cross-check: the echoed seq must match the head's. A mismatch
	// means the ordering invariant broke somewhere; fail loudly.
	if f.Header.Seq != head.seq {
		err := fmt.Errorf("client: reply out of order: got seq %d, want %d", f.Header.Seq, head.seq)
		r.logger.Error("ordering violation", zap.Uint32("got", f.Header.Seq), zap.Uint32("want", head.seq))
		r.sched.Schedule(func() { head.reject(err) })
		return
	}

	rep, err := r.ep.DecodeReply(f)
	if err != nil {
		err = fmt.Errorf("client: decoding reply %d: %w", f.Header.Seq, err)
		r.sched.Schedule(func() { head.reject(err) })
		return
	}

	r.logger.Debug("reply", zap.Uint32("seq", f.Header.Seq), zap.Bool("fault", rep.Fault != nil))
	if rep.Fault != nil {
		fault := rep.Fault
		r.sched.Schedule(func() { head.reject(fault) })
	} else {
		value := rep.Value
		r.sched.Schedule(func() { head.resolve(value) })
	}
}

// teardown fails every still-pending call: ErrClosed after an orderly close,
// ErrWorkerFault when the worker went away on its own. Closing the queue also
// makes it terminal, so a submit racing the teardown fails immediately
// instead of enqueueing a call with no reconciler left to resolve it.
func (r *reconciler) teardown() {
	var cause error
	if r.closing.Load() {
		cause = ErrClosed
	} else {
		// Give the waiter a moment to harvest the exit status so the fault
		// carries it.
		select {
		case <-r.proc.Done():
		case <-time.After(r.faultGrace):
		}
		if procErr := r.proc.Err(); procErr != nil {
			cause = fmt.Errorf("%w: %v", ErrWorkerFault, procErr)
		} else {
			cause = ErrWorkerFault
		}
	}

	pending := r.queue.close(cause)
	for _, c := range pending {
		c := c
		r.sched.Schedule(func() { c.reject(cause) })
	}
	if len(pending) > 0 {
		r.logger.Warn("failed pending calls on teardown", zap.Int("count", len(pending)), zap.Error(cause))
	}
	r.logger.Info("reconciler stopped")
}
