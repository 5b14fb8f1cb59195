package client

import (
	"sync"
	"time"
)

// Scheduler is the scheduling context that owns resolution of pending calls.
// The reconciler runs on its own goroutine and never touches a call's
// resolution directly; it marshals a "resolve this call" callback through
// Schedule, so single-threaded callers see resolutions only on their own
// context. There is no implicit default: every spawn names its scheduler
// explicitly.
type Scheduler interface {
	// Schedule queues fn for execution on the scheduler's context. Safe to
	// call from any goroutine.
	Schedule(fn func())
	// ScheduleAfter queues fn after at least d has elapsed.
	ScheduleAfter(d time.Duration, fn func())
}

// Immediate runs callbacks directly on the calling goroutine. Safe with this
// package's Call, which synchronizes its own state; use RunLoop when
// resolution callbacks must share a single thread with other application
// callbacks.
type Immediate struct{}

func (Immediate) Schedule(fn func()) { fn() }

func (Immediate) ScheduleAfter(d time.Duration, fn func()) { time.AfterFunc(d, fn) }

// RunLoop is a single-consumer cooperative scheduler: callbacks queued from
// any goroutine execute one at a time on the goroutine that called Run.
type RunLoop struct {
	tasks    chan func()
	stop     chan struct{}
	stopOnce sync.Once
	done     chan struct{}
}

func NewRunLoop() *RunLoop {
	return &RunLoop{
		tasks: make(chan func(), 128),
		stop:  make(chan struct{}),
		done:  make(chan struct{}),
	}
}

// Run consumes callbacks until Stop, then drains whatever is already queued
// and returns. Call it from exactly one goroutine.
func (l *RunLoop) Run() {
	defer close(l.done)
	for {
		select {
		case fn := <-l.tasks:
			fn()
		case <-l.stop:
			for {
				select {
				case fn := <-l.tasks:
					fn()
				default:
					return
				}
			}
		}
	}
}

// Schedule queues fn for the next loop iteration. Callbacks scheduled after
// Stop are dropped.
func (l *RunLoop) Schedule(fn func()) {
	select {
	case <-l.stop:
	case l.tasks <- fn:
	}
}

// ScheduleAfter queues fn once at least d has elapsed.
func (l *RunLoop) ScheduleAfter(d time.Duration, fn func()) {
	time.AfterFunc(d, func() { l.Schedule(fn) })
}

// Stop ends Run after the queued callbacks drain. Idempotent.
func (l *RunLoop) Stop() {
	l.stopOnce.Do(func() { close(l.stop) })
}

// Done is closed once Run has returned.
func (l *RunLoop) Done() <-chan struct{} {
	return l.done
}
