// Package client implements the controller side: the manager that owns the
// transport endpoint and pending-call queue, the reconciler that resolves
// pending calls with arriving replies, and the remote handle callers interact
// with.
package client

import (
	"context"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/dustyrockpyle/mpworker/message"
	"github.com/dustyrockpyle/mpworker/middleware"
	"github.com/dustyrockpyle/mpworker/transport"
)

// Manager is the single point of coordination between a handle and its
// worker: it owns the endpoint, assigns sequence numbers, appends pending
// calls, and drives the shutdown protocol.
type Manager struct {
	id     string
	ep     *transport.Endpoint
	proc   Process
	sched  Scheduler
	logger *zap.Logger

	// submitMu serializes enqueue+send so queue order always matches wire
	// order. seq is owned by the mutex holder.
	submitMu sync.Mutex
	seq      uint32
	queue    *callQueue
	send     middleware.SubmitFunc

	closing *atomic.Bool
}

// newManager wires a manager over an endpoint/process pair and starts its
// reconciler. A cleanup requests close if the manager is dropped without one,
// so an abandoned handle never leaks a worker process.
func newManager(id string, ep *transport.Endpoint, proc Process, sched Scheduler, o *options) *Manager {
	m := &Manager{
		id:      id,
		ep:      ep,
		proc:    proc,
		sched:   sched,
		logger:  o.logger.With(zap.String("worker_id", id)),
		queue:   newCallQueue(),
		closing: new(atomic.Bool),
	}
	m.send = middleware.Chain(o.middlewares...)(m.rawSend)

	rec := &reconciler{
		ep:           ep,
		queue:        m.queue,
		sched:        sched,
		proc:         proc,
		logger:       m.logger,
		pollInterval: o.pollInterval,
		faultGrace:   o.faultGrace,
		closing:      m.closing,
	}
	go rec.run()

	runtime.SetFinalizer(m, func(*Manager) { _ = proc.RequestStop() })
	return m
}

// ID returns the worker's ULID.
func (m *Manager) ID() string {
	return m.id
}

// Submit creates a pending call, appends it to the queue tail, and sends the
// request. If the send fails — unserializable argument, rejected by
// middleware, broken pipe — the call is backed out of the queue and resolved
// failed immediately; no reply slot is ever left waiting for a request that
// never went out.
func (m *Manager) Submit(name string, args []any, kwargs message.Kwargs) *Call {
	if m.IsClosing() || m.IsClosed() {
		return failedCall(ErrClosed)
	}

	m.submitMu.Lock()
	defer m.submitMu.Unlock()

	m.seq++
	c := newCall(m.seq)
	if err := m.queue.push(c); err != nil {
		// The reconciler already tore down; nothing will ever resolve a
		// queued call. Fail with the teardown cause instead of stranding
		// the caller.
		m.sched.Schedule(func() { c.reject(err) })
		return c
	}

	req := &message.Request{Name: name, Args: args, Kwargs: kwargs}
	if err := m.send(context.Background(), req); err != nil {
		m.queue.dropTail(c)
		err = fmt.Errorf("client: submit %s: %w", name, err)
		m.sched.Schedule(func() { c.reject(err) })
	}
	return c
}

// submitConstruct sends the mandatory first request. It bypasses the
// middleware chain: construction is part of spawning, not an application
// call.
func (m *Manager) submitConstruct(typeName string, args []any, kwargs message.Kwargs) *Call {
	m.submitMu.Lock()
	defer m.submitMu.Unlock()

	m.seq++
	c := newCall(m.seq)
	if err := m.queue.push(c); err != nil {
		m.sched.Schedule(func() { c.reject(err) })
		return c
	}

	req := &message.Request{
		Name:   message.ConstructName,
		Args:   append([]any{typeName}, args...),
		Kwargs: kwargs,
	}
	if err := m.rawSend(context.Background(), req); err != nil {
		m.queue.dropTail(c)
		err = fmt.Errorf("client: spawn %s: %w", typeName, err)
		m.sched.Schedule(func() { c.reject(err) })
	}
	return c
}

// rawSend is the tail of the middleware chain. Callers hold submitMu, which
// owns seq.
func (m *Manager) rawSend(_ context.Context, req *message.Request) error {
	return m.ep.SendRequest(m.seq, req)
}

// RequestClose raises the close-requested signal; with wait it also blocks
// until worker-closed. Idempotent — repeated calls (and scope exits) are
// safe.
func (m *Manager) RequestClose(wait bool) error {
	if m.closing.CompareAndSwap(false, true) {
		m.logger.Info("close requested")
		if err := m.proc.RequestStop(); err != nil {
			m.logger.Warn("stop signal failed", zap.Error(err))
			return err
		}
	}
	if wait {
		<-m.proc.Done()
	}
	return nil
}

// IsClosing reports the close-requested signal.
func (m *Manager) IsClosing() bool {
	return m.closing.Load()
}

// IsClosed reports the worker-closed signal.
func (m *Manager) IsClosed() bool {
	select {
	case <-m.proc.Done():
		return true
	default:
		return false
	}
}
