package client

import (
	"context"
	"fmt"

	"github.com/dustyrockpyle/mpworker/message"
)

// reservedNames never forward to the worker as application operations: they
// are the protocol's own surface. Attribute access uses Get/Set; __init__
// only ever travels as the spawn handshake.
var reservedNames = map[string]struct{}{
	message.ConstructName: {},
	message.GetattrName:   {},
	message.SetattrName:   {},
}

// BoundMethod forwards an invocation of one named method into a new pending
// call.
type BoundMethod func(args ...any) *Call

// Handle is the caller-facing proxy for the remotely-running instance. It is
// both the future representing "construction finished" — Await yields the
// handle itself — and the dispatcher that turns named access into pending
// calls.
//
// The method-name set is computed once from the registered type at spawn
// time; deciding between method dispatch and attribute access never costs a
// round trip.
type Handle struct {
	m        *Manager
	ctor     *Call
	typeName string
	methods  map[string]struct{}
}

// Await blocks until the remote instance has finished constructing. On
// success it returns the handle itself, so awaiting the handle and using it
// are the same object; on failure it returns the construction error.
func (h *Handle) Await(ctx context.Context) (*Handle, error) {
	if _, err := h.ctor.Result(ctx); err != nil {
		return nil, err
	}
	return h, nil
}

// Ready exposes the construction future directly. Ready().Cancel() fails
// like any other pending call's.
func (h *Handle) Ready() *Call {
	return h.ctor
}

// TypeName returns the registered name of the proxied type.
func (h *Handle) TypeName() string {
	return h.typeName
}

// Method returns a bound invoker for name, or false when name is not in the
// proxied type's method set. No round trip.
func (h *Handle) Method(name string) (BoundMethod, bool) {
	if _, ok := h.methods[name]; !ok {
		return nil, false
	}
	return func(args ...any) *Call {
		return h.m.Submit(name, args, nil)
	}, true
}

// Call is the generic accessor. A name in the method set dispatches that
// method. An unknown name with no arguments is a remote attribute read; an
// unknown name with arguments cannot be anything sensible and fails
// immediately.
func (h *Handle) Call(name string, args ...any) *Call {
	if _, bad := reservedNames[name]; bad {
		return failedCall(fmt.Errorf("%w: %s", ErrReservedName, name))
	}
	if _, ok := h.methods[name]; ok {
		return h.m.Submit(name, args, nil)
	}
	if len(args) == 0 {
		return h.Get(name)
	}
	return failedCall(fmt.Errorf("%w: %s.%s", ErrUnknownOperation, h.typeName, name))
}

// CallKW dispatches a method with positional and keyword arguments.
func (h *Handle) CallKW(name string, args []any, kwargs message.Kwargs) *Call {
	if _, bad := reservedNames[name]; bad {
		return failedCall(fmt.Errorf("%w: %s", ErrReservedName, name))
	}
	if _, ok := h.methods[name]; !ok {
		return failedCall(fmt.Errorf("%w: %s.%s", ErrUnknownOperation, h.typeName, name))
	}
	return h.m.Submit(name, args, kwargs)
}

// Get reads the named attribute off the remote instance.
func (h *Handle) Get(name string) *Call {
	if _, bad := reservedNames[name]; bad {
		return failedCall(fmt.Errorf("%w: %s", ErrReservedName, name))
	}
	return h.m.Submit(message.GetattrName, []any{name}, nil)
}

// Set writes the named attribute on the remote instance.
func (h *Handle) Set(name string, value any) *Call {
	if _, bad := reservedNames[name]; bad {
		return failedCall(fmt.Errorf("%w: %s", ErrReservedName, name))
	}
	return h.m.Submit(message.SetattrName, []any{name, value}, nil)
}

// Close raises close-requested; with wait it returns only once worker-closed
// is observed. Idempotent.
func (h *Handle) Close(wait bool) error {
	return h.m.RequestClose(wait)
}

// IsClosing reports the close-requested signal.
func (h *Handle) IsClosing() bool {
	return h.m.IsClosing()
}

// IsClosed reports the worker-closed signal.
func (h *Handle) IsClosed() bool {
	return h.m.IsClosed()
}

// Manager exposes the underlying manager.
func (h *Handle) Manager() *Manager {
	return h.m
}

// With is the scoped-acquisition form: fn receives the handle, and the
// worker is closed when fn returns — normally or by panic.
func (h *Handle) With(fn func(*Handle) error) error {
	defer func() { _ = h.Close(false) }()
	return fn(h)
}
