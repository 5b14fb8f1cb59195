// Package message defines the wire envelopes exchanged between the controller
// and the worker process.
//
// A Request names an operation on the proxied instance; a Reply carries either
// the operation's result or the fault it raised. Exactly one Reply exists per
// Request, delivered in request order.
package message

import (
	"encoding/gob"
	"fmt"
)

// Reserved operation names. __init__ only ever appears as the first request
// after process start; the other two route attribute access instead of a
// method call.
const (
	ConstructName = "__init__"
	GetattrName   = "__getattr__"
	SetattrName   = "__setattr__"
)

// Kwargs carries keyword arguments. Proxied methods opt in by declaring a
// trailing parameter of this type.
type Kwargs map[string]any

// Request is the controller → worker envelope.
//
//   - Name is an operation name, or one of the reserved names above.
//   - For __getattr__, Args is [attributeName]; for __setattr__,
//     Args is [attributeName, newValue].
//   - For __init__, Args[0] is the registered type name and the rest are
//     constructor arguments.
type Request struct {
	Name   string
	Args   []any
	Kwargs Kwargs
}

// Reply is the worker → controller envelope. Fault is non-nil if the
// operation (or construction) failed; Value is the result otherwise.
type Reply struct {
	Value any
	Fault *Fault
}

// Fault is an error captured inside the worker, flattened to something every
// codec can move. Type records the dynamic type of the original error for
// diagnostics; the original value itself does not cross the boundary.
type Fault struct {
	Type    string
	Message string
}

func (f *Fault) Error() string {
	return fmt.Sprintf("remote %s: %s", f.Type, f.Message)
}

// CaptureFault flattens err for transmission.
func CaptureFault(err error) *Fault {
	return &Fault{
		Type:    fmt.Sprintf("%T", err),
		Message: err.Error(),
	}
}

// CapturePanic flattens a recovered panic value for transmission.
func CapturePanic(v any) *Fault {
	return &Fault{
		Type:    fmt.Sprintf("panic (%T)", v),
		Message: fmt.Sprint(v),
	}
}

func init() {
	// Concrete types that commonly travel inside the Args / Value interface
	// fields. Applications register their own payload types the same way.
	gob.Register([]any(nil))
	gob.Register(map[string]any(nil))
	gob.Register(Kwargs(nil))
	gob.Register(&Fault{})
}
