// Package proxy maintains the registry of spawnable types and dispatches
// call requests against a constructed instance.
//
// Register scans the constructed type's exported methods exactly once, via
// reflection, at registration time. Everything after that — the handle's
// method-name set on the controller side, dispatch on the worker side —
// consults the precomputed tables; no reflection-based discovery happens per
// call. Both processes run the same binary, so registering a type in shared
// init code makes it known on both sides of the pipe with no round trip.
package proxy

import (
	"fmt"
	"reflect"
	"sync"

	"github.com/dustyrockpyle/mpworker/message"
)

// Kwargs is the keyword-argument map. Constructors and methods opt in by
// declaring a trailing parameter of this type.
type Kwargs = message.Kwargs

var (
	kwargsType = reflect.TypeOf(Kwargs(nil))
	errorType  = reflect.TypeOf((*error)(nil)).Elem()
)

// Type describes one registered spawnable type: its constructor and the
// precomputed method table of the instances it produces.
type Type struct {
	name     string
	ctor     reflect.Value
	ctorErr  bool // constructor returns (T, error)
	instType reflect.Type
	methods  map[string]reflect.Method
}

var (
	regMu sync.RWMutex
	types = make(map[string]*Type)
)

// Register registers a spawnable type under name. The constructor must be a
// function returning a pointer to struct, optionally with a trailing error
// result. Its parameters become the spawn arguments; a trailing Kwargs
// parameter receives keyword arguments.
//
// Register must run in both the controller and the worker process (init-time
// registration in shared code is the usual way).
func Register(name string, ctor any) (*Type, error) {
	cv := reflect.ValueOf(ctor)
	if cv.Kind() != reflect.Func {
		return nil, fmt.Errorf("proxy: constructor for %q must be a func, got %T", name, ctor)
	}

	ft := cv.Type()
	if ft.NumOut() < 1 || ft.NumOut() > 2 {
		return nil, fmt.Errorf("proxy: constructor for %q must return T or (T, error)", name)
	}
	if ft.NumOut() == 2 && ft.Out(1) != errorType {
		return nil, fmt.Errorf("proxy: constructor for %q: second result must be error", name)
	}
	instType := ft.Out(0)
	if instType.Kind() != reflect.Ptr || instType.Elem().Kind() != reflect.Struct {
		return nil, fmt.Errorf("proxy: constructor for %q must return a pointer to struct, got %s", name, instType)
	}

	t := &Type{
		name:     name,
		ctor:     cv,
		ctorErr:  ft.NumOut() == 2,
		instType: instType,
		methods:  scanMethods(instType),
	}

	regMu.Lock()
	defer regMu.Unlock()
	if _, dup := types[name]; dup {
		return nil, fmt.Errorf("proxy: type %q already registered", name)
	}
	types[name] = t
	return t, nil
}

// MustRegister is Register, panicking on error. Intended for init-time use.
func MustRegister(name string, ctor any) *Type {
	t, err := Register(name, ctor)
	if err != nil {
		panic(err)
	}
	return t
}

// Lookup returns the registered type, if any.
func Lookup(name string) (*Type, bool) {
	regMu.RLock()
	defer regMu.RUnlock()
	t, ok := types[name]
	return t, ok
}

// scanMethods walks the exported methods of the instance type, keeping those
// with a dispatchable result shape: no results, a single value, a single
// error, or (value, error).
func scanMethods(instType reflect.Type) map[string]reflect.Method {
	methods := make(map[string]reflect.Method)
	for i := 0; i < instType.NumMethod(); i++ {
		m := instType.Method(i)
		mt := m.Type
		if mt.NumOut() > 2 {
			continue
		}
		if mt.NumOut() == 2 && mt.Out(1) != errorType {
			continue
		}
		methods[m.Name] = m
	}
	return methods
}

// Name returns the registered name.
func (t *Type) Name() string {
	return t.name
}

// MethodNames returns a copy of the precomputed method-name set. The handle
// caches this at creation time.
func (t *Type) MethodNames() map[string]struct{} {
	names := make(map[string]struct{}, len(t.methods))
	for name := range t.methods {
		names[name] = struct{}{}
	}
	return names
}

// New constructs an Instance by invoking the registered constructor with the
// given arguments. Construction panics are recovered and returned as errors.
func (t *Type) New(args []any, kwargs Kwargs) (inst *Instance, err error) {
	defer func() {
		if r := recover(); r != nil {
			inst, err = nil, fmt.Errorf("proxy: constructing %s: panic: %v", t.name, r)
		}
	}()

	in, err := callValues(t.ctor.Type(), 0, args, kwargs)
	if err != nil {
		return nil, fmt.Errorf("proxy: constructing %s: %w", t.name, err)
	}

	out := t.ctor.Call(in)
	if t.ctorErr && !out[1].IsNil() {
		return nil, out[1].Interface().(error)
	}
	if out[0].IsNil() {
		return nil, fmt.Errorf("proxy: constructor for %s returned nil", t.name)
	}

	return &Instance{
		typ:   t,
		val:   out[0],
		extra: make(map[string]any),
	}, nil
}
