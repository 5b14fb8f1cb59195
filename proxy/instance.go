package proxy

import (
	"errors"
	"fmt"
	"reflect"

	"github.com/dustyrockpyle/mpworker/message"
)

// ErrNoAttribute is wrapped by attribute reads of names that match neither an
// exported field nor a previously written overlay attribute.
var ErrNoAttribute = errors.New("proxy: no such attribute")

// Instance is one constructed proxied object, owned exclusively by the worker
// loop. It is never touched concurrently: the loop dispatches one request
// fully before consuming the next.
type Instance struct {
	typ   *Type
	val   reflect.Value // pointer to the proxied struct
	extra map[string]any
}

// Dispatch executes one call request against the instance and returns the
// result or the failure. Panics raised by the proxied code are recovered and
// reported as failures; Dispatch itself never crashes the worker loop.
func (in *Instance) Dispatch(req *message.Request) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			result, err = nil, fmt.Errorf("proxy: %s: panic: %v", req.Name, r)
		}
	}()

	switch req.Name {
	case message.GetattrName:
		name, ok := attrName(req.Args, 1)
		if !ok {
			return nil, fmt.Errorf("proxy: malformed %s request", req.Name)
		}
		return in.getattr(name)

	case message.SetattrName:
		name, ok := attrName(req.Args, 2)
		if !ok {
			return nil, fmt.Errorf("proxy: malformed %s request", req.Name)
		}
		return nil, in.setattr(name, req.Args[1])

	case message.ConstructName:
		return nil, errors.New("proxy: instance already constructed")

	default:
		m, ok := in.typ.methods[req.Name]
		if !ok {
			return nil, fmt.Errorf("proxy: %s has no method %s", in.typ.name, req.Name)
		}
		return in.invoke(m, req.Args, req.Kwargs)
	}
}

func attrName(args []any, want int) (string, bool) {
	if len(args) != want {
		return "", false
	}
	name, ok := args[0].(string)
	return name, ok
}

// getattr reads an exported struct field, falling back to the overlay map of
// attributes written under names the struct does not declare.
func (in *Instance) getattr(name string) (any, error) {
	f := in.val.Elem().FieldByName(name)
	if f.IsValid() && f.CanInterface() {
		return f.Interface(), nil
	}
	if v, ok := in.extra[name]; ok {
		return v, nil
	}
	return nil, fmt.Errorf("%w: %s.%s", ErrNoAttribute, in.typ.name, name)
}

// setattr writes an exported struct field when one matches; any other name
// lands in the overlay map so it can be read back later.
func (in *Instance) setattr(name string, value any) error {
	f := in.val.Elem().FieldByName(name)
	if f.IsValid() && f.CanSet() {
		cv, err := convertValue(value, f.Type())
		if err != nil {
			return fmt.Errorf("proxy: setting %s.%s: %w", in.typ.name, name, err)
		}
		f.Set(cv)
		return nil
	}
	in.extra[name] = value
	return nil
}

// invoke calls a precomputed method with converted positional arguments and,
// when the method declares a trailing Kwargs parameter, the keyword
// arguments.
func (in *Instance) invoke(m reflect.Method, args []any, kwargs Kwargs) (any, error) {
	mt := m.Type // receiver is parameter 0

	in2, err := methodValues(mt, in.val, args, kwargs)
	if err != nil {
		return nil, fmt.Errorf("proxy: calling %s.%s: %w", in.typ.name, m.Name, err)
	}

	out := m.Func.Call(in2)
	switch mt.NumOut() {
	case 0:
		return nil, nil
	case 1:
		if mt.Out(0) == errorType {
			if out[0].IsNil() {
				return nil, nil
			}
			return nil, out[0].Interface().(error)
		}
		return out[0].Interface(), nil
	default:
		var callErr error
		if !out[1].IsNil() {
			callErr = out[1].Interface().(error)
		}
		return out[0].Interface(), callErr
	}
}

// methodValues assembles the reflect.Value argument list for a method call,
// receiver first.
func methodValues(mt reflect.Type, recv reflect.Value, args []any, kwargs Kwargs) ([]reflect.Value, error) {
	rest, err := callValues(mt, 1, args, kwargs)
	if err != nil {
		return nil, err
	}
	return append([]reflect.Value{recv}, rest...), nil
}

// callValues converts positional args (and kwargs, for functions declaring
// the trailing Kwargs parameter) into the function's parameter types,
// skipping the first skip parameters.
func callValues(ft reflect.Type, skip int, args []any, kwargs Kwargs) ([]reflect.Value, error) {
	numIn := ft.NumIn() - skip

	wantsKwargs := false
	if !ft.IsVariadic() && numIn > 0 && ft.In(ft.NumIn()-1) == kwargsType {
		wantsKwargs = true
		numIn--
	}
	if !wantsKwargs && len(kwargs) > 0 {
		return nil, errors.New("does not accept keyword arguments")
	}

	if ft.IsVariadic() {
		if len(args) < numIn-1 {
			return nil, fmt.Errorf("want at least %d args, got %d", numIn-1, len(args))
		}
	} else if len(args) != numIn {
		return nil, fmt.Errorf("want %d args, got %d", numIn, len(args))
	}

	vals := make([]reflect.Value, 0, len(args)+1)
	for i, a := range args {
		var pt reflect.Type
		if ft.IsVariadic() && i >= numIn-1 {
			pt = ft.In(ft.NumIn() - 1).Elem()
		} else {
			pt = ft.In(skip + i)
		}
		cv, err := convertValue(a, pt)
		if err != nil {
			return nil, fmt.Errorf("arg %d: %w", i, err)
		}
		vals = append(vals, cv)
	}
	if wantsKwargs {
		if kwargs == nil {
			kwargs = Kwargs{}
		}
		vals = append(vals, reflect.ValueOf(kwargs))
	}
	return vals, nil
}
