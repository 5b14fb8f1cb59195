package proxy

import (
	"fmt"
	"math"
	"reflect"
)

// convertValue coerces a decoded argument into the parameter type. Gob
// round-trips concrete types so assignment usually succeeds directly; the
// conversions below exist for the JSON codec, which widens every number to
// float64 and every sequence/mapping to []any / map[string]any.
func convertValue(v any, to reflect.Type) (reflect.Value, error) {
	if v == nil {
		switch to.Kind() {
		case reflect.Chan, reflect.Func, reflect.Interface, reflect.Map, reflect.Ptr, reflect.Slice:
			return reflect.Zero(to), nil
		}
		return reflect.Value{}, fmt.Errorf("cannot use nil as %s", to)
	}

	rv := reflect.ValueOf(v)
	if rv.Type().AssignableTo(to) {
		return rv, nil
	}

	if numericKind(rv.Kind()) && numericKind(to.Kind()) {
		// Refuse lossy float → integer narrowing instead of truncating.
		if rv.Kind() == reflect.Float32 || rv.Kind() == reflect.Float64 {
			if to.Kind() != reflect.Float32 && to.Kind() != reflect.Float64 {
				f := rv.Float()
				if f != math.Trunc(f) {
					return reflect.Value{}, fmt.Errorf("cannot use %v as %s", v, to)
				}
			}
		}
		return rv.Convert(to), nil
	}

	// Same-kind conversion covers named types over an identical underlying
	// type (e.g. string → a string-based enum).
	if rv.Kind() == to.Kind() && rv.Type().ConvertibleTo(to) {
		switch rv.Kind() {
		case reflect.String, reflect.Bool:
			return rv.Convert(to), nil
		}
	}

	if rv.Kind() == reflect.Slice && to.Kind() == reflect.Slice {
		out := reflect.MakeSlice(to, rv.Len(), rv.Len())
		for i := 0; i < rv.Len(); i++ {
			ev, err := convertValue(rv.Index(i).Interface(), to.Elem())
			if err != nil {
				return reflect.Value{}, fmt.Errorf("index %d: %w", i, err)
			}
			out.Index(i).Set(ev)
		}
		return out, nil
	}

	if rv.Kind() == reflect.Map && to.Kind() == reflect.Map {
		out := reflect.MakeMapWithSize(to, rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			kv, err := convertValue(iter.Key().Interface(), to.Key())
			if err != nil {
				return reflect.Value{}, fmt.Errorf("key %v: %w", iter.Key(), err)
			}
			vv, err := convertValue(iter.Value().Interface(), to.Elem())
			if err != nil {
				return reflect.Value{}, fmt.Errorf("value for %v: %w", iter.Key(), err)
			}
			out.SetMapIndex(kv, vv)
		}
		return out, nil
	}

	return reflect.Value{}, fmt.Errorf("cannot use %T as %s", v, to)
}

func numericKind(k reflect.Kind) bool {
	switch k {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64:
		return true
	}
	return false
}
