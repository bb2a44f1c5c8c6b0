package mapping

import (
	"encoding"
	"math"
	"reflect"
	"strconv"
	"time"
)

// toScalar converts v into one of the property types accepted by
// graph.IsScalar. ok is false when v has no such representation.
// Callers skip nil pointers and nil slices before calling.
func toScalar(v reflect.Value) (any, bool) {
	t := v.Type()
	if t == timeType {
		return v.Interface().(time.Time).UTC(), true
	}
	if t.Kind() == reflect.Pointer && t.Elem() == timeType {
		if v.IsNil() {
			return nil, false
		}
		return toScalar(v.Elem())
	}
	if t.Implements(textMarshalerType) && v.CanInterface() {
		if v.Kind() == reflect.Pointer && v.IsNil() {
			return nil, false
		}
		text, err := v.Interface().(encoding.TextMarshaler).MarshalText()
		if err != nil {
			return nil, false
		}
		return string(text), true
	}

	switch v.Kind() {
	case reflect.Bool:
		return v.Bool(), true
	case reflect.String:
		return v.String(), true
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return v.Int(), true
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		u := v.Uint()
		if u > math.MaxInt64 {
			return nil, false
		}
		return int64(u), true
	case reflect.Float32, reflect.Float64:
		return v.Float(), true
	case reflect.Pointer:
		if v.IsNil() {
			return nil, false
		}
		return toScalar(v.Elem())
	case reflect.Slice, reflect.Array:
		if t.Elem().Kind() == reflect.Uint8 {
			b := make([]byte, v.Len())
			reflect.Copy(reflect.ValueOf(b), v)
			return b, true
		}
		return toScalarList(v)
	}
	return nil, false
}

func toScalarList(v reflect.Value) (any, bool) {
	el := v.Type().Elem()
	if el.Kind() == reflect.Pointer {
		return nil, false
	}
	if el == timeType {
		return timeList(v), true
	}
	if el.Implements(textMarshalerType) {
		return collect[string](v)
	}
	switch el.Kind() {
	case reflect.String:
		return collect[string](v)
	case reflect.Bool:
		return collect[bool](v)
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return collect[int64](v)
	case reflect.Float32, reflect.Float64:
		return collect[float64](v)
	}
	return nil, false
}

// timeList renders times as their UTC text form, since property lists hold
// strings and numbers only.
func timeList(v reflect.Value) []string {
	out := make([]string, v.Len())
	for i := range out {
		out[i] = v.Index(i).Interface().(time.Time).UTC().Format(time.RFC3339Nano)
	}
	return out
}

func collect[T any](v reflect.Value) (any, bool) {
	out := make([]T, v.Len())
	for i := range out {
		s, ok := toScalar(v.Index(i))
		if !ok {
			return nil, false
		}
		typed, ok := s.(T)
		if !ok {
			return nil, false
		}
		out[i] = typed
	}
	return out, true
}

// keyString renders a scalar business-key field.
func keyString(v any) string {
	switch k := v.(type) {
	case string:
		return k
	case int64:
		return strconv.FormatInt(k, 10)
	case float64:
		return strconv.FormatFloat(k, 'g', -1, 64)
	case bool:
		return strconv.FormatBool(k)
	case time.Time:
		return k.Format(time.RFC3339Nano)
	case []byte:
		return string(k)
	default:
		return ""
	}
}
