package spec

import "reflect"

// DeepCopy copies maps and slices recursively, typed ones included. Scalars,
// pointers and structs are shared.
func DeepCopy(globals map[string]any) map[string]any {
	if globals == nil {
		return nil
	}
	out := make(map[string]any, len(globals))
	for k, v := range globals {
		out[k] = copyValue(v)
	}
	return out
}

func copyValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return DeepCopy(t)
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = copyValue(e)
		}
		return out
	case []byte:
		return append([]byte(nil), t...)
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Slice:
		if rv.IsNil() {
			return v
		}
		out := reflect.MakeSlice(rv.Type(), rv.Len(), rv.Len())
		for i := 0; i < rv.Len(); i++ {
			out.Index(i).Set(copyReflect(rv.Index(i)))
		}
		return out.Interface()
	case reflect.Map:
		if rv.IsNil() {
			return v
		}
		out := reflect.MakeMapWithSize(rv.Type(), rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			out.SetMapIndex(iter.Key(), copyReflect(iter.Value()))
		}
		return out.Interface()
	}
	return v
}

func copyReflect(rv reflect.Value) reflect.Value {
	c := copyValue(rv.Interface())
	if c == nil {
		return reflect.Zero(rv.Type())
	}
	return reflect.ValueOf(c)
}

// Merge copies every top-level entry of src into dst, like dict.update.
func Merge(dst, src map[string]any) {
	for k, v := range src {
		dst[k] = v
	}
}

// Replace makes dst hold exactly the entries of src.
func Replace(dst, src map[string]any) {
	for k := range dst {
		if _, ok := src[k]; !ok {
			delete(dst, k)
		}
	}
	Merge(dst, src)
}
