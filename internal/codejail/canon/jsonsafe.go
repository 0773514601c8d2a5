// Package canon reduces globals to JSON-safe values and fingerprints them.
package canon

import (
	"bytes"
	"encoding/json"
	"math"
	"math/big"
	"reflect"
	"strconv"
	"strings"
	"unicode/utf8"
)

// skippedKeys never survive the filter.
var skippedKeys = map[string]struct{}{
	"__builtins__": {},
}

// JSONSafe returns a new map holding only the entries whose values can be
// represented in JSON. An entry is dropped whole if any nested value cannot be
// represented. Numbers come back as int64 or float64; integers outside the
// int64 range are kept as json.Number.
func JSONSafe(globals map[string]any) map[string]any {
	out := make(map[string]any, len(globals))
	for k, v := range globals {
		if _, skip := skippedKeys[k]; skip {
			continue
		}
		if safe, ok := safeValue(v, 0); ok {
			out[k] = safe
		}
	}
	return out
}

const maxDepth = 64

func safeValue(v any, depth int) (any, bool) {
	if depth > maxDepth {
		return nil, false
	}
	switch t := v.(type) {
	case nil:
		return nil, true
	case bool:
		return t, true
	case string:
		if !utf8.ValidString(t) {
			return nil, false
		}
		return t, true
	case int:
		return int64(t), true
	case int8:
		return int64(t), true
	case int16:
		return int64(t), true
	case int32:
		return int64(t), true
	case int64:
		return t, true
	case uint:
		return fromUint(uint64(t))
	case uint8:
		return int64(t), true
	case uint16:
		return int64(t), true
	case uint32:
		return int64(t), true
	case uint64:
		return fromUint(t)
	case float32:
		return fromFloat(float64(t))
	case float64:
		return fromFloat(t)
	case json.Number:
		return FromNumber(t)
	case []byte:
		if !utf8.Valid(t) {
			return nil, false
		}
		return string(t), true
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			safe, ok := safeValue(e, depth+1)
			if !ok {
				return nil, false
			}
			out[i] = safe
		}
		return out, true
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, e := range t {
			safe, ok := safeValue(e, depth+1)
			if !ok {
				return nil, false
			}
			out[k] = safe
		}
		return out, true
	}
	return reflectValue(reflect.ValueOf(v), depth)
}

func reflectValue(rv reflect.Value, depth int) (any, bool) {
	switch rv.Kind() {
	case reflect.Func, reflect.Chan, reflect.UnsafePointer, reflect.Complex64, reflect.Complex128, reflect.Invalid:
		return nil, false
	case reflect.Pointer, reflect.Interface:
		if rv.IsNil() {
			return nil, true
		}
		return safeValue(rv.Elem().Interface(), depth+1)
	case reflect.Slice, reflect.Array:
		out := make([]any, rv.Len())
		for i := 0; i < rv.Len(); i++ {
			safe, ok := safeValue(rv.Index(i).Interface(), depth+1)
			if !ok {
				return nil, false
			}
			out[i] = safe
		}
		return out, true
	case reflect.Map:
		out := make(map[string]any, rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			key, ok := mapKey(iter.Key())
			if !ok {
				return nil, false
			}
			safe, ok := safeValue(iter.Value().Interface(), depth+1)
			if !ok {
				return nil, false
			}
			out[key] = safe
		}
		return out, true
	}
	// Structs and named scalar types: let encoding/json decide.
	raw, err := json.Marshal(rv.Interface())
	if err != nil {
		return nil, false
	}
	var decoded any
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&decoded); err != nil {
		return nil, false
	}
	return safeValue(decoded, depth+1)
}

func mapKey(k reflect.Value) (string, bool) {
	switch k.Kind() {
	case reflect.String:
		return k.String(), true
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return strconv.FormatInt(k.Int(), 10), true
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return strconv.FormatUint(k.Uint(), 10), true
	}
	return "", false
}

func fromUint(u uint64) (any, bool) {
	if u > math.MaxInt64 {
		return json.Number(strconv.FormatUint(u, 10)), true
	}
	return int64(u), true
}

func fromFloat(f float64) (any, bool) {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return nil, false
	}
	return f, true
}

// FromNumber converts a decoded JSON number into int64 or float64.
// Integer literals that overflow int64 stay json.Number.
func FromNumber(n json.Number) (any, bool) {
	s := n.String()
	if !strings.ContainsAny(s, ".eE") {
		if i, err := n.Int64(); err == nil {
			return i, true
		}
		if _, ok := new(big.Int).SetString(s, 10); ok {
			return n, true
		}
		return nil, false
	}
	f, err := n.Float64()
	if err != nil {
		return nil, false
	}
	return fromFloat(f)
}

// Decode parses a JSON object into globals using the same number rules as JSONSafe.
func Decode(data []byte) (map[string]any, error) {
	var raw map[string]any
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&raw); err != nil {
		return nil, err
	}
	return JSONSafe(raw), nil
}
