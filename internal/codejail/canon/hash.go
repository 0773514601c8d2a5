package canon

import (
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"sort"
	"strconv"
	"strings"

	"capajail/internal/codejail/prologue"
)

// MaxKeyLength is the longest key memcached-class stores accept.
const MaxKeyLength = 250

// KeyPrefix starts every result cache key.
const KeyPrefix = "safe_exec"

// UpdateHash feeds a type tag followed by the content of v into w.
// Maps are walked in sorted key order so insertion order never matters;
// slices keep their order. v is expected to be JSON-safe already.
func UpdateHash(w io.Writer, v any) {
	switch t := v.(type) {
	case nil:
		write(w, "null", "None")
	case bool:
		if t {
			write(w, "bool", "True")
		} else {
			write(w, "bool", "False")
		}
	case string:
		write(w, "str", strconv.Quote(t))
	case int64:
		write(w, "int", strconv.FormatInt(t, 10))
	case int:
		write(w, "int", strconv.Itoa(t))
	case float64:
		write(w, "float", floatRepr(t))
	case json.Number:
		write(w, "int", t.String())
	case []any:
		io.WriteString(w, "<list>")
		for _, e := range t {
			UpdateHash(w, e)
		}
	case map[string]any:
		io.WriteString(w, "<dict>")
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			UpdateHash(w, k)
			UpdateHash(w, t[k])
		}
	default:
		write(w, fmt.Sprintf("%T", v), fmt.Sprintf("%#v", v))
	}
}

func write(w io.Writer, tag, repr string) {
	io.WriteString(w, "<"+tag+">")
	io.WriteString(w, repr)
}

// floatRepr keeps 3.0 distinct from the integer 3.
func floatRepr(f float64) string {
	if math.IsInf(f, 0) || math.IsNaN(f) {
		return strconv.FormatFloat(f, 'g', -1, 64)
	}
	s := strconv.FormatFloat(f, 'g', -1, 64)
	if !strings.ContainsAny(s, ".e") {
		s += ".0"
	}
	return s
}

// Fingerprint returns the hex md5 of the code followed by the JSON-safe globals.
func Fingerprint(code string, globals map[string]any) string {
	h := md5.New()
	UpdateHash(h, code)
	UpdateHash(h, JSONSafe(globals))
	return hex.EncodeToString(h.Sum(nil))
}

// CacheKey builds "safe_exec.<seed>.<md5>" for a submission.
// The code is hashed rather than embedded so the key length stays bounded.
func CacheKey(code string, globals map[string]any, seed *int64) string {
	return KeyPrefix + "." + prologue.SeedRepr(seed) + "." + Fingerprint(code, globals)
}
