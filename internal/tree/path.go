package tree

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
)

// Split breaks a dotted path such as "skills.technical" into its segments.
func Split(path string) []string {
	if path == "" {
		return nil
	}
	return strings.Split(path, ".")
}

// Lookup walks root one segment at a time and returns the value at path.
// It reports false when a segment is missing or an intermediate value is not
// an object.
func Lookup(root *Map, path string) (any, bool) {
	parts := Split(path)
	if len(parts) == 0 || root == nil {
		return nil, false
	}
	var cur any = root
	for _, part := range parts {
		m, ok := cur.(*Map)
		if !ok || m == nil {
			return nil, false
		}
		cur, ok = m.Get(part)
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

// Assign writes v at path inside root, creating intermediate objects as
// needed. A falsy intermediate is replaced by a new object. Assign reports
// false, and leaves root untouched, when an intermediate holds a truthy
// non-object value.
func Assign(root *Map, path string, v any) bool {
	parts := Split(path)
	if len(parts) == 0 || root == nil {
		return false
	}

	// Check the whole route first so a failed write never leaves
	// half-created objects behind.
	cur := root
	for _, part := range parts[:len(parts)-1] {
		next, ok := cur.Get(part)
		if !ok || !Truthy(next) {
			break
		}
		m, ok := next.(*Map)
		if !ok {
			return false
		}
		cur = m
	}

	cur = root
	for _, part := range parts[:len(parts)-1] {
		next, ok := cur.Get(part)
		if m, isMap := next.(*Map); ok && isMap && m != nil {
			cur = m
			continue
		}
		m := New()
		cur.Set(part, m)
		cur = m
	}
	cur.Set(parts[len(parts)-1], v)
	return true
}

// Truthy applies JavaScript truthiness to a JSON value: null, false, "", and
// zero are falsy; every object and array, even an empty one, is truthy.
func Truthy(v any) bool {
	switch t := v.(type) {
	case nil:
		return false
	case bool:
		return t
	case string:
		return t != ""
	case json.Number:
		f, err := strconv.ParseFloat(t.String(), 64)
		if err != nil {
			return t != ""
		}
		return f != 0 && !math.IsNaN(f)
	case float64:
		return t != 0 && !math.IsNaN(t)
	case int:
		return t != 0
	case *Map:
		return t != nil
	default:
		return true
	}
}
