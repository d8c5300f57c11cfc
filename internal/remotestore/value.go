package remotestore

import (
	"cmp"
	"encoding/json"
	"fmt"
	"slices"
	"time"
)

type serverTimestamp struct{}

func (serverTimestamp) String() string { return "<server timestamp>" }

// ServerTimestamp is a placeholder value replaced by the store's own clock
// (UTC) when the record is written.
var ServerTimestamp any = serverTimestamp{}

// ResolveServerTimestamps returns a deep copy of v with every ServerTimestamp
// placeholder replaced by now in UTC.
func ResolveServerTimestamps(v Value, now time.Time) Value {
	out, _ := resolve(v, now.UTC()).(Value)
	return out
}

func resolve(v any, now time.Time) any {
	switch t := v.(type) {
	case serverTimestamp:
		return now
	case map[string]any:
		if t == nil {
			return Value(nil)
		}
		out := make(Value, len(t))
		for k, val := range t {
			out[k] = resolve(val, now)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = resolve(val, now)
		}
		return out
	case []string:
		return slices.Clone(t)
	default:
		return v
	}
}

// CopyValue returns a deep copy of v.
func CopyValue(v Value) Value {
	if v == nil {
		return nil
	}
	out, _ := copyAny(v).(Value)
	return out
}

func copyAny(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(Value, len(t))
		for k, val := range t {
			out[k] = copyAny(val)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = copyAny(val)
		}
		return out
	case []string:
		return slices.Clone(t)
	default:
		return v
	}
}

// SortChildren orders children by the orderBy field ascending. Children
// without the field come first; ties and an empty orderBy fall back to key
// order.
func SortChildren(children []Child, orderBy string) {
	slices.SortStableFunc(children, func(a, b Child) int {
		if orderBy != "" {
			if c := compareField(a.Value[orderBy], b.Value[orderBy]); c != 0 {
				return c
			}
		}
		return cmp.Compare(a.Key, b.Key)
	})
}

func compareField(a, b any) int {
	switch {
	case a == nil && b == nil:
		return 0
	case a == nil:
		return -1
	case b == nil:
		return 1
	}
	if ta, ok := AsTime(a); ok {
		if tb, ok := AsTime(b); ok {
			return ta.Compare(tb)
		}
	}
	if fa, ok := AsFloat(a); ok {
		if fb, ok := AsFloat(b); ok {
			return cmp.Compare(fa, fb)
		}
	}
	return cmp.Compare(fmt.Sprint(a), fmt.Sprint(b))
}

// AsTime converts stored timestamp representations (time.Time or an
// RFC 3339 string, as produced by JSON round trips) to time.Time.
func AsTime(v any) (time.Time, bool) {
	switch t := v.(type) {
	case time.Time:
		return t, true
	case *time.Time:
		if t == nil {
			return time.Time{}, false
		}
		return *t, true
	case string:
		parsed, err := time.Parse(time.RFC3339Nano, t)
		return parsed, err == nil
	}
	return time.Time{}, false
}

// AsFloat converts any numeric representation, including json.Number, to
// float64.
func AsFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}

// AsString returns v when it is a string.
func AsString(v any) (string, bool) {
	s, ok := v.(string)
	return s, ok
}

// AsBool converts a stored boolean.
func AsBool(v any) (bool, bool) {
	b, ok := v.(bool)
	return b, ok
}

// AsStrings converts a stored list of strings ([]string or []any).
func AsStrings(v any) ([]string, bool) {
	switch l := v.(type) {
	case []string:
		return slices.Clone(l), true
	case []any:
		out := make([]string, 0, len(l))
		for _, item := range l {
			s, ok := item.(string)
			if !ok {
				return nil, false
			}
			out = append(out, s)
		}
		return out, true
	}
	return nil, false
}

// MarshalValue encodes v as JSON after resolving server timestamps.
func MarshalValue(v Value, now time.Time) ([]byte, error) {
	return json.Marshal(ResolveServerTimestamps(v, now))
}
