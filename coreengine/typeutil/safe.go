// Package typeutil provides comma-ok coercion helpers for loosely typed stage payloads.
// Payloads arrive as decoded JSON (map[string]any, []any, float64, json.Number) or as
// Go literals built by analysis steps, so every helper accepts both shapes.
package typeutil

import (
	"encoding/json"
	"strings"
)

// Map asserts value to map[string]any.
func Map(value any) (map[string]any, bool) {
	if value == nil {
		return nil, false
	}
	m, ok := value.(map[string]any)
	return m, ok
}

// MapDefault returns value as a map, or defaultVal when it is not one.
func MapDefault(value any, defaultVal map[string]any) map[string]any {
	if m, ok := Map(value); ok {
		return m
	}
	return defaultVal
}

// String asserts value to string.
func String(value any) (string, bool) {
	if value == nil {
		return "", false
	}
	s, ok := value.(string)
	return s, ok
}

// StringDefault returns value as a string, or defaultVal when it is not one.
func StringDefault(value any, defaultVal string) string {
	if s, ok := String(value); ok {
		return s
	}
	return defaultVal
}

// NonEmptyString returns the string only when it has non-whitespace content.
func NonEmptyString(value any) (string, bool) {
	s, ok := String(value)
	if !ok || strings.TrimSpace(s) == "" {
		return "", false
	}
	return s, true
}

// Float64 coerces any numeric representation to float64.
// Strings are not parsed: a quoted number in a payload is a malformed value.
func Float64(value any) (float64, bool) {
	switch v := value.(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	case int32:
		return float64(v), true
	case json.Number:
		f, err := v.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}

// Float64Default returns value as a float64, or defaultVal when it is not numeric.
func Float64Default(value any, defaultVal float64) float64 {
	if f, ok := Float64(value); ok {
		return f
	}
	return defaultVal
}

// Int coerces a numeric value to int, truncating fractions.
func Int(value any) (int, bool) {
	f, ok := Float64(value)
	if !ok {
		return 0, false
	}
	return int(f), true
}

// Bool asserts value to bool.
func Bool(value any) (bool, bool) {
	if value == nil {
		return false, false
	}
	b, ok := value.(bool)
	return b, ok
}

// BoolDefault returns value as a bool, or defaultVal when it is not one.
func BoolDefault(value any, defaultVal bool) bool {
	if b, ok := Bool(value); ok {
		return b
	}
	return defaultVal
}

// Slice asserts value to []any. Typed slices of maps and strings are widened.
func Slice(value any) ([]any, bool) {
	switch v := value.(type) {
	case []any:
		return v, true
	case []string:
		out := make([]any, len(v))
		for i, s := range v {
			out[i] = s
		}
		return out, true
	case []map[string]any:
		out := make([]any, len(v))
		for i, m := range v {
			out[i] = m
		}
		return out, true
	default:
		return nil, false
	}
}

// StringSlice asserts value to []string. A []any is accepted when every element is a string.
func StringSlice(value any) ([]string, bool) {
	switch v := value.(type) {
	case []string:
		return v, true
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			s, ok := item.(string)
			if !ok {
				return nil, false
			}
			out = append(out, s)
		}
		return out, true
	default:
		return nil, false
	}
}

// Names extracts display names from a list that mixes plain strings and
// objects carrying a "name" field. Blank entries are skipped.
func Names(value any) []string {
	items, ok := Slice(value)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(items))
	for _, item := range items {
		switch v := item.(type) {
		case string:
			if strings.TrimSpace(v) != "" {
				out = append(out, v)
			}
		case map[string]any:
			if name, ok := NonEmptyString(v["name"]); ok {
				out = append(out, name)
			}
		}
	}
	return out
}

// IsObject reports whether value is a JSON object. Arrays are not objects.
func IsObject(value any) bool {
	_, ok := Map(value)
	return ok
}

// IsArray reports whether value is a JSON array.
func IsArray(value any) bool {
	_, ok := Slice(value)
	return ok
}

// Lookup walks a dot-separated path through nested maps.
// Example: Lookup(payload, "fourBuckets.summary") returns payload["fourBuckets"]["summary"].
func Lookup(data map[string]any, path string) (any, bool) {
	if data == nil || path == "" {
		return nil, false
	}

	current := any(data)
	for _, key := range strings.Split(path, ".") {
		if key == "" {
			continue
		}
		m, ok := Map(current)
		if !ok {
			return nil, false
		}
		current, ok = m[key]
		if !ok {
			return nil, false
		}
	}
	return current, true
}

// LookupMap walks path and asserts the result to a map.
func LookupMap(data map[string]any, path string) (map[string]any, bool) {
	v, ok := Lookup(data, path)
	if !ok {
		return nil, false
	}
	return Map(v)
}

// LookupFloat64 walks path and coerces the result to float64.
func LookupFloat64(data map[string]any, path string) (float64, bool) {
	v, ok := Lookup(data, path)
	if !ok {
		return 0, false
	}
	return Float64(v)
}
