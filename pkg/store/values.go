package store

import (
	"encoding/json"
	"strconv"
)

// Values is a partial settings object: flat key -> value. A missing key means
// "not yet configured"; callers apply their own defaults.
type Values map[string]any

// Has reports whether key is present (even if its value is a zero value).
func (v Values) Has(key string) bool {
	_, ok := v[key]
	return ok
}

// String returns the string value of key, if present and a string.
func (v Values) String(key string) (string, bool) {
	raw, ok := v[key]
	if !ok || raw == nil {
		return "", false
	}
	s, ok := raw.(string)
	return s, ok
}

// Bool returns the boolean value of key. Tiers that only store strings
// ("true"/"false") are accepted too.
func (v Values) Bool(key string) (bool, bool) {
	switch b := v[key].(type) {
	case bool:
		return b, true
	case string:
		parsed, err := strconv.ParseBool(b)
		if err != nil {
			return false, false
		}
		return parsed, true
	}
	return false, false
}

// Float returns the numeric value of key. yaml decodes whole numbers as int
// and JSON as float64, so both are accepted.
func (v Values) Float(key string) (float64, bool) {
	switch n := v[key].(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(n, 64)
		return f, err == nil
	}
	return 0, false
}

// Only returns the subset of v restricted to keys.
func (v Values) Only(keys []string) Values {
	out := make(Values, len(keys))
	for _, k := range keys {
		if val, ok := v[k]; ok {
			out[k] = val
		}
	}
	return out
}

// Clone returns a shallow copy.
func (v Values) Clone() Values {
	out := make(Values, len(v))
	for k, val := range v {
		out[k] = val
	}
	return out
}
