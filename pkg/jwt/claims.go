package jwt

import (
	"encoding/json"
	"errors"
	"math"
)

var (
	errNotObject    = errors.New("segment is not a JSON object")
	errTrailingData = errors.New("trailing data after JSON value")
)

// Int64 converts a decoded JSON number to an integer.
// It reports false for non-numbers and for numbers with a fractional part.
func Int64(v any) (int64, bool) {
	switch n := v.(type) {
	case json.Number:
		if i, err := n.Int64(); err == nil {
			return i, true
		}
		f, err := n.Float64()
		if err != nil || f != math.Trunc(f) {
			return 0, false
		}
		return int64(f), true
	case float64:
		if n != math.Trunc(n) {
			return 0, false
		}
		return int64(n), true
	case int64:
		return n, true
	case int:
		return int64(n), true
	default:
		return 0, false
	}
}

// ClaimInt returns an integer claim and whether it was present and integral.
func (t *Token) ClaimInt(name string) (int64, bool) {
	v, ok := t.Payload[name]
	if !ok {
		return 0, false
	}
	return Int64(v)
}

// ClaimObject returns an object claim, or nil when absent or not an object.
func (t *Token) ClaimObject(name string) map[string]any {
	m, _ := t.Payload[name].(map[string]any)
	return m
}
