package tools

import (
	"encoding/json"
	"fmt"
)

// Args holds canonicalized tool arguments keyed by field name.
type Args map[string]any

// Has reports whether key is present.
func (a Args) Has(key string) bool {
	_, ok := a[key]
	return ok
}

// String returns a string argument.
func (a Args) String(key string) (string, bool) {
	s, ok := a[key].(string)
	return s, ok
}

// StringOr returns a string argument or def when absent.
func (a Args) StringOr(key, def string) string {
	if s, ok := a.String(key); ok {
		return s
	}
	return def
}

// Int returns an integer argument.
func (a Args) Int(key string) (int, bool) {
	switch n := a[key].(type) {
	case int:
		return n, true
	case float64:
		return int(n), true
	case json.Number:
		i, err := n.Int64()
		if err != nil {
			return 0, false
		}
		return int(i), true
	default:
		return 0, false
	}
}

// IntOr returns an integer argument or def when absent or non-positive.
func (a Args) IntOr(key string, def int) int {
	if n, ok := a.Int(key); ok && n > 0 {
		return n
	}
	return def
}

// Float returns a numeric argument.
func (a Args) Float(key string) (float64, bool) {
	return toFloat(a[key])
}

// Bool returns a boolean argument.
func (a Args) Bool(key string) (bool, bool) {
	b, ok := a[key].(bool)
	return b, ok
}

// Strings returns an array argument whose items are all strings.
func (a Args) Strings(key string) ([]string, bool) {
	items, ok := a[key].([]any)
	if !ok {
		return nil, false
	}
	out := make([]string, 0, len(items))
	for _, item := range items {
		s, ok := item.(string)
		if !ok {
			return nil, false
		}
		out = append(out, s)
	}
	return out, true
}

// Decode re-encodes the argument at key into dst.
func (a Args) Decode(key string, dst any) error {
	v, ok := a[key]
	if !ok {
		return fmt.Errorf("missing argument %q", key)
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode argument %q: %w", key, err)
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return fmt.Errorf("decode argument %q: %w", key, err)
	}
	return nil
}
