package tools

import (
	"encoding/json"

	"github.com/vinayprograms/winsys-mcp/errors"
)

// Args holds the decoded "arguments" object of a tools/call request.
// Required accessors fail with INVALID_INPUT; the Or variants fall back to
// the default on a missing or mistyped value.
type Args map[string]interface{}

func missing(key string) error {
	return errors.Newf(errors.ErrCodeInvalidInput, "%s is required", key)
}

func mistyped(key, want string, v interface{}) error {
	return errors.Newf(errors.ErrCodeInvalidInput, "%s must be %s, got %T", key, want, v)
}

// String returns a required string argument.
func (a Args) String(key string) (string, error) {
	v, ok := a[key]
	if !ok {
		return "", missing(key)
	}
	s, ok := v.(string)
	if !ok {
		return "", mistyped(key, "a string", v)
	}
	return s, nil
}

// StringOr returns key as a string, or def.
func (a Args) StringOr(key, def string) string {
	if s, err := a.String(key); err == nil {
		return s
	}
	return def
}

// Float returns a required numeric argument. JSON numbers decode as
// float64; int and json.Number are accepted too.
func (a Args) Float(key string) (float64, error) {
	v, ok := a[key]
	if !ok {
		return 0, missing(key)
	}
	switch n := v.(type) {
	case float64:
		return n, nil
	case int:
		return float64(n), nil
	case json.Number:
		f, err := n.Float64()
		if err != nil {
			return 0, mistyped(key, "a number", v)
		}
		return f, nil
	}
	return 0, mistyped(key, "a number", v)
}

// Int returns a required numeric argument truncated to an int.
func (a Args) Int(key string) (int, error) {
	f, err := a.Float(key)
	return int(f), err
}

// IntOr returns key as an int, or def.
func (a Args) IntOr(key string, def int) int {
	if n, err := a.Int(key); err == nil {
		return n
	}
	return def
}

// Bool returns a required boolean argument.
func (a Args) Bool(key string) (bool, error) {
	v, ok := a[key]
	if !ok {
		return false, missing(key)
	}
	b, ok := v.(bool)
	if !ok {
		return false, mistyped(key, "a boolean", v)
	}
	return b, nil
}

// StringSlice returns a required array of strings.
func (a Args) StringSlice(key string) ([]string, error) {
	v, ok := a[key]
	if !ok {
		return nil, missing(key)
	}
	switch arr := v.(type) {
	case []string:
		return arr, nil
	case []interface{}:
		out := make([]string, 0, len(arr))
		for i, item := range arr {
			s, ok := item.(string)
			if !ok {
				return nil, errors.Newf(errors.ErrCodeInvalidInput, "%s[%d] must be a string, got %T", key, i, item)
			}
			out = append(out, s)
		}
		return out, nil
	}
	return nil, mistyped(key, "an array", v)
}
