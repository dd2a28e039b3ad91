// ABOUTME: Typed accessors over the free-form options map of an agent config
// ABOUTME: Accept the shapes YAML and TOML decoders produce for the same value

package builtins

import (
	"fmt"
	"time"
)

type options map[string]any

func (o options) str(key, def string) (string, error) {
	v, ok := o[key]
	if !ok || v == nil {
		return def, nil
	}
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("option %s: want string, got %T", key, v)
	}
	if s == "" {
		return def, nil
	}
	return s, nil
}

func (o options) integer(key string, def int) (int, error) {
	v, ok := o[key]
	if !ok || v == nil {
		return def, nil
	}
	switch n := v.(type) {
	case int:
		return n, nil
	case int64:
		return int(n), nil
	case float64:
		if n != float64(int(n)) {
			return 0, fmt.Errorf("option %s: %v is not a whole number", key, n)
		}
		return int(n), nil
	default:
		return 0, fmt.Errorf("option %s: want integer, got %T", key, v)
	}
}

// dur accepts a Go duration string or a number of seconds.
func (o options) dur(key string, def time.Duration) (time.Duration, error) {
	v, ok := o[key]
	if !ok || v == nil {
		return def, nil
	}
	switch d := v.(type) {
	case string:
		parsed, err := time.ParseDuration(d)
		if err != nil {
			return 0, fmt.Errorf("option %s: %w", key, err)
		}
		return parsed, nil
	case int:
		return time.Duration(d) * time.Second, nil
	case int64:
		return time.Duration(d) * time.Second, nil
	case float64:
		return time.Duration(d * float64(time.Second)), nil
	default:
		return 0, fmt.Errorf("option %s: want duration, got %T", key, v)
	}
}
