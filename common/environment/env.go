// Package environment provides helpers for overlaying configuration with
// environment variables.
//
// Every helper takes a destination pointer and only writes to it when the
// variable is set to a value that parses. Config loaded from a file therefore
// keeps its values unless the operator explicitly overrides them, and a
// malformed override never zeroes a field.
package environment

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Prefix is prepended to every variable name passed to the helpers below.
const Prefix = "KIOKU_"

// Name returns the fully-qualified variable name for key.
func Name(key string) string {
	return Prefix + key
}

// Lookup returns the trimmed value of the prefixed variable and whether it
// was set to something non-empty.
func Lookup(key string) (string, bool) {
	v, ok := os.LookupEnv(Name(key))
	if !ok {
		return "", false
	}
	v = strings.TrimSpace(v)
	return v, v != ""
}

// RequiredString returns the value of the prefixed variable or an error if it
// is unset or empty.
func RequiredString(key string) (string, error) {
	v, ok := Lookup(key)
	if !ok {
		return "", fmt.Errorf("required environment variable %q is not set", Name(key))
	}
	return v, nil
}

// String overrides dst with the variable's value when set.
func String(key string, dst *string) {
	if v, ok := Lookup(key); ok {
		*dst = v
	}
}

// Int overrides dst when the variable parses as a decimal integer.
func Int(key string, dst *int) {
	v, ok := Lookup(key)
	if !ok {
		return
	}
	if n, err := strconv.Atoi(v); err == nil {
		*dst = n
	}
}

// Bool overrides dst when the variable parses with strconv.ParseBool.
func Bool(key string, dst *bool) {
	v, ok := Lookup(key)
	if !ok {
		return
	}
	if b, err := strconv.ParseBool(v); err == nil {
		*dst = b
	}
}

// Duration overrides dst when the variable parses as a time.Duration
// ("30s", "5m", "1h").
func Duration(key string, dst *time.Duration) {
	v, ok := Lookup(key)
	if !ok {
		return
	}
	if d, err := time.ParseDuration(v); err == nil {
		*dst = d
	}
}

// Float overrides dst when the variable parses as a float64.
func Float(key string, dst *float64) {
	v, ok := Lookup(key)
	if !ok {
		return
	}
	if f, err := strconv.ParseFloat(v, 64); err == nil {
		*dst = f
	}
}

// StringSlice overrides dst with a comma-separated list, trimming whitespace
// and dropping empty elements. An override that yields no elements is ignored.
func StringSlice(key string, dst *[]string) {
	v, ok := Lookup(key)
	if !ok {
		return
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if t := strings.TrimSpace(p); t != "" {
			out = append(out, t)
		}
	}
	if len(out) > 0 {
		*dst = out
	}
}
