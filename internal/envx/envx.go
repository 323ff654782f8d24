// Package envx reads typed settings from environment variables.
package envx

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/dustin/go-humanize"
)

// Int returns the first of keys that parses as an integer.
func Int[T ~int | ~int64](fallback T, keys ...string) T {
	return envval(fallback, func(s string) (T, error) {
		decoded, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return fallback, fmt.Errorf("integer %q is invalid: %w", s, err)
		}
		return T(decoded), nil
	}, keys...)
}

// Boolean returns the first of keys that parses as a boolean.
func Boolean(fallback bool, keys ...string) bool {
	return envval(fallback, func(s string) (bool, error) {
		decoded, err := strconv.ParseBool(s)
		if err != nil {
			return fallback, fmt.Errorf("boolean %q is invalid: %w", s, err)
		}
		return decoded, nil
	}, keys...)
}

func String(fallback string, keys ...string) string {
	return envval(fallback, func(s string) (string, error) {
		return s, nil
	}, keys...)
}

// Bytes returns the first of keys that parses as a byte size, like "64MiB" or "1 GB".
func Bytes(fallback int64, keys ...string) int64 {
	return envval(fallback, func(s string) (int64, error) {
		decoded, err := humanize.ParseBytes(s)
		if err != nil {
			return fallback, fmt.Errorf("byte size %q is invalid: %w", s, err)
		}
		return int64(decoded), nil
	}, keys...)
}

// Enum returns the value named by the first of keys that matches a name in values, ignoring case.
func Enum[T any](fallback T, values map[string]T, keys ...string) T {
	return envval(fallback, func(s string) (T, error) {
		for name, v := range values {
			if strings.EqualFold(name, s) {
				return v, nil
			}
		}
		return fallback, fmt.Errorf("%q is not one of %v", s, mapKeys(values))
	}, keys...)
}

func mapKeys[T any](m map[string]T) (ret []string) {
	for k := range m {
		ret = append(ret, k)
	}
	return
}

func envval[T any](fallback T, parse func(string) (T, error), keys ...string) T {
	for _, k := range keys {
		s := strings.TrimSpace(os.Getenv(k))
		if s == "" {
			continue
		}
		decoded, err := parse(s)
		if err != nil {
			slog.Warn("ignoring invalid environment variable", "key", k, "err", err)
			continue
		}
		return decoded
	}
	return fallback
}
