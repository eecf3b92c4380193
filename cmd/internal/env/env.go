// Package env reads typed FITLINK_* configuration values from the process
// environment. Every reader falls back to its default on an empty or
// unparseable value; startup never fails on a bad knob, it logs the effective
// config instead.
package env

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// String returns the trimmed value of key, or def when unset or blank.
func String(key, def string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	return v
}

// Bool parses key with strconv.ParseBool semantics.
func Bool(key string, def bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

// Int parses key as a positive int. Zero and negative values keep the
// default: every int knob in this codebase is a size or a count.
func Int(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return def
	}
	return n
}

// Int32 parses key as a non-negative int32 (pool sizes allow zero minimums).
func Int32(key string, def int32) int32 {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.ParseInt(v, 10, 32)
	if err != nil || n < 0 {
		return def
	}
	return int32(n)
}

// Duration parses key as a positive time.Duration ("250ms", "1m30s").
func Duration(key string, def time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return def
	}
	return d
}

// CSV splits key on commas, trimming each element and dropping empties.
// def is itself a comma-separated list and goes through the same split.
func CSV(key string, def string) []string {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		raw = strings.TrimSpace(def)
	}
	if raw == "" {
		return nil
	}

	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if s := strings.TrimSpace(p); s != "" {
			out = append(out, s)
		}
	}
	return out
}
