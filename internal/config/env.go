// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/ManuGH/ytvault/internal/log"
)

const (
	sourceEnv     = "environment"
	sourceDefault = "default"
)

// secretKey reports whether a variable name suggests credential material.
// Such values are resolved normally but never echoed into logs.
func secretKey(key string) bool {
	k := strings.ToLower(key)
	return strings.Contains(k, "token") ||
		strings.Contains(k, "password") ||
		strings.Contains(k, "secret")
}

func resolved(key, source string) *zerolog.Event {
	l := log.WithComponent("config")
	return l.Debug().Str("key", key).Str("source", source)
}

func malformed(key, raw, kind string) {
	l := log.WithComponent("config")
	l.Warn().
		Str("key", key).
		Str("value", raw).
		Str("kind", kind).
		Msg("malformed environment variable, keeping default")
}

// ParseString resolves key from the environment, falling back to
// defaultValue when the variable is absent or empty. An empty variable
// counts as absent so FOO= in a unit file behaves like an unset key;
// secret-bearing keys are the exception and pass through as set.
func ParseString(key, defaultValue string) string {
	raw, set := os.LookupEnv(key)
	switch {
	case !set:
		resolved(key, sourceDefault).Str("default", defaultValue).Msg("config value")
		return defaultValue
	case secretKey(key):
		resolved(key, sourceEnv).Bool("redacted", true).Msg("config value")
		return raw
	case raw == "":
		resolved(key, sourceDefault).Str("default", defaultValue).Msg("config value (variable empty)")
		return defaultValue
	default:
		resolved(key, sourceEnv).Str("value", raw).Msg("config value")
		return raw
	}
}

// ParseInt resolves an integer variable. Absent, empty, and unparsable
// values all yield the default; only the unparsable case warns.
func ParseInt(key string, defaultValue int) int {
	raw, set := os.LookupEnv(key)
	if !set || raw == "" {
		resolved(key, sourceDefault).Int("default", defaultValue).Msg("config value")
		return defaultValue
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		malformed(key, raw, "integer")
		return defaultValue
	}
	resolved(key, sourceEnv).Int("value", n).Msg("config value")
	return n
}

// ParseDuration resolves a Go-syntax duration variable ("90s", "5m").
func ParseDuration(key string, defaultValue time.Duration) time.Duration {
	raw, set := os.LookupEnv(key)
	if !set || raw == "" {
		resolved(key, sourceDefault).Dur("default", defaultValue).Msg("config value")
		return defaultValue
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		malformed(key, raw, "duration")
		return defaultValue
	}
	resolved(key, sourceEnv).Dur("value", d).Msg("config value")
	return d
}

// ParseBool resolves a boolean variable. Accepted spellings are
// true/false, 1/0 and yes/no, case-insensitive.
func ParseBool(key string, defaultValue bool) bool {
	raw, set := os.LookupEnv(key)
	if !set || raw == "" {
		resolved(key, sourceDefault).Bool("default", defaultValue).Msg("config value")
		return defaultValue
	}
	var value bool
	switch strings.ToLower(raw) {
	case "true", "1", "yes":
		value = true
	case "false", "0", "no":
		value = false
	default:
		malformed(key, raw, "boolean")
		return defaultValue
	}
	resolved(key, sourceEnv).Bool("value", value).Msg("config value")
	return value
}

// ParseFloat resolves a float64 variable.
func ParseFloat(key string, defaultValue float64) float64 {
	raw, set := os.LookupEnv(key)
	if !set || raw == "" {
		resolved(key, sourceDefault).Float64("default", defaultValue).Msg("config value")
		return defaultValue
	}
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		malformed(key, raw, "float")
		return defaultValue
	}
	resolved(key, sourceEnv).Float64("value", f).Msg("config value")
	return f
}
