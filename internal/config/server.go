// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package config

import "time"

// ServerConfig carries the HTTP listener tuning. Address and connection
// cap come from the main Config; the timeout knobs are environment-only
// because the defaults are safe and overrides are rare.
type ServerConfig struct {
	// ListenAddr is the host:port the daemon binds, e.g. ":8089".
	ListenAddr string

	// MaxConns caps concurrently accepted connections. Zero means no cap.
	MaxConns int

	// ReadTimeout bounds reading one full request.
	ReadTimeout time.Duration

	// WriteTimeout bounds writing one response. Zero disables it so
	// range streams can run for hours.
	WriteTimeout time.Duration

	// IdleTimeout is how long a keep-alive connection may sit idle.
	IdleTimeout time.Duration

	// MaxHeaderBytes bounds request header parsing.
	MaxHeaderBytes int

	// ShutdownTimeout bounds the graceful drain.
	ShutdownTimeout time.Duration
}

const (
	defaultReadTimeout    = 60 * time.Second
	defaultWriteTimeout   = 0 // unbounded; range streams may run for hours
	defaultIdleTimeout    = 120 * time.Second
	defaultMaxHeaderBytes = 1 << 20

	defaultShutdownTimeout = 15 * time.Second
	minShutdownTimeout     = 3 * time.Second
)

// ParseServerConfig folds the environment overrides for the timeout
// knobs into the listener settings from cfg. The header budget must be
// positive and the shutdown budget is clamped to minShutdownTimeout.
func ParseServerConfig(cfg Config) ServerConfig {
	return ServerConfig{
		ListenAddr:      cfg.ListenAddr,
		MaxConns:        cfg.MaxConns,
		ReadTimeout:     ParseDuration("SERVER_READ_TIMEOUT", defaultReadTimeout),
		WriteTimeout:    ParseDuration("SERVER_WRITE_TIMEOUT", defaultWriteTimeout),
		IdleTimeout:     ParseDuration("SERVER_IDLE_TIMEOUT", defaultIdleTimeout),
		MaxHeaderBytes:  positiveOr(ParseInt("SERVER_MAX_HEADER_BYTES", defaultMaxHeaderBytes), defaultMaxHeaderBytes),
		ShutdownTimeout: atLeast(ParseDuration("SERVER_SHUTDOWN_TIMEOUT", defaultShutdownTimeout), minShutdownTimeout),
	}
}

func positiveOr(v, fallback int) int {
	if v <= 0 {
		return fallback
	}
	return v
}

func atLeast(d, floor time.Duration) time.Duration {
	if d < floor {
		return floor
	}
	return d
}
