package log

import (
	"io"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Config controls the one-time setup of the process logger. Zero fields
// defer to the LOG_LEVEL, LOG_FORMAT and LOG_SERVICE variables.
type Config struct {
	Level   string    // zerolog level name; empty means env, then "info"
	Format  string    // "json" (default) or "text" for a console writer
	Output  io.Writer // destination, os.Stdout when nil
	Service string    // service tag attached to every entry
}

var (
	setup sync.Once
	root  zerolog.Logger
)

// Configure builds the process logger. Only the first call takes effect;
// later calls are no-ops, so any package can trigger setup lazily without
// fighting over settings.
func Configure(cfg Config) {
	setup.Do(func() {
		zerolog.TimeFieldFormat = time.RFC3339
		zerolog.SetGlobalLevel(resolveLevel(cfg.Level))
		root = zerolog.New(resolveWriter(cfg)).With().
			Timestamp().
			Str("service", resolveService(cfg.Service)).
			Logger()
	})
}

func resolveLevel(name string) zerolog.Level {
	if name == "" {
		name = os.Getenv("LOG_LEVEL")
	}
	if name == "" {
		return zerolog.InfoLevel
	}
	lvl, err := zerolog.ParseLevel(name)
	if err != nil {
		return zerolog.InfoLevel
	}
	return lvl
}

func resolveWriter(cfg Config) io.Writer {
	out := cfg.Output
	if out == nil {
		out = os.Stdout
	}
	format := cfg.Format
	if format == "" {
		format = os.Getenv("LOG_FORMAT")
	}
	if format == "text" {
		return zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}
	}
	return out
}

func resolveService(name string) string {
	if name != "" {
		return name
	}
	if env := os.Getenv("LOG_SERVICE"); env != "" {
		return env
	}
	return "ytvault"
}

func logger() zerolog.Logger {
	Configure(Config{})
	return root
}

// Base returns the process logger, configuring it on first use.
func Base() zerolog.Logger {
	return logger()
}

// WithComponent returns a child logger tagged with a component name.
func WithComponent(component string) zerolog.Logger {
	return logger().With().Str(FieldComponent, component).Logger()
}
