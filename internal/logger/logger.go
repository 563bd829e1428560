// Package logger configures the service-wide zerolog logger.
package logger

import (
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Config controls logger construction.
type Config struct {
	Level       string // trace|debug|info|warn|error; defaults to info
	Environment string // console output unless "production"
	ServiceName string
	Version     string
}

// Logger embeds a zerolog.Logger so call sites use the fluent API directly.
type Logger struct {
	zerolog.Logger
}

// New builds a logger with service identity fields attached to every event.
func New(cfg Config) *Logger {
	level, err := zerolog.ParseLevel(strings.ToLower(cfg.Level))
	if err != nil || cfg.Level == "" {
		level = zerolog.InfoLevel
	}

	var out = os.Stderr
	var base zerolog.Logger
	if cfg.Environment == "production" {
		base = zerolog.New(out)
	} else {
		base = zerolog.New(zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339})
	}

	base = base.Level(level).With().
		Timestamp().
		Str("service", cfg.ServiceName).
		Str("version", cfg.Version).
		Logger()

	return &Logger{Logger: base}
}
