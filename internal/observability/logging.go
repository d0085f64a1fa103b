// Package observability wires logging, metrics and health reporting.
package observability

import (
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// NewLogger builds the root logger. Level comes from VAULT_LOG_LEVEL
// (debug, info, warn, error); unset or unknown values fall back to info.
// Set VAULT_LOG_PRETTY=1 for human-readable console output in development.
func NewLogger() zerolog.Logger {
	level := zerolog.InfoLevel
	if raw := os.Getenv("VAULT_LOG_LEVEL"); raw != "" {
		if parsed, err := zerolog.ParseLevel(strings.ToLower(raw)); err == nil {
			level = parsed
		}
	}

	var logger zerolog.Logger
	if os.Getenv("VAULT_LOG_PRETTY") == "1" {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	} else {
		logger = zerolog.New(os.Stderr)
	}

	return logger.Level(level).With().Timestamp().Logger()
}

// Component returns a child logger tagged with the component name.
func Component(logger zerolog.Logger, name string) zerolog.Logger {
	return logger.With().Str("component", name).Logger()
}
