// Package logging builds the zerolog logger shared by the server and client
// binaries.
package logging

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Config controls logger level and output format.
type Config struct {
	Level  string // debug, info, warn, error
	Pretty bool   // console-writer output instead of JSON
}

// New builds a zerolog.Logger tagged with the given component name.
//
// Example:
//
//	logger := logging.New(logging.Config{Level: "info"}, "server")
//	logger.Info().Int("workers", 12).Msg("dispatch started")
func New(cfg Config, component string) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	var output io.Writer = os.Stdout
	if cfg.Pretty {
		output = zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}
	}

	return zerolog.New(output).
		With().
		Timestamp().
		Str("component", component).
		Logger()
}
