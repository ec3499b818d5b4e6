// Package log configures the process-wide zerolog sink. Every other package
// builds its own component logger off a zerolog.Logger passed into its
// constructor (never a package-level global); this package only owns the
// one-time console sink setup, mirroring cmd/cryptorun/main.go's
// zerolog.ConsoleWriter initialization.
package log

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Config selects the console sink's verbosity and format.
type Config struct {
	Level  string // "debug", "info", "warn", "error"; defaults to "info"
	JSON   bool   // true emits structured JSON instead of the console writer
	Writer io.Writer
}

// New builds the root logger. Each cmd/alphacore subcommand calls it once
// at the start of its RunE; main() itself does no logging setup.
func New(cfg Config) zerolog.Logger {
	w := cfg.Writer
	if w == nil {
		w = os.Stderr
	}

	zerolog.TimeFieldFormat = time.RFC3339

	var out io.Writer = w
	if !cfg.JSON {
		out = zerolog.ConsoleWriter{Out: w, TimeFormat: time.Kitchen}
	}

	level := parseLevel(cfg.Level)
	return zerolog.New(out).Level(level).With().Timestamp().Logger()
}

func parseLevel(s string) zerolog.Level {
	lvl, err := zerolog.ParseLevel(s)
	if err != nil {
		return zerolog.InfoLevel
	}
	return lvl
}
