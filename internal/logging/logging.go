// Package logging configures the zerolog logger used across the engine.
package logging

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// New creates the root logger. Debug enables debug-level output, quiet
// restricts it to errors. The console writer targets stderr so pipeline
// output on stdout stays clean.
func New(debug, quiet bool) zerolog.Logger {
	level := zerolog.InfoLevel
	if debug {
		level = zerolog.DebugLevel
	}
	if quiet {
		level = zerolog.ErrorLevel
	}

	var out io.Writer = zerolog.ConsoleWriter{
		Out:        os.Stderr,
		TimeFormat: time.Kitchen,
	}
	if os.Getenv("PIPEVENT_LOG_FORMAT") == "json" {
		out = os.Stderr
	}

	return zerolog.New(out).Level(level).With().Timestamp().Logger()
}
