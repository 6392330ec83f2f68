// Package logger builds the zerolog logger shared by every component.
package logger

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"
)

// Options controls logger construction.
type Options struct {
	// Debug lowers the level to debug and switches to the console writer.
	Debug bool
	// JSON forces JSON output even in debug mode.
	JSON bool
	// Out defaults to os.Stderr.
	Out io.Writer
}

// New returns a logger with timestamps and caller information.
func New(opts Options) zerolog.Logger {
	out := opts.Out
	if out == nil {
		out = os.Stderr
	}

	var w io.Writer = out
	if opts.Debug && !opts.JSON {
		w = zerolog.ConsoleWriter{
			Out:        out,
			TimeFormat: "15:04:05.99",
			FormatMessage: func(i interface{}) string {
				return fmt.Sprintf("| %s |", i)
			},
			FormatCaller: func(i interface{}) string {
				return filepath.Base(fmt.Sprintf("%s", i))
			},
		}
	}

	level := zerolog.InfoLevel
	if opts.Debug {
		level = zerolog.DebugLevel
	}

	return zerolog.New(w).
		Level(level).
		With().
		Timestamp().
		Caller().
		Logger()
}
