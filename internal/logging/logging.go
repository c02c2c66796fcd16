// Package logging builds the zerolog loggers used by the command line.
package logging

import (
	"io"
	"os"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/rs/zerolog"
)

// Options selects the writer, format and level of a logger.
type Options struct {
	// Writer defaults to os.Stderr.
	Writer io.Writer
	// JSON writes one JSON object per event instead of console text.
	JSON  bool
	Level zerolog.Level
}

// New returns a timestamped logger.
func New(opts Options) zerolog.Logger {
	w := opts.Writer
	if w == nil {
		w = os.Stderr
	}
	if !opts.JSON {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.TimeOnly, NoColor: !terminal(w)}
	}
	return zerolog.New(w).
		Level(opts.Level).
		With().
		Timestamp().
		Logger()
}

// Level maps the verbose switch to a level.
func Level(verbose bool) zerolog.Level {
	if verbose {
		return zerolog.DebugLevel
	}
	return zerolog.InfoLevel
}

func terminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && isatty.IsTerminal(f.Fd())
}
