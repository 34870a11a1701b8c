// Package logging builds the process logger.
package logging

import (
	"io"
	"time"

	"github.com/rs/zerolog"
)

// Level maps a -v count to a log level: 0 warn, 1 debug, 2 or more trace
func Level(verbosity int) zerolog.Level {
	switch {
	case verbosity <= 0:
		return zerolog.WarnLevel
	case verbosity == 1:
		return zerolog.DebugLevel
	default:
		return zerolog.TraceLevel
	}
}

// New returns a console logger writing to w
func New(w io.Writer, verbosity int, colorize bool) zerolog.Logger {
	out := zerolog.ConsoleWriter{
		Out:        w,
		NoColor:    !colorize,
		TimeFormat: time.TimeOnly,
	}
	return zerolog.New(out).Level(Level(verbosity)).With().Timestamp().Logger()
}
