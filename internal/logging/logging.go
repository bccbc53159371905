package logging

import (
	"io"
	"os"

	"github.com/rs/zerolog"
)

// New builds the process logger. level is one of debug, info, warn, error; format "text"
// selects the console writer, anything else emits JSON.
func New(level, format string) zerolog.Logger {
	return newLogger(os.Stdout, level, format)
}

func newLogger(out io.Writer, level, format string) zerolog.Logger {
	lvl := zerolog.InfoLevel
	switch level {
	case "debug":
		lvl = zerolog.DebugLevel
	case "warn":
		lvl = zerolog.WarnLevel
	case "error":
		lvl = zerolog.ErrorLevel
	}

	if format == "text" {
		out = zerolog.ConsoleWriter{Out: out}
	}
	return zerolog.New(out).Level(lvl).With().Timestamp().Logger()
}
