// Package logging configures the process-wide zerolog logger.
package logging

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Setup sets the global level and output format. Unknown levels fall back to info.
func Setup(level, format string) zerolog.Logger {
	return setup(os.Stdout, level, format)
}

func setup(out io.Writer, level, format string) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil || level == "" {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)
	zerolog.TimeFieldFormat = time.RFC3339Nano

	if format == "console" {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}
	}
	logger := zerolog.New(out).With().Timestamp().Str("service", "jlpt-exam").Logger()
	log.Logger = logger
	if err != nil {
		logger.Warn().Str("configured", level).Msg("invalid log level, using info")
	}
	return logger
}
