// Package logging configures the global zerolog logger shared by both
// binaries.
package logging

import (
	"io"
	"os"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Init switches the global logger to human-friendly console output on
// stderr at the given level.
func Init(level string) {
	InitWriter(os.Stderr, level)
}

func InitWriter(w io.Writer, level string) {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: w})
	SetLevel(level)
}

// SetLevel changes the global level. An unknown or empty level means info.
func SetLevel(level string) zerolog.Level {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil || lvl == zerolog.NoLevel {
		if level != "" {
			log.Warn().Str("module", "logging").Str("level", level).Msg("unknown log level, using info")
		}
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)
	return lvl
}
