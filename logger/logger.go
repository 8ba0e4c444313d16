// Package logger builds the zerolog.Logger shared by both askesis
// binaries, kept close to the teacher's logger.New (console writer,
// debug level in development).
package logger

import (
	"os"

	"github.com/rs/zerolog"
)

// New returns a configured zerolog.Logger for the given env ("development"
// or "production") and level name ("debug", "info", "warn", "error").
func New(env, levelName string) zerolog.Logger {
	out := zerolog.ConsoleWriter{Out: os.Stderr}

	lvl, err := zerolog.ParseLevel(levelName)
	if err != nil {
		lvl = zerolog.InfoLevel
	}
	if env == "development" && lvl > zerolog.DebugLevel {
		lvl = zerolog.DebugLevel
	}
	zerolog.SetGlobalLevel(lvl)

	return zerolog.New(out).With().Timestamp().Logger()
}
