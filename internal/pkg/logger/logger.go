package logger

import (
	"os"
	"time"

	"github.com/rs/zerolog"
)

// New builds the service logger. Dev mode writes human readable console
// output at debug level; prod writes JSON at info level.
func New(appMode string) zerolog.Logger {
	level := zerolog.InfoLevel
	if appMode == "dev" {
		level = zerolog.DebugLevel
	}

	log := zerolog.New(os.Stdout).
		Level(level).
		With().
		Timestamp().
		Str("service", "zakat-ledger").
		Logger()

	if appMode == "dev" {
		log = log.Output(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339})
	}

	return log
}

// Component returns a child logger tagged with a component name
func Component(log zerolog.Logger, name string) zerolog.Logger {
	return log.With().Str("component", name).Logger()
}
