// Package logging builds per-component zerolog loggers. No global
// logger is exported; every component receives its own instance
// (spec §9's "no hidden globals" note, extended to logging).
package logging

import (
	"os"
	"time"

	"github.com/rs/zerolog"
)

// New returns a logger for the named component, writing structured
// console output to stdout.
func New(component string) zerolog.Logger {
	zerolog.TimeFieldFormat = time.RFC3339
	w := zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}
	return zerolog.New(w).With().Timestamp().Str("component", component).Logger()
}
