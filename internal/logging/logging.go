// Package logging bootstraps the process-wide zerolog logger. The gateway
// logs structured JSON lines by default and switches to a human-readable
// console writer when Init is called with console set (gatewayd does so
// when stderr is a terminal), mirroring the
// two modes the CLI tooling this codebase grew out of already supported.
package logging

import (
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Init configures the global zerolog logger. level is parsed leniently —
// an unrecognized value falls back to info rather than failing startup.
func Init(level string, console bool) {
	zerolog.TimeFieldFormat = time.RFC3339

	parsed, err := zerolog.ParseLevel(level)
	if err != nil {
		parsed = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(parsed)

	if console {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})
		return
	}
	log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
}
