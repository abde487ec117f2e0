// Package logging builds the process-wide zerolog.Logger and hands out
// component-scoped children. Mirrors the teacher's pattern of
// constructing one logger at boot and threading it through
// constructors as a field instead of reaching for a package-level
// global (see Sergey-Bar-Alfred services/gateway/logger).
package logging

import (
	"os"
	"time"

	"github.com/rs/zerolog"
)

// New builds the root logger. When pretty is true (local/dev runs) it
// writes human-readable console output; otherwise it writes JSON lines
// suitable for ingestion.
func New(pretty bool) zerolog.Logger {
	zerolog.TimeFieldFormat = time.RFC3339

	var w = os.Stdout
	if pretty {
		cw := zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.Kitchen}
		return zerolog.New(cw).With().Timestamp().Logger()
	}
	return zerolog.New(w).With().Timestamp().Logger()
}

// For returns a sub-logger tagged with the given component name.
func For(base zerolog.Logger, component string) zerolog.Logger {
	return base.With().Str("component", component).Logger()
}
