// Package obs provides the structured logging conventions shared by vela's
// internal packages, wrapping zerolog the way the wider pack's services do
// (component-scoped child loggers over a single configured instance).
//
// Unlike an application's global logger, a library defaults to silence: the
// zero value of [Logger] is a no-op logger, so embedding an import of vela
// never produces output unless the caller supplies one via
// vela.Options.Logger.
package obs

import "github.com/rs/zerolog"

// Logger wraps a zerolog.Logger and is safe to copy.
type Logger struct {
	zerolog.Logger
}

// Nop returns a Logger that discards everything, the default when no
// logger is configured.
func Nop() Logger {
	return Logger{Logger: zerolog.Nop()}
}

// New wraps an existing zerolog.Logger.
func New(l zerolog.Logger) Logger {
	return Logger{Logger: l}
}

// Component returns a child logger scoped to component, mirroring the
// pack's WithComponent convention (e.g. "wal", "indexing", "hnsw", "ivf").
func (l Logger) Component(component string) Logger {
	return Logger{Logger: l.Logger.With().Str("component", component).Logger()}
}
