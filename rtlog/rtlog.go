// Package rtlog wires the runtime's ambient structured logging: a
// generic github.com/joeycumines/logiface.Logger facade backed
// concretely by github.com/joeycumines/izerolog (a zerolog Writer /
// EventFactory / EventReleaser trio, composed via WithZerolog). The
// Logger is threaded explicitly as a field on runtime.Runtime and its
// sub-components — no hidden globals.
package rtlog

import (
	"io"
	"os"

	"github.com/joeycumines/izerolog"
	"github.com/joeycumines/logiface"
	"github.com/rs/zerolog"
)

// Event is the concrete event type flowing through every Logger used by
// this runtime.
type Event = izerolog.Event

// Logger is the runtime's logging facade: a generic logiface.Logger bound
// to the izerolog backend.
type Logger = logiface.Logger[*Event]

// Option configures a Logger constructed by New.
type Option = logiface.Option[*Event]

// Config controls the zerolog backend constructed by New, when no
// explicit WithZerologLogger option is supplied.
type Config struct {
	// Writer receives the rendered log lines. Defaults to os.Stderr.
	Writer io.Writer
	// Level is the minimum zerolog level to emit. A zero Level defaults to
	// zerolog.InfoLevel when Writer is nil or os.Stderr; with any other
	// Writer, zero is zerolog.DebugLevel.
	Level zerolog.Level
	// Pretty enables zerolog's human-readable console writer, instead of
	// newline-delimited JSON. Intended for interactive/CLI use; production
	// use should leave this false.
	Pretty bool
}

// New constructs the runtime's root Logger. With no options, it logs
// newline-delimited JSON to os.Stderr at logiface.LevelInformational.
func New(cfg Config, options ...Option) *Logger {
	if cfg.Writer == nil {
		cfg.Writer = os.Stderr
	}
	if cfg.Level == 0 && cfg.Writer == os.Stderr {
		cfg.Level = zerolog.InfoLevel
	}

	w := cfg.Writer
	if cfg.Pretty {
		w = zerolog.ConsoleWriter{Out: cfg.Writer}
	}
	zl := zerolog.New(w).Level(cfg.Level).With().Timestamp().Logger()

	opts := make([]Option, 0, len(options)+1)
	opts = append(opts, izerolog.WithZerolog(zl))
	opts = append(opts, options...)
	return logiface.New[*Event](opts...)
}

// WithZerologLogger is an Option that backs the Logger with a
// caller-constructed zerolog.Logger, bypassing Config entirely (useful
// when the caller already has house logging conventions wired up).
func WithZerologLogger(zl zerolog.Logger) Option {
	return izerolog.WithZerolog(zl)
}

// WithLevel is an alias for logiface.WithLevel, re-exported so callers
// don't need a second import for the common case of overriding the
// minimum logiface level.
func WithLevel(level logiface.Level) Option {
	return logiface.WithLevel[*Event](level)
}

// Discard returns a Logger that drops every event, for tests and other
// contexts that accept a *Logger but don't want output.
func Discard() *Logger {
	return New(Config{Writer: io.Discard})
}
