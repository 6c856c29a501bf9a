package codesign

import (
	"os"

	"github.com/rs/zerolog"
)

// Sink is the package-level logging seam: cmd/resign writes its progress and
// errors through Log(), and SetSink substitutes another zerolog.Logger (or a
// test buffer) for the package default. The signing functions in this
// package do not log.
type Sink interface {
	Debug() *zerolog.Event
	Info() *zerolog.Event
	Warn() *zerolog.Event
	Error() *zerolog.Event
}

// defaultSink wraps zerolog's console writer, matching the teacher's
// stderr-structured-log convention.
var defaultSink Sink = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()

// SetSink replaces the package-level logging sink.
func SetSink(s Sink) { defaultSink = s }

// Log returns the current package-level sink.
func Log() Sink { return defaultSink }
