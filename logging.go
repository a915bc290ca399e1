package mwbridge

import (
	"os"

	"github.com/rs/zerolog"
)

// Logger is the internal diagnostic logging seam, shaped like Metrics: an
// interface callers depend on, a default implementation, and room for a
// caller-supplied one via WithLogger. It is entirely separate from the
// host-visible NotificationSink (§6) and has no bearing on what a host
// observes; it exists purely for operational debugging of this package.
type Logger interface {
	Debug(msg string, kv ...interface{})
	Info(msg string, kv ...interface{})
	Warn(msg string, kv ...interface{})
	Error(msg string, err error, kv ...interface{})
}

// DefaultLogger implements Logger with zerolog, writing structured JSON
// lines to stderr.
type DefaultLogger struct {
	z zerolog.Logger
}

// NewDefaultLogger builds a timestamped DefaultLogger. It sets no level of
// its own, so zerolog's global level decides which records are written.
func NewDefaultLogger() *DefaultLogger {
	return &DefaultLogger{z: zerolog.New(os.Stderr).With().Timestamp().Logger()}
}

func fields(e *zerolog.Event, kv []interface{}) *zerolog.Event {
	for i := 0; i+1 < len(kv); i += 2 {
		key, ok := kv[i].(string)
		if !ok {
			continue
		}
		e = e.Interface(key, kv[i+1])
	}
	return e
}

func (l *DefaultLogger) Debug(msg string, kv ...interface{}) {
	fields(l.z.Debug(), kv).Msg(msg)
}

func (l *DefaultLogger) Info(msg string, kv ...interface{}) {
	fields(l.z.Info(), kv).Msg(msg)
}

func (l *DefaultLogger) Warn(msg string, kv ...interface{}) {
	fields(l.z.Warn(), kv).Msg(msg)
}

func (l *DefaultLogger) Error(msg string, err error, kv ...interface{}) {
	fields(l.z.Error().Err(err), kv).Msg(msg)
}

// NopLogger discards everything. Useful in tests that don't want stderr
// noise from a transport's diagnostic logging.
type NopLogger struct{}

func (NopLogger) Debug(string, ...interface{})      {}
func (NopLogger) Info(string, ...interface{})       {}
func (NopLogger) Warn(string, ...interface{})       {}
func (NopLogger) Error(string, error, ...interface{}) {}
