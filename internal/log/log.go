// Package log defines the logging seam used throughout the client core.
package log

import (
	"io"

	"github.com/sirupsen/logrus"
)

// Logger is the minimal interface the core calls into: debug for
// wire-level chatter, warn for recoverable hiccups, error for things
// an operator should see.
type Logger interface {
	Debugf(format string, args ...interface{})
	Infof(format string, args ...interface{})
	Warnf(format string, args ...interface{})
	Errorf(format string, args ...interface{})
	WithField(key string, value interface{}) Logger
}

// logrusLogger adapts logrus.FieldLogger to Logger.
type logrusLogger struct {
	entry logrus.FieldLogger
}

// New returns a Logger backed by a logrus.Logger writing to w at level.
func New(w io.Writer, level logrus.Level) Logger {
	l := logrus.New()
	l.SetOutput(w)
	l.SetLevel(level)
	return &logrusLogger{entry: l}
}

// NewNop returns a Logger that discards everything, for tests and for
// callers that don't configure a logger.
func NewNop() Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return &logrusLogger{entry: l}
}

func (l *logrusLogger) Debugf(format string, args ...interface{}) { l.entry.Debugf(format, args...) }
func (l *logrusLogger) Infof(format string, args ...interface{})  { l.entry.Infof(format, args...) }
func (l *logrusLogger) Warnf(format string, args ...interface{})  { l.entry.Warnf(format, args...) }
func (l *logrusLogger) Errorf(format string, args ...interface{}) { l.entry.Errorf(format, args...) }

func (l *logrusLogger) WithField(key string, value interface{}) Logger {
	return &logrusLogger{entry: l.entry.WithField(key, value)}
}
