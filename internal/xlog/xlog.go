// Package xlog wraps zap with the same call shape the rest of the codebase
// was written against: package-level Infof/Errorf/With helpers backed by a
// single process-wide *zap.SugaredLogger.
package xlog

import (
	"go.uber.org/zap"
)

var _log = newNop()

func newNop() *zap.SugaredLogger {
	return zap.NewNop().Sugar()
}

// Configure installs l as the process-wide logger. Call once during startup;
// safe to skip in tests, which fall back to a no-op logger.
func Configure(l *zap.Logger) {
	_log = l.Sugar()
}

// With returns a child logger annotated with the given keysAndValues.
func With(keysAndValues ...interface{}) *zap.SugaredLogger {
	return _log.With(keysAndValues...)
}

// Infof logs at info level.
func Infof(template string, args ...interface{}) {
	_log.Infof(template, args...)
}

// Info logs at info level.
func Info(args ...interface{}) {
	_log.Info(args...)
}

// Errorf logs at error level.
func Errorf(template string, args ...interface{}) {
	_log.Errorf(template, args...)
}

// Error logs at error level.
func Error(args ...interface{}) {
	_log.Error(args...)
}

// Warnf logs at warn level.
func Warnf(template string, args ...interface{}) {
	_log.Warnf(template, args...)
}
