package logging

import pionlog "github.com/pion/logging"

// pionAdapter makes a *Logger satisfy github.com/pion/logging.LeveledLogger
// so internal/dtls can hand this package's sink straight to
// github.com/pion/dtls/v2 instead of letting it default to its own
// logger factory.
type pionAdapter struct {
	log *Logger
}

// NewPionLeveledLogger wraps log for use as a pion/dtls LeveledLogger.
func NewPionLeveledLogger(log *Logger) pionlog.LeveledLogger {
	return &pionAdapter{log}
}

func (a *pionAdapter) Trace(msg string)                          { a.log.Log(MaxLevel, 1, "%s", msg) }
func (a *pionAdapter) Tracef(format string, args ...interface{}) { a.log.Log(MaxLevel, 1, format, args...) }
func (a *pionAdapter) Debug(msg string)                          { a.log.Log(Debug, 1, "%s", msg) }
func (a *pionAdapter) Debugf(format string, args ...interface{}) { a.log.Log(Debug, 1, format, args...) }
func (a *pionAdapter) Info(msg string)                           { a.log.Log(Info, 1, "%s", msg) }
func (a *pionAdapter) Infof(format string, args ...interface{})  { a.log.Log(Info, 1, format, args...) }
func (a *pionAdapter) Warn(msg string)                           { a.log.Log(Warn, 1, "%s", msg) }
func (a *pionAdapter) Warnf(format string, args ...interface{})  { a.log.Log(Warn, 1, format, args...) }
func (a *pionAdapter) Error(msg string)                          { a.log.Log(Error, 1, "%s", msg) }
func (a *pionAdapter) Errorf(format string, args ...interface{}) { a.log.Log(Error, 1, format, args...) }

// pionFactory adapts a single *Logger as a pionlog.LoggerFactory, deriving
// a WithTag child per scope so pion/dtls's internal component names
// ("dtls", "sctp", ...) show up as this package's tags.
type pionFactory struct {
	log *Logger
}

func NewPionLoggerFactory(log *Logger) pionlog.LoggerFactory {
	return &pionFactory{log}
}

func (f *pionFactory) NewLogger(scope string) pionlog.LeveledLogger {
	return NewPionLeveledLogger(f.log.WithTag(scope))
}
