package logger

import (
	"fmt"

	"github.com/pion/logging"
)

// PionLoggerFactory routes pion's internal logs into a Writer.
// Trace and Debug output is discarded.
type PionLoggerFactory struct {
	Parent Writer
}

// NewLogger implements logging.LoggerFactory.
func (f *PionLoggerFactory) NewLogger(scope string) logging.LeveledLogger {
	return &pionLogger{
		scope:  scope,
		parent: f.Parent,
	}
}

type pionLogger struct {
	scope  string
	parent Writer
}

func (l *pionLogger) log(level Level, msg string) {
	l.parent.Log(level, "[pion %s] %s", l.scope, msg)
}

func (l *pionLogger) Trace(string)                  {}
func (l *pionLogger) Tracef(string, ...interface{}) {}
func (l *pionLogger) Debug(string)                  {}
func (l *pionLogger) Debugf(string, ...interface{}) {}

func (l *pionLogger) Info(msg string) { l.log(Info, msg) }

func (l *pionLogger) Infof(format string, args ...interface{}) {
	l.log(Info, fmt.Sprintf(format, args...))
}

func (l *pionLogger) Warn(msg string) { l.log(Warn, msg) }

func (l *pionLogger) Warnf(format string, args ...interface{}) {
	l.log(Warn, fmt.Sprintf(format, args...))
}

func (l *pionLogger) Error(msg string) { l.log(Error, msg) }

func (l *pionLogger) Errorf(format string, args ...interface{}) {
	l.log(Error, fmt.Sprintf(format, args...))
}
