package mqttclient

import (
	"github.com/sirupsen/logrus"
)

// LogrusLogger adapts a logrus logger.
type LogrusLogger struct {
	entry *logrus.Entry
}

// NewLogrusLogger wraps logger, or the logrus standard logger when nil.
// The logrus level is set from level.
func NewLogrusLogger(logger *logrus.Logger, level LogLevel) *LogrusLogger {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	l := &LogrusLogger{entry: logrus.NewEntry(logger)}
	l.SetLevel(level)
	return l
}

func (l *LogrusLogger) Debug(msg string, fields LogFields) {
	l.entry.WithFields(logrus.Fields(fields)).Debug(msg)
}

func (l *LogrusLogger) Info(msg string, fields LogFields) {
	l.entry.WithFields(logrus.Fields(fields)).Info(msg)
}

func (l *LogrusLogger) Warn(msg string, fields LogFields) {
	l.entry.WithFields(logrus.Fields(fields)).Warn(msg)
}

func (l *LogrusLogger) Error(msg string, fields LogFields) {
	l.entry.WithFields(logrus.Fields(fields)).Error(msg)
}

func (l *LogrusLogger) WithFields(fields LogFields) Logger {
	return &LogrusLogger{entry: l.entry.WithFields(logrus.Fields(fields))}
}

// Level maps the logrus level back. Trace counts as debug, fatal as error
// and panic as none.
func (l *LogrusLogger) Level() LogLevel {
	switch lvl := l.entry.Logger.GetLevel(); {
	case lvl >= logrus.DebugLevel:
		return LogLevelDebug
	case lvl == logrus.InfoLevel:
		return LogLevelInfo
	case lvl == logrus.WarnLevel:
		return LogLevelWarn
	case lvl == logrus.PanicLevel:
		return LogLevelNone
	default:
		return LogLevelError
	}
}

// SetLevel changes the level of the underlying logrus logger. LogLevelNone
// maps to panic level, which the client never logs at.
func (l *LogrusLogger) SetLevel(level LogLevel) {
	var lvl logrus.Level
	switch level {
	case LogLevelDebug:
		lvl = logrus.DebugLevel
	case LogLevelInfo:
		lvl = logrus.InfoLevel
	case LogLevelWarn:
		lvl = logrus.WarnLevel
	case LogLevelError:
		lvl = logrus.ErrorLevel
	default:
		lvl = logrus.PanicLevel
	}
	l.entry.Logger.SetLevel(lvl)
}
