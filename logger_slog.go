package mqttclient

import (
	"context"
	"log/slog"
	"sync/atomic"
)

// SlogLogger adapts a *slog.Logger. Level filtering happens here as well as
// in the slog handler, so SetLevel works without rebuilding the handler.
type SlogLogger struct {
	logger *slog.Logger
	level  *atomic.Int32
}

// NewSlogLogger wraps logger, or slog.Default() when logger is nil.
func NewSlogLogger(logger *slog.Logger, level LogLevel) *SlogLogger {
	if logger == nil {
		logger = slog.Default()
	}
	lvl := new(atomic.Int32)
	lvl.Store(int32(level))
	return &SlogLogger{logger: logger, level: lvl}
}

func (s *SlogLogger) Debug(msg string, fields LogFields) { s.log(LogLevelDebug, msg, fields) }
func (s *SlogLogger) Info(msg string, fields LogFields)  { s.log(LogLevelInfo, msg, fields) }
func (s *SlogLogger) Warn(msg string, fields LogFields)  { s.log(LogLevelWarn, msg, fields) }
func (s *SlogLogger) Error(msg string, fields LogFields) { s.log(LogLevelError, msg, fields) }

func (s *SlogLogger) WithFields(fields LogFields) Logger {
	return &SlogLogger{logger: s.logger.With(slogArgs(fields)...), level: s.level}
}

func (s *SlogLogger) Level() LogLevel { return LogLevel(s.level.Load()) }

func (s *SlogLogger) SetLevel(level LogLevel) { s.level.Store(int32(level)) }

func (s *SlogLogger) log(level LogLevel, msg string, fields LogFields) {
	if level < s.Level() {
		return
	}
	s.logger.Log(context.Background(), slogLevel(level), msg, slogArgs(fields)...)
}

func slogLevel(l LogLevel) slog.Level {
	switch l {
	case LogLevelDebug:
		return slog.LevelDebug
	case LogLevelWarn:
		return slog.LevelWarn
	case LogLevelError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func slogArgs(fields LogFields) []any {
	args := make([]any, 0, len(fields))
	for k, v := range fields {
		if err, ok := v.(error); ok {
			v = err.Error()
		}
		args = append(args, slog.Any(k, v))
	}
	return args
}
