package mqttclient

import (
	"fmt"
	"io"
	"log"
	"maps"
	"os"
	"slices"
	"strings"
	"sync/atomic"
)

// LogLevel represents the logging level.
type LogLevel int32

const (
	LogLevelDebug LogLevel = iota
	LogLevelInfo
	LogLevelWarn
	LogLevelError
	// LogLevelNone disables all logging.
	LogLevelNone
)

// String returns the string representation of the log level.
func (l LogLevel) String() string {
	switch l {
	case LogLevelDebug:
		return "DEBUG"
	case LogLevelInfo:
		return "INFO"
	case LogLevelWarn:
		return "WARN"
	case LogLevelError:
		return "ERROR"
	case LogLevelNone:
		return "NONE"
	default:
		return "UNKNOWN"
	}
}

// ParseLogLevel parses a level name, case-insensitive.
func ParseLogLevel(s string) (LogLevel, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return LogLevelDebug, nil
	case "info", "":
		return LogLevelInfo, nil
	case "warn", "warning":
		return LogLevelWarn, nil
	case "error":
		return LogLevelError, nil
	case "none", "off":
		return LogLevelNone, nil
	default:
		return LogLevelInfo, fmt.Errorf("%w: log level %q", ErrInvalidOption, s)
	}
}

// LogFields represents key-value pairs for structured logging.
type LogFields map[string]any

// Logger is the logging interface used by the client.
type Logger interface {
	Debug(msg string, fields LogFields)
	Info(msg string, fields LogFields)
	Warn(msg string, fields LogFields)
	Error(msg string, fields LogFields)

	// WithFields returns a logger that adds fields to every entry.
	WithFields(fields LogFields) Logger

	Level() LogLevel
	SetLevel(level LogLevel)
}

// NoOpLogger drops everything. It is the default.
type NoOpLogger struct{}

// NewNoOpLogger creates a new no-op logger.
func NewNoOpLogger() *NoOpLogger { return &NoOpLogger{} }

func (*NoOpLogger) Debug(string, LogFields)       {}
func (*NoOpLogger) Info(string, LogFields)        {}
func (*NoOpLogger) Warn(string, LogFields)        {}
func (*NoOpLogger) Error(string, LogFields)       {}
func (n *NoOpLogger) WithFields(LogFields) Logger { return n }
func (*NoOpLogger) Level() LogLevel               { return LogLevelNone }
func (*NoOpLogger) SetLevel(LogLevel)             {}

// StdLogger writes through the standard library log package as
// "[LEVEL] msg key=value ..." with keys sorted.
type StdLogger struct {
	logger *log.Logger
	level  *atomic.Int32
	fields LogFields
}

// NewStdLogger creates a logger writing to w, or to stderr when w is nil.
func NewStdLogger(w io.Writer, level LogLevel) *StdLogger {
	if w == nil {
		w = os.Stderr
	}
	lvl := new(atomic.Int32)
	lvl.Store(int32(level))
	return &StdLogger{
		logger: log.New(w, "", log.LstdFlags),
		level:  lvl,
	}
}

func (s *StdLogger) Debug(msg string, fields LogFields) { s.log(LogLevelDebug, msg, fields) }
func (s *StdLogger) Info(msg string, fields LogFields)  { s.log(LogLevelInfo, msg, fields) }
func (s *StdLogger) Warn(msg string, fields LogFields)  { s.log(LogLevelWarn, msg, fields) }
func (s *StdLogger) Error(msg string, fields LogFields) { s.log(LogLevelError, msg, fields) }

// WithFields returns a child logger sharing the output and level.
func (s *StdLogger) WithFields(fields LogFields) Logger {
	return &StdLogger{
		logger: s.logger,
		level:  s.level,
		fields: mergeFields(s.fields, fields),
	}
}

func (s *StdLogger) Level() LogLevel { return LogLevel(s.level.Load()) }

func (s *StdLogger) SetLevel(level LogLevel) { s.level.Store(int32(level)) }

func (s *StdLogger) log(level LogLevel, msg string, fields LogFields) {
	if level < s.Level() {
		return
	}

	all := mergeFields(s.fields, fields)
	if len(all) == 0 {
		s.logger.Printf("[%s] %s", level, msg)
		return
	}

	var b strings.Builder
	for _, k := range slices.Sorted(maps.Keys(all)) {
		fmt.Fprintf(&b, " %s=%v", k, all[k])
	}
	s.logger.Printf("[%s] %s%s", level, msg, b.String())
}

func mergeFields(base, extra LogFields) LogFields {
	if len(extra) == 0 {
		return base
	}
	out := make(LogFields, len(base)+len(extra))
	maps.Copy(out, base)
	maps.Copy(out, extra)
	return out
}

// Standard field names.
const (
	LogFieldClientID   = "client_id"
	LogFieldTopic      = "topic"
	LogFieldPacketID   = "packet_id"
	LogFieldPacketType = "packet_type"
	LogFieldQoS        = "qos"
	LogFieldReasonCode = "reason_code"
	LogFieldError      = "error"
	LogFieldRemoteAddr = "remote_addr"
	LogFieldVersion    = "protocol_version"
	LogFieldKeepAlive  = "keep_alive"
	LogFieldState      = "state"
)
