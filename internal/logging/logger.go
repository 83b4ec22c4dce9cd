package logging

import (
	"fmt"
	"os"
	"strings"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// LogLevel represents different logging levels
type LogLevel int

const (
	// LevelError only logs errors
	LevelError LogLevel = iota
	// LevelWarn logs warnings and errors
	LevelWarn
	// LevelInfo logs general information, warnings and errors
	LevelInfo
	// LevelDebug logs detailed debug information and all above
	LevelDebug
	// LevelTrace logs very detailed trace information and all above
	LevelTrace
)

// traceLevel sits one step below zap's debug level.
const traceLevel = zapcore.DebugLevel - 1

var levelNames = map[LogLevel]string{
	LevelError: "ERROR",
	LevelWarn:  "WARN",
	LevelInfo:  "INFO",
	LevelDebug: "DEBUG",
	LevelTrace: "TRACE",
}

var zapLevels = map[LogLevel]zapcore.Level{
	LevelError: zapcore.ErrorLevel,
	LevelWarn:  zapcore.WarnLevel,
	LevelInfo:  zapcore.InfoLevel,
	LevelDebug: zapcore.DebugLevel,
	LevelTrace: traceLevel,
}

// String returns the canonical upper-case name of the level.
func (l LogLevel) String() string {
	if name, ok := levelNames[l]; ok {
		return name
	}
	return fmt.Sprintf("LEVEL(%d)", int(l))
}

// ParseLevel converts a level name such as "debug" or "TRACE" into a LogLevel.
func ParseLevel(name string) (LogLevel, error) {
	upper := strings.ToUpper(strings.TrimSpace(name))
	for level, levelName := range levelNames {
		if levelName == upper {
			return level, nil
		}
	}
	return LevelInfo, fmt.Errorf("unknown log level %q", name)
}

// Logger provides leveled, prefixed logging on top of zap.
// Every logger derived through WithPrefix shares the level of its parent.
type Logger struct {
	zl    *zap.Logger
	level zap.AtomicLevel
}

var (
	defaultLogger *Logger
	once          sync.Once
)

// GetLogger returns the default logger instance
func GetLogger() *Logger {
	once.Do(func() {
		defaultLogger = NewLogger("HISTFS")
	})
	return defaultLogger
}

func encodeLevel(l zapcore.Level, enc zapcore.PrimitiveArrayEncoder) {
	if l == traceLevel {
		enc.AppendString("TRACE")
		return
	}
	zapcore.CapitalLevelEncoder(l, enc)
}

// NewLogger creates a new logger with the given prefix
func NewLogger(prefix string) *Logger {
	encCfg := zap.NewDevelopmentEncoderConfig()
	encCfg.EncodeLevel = encodeLevel
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	if os.Getenv("LOG_LONGFILE") != "" {
		encCfg.EncodeCaller = zapcore.FullCallerEncoder
	}

	level := zap.NewAtomicLevelAt(zapcore.InfoLevel)
	core := zapcore.NewCore(
		zapcore.NewConsoleEncoder(encCfg),
		zapcore.Lock(os.Stdout),
		level,
	)

	return &Logger{
		zl:    zap.New(core, zap.AddCaller(), zap.AddCallerSkip(2)).Named(prefix),
		level: level,
	}
}

// SetLevel sets the logging level
func (l *Logger) SetLevel(level LogLevel) {
	zl, ok := zapLevels[level]
	if !ok {
		zl = zapcore.InfoLevel
	}
	l.level.SetLevel(zl)
}

// Level reports the current logging level.
func (l *Logger) Level() LogLevel {
	current := l.level.Level()
	for level, zl := range zapLevels {
		if zl == current {
			return level
		}
	}
	return LevelInfo
}

// Enabled reports whether a message at the given level would be written.
func (l *Logger) Enabled(level LogLevel) bool {
	zl, ok := zapLevels[level]
	return ok && l.level.Enabled(zl)
}

func (l *Logger) log(level zapcore.Level, format string, args ...interface{}) {
	if !l.level.Enabled(level) {
		return
	}
	if ce := l.zl.Check(level, fmt.Sprintf(format, args...)); ce != nil {
		ce.Write()
	}
}

// Error logs an error message
func (l *Logger) Error(format string, args ...interface{}) {
	l.log(zapcore.ErrorLevel, format, args...)
}

// Warn logs a warning message
func (l *Logger) Warn(format string, args ...interface{}) {
	l.log(zapcore.WarnLevel, format, args...)
}

// Info logs an informational message
func (l *Logger) Info(format string, args ...interface{}) {
	l.log(zapcore.InfoLevel, format, args...)
}

// Debug logs a debug message
func (l *Logger) Debug(format string, args ...interface{}) {
	l.log(zapcore.DebugLevel, format, args...)
}

// Trace logs a trace message
func (l *Logger) Trace(format string, args ...interface{}) {
	l.log(traceLevel, format, args...)
}

// Sync flushes any buffered log entries.
func (l *Logger) Sync() error {
	return l.zl.Sync()
}

// WithPrefix creates a new logger with an additional prefix
func (l *Logger) WithPrefix(prefix string) *Logger {
	return &Logger{
		zl:    l.zl.Named(prefix),
		level: l.level,
	}
}
