// Package logger provides structured logging for the model engine, backed by zap.
package logger

import (
	"io"
	"os"
	"strings"
	"sync/atomic"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Level represents the logging level.
type Level int

// Log levels.
const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
	LevelNone
)

// String returns the string representation of the level.
func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "debug"
	case LevelInfo:
		return "info"
	case LevelWarn:
		return "warn"
	case LevelError:
		return "error"
	case LevelNone:
		return "none"
	default:
		return ""
	}
}

// ParseLevel maps a configuration string to a Level. Unknown values give
// LevelInfo.
func ParseLevel(s string) Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return LevelDebug
	case "warn", "warning":
		return LevelWarn
	case "error":
		return LevelError
	case "none", "off":
		return LevelNone
	default:
		return LevelInfo
	}
}

func (l Level) zapLevel() zapcore.Level {
	switch l {
	case LevelDebug:
		return zap.DebugLevel
	case LevelWarn:
		return zap.WarnLevel
	case LevelError:
		return zap.ErrorLevel
	case LevelNone:
		return zapcore.FatalLevel + 1
	default:
		return zap.InfoLevel
	}
}

// Logger provides logging functionality.
type Logger struct {
	zl    *zap.Logger
	level zap.AtomicLevel
}

var defaultLogger atomic.Pointer[Logger]

func init() {
	defaultLogger.Store(New(os.Stderr, LevelInfo))
}

// Default returns the default logger.
func Default() *Logger {
	return defaultLogger.Load()
}

// SetDefault sets the default logger.
func SetDefault(l *Logger) {
	if l != nil {
		defaultLogger.Store(l)
	}
}

// New creates a JSON logger writing to output.
func New(output io.Writer, level Level) *Logger {
	encoderConfig := zapcore.EncoderConfig{
		TimeKey:        "time",
		LevelKey:       "level",
		NameKey:        "logger",
		MessageKey:     "msg",
		StacktraceKey:  "stacktrace",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeLevel:    zapcore.LowercaseLevelEncoder,
		EncodeTime:     zapcore.ISO8601TimeEncoder,
		EncodeDuration: zapcore.StringDurationEncoder,
	}

	atom := zap.NewAtomicLevelAt(level.zapLevel())
	core := zapcore.NewCore(zapcore.NewJSONEncoder(encoderConfig), zapcore.AddSync(output), atom)
	return &Logger{zl: zap.New(core).Named("fhirmodel"), level: atom}
}

// Wrap adopts an existing zap logger, e.g. one configured by the embedding
// application.
func Wrap(zl *zap.Logger) *Logger {
	return &Logger{zl: zl, level: zap.NewAtomicLevelAt(zap.DebugLevel)}
}

// Nop returns a logger that discards everything.
func Nop() *Logger {
	return &Logger{zl: zap.NewNop(), level: zap.NewAtomicLevelAt(LevelNone.zapLevel())}
}

// Zap returns the underlying zap logger.
func (l *Logger) Zap() *zap.Logger {
	return l.zl
}

// With returns a child logger that adds fields to every entry.
func (l *Logger) With(fields ...zap.Field) *Logger {
	return &Logger{zl: l.zl.With(fields...), level: l.level}
}

// SetLevel sets the logging level.
func (l *Logger) SetLevel(level Level) {
	l.level.SetLevel(level.zapLevel())
}

// Enabled reports whether entries at level are written.
func (l *Logger) Enabled(level Level) bool {
	return level != LevelNone && l.level.Enabled(level.zapLevel())
}

// Debug logs a debug message.
func (l *Logger) Debug(msg string, fields ...zap.Field) {
	l.zl.Debug(msg, fields...)
}

// Info logs an info message.
func (l *Logger) Info(msg string, fields ...zap.Field) {
	l.zl.Info(msg, fields...)
}

// Warn logs a warning message.
func (l *Logger) Warn(msg string, fields ...zap.Field) {
	l.zl.Warn(msg, fields...)
}

// Error logs an error message.
func (l *Logger) Error(msg string, fields ...zap.Field) {
	l.zl.Error(msg, fields...)
}

// Sync flushes buffered entries.
func (l *Logger) Sync() error {
	return l.zl.Sync()
}

// Package-level convenience functions.

// Debug logs a debug message using the default logger.
func Debug(msg string, fields ...zap.Field) {
	Default().Debug(msg, fields...)
}

// Info logs an info message using the default logger.
func Info(msg string, fields ...zap.Field) {
	Default().Info(msg, fields...)
}

// Warn logs a warning message using the default logger.
func Warn(msg string, fields ...zap.Field) {
	Default().Warn(msg, fields...)
}

// Error logs an error message using the default logger.
func Error(msg string, fields ...zap.Field) {
	Default().Error(msg, fields...)
}

// SetLevel sets the level of the default logger.
func SetLevel(level Level) {
	Default().SetLevel(level)
}

// Disable disables all logging.
func Disable() {
	Default().SetLevel(LevelNone)
}
