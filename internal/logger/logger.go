// Package logger provides structured, leveled logging backed by zap.
package logger

import (
	"os"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger wraps a zap.Logger with the package's level-setting conventions.
type Logger struct {
	mu    sync.RWMutex
	level zap.AtomicLevel
	base  *zap.Logger
}

var defaultLogger *Logger

func init() {
	defaultLogger = New(zapcore.InfoLevel)
}

// New creates a logger writing JSON-encoded entries to stderr at the given
// minimum level.
func New(level zapcore.Level) *Logger {
	atomic := zap.NewAtomicLevelAt(level)
	encoderCfg := zap.NewProductionEncoderConfig()
	encoderCfg.TimeKey = "ts"
	encoderCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	core := zapcore.NewCore(zapcore.NewJSONEncoder(encoderCfg), zapcore.AddSync(os.Stderr), atomic)
	return &Logger{level: atomic, base: zap.New(core)}
}

// NewNop returns a logger that discards all output, for use in tests.
func NewNop() *Logger {
	return &Logger{level: zap.NewAtomicLevelAt(zapcore.InvalidLevel), base: zap.NewNop()}
}

// Named returns a child logger scoped to the given component, e.g. "pager"
// or "workerpool".
func (l *Logger) Named(name string) *Logger {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return &Logger{level: l.level, base: l.base.Named(name)}
}

// With returns a child logger carrying the given structured fields on every
// subsequent call.
func (l *Logger) With(fields ...zap.Field) *Logger {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return &Logger{level: l.level, base: l.base.With(fields...)}
}

// SetLevel adjusts the minimum emitted level at runtime.
func (l *Logger) SetLevel(level zapcore.Level) {
	l.level.SetLevel(level)
}

func (l *Logger) Debug(msg string, fields ...zap.Field) { l.base.Debug(msg, fields...) }
func (l *Logger) Info(msg string, fields ...zap.Field)  { l.base.Info(msg, fields...) }
func (l *Logger) Warn(msg string, fields ...zap.Field)  { l.base.Warn(msg, fields...) }
func (l *Logger) Error(msg string, fields ...zap.Field) { l.base.Error(msg, fields...) }

// Debugf, Infof, Warnf and Errorf offer the printf-style call sites common
// across this codebase; each call builds a SugaredLogger from the base
// logger and delegates to it.
func (l *Logger) Debugf(format string, args ...any) { l.base.Sugar().Debugf(format, args...) }
func (l *Logger) Infof(format string, args ...any)  { l.base.Sugar().Infof(format, args...) }
func (l *Logger) Warnf(format string, args ...any)  { l.base.Sugar().Warnf(format, args...) }
func (l *Logger) Errorf(format string, args ...any) { l.base.Sugar().Errorf(format, args...) }

// Sync flushes any buffered log entries.
func (l *Logger) Sync() error { return l.base.Sync() }

// Default returns the process-wide default logger.
func Default() *Logger { return defaultLogger }

// SetLevel adjusts the default logger's minimum emitted level.
func SetLevel(level zapcore.Level) { defaultLogger.SetLevel(level) }

func Debug(msg string, fields ...zap.Field) { defaultLogger.Debug(msg, fields...) }
func Info(msg string, fields ...zap.Field)  { defaultLogger.Info(msg, fields...) }
func Warn(msg string, fields ...zap.Field)  { defaultLogger.Warn(msg, fields...) }
func Error(msg string, fields ...zap.Field) { defaultLogger.Error(msg, fields...) }

func Debugf(format string, args ...any) { defaultLogger.Debugf(format, args...) }
func Infof(format string, args ...any)  { defaultLogger.Infof(format, args...) }
func Warnf(format string, args ...any)  { defaultLogger.Warnf(format, args...) }
func Errorf(format string, args ...any) { defaultLogger.Errorf(format, args...) }
