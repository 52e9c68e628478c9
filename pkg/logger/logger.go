package logger

import (
	"strings"
	"sync/atomic"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var defaultLogger atomic.Pointer[zap.SugaredLogger]

// Initialize sets up the global logger with the specified level and format.
// Format "json" selects the production encoder, anything else the console one.
func Initialize(level, format string) error {
	var cfg zap.Config
	if strings.ToLower(format) == "json" {
		cfg = zap.NewProductionConfig()
	} else {
		cfg = zap.NewDevelopmentConfig()
	}

	lvl, err := zapcore.ParseLevel(strings.ToLower(level))
	if err != nil {
		lvl = zapcore.InfoLevel
	}
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	cfg.DisableStacktrace = true

	l, err := cfg.Build()
	if err != nil {
		return err
	}
	Set(l)
	return nil
}

// Set replaces the global logger.
func Set(l *zap.Logger) {
	defaultLogger.Store(l.Sugar())
}

// Get returns the global logger, falling back to a no-op logger when
// Initialize has not been called.
func Get() *zap.SugaredLogger {
	if l := defaultLogger.Load(); l != nil {
		return l
	}
	nop := zap.NewNop().Sugar()
	defaultLogger.CompareAndSwap(nil, nop)
	return defaultLogger.Load()
}

func Debug(msg string, args ...any) {
	Get().Debugw(msg, args...)
}

func Info(msg string, args ...any) {
	Get().Infow(msg, args...)
}

func Warn(msg string, args ...any) {
	Get().Warnw(msg, args...)
}

func Error(msg string, args ...any) {
	Get().Errorw(msg, args...)
}

// With returns a logger with the given key/value pairs attached.
func With(args ...any) *zap.SugaredLogger {
	return Get().With(args...)
}

// WithComponent returns a logger tagged with a component name.
func WithComponent(name string) *zap.SugaredLogger {
	return Get().With("component", name)
}

// Sync flushes any buffered log entries.
func Sync() error {
	return Get().Sync()
}
