// Package logger holds the process-wide zap logger. Packages take child
// loggers through WithModule, WithJob or ForChannel at construction time.
package logger

import (
	"strings"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	mu           sync.RWMutex
	globalLogger = zap.NewNop()
	level        = zap.NewAtomicLevelAt(zapcore.InfoLevel)
)

// Options configures Init. Fields are attached to every entry, typically the
// worker instance so logs from several dispatchers can be told apart.
type Options struct {
	Level    string
	Encoding string // "console" or "json" (default)
	Fields   []zap.Field
}

// Init builds the global logger. An unknown level falls back to info.
func Init(opts Options) error {
	cfg := zap.NewProductionConfig()
	if strings.EqualFold(strings.TrimSpace(opts.Encoding), "console") {
		cfg = zap.NewDevelopmentConfig()
	}

	if err := SetLevel(opts.Level); err != nil {
		level.SetLevel(zapcore.InfoLevel)
	}
	cfg.Level = level
	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	built, err := cfg.Build(zap.AddStacktrace(zapcore.ErrorLevel))
	if err != nil {
		return err
	}
	Replace(built.With(opts.Fields...))
	return nil
}

// SetLevel changes the level of a logger built by Init without rebuilding it.
func SetLevel(text string) error {
	var parsed zapcore.Level
	if err := parsed.UnmarshalText([]byte(strings.TrimSpace(text))); err != nil {
		return err
	}
	level.SetLevel(parsed)
	return nil
}

// Replace swaps the global logger. Tests use it to capture output with zaptest/observer.
func Replace(l *zap.Logger) {
	if l == nil {
		return
	}
	mu.Lock()
	defer mu.Unlock()
	globalLogger = l
}

func Logger() *zap.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return globalLogger
}

// Sync flushes buffered log entries.
func Sync() error {
	return Logger().Sync()
}

func WithModule(module string) *zap.Logger {
	return Logger().With(zap.String("module", module))
}

// WithJob is the logger for one scheduled job run.
func WithJob(job string) *zap.Logger {
	return Logger().With(zap.String("module", "jobs"), zap.String("job", job))
}

// ForChannel is the logger of a delivery channel's dispatcher and gateway.
func ForChannel(channel string) *zap.Logger {
	return Logger().With(zap.String("module", "dispatch"), zap.String("channel", channel))
}
