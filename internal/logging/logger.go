// Package logging wraps log/slog with the component-scoped logger used by
// every hostnet subsystem.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"
)

// Level is a log severity.
type Level = slog.Level

const (
	LevelDebug = slog.LevelDebug
	LevelInfo  = slog.LevelInfo
	LevelWarn  = slog.LevelWarn
	LevelError = slog.LevelError
)

// Logger is a slog.Logger whose level can be changed after creation.
type Logger struct {
	*slog.Logger
	level *slog.LevelVar
}

// Config holds logger configuration.
type Config struct {
	Level     Level
	Output    io.Writer
	JSON      bool
	AddSource bool
}

// ParseLevel maps a config string (debug, info, warn, error) to a Level.
// The empty string means info.
func ParseLevel(s string) (Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return LevelDebug, nil
	case "", "info":
		return LevelInfo, nil
	case "warn", "warning":
		return LevelWarn, nil
	case "error":
		return LevelError, nil
	}
	return LevelInfo, fmt.Errorf("unknown log level %q", s)
}

// New builds a logger writing console lines, or JSON when cfg.JSON is set.
func New(cfg Config) *Logger {
	out := cfg.Output
	if out == nil {
		out = os.Stderr
	}
	lv := new(slog.LevelVar)
	lv.Set(cfg.Level)
	opts := &slog.HandlerOptions{Level: lv, AddSource: cfg.AddSource}

	var h slog.Handler = NewConsoleHandler(out, opts)
	if cfg.JSON {
		h = slog.NewJSONHandler(out, opts)
	}
	return &Logger{Logger: slog.New(h), level: lv}
}

var (
	defaultMu     sync.RWMutex
	defaultLogger = New(Config{Level: LevelInfo})
)

// Default returns the process-wide logger.
func Default() *Logger {
	defaultMu.RLock()
	defer defaultMu.RUnlock()
	return defaultLogger
}

// SetDefault replaces the process-wide logger. Loggers already derived
// with WithComponent keep writing to the old one.
func SetDefault(l *Logger) {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	defaultLogger = l
}

// SetLevel changes the level of l and every logger derived from it.
func (l *Logger) SetLevel(level Level) { l.level.Set(level) }

// GetLevel returns the current level.
func (l *Logger) GetLevel() Level { return l.level.Level() }

// With returns a logger carrying extra attributes, sharing l's level.
func (l *Logger) With(args ...any) *Logger {
	return &Logger{Logger: l.Logger.With(args...), level: l.level}
}

// WithComponent tags every record with the subsystem that emitted it.
func (l *Logger) WithComponent(name string) *Logger {
	return l.With("component", name)
}

// Audit records a change made to the host: a checkpoint opened,
// committed, rolled back or expired. Audit lines are logged at info
// and always carry audit=true.
func (l *Logger) Audit(action, checkpoint string, args ...any) {
	attrs := append([]any{
		"audit", true,
		"action", action,
		"checkpoint", checkpoint,
		"at", time.Now().UTC().Format(time.RFC3339),
	}, args...)
	l.Info("AUDIT", attrs...)
}

// Warn logs on the default logger.
func Warn(msg string, args ...any) { Default().Warn(msg, args...) }

// WithComponent returns a component-scoped child of the default logger.
func WithComponent(name string) *Logger { return Default().WithComponent(name) }
