package ui

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/lmittmann/tint"
)

// Logger keeps the printf-style surface used across the tool on top of a
// structured slog handler.
type Logger struct {
	Debug bool
	s     *slog.Logger
}

func NewLogger(debug bool) *Logger {
	return NewLoggerTo(os.Stderr, debug)
}

func NewLoggerTo(w io.Writer, debug bool) *Logger {
	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}

	h := tint.NewHandler(w, &tint.Options{
		Level:      level,
		TimeFormat: time.TimeOnly,
	})

	return &Logger{Debug: debug, s: slog.New(h)}
}

// Discard returns a logger that drops everything, for tests.
func Discard() *Logger {
	return NewLoggerTo(io.Discard, false)
}

func (l *Logger) Debugf(format string, args ...any) {
	l.logf(slog.LevelDebug, format, args...)
}

func (l *Logger) Infof(format string, args ...any) {
	l.logf(slog.LevelInfo, format, args...)
}

func (l *Logger) Warnf(format string, args ...any) {
	l.logf(slog.LevelWarn, format, args...)
}

func (l *Logger) Errorf(format string, args ...any) {
	l.logf(slog.LevelError, format, args...)
}

func (l *Logger) logf(level slog.Level, format string, args ...any) {
	if l == nil || l.s == nil {
		return
	}
	ctx := context.Background()
	if !l.s.Enabled(ctx, level) {
		return
	}
	l.s.Log(ctx, level, strings.TrimRight(fmt.Sprintf(format, args...), "\n"))
}
