package log

import (
	"context"
	"os"

	"golang.org/x/exp/slog"
)

const (
	LevelCrit  = slog.Level(12)
	LevelTrace = slog.Level(-8)
)

// Logger writes key/value log records at leveled severities.
type Logger interface {
	// With returns a Logger that includes the given attributes in every
	// record it writes.
	With(ctx ...interface{}) Logger

	// Write logs a record at the given level.
	Write(level slog.Level, msg string, ctx ...interface{})

	Trace(msg string, ctx ...interface{})
	Debug(msg string, ctx ...interface{})
	Info(msg string, ctx ...interface{})
	Warn(msg string, ctx ...interface{})
	Error(msg string, ctx ...interface{})

	// Crit logs at critical severity and exits the process.
	Crit(msg string, ctx ...interface{})
}

type logger struct {
	inner *slog.Logger
}

// NewLogger returns a Logger writing through the given slog handler.
func NewLogger(h slog.Handler) Logger {
	return &logger{slog.New(h)}
}

func (l *logger) With(ctx ...interface{}) Logger {
	return &logger{l.inner.With(ctx...)}
}

func (l *logger) Write(level slog.Level, msg string, ctx ...interface{}) {
	l.inner.Log(context.Background(), level, msg, ctx...)
}

func (l *logger) Trace(msg string, ctx ...interface{}) { l.Write(LevelTrace, msg, ctx...) }
func (l *logger) Debug(msg string, ctx ...interface{}) { l.Write(slog.LevelDebug, msg, ctx...) }
func (l *logger) Info(msg string, ctx ...interface{})  { l.Write(slog.LevelInfo, msg, ctx...) }
func (l *logger) Warn(msg string, ctx ...interface{})  { l.Write(slog.LevelWarn, msg, ctx...) }
func (l *logger) Error(msg string, ctx ...interface{}) { l.Write(slog.LevelError, msg, ctx...) }

func (l *logger) Crit(msg string, ctx ...interface{}) {
	l.Write(LevelCrit, msg, ctx...)
	os.Exit(1)
}
