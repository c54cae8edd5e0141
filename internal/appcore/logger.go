// Package appcore provides the small application-lifecycle scaffolding
// shared by every component of the pool service: a structured logging
// facade and a component lifecycle contract modeled on the startable/
// stoppable module pattern.
package appcore

import (
	"log/slog"
	"os"
)

// Logger is the structured logging interface used throughout the pool
// service. It mirrors the slog convention of a message plus key-value
// pairs so any backend (slog, zap, logrus) can satisfy it.
type Logger interface {
	Info(msg string, args ...any)
	Error(msg string, args ...any)
	Warn(msg string, args ...any)
	Debug(msg string, args ...any)
}

// slogLogger adapts the standard library's structured logger to Logger.
type slogLogger struct {
	l *slog.Logger
}

// NewLogger builds the default JSON logger, writing to stderr.
func NewLogger() Logger {
	return &slogLogger{l: slog.New(slog.NewJSONHandler(os.Stderr, nil))}
}

// NewLoggerWithHandler wraps an arbitrary slog.Handler, for tests that
// want to capture output.
func NewLoggerWithHandler(h slog.Handler) Logger {
	return &slogLogger{l: slog.New(h)}
}

func (s *slogLogger) Info(msg string, args ...any)  { s.l.Info(msg, args...) }
func (s *slogLogger) Error(msg string, args ...any) { s.l.Error(msg, args...) }
func (s *slogLogger) Warn(msg string, args ...any)  { s.l.Warn(msg, args...) }
func (s *slogLogger) Debug(msg string, args ...any) { s.l.Debug(msg, args...) }
