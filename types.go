package auth

import (
	"log/slog"
)

// Logger is the minimal structured logger the package depends on. The
// variadic args are key-value pairs, e.g. Info("msg", "user_id", id).
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type slogLogger struct {
	l *slog.Logger
}

// NewSlogLogger adapts a *slog.Logger to the package Logger interface.
func NewSlogLogger(l *slog.Logger) Logger {
	if l == nil {
		l = slog.Default()
	}
	return &slogLogger{l: l}
}

func (s *slogLogger) Debug(msg string, args ...any) { s.l.Debug(msg, args...) }
func (s *slogLogger) Info(msg string, args ...any)  { s.l.Info(msg, args...) }
func (s *slogLogger) Warn(msg string, args ...any)  { s.l.Warn(msg, args...) }
func (s *slogLogger) Error(msg string, args ...any) { s.l.Error(msg, args...) }

type defLogger struct{}

func (defLogger) Debug(msg string, args ...any) { slog.Debug(msg, args...) }
func (defLogger) Info(msg string, args ...any)  { slog.Info(msg, args...) }
func (defLogger) Warn(msg string, args ...any)  { slog.Warn(msg, args...) }
func (defLogger) Error(msg string, args ...any) { slog.Error(msg, args...) }
