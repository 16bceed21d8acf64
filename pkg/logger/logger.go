// Package logger provides the structured logger used across Sportsblock
// services. It wraps logrus with a small fluent surface so call sites can
// attach fields without importing the backend directly.
package logger

import (
	"io"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
)

// LoggingConfig controls logger construction.
type LoggingConfig struct {
	Level     string
	Format    string // "json" or "text"
	Output    string // "stdout", "stderr" or a file path
	Component string
}

// Logger is a structured logger bound to a component.
type Logger struct {
	backend *logrus.Logger
	entry   *logrus.Entry
}

// New builds a logger from configuration. Unknown values fall back to
// sensible defaults rather than failing startup.
func New(cfg LoggingConfig) *Logger {
	backend := logrus.New()

	level, err := logrus.ParseLevel(strings.ToLower(strings.TrimSpace(cfg.Level)))
	if err != nil {
		level = logrus.InfoLevel
	}
	backend.SetLevel(level)

	switch strings.ToLower(strings.TrimSpace(cfg.Format)) {
	case "text":
		backend.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	default:
		backend.SetFormatter(&logrus.JSONFormatter{})
	}

	switch strings.ToLower(strings.TrimSpace(cfg.Output)) {
	case "", "stdout":
		backend.SetOutput(os.Stdout)
	case "stderr":
		backend.SetOutput(os.Stderr)
	default:
		file, err := os.OpenFile(cfg.Output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			backend.SetOutput(os.Stdout)
		} else {
			backend.SetOutput(file)
		}
	}

	entry := logrus.NewEntry(backend)
	if component := strings.TrimSpace(cfg.Component); component != "" {
		entry = entry.WithField("component", component)
	}
	return &Logger{backend: backend, entry: entry}
}

// NewDefault returns an info-level JSON logger for the given component.
func NewDefault(component string) *Logger {
	return New(LoggingConfig{Level: "info", Format: "json", Component: component})
}

// SetOutput redirects log output, mainly used by tests.
func (l *Logger) SetOutput(w io.Writer) {
	l.backend.SetOutput(w)
}

// WithField returns a logger with an additional field attached.
func (l *Logger) WithField(key string, value interface{}) *Logger {
	return &Logger{backend: l.backend, entry: l.entry.WithField(key, value)}
}

// WithFields returns a logger with multiple fields attached.
func (l *Logger) WithFields(fields map[string]interface{}) *Logger {
	return &Logger{backend: l.backend, entry: l.entry.WithFields(logrus.Fields(fields))}
}

// WithError attaches an error field.
func (l *Logger) WithError(err error) *Logger {
	return &Logger{backend: l.backend, entry: l.entry.WithError(err)}
}

func (l *Logger) Debug(args ...interface{}) { l.entry.Debug(args...) }
func (l *Logger) Info(args ...interface{})  { l.entry.Info(args...) }
func (l *Logger) Warn(args ...interface{})  { l.entry.Warn(args...) }
func (l *Logger) Error(args ...interface{}) { l.entry.Error(args...) }

func (l *Logger) Debugf(format string, args ...interface{}) { l.entry.Debugf(format, args...) }
func (l *Logger) Infof(format string, args ...interface{})  { l.entry.Infof(format, args...) }
func (l *Logger) Warnf(format string, args ...interface{})  { l.entry.Warnf(format, args...) }
func (l *Logger) Errorf(format string, args ...interface{}) { l.entry.Errorf(format, args...) }
