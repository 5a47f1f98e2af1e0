// Package logger wraps logrus with the gateway's conventional field set.
package logger

import (
	"os"

	"github.com/sirupsen/logrus"
)

// Logger wraps a *logrus.Logger for structured, leveled logging.
type Logger struct {
	*logrus.Logger
}

// Config controls the base logger construction.
type Config struct {
	Level  string // debug|info|warn|error
	Format string // json|text
}

// New builds a Logger from Config, defaulting to info/json.
func New(cfg Config) *Logger {
	l := logrus.New()
	l.SetOutput(os.Stdout)

	switch cfg.Format {
	case "text":
		l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	default:
		l.SetFormatter(&logrus.JSONFormatter{})
	}

	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	l.SetLevel(level)

	return &Logger{Logger: l}
}

// WithField returns an entry with a single structured field set.
func (l *Logger) WithField(key string, value interface{}) *logrus.Entry {
	return l.Logger.WithField(key, value)
}

// WithFields returns an entry with the given structured fields set.
func (l *Logger) WithFields(fields logrus.Fields) *logrus.Entry {
	return l.Logger.WithFields(fields)
}

// Component returns an entry pre-tagged with a "component" field, the
// convention every gateway subsystem uses to identify its log lines.
func (l *Logger) Component(name string) *logrus.Entry {
	return l.Logger.WithField("component", name)
}
