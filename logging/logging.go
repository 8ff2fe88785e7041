// Package logging adapts charmbracelet/log to the brickflow.Logger
// interface.
package logging

import (
	"context"
	"io"
	"os"
	"strings"

	charmlog "github.com/charmbracelet/log"

	"github.com/agentstation/brickflow"
)

// Level is a log level name.
type Level string

const (
	DebugLevel Level = "debug"
	InfoLevel  Level = "info"
	WarnLevel  Level = "warn"
	ErrorLevel Level = "error"
)

func (l Level) charm() charmlog.Level {
	switch Level(strings.ToLower(string(l))) {
	case DebugLevel:
		return charmlog.DebugLevel
	case WarnLevel:
		return charmlog.WarnLevel
	case ErrorLevel:
		return charmlog.ErrorLevel
	default:
		return charmlog.InfoLevel
	}
}

// Config configures a logger.
type Config struct {
	Level      Level
	Output     io.Writer
	JSON       bool
	TimeFormat string
}

// DefaultConfig logs text at info level to stderr.
func DefaultConfig() Config {
	return Config{
		Level:      InfoLevel,
		Output:     os.Stderr,
		TimeFormat: "15:04:05",
	}
}

// Logger implements brickflow.Logger on top of a charm logger.
type Logger struct {
	charm *charmlog.Logger
}

var _ brickflow.Logger = (*Logger)(nil)

// New creates a logger.
func New(cfg Config) *Logger {
	if cfg.Output == nil {
		cfg.Output = os.Stderr
	}
	if cfg.TimeFormat == "" {
		cfg.TimeFormat = "15:04:05"
	}
	l := charmlog.NewWithOptions(cfg.Output, charmlog.Options{
		ReportTimestamp: true,
		TimeFormat:      cfg.TimeFormat,
		Level:           cfg.Level.charm(),
		Prefix:          "brickflow",
	})
	if cfg.JSON {
		l.SetFormatter(charmlog.JSONFormatter)
	} else {
		l.SetFormatter(charmlog.TextFormatter)
	}
	return &Logger{charm: l}
}

// With returns a logger that adds key/value pairs to every entry.
func (l *Logger) With(keysAndValues ...any) *Logger {
	return &Logger{charm: l.charm.With(keysAndValues...)}
}

// SetLevel changes the minimum level.
func (l *Logger) SetLevel(level Level) {
	l.charm.SetLevel(level.charm())
}

func (l *Logger) Debug(_ context.Context, msg string, keysAndValues ...any) {
	l.charm.Debug(msg, keysAndValues...)
}

func (l *Logger) Info(_ context.Context, msg string, keysAndValues ...any) {
	l.charm.Info(msg, keysAndValues...)
}

func (l *Logger) Warn(_ context.Context, msg string, keysAndValues ...any) {
	l.charm.Warn(msg, keysAndValues...)
}

func (l *Logger) Error(_ context.Context, msg string, keysAndValues ...any) {
	l.charm.Error(msg, keysAndValues...)
}
