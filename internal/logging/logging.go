// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package logging provides the gateway's component-scoped structured logger.
package logging

import (
	"io"
	"os"
	"sync"

	charmlog "github.com/charmbracelet/log"
)

// Level mirrors the charmbracelet/log level constants so callers outside
// this package never need to import charmlog directly.
type Level int32

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

func (l Level) toCharm() charmlog.Level {
	switch l {
	case LevelDebug:
		return charmlog.DebugLevel
	case LevelWarn:
		return charmlog.WarnLevel
	case LevelError:
		return charmlog.ErrorLevel
	default:
		return charmlog.InfoLevel
	}
}

// Config controls logger construction.
type Config struct {
	Level          Level
	Output         io.Writer
	ReportCaller   bool
	ReportTimestamp bool
	Syslog         SyslogConfig
}

// DefaultConfig returns sane production defaults: info level, stderr, no syslog.
func DefaultConfig() Config {
	return Config{
		Level:           LevelInfo,
		Output:          os.Stderr,
		ReportCaller:    false,
		ReportTimestamp: true,
		Syslog:          DefaultSyslogConfig(),
	}
}

// Logger wraps a charmbracelet/log logger; WithComponent derives a child
// with a fixed "component" field.
type Logger struct {
	inner *charmlog.Logger
}

// New builds a Logger from cfg. If cfg.Syslog is enabled, log output is
// duplicated to the syslog writer in addition to cfg.Output.
func New(cfg Config) *Logger {
	out := cfg.Output
	if out == nil {
		out = os.Stderr
	}
	if cfg.Syslog.Enabled {
		if w, err := NewSyslogWriter(cfg.Syslog); err == nil {
			out = io.MultiWriter(out, w)
		}
	}

	inner := charmlog.NewWithOptions(out, charmlog.Options{
		ReportCaller:    cfg.ReportCaller,
		ReportTimestamp: cfg.ReportTimestamp,
		Level:           cfg.Level.toCharm(),
	})

	return &Logger{inner: inner}
}

// WithComponent returns a child logger scoped to a subsystem, e.g. "dataplane" or "diameter".
func (l *Logger) WithComponent(name string) *Logger {
	return &Logger{inner: l.inner.With("component", name)}
}

// With returns a child logger with the given key/value pairs attached to every record.
func (l *Logger) With(keyvals ...any) *Logger {
	return &Logger{inner: l.inner.With(keyvals...)}
}

func (l *Logger) Debug(msg string, keyvals ...any) { l.inner.Debug(msg, keyvals...) }
func (l *Logger) Info(msg string, keyvals ...any)  { l.inner.Info(msg, keyvals...) }
func (l *Logger) Warn(msg string, keyvals ...any)  { l.inner.Warn(msg, keyvals...) }
func (l *Logger) Error(msg string, keyvals ...any) { l.inner.Error(msg, keyvals...) }

var (
	defaultMu     sync.RWMutex
	defaultLogger = New(DefaultConfig())
)

// SetDefault replaces the package-level default logger.
func SetDefault(l *Logger) {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	defaultLogger = l
}

func current() *Logger {
	defaultMu.RLock()
	defer defaultMu.RUnlock()
	return defaultLogger
}

func Debug(msg string, keyvals ...any) { current().Debug(msg, keyvals...) }
func Info(msg string, keyvals ...any)  { current().Info(msg, keyvals...) }
func Warn(msg string, keyvals ...any)  { current().Warn(msg, keyvals...) }
func Error(msg string, keyvals ...any) { current().Error(msg, keyvals...) }
