// Package logging provides the leveled line logger shared by migrun components.
package logging

import (
	"fmt"
	"io"
	"log"
	"strings"
	"time"
)

type LogLevel int

const (
	LogLevelDebug LogLevel = iota
	LogLevelInfo
	LogLevelWarn
	LogLevelError
)

func ParseLogLevel(s string) LogLevel {
	switch strings.ToLower(s) {
	case "debug":
		return LogLevelDebug
	case "info":
		return LogLevelInfo
	case "warn", "warning":
		return LogLevelWarn
	case "error":
		return LogLevelError
	default:
		return LogLevelInfo
	}
}

func (l LogLevel) String() string {
	switch l {
	case LogLevelDebug:
		return "DEBUG"
	case LogLevelWarn:
		return "WARN"
	case LogLevelError:
		return "ERROR"
	default:
		return "INFO"
	}
}

// Logger writes "<RFC3339> <LEVEL> <component>: <message>" lines.
type Logger struct {
	logger    *log.Logger
	level     LogLevel
	component string
}

func New(logger *log.Logger, level LogLevel, component string) *Logger {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &Logger{logger: logger, level: level, component: component}
}

// Discard returns a Logger that drops everything.
func Discard() *Logger {
	return New(nil, LogLevelError+1, "")
}

// With returns a Logger for another component sharing the same sink and level.
func (l *Logger) With(component string) *Logger {
	if l == nil {
		d := Discard()
		d.component = component
		return d
	}
	return &Logger{logger: l.logger, level: l.level, component: component}
}

func (l *Logger) Enabled(level LogLevel) bool {
	return l != nil && level >= l.level
}

func (l *Logger) Log(level LogLevel, format string, args ...any) {
	if l == nil || level < l.level {
		return
	}
	msg := fmt.Sprintf(format, args...)
	l.logger.Printf("%s %s %s: %s", time.Now().Format(time.RFC3339), level, l.component, msg)
}

func (l *Logger) Debug(format string, args ...any) { l.Log(LogLevelDebug, format, args...) }
func (l *Logger) Info(format string, args ...any)  { l.Log(LogLevelInfo, format, args...) }
func (l *Logger) Warn(format string, args ...any)  { l.Log(LogLevelWarn, format, args...) }
func (l *Logger) Error(format string, args ...any) { l.Log(LogLevelError, format, args...) }
