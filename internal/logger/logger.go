// Package logger provides the broker's leveled logger.
//
// Plugins inherit the broker's stdout, so log lines never go there: the
// destination is either a file, stderr (path "-") or nowhere (empty path).
package logger

import (
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Level represents a logging level
type Level int

const (
	// LevelDebug is the most verbose logging level
	LevelDebug Level = iota
	// LevelInfo logs informational messages
	LevelInfo
	// LevelWarn logs warnings
	LevelWarn
	// LevelError logs errors
	LevelError
	// LevelNone disables all logging
	LevelNone
)

// StderrPath selects stderr as the log destination.
const StderrPath = "-"

// String returns string representation of log level
func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "DEBUG"
	case LevelInfo:
		return "INFO"
	case LevelWarn:
		return "WARN"
	case LevelError:
		return "ERROR"
	case LevelNone:
		return "NONE"
	default:
		return "UNKNOWN"
	}
}

// ParseLevel parses a string into a Level, defaulting to LevelInfo.
func ParseLevel(s string) Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return LevelDebug
	case "info":
		return LevelInfo
	case "warn", "warning":
		return LevelWarn
	case "error":
		return LevelError
	case "none", "off":
		return LevelNone
	default:
		return LevelInfo
	}
}

// sink is shared by a logger and every child created with WithPrefix.
type sink struct {
	mu     sync.Mutex
	out    *log.Logger
	closer io.Closer
}

// Logger writes timestamped, leveled, optionally prefixed lines.
type Logger struct {
	level  atomic.Int32
	prefix string
	sink   *sink
}

var (
	globalLogger atomic.Pointer[Logger]
	once         sync.Once
)

// Init initializes the global logger. Only the first call has an effect.
func Init(level Level, logPath string) error {
	var err error
	once.Do(func() {
		var l *Logger
		l, err = New(level, logPath, "")
		if err == nil {
			globalLogger.Store(l)
		}
	})
	return err
}

// New creates a Logger writing to logPath. An empty path or LevelNone
// yields a disabled logger; StderrPath writes to stderr.
func New(level Level, logPath string, prefix string) (*Logger, error) {
	if level == LevelNone || logPath == "" {
		return NewWriter(LevelNone, io.Discard, prefix), nil
	}
	if logPath == StderrPath {
		return NewWriter(level, os.Stderr, prefix), nil
	}

	if err := os.MkdirAll(filepath.Dir(logPath), 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}
	file, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file: %w", err)
	}

	l := NewWriter(level, file, prefix)
	l.sink.closer = file
	return l, nil
}

// NewWriter creates a Logger writing to w. The caller keeps ownership of w.
func NewWriter(level Level, w io.Writer, prefix string) *Logger {
	l := &Logger{
		prefix: prefix,
		sink:   &sink{out: log.New(w, "", 0)},
	}
	l.level.Store(int32(level))
	return l
}

// Global returns the global logger, a disabled one until Init succeeds.
func Global() *Logger {
	if l := globalLogger.Load(); l != nil {
		return l
	}
	disabled := NewWriter(LevelNone, io.Discard, "")
	if globalLogger.CompareAndSwap(nil, disabled) {
		return disabled
	}
	return globalLogger.Load()
}

// WithPrefix creates a child logger sharing the destination. Prefixes nest
// as "parent:child". The child's level is a snapshot of the parent's.
func (l *Logger) WithPrefix(prefix string) *Logger {
	newPrefix := prefix
	if l.prefix != "" {
		newPrefix = l.prefix + ":" + prefix
	}
	child := &Logger{prefix: newPrefix, sink: l.sink}
	child.level.Store(l.level.Load())
	return child
}

// SetLevel sets the logging level
func (l *Logger) SetLevel(level Level) {
	l.level.Store(int32(level))
}

// GetLevel returns the current logging level
func (l *Logger) GetLevel() Level {
	return Level(l.level.Load())
}

func (l *Logger) log(level Level, format string, args ...interface{}) {
	if current := l.GetLevel(); current == LevelNone || level < current {
		return
	}

	timestamp := time.Now().Format("2006-01-02 15:04:05.000")
	msg := fmt.Sprintf(format, args...)

	prefix := l.prefix
	if prefix != "" {
		prefix = "[" + prefix + "] "
	}

	l.sink.mu.Lock()
	defer l.sink.mu.Unlock()
	l.sink.out.Printf("%s [%s] %s%s", timestamp, level.String(), prefix, msg)
}

// Debug logs a debug message
func (l *Logger) Debug(format string, args ...interface{}) {
	l.log(LevelDebug, format, args...)
}

// Info logs an informational message
func (l *Logger) Info(format string, args ...interface{}) {
	l.log(LevelInfo, format, args...)
}

// Warn logs a warning message
func (l *Logger) Warn(format string, args ...interface{}) {
	l.log(LevelWarn, format, args...)
}

// Error logs an error message
func (l *Logger) Error(format string, args ...interface{}) {
	l.log(LevelError, format, args...)
}

// Close closes the log file, if the logger owns one.
func (l *Logger) Close() error {
	l.sink.mu.Lock()
	defer l.sink.mu.Unlock()

	if l.sink.closer == nil {
		return nil
	}
	err := l.sink.closer.Close()
	l.sink.closer = nil
	l.sink.out.SetOutput(io.Discard)
	return err
}

// Global logging functions for convenience

// Debug logs a debug message using the global logger
func Debug(format string, args ...interface{}) {
	Global().Debug(format, args...)
}

// Info logs an informational message using the global logger
func Info(format string, args ...interface{}) {
	Global().Info(format, args...)
}

// Warn logs a warning message using the global logger
func Warn(format string, args ...interface{}) {
	Global().Warn(format, args...)
}

// Error logs an error message using the global logger
func Error(format string, args ...interface{}) {
	Global().Error(format, args...)
}
