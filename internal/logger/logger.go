package logger

import (
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/lipgloss"
)

// Level is the severity of one log line. Sage is a short-lived CLI
// process (§5): these levels gate stderr diagnostics for a single
// invocation, not a long-running service's log stream.
type Level int

const (
	LevelTrace Level = iota
	LevelDebug
	LevelInfo
	LevelWarn
	LevelError
)

var (
	globalLevel   = LevelInfo
	globalColored = true
	globalMu      sync.RWMutex
)

// Colors below are deliberately sage-green leaning (the project's own
// namesake) rather than the teacher's gold/terracotta TUI palette, since
// these render on a plain terminal's stderr, not inside a themed dashboard.
var (
	styleTrace = lipgloss.NewStyle().Foreground(lipgloss.Color("#6B8F71")) // muted sage
	styleDebug = lipgloss.NewStyle().Foreground(lipgloss.Color("#8FAF8B")) // soft sage
	styleInfo  = lipgloss.NewStyle().Foreground(lipgloss.Color("#A8B545")) // sage
	styleWarn  = lipgloss.NewStyle().Foreground(lipgloss.Color("#D9A441")) // amber
	styleError = lipgloss.NewStyle().Foreground(lipgloss.Color("#C13E3E")) // red
	styleFaint = lipgloss.NewStyle().Faint(true)
)

// Logger writes leveled, prefixed lines to stderr. The prefix normally
// names the emitting package (e.g. "threat", "evaluator"); WithField
// extends it with a request-scoped tag such as a session id, so the same
// warning from two concurrent hook calls (§4.10) can be told apart in a
// shared terminal.
type Logger struct {
	prefix string
}

// New creates a new logger with the given prefix
func New(prefix string) *Logger {
	return &Logger{prefix: prefix}
}

// WithField derives a logger whose prefix carries an extra "key=value" tag.
// An empty value returns the receiver unchanged, so call sites can pass a
// possibly-absent session id without branching.
func (l *Logger) WithField(key, value string) *Logger {
	if value == "" {
		return l
	}
	return &Logger{prefix: l.prefix + " " + key + "=" + value}
}

// SetGlobalLevel sets the global log level
func SetGlobalLevel(level Level) {
	globalMu.Lock()
	defer globalMu.Unlock()
	globalLevel = level
}

// ParseLevel converts a string to a Level, returning an error if unrecognized.
func ParseLevel(s string) (Level, error) {
	switch strings.ToLower(s) {
	case "trace":
		return LevelTrace, nil
	case "debug":
		return LevelDebug, nil
	case "info", "":
		return LevelInfo, nil
	case "warn", "warning":
		return LevelWarn, nil
	case "error":
		return LevelError, nil
	}
	return 0, fmt.Errorf("unknown log level %q (valid: trace, debug, info, warn, error)", s)
}

// SetGlobalLevelFromString sets log level from string
func SetGlobalLevelFromString(level string) {
	if l, err := ParseLevel(level); err == nil {
		SetGlobalLevel(l)
	}
}

// SetColored enables or disables colored output
func SetColored(colored bool) {
	globalMu.Lock()
	defer globalMu.Unlock()
	globalColored = colored
}

func (l *Logger) log(level Level, levelStr string, style lipgloss.Style, format string, args ...any) {
	globalMu.RLock()
	if level < globalLevel {
		globalMu.RUnlock()
		return
	}
	colored := globalColored
	globalMu.RUnlock()

	timestamp := time.Now().Format("15:04:05")
	msg := fmt.Sprintf(format, args...)

	if colored {
		label := style.Render("[" + levelStr + "]")
		fmt.Fprintf(os.Stderr, "%s %s %s %s\n",
			styleFaint.Render(timestamp), label, styleFaint.Render("["+l.prefix+"]"), msg)
	} else {
		fmt.Fprintf(os.Stderr, "%s [%s] [%s] %s\n",
			timestamp, levelStr, l.prefix, msg)
	}
}

// Trace logs a trace message (most verbose)
func (l *Logger) Trace(format string, args ...any) {
	l.log(LevelTrace, "TRACE", styleTrace, format, args...)
}

// Debug logs a debug message
func (l *Logger) Debug(format string, args ...any) {
	l.log(LevelDebug, "DEBUG", styleDebug, format, args...)
}

// Info logs an info message
func (l *Logger) Info(format string, args ...any) {
	l.log(LevelInfo, "INFO", styleInfo, format, args...)
}

// Warn logs a warning message
func (l *Logger) Warn(format string, args ...any) {
	l.log(LevelWarn, "WARN", styleWarn, format, args...)
}

// Error logs an error message
func (l *Logger) Error(format string, args ...any) {
	l.log(LevelError, "ERROR", styleError, format, args...)
}
