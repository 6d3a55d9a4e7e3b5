// Package logging provides the process-wide leveled logger.
// Output is either human-readable text or JSON lines, both rendered by zerolog.
package logging

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Level is a logging severity.
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

// String returns the upper-case level name.
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
	default:
		return "UNKNOWN"
	}
}

// ParseLevel converts a level name (case-insensitive) into a Level.
func ParseLevel(s string) (Level, error) {
	switch strings.ToLower(s) {
	case "debug":
		return LevelDebug, nil
	case "info":
		return LevelInfo, nil
	case "warn", "warning":
		return LevelWarn, nil
	case "error":
		return LevelError, nil
	}
	return LevelInfo, fmt.Errorf("unknown log level %q", s)
}

var (
	mu     sync.RWMutex
	level  = LevelInfo
	format = "text"
	out    io.Writer
	logger zerolog.Logger
)

func init() {
	zerolog.TimestampFieldName = "ts"
	zerolog.MessageFieldName = "msg"
	zerolog.TimeFieldFormat = time.RFC3339Nano
	rebuild()
}

// rebuild must be called with mu held (or during init).
func rebuild() {
	w := out
	if w == nil {
		w = os.Stderr
	}
	if format == "json" {
		logger = zerolog.New(w).With().Timestamp().Logger()
		return
	}
	cw := zerolog.ConsoleWriter{
		Out:        w,
		NoColor:    true,
		TimeFormat: "2006-01-02 15:04:05",
		FormatLevel: func(i interface{}) string {
			return "[" + strings.ToUpper(fmt.Sprint(i)) + "]"
		},
	}
	logger = zerolog.New(cw).With().Timestamp().Logger()
}

// SetOutput redirects log output. A nil writer restores stderr.
func SetOutput(w io.Writer) {
	mu.Lock()
	defer mu.Unlock()
	out = w
	rebuild()
}

// SetFormat selects "json" or "text" output. Unknown values fall back to text.
func SetFormat(f string) {
	mu.Lock()
	defer mu.Unlock()
	if strings.EqualFold(f, "json") {
		format = "json"
	} else {
		format = "text"
	}
	rebuild()
}

// SetLevel sets the minimum level that is written.
func SetLevel(l Level) {
	mu.Lock()
	level = l
	mu.Unlock()
}

// GetLevel returns the current minimum level.
func GetLevel() Level {
	mu.RLock()
	defer mu.RUnlock()
	return level
}

func emit(l Level, msg string, args []interface{}) {
	mu.RLock()
	defer mu.RUnlock()
	if l < level {
		return
	}
	var ev *zerolog.Event
	switch l {
	case LevelDebug:
		ev = logger.Debug()
	case LevelInfo:
		ev = logger.Info()
	case LevelWarn:
		ev = logger.Warn()
	default:
		ev = logger.Error()
	}
	if len(args) == 0 {
		ev.Msg(msg)
		return
	}
	ev.Msgf(msg, args...)
}

// Debug logs at debug level.
func Debug(msg string, args ...interface{}) { emit(LevelDebug, msg, args) }

// Info logs at info level.
func Info(msg string, args ...interface{}) { emit(LevelInfo, msg, args) }

// Warn logs at warn level.
func Warn(msg string, args ...interface{}) { emit(LevelWarn, msg, args) }

// Error logs at error level.
func Error(msg string, args ...interface{}) { emit(LevelError, msg, args) }
