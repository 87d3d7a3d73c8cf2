// Package logger provides leveled, component-tagged structured logging
// for the whole runtime. It is a thin facade over zerolog so call sites
// stay terse: logger.InfoCF("agent", "...", map[string]any{...}).
package logger

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

type LogLevel int

const (
	DEBUG LogLevel = iota
	INFO
	WARN
	ERROR
	FATAL
)

var (
	mu   sync.RWMutex
	root = newRoot(os.Stderr)
	file *os.File
)

func newRoot(w io.Writer) zerolog.Logger {
	console := zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}
	return zerolog.New(console).Level(zerolog.InfoLevel).With().Timestamp().Logger()
}

func toZerolog(level LogLevel) zerolog.Level {
	switch level {
	case DEBUG:
		return zerolog.DebugLevel
	case INFO:
		return zerolog.InfoLevel
	case WARN:
		return zerolog.WarnLevel
	case ERROR:
		return zerolog.ErrorLevel
	default:
		return zerolog.FatalLevel
	}
}

func SetLevel(level LogLevel) {
	mu.Lock()
	defer mu.Unlock()
	root = root.Level(toZerolog(level))
}

// EnableFileLogging mirrors console output to a JSON log file.
func EnableFileLogging(filePath string) error {
	mu.Lock()
	defer mu.Unlock()

	f, err := os.OpenFile(filePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}
	if file != nil {
		file.Close()
	}
	file = f

	level := root.GetLevel()
	console := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}
	root = zerolog.New(zerolog.MultiLevelWriter(console, f)).
		Level(level).With().Timestamp().Logger()
	return nil
}

func DisableFileLogging() {
	mu.Lock()
	defer mu.Unlock()
	if file != nil {
		file.Close()
		file = nil
	}
	root = newRoot(os.Stderr).Level(root.GetLevel())
}

func logEvent(level LogLevel, component, message string, fields map[string]any) {
	mu.RLock()
	l := root
	mu.RUnlock()

	var ev *zerolog.Event
	switch level {
	case DEBUG:
		ev = l.Debug()
	case INFO:
		ev = l.Info()
	case WARN:
		ev = l.Warn()
	case ERROR:
		ev = l.Error()
	default:
		ev = l.Fatal()
	}

	if component != "" {
		ev = ev.Str("component", component)
	}
	for k, v := range fields {
		ev = ev.Interface(k, v)
	}
	ev.Msg(message)
}

func DebugC(component, message string) { logEvent(DEBUG, component, message, nil) }
func InfoC(component, message string)  { logEvent(INFO, component, message, nil) }
func WarnC(component, message string)  { logEvent(WARN, component, message, nil) }
func ErrorC(component, message string) { logEvent(ERROR, component, message, nil) }

func DebugCF(component, message string, fields map[string]any) {
	logEvent(DEBUG, component, message, fields)
}

func InfoCF(component, message string, fields map[string]any) {
	logEvent(INFO, component, message, fields)
}

func WarnCF(component, message string, fields map[string]any) {
	logEvent(WARN, component, message, fields)
}

func ErrorCF(component, message string, fields map[string]any) {
	logEvent(ERROR, component, message, fields)
}
