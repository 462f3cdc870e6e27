// Package logging provides the process-wide zerolog logger and per-component
// sub-loggers used across wavebridge.
package logging

import (
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

var (
	defaultLogger zerolog.Logger
	defaultOnce   sync.Once
	defaultMu     sync.RWMutex
)

func initDefault() {
	defaultLogger = newLogger(os.Stderr, os.Getenv("WAVEBRIDGE_LOG_PRETTY") == "1")
	SetLevel(os.Getenv("WAVEBRIDGE_LOG_LEVEL"))
}

func newLogger(w io.Writer, pretty bool) zerolog.Logger {
	if pretty {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}
	}
	return zerolog.New(w).With().Timestamp().Logger()
}

// Configure rebuilds the shared logger and sets the process log level.
// Call it before creating component loggers.
func Configure(level string, pretty bool) {
	SetDefaultLogger(newLogger(os.Stderr, pretty))
	SetLevel(level)
}

// SetLevel changes the process-wide minimum level. It applies to every
// logger, including component loggers created earlier.
func SetLevel(level string) {
	zerolog.SetGlobalLevel(ParseLevel(level))
}

// GetDefaultLogger returns the shared logger.
func GetDefaultLogger() *zerolog.Logger {
	defaultOnce.Do(initDefault)
	defaultMu.RLock()
	defer defaultMu.RUnlock()
	l := defaultLogger
	return &l
}

// SetDefaultLogger replaces the shared logger. Loggers already derived with
// Component keep their previous output.
func SetDefaultLogger(l zerolog.Logger) {
	defaultOnce.Do(initDefault)
	defaultMu.Lock()
	defaultLogger = l
	defaultMu.Unlock()
}

// Component returns a sub-logger tagged with the given component name.
func Component(name string) zerolog.Logger {
	return GetDefaultLogger().With().Str("component", name).Logger()
}

// ParseLevel maps a level name to a zerolog level, defaulting to info.
func ParseLevel(s string) zerolog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "trace":
		return zerolog.TraceLevel
	case "debug":
		return zerolog.DebugLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	case "disabled", "off":
		return zerolog.Disabled
	default:
		return zerolog.InfoLevel
	}
}
