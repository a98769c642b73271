// Package logger provides structured logging using zerolog.
package logger

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

const service = "receipt-tracker"

// Log is the global logger instance.
var Log zerolog.Logger

func init() {
	zerolog.SetGlobalLevel(zerolog.DebugLevel)
	Log = build(os.Stdout, "console")
}

// build returns a logger writing to w. The console format adds caller
// information for local debugging; json is meant for log shippers.
func build(w io.Writer, format string) zerolog.Logger {
	if format == "json" {
		return zerolog.New(w).With().Timestamp().Str("service", service).Logger()
	}
	return zerolog.New(zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}).
		With().
		Timestamp().
		Caller().
		Logger()
}

// SetLevel sets the global log level. Unknown names fall back to info.
func SetLevel(level string) {
	lvl, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
	if err != nil || level == "" {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)
}

// Configure applies LOG_LEVEL and LOG_FORMAT.
func Configure(level, format string) {
	ConfigureOutput(os.Stdout, level, format)
}

// ConfigureOutput is Configure with an explicit destination.
func ConfigureOutput(w io.Writer, level, format string) {
	Log = build(w, format)
	SetLevel(level)
}

// ForUser returns a child logger tagged with the hashed user id.
func ForUser(userID string) *zerolog.Logger {
	l := Log.With().Str("user_hash", HashUserID(userID)).Logger()
	return &l
}

// ForRequest returns a child logger tagged with an HTTP request id.
func ForRequest(requestID string) *zerolog.Logger {
	l := Log.With().Str("request_id", requestID).Logger()
	return &l
}
