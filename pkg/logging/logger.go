// Package logging provides structured logging configuration using zerolog.
package logging

import (
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// LogLevel represents the logging level.
type LogLevel string

const (
	// LevelDebug logs debug messages and above.
	LevelDebug LogLevel = "debug"

	// LevelInfo logs info messages and above.
	LevelInfo LogLevel = "info"

	// LevelWarn logs warning messages and above.
	LevelWarn LogLevel = "warn"

	// LevelError logs error messages only.
	LevelError LogLevel = "error"
)

// Component names used in the "component" field.
const (
	ComponentClient    = "portal-client"
	ComponentStore     = "cache-store"
	ComponentSession   = "session"
	ComponentKeepalive = "session-keepalive"
	ComponentWarmer    = "warmer"
	ComponentProxy     = "portal-proxy"
)

// Config holds logger configuration.
type Config struct {
	// Level is the minimum log level to output.
	Level LogLevel

	// Pretty enables human-readable console output (default: false for JSON).
	Pretty bool

	// Output is the writer to output logs to (default: os.Stderr).
	Output io.Writer

	// Service is added to every line when set.
	Service string
}

// DefaultConfig returns a default logger configuration.
func DefaultConfig() Config {
	return Config{
		Level:  LevelInfo,
		Pretty: false,
		Output: os.Stderr,
	}
}

// Setup configures the global zerolog logger.
func Setup(cfg Config) zerolog.Logger {
	zerolog.SetGlobalLevel(ParseLevel(string(cfg.Level)))

	out := cfg.Output
	if out == nil {
		out = os.Stderr
	}
	if cfg.Pretty {
		out = zerolog.ConsoleWriter{Out: out}
	}

	ctx := zerolog.New(out).With().Timestamp()
	if cfg.Service != "" {
		ctx = ctx.Str("service", cfg.Service)
	}
	logger := ctx.Logger()

	log.Logger = logger

	return logger
}

// ParseLevel converts a level name to zerolog.Level. Unknown names yield info.
func ParseLevel(level string) zerolog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return zerolog.DebugLevel
	case "info":
		return zerolog.InfoLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

// NewLogger creates a new logger with the given component name.
func NewLogger(component string) zerolog.Logger {
	return log.With().Str("component", component).Logger()
}

// WithSession tags a logger with a session id. Only a short prefix is logged.
func WithSession(logger zerolog.Logger, sessionID string) zerolog.Logger {
	if len(sessionID) > 8 {
		sessionID = sessionID[:8]
	}
	return logger.With().Str("session", sessionID).Logger()
}

// Log Level Guidelines:
//
// Debug: Detailed information for debugging
//   - Cache lookups (hit, miss, stale, incomplete selectors)
//   - Request flow (request URL, coalesced requests)
//   - Cache writes (replace or merge, entry count)
//
// Info: Normal operation events
//   - Session validated by keepalive
//   - Warm-up summaries
//   - Server startup/shutdown
//
// Warn: Warning conditions that don't prevent operation
//   - Non-2xx portal responses (request yields no data)
//   - Session expired (401), re-authentication required
//   - Corrupt cache blob discarded
//   - Cache errors (fallback to direct request)
//
// Error: Error conditions requiring attention
//   - Network failures
//   - Keepalive retries exhausted
//   - Configuration errors
//
// Context Fields:
//   - component: emitting package (see Component constants)
//   - endpoint: portal endpoint path without selectors
//   - url: full request URL
//   - status: HTTP status code
//   - error_class: client, auth, server, network, decode
//   - selectors: requested ids
//   - age, period: cache entry age and caching period
//   - session: session id prefix
