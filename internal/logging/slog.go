package logging

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strings"
	"time"
)

// Common log attribute keys for consistent naming across the codebase.
const (
	KeyOperation      = "operation"
	KeyGrant          = "grant"
	KeyProviderStatus = "provider_status"
	KeyDuration       = "duration"
	KeyError          = "error"
	KeyClientHash     = "client_hash"
	KeyRequestID      = "request_id"
	KeyTraceID        = "trace_id"
)

// Supported handler formats for New.
const (
	FormatText = "text"
	FormatJSON = "json"
)

// New builds an slog.Logger writing to w at the given level ("debug", "info",
// "warn", "error") using either the text or the JSON handler.
func New(level, format string, w io.Writer) (*slog.Logger, error) {
	lvl, err := ParseLevel(level)
	if err != nil {
		return nil, err
	}

	opts := &slog.HandlerOptions{Level: lvl}

	switch strings.ToLower(format) {
	case "", FormatText:
		return slog.New(slog.NewTextHandler(w, opts)), nil
	case FormatJSON:
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	default:
		return nil, fmt.Errorf("invalid log format %q, must be one of: text, json", format)
	}
}

// ParseLevel converts a level name into an slog.Level. An empty name means info.
func ParseLevel(level string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("invalid log level %q, must be one of: debug, info, warn, error", level)
	}
}

// WithOperation returns a logger with the operation attribute set.
func WithOperation(logger *slog.Logger, operation string) *slog.Logger {
	return logger.With(Operation(operation))
}

// WithGrant returns a logger with the OAuth grant type attribute set.
func WithGrant(logger *slog.Logger, grant string) *slog.Logger {
	return logger.With(Grant(grant))
}

// Operation returns a slog attribute for the operation name.
func Operation(op string) slog.Attr {
	return slog.String(KeyOperation, op)
}

// Grant returns a slog attribute for the OAuth grant type.
func Grant(grant string) slog.Attr {
	return slog.String(KeyGrant, grant)
}

// ProviderStatus returns a slog attribute for the HTTP status returned by the
// identity provider.
func ProviderStatus(code int) slog.Attr {
	return slog.Int(KeyProviderStatus, code)
}

// Duration returns a slog attribute for an elapsed time.
func Duration(d time.Duration) slog.Attr {
	return slog.Duration(KeyDuration, d)
}

// RequestID returns a slog attribute for the request correlation ID.
// An empty id yields an empty group so that the attribute is omitted.
func RequestID(id string) slog.Attr {
	if id == "" {
		return slog.Group("")
	}
	return slog.String(KeyRequestID, id)
}

// TraceID returns a slog attribute linking a log line to its trace.
// An empty id is omitted like RequestID.
func TraceID(id string) slog.Attr {
	if id == "" {
		return slog.Group("")
	}
	return slog.String(KeyTraceID, id)
}

// Err returns a slog attribute for an error.
// If err is nil, returns an empty Group attribute that will be omitted from output.
//
// Usage:
//
//	logger.Info("operation", logging.Err(err))  // Safe even if err is nil
func Err(err error) slog.Attr {
	if err == nil {
		return slog.Group("")
	}
	return slog.String(KeyError, err.Error())
}

// AnonymizeAddr returns a hashed representation of a client address so that
// requests from one client can be correlated without logging the address.
// A port suffix is stripped before hashing.
func AnonymizeAddr(addr string) string {
	if addr == "" {
		return ""
	}
	if host, _, err := net.SplitHostPort(addr); err == nil {
		addr = host
	}
	hash := sha256.Sum256([]byte(addr))
	return "client:" + hex.EncodeToString(hash[:8])
}

// ClientHash returns a slog attribute with the anonymized client address.
func ClientHash(addr string) slog.Attr {
	return slog.String(KeyClientHash, AnonymizeAddr(addr))
}

// SanitizeToken returns a masked version of a credential for logging.
// It returns a length indicator without exposing any content.
func SanitizeToken(token string) string {
	if token == "" {
		return "<empty>"
	}
	return fmt.Sprintf("[token:%d chars]", len(token))
}
