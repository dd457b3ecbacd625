// Package logging provides structured logging utilities for the token relay.
//
// All logging goes through the standard library's slog package. This package
// centralizes attribute naming and handler construction so that every log line
// about a relayed request carries the same keys.
//
// # Usage Patterns
//
// Build the process logger once at startup:
//
//	logger, err := logging.New("info", logging.FormatJSON, os.Stderr)
//
// Attach request-scoped attributes:
//
//	logger = logging.WithGrant(logger, "refresh")
//	logger.Info("token relayed",
//	    logging.ProviderStatus(200),
//	    logging.Duration(elapsed))
//
// # Security Considerations
//
//   - Client secrets, authorization codes, PKCE verifiers and tokens are never logged
//   - SanitizeToken reduces a credential to a length marker when its presence matters
//   - Client addresses are hashed with AnonymizeAddr before they reach the log
package logging
