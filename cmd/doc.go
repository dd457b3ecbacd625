// Package cmd implements the command-line interface for google-token-relay.
//
// This package provides the following commands:
//   - serve: Start the token relay HTTP server
//   - version: Display version information
//
// The serve command is the default command when no subcommand is specified.
package cmd
