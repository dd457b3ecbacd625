// Package google describes the Google OAuth 2.0 token endpoint the relay talks to.
//
// The relay never stores or interprets tokens. This package only supplies the
// endpoint, the loopback redirect URI registered for the desktop client, and an
// oauth2.Config carrying the server-side client credentials.
package google
