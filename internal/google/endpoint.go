package google

import (
	"fmt"
	"net/url"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
)

// DefaultRedirectURI is the loopback callback the desktop plugin listens on while
// capturing the authorization code. It must match the URI registered in the
// Google Cloud console exactly, or Google answers invalid_grant.
const DefaultRedirectURI = "http://127.0.0.1:42813/callback"

// TokenURL returns Google's OAuth 2.0 token endpoint.
func TokenURL() string {
	return google.Endpoint.TokenURL
}

// NewOAuthConfig returns the OAuth2 configuration used for outbound token requests.
// An empty tokenURL or redirectURI selects the Google defaults.
func NewOAuthConfig(clientID, clientSecret, tokenURL, redirectURI string) *oauth2.Config {
	endpoint := google.Endpoint
	if tokenURL != "" {
		endpoint.TokenURL = tokenURL
	}
	if redirectURI == "" {
		redirectURI = DefaultRedirectURI
	}
	return &oauth2.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		Endpoint:     endpoint,
		RedirectURL:  redirectURI,
	}
}

// ValidateRedirectURI checks that uri is an absolute http(s) URL.
// Loopback redirect URIs (RFC 8252) use plain http, so both schemes are accepted.
func ValidateRedirectURI(uri string) error {
	if uri == "" {
		return fmt.Errorf("redirect URI cannot be empty")
	}
	u, err := url.Parse(uri)
	if err != nil {
		return fmt.Errorf("invalid redirect URI: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("invalid redirect URI scheme %q: must be http or https", u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("redirect URI %q has no host", uri)
	}
	return nil
}

// ValidateTokenURL checks a token endpoint override. Client secrets travel in
// the request body, so plain http is only accepted for loopback hosts.
func ValidateTokenURL(tokenURL string) error {
	if tokenURL == "" {
		return fmt.Errorf("token URL cannot be empty")
	}

	u, err := url.Parse(tokenURL)
	if err != nil {
		return fmt.Errorf("invalid token URL: %w", err)
	}

	switch u.Scheme {
	case "https":
	case "http":
		host := u.Hostname()
		if host != "localhost" && host != "127.0.0.1" && host != "::1" {
			return fmt.Errorf("token URL must use HTTPS (got: %s). Plain HTTP is allowed for localhost only", tokenURL)
		}
	default:
		return fmt.Errorf("invalid token URL scheme %q: must be https, or http for localhost", u.Scheme)
	}

	if u.Host == "" {
		return fmt.Errorf("token URL %q has no host", tokenURL)
	}
	return nil
}
