package relay

import (
	"errors"

	"golang.org/x/oauth2"
)

// ErrMissingCredentials is returned when the client ID or secret is empty.
var ErrMissingCredentials = errors.New("missing google client credentials")

// Credentials holds the OAuth client registration used for every upstream call.
// It is immutable after construction and safe for concurrent use.
type Credentials struct {
	config oauth2.Config
}

// NewCredentials copies cfg so later changes by the caller have no effect.
// A nil cfg yields unconfigured credentials.
func NewCredentials(cfg *oauth2.Config) *Credentials {
	c := &Credentials{}
	if cfg != nil {
		c.config = *cfg
	}
	return c
}

// Validate returns ErrMissingCredentials unless both the client ID and the
// client secret are set.
func (c *Credentials) Validate() error {
	if c == nil || c.config.ClientID == "" || c.config.ClientSecret == "" {
		return ErrMissingCredentials
	}
	return nil
}

// Configured reports whether the relay can call the provider.
func (c *Credentials) Configured() bool {
	return c.Validate() == nil
}

// TokenURL returns the provider token endpoint.
func (c *Credentials) TokenURL() string {
	return c.config.Endpoint.TokenURL
}

// RedirectURI returns the redirect URI sent with authorization code exchanges.
func (c *Credentials) RedirectURI() string {
	return c.config.RedirectURL
}
