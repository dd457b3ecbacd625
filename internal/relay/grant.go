package relay

import "net/url"

// Grant describes one relayed OAuth grant.
type Grant struct {
	// Name identifies the grant in logs, metrics and span names.
	Name string

	// GrantType is the grant_type form value sent to the provider.
	GrantType string

	// Required lists the JSON request fields that must be non-empty strings.
	// They are forwarded to the provider under the same names.
	Required []string

	// SendRedirectURI adds the configured redirect_uri to the upstream form.
	SendRedirectURI bool

	// BadRequestMessage is returned with a 400 when a required field is missing.
	BadRequestMessage string
}

// ExchangeGrant trades an authorization code and its PKCE verifier for tokens.
// A state field may be present in the request and is ignored.
var ExchangeGrant = Grant{
	Name:              "exchange",
	GrantType:         "authorization_code",
	Required:          []string{"code", "code_verifier"},
	SendRedirectURI:   true,
	BadRequestMessage: "Bad Request: Missing code or code_verifier.",
}

// RefreshGrant trades a refresh token for a new access token.
var RefreshGrant = Grant{
	Name:              "refresh",
	GrantType:         "refresh_token",
	Required:          []string{"refresh_token"},
	BadRequestMessage: "Bad Request: Missing refresh_token.",
}

// Complete reports whether every required field is present and non-empty.
func (g Grant) Complete(fields map[string]string) bool {
	for _, name := range g.Required {
		if fields[name] == "" {
			return false
		}
	}
	return true
}

// Form builds the x-www-form-urlencoded body for the token endpoint.
func (g Grant) Form(creds *Credentials, fields map[string]string) url.Values {
	form := url.Values{}
	form.Set("client_id", creds.config.ClientID)
	form.Set("client_secret", creds.config.ClientSecret)
	for _, name := range g.Required {
		form.Set(name, fields[name])
	}
	form.Set("grant_type", g.GrantType)
	if g.SendRedirectURI {
		form.Set("redirect_uri", creds.RedirectURI())
	}
	return form
}
