// Package relay forwards OAuth 2.0 token requests from a public client to
// Google's token endpoint, adding the server-held client credentials.
//
// Two grants are served, authorization_code with PKCE (exchange) and
// refresh_token (refresh). Both are descriptions of the same relay: a Grant
// names the required request fields, the grant_type sent upstream and the
// message returned when a field is missing.
//
// The provider's JSON body is written back byte-for-byte, so clients see
// exactly what Google returned, including its error documents.
//
// Every response carries permissive CORS headers. Preflight requests are
// answered before credentials or the body are looked at.
package relay
