package relay

import "fmt"

// Client-facing error messages. Upstream failure detail is never exposed.
const (
	MsgMethodNotAllowed    = "Method Not Allowed"
	MsgMissingCredentials  = "Server configuration error: Missing Google credentials."
	MsgInternalServerError = "Internal Server Error"
)

// ErrorKind classifies why a call to the provider produced no usable response.
type ErrorKind string

const (
	// KindNetwork covers request construction, transport failures,
	// cancellation and errors reading the response body.
	KindNetwork ErrorKind = "network"

	// KindParse means the provider answered with a body that is not JSON.
	KindParse ErrorKind = "parse"
)

// UpstreamError is returned by Relay.Do when the provider could not be
// reached or its response could not be relayed.
type UpstreamError struct {
	Kind  ErrorKind
	Grant string

	// StatusCode is the provider status for KindParse errors, 0 otherwise.
	StatusCode int

	Err error
}

func (e *UpstreamError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s grant: %s error (provider status %d): %v", e.Grant, e.Kind, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s grant: %s error: %v", e.Grant, e.Kind, e.Err)
}

func (e *UpstreamError) Unwrap() error {
	return e.Err
}
