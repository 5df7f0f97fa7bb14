package vts

import (
	"errors"
	"fmt"
)

// ErrConnectionClosed reports that the websocket to the avatar host closed
// while a request was pending or about to be sent. The cached token survives
// so a reconnect can re-authenticate without prompting the user again.
var ErrConnectionClosed = errors.New("vts: connection closed")

// ErrResponseTimeout reports that the host did not answer a request within
// the client's request timeout.
var ErrResponseTimeout = errors.New("vts: response timeout")

// ErrAuthenticationFailed reports that the host rejected the authentication
// token. The operator has to approve the plugin again.
var ErrAuthenticationFailed = errors.New("vts: authentication rejected")

// APIError is a structured error returned by the avatar host. ID carries the
// host's numeric error identifier.
type APIError struct {
	ID      int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("vts: api error %d: %s", e.ID, e.Message)
}
