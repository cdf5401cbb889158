package authclient

import (
	"errors"
	"fmt"
)

var (
	// ErrMissingCredentials reports a login attempt without a username or
	// password. Surfaced immediately; never retried.
	ErrMissingCredentials = errors.New("authclient: username and password are required")

	// ErrUnsupportedMethod reports an endpoint configured with a bodyless
	// HTTP method (GET/HEAD) that cannot carry credentials. This is a
	// configuration error, not a runtime condition.
	ErrUnsupportedMethod = errors.New("authclient: configured HTTP method does not support a request body")
)

// AuthError is a server-side rejection of a login or refresh request. It
// carries the HTTP status and the parsed response payload so the UI can show
// the backend's message.
type AuthError struct {
	Status  int
	Payload any
	Message string
}

func (e *AuthError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("authclient: %s (status %d)", e.Message, e.Status)
	}
	return fmt.Sprintf("authclient: authentication failed (status %d)", e.Status)
}
