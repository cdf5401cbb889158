package tokenx

import "errors"

var (
	// ErrMissingAccessToken reports a token-issuing response whose normalized
	// access token is empty. The store is left untouched when this occurs.
	ErrMissingAccessToken = errors.New("tokenx: token response is missing an access token")

	// ErrNoRefreshPath reports that neither a refresh handler nor cached
	// credentials are available to renew the session.
	ErrNoRefreshPath = errors.New("tokenx: no refresh handler or stored credentials available")
)
