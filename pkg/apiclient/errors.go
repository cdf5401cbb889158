package apiclient

import "fmt"

// HTTPError is a non-2xx response from a resource call, carrying the parsed
// payload for domain-specific handling upstream.
type HTTPError struct {
	Status  int
	Payload any
	Message string
}

func (e *HTTPError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("apiclient: %s (status %d)", e.Message, e.Status)
	}
	return fmt.Sprintf("apiclient: request failed with status %d", e.Status)
}

// SessionExpiredError reports that a 401 triggered a forced refresh and the
// refresh itself failed. The local token state has already been cleared;
// callers should route the user back to login. Status preserves the original
// 401 for diagnostics.
type SessionExpiredError struct {
	Status int
	Err    error
}

func (e *SessionExpiredError) Error() string {
	return fmt.Sprintf("apiclient: session expired (refresh after %d failed): %v", e.Status, e.Err)
}

func (e *SessionExpiredError) Unwrap() error {
	return e.Err
}
