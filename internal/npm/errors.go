package npm

import (
	"errors"
	"fmt"
)

var (
	// ErrAuthenticationFailed means the proxy manager rejected the configured
	// credentials. Retrying cannot help, so it is fatal.
	ErrAuthenticationFailed = errors.New("proxy manager rejected the configured credentials")

	// ErrNotAuthenticated means the bearer token was rejected. The retry policy
	// answers it with a fresh login; it is not surfaced past the client.
	ErrNotAuthenticated = errors.New("proxy manager token rejected")

	errMalformedResponse = errors.New("malformed response")
)

// CommunicationError reports an operation that exhausted its retry budget.
type CommunicationError struct {
	Endpoint string
	Attempts int
	Err      error
}

func (e *CommunicationError) Error() string {
	return fmt.Sprintf("failed to communicate with proxy manager on %s after %d attempts: %v", e.Endpoint, e.Attempts, e.Err)
}

func (e *CommunicationError) Unwrap() error {
	return e.Err
}

// UnexpectedResponseError is a non-success response that is not an
// authentication signal.
type UnexpectedResponseError struct {
	Endpoint   string
	StatusCode int
	Message    string
}

func (e *UnexpectedResponseError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("unexpected response from %s: HTTP %d", e.Endpoint, e.StatusCode)
	}
	return fmt.Sprintf("unexpected response from %s: HTTP %d: %s", e.Endpoint, e.StatusCode, e.Message)
}
