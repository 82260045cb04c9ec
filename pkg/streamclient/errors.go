package streamclient

import (
	"errors"
	"fmt"
)

var (
	// ErrSessionExpired is returned for a 401 response. The request is
	// never retried.
	ErrSessionExpired = errors.New("session expired")
	// ErrIncompleteStream means the response ended before RequestEnd.
	ErrIncompleteStream = errors.New("stream ended without RequestEnd")
)

// StatusError is a non-2xx response other than 401.
type StatusError struct {
	StatusCode int
	Message    string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("server returned status %d", e.StatusCode)
	}
	return fmt.Sprintf("server returned status %d: %s", e.StatusCode, e.Message)
}
