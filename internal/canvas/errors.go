package canvas

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrUnauthorized matches API errors with status 401.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrForbidden matches API errors with status 403.
	ErrForbidden = errors.New("forbidden")
	// ErrNotFound matches API errors with status 404.
	ErrNotFound = errors.New("resource does not exist")
)

// APIError is a non-2xx response from Canvas.
type APIError struct {
	StatusCode int
	Method     string
	URL        string
	Message    string
}

func (e *APIError) Error() string {
	msg := e.Message
	if msg == "" {
		msg = http.StatusText(e.StatusCode)
	}
	return fmt.Sprintf("%s %s: HTTP %d: %s", e.Method, e.URL, e.StatusCode, msg)
}

// Is maps the status code onto the package's sentinel errors.
func (e *APIError) Is(target error) bool {
	switch target {
	case ErrUnauthorized:
		return e.StatusCode == http.StatusUnauthorized
	case ErrForbidden:
		return e.StatusCode == http.StatusForbidden
	case ErrNotFound:
		return e.StatusCode == http.StatusNotFound
	}
	return false
}
