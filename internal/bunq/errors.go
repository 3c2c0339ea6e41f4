package bunq

import (
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
)

// APIError is a non-2xx response from the sandbox API.
type APIError struct {
	StatusCode int
	Messages   []string
}

// Error implements the error interface.
func (e *APIError) Error() string {
	if len(e.Messages) > 0 {
		return fmt.Sprintf("sandbox API error (HTTP %d): %s", e.StatusCode, strings.Join(e.Messages, "; "))
	}
	return fmt.Sprintf("sandbox API error (HTTP %d)", e.StatusCode)
}

// IsTransient reports whether an error is worth retrying: rate limiting,
// server-side failures, and network-level errors. Remote business errors
// (4xx other than 429) are permanent.
func IsTransient(err error) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode == http.StatusTooManyRequests || apiErr.StatusCode >= 500
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	return false
}
