package client

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// APIError is returned for every non-2xx response of the marketplace API.
// Message carries the server-provided text when the body had one.
type APIError struct {
	Status  int
	Message string
	Method  string
	Path    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s %s: %s (status %d)", e.Method, e.Path, e.Message, e.Status)
}

var (
	ErrEmptyContent = errors.New("message content is empty")
	ErrInvalidID    = errors.New("invalid id")
)

// StatusOf returns the HTTP status carried by err, or 0.
func StatusOf(err error) int {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Status
	}
	return 0
}

// MessageOf returns the human-readable message of err: the server text for
// API errors, err.Error() otherwise.
func MessageOf(err error) string {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Message
	}
	return err.Error()
}

// IsAlreadyJoined reports whether err is the tolerated "already joined"
// failure of the join endpoint.
func IsAlreadyJoined(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(strings.ToLower(MessageOf(err)), "already")
}

// IsNotFound reports whether err is a 404 from the API.
func IsNotFound(err error) bool {
	return StatusOf(err) == http.StatusNotFound
}
