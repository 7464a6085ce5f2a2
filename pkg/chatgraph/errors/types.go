package errors

import (
	"fmt"
	"time"
)

// HTTPError represents an HTTP error with status code.
type HTTPError struct {
	StatusCode int
	Message    string
	Endpoint   string
}

// Error implements the error interface.
func (e *HTTPError) Error() string {
	if e.Endpoint != "" {
		return fmt.Sprintf("HTTP %d at %s: %s", e.StatusCode, e.Endpoint, e.Message)
	}
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Message)
}

// ArgumentError indicates that a model-supplied tool argument is invalid.
type ArgumentError struct {
	Tool    string
	Field   string
	Message string
}

// Error implements the error interface.
func (e *ArgumentError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("invalid argument %s for tool %s: %s", e.Field, e.Tool, e.Message)
	}
	return fmt.Sprintf("invalid arguments for tool %s: %s", e.Tool, e.Message)
}

// TimeoutError indicates an operation timed out.
type TimeoutError struct {
	Operation string
	After     time.Duration
}

// Error implements the error interface.
func (e *TimeoutError) Error() string {
	return fmt.Sprintf("timeout after %s: %s", e.After, e.Operation)
}
