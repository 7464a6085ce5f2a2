// Package errors classifies failures of model and tool calls and retries the
// transient ones.
//
// Graph execution itself never retries. Node functions that call remote
// capabilities use Retry to absorb rate limits and timeouts before returning,
// and the tool loop uses Categorize to decide which failures are shown to the
// model as conversational content.
package errors

import (
	"context"
	"errors"
	"fmt"

	"github.com/randalmurphal/chatgraph/pkg/chatgraph/llm"
)

// Category represents how an error should be handled.
type Category int

const (
	// CategoryTransient indicates retry will likely help.
	// Examples: rate limits, timeouts, temporary network issues.
	CategoryTransient Category = iota

	// CategoryPermanent indicates retry won't help and the turn must fail.
	// Examples: authentication failures, invalid configuration.
	CategoryPermanent

	// CategoryConversational indicates the model caused the failure and can
	// correct itself when shown the error.
	// Examples: unknown tool name, arguments that fail validation.
	CategoryConversational
)

// String returns the category name.
func (c Category) String() string {
	switch c {
	case CategoryTransient:
		return "transient"
	case CategoryPermanent:
		return "permanent"
	case CategoryConversational:
		return "conversational"
	default:
		return "unknown"
	}
}

// CategorizedError wraps an error with its category and context.
type CategorizedError struct {
	// Err is the underlying error.
	Err error

	// Category indicates how this error should be handled.
	Category Category

	// Attempts is the number of attempts that have been made.
	Attempts int

	// Context describes what operation was being attempted.
	Context string
}

// Error implements the error interface.
func (e *CategorizedError) Error() string {
	if e.Context != "" {
		return fmt.Sprintf("%s: %v (category: %s, attempts: %d)",
			e.Context, e.Err, e.Category, e.Attempts)
	}
	return fmt.Sprintf("%v (category: %s, attempts: %d)",
		e.Err, e.Category, e.Attempts)
}

// Unwrap returns the underlying error.
func (e *CategorizedError) Unwrap() error {
	return e.Err
}

// NewCategorized creates a new categorized error.
func NewCategorized(err error, category Category, context string) *CategorizedError {
	return &CategorizedError{
		Err:      err,
		Category: category,
		Context:  context,
	}
}

// Transient creates a transient error.
func Transient(err error, context string) *CategorizedError {
	return NewCategorized(err, CategoryTransient, context)
}

// Permanent creates a permanent error.
func Permanent(err error, context string) *CategorizedError {
	return NewCategorized(err, CategoryPermanent, context)
}

// Conversational creates an error the model should be shown.
func Conversational(err error, context string) *CategorizedError {
	return NewCategorized(err, CategoryConversational, context)
}

// Categorize determines how an error should be handled.
func Categorize(err error) Category {
	if err == nil {
		return CategoryPermanent
	}

	var catErr *CategorizedError
	if errors.As(err, &catErr) {
		return catErr.Category
	}

	var llmErr *llm.Error
	if errors.As(err, &llmErr) {
		if llmErr.Retryable {
			return CategoryTransient
		}
		return CategoryPermanent
	}

	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		switch httpErr.StatusCode {
		case 408, 429, 502, 503, 504:
			return CategoryTransient
		case 401, 403:
			return CategoryPermanent
		case 400, 404, 422:
			return CategoryConversational
		default:
			if httpErr.StatusCode >= 500 {
				return CategoryTransient
			}
			return CategoryPermanent
		}
	}

	var argErr *ArgumentError
	if errors.As(err, &argErr) {
		return CategoryConversational
	}

	var timeoutErr *TimeoutError
	if errors.As(err, &timeoutErr) {
		return CategoryTransient
	}

	// A deadline on the call itself; cancellation of the caller is handled
	// by Retry before an attempt.
	if errors.Is(err, context.DeadlineExceeded) {
		return CategoryTransient
	}

	return CategoryPermanent
}

// IsRetryable reports whether the error should be retried.
func IsRetryable(err error) bool {
	return Categorize(err) == CategoryTransient
}

// IsConversational reports whether the error should be shown to the model.
func IsConversational(err error) bool {
	return Categorize(err) == CategoryConversational
}
