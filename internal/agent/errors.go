package agent

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/promptline/promptline/internal/types"
)

// ErrorClass groups provider failures by what the user can do about them
type ErrorClass string

const (
	ClassAuthMissing ErrorClass = "auth_missing"
	ClassForbidden   ErrorClass = "forbidden"
	ClassRateLimited ErrorClass = "rate_limited"
	ClassBadRequest  ErrorClass = "bad_request"
	ClassNotFound    ErrorClass = "not_found"
	ClassServer      ErrorClass = "server"
)

// APIError is a non-2xx answer (or missing key) from an agent provider
type APIError struct {
	Provider   types.Provider
	StatusCode int
	Class      ErrorClass
	Message    string
}

func (e *APIError) Error() string {
	if e.StatusCode == 0 {
		return fmt.Sprintf("%s: %s", e.Provider, e.Message)
	}
	return fmt.Sprintf("%s API error (status %d): %s", e.Provider, e.StatusCode, e.Message)
}

// Classify maps an HTTP status code to an error class
func Classify(statusCode int) ErrorClass {
	switch statusCode {
	case http.StatusUnauthorized:
		return ClassAuthMissing
	case http.StatusForbidden:
		return ClassForbidden
	case http.StatusTooManyRequests:
		return ClassRateLimited
	case http.StatusBadRequest, http.StatusUnprocessableEntity:
		return ClassBadRequest
	case http.StatusNotFound:
		return ClassNotFound
	}
	return ClassServer
}

// ClassOf returns the class of err, or ClassServer for anything that is not
// an *APIError (network failures and the like)
func ClassOf(err error) ErrorClass {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Class
	}
	return ClassServer
}

// Guidance returns the user-facing explanation for a failed agent call
func Guidance(provider types.Provider, class ErrorClass) (title, detail string) {
	name := ProviderLabel(provider)
	switch class {
	case ClassAuthMissing:
		return fmt.Sprintf("Invalid %s API key", name),
			fmt.Sprintf("Check your %s API key with 'promptline credentials set %s'.", name, provider)
	case ClassForbidden:
		return "Access denied",
			fmt.Sprintf("Your %s account may not have access to this repository or to background agents.", name)
	case ClassRateLimited:
		return "Rate limit exceeded",
			fmt.Sprintf("Too many requests to %s. Try again later.", name)
	case ClassBadRequest:
		return "Invalid request",
			fmt.Sprintf("%s rejected the request parameters. Check the repository and model.", name)
	case ClassNotFound:
		return "Agent not found",
			fmt.Sprintf("%s no longer knows this agent.", name)
	}
	return fmt.Sprintf("Failed to reach %s", name),
		"The agent service did not answer. Try again in a moment."
}

// ProviderLabel is the display name of an agent provider
func ProviderLabel(p types.Provider) string {
	switch p {
	case types.ProviderCursor:
		return "Cursor"
	case types.ProviderClaude:
		return "Claude"
	}
	return string(p)
}
