package notion

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// APIError is a non-2xx response from the API. The body is the API's
// structured error object when it could be parsed.
type APIError struct {
	// StatusCode is the HTTP status of the response.
	StatusCode int

	// Code is the machine-readable error code, e.g. "object_not_found".
	Code string

	// Message is the human-readable description from the API.
	Message string

	RequestID string

	// Body is the raw response body, kept for diagnostics.
	Body string
}

func (err *APIError) Error() string {
	if err.Code != "" {
		return fmt.Sprintf("notion: HTTP %d (%s): %s", err.StatusCode, err.Code, err.Message)
	}
	return fmt.Sprintf("notion: HTTP %d: %s", err.StatusCode, err.Message)
}

type errorObject struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	RequestID string `json:"request_id"`
}

func parseAPIError(status int, body []byte) *APIError {
	apiErr := &APIError{StatusCode: status, Body: string(body)}
	var obj errorObject
	if err := json.Unmarshal(body, &obj); err == nil && obj.Message != "" {
		apiErr.Code = obj.Code
		apiErr.Message = obj.Message
		apiErr.RequestID = obj.RequestID
		return apiErr
	}
	apiErr.Message = strings.TrimSpace(string(body))
	if apiErr.Message == "" {
		apiErr.Message = http.StatusText(status)
	}
	return apiErr
}

// AsAPIError returns the *APIError wrapped in err, if any.
func AsAPIError(err error) (*APIError, bool) {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr, true
	}
	return nil, false
}

// IsNotFound reports whether err is a 404 or an object_not_found error.
func IsNotFound(err error) bool {
	apiErr, ok := AsAPIError(err)
	return ok && (apiErr.StatusCode == http.StatusNotFound || apiErr.Code == "object_not_found")
}

// IsUnauthorized reports whether the token was rejected or lacks access.
func IsUnauthorized(err error) bool {
	apiErr, ok := AsAPIError(err)
	if !ok {
		return false
	}
	return apiErr.StatusCode == http.StatusUnauthorized ||
		apiErr.StatusCode == http.StatusForbidden ||
		apiErr.Code == "unauthorized" ||
		apiErr.Code == "restricted_resource"
}

// IsValidation reports whether the request body was rejected.
func IsValidation(err error) bool {
	apiErr, ok := AsAPIError(err)
	return ok && (apiErr.Code == "validation_error" ||
		(apiErr.StatusCode == http.StatusBadRequest && apiErr.Code == ""))
}

// IsRateLimited reports whether err is a 429 rate limit response.
func IsRateLimited(err error) bool {
	apiErr, ok := AsAPIError(err)
	return ok && (apiErr.StatusCode == http.StatusTooManyRequests || apiErr.Code == "rate_limited")
}

// FriendlyMessage turns an API error into a short message suitable for
// showing to the caller.
func FriendlyMessage(err error) string {
	switch {
	case IsNotFound(err):
		return "Database or page not found. Check the id and that the integration has access to it."
	case IsUnauthorized(err):
		return "Unauthorized. Check that the token is valid and the integration is shared with the database."
	case IsRateLimited(err):
		return "Rate limited by the remote service. Try again shortly."
	case IsValidation(err):
		return "The remote service rejected the request as invalid."
	}
	if apiErr, ok := AsAPIError(err); ok {
		return apiErr.Message
	}
	return err.Error()
}
