package frihet

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
)

// Error codes produced locally by the client. Codes returned by the API are
// passed through as-is.
const (
	CodeRequestTimeout    = "request_timeout"
	CodeRateLimitExceeded = "rate_limit_exceeded"
	CodeInvalidResponse   = "invalid_response"
)

// Sentinel errors for classifying an *APIError with errors.Is.
var (
	// ErrMissingAPIKey is returned by NewClient when no API key is given.
	ErrMissingAPIKey = errors.New("FRIHET_API_KEY is required. Set it as an environment variable or pass it to the client")

	ErrTimeout         = errors.New("request timeout")
	ErrRateLimited     = errors.New("rate limit exceeded")
	ErrInvalidResponse = errors.New("invalid response")
	ErrUnauthorized    = errors.New("unauthorized")
	ErrNotFound        = errors.New("not found")
)

// APIError is the single failure type for every outcome where the Frihet API
// answered (or was expected to answer) and the call did not succeed: HTTP
// error statuses, exhausted rate-limit retries, per-attempt timeouts and
// malformed success bodies.
//
// Network failures (DNS, refused connections, TLS) are not APIErrors; they
// are returned wrapped so callers can tell "the server refused" from "the
// server was unreachable".
type APIError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("frihet API error %d (%s): %s", e.StatusCode, e.Code, e.Message)
}

// Is maps the error onto the package sentinels.
func (e *APIError) Is(target error) bool {
	switch target {
	case ErrTimeout:
		return e.Code == CodeRequestTimeout
	case ErrRateLimited:
		return e.Code == CodeRateLimitExceeded
	case ErrInvalidResponse:
		return e.Code == CodeInvalidResponse
	case ErrUnauthorized:
		return e.StatusCode == http.StatusUnauthorized
	case ErrNotFound:
		return e.StatusCode == http.StatusNotFound
	}
	return false
}

// AsAPIError unwraps err into an *APIError.
func AsAPIError(err error) (*APIError, bool) {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr, true
	}
	return nil, false
}

func newAPIError(status int, code, message string) *APIError {
	if message == "" {
		message = code
	}
	return &APIError{StatusCode: status, Code: code, Message: message}
}

// errorFromResponse builds the APIError for a non-2xx response. Bodies that
// are not an ErrorResponse get a synthetic http_<status> code.
func errorFromResponse(status int, statusText string, body []byte) *APIError {
	var eb ErrorResponse
	if err := json.Unmarshal(body, &eb); err != nil || eb.Error == "" {
		eb = ErrorResponse{
			Error:   fmt.Sprintf("http_%d", status),
			Message: statusText,
		}
	}
	return newAPIError(status, eb.Error, eb.Message)
}
