package llm

import (
	"fmt"
	"net/http"
)

// ErrorKind classifies server-reported request failures so callers can
// print targeted remediation.
type ErrorKind string

const (
	ErrKindGeneric            ErrorKind = "generic"
	ErrKindModelNotFound      ErrorKind = "model_not_found"
	ErrKindServiceUnavailable ErrorKind = "service_unavailable"
	ErrKindPayloadTooLarge    ErrorKind = "payload_too_large"
	ErrKindRateLimited        ErrorKind = "rate_limited"
)

// APIError is a classified error for a non-2xx response.
type APIError struct {
	Kind       ErrorKind
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return e.Message
}

// classifyStatus maps an HTTP status to an APIError. The model name is
// included where a caller would act on it.
func classifyStatus(status int, model string, body []byte) *APIError {
	switch status {
	case http.StatusNotFound:
		return &APIError{
			Kind:       ErrKindModelNotFound,
			StatusCode: status,
			Message:    fmt.Sprintf("model %q not found: is it installed on the server?", model),
		}
	case http.StatusServiceUnavailable:
		return &APIError{
			Kind:       ErrKindServiceUnavailable,
			StatusCode: status,
			Message:    "model server unavailable (503): it may still be loading",
		}
	case http.StatusRequestEntityTooLarge:
		return &APIError{
			Kind:       ErrKindPayloadTooLarge,
			StatusCode: status,
			Message:    "request too large (413): reduce context size",
		}
	case http.StatusTooManyRequests:
		return &APIError{
			Kind:       ErrKindRateLimited,
			StatusCode: status,
			Message:    "rate limited (429): slow down requests",
		}
	default:
		return &APIError{
			Kind:       ErrKindGeneric,
			StatusCode: status,
			Message:    fmt.Sprintf("server error (status %d): %s", status, decodeServerError(body)),
		}
	}
}
