package protocol

import "net/http"

// Error codes attached to failed REST calls.
const (
	ErrInvalidRequest     = "INVALID_REQUEST"
	ErrUnavailable        = "UNAVAILABLE"
	ErrUnauthorized       = "UNAUTHORIZED"
	ErrNotFound           = "NOT_FOUND"
	ErrAlreadyExists      = "ALREADY_EXISTS"
	ErrResourceExhausted  = "RESOURCE_EXHAUSTED"
	ErrFailedPrecondition = "FAILED_PRECONDITION"
	ErrAgentTimeout       = "AGENT_TIMEOUT"
	ErrInternal           = "INTERNAL"
)

// CodeForStatus maps an HTTP status to an error code.
func CodeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest, http.StatusUnprocessableEntity:
		return ErrInvalidRequest
	case http.StatusUnauthorized, http.StatusForbidden:
		return ErrUnauthorized
	case http.StatusNotFound:
		return ErrNotFound
	case http.StatusConflict:
		return ErrAlreadyExists
	case http.StatusTooManyRequests:
		return ErrResourceExhausted
	case http.StatusPreconditionFailed:
		return ErrFailedPrecondition
	case http.StatusGatewayTimeout, http.StatusRequestTimeout:
		return ErrAgentTimeout
	case http.StatusBadGateway, http.StatusServiceUnavailable:
		return ErrUnavailable
	default:
		return ErrInternal
	}
}
