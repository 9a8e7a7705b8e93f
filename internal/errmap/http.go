package errmap

import (
	"errors"
	"net/http"

	"github.com/aelexs/authcore/internal/domain"
)

// HTTPError represents an HTTP error response.
type HTTPError struct {
	StatusCode int    `json:"-"`
	Code       string `json:"code"`
	Message    string `json:"message"`
}

func (e HTTPError) Error() string {
	return e.Message
}

// ToHTTPError converts a domain error to an HTTP error for the demonstration
// composition root (internal/server has no gRPC surface in this module; see
// DESIGN.md on the dropped grpc-gateway dependency).
//
// Per the error taxonomy (spec §7), every authentication-path failure
// collapses to a single generic message — the switch never returns
// err.Error() for AuthenticationFailed, even though the wrapped error chain
// carries the real cause for operator-facing logs.
func ToHTTPError(err error) HTTPError {
	if err == nil {
		return HTTPError{StatusCode: http.StatusOK}
	}

	switch {
	case errors.Is(err, domain.ErrAuthenticationFailed):
		return HTTPError{
			StatusCode: http.StatusUnauthorized,
			Code:       "AUTHENTICATION_FAILED",
			Message:    "authentication_failed",
		}

	case errors.Is(err, domain.ErrSessionNotFound):
		return HTTPError{
			StatusCode: http.StatusUnauthorized,
			Code:       "SESSION_NOT_FOUND",
			Message:    "authentication_failed",
		}

	case errors.Is(err, domain.ErrSessionExpired):
		return HTTPError{
			StatusCode: http.StatusUnauthorized,
			Code:       "SESSION_EXPIRED",
			Message:    "authentication_failed",
		}

	case errors.Is(err, domain.ErrNotFound):
		return HTTPError{
			StatusCode: http.StatusNotFound,
			Code:       "NOT_FOUND",
			Message:    err.Error(),
		}

	case errors.Is(err, domain.ErrAlreadyExists), errors.Is(err, domain.ErrSessionFixation):
		return HTTPError{
			StatusCode: http.StatusConflict,
			Code:       "ALREADY_EXISTS",
			Message:    err.Error(),
		}

	case errors.Is(err, domain.ErrPolicyViolation):
		return HTTPError{
			StatusCode: http.StatusForbidden,
			Code:       "POLICY_VIOLATION",
			Message:    "request rejected",
		}

	case errors.Is(err, domain.ErrConcurrencyConflict):
		return HTTPError{
			StatusCode: http.StatusConflict,
			Code:       "CONCURRENCY_CONFLICT",
			Message:    err.Error(),
		}

	case errors.Is(err, domain.ErrInvalidInput),
		errors.Is(err, domain.ErrEmptyID),
		errors.Is(err, domain.ErrInvalidID):
		return HTTPError{
			StatusCode: http.StatusBadRequest,
			Code:       "INVALID_ARGUMENT",
			Message:    err.Error(),
		}

	case errors.Is(err, domain.ErrConfigurationError):
		return HTTPError{
			StatusCode: http.StatusInternalServerError,
			Code:       "CONFIGURATION_ERROR",
			Message:    "internal error",
		}

	case errors.Is(err, domain.ErrUnavailable), errors.Is(err, domain.ErrStorageError):
		return HTTPError{
			StatusCode: http.StatusServiceUnavailable,
			Code:       "UNAVAILABLE",
			Message:    "service temporarily unavailable",
		}

	default:
		// Never expose internal error details to clients.
		return HTTPError{
			StatusCode: http.StatusInternalServerError,
			Code:       "INTERNAL",
			Message:    "internal error",
		}
	}
}

// ToHTTPStatusCode extracts just the HTTP status code for a domain error.
func ToHTTPStatusCode(err error) int {
	return ToHTTPError(err).StatusCode
}
